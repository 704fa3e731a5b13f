package radio

import "context"

// Mailbox is the ordered receive queue of one node. Any number of
// broadcasting goroutines may deliver into it; exactly one node loop reads it.
type Mailbox struct {
	nodeID string
	ch     chan Packet
}

func newMailbox(nodeID string, capacity int) *Mailbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Mailbox{nodeID: nodeID, ch: make(chan Packet, capacity)}
}

// NodeID returns the owner of the mailbox.
func (m *Mailbox) NodeID() string { return m.nodeID }

// Len returns the number of queued packets.
func (m *Mailbox) Len() int { return len(m.ch) }

// Cap returns the hard capacity of the underlying queue.
func (m *Mailbox) Cap() int { return cap(m.ch) }

// C exposes the receive side for select loops.
func (m *Mailbox) C() <-chan Packet { return m.ch }

// Receive blocks until a packet arrives or ctx is done.
func (m *Mailbox) Receive(ctx context.Context) (Packet, error) {
	select {
	case p := <-m.ch:
		return p, nil
	case <-ctx.Done():
		return Packet{}, ctx.Err()
	}
}

// offer enqueues without blocking and reports whether the packet was accepted.
func (m *Mailbox) offer(p Packet) bool {
	select {
	case m.ch <- p:
		return true
	default:
		return false
	}
}
