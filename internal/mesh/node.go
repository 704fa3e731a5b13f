// Package mesh implements mesh nodes and the routing policies they run.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"meshsim/internal/radio"
	"meshsim/internal/telemetry"
)

// ErrAlreadyRunning is returned when a node loop is started twice.
var ErrAlreadyRunning = errors.New("mesh: node already running")

// DefaultTxDelay is the simulated time-on-air before a transmission takes effect.
const DefaultTxDelay = 50 * time.Millisecond

// NodeOption customizes a Node.
type NodeOption func(*Node)

// WithSink sets where node snapshots are published.
func WithSink(s EventSink) NodeOption {
	return func(n *Node) {
		if s != nil {
			n.sink = s
		}
	}
}

// WithTxDelay overrides the time-on-air delay.
func WithTxDelay(d time.Duration) NodeOption {
	return func(n *Node) {
		if d >= 0 {
			n.txDelay = d
		}
	}
}

// WithSeenCapacity bounds the dedup memory. Zero disables eviction.
func WithSeenCapacity(c int) NodeOption {
	return func(n *Node) { n.seen = NewSeenSet(c) }
}

// WithLogger sets the node logger.
func WithLogger(l *slog.Logger) NodeOption {
	return func(n *Node) {
		if l != nil {
			n.log = l
		}
	}
}

// WithTracer sets the tracer used for per-packet spans.
func WithTracer(t trace.Tracer) NodeOption {
	return func(n *Node) {
		if t != nil {
			n.tracer = t
		}
	}
}

// Node is one autonomous mesh participant bound to a radio environment.
type Node struct {
	id      string
	pos     radio.Position
	env     *radio.Environment
	mailbox *radio.Mailbox
	policy  Policy
	sink    EventSink
	seen    *SeenSet
	stats   Stats
	txDelay time.Duration
	log     *slog.Logger
	tracer  trace.Tracer

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewNode registers the node with env at (x, y) and binds it to policy.
func NewNode(id string, env *radio.Environment, x, y float64, policy Policy, opts ...NodeOption) *Node {
	n := &Node{
		id:      id,
		pos:     radio.Position{X: x, Y: y},
		env:     env,
		policy:  policy,
		sink:    discardSink{},
		seen:    NewSeenSet(DefaultSeenCapacity),
		txDelay: DefaultTxDelay,
		log:     slog.Default(),
		tracer:  otel.Tracer("meshsim/mesh"),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.With("node_id", id)
	n.mailbox = env.RegisterNode(id, x, y)
	return n
}

// ID returns the node id.
func (n *Node) ID() string { return n.id }

// Position returns the node's fixed position.
func (n *Node) Position() radio.Position { return n.pos }

// MailboxDepth returns the number of packets waiting to be processed.
func (n *Node) MailboxDepth() int { return n.mailbox.Len() }

// Stats returns a copy of the node counters.
func (n *Node) Stats() telemetry.NodeStats { return n.stats.Snapshot() }

// Policy returns the routing policy the node runs.
func (n *Node) Policy() Policy { return n.policy }

// CountDropped increments the dropped counter.
func (n *Node) CountDropped() { n.stats.dropped.Add(1) }

// CountDelivered increments the delivered-to-application counter.
func (n *Node) CountDelivered() { n.stats.deliveredToApp.Add(1) }

// State returns the published view of the node.
func (n *Node) State() telemetry.NodeState {
	return telemetry.NodeState{
		ID:        n.id,
		X:         n.pos.X,
		Y:         n.pos.Y,
		InboxSize: n.mailbox.Len(),
		Stats:     n.stats.Snapshot(),
	}
}

// Transmit waits out the time-on-air, then broadcasts p as this node.
func (n *Node) Transmit(ctx context.Context, p radio.Packet) error {
	if n.txDelay > 0 {
		t := time.NewTimer(n.txDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	n.stats.sent.Add(1)
	p.SenderID = n.id
	return n.env.Broadcast(n.id, p)
}

// Run processes the mailbox until ctx is cancelled (returns nil) or the
// policy fails (returns the fault). Only one Run may be active per node.
func (n *Node) Run(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", n.id, ErrAlreadyRunning)
	}
	defer n.running.Store(false)

	n.log.Debug("node loop started", "x", n.pos.X, "y", n.pos.Y, "policy", n.policy.Name())
	for {
		var p radio.Packet
		select {
		case <-ctx.Done():
			n.log.Debug("node loop stopped")
			return nil
		case p = <-n.mailbox.C():
		}

		n.stats.received.Add(1)
		if n.seen.Contains(p.ID) {
			n.sink.UpdateNode(n.State())
			continue
		}
		n.seen.Add(p.ID)

		// a stop request must not interrupt a decision halfway
		if err := n.process(context.WithoutCancel(ctx), &p); err != nil {
			n.log.Error("routing policy failed, node loop terminated", "packet_id", p.ID, "err", err)
			return err
		}
		n.sink.UpdateNode(n.State())
	}
}

func (n *Node) process(ctx context.Context, p *radio.Packet) (err error) {
	ctx, span := n.tracer.Start(ctx, "mesh.process_packet", trace.WithAttributes(
		attribute.String("mesh.node_id", n.id),
		attribute.String("mesh.packet_id", p.ID),
		attribute.String("mesh.policy", n.policy.Name()),
		attribute.Int("mesh.ttl", p.TTL),
		attribute.Int("mesh.hops", p.Hops),
	))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("policy %s panicked on node %s: %v", n.policy.Name(), n.id, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return n.policy.ProcessPacket(ctx, p, n)
}

// Start spawns the processing loop in its own goroutine.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return fmt.Errorf("%s: %w", n.id, ErrAlreadyRunning)
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	n.cancel = cancel
	n.done = done
	n.err = nil
	go func() {
		err := n.Run(ctx)
		n.mu.Lock()
		n.err = err
		n.mu.Unlock()
		close(done)
	}()
	return nil
}

// Stop cancels the loop and waits for it to exit. Queued packets are abandoned.
func (n *Node) Stop() {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.cancel = nil
	n.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until a started loop exits and returns its terminal error.
func (n *Node) Wait() error {
	n.mu.Lock()
	done := n.done
	n.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}
