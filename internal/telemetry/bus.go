package telemetry

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultObserverQueue is the number of undelivered snapshots an observer may hold.
	DefaultObserverQueue = 10
	// DefaultRecentEvents is the number of events surfaced in a snapshot.
	DefaultRecentEvents = 100
)

// Observer is a registered consumer of snapshots. Delivery is lossy: when
// its queue is full, updates are skipped until it drains.
type Observer struct {
	ch chan Snapshot
}

// C exposes the queued snapshots.
func (o *Observer) C() <-chan Snapshot { return o.ch }

// Pending returns the number of undelivered snapshots.
func (o *Observer) Pending() int { return len(o.ch) }

// Next blocks until a snapshot is queued or ctx is done.
func (o *Observer) Next(ctx context.Context) (Snapshot, error) {
	select {
	case s := <-o.ch:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// BusOption customizes a Bus.
type BusOption func(*Bus)

// WithObserverQueue sets the per-observer queue depth.
func WithObserverQueue(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.queueDepth = n
		}
	}
}

// WithRecentEvents sets how many events are kept and surfaced.
func WithRecentEvents(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.recent = n
		}
	}
}

// WithEventTap calls tap with every logged event, in sequence order, after its
// sequence number is assigned. Unlike observers the tap sees every event; it
// runs under the bus lock and must not block or call back into the bus.
func WithEventTap(tap func(Event)) BusOption {
	return func(b *Bus) { b.tap = tap }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) BusOption {
	return func(b *Bus) { b.now = now }
}

// Bus aggregates node states and events and fans snapshots out to observers
// without ever blocking the caller on a slow observer.
type Bus struct {
	queueDepth int
	recent     int
	now        func() time.Time
	tap        func(Event)

	mu        sync.Mutex
	stats     NetworkStats
	nodes     map[string]NodeState
	logs      []Event
	seq       uint64
	observers map[*Observer]struct{}
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		queueDepth: DefaultObserverQueue,
		recent:     DefaultRecentEvents,
		now:        time.Now,
		nodes:      make(map[string]NodeState),
		observers:  make(map[*Observer]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// UpdateNode replaces the stored state of one node and fans out.
func (b *Bus) UpdateNode(s NodeState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[s.ID] = s
	b.fanOut()
}

// LogEvent appends an event to the bounded log and fans out.
func (b *Bus) LogEvent(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	e.Seq = b.seq
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now().UTC()
	}
	if b.tap != nil {
		b.tap(e)
	}
	b.logs = append(b.logs, e)
	if len(b.logs) > b.recent {
		// copy down so the backing array does not grow forever
		n := copy(b.logs, b.logs[len(b.logs)-b.recent:])
		b.logs = b.logs[:n]
	}
	b.fanOut()
}

// SetNetworkStats replaces the environment-level counters and fans out.
func (b *Bus) SetNetworkStats(s NetworkStats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats = s
	b.fanOut()
}

// Snapshot returns a copy of the current aggregate state.
func (b *Bus) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Register adds an observer and queues the current snapshot for it.
func (b *Bus) Register() *Observer {
	o := &Observer{ch: make(chan Snapshot, b.queueDepth)}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers[o] = struct{}{}
	o.ch <- b.snapshotLocked()
	return o
}

// Unregister removes an observer. No further snapshots are queued for it.
func (b *Bus) Unregister(o *Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, o)
}

// Observers returns the number of registered observers.
func (b *Bus) Observers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers)
}

func (b *Bus) fanOut() {
	if len(b.observers) == 0 {
		return
	}
	snap := b.snapshotLocked()
	for o := range b.observers {
		select {
		case o.ch <- snap:
		default:
		}
	}
}

func (b *Bus) snapshotLocked() Snapshot {
	nodes := make(map[string]NodeState, len(b.nodes))
	for id, s := range b.nodes {
		nodes[id] = s
	}
	logs := make([]Event, len(b.logs))
	copy(logs, b.logs)
	return Snapshot{
		Type:  SnapshotType,
		Stats: b.stats,
		Nodes: nodes,
		Logs:  logs,
	}
}
