package sim

import (
	"context"
	"sync"

	"meshsim/internal/telemetry"
)

// eventQueue buffers every bus event for the event writer. It is unbounded so
// a slow writer delays events instead of losing them.
type eventQueue struct {
	mu      sync.Mutex
	pending []telemetry.Event
	ready   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

// push is the bus tap. It never blocks.
func (q *eventQueue) push(e telemetry.Event) {
	q.mu.Lock()
	q.pending = append(q.pending, e)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// drain takes every queued event.
func (q *eventQueue) drain() []telemetry.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// pumpEvents hands queued events to the event writer until ctx is done.
func (s *Simulator) pumpEvents(ctx context.Context) {
	if s.events == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.events.ready:
			s.writeEvents(s.events.drain())
		}
	}
}

// flushEvents writes whatever is still queued after the pump stopped.
func (s *Simulator) flushEvents() {
	if s.events == nil {
		return
	}
	s.writeEvents(s.events.drain())
}

func (s *Simulator) writeEvents(logs []telemetry.Event) {
	if len(logs) == 0 {
		return
	}
	rows := make([]telemetry.EventRow, 0, len(logs))
	for _, e := range logs {
		rows = append(rows, telemetry.EventRowFromEvent(s.runID, e))
	}
	if err := writeEventRows(s.eventWriter, rows); err != nil {
		s.log.Error("event write failed", "err", err, "events", len(rows))
	}
}
