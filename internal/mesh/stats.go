package mesh

import (
	"sync/atomic"

	"meshsim/internal/telemetry"
)

// Stats are the monotonically increasing per-node counters.
type Stats struct {
	received       atomic.Int64
	sent           atomic.Int64
	dropped        atomic.Int64
	deliveredToApp atomic.Int64
}

// Snapshot returns the counters as a telemetry value.
func (s *Stats) Snapshot() telemetry.NodeStats {
	return telemetry.NodeStats{
		Received:       s.received.Load(),
		Sent:           s.sent.Load(),
		Dropped:        s.dropped.Load(),
		DeliveredToApp: s.deliveredToApp.Load(),
	}
}
