// Package telemetry aggregates node state and routing events and defines the persisted rows.
package telemetry

import (
	"os"
	"time"
)

// Routing event actions.
const (
	ActionForward  = "FORWARD"
	ActionDrop     = "DROP"
	ActionReceived = "RECEIVED"
)

// NodeStats are the per-node counters.
type NodeStats struct {
	Received       int64 `json:"received"`
	Sent           int64 `json:"sent"`
	Dropped        int64 `json:"dropped"`
	DeliveredToApp int64 `json:"delivered_to_app"`
}

// NodeState is the published view of one node.
type NodeState struct {
	ID        string    `json:"id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	InboxSize int       `json:"inbox_size"`
	Stats     NodeStats `json:"stats"`
}

// Event is one routing decision or delivery logged by a policy.
type Event struct {
	Seq        uint64    `json:"seq"`
	NodeID     string    `json:"node_id"`
	Action     string    `json:"action"`
	Payload    string    `json:"payload"`
	Congestion string    `json:"congestion"`
	Timestamp  time.Time `json:"ts"`
}

// NetworkStats are the environment-level counters plus the active policy name.
type NetworkStats struct {
	Transmissions     int64  `json:"transmissions"`
	Collisions        int64  `json:"collisions"`
	DroppedOutOfRange int64  `json:"dropped_out_of_range"`
	Policy            string `json:"policy"`
}

// Snapshot is the full state pushed to observers.
type Snapshot struct {
	Type  string               `json:"type"`
	Stats NetworkStats         `json:"stats"`
	Nodes map[string]NodeState `json:"nodes"`
	Logs  []Event              `json:"logs"`
}

// SnapshotType tags every snapshot for push consumers.
const SnapshotType = "state_update"

// NodeRow is one persisted per-tick node sample.
type NodeRow struct {
	RunID          string    `json:"run_id"`
	NodeID         string    `json:"node_id"`
	X              float64   `json:"x"`
	Y              float64   `json:"y"`
	InboxSize      int       `json:"inbox_size"`
	Received       int64     `json:"received"`
	Sent           int64     `json:"sent"`
	Dropped        int64     `json:"dropped"`
	DeliveredToApp int64     `json:"delivered_to_app"`
	Timestamp      time.Time `json:"ts"`
}

// EventRow is one persisted routing event.
type EventRow struct {
	RunID      string    `json:"run_id"`
	Seq        uint64    `json:"seq"`
	NodeID     string    `json:"node_id"`
	Action     string    `json:"action"`
	Payload    string    `json:"payload"`
	Congestion string    `json:"congestion"`
	Timestamp  time.Time `json:"ts"`
}

// NetworkStateRow is one persisted per-tick sample of the medium counters.
type NetworkStateRow struct {
	RunID             string    `json:"run_id"`
	Policy            string    `json:"policy"`
	Transmissions     int64     `json:"transmissions"`
	Collisions        int64     `json:"collisions"`
	DroppedOutOfRange int64     `json:"dropped_out_of_range"`
	Timestamp         time.Time `json:"ts"`
}

// NodeRowFromState converts a published node state into a persisted row.
func NodeRowFromState(runID string, s NodeState, ts time.Time) NodeRow {
	return NodeRow{
		RunID:          runID,
		NodeID:         s.ID,
		X:              s.X,
		Y:              s.Y,
		InboxSize:      s.InboxSize,
		Received:       s.Stats.Received,
		Sent:           s.Stats.Sent,
		Dropped:        s.Stats.Dropped,
		DeliveredToApp: s.Stats.DeliveredToApp,
		Timestamp:      ts,
	}
}

// EventRowFromEvent converts a bus event into a persisted row.
func EventRowFromEvent(runID string, e Event) EventRow {
	return EventRow{
		RunID:      runID,
		Seq:        e.Seq,
		NodeID:     e.NodeID,
		Action:     e.Action,
		Payload:    e.Payload,
		Congestion: e.Congestion,
		Timestamp:  e.Timestamp,
	}
}

// NodeTableName holds the GreptimeDB table for node rows. It defaults to
// "mesh_nodes" and can be overridden via GREPTIMEDB_TABLE.
var NodeTableName = func() string {
	if env := os.Getenv("GREPTIMEDB_TABLE"); env != "" {
		return env
	}
	return "mesh_nodes"
}()

func (NodeRow) TableName() string {
	return NodeTableName
}

func (EventRow) TableName() string {
	return "mesh_events"
}

func (NetworkStateRow) TableName() string {
	return "mesh_network_state"
}
