package sim

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"meshsim/internal/telemetry"
)

// greptimeClient is the subset of the ingester client the writer needs.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// DefaultGreptimePort is the gRPC port used when the endpoint has none.
const DefaultGreptimePort = 4001

// GreptimeDBWriter writes node, event and state rows to GreptimeDB via the ingester client.
type GreptimeDBWriter struct {
	client     greptimeClient
	nodeTable  string
	eventTable string
	stateTable string
	log        *slog.Logger
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port") and database.
// Tables are created on first write.
func NewGreptimeDBWriter(endpoint, database string) (*GreptimeDBWriter, error) {
	host, port, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}
	return &GreptimeDBWriter{
		client:     client,
		nodeTable:  telemetry.NodeRow{}.TableName(),
		eventTable: telemetry.EventRow{}.TableName(),
		stateTable: telemetry.NetworkStateRow{}.TableName(),
		log:        slog.Default(),
	}, nil
}

func splitEndpoint(endpoint string) (string, int, error) {
	if endpoint == "" {
		return "", 0, fmt.Errorf("greptime endpoint is empty")
	}
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return endpoint, DefaultGreptimePort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid greptime port %q: %w", portStr, err)
	}
	return host, port, nil
}

// Write inserts a single node row.
func (w *GreptimeDBWriter) Write(row telemetry.NodeRow) error {
	return w.WriteBatch([]telemetry.NodeRow{row})
}

// WriteBatch inserts multiple node rows.
func (w *GreptimeDBWriter) WriteBatch(rows []telemetry.NodeRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.nodeTable)
	if err != nil {
		return err
	}
	cols := []struct {
		name string
		tag  bool
		typ  types.ColumnType
	}{
		{"run_id", true, types.STRING},
		{"node_id", true, types.STRING},
		{"x", false, types.FLOAT64},
		{"y", false, types.FLOAT64},
		{"inbox_size", false, types.INT64},
		{"received", false, types.INT64},
		{"sent", false, types.INT64},
		{"dropped", false, types.INT64},
		{"delivered_to_app", false, types.INT64},
	}
	for _, c := range cols {
		if c.tag {
			err = tbl.AddTagColumn(c.name, c.typ)
		} else {
			err = tbl.AddFieldColumn(c.name, c.typ)
		}
		if err != nil {
			return err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	for _, r := range rows {
		if err := tbl.AddRow(r.RunID, r.NodeID, r.X, r.Y, int64(r.InboxSize), r.Received, r.Sent, r.Dropped, r.DeliveredToApp, r.Timestamp); err != nil {
			return err
		}
	}
	return w.write(w.nodeTable, tbl, len(rows))
}

// WriteEvent inserts a single routing event.
func (w *GreptimeDBWriter) WriteEvent(row telemetry.EventRow) error {
	return w.WriteEvents([]telemetry.EventRow{row})
}

// WriteEvents inserts multiple routing events.
func (w *GreptimeDBWriter) WriteEvents(rows []telemetry.EventRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.eventTable)
	if err != nil {
		return err
	}
	if err := tbl.AddTagColumn("run_id", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddTagColumn("node_id", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("seq", types.UINT64); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("action", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("payload", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("congestion", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	for _, r := range rows {
		if err := tbl.AddRow(r.RunID, r.NodeID, r.Seq, r.Action, r.Payload, r.Congestion, r.Timestamp); err != nil {
			return err
		}
	}
	return w.write(w.eventTable, tbl, len(rows))
}

// WriteState inserts a network state row.
func (w *GreptimeDBWriter) WriteState(row telemetry.NetworkStateRow) error {
	tbl, err := table.New(w.stateTable)
	if err != nil {
		return err
	}
	if err := tbl.AddTagColumn("run_id", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddTagColumn("policy", types.STRING); err != nil {
		return err
	}
	for _, name := range []string{"transmissions", "collisions", "dropped_out_of_range"} {
		if err := tbl.AddFieldColumn(name, types.INT64); err != nil {
			return err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	if err := tbl.AddRow(row.RunID, row.Policy, row.Transmissions, row.Collisions, row.DroppedOutOfRange, row.Timestamp); err != nil {
		return err
	}
	return w.write(w.stateTable, tbl, 1)
}

func (w *GreptimeDBWriter) write(name string, tbl *table.Table, n int) error {
	log := w.log
	if log == nil {
		log = slog.Default()
	}
	if _, err := w.client.Write(context.Background(), tbl); err != nil {
		log.Error("greptime write failed", "table", name, "rows", n, "err", err)
		return err
	}
	log.Debug("greptime rows written", "table", name, "rows", n)
	return nil
}
