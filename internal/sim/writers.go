package sim

import (
	"context"

	"meshsim/internal/radio"
	"meshsim/internal/telemetry"
)

// TelemetryWriter receives per-node rows once per telemetry tick.
type TelemetryWriter interface {
	Write(telemetry.NodeRow) error
}

// Optional: Writers can also support batch mode
type batchWriter interface {
	WriteBatch([]telemetry.NodeRow) error
}

// EventWriter receives routing events in sequence order.
type EventWriter interface {
	WriteEvent(telemetry.EventRow) error
}

// Optional: event writers may support batch mode.
type batchEventWriter interface {
	WriteEvents([]telemetry.EventRow) error
}

// StateWriter receives the physical-layer counters once per tick.
type StateWriter interface {
	WriteState(telemetry.NetworkStateRow) error
}

// Optional: writers may support batch mode for state rows.
type batchStateWriter interface {
	WriteStates([]telemetry.NetworkStateRow) error
}

// AdminStatusWriter allows writers to receive admin endpoint status updates.
type AdminStatusWriter interface {
	SetAdminStatus(listening bool)
}

// Injector originates traffic on behalf of interactive writers. *Simulator
// implements it.
type Injector interface {
	InjectRandom(ctx context.Context, critical bool) (radio.Packet, error)
	Inject(ctx context.Context, nodeID, payload, destination string, ttl int) (radio.Packet, error)
}

// InjectorSetter lets interactive writers trigger traffic.
type InjectorSetter interface {
	SetInjector(Injector)
}

func writeNodeRows(w TelemetryWriter, rows []telemetry.NodeRow) error {
	if bw, ok := w.(batchWriter); ok {
		return bw.WriteBatch(rows)
	}
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

func writeEventRows(w EventWriter, rows []telemetry.EventRow) error {
	if bw, ok := w.(batchEventWriter); ok {
		return bw.WriteEvents(rows)
	}
	for _, r := range rows {
		if err := w.WriteEvent(r); err != nil {
			return err
		}
	}
	return nil
}

func writeStateRows(w StateWriter, rows []telemetry.NetworkStateRow) error {
	if bw, ok := w.(batchStateWriter); ok {
		return bw.WriteStates(rows)
	}
	for _, r := range rows {
		if err := w.WriteState(r); err != nil {
			return err
		}
	}
	return nil
}
