package sim

import (
	"errors"

	"meshsim/internal/telemetry"
)

// MultiWriter fans rows out to every writer that accepts them.
type MultiWriter struct {
	nodeWriters  []TelemetryWriter
	eventWriters []EventWriter
	stateWriters []StateWriter
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(tws []TelemetryWriter, ews []EventWriter, sws []StateWriter) *MultiWriter {
	return &MultiWriter{nodeWriters: tws, eventWriters: ews, stateWriters: sws}
}

// Write sends a node row to all writers.
func (mw *MultiWriter) Write(row telemetry.NodeRow) error {
	return mw.WriteBatch([]telemetry.NodeRow{row})
}

// WriteBatch sends node rows to all writers, using batch if supported. Every
// writer is tried; the errors are joined.
func (mw *MultiWriter) WriteBatch(rows []telemetry.NodeRow) error {
	var errs []error
	for _, w := range mw.nodeWriters {
		if err := writeNodeRows(w, rows); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteEvent sends a routing event to all event writers.
func (mw *MultiWriter) WriteEvent(row telemetry.EventRow) error {
	return mw.WriteEvents([]telemetry.EventRow{row})
}

// WriteEvents sends routing events to all event writers, using batch if supported.
func (mw *MultiWriter) WriteEvents(rows []telemetry.EventRow) error {
	var errs []error
	for _, w := range mw.eventWriters {
		if err := writeEventRows(w, rows); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteState sends a state row to all state writers.
func (mw *MultiWriter) WriteState(row telemetry.NetworkStateRow) error {
	var errs []error
	for _, w := range mw.stateWriters {
		if err := writeStateRows(w, []telemetry.NetworkStateRow{row}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetAdminStatus forwards admin status to writers that display it.
func (mw *MultiWriter) SetAdminStatus(listening bool) {
	for _, w := range mw.nodeWriters {
		if aw, ok := w.(AdminStatusWriter); ok {
			aw.SetAdminStatus(listening)
		}
	}
}

// SetInjector forwards the injector to interactive writers.
func (mw *MultiWriter) SetInjector(inj Injector) {
	for _, w := range mw.nodeWriters {
		if iw, ok := w.(InjectorSetter); ok {
			iw.SetInjector(inj)
		}
	}
}
