package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"meshsim/internal/telemetry"
)

// JSONStdoutWriter prints node, event and state rows as JSON lines.
type JSONStdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

// NewJSONWriter creates a JSONStdoutWriter writing to out.
func NewJSONWriter(out io.Writer) *JSONStdoutWriter {
	return &JSONStdoutWriter{out: out}
}

func (w *JSONStdoutWriter) emit(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// Write outputs a node row.
func (w *JSONStdoutWriter) Write(row telemetry.NodeRow) error { return w.emit(row) }

// WriteBatch outputs multiple node rows.
func (w *JSONStdoutWriter) WriteBatch(rows []telemetry.NodeRow) error {
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvent outputs a routing event.
func (w *JSONStdoutWriter) WriteEvent(e telemetry.EventRow) error { return w.emit(e) }

// WriteEvents outputs multiple routing events.
func (w *JSONStdoutWriter) WriteEvents(rows []telemetry.EventRow) error {
	for _, r := range rows {
		if err := w.WriteEvent(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteState outputs a network state row.
func (w *JSONStdoutWriter) WriteState(row telemetry.NetworkStateRow) error { return w.emit(row) }
