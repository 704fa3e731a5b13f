package sim

import (
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"meshsim/internal/config"
	"meshsim/internal/telemetry"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
)

var nodePalette = []string{colorRed, colorGreen, colorYellow, colorBlue, colorMagenta, colorCyan}

// ColorStdoutWriter prints node rows, routing events and network state using ANSI colors.
type ColorStdoutWriter struct {
	cfg        *config.SimulationConfig
	out        io.Writer
	once       sync.Once
	mu         sync.Mutex
	nodeColors map[string]string
	colorIdx   int
}

// NewColorStdoutWriter creates a ColorStdoutWriter writing to os.Stdout.
func NewColorStdoutWriter(cfg *config.SimulationConfig) *ColorStdoutWriter {
	return newColorWriter(cfg, os.Stdout)
}

func newColorWriter(cfg *config.SimulationConfig, out io.Writer) *ColorStdoutWriter {
	return &ColorStdoutWriter{
		cfg:        cfg,
		out:        out,
		nodeColors: make(map[string]string),
	}
}

func (w *ColorStdoutWriter) nodeColor(id string) string {
	if c, ok := w.nodeColors[id]; ok {
		return c
	}
	c := nodePalette[w.colorIdx%len(nodePalette)]
	w.nodeColors[id] = c
	w.colorIdx++
	return c
}

func actionColor(action string) string {
	switch action {
	case telemetry.ActionDrop:
		return colorRed
	case telemetry.ActionForward:
		return colorYellow
	case telemetry.ActionReceived:
		return colorGreen
	}
	return colorGray
}

func congestionColor(level string) string {
	switch level {
	case "HIGH":
		return colorRed
	case "MEDIUM":
		return colorYellow
	}
	return colorGreen
}

func (w *ColorStdoutWriter) printOverview() {
	if w.cfg == nil {
		return
	}
	fmt.Fprintln(w.out, "Simulation Configuration:")
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Policy:\t%s\n", w.cfg.Policy)
	fmt.Fprintf(tw, "Nodes:\t%d\n", w.cfg.Nodes)
	fmt.Fprintf(tw, "Area (m):\t%.0f\n", w.cfg.AreaM)
	fmt.Fprintf(tw, "Max Range (m):\t%.0f\n", w.cfg.Radio.MaxRangeM)
	fmt.Fprintf(tw, "TX Power (dBm):\t%.1f\n", w.cfg.Radio.TxPowerDBm)
	fmt.Fprintf(tw, "TTL:\t%d\n", w.cfg.Traffic.TTL)
	fmt.Fprintf(tw, "Traffic Interval:\t%s\n", w.cfg.Traffic.Interval)
	fmt.Fprintf(tw, "Critical Ratio:\t%.2f\n", w.cfg.Traffic.CriticalRatio)
	fmt.Fprintf(tw, "Scenario:\t%s\n", w.cfg.Traffic.Scenario)
	tw.Flush()
	fmt.Fprintln(w.out)
}

// Write outputs a single node row in colorized format.
func (w *ColorStdoutWriter) Write(row telemetry.NodeRow) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "%s[%s]%s %snode=%s%s pos=(%.0f,%.0f) inbox=%d rx=%d tx=%d drop=%d app=%d\n",
		colorGray, row.Timestamp.Format(time.RFC3339), colorReset,
		w.nodeColor(row.NodeID), row.NodeID, colorReset,
		row.X, row.Y, row.InboxSize, row.Received, row.Sent, row.Dropped, row.DeliveredToApp)
	return nil
}

// WriteBatch outputs multiple node rows.
func (w *ColorStdoutWriter) WriteBatch(rows []telemetry.NodeRow) error {
	for _, r := range rows {
		_ = w.Write(r)
	}
	return nil
}

// WriteEvent prints one routing event.
func (w *ColorStdoutWriter) WriteEvent(e telemetry.EventRow) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "%s[%s]%s %snode=%s%s %s%-8s%s %scong=%s%s %q\n",
		colorGray, e.Timestamp.Format(time.RFC3339), colorReset,
		w.nodeColor(e.NodeID), e.NodeID, colorReset,
		actionColor(e.Action), e.Action, colorReset,
		congestionColor(e.Congestion), e.Congestion, colorReset,
		e.Payload)
	return nil
}

// WriteEvents prints multiple routing events.
func (w *ColorStdoutWriter) WriteEvents(rows []telemetry.EventRow) error {
	for _, e := range rows {
		_ = w.WriteEvent(e)
	}
	return nil
}

// WriteState prints the network-wide counters.
func (w *ColorStdoutWriter) WriteState(row telemetry.NetworkStateRow) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "%s[%s]%s %sSTATE%s policy=%s tx=%d collisions=%d out_of_range=%d\n",
		colorGray, row.Timestamp.Format(time.RFC3339), colorReset,
		colorBlue, colorReset, row.Policy, row.Transmissions, row.Collisions, row.DroppedOutOfRange)
	return nil
}
