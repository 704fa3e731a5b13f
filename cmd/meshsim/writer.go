package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"meshsim/internal/config"
	"meshsim/internal/sim"
)

// Output formats accepted by --format.
const (
	formatAuto  = "auto"
	formatJSON  = "json"
	formatColor = "color"
	formatTUI   = "tui"
)

// writerSet bundles the writers a run feeds and the resources to release.
type writerSet struct {
	nodes   sim.TelemetryWriter
	events  sim.EventWriter
	state   sim.StateWriter
	closers []func() error
}

func (ws *writerSet) Close() {
	for i := len(ws.closers) - 1; i >= 0; i-- {
		_ = ws.closers[i]()
	}
}

// setAdminStatus tells interactive writers whether the admin endpoint is up.
func (ws *writerSet) setAdminStatus(up bool) {
	if aw, ok := ws.nodes.(sim.AdminStatusWriter); ok {
		aw.SetAdminStatus(up)
	}
}

// setInjector hands interactive writers a way to originate traffic.
func (ws *writerSet) setInjector(inj sim.Injector) {
	if iw, ok := ws.nodes.(sim.InjectorSetter); ok {
		iw.SetInjector(inj)
	}
}

// resolveFormat turns "auto" into a concrete stdout format: colored lines on a
// terminal, JSON lines otherwise. The TUI needs a terminal.
func resolveFormat(requested string, isTTY bool) (string, error) {
	switch requested {
	case "", formatAuto:
		if isTTY {
			return formatColor, nil
		}
		return formatJSON, nil
	case formatJSON, formatColor:
		return requested, nil
	case formatTUI:
		if !isTTY {
			return "", fmt.Errorf("--format tui requires a terminal on STDOUT")
		}
		return formatTUI, nil
	}
	return "", fmt.Errorf("unknown output format %q", requested)
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// newWriters sets up node, event and state writers based on flags and env vars.
// GreptimeDB is used when GREPTIMEDB_ENDPOINT is set and printOnly is false;
// otherwise rows go to STDOUT in format. logFile adds JSONL logs next to it.
func newWriters(cfg *config.SimulationConfig, printOnly bool, format, logFile string) (*writerSet, error) {
	ws := &writerSet{}
	if err := ws.base(cfg, printOnly, format); err != nil {
		return nil, err
	}
	if logFile == "" {
		return ws, nil
	}

	fw, err := sim.NewFileWriter(logFile, logFile+".events", logFile+".state")
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.closers = append(ws.closers, fw.Close)
	mw := sim.NewMultiWriter(
		[]sim.TelemetryWriter{ws.nodes, fw},
		[]sim.EventWriter{ws.events, fw},
		[]sim.StateWriter{ws.state, fw},
	)
	ws.nodes, ws.events, ws.state = mw, mw, mw
	return ws, nil
}

// base chooses the primary sink.
func (ws *writerSet) base(cfg *config.SimulationConfig, printOnly bool, format string) error {
	endpoint := os.Getenv("GREPTIMEDB_ENDPOINT")
	if !printOnly && endpoint != "" && format != formatTUI {
		database := os.Getenv("GREPTIMEDB_DATABASE")
		if database == "" {
			database = "public"
		}
		w, err := sim.NewGreptimeDBWriter(endpoint, database)
		if err != nil {
			return fmt.Errorf("init GreptimeDB writer: %w", err)
		}
		ws.nodes, ws.events, ws.state = w, w, w
		return nil
	}

	switch format {
	case formatTUI:
		w := sim.NewTUIWriter(cfg)
		ws.nodes, ws.events, ws.state = w, w, w
		ws.closers = append(ws.closers, w.Close)
	case formatColor:
		w := sim.NewColorStdoutWriter(cfg)
		ws.nodes, ws.events, ws.state = w, w, w
	default:
		w := sim.NewJSONStdoutWriter()
		ws.nodes, ws.events, ws.state = w, w, w
	}
	return nil
}
