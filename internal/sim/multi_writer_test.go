package sim

import (
	"errors"
	"testing"

	"meshsim/internal/telemetry"
)

type stubWriter struct {
	nodes    []telemetry.NodeRow
	batches  int
	events   []telemetry.EventRow
	states   []telemetry.NetworkStateRow
	err      error
	admin    *bool
	injector Injector
}

func (s *stubWriter) Write(r telemetry.NodeRow) error {
	s.nodes = append(s.nodes, r)
	return s.err
}

func (s *stubWriter) WriteEvent(r telemetry.EventRow) error {
	s.events = append(s.events, r)
	return s.err
}

func (s *stubWriter) WriteState(r telemetry.NetworkStateRow) error {
	s.states = append(s.states, r)
	return s.err
}

func (s *stubWriter) SetAdminStatus(listening bool) { s.admin = &listening }
func (s *stubWriter) SetInjector(inj Injector)      { s.injector = inj }

type batchStub struct{ stubWriter }

func (b *batchStub) WriteBatch(rows []telemetry.NodeRow) error {
	b.batches++
	b.nodes = append(b.nodes, rows...)
	return nil
}

func TestMultiWriterFanOut(t *testing.T) {
	a, b := &stubWriter{}, &batchStub{}
	mw := NewMultiWriter([]TelemetryWriter{a, b}, []EventWriter{a, b}, []StateWriter{b})

	rows := []telemetry.NodeRow{{NodeID: "Node-0"}, {NodeID: "Node-1"}}
	if err := mw.WriteBatch(rows); err != nil {
		t.Fatal(err)
	}
	if len(a.nodes) != 2 || len(b.nodes) != 2 {
		t.Fatalf("node rows not fanned out: %d %d", len(a.nodes), len(b.nodes))
	}
	if b.batches != 1 {
		t.Fatalf("batch writer should receive one batch, got %d", b.batches)
	}

	if err := mw.WriteEvent(telemetry.EventRow{Seq: 1}); err != nil {
		t.Fatal(err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("event not fanned out")
	}

	if err := mw.WriteState(telemetry.NetworkStateRow{Policy: "flood"}); err != nil {
		t.Fatal(err)
	}
	if len(a.states) != 0 || len(b.states) != 1 {
		t.Fatalf("state should only reach state writers: %d %d", len(a.states), len(b.states))
	}
}

func TestMultiWriterJoinsErrors(t *testing.T) {
	boom := errors.New("disk full")
	failing, ok := &stubWriter{err: boom}, &stubWriter{}
	mw := NewMultiWriter([]TelemetryWriter{failing, ok}, nil, nil)
	err := mw.Write(telemetry.NodeRow{NodeID: "Node-0"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if len(ok.nodes) != 1 {
		t.Fatalf("a failing writer must not starve the others")
	}
}

func TestMultiWriterForwardsInteractiveHooks(t *testing.T) {
	s := &stubWriter{}
	mw := NewMultiWriter([]TelemetryWriter{s}, nil, nil)
	mw.SetAdminStatus(true)
	if s.admin == nil || !*s.admin {
		t.Fatalf("admin status not forwarded")
	}
	mw.SetInjector(&Simulator{})
	if s.injector == nil {
		t.Fatalf("injector not forwarded")
	}
}
