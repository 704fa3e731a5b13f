package radio

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func recv(t *testing.T, mb *Mailbox) Packet {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p, err := mb.Receive(ctx)
	if err != nil {
		t.Fatalf("receive on %s: %v", mb.NodeID(), err)
	}
	return p
}

func TestBroadcastPerRecipientSignal(t *testing.T) {
	env := NewEnvironment(800, 14)
	env.RegisterNode("tx", 0, 0)
	near := env.RegisterNode("near", 100, 0)
	far := env.RegisterNode("far", 0, 500)
	gone := env.RegisterNode("gone", 900, 0)

	pkt := NewPacket("tx", Broadcast, "hello", 3)
	if err := env.Broadcast("tx", pkt); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	pn := recv(t, near)
	pf := recv(t, far)
	if pn.ID != pkt.ID || pf.ID != pkt.ID {
		t.Fatalf("packet id changed in delivery: %s %s", pn.ID, pf.ID)
	}
	if pn.RSSI <= pf.RSSI {
		t.Errorf("near rssi %.2f should exceed far rssi %.2f", pn.RSSI, pf.RSSI)
	}
	if pn.RSSI != env.RSSI(100) || pf.RSSI != env.RSSI(500) {
		t.Errorf("rssi not computed for recipient position: near=%.2f far=%.2f", pn.RSSI, pf.RSSI)
	}
	if pn.SNR != env.SNR(100) || pf.SNR != env.SNR(500) {
		t.Errorf("snr not computed for recipient position: near=%.2f far=%.2f", pn.SNR, pf.SNR)
	}
	if pkt.RSSI != 0 || pkt.SNR != 0 {
		t.Errorf("sender copy mutated: %+v", pkt)
	}
	if gone.Len() != 0 {
		t.Errorf("out-of-range node received %d packets", gone.Len())
	}

	st := env.Stats()
	if st.Transmissions != 1 || st.DroppedOutOfRange != 1 || st.Collisions != 0 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestRSSINonIncreasingWithDistance(t *testing.T) {
	env := NewEnvironment(1000, 14)
	distances := []float64{0, 0.5, 1, 2, 10, 50, 100, 250, 500, 999, 1000}
	prev := math.Inf(1)
	for _, d := range distances {
		got := env.RSSI(d)
		if got > prev {
			t.Fatalf("rssi increased at distance %.1f: %.3f > %.3f", d, got, prev)
		}
		prev = got
	}
	if got := env.RSSI(0.2); got != 14 {
		t.Errorf("rssi below one meter = %.2f, want tx power 14", got)
	}
}

func TestSNRClamped(t *testing.T) {
	env := NewEnvironment(800, 14)
	cases := []struct {
		dist float64
		want float64
	}{
		{0, 10},
		{400, 0},
		{800, -10},
		{1200, -20},
		{5000, -20},
	}
	for _, tc := range cases {
		if got := env.SNR(tc.dist); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("SNR(%.0f) = %.3f, want %.3f", tc.dist, got, tc.want)
		}
	}
}

func TestRangeBoundary(t *testing.T) {
	env := NewEnvironment(800, 14)
	env.RegisterNode("tx", 0, 0)
	edge := env.RegisterNode("edge", 800, 0)
	beyond := env.RegisterNode("beyond", 0, 800+1e-6)

	if err := env.Broadcast("tx", NewPacket("tx", Broadcast, "x", 1)); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if edge.Len() != 1 {
		t.Errorf("node at exactly max range should receive, got %d", edge.Len())
	}
	if beyond.Len() != 0 {
		t.Errorf("node beyond max range received %d packets", beyond.Len())
	}
	if got := env.Stats().DroppedOutOfRange; got != 1 {
		t.Errorf("out of range = %d, want 1", got)
	}
}

func TestCongestedMailboxCountsCollisions(t *testing.T) {
	env := NewEnvironment(800, 14, WithCollisionThreshold(2))
	env.RegisterNode("tx", 0, 0)
	rx := env.RegisterNode("rx", 10, 10)

	for i := 0; i < 5; i++ {
		if err := env.Broadcast("tx", NewPacket("tx", Broadcast, "x", 1)); err != nil {
			t.Fatalf("broadcast %d: %v", i, err)
		}
	}
	if rx.Len() != 3 {
		t.Errorf("mailbox depth = %d, want 3", rx.Len())
	}
	st := env.Stats()
	if st.Collisions != 2 {
		t.Errorf("collisions = %d, want 2", st.Collisions)
	}
	if st.Transmissions != 5 {
		t.Errorf("transmissions = %d, want 5", st.Transmissions)
	}
}

func TestDefaultCollisionThreshold(t *testing.T) {
	env := NewEnvironment(800, 14)
	env.RegisterNode("tx", 0, 0)
	rx := env.RegisterNode("rx", 1, 1)
	for i := 0; i < 60; i++ {
		_ = env.Broadcast("tx", NewPacket("tx", Broadcast, "x", 1))
	}
	if rx.Len() != 51 {
		t.Errorf("mailbox depth = %d, want 51", rx.Len())
	}
	if got := env.Stats().Collisions; got != 9 {
		t.Errorf("collisions = %d, want 9", got)
	}
}

func TestBroadcastUnknownSender(t *testing.T) {
	env := NewEnvironment(800, 14)
	env.RegisterNode("a", 0, 0)
	err := env.Broadcast("ghost", NewPacket("ghost", Broadcast, "x", 1))
	if !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
	if got := env.Stats().Transmissions; got != 1 {
		t.Errorf("transmissions = %d, want 1", got)
	}
}

func TestRegisterNodeTwiceOverwrites(t *testing.T) {
	env := NewEnvironment(800, 14)
	first := env.RegisterNode("a", 0, 0)
	second := env.RegisterNode("a", 50, 60)
	if first == second {
		t.Fatalf("expected a fresh mailbox on re-registration")
	}
	pos, ok := env.Position("a")
	if !ok || pos.X != 50 || pos.Y != 60 {
		t.Errorf("position = %+v, want (50,60)", pos)
	}
	env.RegisterNode("b", 0, 0)
	if err := env.Broadcast("b", NewPacket("b", Broadcast, "x", 1)); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if first.Len() != 0 || second.Len() != 1 {
		t.Errorf("delivery went to stale mailbox: first=%d second=%d", first.Len(), second.Len())
	}
}

type countingRecorder struct {
	tx, col, oor, del int
}

func (c *countingRecorder) Transmission()          { c.tx++ }
func (c *countingRecorder) Collision()             { c.col++ }
func (c *countingRecorder) OutOfRange()            { c.oor++ }
func (c *countingRecorder) Delivered(_, _ float64) { c.del++ }

func TestRecorderHook(t *testing.T) {
	rec := &countingRecorder{}
	env := NewEnvironment(100, 14, WithRecorder(rec), WithCollisionThreshold(1))
	env.RegisterNode("tx", 0, 0)
	env.RegisterNode("in", 10, 0)
	env.RegisterNode("out", 500, 0)
	for i := 0; i < 3; i++ {
		_ = env.Broadcast("tx", NewPacket("tx", Broadcast, "x", 1))
	}
	if rec.tx != 3 || rec.oor != 3 || rec.del != 2 || rec.col != 1 {
		t.Errorf("unexpected recorder counts: %+v", *rec)
	}
}
