package mesh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meshsim/internal/radio"
	"meshsim/internal/telemetry"
)

// recordingPolicy wraps another policy and remembers every packet handed to it.
type recordingPolicy struct {
	inner Policy
	mu    sync.Mutex
	seen  []radio.Packet
}

func (r *recordingPolicy) Name() string     { return r.inner.Name() }
func (r *recordingPolicy) kind() PolicyKind { return r.inner.kind() }

func (r *recordingPolicy) ProcessPacket(ctx context.Context, p *radio.Packet, h Host) error {
	r.mu.Lock()
	r.seen = append(r.seen, *p)
	r.mu.Unlock()
	return r.inner.ProcessPacket(ctx, p, h)
}

func (r *recordingPolicy) packets() []radio.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]radio.Packet(nil), r.seen...)
}

type panicPolicy struct{}

func (panicPolicy) Name() string     { return "panic" }
func (panicPolicy) kind() PolicyKind { return PolicyFlood }
func (panicPolicy) ProcessPacket(context.Context, *radio.Packet, Host) error {
	panic("boom")
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestNodeDeduplicatesPackets(t *testing.T) {
	env := radio.NewEnvironment(800, 20)
	env.RegisterNode("tx", 0, 0)
	pol := &recordingPolicy{inner: NewFloodPolicy(nil, nil)}
	n := NewNode("Node-1", env, 10, 0, pol, WithTxDelay(0))

	p := radio.NewPacket("tx", radio.Broadcast, "Ping: ACK 33", 1)
	for i := 0; i < 3; i++ {
		if err := env.Broadcast("tx", p); err != nil {
			t.Fatalf("broadcast: %v", err)
		}
	}

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer n.Stop()

	eventually(t, func() bool { return n.Stats().Received == 3 }, "three receptions")
	if got := len(pol.packets()); got != 1 {
		t.Errorf("policy invoked %d times, want 1", got)
	}
}

func TestChainForwardingIncrementsHops(t *testing.T) {
	env := radio.NewEnvironment(150, 20)
	sink := &recordingSink{}
	polB := &recordingPolicy{inner: NewFloodPolicy(sink, nil)}
	polC := &recordingPolicy{inner: NewFloodPolicy(sink, nil)}

	a := NewNode("A", env, 0, 0, NewFloodPolicy(sink, nil), WithTxDelay(0), WithSink(sink))
	b := NewNode("B", env, 100, 0, polB, WithTxDelay(0), WithSink(sink))
	c := NewNode("C", env, 200, 0, polC, WithTxDelay(0), WithSink(sink))

	ctx := context.Background()
	for _, n := range []*Node{a, b, c} {
		if err := n.Start(ctx); err != nil {
			t.Fatalf("start %s: %v", n.ID(), err)
		}
		defer n.Stop()
	}

	if err := a.Transmit(ctx, radio.NewPacket("A", radio.Broadcast, "Ping: ACK 33", 3)); err != nil {
		t.Fatalf("transmit: %v", err)
	}

	eventually(t, func() bool {
		return a.Stats().Dropped == 1 && b.Stats().Received == 2 && c.Stats().Sent == 1
	}, "flood to settle")

	cPackets := polC.packets()
	if len(cPackets) != 1 {
		t.Fatalf("C processed %d packets, want 1", len(cPackets))
	}
	if cPackets[0].Hops != 1 || cPackets[0].TTL != 2 || cPackets[0].SenderID != "B" {
		t.Errorf("C received %+v, want hops=1 ttl=2 sender=B", cPackets[0])
	}
	if bPackets := polB.packets(); len(bPackets) != 1 || bPackets[0].Hops != 0 {
		t.Errorf("B processed %+v", bPackets)
	}
	if got := c.Stats().DeliveredToApp; got != 1 {
		t.Errorf("C delivered = %d, want 1", got)
	}
	if got := a.Stats().Sent; got != 1 {
		t.Errorf("A sent = %d, want 1", got)
	}
	if env.Stats().DroppedOutOfRange == 0 {
		t.Errorf("A and C are out of range of each other, expected out-of-range drops")
	}
}

func TestNodeStartTwice(t *testing.T) {
	env := radio.NewEnvironment(800, 20)
	n := NewNode("Node-1", env, 0, 0, NewFloodPolicy(nil, nil))
	ctx := context.Background()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := n.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start = %v, want ErrAlreadyRunning", err)
	}
	n.Stop()
	if err := n.Wait(); err != nil {
		t.Errorf("wait after stop = %v, want nil", err)
	}
}

func TestNodeRunRejectsConcurrentLoop(t *testing.T) {
	env := radio.NewEnvironment(800, 20)
	n := NewNode("Node-1", env, 0, 0, NewFloodPolicy(nil, nil))
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer n.Stop()
	eventually(t, func() bool { return n.running.Load() }, "loop to start")
	if err := n.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("run = %v, want ErrAlreadyRunning", err)
	}
}

func TestPolicyPanicTerminatesOnlyThatNode(t *testing.T) {
	env := radio.NewEnvironment(800, 20)
	env.RegisterNode("tx", 0, 0)
	bad := NewNode("bad", env, 10, 0, panicPolicy{}, WithTxDelay(0))
	good := NewNode("good", env, 20, 0, NewFloodPolicy(nil, nil), WithTxDelay(0))

	ctx := context.Background()
	if err := bad.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := good.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer good.Stop()

	if err := env.Broadcast("tx", radio.NewPacket("tx", radio.Broadcast, "x", 1)); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- bad.Wait() }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected panic to surface as an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("faulted node did not terminate")
	}

	eventually(t, func() bool { return good.Stats().Received >= 1 }, "healthy node to keep running")
	if !good.running.Load() {
		t.Errorf("healthy node stopped after a peer fault")
	}
}

func TestStopWhileIdle(t *testing.T) {
	env := radio.NewEnvironment(800, 20)
	n := NewNode("Node-1", env, 0, 0, NewAgenticPolicy(nil, nil, nil, nil))
	if err := n.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stopped := make(chan struct{})
	go func() {
		n.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("stop blocked on an idle node")
	}
}

func TestTransmitHonoursDelayAndContext(t *testing.T) {
	env := radio.NewEnvironment(800, 20)
	n := NewNode("Node-1", env, 0, 0, NewFloodPolicy(nil, nil), WithTxDelay(30*time.Millisecond))
	peer := NewNode("Node-2", env, 5, 0, NewFloodPolicy(nil, nil))

	start := time.Now()
	if err := n.Transmit(context.Background(), radio.NewPacket("Node-1", "", "hi", 2)); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("transmit returned after %v, before the time-on-air", elapsed)
	}
	if peer.MailboxDepth() != 1 {
		t.Fatalf("peer depth = %d, want 1", peer.MailboxDepth())
	}
	if n.Stats().Sent != 1 {
		t.Errorf("sent = %d, want 1", n.Stats().Sent)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Transmit(ctx, radio.NewPacket("Node-1", "", "late", 2)); !errors.Is(err, context.Canceled) {
		t.Errorf("transmit on cancelled ctx = %v", err)
	}
	if n.Stats().Sent != 1 {
		t.Errorf("cancelled transmit was counted")
	}
}

func TestTransmitStampsSender(t *testing.T) {
	env := radio.NewEnvironment(800, 20)
	relay := NewNode("relay", env, 0, 0, NewFloodPolicy(nil, nil), WithTxDelay(0))
	rx := NewNode("rx", env, 1, 0, NewFloodPolicy(nil, nil))

	p := radio.NewPacket("origin", radio.Broadcast, "x", 2)
	if err := relay.Transmit(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	got, err := rx.mailbox.Receive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.SenderID != "relay" || got.OriginalSender != "origin" {
		t.Errorf("sender=%s original=%s", got.SenderID, got.OriginalSender)
	}
}

func TestNodePublishesState(t *testing.T) {
	env := radio.NewEnvironment(800, 20)
	env.RegisterNode("tx", 0, 0)
	sink := &recordingSink{}
	n := NewNode("Node-1", env, 3, 4, NewFloodPolicy(nil, nil), WithSink(sink), WithTxDelay(0))
	if err := env.Broadcast("tx", radio.NewPacket("tx", "Node-1", "hi", 1)); err != nil {
		t.Fatal(err)
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer n.Stop()

	eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.states) > 0
	}, "state publication")

	sink.mu.Lock()
	st := sink.states[len(sink.states)-1]
	sink.mu.Unlock()
	want := telemetry.NodeState{ID: "Node-1", X: 3, Y: 4, Stats: telemetry.NodeStats{Received: 1, DeliveredToApp: 1}}
	if st != want {
		t.Errorf("state = %+v, want %+v", st, want)
	}
}
