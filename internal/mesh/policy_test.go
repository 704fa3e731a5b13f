package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"meshsim/internal/radio"
	"meshsim/internal/telemetry"
)

type fakeHost struct {
	id        string
	depth     int
	sent      []radio.Packet
	dropped   int
	delivered int
}

func (h *fakeHost) ID() string        { return h.id }
func (h *fakeHost) MailboxDepth() int { return h.depth }
func (h *fakeHost) CountDropped()     { h.dropped++ }
func (h *fakeHost) CountDelivered()   { h.delivered++ }
func (h *fakeHost) Transmit(_ context.Context, p radio.Packet) error {
	h.sent = append(h.sent, p)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []telemetry.Event
	states []telemetry.NodeState
}

func (s *recordingSink) UpdateNode(st telemetry.NodeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func (s *recordingSink) LogEvent(e telemetry.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Action + "/" + e.Congestion
	}
	return out
}

func packetFrom(origin, dest, payload string, ttl int) radio.Packet {
	p := radio.NewPacket(origin, dest, payload, ttl)
	p.TTL = ttl
	return p
}

func TestSelfEchoAlwaysDropped(t *testing.T) {
	policies := map[string]Policy{
		"flood":   NewFloodPolicy(nil, nil),
		"agentic": NewAgenticPolicy(nil, nil, nil, nil),
	}
	for name, pol := range policies {
		t.Run(name, func(t *testing.T) {
			h := &fakeHost{id: "Node-1"}
			p := packetFrom("Node-1", radio.Broadcast, "SOS: help", 5)
			if err := pol.ProcessPacket(context.Background(), &p, h); err != nil {
				t.Fatalf("process: %v", err)
			}
			if h.dropped != 1 || h.delivered != 0 || len(h.sent) != 0 {
				t.Errorf("dropped=%d delivered=%d sent=%d", h.dropped, h.delivered, len(h.sent))
			}
			if p.Hops != 0 || p.TTL != 5 {
				t.Errorf("packet mutated on drop: %+v", p)
			}
		})
	}
}

func TestAgenticCriticalForwardsAtAnyCongestion(t *testing.T) {
	for _, depth := range []int{0, 10, 11, 30, 31, 40} {
		t.Run(fmt.Sprintf("depth-%d", depth), func(t *testing.T) {
			sink := &recordingSink{}
			pol := NewAgenticPolicy(sink, nil, nil, nil)
			h := &fakeHost{id: "Node-2", depth: depth}
			p := packetFrom("Node-0", radio.Broadcast, "SOS: help", 2)

			if err := pol.ProcessPacket(context.Background(), &p, h); err != nil {
				t.Fatalf("process: %v", err)
			}
			if len(h.sent) != 1 {
				t.Fatalf("expected one transmission, got %d", len(h.sent))
			}
			out := h.sent[0]
			if out.TTL != 1 || out.Hops != 1 {
				t.Errorf("forwarded ttl=%d hops=%d, want 1/1", out.TTL, out.Hops)
			}
			if out.ID != p.ID {
				t.Errorf("forward changed packet id")
			}
			if h.delivered != 1 {
				t.Errorf("broadcast should be delivered to app, got %d", h.delivered)
			}
			want := "FORWARD/" + string(ClassifyCongestion(depth))
			if got := sink.actions(); len(got) != 1 || got[0] != want {
				t.Errorf("events = %v, want [%s]", got, want)
			}
		})
	}
}

func TestAgenticRoutineDroppedUnderHighCongestion(t *testing.T) {
	sink := &recordingSink{}
	pol := NewAgenticPolicy(sink, nil, nil, nil)
	h := &fakeHost{id: "Node-3", depth: 40}
	p := packetFrom("Node-0", radio.Broadcast, "Telemetry: Battery 88%", 3)

	if err := pol.ProcessPacket(context.Background(), &p, h); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(h.sent) != 0 {
		t.Fatalf("expected no transmission, got %d", len(h.sent))
	}
	if h.dropped != 1 {
		t.Errorf("dropped = %d, want 1", h.dropped)
	}
	if p.Hops != 0 || p.TTL != 3 {
		t.Errorf("hops/ttl changed on drop: %+v", p)
	}
	if got := sink.actions(); len(got) != 1 || got[0] != "DROP/HIGH" {
		t.Errorf("events = %v, want [DROP/HIGH]", got)
	}
}

func TestFloodUnicastToSelfIsConsumed(t *testing.T) {
	for _, ttl := range []int{0, 1, 5} {
		t.Run(fmt.Sprintf("ttl-%d", ttl), func(t *testing.T) {
			sink := &recordingSink{}
			pol := NewFloodPolicy(sink, nil)
			h := &fakeHost{id: "Node-4"}
			p := packetFrom("Node-0", "Node-4", "hello", ttl)
			if err := pol.ProcessPacket(context.Background(), &p, h); err != nil {
				t.Fatalf("process: %v", err)
			}
			if h.delivered != 1 || len(h.sent) != 0 || h.dropped != 0 {
				t.Errorf("delivered=%d sent=%d dropped=%d", h.delivered, len(h.sent), h.dropped)
			}
			if got := sink.actions(); len(got) != 1 || got[0] != "RECEIVED/FLOOD" {
				t.Errorf("events = %v", got)
			}
		})
	}
}

func TestFloodBroadcastForwards(t *testing.T) {
	sink := &recordingSink{}
	pol := NewFloodPolicy(sink, nil)
	h := &fakeHost{id: "Node-5"}
	p := packetFrom("Node-0", radio.Broadcast, "Ping: ACK 33", 3)
	p.Hops = 2

	if err := pol.ProcessPacket(context.Background(), &p, h); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(h.sent) != 1 || h.sent[0].TTL != 2 || h.sent[0].Hops != 3 {
		t.Fatalf("unexpected forward: %+v", h.sent)
	}
	if h.delivered != 1 {
		t.Errorf("delivered = %d, want 1", h.delivered)
	}
	got := sink.actions()
	if len(got) != 2 || got[0] != "RECEIVED/FLOOD" || got[1] != "FORWARD/FLOOD" {
		t.Errorf("events = %v", got)
	}
}

func TestFloodRelaysUnicastForOthers(t *testing.T) {
	pol := NewFloodPolicy(nil, nil)
	h := &fakeHost{id: "Node-6"}
	p := packetFrom("Node-0", "Node-9", "relay me", 2)
	if err := pol.ProcessPacket(context.Background(), &p, h); err != nil {
		t.Fatalf("process: %v", err)
	}
	if h.delivered != 0 || len(h.sent) != 1 {
		t.Errorf("delivered=%d sent=%d", h.delivered, len(h.sent))
	}
}

func TestExhaustedTTLDropped(t *testing.T) {
	policies := map[string]Policy{
		"flood":   NewFloodPolicy(nil, nil),
		"agentic": NewAgenticPolicy(nil, nil, nil, nil),
	}
	for name, pol := range policies {
		t.Run(name, func(t *testing.T) {
			h := &fakeHost{id: "Node-7"}
			p := packetFrom("Node-0", radio.Broadcast, "CRITICAL: bridge", 0)
			if err := pol.ProcessPacket(context.Background(), &p, h); err != nil {
				t.Fatalf("process: %v", err)
			}
			if h.delivered != 1 || h.dropped != 1 || len(h.sent) != 0 {
				t.Errorf("delivered=%d dropped=%d sent=%d", h.delivered, h.dropped, len(h.sent))
			}
		})
	}
}

func TestRuleEvaluator(t *testing.T) {
	cases := []struct {
		payload string
		level   CongestionLevel
		want    Decision
	}{
		{"SOS: Need medical evac", CongestionHigh, DecisionForward},
		{"CRITICAL: Structural failure", CongestionMedium, DecisionForward},
		{"URGENT: Riot police", CongestionHigh, DecisionForward},
		{"Telemetry: Temp 22C", CongestionLow, DecisionForward},
		{"Telemetry: Temp 22C", CongestionMedium, DecisionDrop},
		{"Ping: ACK 33", CongestionHigh, DecisionDrop},
		{"Telemetry SOS", CongestionHigh, DecisionForward},
		{"hello world", CongestionHigh, DecisionForward},
	}
	ev := &RuleEvaluator{}
	for _, tc := range cases {
		got, err := ev.Evaluate(context.Background(), tc.payload, tc.level)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if got != tc.want {
			t.Errorf("Evaluate(%q, %s) = %s, want %s", tc.payload, tc.level, got, tc.want)
		}
	}
}

func TestAgenticDecisionsMemoized(t *testing.T) {
	ev := &RuleEvaluator{}
	pol := NewAgenticPolicy(nil, nil, NewDecisionCache(16), ev)
	ctx := context.Background()

	first, err := pol.Decide(ctx, "Ping: ACK 33", CongestionMedium)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	for i := 0; i < 10; i++ {
		d, err := pol.Decide(ctx, "Ping: ACK 33", CongestionMedium)
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		if d != first {
			t.Fatalf("decision changed between calls: %s vs %s", d, first)
		}
	}
	if ev.Calls() != 1 {
		t.Errorf("rules evaluated %d times, want 1", ev.Calls())
	}
	if _, err := pol.Decide(ctx, "Ping: ACK 33", CongestionLow); err != nil {
		t.Fatalf("decide: %v", err)
	}
	if ev.Calls() != 2 {
		t.Errorf("rules evaluated %d times, want 2", ev.Calls())
	}
	if _, ok := pol.Cache().Get("Ping: ACK 33::MEDIUM"); !ok {
		t.Errorf("expected cache key payload::level")
	}
}

type failingEvaluator struct{}

func (failingEvaluator) Evaluate(context.Context, string, CongestionLevel) (Decision, error) {
	return "", errors.New("model offline")
}

func TestAgenticEvaluatorFailureSurfaces(t *testing.T) {
	pol := NewAgenticPolicy(nil, nil, nil, failingEvaluator{})
	h := &fakeHost{id: "Node-8"}
	p := packetFrom("Node-0", radio.Broadcast, "anything", 2)
	if err := pol.ProcessPacket(context.Background(), &p, h); err == nil {
		t.Fatalf("expected evaluator error")
	}
	if pol.Cache().Len() != 0 {
		t.Errorf("failed evaluation must not be cached")
	}
}

type countingRecorder struct {
	mu   sync.Mutex
	seen map[string]int
}

func (c *countingRecorder) Decision(policy, action, congestion string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = map[string]int{}
	}
	c.seen[policy+"/"+action+"/"+congestion]++
}

func TestDecisionRecorder(t *testing.T) {
	rec := &countingRecorder{}
	pol := NewAgenticPolicy(nil, rec, nil, nil)
	h := &fakeHost{id: "n", depth: 35}
	p := packetFrom("o", radio.Broadcast, "Ping", 2)
	if err := pol.ProcessPacket(context.Background(), &p, h); err != nil {
		t.Fatalf("process: %v", err)
	}
	if rec.seen["agentic/DROP/HIGH"] != 1 {
		t.Errorf("recorder saw %v", rec.seen)
	}
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy("Flood", PolicyOptions{})
	if err != nil || p.Name() != "flood" {
		t.Fatalf("flood: %v %v", p, err)
	}
	p, err = NewPolicy("agentic", PolicyOptions{})
	if err != nil || p.Name() != "agentic" {
		t.Fatalf("agentic: %v %v", p, err)
	}
	if _, err := NewPolicy("gossip", PolicyOptions{}); !errors.Is(err, ErrUnknownPolicy) {
		t.Fatalf("expected ErrUnknownPolicy, got %v", err)
	}
}

func TestClassifyCongestion(t *testing.T) {
	cases := map[int]CongestionLevel{
		0:  CongestionLow,
		10: CongestionLow,
		11: CongestionMedium,
		30: CongestionMedium,
		31: CongestionHigh,
		99: CongestionHigh,
	}
	for depth, want := range cases {
		if got := ClassifyCongestion(depth); got != want {
			t.Errorf("ClassifyCongestion(%d) = %s, want %s", depth, got, want)
		}
	}
}

func TestDecisionCacheEviction(t *testing.T) {
	c := NewDecisionCache(2)
	c.Put("a", DecisionForward)
	c.Put("b", DecisionDrop)
	c.Put("a", DecisionDrop)
	c.Put("c", DecisionForward)
	if _, ok := c.Get("a"); ok {
		t.Errorf("oldest key should be evicted")
	}
	if d, ok := c.Get("b"); !ok || d != DecisionDrop {
		t.Errorf("b = %s %v", d, ok)
	}
	if c.Len() != 2 {
		t.Errorf("len = %d, want 2", c.Len())
	}
}

func TestDecisionCacheLookupKeepsInsertionOrder(t *testing.T) {
	c := NewDecisionCache(2)
	c.Put("a", DecisionForward)
	c.Put("b", DecisionForward)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("a should be cached")
	}
	c.Put("c", DecisionDrop)
	if _, ok := c.Get("a"); ok {
		t.Errorf("a was read but is still the oldest entry and should be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Errorf("b should survive")
	}

	unbounded := NewDecisionCache(0)
	for i := 0; i < 5000; i++ {
		unbounded.Put(fmt.Sprint(i), DecisionDrop)
	}
	if unbounded.Len() != 5000 {
		t.Errorf("unbounded cache evicted entries: %d", unbounded.Len())
	}
}

func TestDecisionCacheConcurrent(t *testing.T) {
	c := NewDecisionCache(64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%100)
				if _, ok := c.Get(key); !ok {
					c.Put(key, DecisionForward)
				}
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 64 {
		t.Errorf("len = %d exceeds capacity", c.Len())
	}
}

func TestSeenSetEviction(t *testing.T) {
	s := NewSeenSet(3)
	for _, id := range []string{"a", "b", "c"} {
		if !s.Add(id) {
			t.Fatalf("%s reported as duplicate", id)
		}
	}
	if s.Add("a") {
		t.Errorf("duplicate add reported as new")
	}
	s.Add("d")
	if s.Contains("a") {
		t.Errorf("oldest id should be evicted")
	}
	if !s.Contains("d") || s.Len() != 3 {
		t.Errorf("unexpected contents, len=%d", s.Len())
	}

	unbounded := NewSeenSet(0)
	for i := 0; i < 10000; i++ {
		unbounded.Add(fmt.Sprint(i))
	}
	if unbounded.Len() != 10000 {
		t.Errorf("unbounded set evicted entries: %d", unbounded.Len())
	}
}
