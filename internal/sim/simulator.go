// Package sim drives a mesh run and feeds its rows to telemetry writers.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"meshsim/internal/config"
	"meshsim/internal/mesh"
	"meshsim/internal/observability"
	"meshsim/internal/radio"
	"meshsim/internal/scenario"
	"meshsim/internal/telemetry"
)

// Option customizes a Simulator.
type Option func(*Simulator)

// WithWriter sets the per-node row writer.
func WithWriter(w TelemetryWriter) Option { return func(s *Simulator) { s.writer = w } }

// WithEventWriter sets the routing event writer.
func WithEventWriter(w EventWriter) Option { return func(s *Simulator) { s.eventWriter = w } }

// WithStateWriter sets the network state writer.
func WithStateWriter(w StateWriter) Option { return func(s *Simulator) { s.stateWriter = w } }

// WithMetrics wires a Prometheus collector into the medium and the policy.
func WithMetrics(c *observability.MeshCollector) Option { return func(s *Simulator) { s.metrics = c } }

// WithLogger sets the simulator logger.
func WithLogger(l *slog.Logger) Option { return func(s *Simulator) { s.log = l } }

// WithScenario overrides the scenario named in the config.
func WithScenario(sc *scenario.Scenario) Option { return func(s *Simulator) { s.scenario = sc } }

// WithEvaluator plugs a custom evaluator into the agentic policy.
func WithEvaluator(ev mesh.Evaluator) Option { return func(s *Simulator) { s.evaluator = ev } }

// WithClock overrides the time source used for rows and phases.
func WithClock(now func() time.Time) Option { return func(s *Simulator) { s.now = now } }

// Summary aggregates the counters of a run.
type Summary struct {
	RunID             string  `json:"run_id"`
	Policy            string  `json:"policy"`
	Nodes             int     `json:"nodes"`
	Injected          int64   `json:"injected"`
	InjectedCritical  int64   `json:"injected_critical"`
	Sent              int64   `json:"sent"`
	Received          int64   `json:"received"`
	DeliveredToApp    int64   `json:"delivered_to_app"`
	Dropped           int64   `json:"dropped"`
	Transmissions     int64   `json:"transmissions"`
	Collisions        int64   `json:"collisions"`
	DroppedOutOfRange int64   `json:"dropped_out_of_range"`
	Phase             string  `json:"phase,omitempty"`
	Elapsed           float64 `json:"elapsed_seconds"`
}

// Simulator owns one run: the environment, its nodes, the shared policy and the state bus.
type Simulator struct {
	cfg      *config.SimulationConfig
	runID    string
	env      *radio.Environment
	policy   mesh.Policy
	nodes    []*mesh.Node
	byID     map[string]*mesh.Node
	bus      *telemetry.Bus
	scenario *scenario.Scenario

	writer      TelemetryWriter
	eventWriter EventWriter
	stateWriter StateWriter
	metrics     *observability.MeshCollector
	evaluator   mesh.Evaluator
	log         *slog.Logger
	now         func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand

	injected         atomic.Int64
	injectedCritical atomic.Int64
	events           *eventQueue

	mu            sync.Mutex
	started       time.Time
	phase         string
	phaseStart    time.Time
	phaseInjected int
}

// NewSimulator builds the environment and nodes described by cfg.
func NewSimulator(cfg *config.SimulationConfig, opts ...Option) (*Simulator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.ApplyDefaults()
	if err := cfg.Check(); err != nil {
		return nil, err
	}

	s := &Simulator{
		cfg:   cfg,
		runID: uuid.NewString(),
		byID:  make(map[string]*mesh.Node, cfg.Nodes),
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("run_id", s.runID)

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s.rand = rand.New(rand.NewSource(seed))

	if s.scenario == nil {
		sc, err := loadScenario(cfg.Traffic)
		if err != nil {
			return nil, err
		}
		s.scenario = sc
	}
	s.phase = s.scenario.FirstPhase()
	s.phaseStart = s.now()

	busOpts := []telemetry.BusOption{
		telemetry.WithObserverQueue(cfg.Telemetry.ObserverQueue),
		telemetry.WithRecentEvents(cfg.Telemetry.RecentEvents),
	}
	if s.eventWriter != nil {
		s.events = newEventQueue()
		busOpts = append(busOpts, telemetry.WithEventTap(s.events.push))
	}
	s.bus = telemetry.NewBus(busOpts...)

	envOpts := []radio.Option{
		radio.WithFrequencyMHz(cfg.Radio.FrequencyMHz),
		radio.WithCollisionThreshold(cfg.Radio.CollisionThreshold),
	}
	var recorder mesh.DecisionRecorder
	if s.metrics != nil {
		envOpts = append(envOpts, radio.WithRecorder(s.metrics))
		recorder = s.metrics
	}
	s.env = radio.NewEnvironment(cfg.Radio.MaxRangeM, cfg.Radio.TxPowerDBm, envOpts...)

	policy, err := mesh.NewPolicy(cfg.Policy, mesh.PolicyOptions{
		Sink:      s.bus,
		Recorder:  recorder,
		Cache:     mesh.NewDecisionCache(cfg.Agentic.CacheCapacity),
		Evaluator: s.evaluator,
	})
	if err != nil {
		return nil, err
	}
	s.policy = policy

	for i := 0; i < cfg.Nodes; i++ {
		id := fmt.Sprintf("Node-%d", i)
		x := s.rand.Float64() * cfg.AreaM
		y := s.rand.Float64() * cfg.AreaM
		n := mesh.NewNode(id, s.env, x, y, policy,
			mesh.WithSink(s.bus),
			mesh.WithTxDelay(cfg.Radio.TxDelay),
			mesh.WithSeenCapacity(cfg.Node.DedupCapacity),
			mesh.WithLogger(s.log),
		)
		s.nodes = append(s.nodes, n)
		s.byID[id] = n
		s.bus.UpdateNode(n.State())
	}
	s.syncStats()
	return s, nil
}

func loadScenario(tc config.TrafficConfig) (*scenario.Scenario, error) {
	if tc.ScenarioFile != "" {
		return scenario.Load(tc.ScenarioFile)
	}
	return scenario.Named(tc.Scenario)
}

// RunID identifies this run in persisted rows.
func (s *Simulator) RunID() string { return s.runID }

// Config returns the effective configuration.
func (s *Simulator) Config() *config.SimulationConfig { return s.cfg }

// Bus returns the state bus observers register with.
func (s *Simulator) Bus() *telemetry.Bus { return s.bus }

// Environment returns the shared radio medium.
func (s *Simulator) Environment() *radio.Environment { return s.env }

// Policy returns the routing policy shared by every node.
func (s *Simulator) Policy() mesh.Policy { return s.policy }

// Nodes returns the nodes in creation order.
func (s *Simulator) Nodes() []*mesh.Node { return s.nodes }

// Node looks up a node by id.
func (s *Simulator) Node(id string) (*mesh.Node, bool) {
	n, ok := s.byID[id]
	return n, ok
}

// Phase returns the active scenario phase, or "" for a phaseless scenario.
func (s *Simulator) Phase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Inject originates a packet at nodeID. An empty destination broadcasts and
// ttl < 1 uses the configured traffic ttl. It blocks for the node's time-on-air.
func (s *Simulator) Inject(ctx context.Context, nodeID, payload, destination string, ttl int) (radio.Packet, error) {
	n, ok := s.byID[nodeID]
	if !ok {
		return radio.Packet{}, fmt.Errorf("%w: %s", radio.ErrUnknownNode, nodeID)
	}
	if ttl < 1 {
		ttl = s.cfg.Traffic.TTL
	}
	p := radio.NewPacket(nodeID, destination, payload, ttl)
	if err := n.Transmit(ctx, p); err != nil {
		return radio.Packet{}, err
	}
	s.injected.Add(1)
	s.metrics.Injected("manual")
	s.syncStats()
	s.log.Debug("packet injected", "node_id", nodeID, "packet_id", p.ID, "destination", p.DestinationID)
	return p, nil
}

// InjectRandom originates one scenario message at a random node. force
// selects the critical catalog regardless of the current ratio.
func (s *Simulator) InjectRandom(ctx context.Context, force bool) (radio.Packet, error) {
	ratio := s.criticalRatio()
	if force {
		ratio = 1
	}
	s.randMu.Lock()
	sender := s.nodes[s.rand.Intn(len(s.nodes))]
	payload, critical := s.scenario.Pick(s.rand, ratio)
	s.randMu.Unlock()

	p := radio.NewPacket(sender.ID(), radio.Broadcast, payload, s.cfg.Traffic.TTL)
	if err := sender.Transmit(ctx, p); err != nil {
		return radio.Packet{}, err
	}
	s.injected.Add(1)
	class := "noise"
	if critical {
		class = "critical"
		s.injectedCritical.Add(1)
	}
	s.metrics.Injected(class)
	s.mu.Lock()
	s.phaseInjected++
	s.mu.Unlock()
	s.syncStats()
	return p, nil
}

func (s *Simulator) criticalRatio() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.scenario.Phase(s.phase); ok && p.CriticalRatio > 0 {
		return p.CriticalRatio
	}
	return s.cfg.Traffic.CriticalRatio
}

func (s *Simulator) burst() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.scenario.Phase(s.phase); ok && p.Burst > 0 {
		return p.Burst
	}
	return 1
}

// advancePhase evaluates the scenario triggers for the active phase.
func (s *Simulator) advancePhase() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == "" {
		return
	}
	events := []scenario.Event{
		{Type: scenario.EventTimeElapsed, Value: int(s.now().Sub(s.phaseStart) / time.Second)},
		{Type: scenario.EventInjected, Value: s.phaseInjected},
	}
	for _, ev := range events {
		next, ok := s.scenario.NextPhase(s.phase, ev)
		if !ok {
			continue
		}
		s.log.Info("scenario phase changed", "from", s.phase, "to", next, "trigger", ev.Type)
		s.phase = next
		s.phaseStart = s.now()
		s.phaseInjected = 0
		return
	}
}

// syncStats publishes the environment counters and the policy name.
func (s *Simulator) syncStats() {
	st := s.env.Stats()
	s.bus.SetNetworkStats(telemetry.NetworkStats{
		Transmissions:     st.Transmissions,
		Collisions:        st.Collisions,
		DroppedOutOfRange: st.DroppedOutOfRange,
		Policy:            s.policy.Name(),
	})
}

// Summary aggregates the node and environment counters.
func (s *Simulator) Summary() Summary {
	st := s.env.Stats()
	sum := Summary{
		RunID:             s.runID,
		Policy:            s.policy.Name(),
		Nodes:             len(s.nodes),
		Injected:          s.injected.Load(),
		InjectedCritical:  s.injectedCritical.Load(),
		Transmissions:     st.Transmissions,
		Collisions:        st.Collisions,
		DroppedOutOfRange: st.DroppedOutOfRange,
		Phase:             s.Phase(),
	}
	for _, n := range s.nodes {
		ns := n.Stats()
		sum.Sent += ns.Sent
		sum.Received += ns.Received
		sum.DeliveredToApp += ns.DeliveredToApp
		sum.Dropped += ns.Dropped
	}
	s.mu.Lock()
	if !s.started.IsZero() {
		sum.Elapsed = s.now().Sub(s.started).Seconds()
	}
	s.mu.Unlock()
	return sum
}
