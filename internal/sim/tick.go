package sim

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"meshsim/internal/logging"
	"meshsim/internal/telemetry"
)

// Run starts every node, injects traffic until ctx is done or the configured
// duration elapses, lets the network settle, then stops the nodes. It returns
// the first node fault, if any.
func (s *Simulator) Run(ctx context.Context) error {
	log := s.log
	now := s.now()
	s.mu.Lock()
	s.started = now
	s.phaseStart = now
	s.mu.Unlock()

	// nodes outlive ctx so the settle period can drain in-flight traffic. A
	// faulted node ends only its own loop; Wait reports the first fault.
	nodeCtx, stopNodes := context.WithCancel(context.WithoutCancel(ctx))
	defer stopNodes()
	var nodes errgroup.Group
	for _, n := range s.nodes {
		nodes.Go(func() error { return n.Run(nodeCtx) })
	}
	s.metrics.SetActiveNodes(len(s.nodes))
	log.Info("simulation started",
		"policy", s.policy.Name(),
		"nodes", len(s.nodes),
		"max_range_m", s.cfg.Radio.MaxRangeM,
		"traffic_interval", s.cfg.Traffic.Interval,
		"duration", s.cfg.Duration,
	)

	pumpCtx, stopPump := context.WithCancel(context.Background())
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.pumpEvents(pumpCtx)
	}()

	trafficCtx := ctx
	if s.cfg.Duration > 0 {
		var cancel context.CancelFunc
		trafficCtx, cancel = context.WithTimeout(ctx, s.cfg.Duration)
		defer cancel()
	}
	s.generate(trafficCtx)

	if ctx.Err() == nil && s.cfg.Settle > 0 {
		log.Info("traffic stopped, letting the network settle", "settle", s.cfg.Settle)
		t := time.NewTimer(s.cfg.Settle)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	stopNodes()
	err := nodes.Wait()
	s.metrics.SetActiveNodes(0)
	s.syncStats()
	s.tick(context.WithoutCancel(ctx))

	stopPump()
	<-pumpDone
	s.flushEvents()

	sum := s.Summary()
	log.Info("simulation complete",
		"policy", sum.Policy,
		"injected", sum.Injected,
		"injected_critical", sum.InjectedCritical,
		"sent", sum.Sent,
		"received", sum.Received,
		"delivered_to_app", sum.DeliveredToApp,
		"dropped", sum.Dropped,
		"transmissions", sum.Transmissions,
		"collisions", sum.Collisions,
		"dropped_out_of_range", sum.DroppedOutOfRange,
	)
	if err != nil {
		log.Error("node fault during the run", "err", err)
	}
	return err
}

// generate injects scenario traffic and writes telemetry rows until ctx is done.
func (s *Simulator) generate(ctx context.Context) {
	traffic := time.NewTicker(s.cfg.Traffic.Interval)
	defer traffic.Stop()
	rows := time.NewTicker(s.cfg.Telemetry.Tick)
	defer rows.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-traffic.C:
			s.advancePhase()
			for i := s.burst(); i > 0; i-- {
				if _, err := s.InjectRandom(ctx, false); err != nil {
					if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
						s.log.Error("traffic injection failed", "err", err)
					}
					break
				}
			}
		case <-rows.C:
			s.tick(ctx)
		}
	}
}

// tick writes one row per node and one network state row.
func (s *Simulator) tick(ctx context.Context) {
	log := logging.FromContext(ctx)
	ts := s.now().UTC()
	s.metrics.SetObservers(s.bus.Observers())

	if s.writer != nil {
		batch := make([]telemetry.NodeRow, 0, len(s.nodes))
		for _, n := range s.nodes {
			batch = append(batch, telemetry.NodeRowFromState(s.runID, n.State(), ts))
		}
		if err := writeNodeRows(s.writer, batch); err != nil {
			log.Error("node row write failed", "err", err)
		}
	}

	if s.stateWriter != nil {
		st := s.env.Stats()
		row := telemetry.NetworkStateRow{
			RunID:             s.runID,
			Policy:            s.policy.Name(),
			Transmissions:     st.Transmissions,
			Collisions:        st.Collisions,
			DroppedOutOfRange: st.DroppedOutOfRange,
			Timestamp:         ts,
		}
		if err := writeStateRows(s.stateWriter, []telemetry.NetworkStateRow{row}); err != nil {
			log.Error("state row write failed", "err", err)
		}
	}
}
