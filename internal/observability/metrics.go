// Package observability exposes Prometheus metrics and OpenTelemetry tracing
// for the mesh simulator.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MeshCollector bundles the radio and routing metrics. It satisfies both
// radio.Recorder and mesh.DecisionRecorder so the environment and policies
// can drive it directly.
type MeshCollector struct {
	gatherer prometheus.Gatherer

	Transmissions     prometheus.Counter
	Collisions        prometheus.Counter
	DroppedOutOfRange prometheus.Counter
	Deliveries        prometheus.Counter
	RSSI              prometheus.Histogram
	SNR               prometheus.Histogram

	Decisions *prometheus.CounterVec

	ActiveNodes   prometheus.Gauge
	Observers     prometheus.Gauge
	InjectedTotal *prometheus.CounterVec
}

// NewMeshCollector registers the metrics against reg, defaulting to the
// global registry when nil. Registering twice against one registry reuses the
// existing collectors.
func NewMeshCollector(reg prometheus.Registerer) (*MeshCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &MeshCollector{gatherer: gatherer}
	var err error

	if c.Transmissions, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mesh_radio_transmissions_total",
		Help: "Broadcast attempts on the shared medium.",
	}), "mesh_radio_transmissions_total"); err != nil {
		return nil, err
	}
	if c.Collisions, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mesh_radio_collisions_total",
		Help: "Deliveries lost because the recipient mailbox was congested.",
	}), "mesh_radio_collisions_total"); err != nil {
		return nil, err
	}
	if c.DroppedOutOfRange, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mesh_radio_dropped_out_of_range_total",
		Help: "Recipients skipped because they were beyond the maximum range.",
	}), "mesh_radio_dropped_out_of_range_total"); err != nil {
		return nil, err
	}
	if c.Deliveries, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mesh_radio_deliveries_total",
		Help: "Packet copies enqueued into a recipient mailbox.",
	}), "mesh_radio_deliveries_total"); err != nil {
		return nil, err
	}
	if c.RSSI, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mesh_radio_rssi_dbm",
		Help:    "Received signal strength of delivered copies.",
		Buckets: prometheus.LinearBuckets(-120, 10, 12),
	}), "mesh_radio_rssi_dbm"); err != nil {
		return nil, err
	}
	if c.SNR, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mesh_radio_snr_db",
		Help:    "Signal-to-noise ratio of delivered copies.",
		Buckets: prometheus.LinearBuckets(-20, 5, 7),
	}), "mesh_radio_snr_db"); err != nil {
		return nil, err
	}

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mesh_routing_decisions_total",
		Help: "Routing outcomes, labeled by policy, action and congestion tag.",
	}, []string{"policy", "action", "congestion"})
	if c.Decisions, err = registerCounterVec(reg, decisions, "mesh_routing_decisions_total"); err != nil {
		return nil, err
	}

	if c.ActiveNodes, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mesh_active_nodes",
		Help: "Node loops currently running.",
	}), "mesh_active_nodes"); err != nil {
		return nil, err
	}
	if c.Observers, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mesh_state_observers",
		Help: "Registered state observers.",
	}), "mesh_state_observers"); err != nil {
		return nil, err
	}

	injected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mesh_injected_messages_total",
		Help: "Messages injected by the traffic generator, labeled by class.",
	}, []string{"class"})
	if c.InjectedTotal, err = registerCounterVec(reg, injected, "mesh_injected_messages_total"); err != nil {
		return nil, err
	}

	return c, nil
}

// Transmission implements radio.Recorder.
func (c *MeshCollector) Transmission() {
	if c == nil {
		return
	}
	c.Transmissions.Inc()
}

// Collision implements radio.Recorder.
func (c *MeshCollector) Collision() {
	if c == nil {
		return
	}
	c.Collisions.Inc()
}

// OutOfRange implements radio.Recorder.
func (c *MeshCollector) OutOfRange() {
	if c == nil {
		return
	}
	c.DroppedOutOfRange.Inc()
}

// Delivered implements radio.Recorder.
func (c *MeshCollector) Delivered(rssi, snr float64) {
	if c == nil {
		return
	}
	c.Deliveries.Inc()
	c.RSSI.Observe(rssi)
	c.SNR.Observe(snr)
}

// Decision implements mesh.DecisionRecorder.
func (c *MeshCollector) Decision(policy, action, congestion string) {
	if c == nil {
		return
	}
	c.Decisions.WithLabelValues(policy, action, congestion).Inc()
}

// Injected counts one generated message of the given class.
func (c *MeshCollector) Injected(class string) {
	if c == nil {
		return
	}
	c.InjectedTotal.WithLabelValues(class).Inc()
}

// SetActiveNodes records the number of running node loops.
func (c *MeshCollector) SetActiveNodes(n int) {
	if c == nil {
		return
	}
	c.ActiveNodes.Set(float64(n))
}

// SetObservers records the number of registered state observers.
func (c *MeshCollector) SetObservers(n int) {
	if c == nil {
		return
	}
	c.Observers.Set(float64(n))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *MeshCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
