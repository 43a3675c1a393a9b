package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SimCollector exposes event-loop metrics of a simulation run.
type SimCollector struct {
	gatherer prometheus.Gatherer

	EventsProcessed prometheus.Counter
	EventsPending   prometheus.Gauge
	ActiveNodes     prometheus.Gauge
	SimElapsed      prometheus.Gauge
	LinkTransitions *prometheus.CounterVec
	RunDuration     prometheus.Histogram
}

// NewSimCollector registers simulation metrics against the provided registerer.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	processed, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_events_processed_total",
		Help: "Simulation events executed by the scheduler.",
	}), "swarm_events_processed_total")
	if err != nil {
		return nil, err
	}

	pending, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_events_pending",
		Help: "Events queued in the scheduler.",
	}), "swarm_events_pending")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_active_nodes",
		Help: "Nodes currently inside their active window.",
	}), "swarm_active_nodes")
	if err != nil {
		return nil, err
	}

	elapsed, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_sim_elapsed_seconds",
		Help: "Simulation time elapsed since the scenario epoch.",
	}), "swarm_sim_elapsed_seconds")
	if err != nil {
		return nil, err
	}

	links, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_link_transitions_total",
		Help: "Link state changes applied from the connectivity schedule, labeled by new state.",
	}, []string{"state"}), "swarm_link_transitions_total")
	if err != nil {
		return nil, err
	}

	runDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "swarm_run_duration_seconds",
		Help:    "Wall-clock duration of simulation runs.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}), "swarm_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:        gatherer,
		EventsProcessed: processed,
		EventsPending:   pending,
		ActiveNodes:     active,
		SimElapsed:      elapsed,
		LinkTransitions: links,
		RunDuration:     runDuration,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// EventProcessed counts one executed event and records the remaining queue
// depth.
func (c *SimCollector) EventProcessed(pending int) {
	if c == nil {
		return
	}
	c.EventsProcessed.Inc()
	c.EventsPending.Set(float64(pending))
}

// SetActiveNodes updates the active node gauge.
func (c *SimCollector) SetActiveNodes(count int) {
	if c == nil {
		return
	}
	c.ActiveNodes.Set(float64(count))
}

// SetSimElapsed records how far simulation time has moved.
func (c *SimCollector) SetSimElapsed(d time.Duration) {
	if c == nil {
		return
	}
	c.SimElapsed.Set(d.Seconds())
}

// LinkTransition counts n links switching to the given state.
func (c *SimCollector) LinkTransition(alive bool, n int) {
	if c == nil || n <= 0 {
		return
	}
	state := "down"
	if alive {
		state = "up"
	}
	c.LinkTransitions.WithLabelValues(state).Add(float64(n))
}

// ObserveRun records the wall-clock duration of a run.
func (c *SimCollector) ObserveRun(d time.Duration) {
	if c == nil {
		return
	}
	c.RunDuration.Observe(d.Seconds())
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
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
