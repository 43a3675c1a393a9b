package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/leo-swarm-router/internal/routing"
	"github.com/signalsfoundry/leo-swarm-router/model"
)

// RoutingCollector bundles Prometheus metrics for packet forwarding. It
// implements routing.Telemetry so nodes drive it directly.
type RoutingCollector struct {
	gatherer prometheus.Gatherer

	DeliveredTotal  prometheus.Counter
	DuplicatesTotal prometheus.Counter
	OriginatedPkts  prometheus.Counter
	OriginatedBytes prometheus.Counter
	ForwardedTotal  *prometheus.CounterVec
	DroppedTotal    *prometheus.CounterVec
	DeliveryLatency prometheus.Histogram
	DeliveryHops    prometheus.Histogram
	NodeSent        *prometheus.GaugeVec
	NodeReceived    *prometheus.GaugeVec
}

var _ routing.Telemetry = (*RoutingCollector)(nil)

// NewRoutingCollector registers routing metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewRoutingCollector(reg prometheus.Registerer) (*RoutingCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	delivered, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_packets_delivered_total",
		Help: "Packets counted as received by an active node.",
	}), "swarm_packets_delivered_total")
	if err != nil {
		return nil, err
	}
	duplicates, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_packets_duplicate_total",
		Help: "Copies reaching an active node that had already counted the packet.",
	}), "swarm_packets_duplicate_total")
	if err != nil {
		return nil, err
	}
	originatedPkts, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_packets_originated_total",
		Help: "Packets created from traffic units.",
	}), "swarm_packets_originated_total")
	if err != nil {
		return nil, err
	}
	originatedBytes, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_bytes_originated_total",
		Help: "Traffic amount turned into packets.",
	}), "swarm_bytes_originated_total")
	if err != nil {
		return nil, err
	}

	forwarded, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_packets_forwarded_total",
		Help: "Packet copies handed to a live link, labeled by direction.",
	}, []string{"direction"}), "swarm_packets_forwarded_total")
	if err != nil {
		return nil, err
	}
	dropped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_packets_dropped_total",
		Help: "Packet copies discarded or not sent, labeled by reason.",
	}, []string{"reason"}), "swarm_packets_dropped_total")
	if err != nil {
		return nil, err
	}

	latency, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "swarm_delivery_latency_seconds",
		Help:    "Simulated time from packet creation to first delivery.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}), "swarm_delivery_latency_seconds")
	if err != nil {
		return nil, err
	}
	hops, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "swarm_delivery_hops",
		Help:    "Hop count of delivered packets.",
		Buckets: prometheus.LinearBuckets(1, 2, 12),
	}), "swarm_delivery_hops")
	if err != nil {
		return nil, err
	}

	sent, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "swarm_node_packets_sent",
		Help: "Packets originated per node at the end of the run.",
	}, []string{"node"}), "swarm_node_packets_sent")
	if err != nil {
		return nil, err
	}
	received, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "swarm_node_packets_received",
		Help: "Distinct packets received per node at the end of the run.",
	}, []string{"node"}), "swarm_node_packets_received")
	if err != nil {
		return nil, err
	}

	return &RoutingCollector{
		gatherer:        gatherer,
		DeliveredTotal:  delivered,
		DuplicatesTotal: duplicates,
		OriginatedPkts:  originatedPkts,
		OriginatedBytes: originatedBytes,
		ForwardedTotal:  forwarded,
		DroppedTotal:    dropped,
		DeliveryLatency: latency,
		DeliveryHops:    hops,
		NodeSent:        sent,
		NodeReceived:    received,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RoutingCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *RoutingCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Delivered records a first delivery.
func (c *RoutingCollector) Delivered(_ context.Context, d routing.Delivery) {
	if c == nil {
		return
	}
	c.DeliveredTotal.Inc()
	c.DeliveryLatency.Observe(d.Latency().Seconds())
	c.DeliveryHops.Observe(float64(d.HopCount))
}

// Duplicate counts a copy that was already seen.
func (c *RoutingCollector) Duplicate(context.Context, model.Address, model.DedupKey) {
	if c == nil {
		return
	}
	c.DuplicatesTotal.Inc()
}

// Originated records the packets created for one traffic unit.
func (c *RoutingCollector) Originated(_ context.Context, o routing.Origination) {
	if c == nil {
		return
	}
	c.OriginatedPkts.Add(float64(o.Packets))
	c.OriginatedBytes.Add(float64(o.Bytes))
}

// Forwarded counts a copy handed to the link in dir.
func (c *RoutingCollector) Forwarded(dir model.Direction) {
	if c == nil {
		return
	}
	c.ForwardedTotal.WithLabelValues(dir.String()).Inc()
}

// Dropped counts a discarded or unsent copy.
func (c *RoutingCollector) Dropped(reason routing.DropReason) {
	if c == nil {
		return
	}
	c.DroppedTotal.WithLabelValues(string(reason)).Inc()
}

// NodeTotals publishes a node's final counters.
func (c *RoutingCollector) NodeTotals(_ context.Context, node model.Address, sent, received int) {
	if c == nil {
		return
	}
	label := strconv.Itoa(int(node))
	c.NodeSent.WithLabelValues(label).Set(float64(sent))
	c.NodeReceived.WithLabelValues(label).Set(float64(received))
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

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
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
