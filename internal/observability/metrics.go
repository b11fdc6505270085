package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

// Utilization dimensions reported by ObserveUtilization.
const (
	DimensionCPU       = "cpu"
	DimensionMemory    = "memory"
	DimensionStorage   = "storage"
	DimensionBandwidth = "bandwidth"
)

// EngineCollector bundles Prometheus metrics for the embedding engine and
// the knowledge base it mutates.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	EmbeddingOperations *prometheus.CounterVec
	FloatingNetworks    prometheus.Gauge

	StoreNetworks prometheus.Gauge
	StoreNodes    prometheus.Gauge
	StoreLinks    prometheus.Gauge
	StorePaths    prometheus.Gauge

	SubstrateUtilization *prometheus.GaugeVec
}

// NewEngineCollector registers engine metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ops, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vne_embedding_operations_total",
		Help: "Embedding engine operations, labeled by operation and outcome.",
	}, []string{"op", "outcome"}), "vne_embedding_operations_total")
	if err != nil {
		return nil, err
	}
	floating, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vne_floating_networks",
		Help: "Virtual networks left without a network-level host by a forced removal.",
	}), "vne_floating_networks")
	if err != nil {
		return nil, err
	}

	gauges := make([]prometheus.Gauge, 0, 4)
	for _, g := range []struct{ name, help string }{
		{"vne_store_networks", "Current number of networks in the knowledge base."},
		{"vne_store_nodes", "Current number of nodes in the knowledge base."},
		{"vne_store_links", "Current number of links in the knowledge base."},
		{"vne_store_paths", "Current number of precomputed paths in the knowledge base."},
	} {
		gauge, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name)
		if err != nil {
			return nil, err
		}
		gauges = append(gauges, gauge)
	}

	util, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vne_substrate_utilization_ratio",
		Help: "Fraction of substrate capacity in use, labeled by network and dimension.",
	}, []string{"network", "dimension"}), "vne_substrate_utilization_ratio")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:             gatherer,
		EmbeddingOperations:  ops,
		FloatingNetworks:     floating,
		StoreNetworks:        gauges[0],
		StoreNodes:           gauges[1],
		StoreLinks:           gauges[2],
		StorePaths:           gauges[3],
		SubstrateUtilization: util,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EngineCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EngineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// IncEmbeddingOperation satisfies embedding.MetricsRecorder.
func (c *EngineCollector) IncEmbeddingOperation(op, outcome string) {
	if c == nil || c.EmbeddingOperations == nil {
		return
	}
	c.EmbeddingOperations.WithLabelValues(op, outcome).Inc()
}

// SetFloatingNetworks satisfies embedding.MetricsRecorder.
func (c *EngineCollector) SetFloatingNetworks(count int) {
	if c == nil || c.FloatingNetworks == nil {
		return
	}
	c.FloatingNetworks.Set(float64(count))
}

// SetStoreCounts drives the entity gauges from a knowledge base count.
func (c *EngineCollector) SetStoreCounts(counts kb.Counts) {
	if c == nil {
		return
	}
	if c.StoreNetworks != nil {
		c.StoreNetworks.Set(float64(counts.Networks))
	}
	if c.StoreNodes != nil {
		c.StoreNodes.Set(float64(counts.Nodes))
	}
	if c.StoreLinks != nil {
		c.StoreLinks.Set(float64(counts.Links))
	}
	if c.StorePaths != nil {
		c.StorePaths.Set(float64(counts.Paths))
	}
}

// ObserveUtilization sets the utilization gauges of every substrate
// network in the snapshot. Dimensions without capacity report zero.
func (c *EngineCollector) ObserveUtilization(snap *kb.Snapshot) {
	if c == nil || c.SubstrateUtilization == nil || snap == nil {
		return
	}
	type usage struct{ capacity, residual model.Resources }
	type bw struct{ capacity, residual int64 }
	servers := map[string]*usage{}
	links := map[string]*bw{}
	for _, n := range snap.Networks {
		if n.Kind == model.NetworkSubstrate {
			servers[n.ID] = &usage{}
			links[n.ID] = &bw{}
		}
	}
	for _, n := range snap.Nodes {
		u, ok := servers[n.NetworkID]
		if !ok || !n.IsServer() {
			continue
		}
		u.capacity = u.capacity.Add(n.Server.Capacity)
		u.residual = u.residual.Add(n.Server.Residual)
	}
	for _, l := range snap.Links {
		b, ok := links[l.NetworkID]
		if !ok {
			continue
		}
		b.capacity += l.Bandwidth
		b.residual += l.Residual
	}
	for id, u := range servers {
		c.SubstrateUtilization.WithLabelValues(id, DimensionCPU).Set(ratio(u.capacity.CPU, u.residual.CPU))
		c.SubstrateUtilization.WithLabelValues(id, DimensionMemory).Set(ratio(u.capacity.Memory, u.residual.Memory))
		c.SubstrateUtilization.WithLabelValues(id, DimensionStorage).Set(ratio(u.capacity.Storage, u.residual.Storage))
		b := links[id]
		c.SubstrateUtilization.WithLabelValues(id, DimensionBandwidth).Set(ratio(b.capacity, b.residual))
	}
}

func ratio(capacity, residual int64) float64 {
	if capacity <= 0 {
		return 0
	}
	return float64(capacity-residual) / float64(capacity)
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

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
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
