package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PlacementCollector exposes metrics of the path catalog, the placement
// algorithms and the batch runner.
type PlacementCollector struct {
	gatherer prometheus.Gatherer

	PathGenerationDuration prometheus.Histogram
	PathCacheHitRatio      prometheus.Gauge
	PlacementDuration      *prometheus.HistogramVec
	BatchDuration          *prometheus.HistogramVec
	BatchRequests          *prometheus.CounterVec
}

// NewPlacementCollector registers placement metrics against the provided registerer.
func NewPlacementCollector(reg prometheus.Registerer) (*PlacementCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	buckets := []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

	pathHistogram, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vne_path_generation_duration_seconds",
		Help:    "Duration of substrate path enumeration.",
		Buckets: buckets,
	}), "vne_path_generation_duration_seconds")
	if err != nil {
		return nil, err
	}

	cacheRatio, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vne_path_cache_hit_ratio",
		Help: "Hit ratio of the path catalog cache.",
	}), "vne_path_cache_hit_ratio")
	if err != nil {
		return nil, err
	}

	placement, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vne_placement_duration_seconds",
		Help:    "Duration of placing one virtual network, labeled by algorithm and outcome.",
		Buckets: buckets,
	}, []string{"algorithm", "outcome"}), "vne_placement_duration_seconds")
	if err != nil {
		return nil, err
	}

	batchDuration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vne_batch_duration_seconds",
		Help:    "Duration of batch runs, labeled by ordering policy.",
		Buckets: buckets,
	}, []string{"policy"}), "vne_batch_duration_seconds")
	if err != nil {
		return nil, err
	}

	batchRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vne_batch_requests_total",
		Help: "Requests handled by batch runs, labeled by policy and outcome.",
	}, []string{"policy", "outcome"}), "vne_batch_requests_total")
	if err != nil {
		return nil, err
	}

	return &PlacementCollector{
		gatherer:               gatherer,
		PathGenerationDuration: pathHistogram,
		PathCacheHitRatio:      cacheRatio,
		PlacementDuration:      placement,
		BatchDuration:          batchDuration,
		BatchRequests:          batchRequests,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PlacementCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObservePathGeneration records a path enumeration duration.
func (c *PlacementCollector) ObservePathGeneration(d time.Duration) {
	if c == nil || c.PathGenerationDuration == nil {
		return
	}
	c.PathGenerationDuration.Observe(d.Seconds())
}

// SetPathCacheHitRatio sets the path cache hit ratio, clamped to [0, 1].
func (c *PlacementCollector) SetPathCacheHitRatio(ratio float64) {
	if c == nil || c.PathCacheHitRatio == nil {
		return
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	c.PathCacheHitRatio.Set(ratio)
}

// ObservePlacement records the duration of one placement attempt.
func (c *PlacementCollector) ObservePlacement(algorithm, outcome string, d time.Duration) {
	if c == nil || c.PlacementDuration == nil {
		return
	}
	c.PlacementDuration.WithLabelValues(algorithm, outcome).Observe(d.Seconds())
}

// ObserveBatch records a finished batch run.
func (c *PlacementCollector) ObserveBatch(policy string, accepted, rejected int, d time.Duration) {
	if c == nil {
		return
	}
	if c.BatchDuration != nil {
		c.BatchDuration.WithLabelValues(policy).Observe(d.Seconds())
	}
	if c.BatchRequests != nil {
		c.BatchRequests.WithLabelValues(policy, "accepted").Add(float64(accepted))
		c.BatchRequests.WithLabelValues(policy, "rejected").Add(float64(rejected))
	}
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
