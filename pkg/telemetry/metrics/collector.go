package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision labels for the charge counter.
const (
	DecisionAccepted  = "accepted"
	DecisionRejected  = "rejected"
	DecisionSuspended = "suspended"
	DecisionError     = "error"
)

// Config contains configuration for the metrics collector.
type Config struct {
	// Namespace is the metric name prefix. Default: "meridian"
	Namespace string
}

// Collector tracks metering metrics.
//
// Metrics:
//   - meridian_cost_total: Total charged cost in USD by model
//   - meridian_cost_per_request: Cost distribution per charge (histogram)
//   - meridian_charges_total: Charge decisions by outcome
//   - meridian_charge_duration_seconds: Ledger charge latency
//   - meridian_stream_fragments: Fragments per collected stream (histogram)
type Collector struct {
	registry *prometheus.Registry

	costTotal       *prometheus.CounterVec
	costPerRequest  *prometheus.HistogramVec
	chargesTotal    *prometheus.CounterVec
	chargeDuration  prometheus.Histogram
	streamFragments prometheus.Histogram
}

// NewCollector creates a collector with its own registry.
func NewCollector(cfg *Config) *Collector {
	namespace := "meridian"
	if cfg != nil && cfg.Namespace != "" {
		namespace = cfg.Namespace
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),

		costTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cost_total",
				Help:      "Total charged cost in USD by model",
			},
			[]string{"model"},
		),

		costPerRequest: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cost_per_request",
				Help:      "Cost distribution per charge in USD",
				// Cost buckets: $0.001 to $10 (optimized for LLM pricing)
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"model"},
		),

		chargesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "charges_total",
				Help:      "Charge decisions by outcome",
			},
			[]string{"decision"},
		),

		chargeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "charge_duration_seconds",
				Help:      "Ledger charge transaction latency",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),

		streamFragments: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stream_fragments",
				Help:      "Content fragments per collected stream",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
	}

	c.registry.MustRegister(
		c.costTotal,
		c.costPerRequest,
		c.chargesTotal,
		c.chargeDuration,
		c.streamFragments,
	)
	return c
}

// RecordCharge records one settled charge decision.
func (c *Collector) RecordCharge(model, decision string, costUSD float64, duration time.Duration) {
	c.chargesTotal.WithLabelValues(decision).Inc()
	c.chargeDuration.Observe(duration.Seconds())

	if decision == DecisionAccepted && costUSD > 0 {
		c.costTotal.WithLabelValues(model).Add(costUSD)
		c.costPerRequest.WithLabelValues(model).Observe(costUSD)
	}
}

// RecordStream records the shape of one collected stream.
func (c *Collector) RecordStream(fragments int) {
	c.streamFragments.Observe(float64(fragments))
}

// Registry exposes the underlying registry for test assertions.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the Prometheus exposition endpoint for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
