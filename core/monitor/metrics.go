package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors fed by a Monitor
type Metrics struct {
	// Batch metrics
	BatchesTotal  prometheus.Counter
	BatchSize     prometheus.Histogram
	BatchDuration prometheus.Histogram

	// Calculation metrics
	ItemsTotal   *prometheus.CounterVec
	ErrorsTotal  prometheus.Counter
	ItemLatency  prometheus.Histogram
	HitRatio     prometheus.Gauge
	WarningTotal *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg creates
// unregistered collectors.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "bundle_pricing"
	}
	factory := promauto.With(reg)

	return &Metrics{
		BatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batching",
			Name:      "batches_total",
			Help:      "Total number of dispatched pricing batches",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batching",
			Name:      "batch_size",
			Help:      "Number of requests collected per batch",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batching",
			Name:      "batch_duration_seconds",
			Help:      "Wall time to resolve a batch in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		ItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "calculations_total",
			Help:      "Total number of priced requests by cache outcome",
		}, []string{"outcome"}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "calculation_errors_total",
			Help:      "Total number of failed calculations",
		}),
		ItemLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "item_latency_seconds",
			Help:      "Mean per-request latency of each batch in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		HitRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hit_ratio",
			Help:      "Cache hit ratio over the rolling window",
		}),
		WarningTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "threshold_warnings_total",
			Help:      "Total number of threshold warnings by kind",
		}, []string{"kind"}),
	}
}
