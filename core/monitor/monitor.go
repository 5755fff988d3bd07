// Package monitor tracks batch-level pricing performance over a rolling
// window and warns when thresholds are crossed.
package monitor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"bundle-pricing/internal/logging"
)

// Config configures a Monitor
type Config struct {
	// Window is how many recent batches the snapshot covers
	Window int

	// SlowCalculation triggers a warning when the mean item latency of
	// the window exceeds it
	SlowCalculation time.Duration

	// MinHitRate triggers a warning when the window hit rate drops below it
	MinHitRate float64

	// HitLatency is the per-item latency a cache hit is assumed to take.
	// It drives the hit ratio estimate when exact counts are unknown.
	HitLatency time.Duration

	// MinBatchesForWarning suppresses warnings until the window holds
	// this many batches
	MinBatchesForWarning int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Window:               100,
		SlowCalculation:      250 * time.Millisecond,
		MinHitRate:           0.2,
		HitLatency:           2 * time.Millisecond,
		MinBatchesForWarning: 10,
	}
}

// BatchStats describes one dispatched batch
type BatchStats struct {
	// Size is the number of requests collected in the batch
	Size int

	// Duration is the wall time to resolve the batch
	Duration time.Duration

	// Hits is the number of requests served from cache. Ignored unless
	// HitsKnown is set.
	Hits      int
	HitsKnown bool

	// Errors is the number of requests that failed
	Errors int
}

type record struct {
	BatchStats
	hitRatio  float64
	estimated bool
	at        time.Time
}

// Snapshot summarizes the rolling window
type Snapshot struct {
	Batches         int           `json:"batches"`
	TotalRequests   int           `json:"totalRequests"`
	AvgBatchSize    float64       `json:"avgBatchSize"`
	AvgBatchTime    time.Duration `json:"avgBatchTimeNs"`
	AvgItemLatency  time.Duration `json:"avgItemLatencyNs"`
	HitRate         float64       `json:"hitRate"`
	EstimatedHits   bool          `json:"estimatedHits"`
	Errors          int           `json:"errors"`
	ErrorRate       float64       `json:"errorRate"`
	LifetimeBatches int64         `json:"lifetimeBatches"`
	LastBatchAt     *time.Time    `json:"lastBatchAt,omitempty"`
}

// Monitor records batch statistics. It is safe for concurrent use.
type Monitor struct {
	config  Config
	metrics *Metrics
	logger  *zap.Logger
	clock   func() time.Time

	mu       sync.Mutex
	window   []record
	next     int
	lifetime int64
}

// New creates a monitor. Metrics are registered on reg when it is non-nil.
func New(config Config, reg prometheus.Registerer, logger *zap.Logger) *Monitor {
	def := DefaultConfig()
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.HitLatency <= 0 {
		config.HitLatency = def.HitLatency
	}
	return &Monitor{
		config:  config,
		metrics: NewMetrics("", reg),
		logger:  logging.Component(logger, "monitor"),
		clock:   time.Now,
		window:  make([]record, 0, config.Window),
	}
}

// RecordBatch adds a batch to the window and updates metrics
func (m *Monitor) RecordBatch(stats BatchStats) {
	if stats.Size <= 0 {
		return
	}

	rec := record{BatchStats: stats, at: m.clock()}
	if stats.HitsKnown {
		rec.hitRatio = float64(stats.Hits) / float64(stats.Size)
	} else {
		rec.hitRatio = m.estimateHitRatio(stats)
		rec.estimated = true
	}

	m.mu.Lock()
	if len(m.window) < m.config.Window {
		m.window = append(m.window, rec)
	} else {
		m.window[m.next] = rec
	}
	m.next = (m.next + 1) % m.config.Window
	m.lifetime++
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.observe(rec, snap)
	m.checkThresholds(snap)
}

// estimateHitRatio guesses the share of hits from mean item latency:
// a batch whose items average HitLatency or less counts as all hits.
func (m *Monitor) estimateHitRatio(stats BatchStats) float64 {
	mean := stats.Duration / time.Duration(stats.Size)
	if mean <= m.config.HitLatency {
		return 1
	}
	return float64(m.config.HitLatency) / float64(mean)
}

// Snapshot returns a summary of the rolling window
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Reset clears the window
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = m.window[:0]
	m.next = 0
}

func (m *Monitor) snapshotLocked() Snapshot {
	snap := Snapshot{Batches: len(m.window), LifetimeBatches: m.lifetime}
	if len(m.window) == 0 {
		return snap
	}

	var (
		total time.Duration
		hits  float64
		last  time.Time
	)
	for _, r := range m.window {
		snap.TotalRequests += r.Size
		snap.Errors += r.Errors
		total += r.Duration
		hits += r.hitRatio * float64(r.Size)
		if r.estimated {
			snap.EstimatedHits = true
		}
		if r.at.After(last) {
			last = r.at
		}
	}

	snap.AvgBatchSize = float64(snap.TotalRequests) / float64(snap.Batches)
	snap.AvgBatchTime = total / time.Duration(snap.Batches)
	snap.AvgItemLatency = total / time.Duration(snap.TotalRequests)
	snap.HitRate = hits / float64(snap.TotalRequests)
	snap.ErrorRate = float64(snap.Errors) / float64(snap.TotalRequests)
	snap.LastBatchAt = &last
	return snap
}

func (m *Monitor) observe(rec record, snap Snapshot) {
	m.metrics.BatchesTotal.Inc()
	m.metrics.BatchSize.Observe(float64(rec.Size))
	m.metrics.BatchDuration.Observe(rec.Duration.Seconds())
	m.metrics.ItemLatency.Observe((rec.Duration / time.Duration(rec.Size)).Seconds())
	m.metrics.ErrorsTotal.Add(float64(rec.Errors))
	if rec.HitsKnown {
		m.metrics.ItemsTotal.WithLabelValues("hit").Add(float64(rec.Hits))
		m.metrics.ItemsTotal.WithLabelValues("miss").Add(float64(rec.Size - rec.Hits))
	} else {
		m.metrics.ItemsTotal.WithLabelValues("unknown").Add(float64(rec.Size))
	}
	m.metrics.HitRatio.Set(snap.HitRate)
}

func (m *Monitor) checkThresholds(snap Snapshot) {
	if snap.Batches < m.config.MinBatchesForWarning {
		return
	}
	if m.config.SlowCalculation > 0 && snap.AvgItemLatency > m.config.SlowCalculation {
		m.metrics.WarningTotal.WithLabelValues("slow_calculation").Inc()
		m.logger.Warn("average calculation time above threshold",
			zap.Duration("avg_item_latency", snap.AvgItemLatency),
			zap.Duration("threshold", m.config.SlowCalculation),
			zap.Int("batches", snap.Batches),
		)
	}
	if m.config.MinHitRate > 0 && snap.HitRate < m.config.MinHitRate {
		m.metrics.WarningTotal.WithLabelValues("low_hit_rate").Inc()
		m.logger.Warn("cache hit rate below threshold",
			zap.Float64("hit_rate", snap.HitRate),
			zap.Float64("threshold", m.config.MinHitRate),
			zap.Bool("estimated", snap.EstimatedHits),
		)
	}
}
