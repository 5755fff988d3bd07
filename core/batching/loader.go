// Package batching coalesces identical pricing requests made while
// serving one inbound request.
//
// A Loader collects Load calls for a short window, then resolves every
// distinct fingerprint exactly once, consulting the advisory cache first.
// Create one Loader per inbound request and pass it down to every nested
// calculation.
package batching

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bundle-pricing/core/cache"
	"bundle-pricing/core/engine"
	"bundle-pricing/core/monitor"
	"bundle-pricing/core/types"
	"bundle-pricing/internal/errors"
	"bundle-pricing/internal/logging"
)

// Calculator prices one request. *engine.Engine implements it.
type Calculator interface {
	Calculate(ctx context.Context, facts types.RequestFacts) (*types.PricingBreakdown, error)
}

// Recorder receives per-batch statistics. *monitor.Monitor implements it.
type Recorder interface {
	RecordBatch(stats monitor.BatchStats)
}

// Config configures a Loader
type Config struct {
	// Window is how long calls are collected before dispatch
	Window time.Duration

	// MaxBatch dispatches early once this many distinct keys are pending
	MaxBatch int

	// MaxConcurrency bounds concurrent calculations within a batch
	MaxConcurrency int

	// Logger defaults to the global logger
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Window:         2 * time.Millisecond,
		MaxBatch:       100,
		MaxConcurrency: 8,
	}
}

// Result is the outcome of one key of LoadMany
type Result struct {
	Key       string                  `json:"key"`
	Breakdown *types.PricingBreakdown `json:"breakdown,omitempty"`
	Err       error                   `json:"-"`
}

// call is one distinct fingerprint, shared by every caller that asked for it
type call struct {
	key   string
	facts types.RequestFacts
	ctx   context.Context
	done  chan struct{}

	breakdown *types.PricingBreakdown
	err       error
	hit       bool
}

// Loader is a request-scoped batching cache. It is safe for concurrent use.
type Loader struct {
	calc     Calculator
	cache    *cache.Cache
	recorder Recorder
	config   Config
	logger   *zap.Logger

	mu      sync.Mutex
	memo    map[string]*call
	pending []*call
	timer   *time.Timer
}

// NewLoader creates a loader. cache and recorder may be nil.
func NewLoader(calc Calculator, c *cache.Cache, recorder Recorder, config Config) *Loader {
	def := DefaultConfig()
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.MaxBatch <= 0 {
		config.MaxBatch = def.MaxBatch
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}
	return &Loader{
		calc:     calc,
		cache:    c,
		recorder: recorder,
		config:   config,
		logger:   logging.Component(config.Logger, "loader"),
		memo:     make(map[string]*call),
	}
}

// Load prices facts. Callers asking for the same fingerprint through this
// loader share one calculation and receive the same result or error.
// Invalid facts are rejected before anything is queued.
func (l *Loader) Load(ctx context.Context, facts types.RequestFacts) (*types.PricingBreakdown, error) {
	if err := engine.Validate(facts); err != nil {
		return nil, err
	}

	c := l.enqueue(ctx, facts)
	select {
	case <-c.done:
		return c.breakdown, c.err
	case <-ctx.Done():
		// the calculation keeps running for the other callers
		return nil, ctx.Err()
	}
}

// LoadMany prices every request in one window. Results are positional;
// a failing key never affects its siblings.
func (l *Loader) LoadMany(ctx context.Context, batch []types.RequestFacts) []Result {
	results := make([]Result, len(batch))

	var wg sync.WaitGroup
	for i, facts := range batch {
		wg.Add(1)
		go func(i int, facts types.RequestFacts) {
			defer wg.Done()
			key := cache.Fingerprint(facts)
			bd, err := l.Load(ctx, facts)
			if err != nil {
				err = errors.Wrapf(errors.TypeBatchPartialFailure, err, "batch item %d failed", i).
					WithContext("key", key)
			}
			results[i] = Result{Key: key, Breakdown: bd, Err: err}
		}(i, facts)
	}
	wg.Wait()
	return results
}

func (l *Loader) enqueue(ctx context.Context, facts types.RequestFacts) *call {
	key := cache.Fingerprint(facts)

	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.memo[key]; ok {
		return c
	}

	c := &call{
		key:   key,
		facts: facts,
		ctx:   context.WithoutCancel(ctx),
		done:  make(chan struct{}),
	}
	l.memo[key] = c
	l.pending = append(l.pending, c)

	if len(l.pending) >= l.config.MaxBatch {
		batch := l.takeLocked()
		go l.dispatch(batch)
	} else if l.timer == nil {
		l.timer = time.AfterFunc(l.config.Window, l.flush)
	}
	return c
}

func (l *Loader) flush() {
	l.mu.Lock()
	batch := l.takeLocked()
	l.mu.Unlock()
	l.dispatch(batch)
}

func (l *Loader) takeLocked() []*call {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	batch := l.pending
	l.pending = nil
	return batch
}

// dispatch resolves a batch with bounded parallelism and records stats.
// Waiters are released only after the stats are recorded.
func (l *Loader) dispatch(batch []*call) {
	if len(batch) == 0 {
		return
	}
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(l.config.MaxConcurrency)
	for _, c := range batch {
		g.Go(func() error {
			l.resolve(c)
			return nil
		})
	}
	_ = g.Wait()

	stats := monitor.BatchStats{
		Size:      len(batch),
		Duration:  time.Since(start),
		HitsKnown: true,
	}
	for _, c := range batch {
		if c.hit {
			stats.Hits++
		}
		if c.err != nil {
			stats.Errors++
		}
	}
	if l.recorder != nil {
		l.recorder.RecordBatch(stats)
	}
	l.logger.Debug("batch dispatched",
		zap.Int("size", stats.Size),
		zap.Int("hits", stats.Hits),
		zap.Int("errors", stats.Errors),
		zap.Duration("took", stats.Duration),
	)

	for _, c := range batch {
		close(c.done)
	}
}

// resolve fills in one call. A panicking calculation becomes an
// internal error on that call only.
func (l *Loader) resolve(c *call) {
	defer func() {
		if p := recover(); p != nil {
			c.breakdown, c.err = nil, errors.Internal("calculation panicked", fmt.Errorf("%v", p))
			l.logger.Error("calculation panicked", logging.Fingerprint(c.key), zap.Any("panic", p))
		}
	}()

	bd, ok, err := l.cache.Get(c.ctx, c.key)
	if err != nil {
		l.logger.Warn("cache read failed, computing directly", logging.Fingerprint(c.key), zap.Error(err))
	}
	if ok {
		c.breakdown, c.hit = bd, true
		return
	}

	c.breakdown, c.err = l.calc.Calculate(c.ctx, c.facts)
	if c.err != nil {
		return
	}
	if err := l.cache.Put(c.ctx, c.key, c.breakdown); err != nil {
		l.logger.Warn("cache write failed", logging.Fingerprint(c.key), zap.Error(err))
	}
}
