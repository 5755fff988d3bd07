package batching

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bundle-pricing/core/cache"
	"bundle-pricing/core/monitor"
	"bundle-pricing/core/types"
	"bundle-pricing/internal/errors"
)

type fakeCalculator struct {
	calls   int32
	delay   time.Duration
	release chan struct{}
}

func (f *fakeCalculator) Calculate(ctx context.Context, facts types.RequestFacts) (*types.PricingBreakdown, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.release != nil {
		<-f.release
	}
	time.Sleep(f.delay)
	if facts.BundleID == "missing" {
		return nil, errors.NotFound("bundle", facts.BundleID)
	}
	if facts.BundleID == "panic" {
		panic("catalog exploded")
	}
	return &types.PricingBreakdown{
		BundleID:   facts.BundleID,
		PriceState: types.PriceState{FinalPrice: decimal.NewFromInt(int64(facts.ValidityDays))},
	}, nil
}

type recorder struct {
	mu      sync.Mutex
	delay   time.Duration
	batches []monitor.BatchStats
}

func (r *recorder) RecordBatch(stats monitor.BatchStats) {
	time.Sleep(r.delay)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, stats)
}

func (r *recorder) all() []monitor.BatchStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]monitor.BatchStats(nil), r.batches...)
}

func facts(bundleID string, countries ...string) types.RequestFacts {
	return types.RequestFacts{BundleID: bundleID, ValidityDays: 7, Countries: countries}
}

func testConfig() Config {
	return Config{Window: 20 * time.Millisecond, Logger: zap.NewNop()}
}

func TestLoadDeduplicatesWithinWindow(t *testing.T) {
	calc := &fakeCalculator{}
	rec := &recorder{}
	loader := NewLoader(calc, nil, rec, testConfig())

	const callers = 10
	results := make([]*types.PricingBreakdown, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// same country set in different orders shares one fingerprint
			countries := []string{"IL", "US"}
			if i%2 == 1 {
				countries = []string{"US", "IL"}
			}
			bd, err := loader.Load(context.Background(), facts("b1", countries...))
			assert.NoError(t, err)
			results[i] = bd
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calc.calls))
	for _, bd := range results {
		assert.Same(t, results[0], bd)
	}

	batches := rec.all()
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].Size)
}

func TestStatsRecordedBeforeLoadReturns(t *testing.T) {
	rec := &recorder{delay: 30 * time.Millisecond}
	loader := NewLoader(&fakeCalculator{}, nil, rec, testConfig())

	_, err := loader.Load(context.Background(), facts("b1", "IL"))
	require.NoError(t, err)
	require.Len(t, rec.all(), 1)

	results := loader.LoadMany(context.Background(), []types.RequestFacts{facts("b2", "GR"), facts("b3", "US")})
	require.Len(t, results, 2)
	assert.GreaterOrEqual(t, len(rec.all()), 2)
}

func TestLoadMemoizesAcrossWindows(t *testing.T) {
	calc := &fakeCalculator{}
	loader := NewLoader(calc, nil, nil, testConfig())

	first, err := loader.Load(context.Background(), facts("b1", "IL"))
	require.NoError(t, err)
	second, err := loader.Load(context.Background(), facts("b1", "IL"))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calc.calls))
}

func TestLoadManyIsolatesFailures(t *testing.T) {
	calc := &fakeCalculator{}
	rec := &recorder{}
	loader := NewLoader(calc, nil, rec, testConfig())

	results := loader.LoadMany(context.Background(), []types.RequestFacts{
		facts("b1", "IL"),
		facts("missing", "IL"),
		facts("b3", "GR"),
		facts("panic", "FR"),
	})
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, "b1", results[0].Breakdown.BundleID)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "b3", results[2].Breakdown.BundleID)

	require.Error(t, results[1].Err)
	assert.Nil(t, results[1].Breakdown)
	assert.True(t, errors.IsType(results[1].Err, errors.TypeBatchPartialFailure))
	assert.True(t, errors.IsType(results[1].Err, errors.TypeNotFound))
	assert.Equal(t, "pricing:missing:7:IL:none::default:none:anonymous", results[1].Key)

	require.Error(t, results[3].Err)
	assert.True(t, errors.IsType(results[3].Err, errors.TypeInternal))

	batches := rec.all()
	require.Len(t, batches, 1)
	assert.Equal(t, 4, batches[0].Size)
	assert.Equal(t, 2, batches[0].Errors)
}

func TestLoadRejectsInvalidFactsBeforeQueueing(t *testing.T) {
	calc := &fakeCalculator{}
	loader := NewLoader(calc, nil, nil, testConfig())

	_, err := loader.Load(context.Background(), types.RequestFacts{BundleID: "b1"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeValidation))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calc.calls))
}

func TestLoadUsesCache(t *testing.T) {
	store := cache.NewMemoryStore()
	c := cache.New(store, cache.Options{TTL: time.Minute, Logger: zap.NewNop()})
	calc := &fakeCalculator{}

	_, err := NewLoader(calc, c, nil, testConfig()).Load(context.Background(), facts("b1", "IL"))
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	// a later request gets its own loader but shares the store
	rec := &recorder{}
	bd, err := NewLoader(calc, c, rec, testConfig()).Load(context.Background(), facts("b1", "IL"))
	require.NoError(t, err)
	assert.Equal(t, "b1", bd.BundleID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calc.calls))

	batches := rec.all()
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].Hits)
}

type unavailableStore struct{}

func (unavailableStore) Get(context.Context, string) (*cache.Entry, error) {
	return nil, fmt.Errorf("dial tcp: connection refused")
}

func (unavailableStore) Set(context.Context, *cache.Entry) error {
	return fmt.Errorf("dial tcp: connection refused")
}

func (unavailableStore) DeleteMatching(context.Context, func(string) bool) (int, error) {
	return 0, fmt.Errorf("dial tcp: connection refused")
}

func (unavailableStore) Sweep(context.Context, time.Time, time.Duration) (int, error) {
	return 0, fmt.Errorf("dial tcp: connection refused")
}

func TestLoadDegradesWhenCacheUnavailable(t *testing.T) {
	calc := &fakeCalculator{}
	c := cache.New(unavailableStore{}, cache.Options{Logger: zap.NewNop()})
	loader := NewLoader(calc, c, nil, testConfig())

	bd, err := loader.Load(context.Background(), facts("b1", "IL"))
	require.NoError(t, err)
	assert.Equal(t, "b1", bd.BundleID)
}

func TestLoadDispatchesEarlyAtMaxBatch(t *testing.T) {
	calc := &fakeCalculator{}
	rec := &recorder{}
	loader := NewLoader(calc, nil, rec, Config{Window: time.Hour, MaxBatch: 2, Logger: zap.NewNop()})

	results := loader.LoadMany(context.Background(), []types.RequestFacts{
		facts("b1", "IL"),
		facts("b2", "IL"),
	})
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
	assert.Len(t, rec.all(), 1)
}

func TestLoadHonoursCallerCancellation(t *testing.T) {
	calc := &fakeCalculator{release: make(chan struct{})}
	loader := NewLoader(calc, nil, nil, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := loader.Load(ctx, facts("b1", "IL"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the shared calculation still completes for later callers
	close(calc.release)
	bd, err := loader.Load(context.Background(), facts("b1", "IL"))
	require.NoError(t, err)
	assert.Equal(t, "b1", bd.BundleID)
}
