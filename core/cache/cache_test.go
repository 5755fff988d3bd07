package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bundle-pricing/core/types"
	"bundle-pricing/internal/errors"
)

func TestFingerprintIsOrderInsensitive(t *testing.T) {
	a := Fingerprint(types.RequestFacts{BundleID: "b1", ValidityDays: 7, Countries: []string{"IL", "US"}})
	b := Fingerprint(types.RequestFacts{BundleID: "b1", ValidityDays: 7, Countries: []string{"US", "il"}})
	assert.Equal(t, a, b)
}

func TestFingerprintFormat(t *testing.T) {
	tests := []struct {
		name  string
		facts types.RequestFacts
		want  string
	}{
		{
			name:  "defaults",
			facts: types.RequestFacts{BundleID: "b1", ValidityDays: 7, Countries: []string{"US", "IL"}, PaymentMethod: "ISRAELI_CARD"},
			want:  "pricing:b1:7:IL,US:none:ISRAELI_CARD:default:none:anonymous",
		},
		{
			name: "all facts",
			facts: types.RequestFacts{
				BundleID: "b2", ValidityDays: 30, Region: "europe", PaymentMethod: "AMEX",
				Group: "standard", PromoCode: "SUMMER", UserID: "u1",
			},
			want: "pricing:b2:30::europe:AMEX:standard:SUMMER:u1",
		},
		{
			name:  "delimiters are escaped",
			facts: types.RequestFacts{BundleID: "a:b", ValidityDays: 1, Countries: []string{"IL"}, UserID: "x,y"},
			want:  "pricing:a_b:1:IL:none::default:none:x_y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Fingerprint(tt.facts))
		})
	}
}

func TestParseFingerprint(t *testing.T) {
	parts, err := ParseFingerprint("pricing:b1:7:IL,US:none:ISRAELI_CARD:default:none:u9")
	require.NoError(t, err)
	assert.Equal(t, KeyParts{
		BundleID:      "b1",
		ValidityDays:  7,
		Countries:     []string{"IL", "US"},
		Region:        "none",
		PaymentMethod: "ISRAELI_CARD",
		Group:         "default",
		PromoCode:     "none",
		UserID:        "u9",
	}, parts)
	assert.True(t, parts.HasCountry("us"))

	for _, bad := range []string{"", "pricing:b1", "other:b1:7:IL:none:X:default:none:u", "pricing:b1:seven:IL:none:X:default:none:u"} {
		_, err := ParseFingerprint(bad)
		assert.Error(t, err, bad)
	}
}

func seed(t *testing.T, store Store, facts ...types.RequestFacts) {
	t.Helper()
	c := New(store, Options{TTL: time.Hour})
	for _, f := range facts {
		require.NoError(t, c.Put(context.Background(), Fingerprint(f), &types.PricingBreakdown{BundleID: f.BundleID}))
	}
}

func seededStore(t *testing.T) *MemoryStore {
	store := NewMemoryStore()
	seed(t, store,
		types.RequestFacts{BundleID: "b1", ValidityDays: 7, Countries: []string{"IL"}, PaymentMethod: "ISRAELI_CARD", UserID: "u1"},
		types.RequestFacts{BundleID: "b1", ValidityDays: 7, Countries: []string{"IL", "US"}, PaymentMethod: "AMEX"},
		types.RequestFacts{BundleID: "b2", ValidityDays: 30, Region: "europe", PaymentMethod: "AMEX", UserID: "u1"},
		types.RequestFacts{BundleID: "b3", ValidityDays: 3, Countries: []string{"GR"}, PaymentMethod: "ISRAELI_CARD"},
	)
	return store
}

func TestInvalidator(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		run  func(*Invalidator) (int, error)
		want int
	}{
		{"all", func(i *Invalidator) (int, error) { return i.InvalidateAll(ctx) }, 4},
		{"bundle", func(i *Invalidator) (int, error) { return i.InvalidateBundle(ctx, "b1") }, 2},
		{"country", func(i *Invalidator) (int, error) { return i.InvalidateCountry(ctx, "us") }, 1},
		{"region as country", func(i *Invalidator) (int, error) { return i.InvalidateCountry(ctx, "europe") }, 1},
		{"payment method", func(i *Invalidator) (int, error) { return i.InvalidatePaymentMethod(ctx, "AMEX") }, 2},
		{"user", func(i *Invalidator) (int, error) { return i.InvalidateUser(ctx, "u1") }, 2},
		{"anonymous users", func(i *Invalidator) (int, error) { return i.InvalidateUser(ctx, Anonymous) }, 2},
		{"unknown bundle", func(i *Invalidator) (int, error) { return i.InvalidateBundle(ctx, "nope") }, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seededStore(t)
			n, err := tt.run(NewInvalidator(store, zap.NewNop()))
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
			assert.Equal(t, 4-tt.want, store.Len())
		})
	}
}

func TestInvalidateByRuleChange(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		category types.Category
		entities []string
		want     int
	}{
		{"bundle adjustment", types.CategoryBundleAdjustment, []string{"b2", "b3"}, 2},
		{"region adjustment", types.CategoryRegionAdjustment, []string{"GR"}, 1},
		{"processing fee", types.CategoryProcessingFee, []string{"ISRAELI_CARD"}, 2},
		{"promotion", types.CategoryPromotion, []string{"u1"}, 2},
		{"lowercase category", "user_segment", []string{"u1"}, 2},
		{"global category", types.CategoryMarkup, []string{"b1"}, 4},
		{"no entities", types.CategoryBundleAdjustment, nil, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seededStore(t)
			n, err := NewInvalidator(store, zap.NewNop()).InvalidateByRuleChange(ctx, tt.category, tt.entities)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := New(NewMemoryStore(), Options{TTL: 10 * time.Minute, Clock: func() time.Time { return now }})

	require.NoError(t, c.Put(ctx, "pricing:k", &types.PricingBreakdown{BundleID: "b1"}))

	bd, ok, err := c.Get(ctx, "pricing:k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b1", bd.BundleID)

	now = now.Add(11 * time.Minute)
	_, ok, err = c.Get(ctx, "pricing:k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNilCacheAlwaysMisses(t *testing.T) {
	var c *Cache
	_, ok, err := c.Get(context.Background(), "k")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Put(context.Background(), "k", &types.PricingBreakdown{}))
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Set(ctx, &Entry{Key: "fresh", CreatedAt: base, ExpiresAt: base.Add(24 * time.Hour)}))
	require.NoError(t, store.Set(ctx, &Entry{Key: "expired", CreatedAt: base.Add(-time.Hour), ExpiresAt: base.Add(-time.Minute)}))
	require.NoError(t, store.Set(ctx, &Entry{Key: "stale", CreatedAt: base.Add(-3 * time.Hour), ExpiresAt: base.Add(24 * time.Hour)}))

	stats := store.Stats(base)
	assert.Equal(t, Stats{TotalEntries: 3, ExpiredEntries: 1, StaleEntries: 1}, stats)

	sweeper := NewSweeper(store, time.Minute, 0, zap.NewNop())
	sweeper.clock = func() time.Time { return base }
	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, store.Len())
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (*Entry, error) { return nil, fmt.Errorf("connection refused") }
func (brokenStore) Set(context.Context, *Entry) error           { return fmt.Errorf("connection refused") }
func (brokenStore) DeleteMatching(context.Context, func(string) bool) (int, error) {
	return 0, fmt.Errorf("connection refused")
}
func (brokenStore) Sweep(context.Context, time.Time, time.Duration) (int, error) {
	return 0, fmt.Errorf("connection refused")
}

func TestBackendFailuresAreCacheUnavailable(t *testing.T) {
	ctx := context.Background()
	c := New(brokenStore{}, Options{Logger: zap.NewNop()})

	_, ok, err := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.True(t, errors.IsType(err, errors.TypeCacheUnavailable))

	err = c.Put(ctx, "k", &types.PricingBreakdown{})
	assert.True(t, errors.IsType(err, errors.TypeCacheUnavailable))

	_, err = NewInvalidator(brokenStore{}, zap.NewNop()).InvalidateAll(ctx)
	assert.True(t, errors.IsType(err, errors.TypeCacheUnavailable))
}
