package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bundle-pricing/core/types"
	"bundle-pricing/internal/errors"
	"bundle-pricing/internal/logging"
)

// DefaultStaleAfter bounds the age of any entry regardless of its TTL
const DefaultStaleAfter = 2 * time.Hour

// Entry is a memoized breakdown
type Entry struct {
	// Key is the request fingerprint
	Key string `json:"key"`

	// Breakdown is the cached result
	Breakdown *types.PricingBreakdown `json:"breakdown"`

	// CreatedAt is when the entry was stored
	CreatedAt time.Time `json:"createdAt"`

	// ExpiresAt is CreatedAt plus the TTL
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsExpired checks if the entry has expired at now
func (e *Entry) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// IsStale checks if the entry is older than staleAfter at now
func (e *Entry) IsStale(now time.Time, staleAfter time.Duration) bool {
	return staleAfter > 0 && now.Sub(e.CreatedAt) > staleAfter
}

// Store is a concurrency-safe key-value backend for entries
type Store interface {
	// Get returns (nil, nil) on a miss
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, entry *Entry) error

	// DeleteMatching removes every entry whose key satisfies match
	DeleteMatching(ctx context.Context, match func(key string) bool) (int, error)

	// Sweep removes entries that are expired or stale at now
	Sweep(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error)
}

// Cache wraps a Store with TTL handling. A nil *Cache is a valid,
// always-missing cache.
type Cache struct {
	store  Store
	ttl    time.Duration
	clock  func() time.Time
	logger *zap.Logger
}

// Options configures a Cache
type Options struct {
	TTL    time.Duration
	Clock  func() time.Time
	Logger *zap.Logger
}

// New creates a cache over store
func New(store Store, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Cache{
		store:  store,
		ttl:    opts.TTL,
		clock:  opts.Clock,
		logger: logging.Component(opts.Logger, "cache"),
	}
}

// Store returns the backing store
func (c *Cache) Store() Store {
	if c == nil {
		return nil
	}
	return c.store
}

// Get returns a live breakdown for key. Backend failures are returned as
// CacheUnavailable errors and must be treated as a miss.
func (c *Cache) Get(ctx context.Context, key string) (*types.PricingBreakdown, bool, error) {
	if c == nil || c.store == nil {
		return nil, false, nil
	}
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, false, errors.CacheUnavailable("get", err).WithContext("key", key)
	}
	if entry == nil || entry.Breakdown == nil {
		return nil, false, nil
	}
	now := c.clock()
	if entry.IsExpired(now) || entry.IsStale(now, DefaultStaleAfter) {
		return nil, false, nil
	}
	return entry.Breakdown, true, nil
}

// Put stores bd under key
func (c *Cache) Put(ctx context.Context, key string, bd *types.PricingBreakdown) error {
	if c == nil || c.store == nil || bd == nil {
		return nil
	}
	now := c.clock()
	err := c.store.Set(ctx, &Entry{
		Key:       key,
		Breakdown: bd,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	})
	if err != nil {
		return errors.CacheUnavailable("set", err).WithContext("key", key)
	}
	return nil
}
