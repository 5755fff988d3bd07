// Package rediscache provides Redis backends for the pricing cache and
// the step stream, so several pricing instances can share results and
// progress.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bundle-pricing/core/cache"
)

const (
	scanCount  = 500
	deleteSize = 256
)

// Store is a cache.Store backed by Redis. Entries are JSON values under
// their fingerprint; Redis expiry mirrors the entry TTL.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Option configures a Store
type Option func(*Store)

// WithPrefix namespaces every key, e.g. per environment
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// NewStore creates a store on an existing client
func NewStore(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial parses url, connects and pings the server. A non-zero db
// overrides the database named in url.
func Dial(ctx context.Context, url string, db int) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if db != 0 {
		opt.DB = db
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Get implements cache.Store
func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

// Set implements cache.Store
func (s *Store) Set(ctx context.Context, entry *cache.Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	var ttl time.Duration
	if !entry.ExpiresAt.IsZero() {
		ttl = entry.ExpiresAt.Sub(entry.CreatedAt)
		if ttl <= 0 {
			return nil
		}
	}
	return s.client.Set(ctx, s.prefix+entry.Key, raw, ttl).Err()
}

// DeleteMatching implements cache.Store. Keys are walked with SCAN so the
// server is never blocked by a full keyspace listing.
func (s *Store) DeleteMatching(ctx context.Context, match func(key string) bool) (int, error) {
	var doomed []string
	err := s.scan(ctx, func(key string) {
		if match(key) {
			doomed = append(doomed, s.prefix+key)
		}
	})
	if err != nil {
		return 0, err
	}
	return s.delete(ctx, doomed)
}

// Sweep implements cache.Store. Redis already drops expired keys, so this
// mostly catches entries that outlived staleAfter or fail to decode.
func (s *Store) Sweep(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error) {
	var keys []string
	if err := s.scan(ctx, func(key string) { keys = append(keys, s.prefix+key) }); err != nil {
		return 0, err
	}

	var doomed []string
	for start := 0; start < len(keys); start += deleteSize {
		chunk := keys[start:min(start+deleteSize, len(keys))]
		values, err := s.client.MGet(ctx, chunk...).Result()
		if err != nil {
			return 0, err
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			entry, err := decode([]byte(raw))
			if err != nil || entry.IsExpired(now) || entry.IsStale(now, staleAfter) {
				doomed = append(doomed, chunk[i])
			}
		}
	}
	return s.delete(ctx, doomed)
}

// scan calls fn with every pricing key, stripped of the store prefix
func (s *Store) scan(ctx context.Context, fn func(key string)) error {
	pattern := s.prefix + cache.KeyPrefix + ":*"
	iter := s.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		fn(iter.Val()[len(s.prefix):])
	}
	return iter.Err()
}

func (s *Store) delete(ctx context.Context, keys []string) (int, error) {
	total := 0
	for start := 0; start < len(keys); start += deleteSize {
		n, err := s.client.Del(ctx, keys[start:min(start+deleteSize, len(keys))]...).Result()
		total += int(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func decode(raw []byte) (*cache.Entry, error) {
	var entry cache.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}
