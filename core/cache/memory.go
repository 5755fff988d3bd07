package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store guarded by a mutex
type MemoryStore struct {
	entries map[string]*Entry
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

// Get implements Store
func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

// Set implements Store
func (m *MemoryStore) Set(_ context.Context, entry *Entry) error {
	cp := *entry
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Key] = &cp
	return nil
}

// DeleteMatching implements Store
func (m *MemoryStore) DeleteMatching(_ context.Context, match func(key string) bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for key := range m.entries {
		if match(key) {
			delete(m.entries, key)
			count++
		}
	}
	return count, nil
}

// Sweep implements Store
func (m *MemoryStore) Sweep(_ context.Context, now time.Time, staleAfter time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for key, entry := range m.entries {
		if entry.IsExpired(now) || entry.IsStale(now, staleAfter) {
			delete(m.entries, key)
			count++
		}
	}
	return count, nil
}

// Len returns the number of entries, live or not
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Stats contains store statistics
type Stats struct {
	TotalEntries   int `json:"totalEntries"`
	ExpiredEntries int `json:"expiredEntries"`
	StaleEntries   int `json:"staleEntries"`
}

// Stats counts entries by state at now
func (m *MemoryStore) Stats(now time.Time) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{TotalEntries: len(m.entries)}
	for _, entry := range m.entries {
		switch {
		case entry.IsExpired(now):
			stats.ExpiredEntries++
		case entry.IsStale(now, DefaultStaleAfter):
			stats.StaleEntries++
		}
	}
	return stats
}
