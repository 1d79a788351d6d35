// Package cache implements the freshness-bounded response cache keyed by
// (entity, date). Entries past the freshness window read as misses; nothing
// is actively evicted.
package cache

import (
	"sync"
	"time"

	"github.com/paddockdata/racepipe/internal/scraper"
)

const defaultMaxAge = 24 * time.Hour

// Memory is a mutex-guarded in-memory cache. Safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]scraper.CacheEntry
	maxAge  time.Duration
	clock   scraper.Clock
}

// Option customizes a Memory cache.
type Option func(*Memory)

// WithMaxAge overrides the 24h freshness window.
func WithMaxAge(d time.Duration) Option {
	return func(m *Memory) {
		if d > 0 {
			m.maxAge = d
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(c scraper.Clock) Option {
	return func(m *Memory) {
		if c != nil {
			m.clock = c
		}
	}
}

// NewMemory constructs a Memory cache.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries: make(map[string]scraper.CacheEntry),
		maxAge:  defaultMaxAge,
		clock:   systemClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the cached payload when present and still fresh.
func (m *Memory) Get(entityKey, dateKey string) ([]byte, bool) {
	m.mu.RLock()
	entry, ok := m.entries[cacheKey(entityKey, dateKey)]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !entry.Fresh(m.clock.Now(), m.maxAge) {
		return nil, false
	}
	payload := make([]byte, len(entry.Payload))
	copy(payload, entry.Payload)
	return payload, true
}

// Put stores a payload, superseding any previous entry for the key.
func (m *Memory) Put(entityKey, dateKey string, payload []byte) {
	stored := make([]byte, len(payload))
	copy(stored, payload)
	m.mu.Lock()
	m.entries[cacheKey(entityKey, dateKey)] = scraper.CacheEntry{
		EntityKey: entityKey,
		DateKey:   dateKey,
		Payload:   stored,
		CachedAt:  m.clock.Now(),
	}
	m.mu.Unlock()
}

// Len reports the number of stored entries, fresh or stale.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func cacheKey(entityKey, dateKey string) string {
	return dateKey + "|" + entityKey
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
