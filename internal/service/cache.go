package service

import (
	"strings"
	"sync"
	"time"

	"igharvest/internal/models"
)

// ResultCache memoizes recent successful outcomes per target for a fixed
// window. Keys are case-insensitive; expired entries are evicted lazily on
// read.
type ResultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry

	// now is swappable in tests to step time past the TTL.
	now func() time.Time
}

type cacheEntry struct {
	outcome  models.ScrapeOutcome
	storedAt time.Time
}

// NewResultCache builds a cache with the given TTL.
func NewResultCache(ttl time.Duration) *ResultCache {
	return &ResultCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached outcome for target if it is still within the TTL,
// evicting it otherwise.
func (c *ResultCache) Get(target string) *models.ScrapeOutcome {
	key := normalizeTarget(target)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil
	}
	outcome := entry.outcome
	return &outcome
}

// Put stores an outcome with a fresh timestamp.
func (c *ResultCache) Put(target string, outcome models.ScrapeOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[normalizeTarget(target)] = cacheEntry{outcome: outcome, storedAt: c.now()}
}

// Len returns the number of stored entries, expired ones included.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func normalizeTarget(target string) string {
	return strings.ToLower(strings.TrimSpace(target))
}
