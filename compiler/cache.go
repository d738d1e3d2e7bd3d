package compiler

import (
	"sync"
	"time"
)

const (
	// defaultCacheTTL bounds how long a compiled pass may be served from cache.
	defaultCacheTTL = 5 * time.Minute

	// defaultCacheCap bounds the cache size; the oldest entry is evicted when full.
	defaultCacheCap = 64
)

// cacheEntry is one memoized pass compilation.
type cacheEntry struct {
	pass *CompiledPass
	at   time.Time
}

// passCache memoizes compiled passes keyed by shader path plus options
// fingerprint. Entries expire by TTL and by oldest-first capacity eviction.
// There is no single-flight guard: two concurrent first-time compiles of the
// same uncached key both run to completion independently.
type passCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	cap     int
}

func newPassCache(ttl time.Duration, capacity int) *passCache {
	return &passCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		cap:     capacity,
	}
}

func (c *passCache) get(key string) (*CompiledPass, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.at) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.pass, true
}

func (c *passCache) put(key string, pass *CompiledPass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.cap {
		var oldestKey string
		var oldestAt time.Time
		for k, v := range c.entries {
			if oldestKey == "" || v.at.Before(oldestAt) {
				oldestKey, oldestAt = k, v.at
			}
		}
		delete(c.entries, oldestKey)
	}
	c.entries[key] = cacheEntry{pass: pass, at: time.Now()}
}

func (c *passCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
