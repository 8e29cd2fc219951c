// Package noncecache implements a bounded replay cache. It combines the
// teacher's TTL-based NonceStore (internal/signing in the tb-discover
// lineage) with the capacity-bounded eviction strategy from the
// 4throckcloud-obs-agent tunnel envelope cache: seen nonces expire by age,
// and when the cache hits capacity the oldest entry is evicted regardless
// of age, so one sensor flooding nonces can't grow the map unbounded.
package noncecache

import (
	"sync"
	"time"
)

// Cache tracks seen nonces per sensor, bounded to capacity entries.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	seen     map[string]time.Time
	order    []string // insertion order, oldest first, for capacity eviction
	now      func() time.Time
}

// New builds a Cache with the given TTL and maximum entry count.
func New(ttl time.Duration, capacity int) *Cache {
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		seen:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// CheckAndAdd reports whether nonce is new (not a replay). If new, it
// records the nonce. The key is scoped per sensor ID by the caller
// prefixing nonce, since two sensors may legitimately reuse nonce values.
func (c *Cache) CheckAndAdd(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpired()

	if _, exists := c.seen[key]; exists {
		return false
	}

	if len(c.order) >= c.capacity {
		c.evictOldest()
	}

	c.seen[key] = c.now()
	c.order = append(c.order, key)
	return true
}

// Len reports the current number of tracked nonces, for metrics export.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) evictExpired() {
	now := c.now()
	kept := c.order[:0]
	for _, k := range c.order {
		if t, ok := c.seen[k]; ok && now.Sub(t) > c.ttl {
			delete(c.seen, k)
			continue
		}
		kept = append(kept, k)
	}
	c.order = kept
}

func (c *Cache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.seen, oldest)
}
