// Package cache holds the evaluation engine's short-lived, per-scope
// resource listing cache.
package cache

import (
	"sync"
	"time"

	"github.com/cloudguardian/policyguard/internal/provider"
)

// DefaultTTL is the 300s staleness window spec.md §3 specifies.
const DefaultTTL = 300 * time.Second

type entry struct {
	fetchedAt time.Time
	resources []provider.Resource
}

// ResourceCache is a mutex-guarded TTL cache keyed by scope descriptor,
// specialized from the teacher's general-purpose TTLCache
// (internal/cache/ttl_cache.go) down to the engine's one job.
type ResourceCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*entry
	hits    int64
	misses  int64
}

// New constructs a ResourceCache with the given TTL (0 means DefaultTTL).
func New(ttl time.Duration) *ResourceCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResourceCache{ttl: ttl, entries: make(map[string]*entry)}
}

// Get returns the cached resource list for scope if it is present and
// fresher than the TTL.
func (c *ResourceCache) Get(scope string) ([]provider.Resource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[scope]
	if !ok || time.Since(e.fetchedAt) >= c.ttl {
		c.misses++
		return nil, false
	}
	c.hits++
	return e.resources, true
}

// Set stores resources for scope, stamped with the current time.
func (c *ResourceCache) Set(scope string, resources []provider.Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[scope] = &entry{fetchedAt: time.Now(), resources: resources}
}

// Stats reports cumulative hit/miss counters, useful for the cache-reuse
// boundary scenario in spec.md §8.
func (c *ResourceCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
