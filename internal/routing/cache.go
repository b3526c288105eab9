package routing

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
	"sync/atomic"

	"agentmux/internal/logging"
	"agentmux/internal/types"
)

// =============================================================================
// ROUTING CACHE
// =============================================================================

// DefaultCacheCapacity bounds the number of memoized decisions.
const DefaultCacheCapacity = 1000

// CacheKey derives the memoization key: MD5 over the case-folded, trimmed
// query joined with the canonical (key-sorted) context serialization. MD5 is
// a dedup fingerprint here, not a security boundary.
func CacheKey(query string, context map[string]any) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := md5.Sum([]byte(normalized + "||" + types.CanonicalContext(context)))
	return hex.EncodeToString(sum[:])
}

// Cache memoizes routing decisions. Eviction is coarse: when inserting a new
// key would exceed capacity, the whole map is cleared first. Hits are handed
// out as clones tagged metadata.cached=true, preserving the stored method.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]*types.RoutingDecision
	capacity int

	hits   int64
	misses int64
}

// NewCache creates a cache with the given capacity. Non-positive capacity
// selects the default.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		entries:  make(map[string]*types.RoutingDecision),
		capacity: capacity,
	}
}

// Get returns a cached decision clone, or nil on miss.
func (c *Cache) Get(key string) *types.RoutingDecision {
	c.mu.RLock()
	stored, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil
	}

	atomic.AddInt64(&c.hits, 1)
	d := stored.Clone()
	d.Metadata[types.MetaCached] = true
	return d
}

// Put stores a clone of the decision. Inserting a new key into a full cache
// clears the cache first.
func (c *Cache) Put(key string, d *types.RoutingDecision) {
	if d == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		logging.Routing("Routing cache full (%d entries), clearing", len(c.entries))
		c.entries = make(map[string]*types.RoutingDecision)
	}
	c.entries[key] = d.Clone()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*types.RoutingDecision)
	c.mu.Unlock()
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cumulative hit/miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}
