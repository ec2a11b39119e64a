package advisor

import (
	"sync"
	"time"
)

// DefaultCacheTTL is how long a suggestion stays valid for an unchanged
// context window.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	suggestion Suggestion
	expires    time.Time
}

// Cache maps context fingerprints to suggestions with a fixed TTL. Expired
// entries are evicted lazily on access; there is no background sweep. The
// cache is shared by all sessions and safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a Cache with the given TTL. A non-positive TTL falls back
// to DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached suggestion for a fingerprint. An expired entry is
// deleted and reported as a miss.
func (c *Cache) Get(fingerprint string) (Suggestion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[fingerprint]
	if !ok {
		return Suggestion{}, false
	}
	if c.now().After(entry.expires) {
		delete(c.entries, fingerprint)
		return Suggestion{}, false
	}
	return entry.suggestion, true
}

// Put stores a suggestion under a fingerprint with the cache TTL.
func (c *Cache) Put(fingerprint string, s Suggestion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = cacheEntry{
		suggestion: s,
		expires:    c.now().Add(c.ttl),
	}
}

// Invalidate removes a single fingerprint from the cache.
func (c *Cache) Invalidate(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fingerprint)
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
