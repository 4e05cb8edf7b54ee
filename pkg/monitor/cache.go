package monitor

import (
	"sync"
	"time"
)

// CacheEntry is one cached query result, along with enough bookkeeping to
// support TTL expiry and least-recently-used eviction.
type CacheEntry struct {
	Key         string
	Value       interface{}
	Expiration  time.Time
	CreatedAt   time.Time
	AccessCount int64
	LastAccess  time.Time
}

// IsExpired reports whether the entry's TTL has passed. An entry with a
// zero Expiration never expires.
func (e *CacheEntry) IsExpired() bool {
	if e.Expiration.IsZero() {
		return false
	}
	return time.Now().After(e.Expiration)
}

// QueryCache is a fixed-capacity, TTL-aware result cache keyed on a
// caller-supplied string. Executor.Select uses one to skip re-reading and
// re-filtering a table's CSV when the same query runs again before the
// table changes.
type QueryCache struct {
	mu        sync.RWMutex
	entries   map[string]*CacheEntry
	maxSize   int
	maxTTL    time.Duration
	hits      int64
	misses    int64
	evictions int64
}

// NewQueryCache returns an empty cache holding at most maxSize entries,
// each living for at most maxTTL.
func NewQueryCache(maxSize int, maxTTL time.Duration) *QueryCache {
	return &QueryCache{
		entries: make(map[string]*CacheEntry),
		maxSize: maxSize,
		maxTTL:  maxTTL,
	}
}

// Get returns the cached value for key, or (nil, false) if it is absent or
// expired. An expired entry is evicted as a side effect of the lookup.
func (c *QueryCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	if entry.IsExpired() {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	entry.AccessCount++
	entry.LastAccess = time.Now()
	c.hits++
	return entry.Value, true
}

// Set stores value under key with the given ttl, clamped to maxTTL. A ttl
// of zero (or one exceeding maxTTL) falls back to the cache's maxTTL. If
// the cache is already at capacity, the least-recently-used entry is
// evicted first.
func (c *QueryCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
	}

	if len(c.entries) >= c.maxSize {
		c.evictLRU()
	}

	var expiration time.Time
	if ttl > 0 && ttl <= c.maxTTL {
		expiration = time.Now().Add(ttl)
	} else if c.maxTTL > 0 {
		expiration = time.Now().Add(c.maxTTL)
	}

	c.entries[key] = &CacheEntry{
		Key:         key,
		Value:       value,
		Expiration:  expiration,
		CreatedAt:   time.Now(),
		AccessCount: 1,
		LastAccess:  time.Now(),
	}
}

// Delete removes key, reporting whether it was present.
func (c *QueryCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		return true
	}
	return false
}

// Clear empties the cache and resets its hit/miss/eviction counters.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*CacheEntry)
	c.hits = 0
	c.misses = 0
	c.evictions = 0
}

func (c *QueryCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.LastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.LastAccess
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

// GetSize returns the number of entries currently cached.
func (c *QueryCache) GetSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetStats returns a snapshot of the cache's hit/miss/eviction counters.
func (c *QueryCache) GetStats() *CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hitRate := 0.0
	total := c.hits + c.misses
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}

	return &CacheStats{
		Size:      len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		HitRate:   hitRate,
		Evictions: c.evictions,
		MaxSize:   c.maxSize,
		MaxTTL:    c.maxTTL,
	}
}

// CacheStats is a point-in-time copy of a QueryCache's counters.
type CacheStats struct {
	Size      int
	Hits      int64
	Misses    int64
	HitRate   float64
	Evictions int64
	MaxSize   int
	MaxTTL    time.Duration
}
