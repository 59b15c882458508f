package matching

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// HashText returns the content-address key for an embedding: the SHA-256 of
// the exact profile text. Keying by text rather than entity id means
// identical text never triggers a redundant provider call, even across
// different entities.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	vector  []float32
	addedAt time.Time
}

// VectorCache is a size- and age-bounded in-process cache of embedding
// vectors keyed by text hash.
type VectorCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	maxEntries int
	maxAge     time.Duration
	now        func() time.Time
}

// NewVectorCache creates a cache holding at most maxEntries vectors for at
// most maxAge each. Non-positive arguments fall back to 1024 entries / 24h.
func NewVectorCache(maxEntries int, maxAge time.Duration) *VectorCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &VectorCache{
		entries:    make(map[string]cacheEntry),
		maxEntries: maxEntries,
		maxAge:     maxAge,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the cached vector for a text hash, dropping it if expired.
func (c *VectorCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.addedAt) > c.maxAge {
		delete(c.entries, key)
		return nil, false
	}
	return e.vector, true
}

// Put stores a vector, evicting the oldest entry when at capacity.
func (c *VectorCache) Put(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = cacheEntry{vector: vector, addedAt: c.now()}
}

// Len returns the number of cached vectors.
func (c *VectorCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *VectorCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.addedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.addedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
