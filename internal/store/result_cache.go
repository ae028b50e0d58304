// Package store keeps finished evaluations keyed by position and depth, in
// memory and in CSV files compressed with zstd or gzip.
package store

import (
	"sync"
	"sync/atomic"

	"github.com/kejdas/chess-game-analyzer/internal/uci"
)

// Key identifies a cached evaluation: the position and the requested depth.
type Key struct {
	FEN   string
	Depth int
}

// Entry is a successful evaluation worth remembering.
type Entry struct {
	Score    uci.Score
	BestMove string
}

// ResultCache is an in-memory cache of evaluations. When MaxEntries is
// positive the oldest entries are evicted first.
type ResultCache struct {
	mu         sync.RWMutex
	entries    map[Key]Entry
	order      []Key // FIFO order for eviction
	maxEntries int
	hits       uint64
	misses     uint64
}

// NewResultCache creates an empty cache. maxEntries <= 0 means unbounded.
func NewResultCache(maxEntries int) *ResultCache {
	return &ResultCache{
		entries:    make(map[Key]Entry),
		maxEntries: maxEntries,
	}
}

// Get retrieves the entry for key.
func (c *ResultCache) Get(key Key) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		atomic.AddUint64(&c.hits, 1)
	} else {
		atomic.AddUint64(&c.misses, 1)
	}
	return e, ok
}

// Put adds or replaces the entry for key.
func (c *ResultCache) Put(key Key, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, e)
}

func (c *ResultCache) putLocked(key Key, e Entry) {
	if _, exists := c.entries[key]; exists {
		c.entries[key] = e
		return
	}
	for c.maxEntries > 0 && len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = e
	c.order = append(c.order, key)
}

// Len returns the number of cached evaluations.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CacheStats holds statistics about the cache.
type CacheStats struct {
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"` // 0 = unbounded
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	CP       int    `json:"cp"`
	Mate     int    `json:"mate"`
}

// Stats returns hit counters and the mix of centipawn and mate entries.
func (c *ResultCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{
		Size:     len(c.entries),
		Capacity: c.maxEntries,
		Hits:     atomic.LoadUint64(&c.hits),
		Misses:   atomic.LoadUint64(&c.misses),
	}
	for _, e := range c.entries {
		switch e.Score.Kind {
		case uci.ScoreCentipawns:
			stats.CP++
		case uci.ScoreMate:
			stats.Mate++
		}
	}
	return stats
}

// snapshot returns the entries in insertion order.
func (c *ResultCache) snapshot() ([]Key, map[Key]Entry) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]Key, 0, len(c.entries))
	entries := make(map[Key]Entry, len(c.entries))
	for _, k := range c.order {
		if e, ok := c.entries[k]; ok {
			keys = append(keys, k)
			entries[k] = e
		}
	}
	return keys, entries
}
