package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCache is an in-process cache suitable for single-run optimization.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	maxSize int
	hits    int64
	misses  int64
}

type memoryEntry struct {
	outputs   map[string]interface{}
	expiresAt time.Time // zero means no expiry
}

// NewMemoryCache creates a memory cache holding up to maxSize entries;
// zero or negative means unbounded.
func NewMemoryCache(maxSize int) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		maxSize: maxSize,
	}
}

var _ Cache = (*MemoryCache)(nil)

func (c *MemoryCache) Get(ctx context.Context, key string) (map[string]interface{}, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || (!entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt)) {
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}

	atomic.AddInt64(&c.hits, 1)
	outputs := make(map[string]interface{}, len(entry.outputs))
	for k, v := range entry.outputs {
		outputs[k] = v
	}
	return outputs, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, outputs map[string]interface{}, ttl time.Duration) error {
	stored := make(map[string]interface{}, len(outputs))
	for k, v := range outputs {
		stored[k] = v
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict an arbitrary entry when full; optimization workloads reuse
	// recent keys heavily, so precise LRU accounting is not worth the
	// bookkeeping here.
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}

	c.entries[key] = memoryEntry{outputs: stored, expiresAt: expiresAt}
	return nil
}

func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryEntry)
	return nil
}

func (c *MemoryCache) Close() error {
	return nil
}

// Stats returns hit/miss counters.
func (c *MemoryCache) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}
