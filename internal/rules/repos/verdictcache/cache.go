package verdictcache

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-rulecheck/internal/rules/domain"
)

// DefaultInitialSize is used when New is given a non-positive size.
const DefaultInitialSize = 4096

// Cache stores validation results by normalized domain for the lifetime of a run.
// It never evicts: when the LRU is full it is resized to twice its capacity,
// so a domain is resolved at most once per run however many domains the run holds.
type Cache struct {
	mu       sync.Mutex // serializes growth
	lru      *lru.Cache[string, domain.ValidationResult]
	capacity int
	hits     atomic.Uint64
	misses   atomic.Uint64
}

// New creates a Cache with room for size entries before its first growth.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultInitialSize
	}
	cache, err := lru.New[string, domain.ValidationResult](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: cache, capacity: size}, nil
}

// Get returns the cached result for name and counts the lookup.
func (c *Cache) Get(name string) (domain.ValidationResult, bool) {
	if val, ok := c.lru.Get(name); ok {
		c.hits.Add(1)
		return val, true
	}
	c.misses.Add(1)
	return domain.ValidationResult{}, false
}

// Peek returns the cached result without counting it as a lookup.
func (c *Cache) Peek(name string) (domain.ValidationResult, bool) {
	return c.lru.Peek(name)
}

// Put stores r for name, growing the cache instead of evicting.
func (c *Cache) Put(name string, r domain.ValidationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lru.Contains(name) && c.lru.Len() >= c.capacity {
		c.capacity *= 2
		c.lru.Resize(c.capacity)
	}
	c.lru.Add(name, r)
}

// Stats returns a snapshot of the entry count and lookup counters.
func (c *Cache) Stats() domain.CacheStats {
	return domain.CacheStats{
		Entries: c.lru.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
