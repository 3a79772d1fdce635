// Package cache provides the in-process TTL cache that fronts slower stores.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/router-for-me/chatrelay/internal/api/middleware"
)

// DefaultEvictionInterval is the default interval for periodic sweeps of caches and stores.
const DefaultEvictionInterval = 1 * time.Minute

// Config defines configuration for a TTL cache.
type Config struct {
	// Name labels the cache in logs and metrics.
	Name string
	// MaxSize bounds the number of entries; zero means unbounded.
	MaxSize int
	// TTL is how long an entry stays valid after it was last written.
	TTL time.Duration
}

// Stats tracks cache performance counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

type entry[V any] struct {
	key       string
	value     V
	createdAt time.Time
}

// TTLCache is a concurrency-safe map with per-entry expiry and LRU bounding.
// An expired entry behaves as absent.
type TTLCache[V any] struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = least recently used
	config  Config
	stats   Stats
	now     func() time.Time
}

// New creates a TTL cache with the given config.
func New[V any](cfg Config) *TTLCache[V] {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	return &TTLCache[V]{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		config:  cfg,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (c *TTLCache[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	c.now = now
}

// Get returns the cached value for key if present and not expired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	elem, exists := c.entries[key]
	if !exists {
		c.stats.Misses++
		c.mu.Unlock()
		middleware.RecordCacheLookup(c.config.Name, false)
		var zero V
		return zero, false
	}

	e := elem.Value.(*entry[V])
	if c.expired(e) {
		c.removeElement(elem)
		c.stats.Evictions++
		c.stats.Misses++
		size := len(c.entries)
		c.mu.Unlock()
		middleware.RecordCacheLookup(c.config.Name, false)
		middleware.SetCacheSize(c.config.Name, size)
		var zero V
		return zero, false
	}

	c.order.MoveToBack(elem)
	c.stats.Hits++
	value := e.value
	c.mu.Unlock()
	middleware.RecordCacheLookup(c.config.Name, true)
	return value, true
}

// Peek returns the value for key without touching stats, recency or expiry state.
func (c *TTLCache[V]) Peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, exists := c.entries[key]; exists {
		if e := elem.Value.(*entry[V]); !c.expired(e) {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// Set stores value under key, resetting its TTL.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.entries[key]; exists {
		e := elem.Value.(*entry[V])
		e.value = value
		e.createdAt = c.now()
		c.order.MoveToBack(elem)
		return
	}

	for c.config.MaxSize > 0 && len(c.entries) >= c.config.MaxSize && c.order.Len() > 0 {
		c.removeElement(c.order.Front())
		c.stats.Evictions++
	}

	c.entries[key] = c.order.PushBack(&entry[V]{key: key, value: value, createdAt: c.now()})
	middleware.SetCacheSize(c.config.Name, len(c.entries))
}

// Delete removes key from the cache.
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, exists := c.entries[key]; exists {
		c.removeElement(elem)
		middleware.SetCacheSize(c.config.Name, len(c.entries))
	}
}

// GetStats returns current cache statistics.
func (c *TTLCache[V]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Size = len(c.entries)
	return c.stats
}

// EvictExpired removes all expired entries from the cache.
func (c *TTLCache[V]) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if c.expired(elem.Value.(*entry[V])) {
			c.removeElement(elem)
			evicted++
			c.stats.Evictions++
		}
		elem = next
	}
	middleware.SetCacheSize(c.config.Name, len(c.entries))
	return evicted
}

func (c *TTLCache[V]) expired(e *entry[V]) bool {
	return c.config.TTL > 0 && c.now().Sub(e.createdAt) > c.config.TTL
}

func (c *TTLCache[V]) removeElement(elem *list.Element) {
	e := c.order.Remove(elem).(*entry[V])
	delete(c.entries, e.key)
}
