package cache

import (
	"container/list"
	"sync"
	"time"
)

// CacheConfig represents cache configuration
type CacheConfig struct {
	MaxEntries      int           `yaml:"max_entries"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// CacheStats reports cache effectiveness
type CacheStats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Entries   int     `json:"entries"`
	HitRate   float64 `json:"hit_rate"`
}

type cacheItem[V any] struct {
	key       string
	value     V
	timestamp time.Time
	element   *list.Element
}

// LRUCache is a thread-safe LRU cache bounded by entry count, with an
// optional per-entry TTL.
type LRUCache[V any] struct {
	mu        sync.Mutex
	items     map[string]*cacheItem[V]
	evictList *list.List
	config    CacheConfig
	stats     CacheStats
	now       func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLRUCache creates a new LRU cache. A janitor goroutine removing expired
// entries runs when both TTL and CleanupInterval are set; stop it with Close.
func NewLRUCache[V any](config *CacheConfig) *LRUCache[V] {
	if config == nil {
		config = &CacheConfig{
			MaxEntries: 4096,
			TTL:        5 * time.Minute,
		}
	}

	c := &LRUCache[V]{
		items:     make(map[string]*cacheItem[V]),
		evictList: list.New(),
		config:    *config,
		now:       time.Now,
		stop:      make(chan struct{}),
	}

	if c.config.TTL > 0 && c.config.CleanupInterval > 0 {
		go c.cleanupExpired()
	}

	return c
}

// Get retrieves a value from the cache
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	item, exists := c.items[key]
	if !exists {
		c.stats.Misses++
		c.updateHitRate()
		return zero, false
	}

	if c.isExpired(item) {
		c.removeItem(item)
		c.stats.Misses++
		c.updateHitRate()
		return zero, false
	}

	c.evictList.MoveToFront(item.element)
	c.stats.Hits++
	c.updateHitRate()
	return item.value, true
}

// Put stores a value in the cache
func (c *LRUCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[key]; exists {
		item.value = value
		item.timestamp = c.now()
		c.evictList.MoveToFront(item.element)
		return
	}

	item := &cacheItem[V]{
		key:       key,
		value:     value,
		timestamp: c.now(),
	}
	item.element = c.evictList.PushFront(item)
	c.items[key] = item

	c.evictIfNeeded()
}

// Delete removes an item from the cache
func (c *LRUCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[key]; ok {
		c.evictList.Remove(item.element)
		delete(c.items, key)
	}
}

// Len returns the number of entries, including expired ones not yet removed
func (c *LRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns cache statistics
func (c *LRUCache[V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = len(c.items)
	return stats
}

// Clear clears all items from the cache
func (c *LRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Evictions += uint64(len(c.items))
	c.items = make(map[string]*cacheItem[V])
	c.evictList.Init()
}

// Close stops the janitor goroutine, if any.
func (c *LRUCache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *LRUCache[V]) isExpired(item *cacheItem[V]) bool {
	if c.config.TTL <= 0 {
		return false
	}
	return c.now().Sub(item.timestamp) > c.config.TTL
}

func (c *LRUCache[V]) removeItem(item *cacheItem[V]) {
	c.evictList.Remove(item.element)
	delete(c.items, item.key)
	c.stats.Evictions++
}

func (c *LRUCache[V]) evictIfNeeded() {
	if c.config.MaxEntries <= 0 {
		return
	}
	for len(c.items) > c.config.MaxEntries {
		back := c.evictList.Back()
		if back == nil {
			return
		}
		c.removeItem(back.Value.(*cacheItem[V]))
	}
}

func (c *LRUCache[V]) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}

func (c *LRUCache[V]) cleanupExpired() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			for _, item := range c.items {
				if c.isExpired(item) {
					c.removeItem(item)
				}
			}
			c.mu.Unlock()
		}
	}
}
