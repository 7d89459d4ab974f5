package storage

import (
	"context"

	"github.com/devstatic/devstatic/internal/cache"
)

// CachedBackend remembers successful Stat results for a short TTL. Open
// and HealthCheck pass straight through.
type CachedBackend struct {
	Backend
	cache *cache.LRUCache[Metadata]
}

// NewCachedBackend wraps b with a metadata cache.
func NewCachedBackend(b Backend, cfg *cache.CacheConfig) *CachedBackend {
	return &CachedBackend{
		Backend: b,
		cache:   cache.NewLRUCache[Metadata](cfg),
	}
}

// Stat returns a cached copy when available.
func (c *CachedBackend) Stat(ctx context.Context, name string) (*Metadata, error) {
	if m, ok := c.cache.Get(name); ok {
		return &m, nil
	}

	m, err := c.Backend.Stat(ctx, name)
	if err != nil {
		return nil, err
	}
	c.cache.Put(name, *m)
	return m, nil
}

// Invalidate drops name from the cache.
func (c *CachedBackend) Invalidate(name string) {
	c.cache.Delete(name)
}

// Purge drops every cached entry, e.g. after a rebuild.
func (c *CachedBackend) Purge() {
	c.cache.Clear()
}

// Stats exposes cache hit/miss counters.
func (c *CachedBackend) Stats() cache.CacheStats {
	return c.cache.Stats()
}

// Close stops the cache janitor.
func (c *CachedBackend) Close() error {
	c.cache.Close()
	return nil
}
