/*
Package cache provides an in-memory LRU cache with optional expiry.

LRUCache is generic over its value type and bounded by entry count. Entries
older than the configured TTL are treated as misses on lookup and, when a
CleanupInterval is set, swept by a background janitor that Close stops.

The storage layer uses it to remember Stat results of high-latency
backends:

	c := cache.NewLRUCache[*storage.Metadata](&cache.CacheConfig{
		MaxEntries: 4096,
		TTL:        2 * time.Second,
	})
	c.Put("app.js", meta)
	if m, ok := c.Get("app.js"); ok {
		...
	}
*/
package cache
