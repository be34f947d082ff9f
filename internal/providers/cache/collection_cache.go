// Package cache provides the in-memory caches behind the watch layer:
// the shared collection store that the registry reconciles into, and a
// TTL cache for Kubernetes server versions. It lives in the providers
// layer because caching is an infrastructure concern; the domain layer
// (internal/core) only defines the CollectionStore and ServerVersioner
// interfaces.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/otterscale/otterscale-watch/internal/core"
)

// DefaultTTL is how long an unused collection or server version stays
// cached.
const DefaultTTL = 10 * time.Minute

// CollectionCache is the shared query-result store for watched
// collections. It implements core.CollectionStore. Readers always get
// a copy; only Set mutates the stored collection.
//
// Collections that have not been read or written for the TTL are
// evicted, unless the retention predicate reports that a registry
// entry still owns them.
type CollectionCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*collectionEntry
	retain  func(key string) bool
}

// collectionEntry pairs a cached collection with its last access time.
type collectionEntry struct {
	collection core.CachedCollection
	touchedAt  time.Time
}

var _ core.CollectionStore = (*CollectionCache)(nil)

// NewCollectionCache returns an empty CollectionCache.
func NewCollectionCache(ttl time.Duration) *CollectionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CollectionCache{
		ttl:     ttl,
		entries: make(map[string]*collectionEntry),
	}
}

// RetainWhile installs the predicate that protects collections from
// eviction. It is typically Registry.HasEntry.
func (c *CollectionCache) RetainWhile(fn func(key string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retain = fn
}

// Get returns a copy of the collection stored under key.
func (c *CollectionCache) Get(key string) (core.CachedCollection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return core.CachedCollection{}, false
	}
	entry.touchedAt = time.Now()
	return entry.collection.Clone(), true
}

// Set replaces the collection under key with the result of fn. fn runs
// under the cache lock and may mutate cur.Items in place; it must not
// call back into the cache.
func (c *CollectionCache) Set(key string, fn func(cur core.CachedCollection, ok bool) core.CachedCollection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	var cur core.CachedCollection
	if ok {
		cur = entry.collection
	} else {
		entry = &collectionEntry{}
		c.entries[key] = entry
	}

	entry.collection = fn(cur, ok)
	entry.touchedAt = time.Now()
}

// Delete drops the collection under key.
func (c *CollectionCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of cached collections.
func (c *CollectionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// StartEvictionLoop periodically removes idle collections. It blocks
// until ctx is cancelled.
func (c *CollectionCache) StartEvictionLoop(ctx context.Context, interval time.Duration) {
	log := slog.Default().With("component", "collection-cache-evictor")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := c.evictExpired(time.Now()); evicted > 0 {
				log.Info("evicted idle collections", "count", evicted)
			}
		}
	}
}

// evictExpired removes collections idle since before now-ttl that the
// retention predicate does not claim. The predicate is consulted
// without holding mu because it takes the registry lock.
func (c *CollectionCache) evictExpired(now time.Time) int {
	c.mu.Lock()
	retain := c.retain
	candidates := make(map[string]time.Time)
	for key, entry := range c.entries {
		if now.Sub(entry.touchedAt) > c.ttl {
			candidates[key] = entry.touchedAt
		}
	}
	c.mu.Unlock()

	if retain != nil {
		for key := range candidates {
			if retain(key) {
				delete(candidates, key)
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, touchedAt := range candidates {
		entry, ok := c.entries[key]
		// Skip entries that were touched while the lock was released.
		if !ok || !entry.touchedAt.Equal(touchedAt) {
			continue
		}
		delete(c.entries, key)
		evicted++
	}
	return evicted
}
