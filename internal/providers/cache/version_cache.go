package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/otterscale/otterscale-watch/internal/core"
)

// VersionCache provides TTL-based caching with singleflight
// deduplication for Kubernetes server versions. It implements
// core.ServerVersioner on top of another ServerVersioner and keeps the
// streaming-list feature check from hitting the discovery API on every
// watch request.
type VersionCache struct {
	versioner core.ServerVersioner
	ttl       time.Duration

	mu      sync.RWMutex
	cache   map[string]*versionCacheEntry
	flights singleflight.Group
}

// versionCacheEntry pairs a cached server version with its expiration.
type versionCacheEntry struct {
	version   string
	expiresAt time.Time
}

// singleflightFetchTimeout is the maximum time a cache-miss fetch is
// allowed to run. It uses context.WithoutCancel so that a single
// caller's cancellation does not fail all singleflight waiters.
const singleflightFetchTimeout = 30 * time.Second

var _ core.ServerVersioner = (*VersionCache)(nil)

// NewVersionCache returns a VersionCache that wraps the given
// ServerVersioner and caches results for the specified TTL.
func NewVersionCache(versioner core.ServerVersioner, ttl time.Duration) *VersionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &VersionCache{
		versioner: versioner,
		ttl:       ttl,
		cache:     make(map[string]*versionCacheEntry),
	}
}

// ServerVersion returns the cached Kubernetes version for the given
// cluster. Concurrent misses for the same cluster share one request.
func (c *VersionCache) ServerVersion(ctx context.Context, cluster string) (string, error) {
	c.mu.RLock()
	entry, ok := c.cache[cluster]
	c.mu.RUnlock()

	if ok && time.Now().Before(entry.expiresAt) {
		return entry.version, nil
	}

	v, err, _ := c.flights.Do(cluster, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), singleflightFetchTimeout)
		defer cancel()

		version, err := c.versioner.ServerVersion(fetchCtx, cluster)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[cluster] = &versionCacheEntry{
			version:   version,
			expiresAt: time.Now().Add(c.ttl),
		}
		c.mu.Unlock()

		return version, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// StartEvictionLoop periodically removes expired versions. It blocks
// until ctx is cancelled.
func (c *VersionCache) StartEvictionLoop(ctx context.Context, interval time.Duration) {
	log := slog.Default().With("component", "version-cache-evictor")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			before := len(c.cache)
			c.evictExpired()
			after := len(c.cache)
			c.mu.Unlock()

			if evicted := before - after; evicted > 0 {
				log.Info("evicted expired server versions", "count", evicted)
			}
		}
	}
}

// evictExpired removes expired entries. Must be called with mu held
// for writing.
func (c *VersionCache) evictExpired() {
	now := time.Now()
	for key, entry := range c.cache {
		if now.After(entry.expiresAt) {
			delete(c.cache, key)
		}
	}
}
