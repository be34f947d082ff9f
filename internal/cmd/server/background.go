package server

import (
	"context"
	"time"

	"github.com/otterscale/otterscale-watch/internal/config"
	"github.com/otterscale/otterscale-watch/internal/core"
	"github.com/otterscale/otterscale-watch/internal/providers/cache"
	"github.com/otterscale/otterscale-watch/internal/transport"
)

// BackgroundListeners are the non-HTTP components that share the
// server's managed lifecycle.
type BackgroundListeners []transport.Listener

// ProvideBackgroundListeners constructs the background transport
// listeners (cache evictors, resync loop, registry shutdown) that
// participate in the server's managed lifecycle. Centralising
// construction here keeps the Server struct free of concrete
// infrastructure types.
func ProvideBackgroundListeners(
	conf *config.Config,
	watch *core.WatchUseCase,
	registry *core.Registry,
	collections *cache.CollectionCache,
	versions *cache.VersionCache,
) BackgroundListeners {
	// Collections with a registered consumer are never evicted.
	collections.RetainWhile(registry.HasEntry)

	interval := conf.ServerCacheEvictionInterval()
	return BackgroundListeners{
		&cacheEvictorListener{cache: collections, interval: interval},
		&cacheEvictorListener{cache: versions, interval: interval},
		&resyncListener{watch: watch, interval: conf.ServerResyncInterval()},
		&registryListener{registry: registry},
	}
}

// cacheEvictorListener adapts a cache's StartEvictionLoop to the
// transport.Listener interface so it participates in the managed
// lifecycle alongside other servers.
type cacheEvictorListener struct {
	cache    core.CacheEvictor
	interval time.Duration
}

func (l *cacheEvictorListener) Start(ctx context.Context) error {
	l.cache.StartEvictionLoop(ctx, l.interval)
	return nil
}

func (l *cacheEvictorListener) Stop(_ context.Context) error {
	return nil // evictor stops when its context is cancelled
}

// resyncListener reopens watches that ended upstream.
type resyncListener struct {
	watch    *core.WatchUseCase
	interval time.Duration
}

func (l *resyncListener) Start(ctx context.Context) error {
	l.watch.StartResyncLoop(ctx, l.interval)
	return nil
}

func (l *resyncListener) Stop(_ context.Context) error {
	return nil // resync stops when its context is cancelled
}

// registryListener closes every upstream subscription on shutdown.
type registryListener struct {
	registry *core.Registry
}

func (l *registryListener) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (l *registryListener) Stop(_ context.Context) error {
	l.registry.Close()
	return nil
}
