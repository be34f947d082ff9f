// Package providers aggregates all infrastructure-layer implementations
// (kubernetes, cache) into a single Wire provider set.
package providers

import (
	"github.com/google/wire"

	"github.com/otterscale/otterscale-watch/internal/core"
	"github.com/otterscale/otterscale-watch/internal/providers/cache"
	"github.com/otterscale/otterscale-watch/internal/providers/kubernetes"
)

// ProviderSet is the Wire provider set for all external adapters. The
// caches are built by the caller because their TTLs come from
// configuration.
var ProviderSet = wire.NewSet(
	kubernetes.New,
	kubernetes.NewResourceRepo,
	kubernetes.NewDiscoveryClient,
	wire.Bind(new(core.CollectionLister), new(*kubernetes.ResourceRepo)),
	wire.Bind(new(core.Subscriber), new(*kubernetes.ResourceRepo)),
	wire.Bind(new(core.CollectionStore), new(*cache.CollectionCache)),
	wire.Bind(new(core.ServerVersioner), new(*cache.VersionCache)),
)
