package core

import (
	"context"
	"maps"

	toolscache "k8s.io/client-go/tools/cache"
)

// Snapshot is the last known state of one remote object together with
// its resource version. Object carries the raw Kubernetes resource as a
// generic map so that the domain layer does not depend on
// unstructured.Unstructured. Snapshots are treated as immutable once
// built.
type Snapshot struct {
	Name      string
	Namespace string
	Version   string
	Object    map[string]any
}

// Key returns the cache key of the object ("namespace/name", or
// "name" for cluster-scoped objects).
func (s Snapshot) Key() string {
	return objectKey(s.Namespace, s.Name)
}

func objectKey(namespace, name string) string {
	return toolscache.ObjectName{Namespace: namespace, Name: name}.String()
}

// CachedCollection is the locally cached state of one collection.
// ResumeToken is the collection-level resource version from which an
// upstream subscription can resume; it never regresses.
type CachedCollection struct {
	ResumeToken string
	Items       map[string]Snapshot
}

// Clone returns a copy whose item map can be mutated independently.
func (c CachedCollection) Clone() CachedCollection {
	return CachedCollection{
		ResumeToken: c.ResumeToken,
		Items:       maps.Clone(c.Items),
	}
}

// CollectionStore is the shared query-result store that owns cached
// collections. Keys are CollectionKey.Canonical values. Set applies fn
// atomically: fn receives the current collection (ok is false when
// none exists) and returns the replacement. Implementations live in the
// infrastructure layer (providers/cache).
type CollectionStore interface {
	Get(key string) (CachedCollection, bool)
	Set(key string, fn func(cur CachedCollection, ok bool) CachedCollection)
}

// CollectionLister performs the initial bulk fetch of a collection and
// returns its items together with the resume token of the listing.
type CollectionLister interface {
	List(ctx context.Context, key CollectionKey) (CachedCollection, error)
}

// ServerVersioner reports the Kubernetes version of a cluster.
type ServerVersioner interface {
	ServerVersion(ctx context.Context, cluster string) (string, error)
}
