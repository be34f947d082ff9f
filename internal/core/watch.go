package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// DefaultBootstrapTimeout bounds a single bulk fetch of a collection.
const DefaultBootstrapTimeout = 30 * time.Second

// minWatchListVersion is the minimum Kubernetes version that serves
// streaming lists (beta, default-on since 1.34).
// See https://kubernetes.io/docs/reference/using-api/api-concepts/#streaming-lists
var minWatchListVersion = semver.MustParse("v1.34.0")

// BootstrapTimeout is a distinct type so that Wire can inject it
// without confusing it with other durations.
type BootstrapTimeout time.Duration

// WatchUseCase is the entry point for consumers of watched
// collections. It bootstraps collections through the lister, shares
// upstream subscriptions through the Registry and offers a dedicated
// passthrough watch for callers that want the raw feed.
type WatchUseCase struct {
	registry   *Registry
	store      CollectionStore
	lister     CollectionLister
	subscriber Subscriber
	versioner  ServerVersioner
	timeout    time.Duration

	flights singleflight.Group
}

// NewWatchUseCase returns a WatchUseCase wired to the given registry
// and collaborators.
func NewWatchUseCase(
	registry *Registry,
	store CollectionStore,
	lister CollectionLister,
	subscriber Subscriber,
	versioner ServerVersioner,
	timeout BootstrapTimeout,
) *WatchUseCase {
	d := time.Duration(timeout)
	if d <= 0 {
		d = DefaultBootstrapTimeout
	}
	return &WatchUseCase{
		registry:   registry,
		store:      store,
		lister:     lister,
		subscriber: subscriber,
		versioner:  versioner,
		timeout:    d,
	}
}

// ---------------------------------------------------------------------------
// Shared collections
// ---------------------------------------------------------------------------

// Lease is one consumer's hold on a shared collection. It must be
// released exactly once; Release is idempotent.
type Lease struct {
	ID  string
	Key CollectionKey

	store   CollectionStore
	events  *EventQueue[ChangeEvent]
	release func()
}

// Events returns the queue of reconciled changes for this consumer.
// The queue is aborted when the lease is released.
func (l *Lease) Events() *EventQueue[ChangeEvent] {
	return l.events
}

// Snapshot reads the current cached collection.
func (l *Lease) Snapshot() (CachedCollection, bool) {
	return l.store.Get(l.Key.Canonical())
}

// Release gives up the lease.
func (l *Lease) Release() {
	l.release()
}

// Acquire registers interest in key, attaches an event queue and
// makes sure the collection is bootstrapped so that its subscription
// can start.
func (uc *WatchUseCase) Acquire(ctx context.Context, key CollectionKey) (*Lease, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	uc.registry.Register(key)

	events, cancel, ok := uc.registry.Observe(key)
	if !ok {
		uc.registry.Unregister(key)
		return nil, &ErrNotReady{Subsystem: "watch registry"}
	}

	lease := &Lease{
		ID:     uuid.NewString(),
		Key:    key,
		store:  uc.store,
		events: events,
		release: sync.OnceFunc(func() {
			cancel()
			uc.registry.Unregister(key)
		}),
	}

	if err := uc.Bootstrap(ctx, key); err != nil {
		lease.Release()
		return nil, err
	}

	slog.Debug("lease acquired", "lease", lease.ID, "collection", key.String())
	return lease, nil
}

// Bootstrap lists the collection when the store has no resume token for
// it yet, stores the result and nudges the registry. Concurrent calls
// for the same collection share one list request. The fetch runs on a
// non-cancellable context with its own timeout so that one caller's
// cancellation does not fail the others.
func (uc *WatchUseCase) Bootstrap(ctx context.Context, key CollectionKey) error {
	canonical := key.Canonical()

	if cur, ok := uc.store.Get(canonical); ok && cur.ResumeToken != "" {
		uc.registry.EnsureStarted(key)
		return nil
	}

	_, err, _ := uc.flights.Do(canonical, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.timeout)
		defer cancel()

		list, err := uc.lister.List(fetchCtx, key)
		if err != nil {
			return nil, err
		}
		if list.ResumeToken == "" {
			return nil, fmt.Errorf("list %s: no resource version returned", key)
		}

		uc.store.Set(canonical, func(cur CachedCollection, ok bool) CachedCollection {
			// A running subscription may already have moved the
			// collection past this listing.
			if ok && !newerVersion(list.ResumeToken, cur.ResumeToken) {
				return cur
			}
			if list.Items == nil {
				list.Items = make(map[string]Snapshot)
			}
			return list
		})
		return nil, nil
	})
	if err != nil {
		return err
	}

	uc.registry.EnsureStarted(key)
	return nil
}

// Resync bootstraps every dormant collection again. Collections whose
// feed ended are reopened from their last resume token, collections
// whose token expired are listed first. Failures are logged and retried
// on the next call.
func (uc *WatchUseCase) Resync(ctx context.Context) {
	for _, key := range uc.registry.DormantKeys() {
		if err := uc.Bootstrap(ctx, key); err != nil {
			slog.Warn("failed to resync collection", "collection", key.String(), "error", err)
		}
	}
}

// StartResyncLoop calls Resync every interval. It blocks until ctx is
// cancelled.
func (uc *WatchUseCase) StartResyncLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			uc.Resync(ctx)
		}
	}
}

// Snapshot returns the cached collection for key, if any.
func (uc *WatchUseCase) Snapshot(key CollectionKey) (CachedCollection, bool) {
	return uc.store.Get(key.Canonical())
}

// ---------------------------------------------------------------------------
// Passthrough watch
// ---------------------------------------------------------------------------

// Watch opens a dedicated upstream subscription for one caller and
// returns the queue its events are pushed into. Upstream errors are
// queued as error items, so a YieldEvents consumer ends at the first
// one. The subscription is closed and the queue aborted when ctx is
// done.
//
// With an empty resourceVersion, clusters that support streaming lists
// (Kubernetes v1.34+) replay the current state before the change feed.
func (uc *WatchUseCase) Watch(ctx context.Context, key CollectionKey, resourceVersion string) (*EventQueue[ChangeEvent], error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var opts SubscribeOptions
	if resourceVersion == "" {
		enabled, err := uc.watchListFeature(ctx, key.Cluster)
		if err != nil {
			return nil, err
		}
		opts.SendInitialEvents = enabled
	}

	queue := NewEventQueue[ChangeEvent]()

	sub, err := uc.subscriber.Subscribe(ctx, key, resourceVersion, opts, streamHandler{queue: queue})
	if err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
		queue.Abort()
	}()

	return queue, nil
}

// streamHandler routes upstream callbacks into a passthrough queue.
// Errors are queued as error items and end the consumer's sequence.
type streamHandler struct {
	queue *EventQueue[ChangeEvent]
}

func (h streamHandler) OnEvent(ev ChangeEvent) { h.queue.Emit(ev) }
func (h streamHandler) OnError(err error)      { h.queue.EmitError(err) }

// watchListFeature reports whether the cluster serves streaming lists.
func (uc *WatchUseCase) watchListFeature(ctx context.Context, cluster string) (bool, error) {
	version, err := uc.versioner.ServerVersion(ctx, cluster)
	if err != nil {
		return false, err
	}

	kubeVersion, err := semver.NewVersion(version)
	if err != nil {
		return false, err
	}

	return kubeVersion.GreaterThanEqual(minWatchListVersion), nil
}
