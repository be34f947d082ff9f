package core

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/otterscale/otterscale-watch/internal/core"

// Registry shares one upstream subscription per collection between any
// number of local consumers. Consumers Register interest in a
// CollectionKey and Unregister when done; the subscription is opened
// once a resume token for the collection is available in the store and
// closed when the last consumer leaves.
//
// Incoming events are reconciled into the CollectionStore in delivery
// order, one at a time per collection. The Registry never keeps its own
// copy of the cached items.
type Registry struct {
	store      CollectionStore
	subscriber Subscriber
	log        *slog.Logger
	metrics    registryMetrics

	// ctx bounds every subscription; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*registryEntry
	closed  bool
}

// registryEntry is the per-collection state. All fields are guarded by
// Registry.mu.
type registryEntry struct {
	key       CollectionKey
	canonical string
	refs      int

	// sub, stop and queue belong to the active subscription, if any.
	// starting is set while a subscription is being opened outside the
	// lock so that no second one is opened concurrently.
	sub      Subscription
	stop     context.CancelFunc
	queue    *EventQueue[ChangeEvent]
	starting bool
	gen      uint64

	// lastResumeToken is where the whole collection can resume. When
	// several namespaces are watched it is the lowest of their marks,
	// so that no feed skips changes it has not delivered yet.
	lastResumeToken string
	baseToken       string
	marks           map[string]string

	observers map[string]*EventQueue[ChangeEvent]
}

// openRequest captures what is needed to open a subscription once the
// registry lock has been released.
type openRequest struct {
	entry *registryEntry
	gen   uint64
	token string
}

// NewRegistry returns a Registry that reconciles into store and opens
// subscriptions through subscriber.
func NewRegistry(store CollectionStore, subscriber Subscriber) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		store:      store,
		subscriber: subscriber,
		log:        slog.Default().With("component", "watch-registry"),
		metrics:    newRegistryMetrics(),
		ctx:        ctx,
		cancel:     cancel,
		entries:    make(map[string]*registryEntry),
	}
}

// Register records one more consumer of key. The first registration
// creates the entry. If the entry has no subscription and the store
// already holds a resume token for the collection, a subscription is
// opened; otherwise the entry stays dormant until EnsureStarted.
func (r *Registry) Register(key CollectionKey) {
	canonical := key.Canonical()
	token := r.storedResumeToken(canonical)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.log.Warn("register after close ignored", "collection", key.String())
		return
	}

	e, ok := r.entries[canonical]
	if !ok {
		e = &registryEntry{
			key:       key,
			canonical: canonical,
			marks:     make(map[string]string),
			observers: make(map[string]*EventQueue[ChangeEvent]),
		}
		r.entries[canonical] = e
		r.metrics.entries.Add(context.Background(), 1)
		r.log.Info("collection registered", "collection", key.String())
	}
	e.refs++
	req, start := r.claimLocked(e, token)
	r.mu.Unlock()

	if start {
		r.open(req)
	}
}

// EnsureStarted opens the subscription for key if the entry exists,
// has none, and a resume token is now available. It is a no-op in
// every other case and safe to call repeatedly.
func (r *Registry) EnsureStarted(key CollectionKey) {
	canonical := key.Canonical()
	token := r.storedResumeToken(canonical)

	r.mu.Lock()
	e, ok := r.entries[canonical]
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}
	req, start := r.claimLocked(e, token)
	r.mu.Unlock()

	if start {
		r.open(req)
	}
}

// DormantKeys returns the keys of every registered collection that has
// no subscription and none being opened. A collection becomes dormant
// when its feed ended upstream or its resume token expired.
func (r *Registry) DormantKeys() []CollectionKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dormant []CollectionKey
	for _, e := range r.entries {
		if e.sub == nil && !e.starting {
			dormant = append(dormant, e.key)
		}
	}
	return dormant
}

// Unregister records that one consumer of key is gone. When the count
// drops to zero the subscription is closed, observers are released and
// the entry is removed. Calls without a matching Register are ignored.
func (r *Registry) Unregister(key CollectionKey) {
	canonical := key.Canonical()

	r.mu.Lock()
	e, ok := r.entries[canonical]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}

	delete(r.entries, canonical)
	sub, stop, queue := e.detachLocked()
	observers := slices.Collect(maps.Values(e.observers))
	clear(e.observers)
	r.mu.Unlock()

	r.metrics.entries.Add(context.Background(), -1)
	r.closeSubscription(e.key, sub, stop, queue)
	for _, q := range observers {
		q.Abort()
	}
	r.log.Info("collection unregistered", "collection", key.String())
}

// Observe attaches a consumer queue to the live entry for key. Every
// event that changes the cached collection, and every upstream error,
// is emitted to the queue as a plain item. The returned function
// detaches the queue and aborts it; it is safe to call more than once.
// ok is false when key is not registered.
func (r *Registry) Observe(key CollectionKey) (q *EventQueue[ChangeEvent], cancel func(), ok bool) {
	canonical := key.Canonical()

	r.mu.Lock()
	e, found := r.entries[canonical]
	if !found {
		r.mu.Unlock()
		return nil, nil, false
	}
	id := uuid.NewString()
	q = NewEventQueue[ChangeEvent]()
	e.observers[id] = q
	r.mu.Unlock()

	cancel = sync.OnceFunc(func() {
		r.mu.Lock()
		delete(e.observers, id)
		r.mu.Unlock()
		q.Abort()
	})
	return q, cancel, true
}

// IsRegistered reports whether key has at least one consumer.
func (r *Registry) IsRegistered(key CollectionKey) bool {
	return r.HasEntry(key.Canonical())
}

// HasEntry reports whether a collection with the given canonical key
// is registered. It is the retention predicate for cache eviction.
func (r *Registry) HasEntry(canonical string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[canonical]
	return ok
}

// Len returns the number of registered collections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes every subscription and drops all entries. Later
// registrations are ignored.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*registryEntry)

	type closing struct {
		key       CollectionKey
		sub       Subscription
		stop      context.CancelFunc
		queue     *EventQueue[ChangeEvent]
		observers []*EventQueue[ChangeEvent]
	}
	all := make([]closing, 0, len(entries))
	for _, e := range entries {
		sub, stop, queue := e.detachLocked()
		all = append(all, closing{
			key:       e.key,
			sub:       sub,
			stop:      stop,
			queue:     queue,
			observers: slices.Collect(maps.Values(e.observers)),
		})
		clear(e.observers)
	}
	r.mu.Unlock()

	for _, c := range all {
		r.metrics.entries.Add(context.Background(), -1)
		r.closeSubscription(c.key, c.sub, c.stop, c.queue)
		for _, q := range c.observers {
			q.Abort()
		}
	}
	r.cancel()
}

// ---------------------------------------------------------------------------
// Subscription lifecycle
// ---------------------------------------------------------------------------

// claimLocked decides whether e needs a subscription and, if so, marks
// it as starting. Must be called with mu held.
func (r *Registry) claimLocked(e *registryEntry, storeToken string) (openRequest, bool) {
	if e.sub != nil || e.starting {
		return openRequest{}, false
	}

	token := storeToken
	if newerVersion(e.lastResumeToken, token) {
		token = e.lastResumeToken
	}
	if token == "" {
		return openRequest{}, false
	}

	e.starting = true
	e.gen++
	e.baseToken = token
	clear(e.marks)
	return openRequest{entry: e, gen: e.gen, token: token}, true
}

// open calls the subscriber without holding mu and installs the
// resulting handle. If the entry was removed while the subscription was
// being opened, the new handle is closed right away.
func (r *Registry) open(req openRequest) {
	e := req.entry
	ctx, stop := context.WithCancel(r.ctx)
	queue := NewEventQueue[ChangeEvent]()

	sub, err := r.subscriber.Subscribe(ctx, e.key, req.token, SubscribeOptions{}, registryHandler{queue: queue})

	r.mu.Lock()
	e.starting = false
	if err != nil {
		r.mu.Unlock()
		stop()
		r.log.Warn("failed to open subscription", "collection", e.key.String(), "resourceVersion", req.token, "error", err)
		return
	}
	if r.closed || r.entries[e.canonical] != e {
		r.mu.Unlock()
		sub.Unsubscribe()
		queue.Abort()
		stop()
		r.log.Info("collection released while subscribing, closing subscription", "collection", e.key.String())
		return
	}
	e.sub = sub
	e.stop = stop
	e.queue = queue
	r.mu.Unlock()

	r.metrics.subscriptions.Add(context.Background(), 1)
	r.log.Info("subscription opened", "collection", e.key.String(), "resourceVersion", req.token)

	go r.reconcileLoop(ctx, e, req.gen, queue)
}

// detachLocked clears the subscription fields of e and returns them.
// Must be called with mu held.
func (e *registryEntry) detachLocked() (Subscription, context.CancelFunc, *EventQueue[ChangeEvent]) {
	sub, stop, queue := e.sub, e.stop, e.queue
	e.sub, e.stop, e.queue = nil, nil, nil
	return sub, stop, queue
}

func (r *Registry) closeSubscription(key CollectionKey, sub Subscription, stop context.CancelFunc, queue *EventQueue[ChangeEvent]) {
	if sub == nil {
		return
	}
	sub.Unsubscribe()
	queue.Abort()
	stop()
	r.metrics.subscriptions.Add(context.Background(), -1)
	r.log.Info("subscription closed", "collection", key.String())
}

// expireLocked forgets every resume token known for e so that the
// collection is listed again before a new subscription is opened.
// Must be called with mu held.
func (r *Registry) expireLocked(e *registryEntry) {
	e.lastResumeToken = ""
	e.baseToken = ""
	clear(e.marks)

	r.store.Set(e.canonical, func(cur CachedCollection, _ bool) CachedCollection {
		cur.ResumeToken = ""
		return cur
	})
}

// currentLocked reports whether gen is the live subscription of a
// registered e. Events of any other generation are stale. Must be
// called with mu held.
func (r *Registry) currentLocked(e *registryEntry, gen uint64) bool {
	return !r.closed && r.entries[e.canonical] == e && e.gen == gen && e.sub != nil
}

// advanceLocked records version as the mark of namespace ns and
// returns the token the collection can resume from. Must be called
// with mu held.
func (e *registryEntry) advanceLocked(ns, version string) string {
	namespaces := e.key.NormalizedNamespaces()
	if len(namespaces) < 2 {
		if newerVersion(version, e.lastResumeToken) {
			e.lastResumeToken = version
		}
		return e.lastResumeToken
	}

	if newerVersion(version, e.marks[ns]) {
		e.marks[ns] = version
	}
	low := ""
	for i, n := range namespaces {
		mark := e.marks[n]
		if mark == "" {
			mark = e.baseToken
		}
		if i == 0 || newerVersion(low, mark) {
			low = mark
		}
	}
	if newerVersion(low, e.lastResumeToken) {
		e.lastResumeToken = low
	}
	return e.lastResumeToken
}

func (r *Registry) storedResumeToken(canonical string) string {
	c, ok := r.store.Get(canonical)
	if !ok {
		return ""
	}
	return c.ResumeToken
}

// registryHandler routes upstream callbacks into the subscription
// queue. Errors are queued as plain ErrorEvent items; only the ones
// that detach the subscription end the reconcile loop.
type registryHandler struct {
	queue *EventQueue[ChangeEvent]
}

func (h registryHandler) OnEvent(ev ChangeEvent) { h.queue.Emit(ev) }
func (h registryHandler) OnError(err error)      { h.queue.Emit(ErrorEvent{Err: err}) }

// ---------------------------------------------------------------------------
// Reconciliation
// ---------------------------------------------------------------------------

// reconcileLoop applies the events of one subscription in order until
// the subscription is closed or replaced.
func (r *Registry) reconcileLoop(ctx context.Context, e *registryEntry, gen uint64, queue *EventQueue[ChangeEvent]) {
	for ev, err := range YieldEvents(ctx, queue, nil) {
		if err != nil {
			return
		}
		if !r.reconcile(e, gen, ev) {
			return
		}
	}
}

// reconcile applies a single event to the cached collection of e and
// fans it out to observers when it changed anything. It reports false
// once generation gen is no longer live; the event is then dropped.
//
// The liveness check and the store write happen under mu, so nothing
// from a detached or replaced subscription reaches the store.
func (r *Registry) reconcile(e *registryEntry, gen uint64, ev ChangeEvent) bool {
	r.metrics.events.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", string(ev.Type()))))

	r.mu.Lock()
	if !r.currentLocked(e, gen) {
		r.mu.Unlock()
		r.log.Debug("dropping event of stale subscription", "collection", e.key.String(), "type", ev.Type())
		return false
	}

	if errEv, ok := ev.(ErrorEvent); ok {
		var sub Subscription
		var stop context.CancelFunc
		var queue *EventQueue[ChangeEvent]
		switch {
		case errors.Is(errEv.Err, ErrResourceExpired):
			r.expireLocked(e)
			sub, stop, queue = e.detachLocked()
		case errors.Is(errEv.Err, ErrSubscriptionClosed):
			sub, stop, queue = e.detachLocked()
		}
		r.mu.Unlock()

		r.log.Warn("upstream error", "collection", e.key.String(), "error", errEv.Err)
		r.closeSubscription(e.key, sub, stop, queue)
		r.notify(e, ev)
		return sub == nil
	}

	if !wellFormed(ev) {
		r.mu.Unlock()
		r.log.Warn("dropping malformed event", "collection", e.key.String(), "type", ev.Type())
		return true
	}

	token := e.advanceLocked(eventNamespace(ev), eventVersion(ev))
	applied := false
	r.store.Set(e.canonical, func(cur CachedCollection, _ bool) CachedCollection {
		if cur.Items == nil {
			cur.Items = make(map[string]Snapshot)
		}
		applied = applyEvent(cur.Items, ev)
		if newerVersion(token, cur.ResumeToken) {
			cur.ResumeToken = token
		}
		return cur
	})
	r.mu.Unlock()

	if applied {
		r.notify(e, ev)
	}
	return true
}

func (r *Registry) notify(e *registryEntry, ev ChangeEvent) {
	r.mu.Lock()
	observers := slices.Collect(maps.Values(e.observers))
	r.mu.Unlock()

	for _, q := range observers {
		q.Emit(ev)
	}
}

// applyEvent mutates items according to ev and reports whether the
// cached state changed (bookmarks always count, they carry progress).
//
// Added always overwrites. Modified only overwrites when its version is
// newer than the cached one, and inserts when the object is unknown.
// Deleted removes the object regardless of versions: deletion is
// terminal and needs no version to compare against.
func applyEvent(items map[string]Snapshot, ev ChangeEvent) bool {
	switch ev := ev.(type) {
	case Added:
		items[ev.Object.Key()] = ev.Object
		return true

	case Modified:
		key := ev.Object.Key()
		if cur, ok := items[key]; ok && !newerVersion(ev.Object.Version, cur.Version) {
			return false
		}
		items[key] = ev.Object
		return true

	case Deleted:
		key := ev.Key()
		if _, ok := items[key]; !ok {
			return false
		}
		delete(items, key)
		return true

	case Bookmark:
		return true

	case ErrorEvent:
		return false
	}
	return false
}

// wellFormed rejects object events without a name.
func wellFormed(ev ChangeEvent) bool {
	switch ev := ev.(type) {
	case Added:
		return ev.Object.Name != ""
	case Modified:
		return ev.Object.Name != ""
	case Deleted:
		return ev.Name != ""
	case Bookmark, ErrorEvent:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

type registryMetrics struct {
	entries       metric.Int64UpDownCounter
	subscriptions metric.Int64UpDownCounter
	events        metric.Int64Counter
}

func newRegistryMetrics() registryMetrics {
	meter := otel.Meter(meterName)
	m := registryMetrics{
		entries:       noop.Int64UpDownCounter{},
		subscriptions: noop.Int64UpDownCounter{},
		events:        noop.Int64Counter{},
	}

	if c, err := meter.Int64UpDownCounter("watch.registry.entries",
		metric.WithDescription("Registered watch collections")); err == nil {
		m.entries = c
	}
	if c, err := meter.Int64UpDownCounter("watch.registry.subscriptions",
		metric.WithDescription("Open upstream subscriptions")); err == nil {
		m.subscriptions = c
	}
	if c, err := meter.Int64Counter("watch.registry.events",
		metric.WithDescription("Change events reconciled into the collection cache")); err == nil {
		m.events = c
	}
	return m
}
