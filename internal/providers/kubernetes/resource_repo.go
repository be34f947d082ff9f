package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"

	"github.com/otterscale/otterscale-watch/internal/core"
)

// listPageSize bounds a single page of a bootstrap list.
const listPageSize = 500

// ResourceRepo implements core.CollectionLister and core.Subscriber by
// delegating to the Kubernetes dynamic client. A collection spanning
// several namespaces is served by one list or watch per namespace.
type ResourceRepo struct {
	kubernetes *Kubernetes
	log        *slog.Logger
}

// NewResourceRepo returns the Kubernetes adapter for collections.
func NewResourceRepo(kubernetes *Kubernetes) *ResourceRepo {
	return &ResourceRepo{
		kubernetes: kubernetes,
		log:        slog.Default().With("component", "kubernetes-watch"),
	}
}

var (
	_ core.CollectionLister = (*ResourceRepo)(nil)
	_ core.Subscriber       = (*ResourceRepo)(nil)
)

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

// List fetches every object of the collection. When several namespaces
// are listed, the oldest list resource version becomes the resume
// token: replaying a few already-seen changes is harmless, missing some
// is not.
func (r *ResourceRepo) List(ctx context.Context, key core.CollectionKey) (core.CachedCollection, error) {
	client, err := r.kubernetes.dynamic(key.Cluster)
	if err != nil {
		return core.CachedCollection{}, err
	}

	result := core.CachedCollection{
		Items: make(map[string]core.Snapshot),
	}

	for _, ns := range namespacesOf(key) {
		items, rv, err := listAll(ctx, client.Resource(key.Resource).Namespace(ns), key.LabelSelector())
		if err != nil {
			return core.CachedCollection{}, err
		}

		for i := range items {
			snap := snapshotOf(&items[i])
			result.Items[snap.Key()] = snap
		}

		if result.ResumeToken == "" {
			result.ResumeToken = rv
		} else if cmp, ok := core.CompareVersions(rv, result.ResumeToken); ok && cmp < 0 {
			result.ResumeToken = rv
		}
	}

	return result, nil
}

// listAll pages through a list. The resource version of the first page
// is the one of the whole consistent snapshot.
func listAll(ctx context.Context, client dynamic.ResourceInterface, selector string) ([]unstructured.Unstructured, string, error) {
	opts := metav1.ListOptions{
		LabelSelector: selector,
		Limit:         listPageSize,
	}

	var (
		items []unstructured.Unstructured
		rv    string
	)
	for {
		list, err := client.List(ctx, opts)
		if err != nil {
			return nil, "", wrapK8sError(err)
		}
		if rv == "" {
			rv = list.GetResourceVersion()
		}
		items = append(items, list.Items...)

		next := list.GetContinue()
		if next == "" {
			return items, rv, nil
		}
		opts.Continue = next
	}
}

// ---------------------------------------------------------------------------
// Watch
// ---------------------------------------------------------------------------

// Subscribe opens one watch per namespace of the collection, resuming
// after resumeToken, and forwards the translated events to h. Bookmarks
// are always requested so that idle collections keep a fresh token.
func (r *ResourceRepo) Subscribe(
	ctx context.Context,
	key core.CollectionKey,
	resumeToken string,
	opts core.SubscribeOptions,
	h core.EventHandler,
) (core.Subscription, error) {
	client, err := r.kubernetes.dynamic(key.Cluster)
	if err != nil {
		return nil, err
	}

	listOpts := metav1.ListOptions{
		LabelSelector:       key.LabelSelector(),
		Watch:               true,
		AllowWatchBookmarks: true,
		ResourceVersion:     resumeToken,
	}

	if opts.SendInitialEvents {
		sendInitialEvents := true
		listOpts.ResourceVersionMatch = metav1.ResourceVersionMatchNotOlderThan
		listOpts.SendInitialEvents = &sendInitialEvents
	}

	sub := &subscription{
		key:     key,
		handler: h,
		log:     r.log,
		done:    make(chan struct{}),
	}

	namespaces := namespacesOf(key)
	for _, ns := range namespaces {
		w, err := client.Resource(key.Resource).Namespace(ns).Watch(ctx, listOpts)
		if err != nil {
			sub.Unsubscribe()
			return nil, wrapK8sError(err)
		}
		sub.watchers = append(sub.watchers, w)
	}

	for i, w := range sub.watchers {
		go sub.forward(namespaces[i], w)
	}

	return sub, nil
}

// subscription merges the watches of one collection. Each watch is
// forwarded by its own goroutine, so ordering holds per namespace.
type subscription struct {
	key      core.CollectionKey
	handler  core.EventHandler
	log      *slog.Logger
	watchers []watch.Interface

	stopOnce   sync.Once
	closedOnce sync.Once
	done       chan struct{}
}

// Unsubscribe stops every watch. It is safe to call more than once.
func (s *subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		close(s.done)
		for _, w := range s.watchers {
			w.Stop()
		}
	})
}

func (s *subscription) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// forward translates the events of w, the watch of namespace ns, until
// it ends. Bookmarks are tagged with ns so that progress is tracked per
// namespace. A watch that ends without Unsubscribe takes the whole
// subscription down and reports core.ErrSubscriptionClosed once.
func (s *subscription) forward(ns string, w watch.Interface) {
	for ev := range w.ResultChan() {
		if s.stopped() {
			return
		}

		change, err := toChangeEvent(ev)
		if err != nil {
			s.log.Warn("dropping watch event", "collection", s.key.String(), "type", ev.Type, "error", err)
			continue
		}
		if bookmark, ok := change.(core.Bookmark); ok {
			bookmark.Namespace = ns
			change = bookmark
		}
		s.handler.OnEvent(change)
	}

	if s.stopped() {
		return
	}
	s.closedOnce.Do(func() {
		s.Unsubscribe()
		s.handler.OnError(core.ErrSubscriptionClosed)
	})
}

// toChangeEvent translates a Kubernetes watch event.
func toChangeEvent(ev watch.Event) (core.ChangeEvent, error) {
	switch ev.Type {
	case watch.Added, watch.Modified, watch.Deleted:
		obj, ok := ev.Object.(*unstructured.Unstructured)
		if !ok {
			return nil, fmt.Errorf("unexpected object type %T", ev.Object)
		}
		snap := snapshotOf(obj)

		switch ev.Type {
		case watch.Added:
			return core.Added{Object: snap}, nil
		case watch.Modified:
			return core.Modified{Object: snap}, nil
		default:
			return core.Deleted{Name: snap.Name, Namespace: snap.Namespace, Version: snap.Version}, nil
		}

	case watch.Bookmark:
		accessor, err := meta.Accessor(ev.Object)
		if err != nil {
			return nil, err
		}
		return core.Bookmark{Version: accessor.GetResourceVersion()}, nil

	case watch.Error:
		return core.ErrorEvent{Err: watchError(ev.Object)}, nil
	}

	return nil, fmt.Errorf("unknown watch event type %q", ev.Type)
}

// watchError converts the status object of a watch error event. An
// expired resource version is marked with core.ErrResourceExpired.
func watchError(obj runtime.Object) error {
	err := apierrors.FromObject(obj)
	if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
		return fmt.Errorf("%w: %w", core.ErrResourceExpired, err)
	}
	return wrapK8sError(err)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// namespacesOf returns the namespaces to list or watch separately. An
// unrestricted collection is a single cluster-wide request.
func namespacesOf(key core.CollectionKey) []string {
	if ns := key.NormalizedNamespaces(); len(ns) > 0 {
		return ns
	}
	return []string{metav1.NamespaceAll}
}

func snapshotOf(obj *unstructured.Unstructured) core.Snapshot {
	return core.Snapshot{
		Name:      obj.GetName(),
		Namespace: obj.GetNamespace(),
		Version:   obj.GetResourceVersion(),
		Object:    obj.Object,
	}
}
