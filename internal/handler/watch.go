package handler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/otterscale/otterscale-watch/internal/core"
)

// WatchServiceName is the fully-qualified name of the watch service.
const WatchServiceName = "otterscale.watch.v1.WatchService"

// Procedure paths of the watch service.
const (
	WatchServiceWatchProcedure    = "/" + WatchServiceName + "/Watch"
	WatchServiceSyncProcedure     = "/" + WatchServiceName + "/Sync"
	WatchServiceSnapshotProcedure = "/" + WatchServiceName + "/Snapshot"
)

// WatchService serves watched collections over ConnectRPC. Requests
// and responses are google.protobuf.Struct messages.
type WatchService struct {
	watch *core.WatchUseCase
}

// NewWatchService returns a WatchService backed by the given use case.
func NewWatchService(watch *core.WatchUseCase) *WatchService {
	return &WatchService{
		watch: watch,
	}
}

// Handler returns the path prefix and HTTP handler for the service,
// in the shape of generated connect constructors.
func (s *WatchService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	watch := connect.NewServerStreamHandler(WatchServiceWatchProcedure, s.Watch, opts...)
	sync := connect.NewServerStreamHandler(WatchServiceSyncProcedure, s.Sync, opts...)
	snapshot := connect.NewUnaryHandler(WatchServiceSnapshotProcedure, s.Snapshot, opts...)

	return "/" + WatchServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case WatchServiceWatchProcedure:
			watch.ServeHTTP(w, r)
		case WatchServiceSyncProcedure:
			sync.ServeHTTP(w, r)
		case WatchServiceSnapshotProcedure:
			snapshot.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// ---------------------------------------------------------------------------
// RPCs
// ---------------------------------------------------------------------------

// Watch streams the raw change feed of a collection to one caller. The
// stream ends when the client cancels or with the first upstream error.
func (s *WatchService) Watch(ctx context.Context, req *connect.Request[structpb.Struct], stream *connect.ServerStream[structpb.Struct]) error {
	key, resourceVersion, err := parseWatchRequest(req.Msg)
	if err != nil {
		return domainErrorToConnectError(err)
	}

	events, err := s.watch.Watch(ctx, key, resourceVersion)
	if err != nil {
		return domainErrorToConnectError(err)
	}

	for ev, err := range core.YieldEvents(ctx, events, domainErrorToConnectError) {
		if err != nil {
			return err
		}

		msg, err := toEventMessage(ev)
		if err != nil {
			slog.Warn("watch: skipping event", "error", err)
			continue
		}

		if err := stream.Send(msg); err != nil {
			return err
		}
	}

	return nil
}

// Sync joins the shared subscription of a collection. The client first
// receives the cached items as ADDED events and a BOOKMARK carrying the
// resume token, then every change the cache reconciles. Items changed
// while the snapshot is sent may be delivered twice; clients apply
// events by key and version.
func (s *WatchService) Sync(ctx context.Context, req *connect.Request[structpb.Struct], stream *connect.ServerStream[structpb.Struct]) error {
	key, _, err := parseWatchRequest(req.Msg)
	if err != nil {
		return domainErrorToConnectError(err)
	}

	lease, err := s.watch.Acquire(ctx, key)
	if err != nil {
		return domainErrorToConnectError(err)
	}
	defer lease.Release()

	log := slog.With("lease", lease.ID, "collection", key.String())
	log.Debug("sync started")

	if collection, ok := lease.Snapshot(); ok {
		for _, snap := range sortedSnapshots(collection) {
			msg, err := toEventMessage(core.Added{Object: snap})
			if err != nil {
				log.Warn("sync: skipping item", "item", snap.Key(), "error", err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}

		msg, err := toEventMessage(core.Bookmark{Version: collection.ResumeToken})
		if err != nil {
			return err
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}

	for ev, err := range core.YieldEvents(ctx, lease.Events(), domainErrorToConnectError) {
		if err != nil {
			return err
		}

		msg, err := toEventMessage(ev)
		if err != nil {
			log.Warn("sync: skipping event", "error", err)
			continue
		}

		if err := stream.Send(msg); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	return connect.NewError(connect.CodeUnavailable, errors.New("collection closed"))
}

// Snapshot returns the cached collection, bootstrapping it first when
// needed. Without an active Sync consumer the cache may lag behind the
// cluster by the time it takes to resume the subscription.
func (s *WatchService) Snapshot(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	key, _, err := parseWatchRequest(req.Msg)
	if err != nil {
		return nil, domainErrorToConnectError(err)
	}

	lease, err := s.watch.Acquire(ctx, key)
	if err != nil {
		return nil, domainErrorToConnectError(err)
	}
	defer lease.Release()

	collection, ok := lease.Snapshot()
	if !ok {
		return nil, connect.NewError(connect.CodeUnavailable, fmt.Errorf("collection %s not cached", key))
	}

	msg, err := toSnapshotMessage(collection)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(msg), nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// parseWatchRequest reads the collection key and resource version from
// a request message. Absent fields are zero values; fields of the wrong
// kind are rejected.
func parseWatchRequest(msg *structpb.Struct) (core.CollectionKey, string, error) {
	fields := msg.GetFields()

	str := func(name string) (string, error) {
		v, ok := fields[name]
		if !ok {
			return "", nil
		}
		if _, ok := v.GetKind().(*structpb.Value_StringValue); !ok {
			return "", &core.ErrInvalidInput{Field: name, Message: "must be a string"}
		}
		return v.GetStringValue(), nil
	}

	var (
		key core.CollectionKey
		gvr schema.GroupVersionResource
		rv  string
	)

	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"cluster", &key.Cluster},
		{"group", &gvr.Group},
		{"version", &gvr.Version},
		{"resource", &gvr.Resource},
		{"resourceVersion", &rv},
	} {
		v, err := str(f.name)
		if err != nil {
			return core.CollectionKey{}, "", err
		}
		*f.dst = v
	}
	key.Resource = gvr

	if v, ok := fields["namespaces"]; ok {
		list, ok := v.GetKind().(*structpb.Value_ListValue)
		if !ok {
			return core.CollectionKey{}, "", &core.ErrInvalidInput{Field: "namespaces", Message: "must be a list of strings"}
		}
		for _, ns := range list.ListValue.GetValues() {
			if _, ok := ns.GetKind().(*structpb.Value_StringValue); !ok {
				return core.CollectionKey{}, "", &core.ErrInvalidInput{Field: "namespaces", Message: "must be a list of strings"}
			}
			key.Namespaces = append(key.Namespaces, ns.GetStringValue())
		}
	}

	if v, ok := fields["labels"]; ok {
		obj, ok := v.GetKind().(*structpb.Value_StructValue)
		if !ok {
			return core.CollectionKey{}, "", &core.ErrInvalidInput{Field: "labels", Message: "must be an object of strings"}
		}
		for k, lv := range obj.StructValue.GetFields() {
			if _, ok := lv.GetKind().(*structpb.Value_StringValue); !ok {
				return core.CollectionKey{}, "", &core.ErrInvalidInput{Field: "labels", Message: "must be an object of strings"}
			}
			if key.Labels == nil {
				key.Labels = make(map[string]string)
			}
			key.Labels[k] = lv.GetStringValue()
		}
	}

	return key, rv, nil
}

// toEventMessage converts a change event into its wire form.
func toEventMessage(ev core.ChangeEvent) (*structpb.Struct, error) {
	fields := map[string]any{
		"type": string(ev.Type()),
	}

	switch ev := ev.(type) {
	case core.Added:
		setSnapshotFields(fields, ev.Object)
	case core.Modified:
		setSnapshotFields(fields, ev.Object)
	case core.Deleted:
		fields["name"] = ev.Name
		fields["namespace"] = ev.Namespace
		fields["resourceVersion"] = ev.Version
	case core.Bookmark:
		fields["resourceVersion"] = ev.Version
	case core.ErrorEvent:
		if ev.Err != nil {
			fields["message"] = ev.Err.Error()
		}
	default:
		return nil, fmt.Errorf("unknown event type: %s", ev.Type())
	}

	return structpb.NewStruct(fields)
}

// toSnapshotMessage renders a cached collection as
// {resourceVersion, items: [...]} with items ordered by key.
func toSnapshotMessage(collection core.CachedCollection) (*structpb.Struct, error) {
	snaps := sortedSnapshots(collection)
	items := make([]any, 0, len(snaps))
	for _, snap := range snaps {
		if snap.Object == nil {
			continue
		}
		items = append(items, sanitized(snap.Object))
	}

	return structpb.NewStruct(map[string]any{
		"resourceVersion": collection.ResumeToken,
		"items":           items,
	})
}

func setSnapshotFields(fields map[string]any, snap core.Snapshot) {
	fields["name"] = snap.Name
	fields["namespace"] = snap.Namespace
	fields["resourceVersion"] = snap.Version
	if snap.Object != nil {
		fields["object"] = sanitized(snap.Object)
	}
}

// sanitized returns a cleaned deep copy of obj. Cached objects are
// shared and must not be modified.
func sanitized(obj map[string]any) map[string]any {
	out := runtime.DeepCopyJSON(obj)
	cleanObject(out)
	return out
}

func sortedSnapshots(collection core.CachedCollection) []core.Snapshot {
	snaps := make([]core.Snapshot, 0, len(collection.Items))
	for _, snap := range collection.Items {
		snaps = append(snaps, snap)
	}
	slices.SortFunc(snaps, func(a, b core.Snapshot) int {
		return cmp.Compare(a.Key(), b.Key())
	})
	return snaps
}
