package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/otterscale/otterscale-watch/internal/config"
	"github.com/otterscale/otterscale-watch/internal/core"
	"github.com/otterscale/otterscale-watch/internal/handler"
	"github.com/otterscale/otterscale-watch/internal/providers/cache"
)

type nopSubscriber struct{}

func (nopSubscriber) Subscribe(context.Context, core.CollectionKey, string, core.SubscribeOptions, core.EventHandler) (core.Subscription, error) {
	return nopSubscription{}, nil
}

type nopSubscription struct{}

func (nopSubscription) Unsubscribe() {}

type nopLister struct{}

func (nopLister) List(context.Context, core.CollectionKey) (core.CachedCollection, error) {
	return core.CachedCollection{ResumeToken: "1"}, nil
}

type nopVersioner struct{}

func (nopVersioner) ServerVersion(context.Context, string) (string, error) { return "v1.34.0", nil }

func newWatch(t *testing.T) (*core.WatchUseCase, *core.Registry, *cache.CollectionCache) {
	t.Helper()
	store := cache.NewCollectionCache(time.Minute)
	registry := core.NewRegistry(store, nopSubscriber{})
	t.Cleanup(registry.Close)
	return core.NewWatchUseCase(registry, store, nopLister{}, nopSubscriber{}, nopVersioner{}, 0), registry, store
}

// Mount installs a global meter provider, so it runs once per test
// binary.
func TestHandler_Mount(t *testing.T) {
	uc, _, _ := newWatch(t)
	h := NewHandler(handler.NewWatchService(uc))

	mux := http.NewServeMux()
	if err := h.Mount(mux); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "# HELP") && !strings.Contains(string(body), "target_info") {
		t.Errorf("/metrics body does not look like prometheus output: %.200s", body)
	}

	resp, err = http.Post(srv.URL+handler.WatchServiceSnapshotProcedure, "application/json",
		strings.NewReader(`{"cluster":"c1","version":"v1","resource":"pods"}`))
	if err != nil {
		t.Fatalf("POST Snapshot: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Snapshot status = %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "resourceVersion") {
		t.Errorf("Snapshot body = %s", body)
	}
}

func TestProvideBackgroundListeners(t *testing.T) {
	conf, err := config.New()
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}
	uc, registry, collections := newWatch(t)
	versions := cache.NewVersionCache(nopVersioner{}, time.Minute)

	listeners := ProvideBackgroundListeners(conf, uc, registry, collections, versions)
	if len(listeners) != 4 {
		t.Fatalf("listeners = %d, want 4", len(listeners))
	}

	registry.Register(core.CollectionKey{Cluster: "c1", Resource: schema.GroupVersionResource{Version: "v1", Resource: "pods"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, len(listeners))
	for _, l := range listeners {
		go func() {
			_ = l.Start(ctx)
			done <- struct{}{}
		}()
	}

	cancel()
	for range listeners {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("listener did not stop on cancel")
		}
	}

	for _, l := range listeners {
		if err := l.Stop(context.Background()); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	}
	if registry.Len() != 0 {
		t.Error("registry should be closed on shutdown")
	}
}
