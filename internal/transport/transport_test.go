package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// blockingListener blocks in Start until ctx is done and counts Stop
// calls.
type blockingListener struct {
	stops atomic.Int32
}

func (l *blockingListener) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (l *blockingListener) Stop(context.Context) error {
	l.stops.Add(1)
	return nil
}

type failingListener struct {
	err error
}

func (l failingListener) Start(context.Context) error { return l.err }
func (l failingListener) Stop(context.Context) error  { return nil }

func TestServe_StopsAllOnCancel(t *testing.T) {
	a, b := &blockingListener{}, &blockingListener{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, a, b) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if a.stops.Load() != 1 || b.stops.Load() != 1 {
		t.Errorf("stops = %d/%d, want 1/1", a.stops.Load(), b.stops.Load())
	}
}

func TestServe_ListenerFailureStopsOthers(t *testing.T) {
	want := errors.New("listen failed")
	other := &blockingListener{}

	done := make(chan error, 1)
	go func() { done <- Serve(context.Background(), other, failingListener{err: want}) }()

	select {
	case err := <-done:
		if !errors.Is(err, want) {
			t.Fatalf("Serve() error = %v, want %v", err, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after listener failure")
	}

	if other.stops.Load() != 1 {
		t.Errorf("stops = %d, want 1", other.stops.Load())
	}
}
