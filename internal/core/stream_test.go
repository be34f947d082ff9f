package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// collect drains seq into a slice and returns the terminating error.
func collect[T any](t *testing.T, ctx context.Context, q *EventQueue[T], mapErr func(error) error) ([]T, error) {
	t.Helper()

	var (
		got []T
		end error
	)
	for v, err := range YieldEvents(ctx, q, mapErr) {
		if err != nil {
			end = err
			continue
		}
		got = append(got, v)
	}
	return got, end
}

func TestYieldEvents_OrderAndAbort(t *testing.T) {
	q := NewEventQueue[int]()
	q.Emit(1)
	q.Emit(2)
	q.Emit(3)
	q.Abort()

	got, err := collect(t, context.Background(), q, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if fmt.Sprint(got) != "[1 2 3]" {
		t.Errorf("got %v, want [1 2 3]", got)
	}
}

func TestYieldEvents_ErrorTerminates(t *testing.T) {
	q := NewEventQueue[int]()
	boom := errors.New("boom")

	q.Emit(1)
	q.EmitError(boom)
	q.Emit(2)

	mapped := errors.New("mapped")
	got, err := collect(t, context.Background(), q, func(err error) error {
		if !errors.Is(err, boom) {
			t.Errorf("mapErr received %v", err)
		}
		return fmt.Errorf("%w: %w", mapped, err)
	})

	if !errors.Is(err, mapped) || !errors.Is(err, boom) {
		t.Fatalf("terminating error = %v", err)
	}
	if fmt.Sprint(got) != "[1]" {
		t.Errorf("got %v, want [1]", got)
	}
	// The item behind the error is never yielded but stays queued.
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
}

func TestYieldEvents_StreamsLiveItems(t *testing.T) {
	q := NewEventQueue[int]()

	go func() {
		for i := range 3 {
			time.Sleep(5 * time.Millisecond)
			q.Emit(i)
		}
		q.Abort()
	}()

	got, err := collect(t, context.Background(), q, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if fmt.Sprint(got) != "[0 1 2]" {
		t.Errorf("got %v, want [0 1 2]", got)
	}
}

func TestYieldEvents_ContextCancel(t *testing.T) {
	q := NewEventQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan []int, 1)
	go func() {
		got, _ := collect(t, ctx, q, nil)
		done <- got
	}()

	q.Emit(1)
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case got := <-done:
		if len(got) > 1 {
			t.Errorf("got %v, want at most [1]", got)
		}
	case <-time.After(time.Second):
		t.Fatal("YieldEvents did not stop on cancel")
	}
}

func TestYieldEvents_BreakStopsConsumption(t *testing.T) {
	q := NewEventQueue[int]()
	q.Emit(1)
	q.Emit(2)

	for v := range YieldEvents(context.Background(), q, nil) {
		if v != 1 {
			t.Fatalf("first item = %d", v)
		}
		break
	}

	// The second item was not consumed and is yielded by a new
	// iteration.
	if v, ok, _ := q.Shift(); !ok || v != 2 {
		t.Errorf("remaining item = (%d, %v), want (2, true)", v, ok)
	}
}

func TestYieldEvents_CancelStopsBacklog(t *testing.T) {
	q := NewEventQueue[int]()
	for i := range 100 {
		q.Emit(i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got []int
	for v, err := range YieldEvents(ctx, q, nil) {
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		got = append(got, v)
		if v == 2 {
			cancel()
		}
	}

	if fmt.Sprint(got) != "[0 1 2]" {
		t.Errorf("got %v, want [0 1 2]", got)
	}
	if q.Len() != 97 {
		t.Errorf("Len = %d, want 97", q.Len())
	}
}
