package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := NewEventQueue[int]()

	for i := range 5 {
		q.Emit(i)
	}
	if q.Len() != 5 {
		t.Fatalf("Len = %d, want 5", q.Len())
	}

	for want := range 5 {
		got, ok, err := q.Shift()
		if !ok || err != nil {
			t.Fatalf("Shift = (%d, %v, %v), want item", got, ok, err)
		}
		if got != want {
			t.Errorf("Shift = %d, want %d", got, want)
		}
	}

	if !q.IsEmpty() {
		t.Error("queue should be empty after draining")
	}
	if _, ok, _ := q.Shift(); ok {
		t.Error("Shift on empty queue should report ok=false")
	}
}

func TestEventQueue_EmitError(t *testing.T) {
	q := NewEventQueue[string]()
	boom := errors.New("boom")

	q.Emit("a")
	q.EmitError(boom)

	if v, ok, err := q.Shift(); !ok || err != nil || v != "a" {
		t.Fatalf("first Shift = (%q, %v, %v)", v, ok, err)
	}
	if _, ok, err := q.Shift(); !ok || !errors.Is(err, boom) {
		t.Fatalf("second Shift = (%v, %v), want error item", ok, err)
	}
}

func TestEventQueue_AbortStopsEmission(t *testing.T) {
	q := NewEventQueue[int]()

	q.Emit(1)
	q.Abort()
	q.Emit(2)
	q.EmitError(errors.New("late"))

	if !q.IsAborted() {
		t.Fatal("IsAborted = false after Abort")
	}
	// Items queued before the abort stay drainable.
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}
	if v, ok, _ := q.Shift(); !ok || v != 1 {
		t.Errorf("Shift = (%d, %v), want (1, true)", v, ok)
	}

	// Idempotent.
	q.Abort()
}

func TestEventQueue_WaitForNext(t *testing.T) {
	t.Run("returns immediately when non-empty", func(t *testing.T) {
		q := NewEventQueue[int]()
		q.Emit(1)
		if err := q.WaitForNext(context.Background()); err != nil {
			t.Fatalf("WaitForNext = %v", err)
		}
	})

	t.Run("wakes on emit", func(t *testing.T) {
		q := NewEventQueue[int]()
		done := make(chan error, 1)
		go func() { done <- q.WaitForNext(context.Background()) }()

		time.Sleep(10 * time.Millisecond)
		q.Emit(1)

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("WaitForNext = %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("WaitForNext did not wake on Emit")
		}
	})

	t.Run("wakes on abort", func(t *testing.T) {
		q := NewEventQueue[int]()
		done := make(chan error, 1)
		go func() { done <- q.WaitForNext(context.Background()) }()

		time.Sleep(10 * time.Millisecond)
		q.Abort()

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("WaitForNext = %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("WaitForNext did not wake on Abort")
		}
	})

	t.Run("returns ctx error on cancel", func(t *testing.T) {
		q := NewEventQueue[int]()
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- q.WaitForNext(ctx) }()

		cancel()

		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("WaitForNext = %v, want context.Canceled", err)
			}
		case <-time.After(time.Second):
			t.Fatal("WaitForNext did not return on cancel")
		}
	})
}
