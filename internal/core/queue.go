package core

import (
	"context"
	"sync"
)

// queueItem is either a value or an error tag.
type queueItem[T any] struct {
	value T
	err   error
}

// EventQueue is an unbounded FIFO that decouples a push-style
// producer (callbacks fired at arbitrary times) from a pull-style
// consumer. Producers call Emit/EmitError and never block; the
// consumer suspends in WaitForNext and drains with Shift.
//
// Abort marks the queue as finished: later emits are dropped, but
// items queued before the abort stay available so a consumer that is
// already draining can finish them.
type EventQueue[T any] struct {
	mu      sync.Mutex
	items   []queueItem[T]
	aborted bool

	// notify has capacity 1 and is signalled whenever the queue
	// gains an item or is aborted.
	notify chan struct{}
}

// NewEventQueue returns an empty, open EventQueue.
func NewEventQueue[T any]() *EventQueue[T] {
	return &EventQueue[T]{notify: make(chan struct{}, 1)}
}

// Emit appends item to the tail. It is a no-op after Abort.
func (q *EventQueue[T]) Emit(item T) {
	q.push(queueItem[T]{value: item})
}

// EmitError appends an error-tagged item. It is a no-op after Abort.
func (q *EventQueue[T]) EmitError(err error) {
	q.push(queueItem[T]{err: err})
}

func (q *EventQueue[T]) push(it queueItem[T]) {
	q.mu.Lock()
	if q.aborted {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, it)
	q.mu.Unlock()

	q.signal()
}

// Shift removes and returns the head item. ok is false when the queue
// is empty. err is non-nil for error-tagged items.
func (q *EventQueue[T]) Shift() (item T, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return item, false, nil
	}

	head := q.items[0]
	q.items[0] = queueItem[T]{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return head.value, true, head.err
}

// IsEmpty reports whether no items are pending.
func (q *EventQueue[T]) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Len returns the number of pending items.
func (q *EventQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsAborted reports whether Abort has been called.
func (q *EventQueue[T]) IsAborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborted
}

// Abort stops the queue from accepting new items and wakes any
// waiter. It is safe to call multiple times and from either side.
func (q *EventQueue[T]) Abort() {
	q.mu.Lock()
	if q.aborted {
		q.mu.Unlock()
		return
	}
	q.aborted = true
	q.mu.Unlock()

	q.signal()
}

// WaitForNext blocks until the queue is non-empty, the queue is
// aborted, or ctx is done. It returns ctx.Err() in the last case and
// nil otherwise.
func (q *EventQueue[T]) WaitForNext(ctx context.Context) error {
	for {
		q.mu.Lock()
		ready := len(q.items) > 0 || q.aborted
		q.mu.Unlock()

		if ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *EventQueue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
