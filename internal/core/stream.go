package core

import (
	"context"
	"iter"
)

// YieldEvents exposes q as an ordered, cancellable sequence. Each
// iteration step waits for the queue to become non-empty, then drains
// everything currently queued in FIFO order.
//
// The first error-tagged item is passed through mapErr (identity when
// nil), yielded as (zero, err) and ends the sequence; items queued
// behind it are never yielded. The sequence also ends when ctx is done,
// even with items still queued, or when q is aborted and empty. Each call starts a fresh iteration
// over the same queue; items are consumed, so no item is yielded twice.
func YieldEvents[T any](ctx context.Context, q *EventQueue[T], mapErr func(error) error) iter.Seq2[T, error] {
	if mapErr == nil {
		mapErr = func(err error) error { return err }
	}

	return func(yield func(T, error) bool) {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := q.WaitForNext(ctx); err != nil {
				return
			}

			for ctx.Err() == nil {
				item, ok, err := q.Shift()
				if !ok {
					break
				}
				if err != nil {
					var zero T
					yield(zero, mapErr(err))
					return
				}
				if !yield(item, nil) {
					return
				}
			}

			if q.IsAborted() && q.IsEmpty() {
				return
			}
		}
	}
}
