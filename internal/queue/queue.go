// Package queue provides the bounded, non-blocking-enqueue queues that
// decouple the pipeline's producer callbacks from its batch-processing loops.
package queue

import (
	"context"
	"time"
)

// Queue is a bounded FIFO queue. Enqueue never blocks: when the queue is
// full the item is rejected and the caller decides how to account for the
// drop. Consumers drain it in batches bounded by both a maximum count and a
// maximum wait.
type Queue[T any] struct {
	ch chan T
}

// New creates a Queue with the given capacity.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// TryEnqueue offers an item to the queue. It returns false immediately when
// the queue is full; it never blocks the caller.
func (q *Queue[T]) TryEnqueue(item T) bool {
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// Len returns the number of items currently queued.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// CollectBatch blocks until at least one item is available (or ctx is done),
// then keeps collecting until either maxSize items have been gathered or
// maxWait has elapsed since the first item arrived, whichever comes first.
// It returns the collected batch; the batch is empty only when ctx ended
// before any item arrived.
func (q *Queue[T]) CollectBatch(ctx context.Context, maxSize int, maxWait time.Duration) []T {
	var batch []T

	select {
	case <-ctx.Done():
		return nil
	case first := <-q.ch:
		batch = append(batch, first)
	}

	if maxSize <= 1 {
		return batch
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	for len(batch) < maxSize {
		select {
		case <-ctx.Done():
			return batch
		case <-timer.C:
			return batch
		case item := <-q.ch:
			batch = append(batch, item)
		}
	}
	return batch
}

// Drain removes and returns everything currently queued without waiting.
// It is used by the loops to flush remaining work on shutdown.
func (q *Queue[T]) Drain() []T {
	var items []T
	for {
		select {
		case item := <-q.ch:
			items = append(items, item)
		default:
			return items
		}
	}
}
