// Package queue implements the bounded single-producer/single-consumer
// FIFOs used for every plane crossing in the router (spec.md §5):
// capacity 1000, blocking put, blocking take. Design Notes calls for
// replacing the original's busy-wait-on-ready() spin with a genuine
// blocking put on the same channel, which is what Put does here;
// Ready/Incoming remain as non-blocking predicates for callers that
// still want to poll (the forwarder's main loop, per spec.md §4.1).
package queue

import "context"

// Capacity is the fixed bounded-queue size mandated by spec.md §5.
const Capacity = 1000

// Queue is a generic bounded FIFO with one producer and one consumer.
type Queue[T any] struct {
	ch chan T
}

// New creates a queue with the standard Capacity.
func New[T any]() *Queue[T] {
	return &Queue[T]{ch: make(chan T, Capacity)}
}

// Put blocks until there is room or ctx is cancelled.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	select {
	case q.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPut attempts a non-blocking put, returning false if the queue is full.
// Used at the substrate ingress, where spec.md §7 requires silent drop on
// back-pressure rather than blocking the receive loop.
func (q *Queue[T]) TryPut(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// Take blocks until an item is available or ctx is cancelled.
func (q *Queue[T]) Take(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-q.ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Ready reports whether Put would not block right now.
func (q *Queue[T]) Ready() bool {
	return len(q.ch) < cap(q.ch)
}

// Incoming reports whether Take would not block right now.
func (q *Queue[T]) Incoming() bool {
	return len(q.ch) > 0
}
