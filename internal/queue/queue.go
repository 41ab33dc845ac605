package queue

import (
	"errors"
	"sync"
)

// ErrClosed is returned when pushing onto a queue whose consumer has gone away.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded multi-producer single-consumer FIFO.
//
// Producers never block. The consumer waits on Ready and then drains everything
// that accumulated in one call.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	ready  chan struct{}
	closed bool
}

// New constructs an empty open queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Push appends an item and wakes the consumer.
func (q *Queue[T]) Push(item T) error {
	if q == nil {
		return ErrClosed
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	//1.- Signal without blocking; one pending wake-up covers any number of pushes.
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Ready fires at least once after a push that the consumer has not drained yet.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Drain appends every queued item to dst in FIFO order and empties the queue.
func (q *Queue[T]) Drain(dst []T) []T {
	if q == nil {
		return dst
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return dst
	}
	dst = append(dst, q.items...)
	//1.- Zero the backing array so drained values can be collected.
	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.items = q.items[:0]
	return dst
}

// Len reports how many items are waiting.
func (q *Queue[T]) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects future pushes and discards anything still pending. Safe to call
// more than once.
func (q *Queue[T]) Close() {
	if q == nil {
		return
	}
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	if q == nil {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
