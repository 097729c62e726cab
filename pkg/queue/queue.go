// Package queue provides a bounded, blocking FIFO used to hand accepted
// connections from the acceptor to the worker pool.
package queue

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Push after Close, and by Pop once a closed queue
// has been drained.
var ErrClosed = errors.New("queue closed")

// Queue is a fixed-capacity FIFO backed by a circular buffer.
//
// Push blocks while the queue is full and Pop blocks while it is empty.
// Items are returned in exactly the order they were enqueued, across all
// producers. Ownership of an item moves with it: once Push returns the
// caller must not touch the item, and once Pop returns it belongs to the
// popping goroutine.
//
// Thread safety:
// All methods are safe for concurrent use.
type Queue[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	items  []T
	head   int
	count  int
	closed bool
}

// New creates a queue holding at most capacity items.
//
// Panics if capacity is not positive.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		panic(fmt.Sprintf("queue: invalid capacity %d: must be > 0", capacity))
	}

	q := &Queue[T]{
		items: make([]T, capacity),
	}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Push appends item at the tail, blocking while the queue is full.
//
// A single blocked consumer is woken. Returns ErrClosed if the queue was
// closed before the item could be enqueued; the item is then still owned
// by the caller.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == len(q.items) && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrClosed
	}

	tail := (q.head + q.count) % len(q.items)
	q.items[tail] = item
	q.count++

	q.notEmpty.Signal()
	return nil
}

// Pop removes and returns the item at the head, blocking while the queue is
// empty.
//
// A single blocked producer is woken. After Close, Pop keeps returning the
// remaining items in order and then returns ErrClosed.
func (q *Queue[T]) Pop() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.notEmpty.Wait()
	}

	var zero T
	if q.count == 0 {
		return zero, ErrClosed
	}

	item := q.items[q.head]
	q.items[q.head] = zero // drop the reference so the slot does not pin it
	q.head = (q.head + 1) % len(q.items)
	q.count--

	q.notFull.Signal()
	return item, nil
}

// Close stops the queue from accepting new items and wakes every blocked
// producer and consumer. Calling Close more than once is a no-op.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

// Len returns the number of items currently queued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the fixed capacity of the queue.
func (q *Queue[T]) Cap() int {
	return len(q.items)
}
