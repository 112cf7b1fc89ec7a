// Package dispatch decouples accepting requests from processing them: a
// bounded, closeable queue feeds a fixed pool of workers.
package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push once the queue has been closed.
var ErrClosed = errors.New("dispatch: queue closed")

// Queue is a bounded FIFO safe for concurrent producers and consumers.
type Queue[T any] struct {
	items chan T

	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a queue holding at most capacity pending items.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{items: make(chan T, capacity)}
}

// Push enqueues item, blocking while the queue is full. It fails with
// ErrClosed after Close, or with the context error if ctx ends first.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop dequeues the next item, blocking while the queue is empty and open.
// ok is false once the queue is closed and fully drained.
func (q *Queue[T]) Pop() (item T, ok bool) {
	item, ok = <-q.items
	return item, ok
}

// Close stops the queue from accepting items. Items already queued are still
// delivered by Pop. Close waits for in-progress Push calls and is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.items)
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}
