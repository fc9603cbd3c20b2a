package queue

import (
	"context"
	"sync"
	"time"
)

// TaskQueue is an unbounded FIFO; Offer never blocks so the watcher can
// always hand work over, back-pressure comes from the worker pools
type TaskQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
}

// NewTaskQueue creates an empty queue
func NewTaskQueue[T any]() *TaskQueue[T] {
	return &TaskQueue[T]{notify: make(chan struct{}, 1)}
}

// Offer appends an item
func (q *TaskQueue[T]) Offer(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Poll removes the head item, waiting at most timeout. ok is false on
// timeout or when ctx is done.
func (q *TaskQueue[T]) Poll(ctx context.Context, timeout time.Duration) (item T, ok bool) {
	if item, ok = q.tryPop(); ok {
		return item, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.notify:
			if item, ok = q.tryPop(); ok {
				return item, true
			}
		case <-timer.C:
			return q.tryPop()
		case <-ctx.Done():
			return item, false
		}
	}
}

func (q *TaskQueue[T]) tryPop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		// keep the signal armed for the next consumer
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return item, true
}

// Len returns the number of queued items
func (q *TaskQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
