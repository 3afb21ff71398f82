// Package fifo provides the unbounded blocking queue behind delivery, control
// and reply queues.
package fifo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Get when a queue was closed without a reason.
var ErrClosed = errors.New("fifo: queue closed")

// Queue is an unbounded FIFO. Put never blocks; Get blocks until an item
// arrives, the queue is closed, or the context ends. Items put before Close
// are still handed out before the close error is reported.
type Queue[T any] struct {
	capacity int
	_length  atomic.Int64
	first    int
	last     int
	ring     []T
	closed   bool
	closeErr error

	lock       sync.Mutex
	notEmptyCh chan struct{}
}

// New returns an empty queue whose ring starts at initialSize slots.
func New[T any](initialSize int) *Queue[T] {
	if initialSize < 1 {
		initialSize = 1
	}
	return &Queue[T]{
		capacity:   initialSize,
		ring:       make([]T, initialSize),
		notEmptyCh: make(chan struct{}),
	}
}

func (queue *Queue[T]) notifyNotEmptyLocked() {
	close(queue.notEmptyCh)
	queue.notEmptyCh = make(chan struct{})
}

// Len reports the number of queued items.
func (queue *Queue[T]) Len() int {
	return int(queue._length.Load())
}

// Put appends value. It reports false when the queue is already closed.
func (queue *Queue[T]) Put(value T) bool {
	queue.lock.Lock()
	defer queue.lock.Unlock()
	if queue.closed {
		return false
	}

	if queue.capacity == queue.Len() {
		queue.resize()
	}

	if queue.Len() != 0 {
		queue.last = (queue.last + 1) % queue.capacity
	}
	queue.ring[queue.last] = value
	queue._length.Add(1)
	queue.notifyNotEmptyLocked()
	return true
}

func (queue *Queue[T]) dequeueLocked() T {
	var zero T
	value := queue.ring[queue.first]
	queue.ring[queue.first] = zero
	queue._length.Add(-1)

	if queue.Len() > 0 {
		queue.first = (queue.first + 1) % queue.capacity
	} else {
		queue.first = 0
		queue.last = 0
	}
	return value
}

// TryGet pops the head without waiting.
func (queue *Queue[T]) TryGet() (T, bool) {
	queue.lock.Lock()
	defer queue.lock.Unlock()

	if queue.Len() == 0 {
		var zero T
		return zero, false
	}
	return queue.dequeueLocked(), true
}

// Get pops the head, waiting for one to arrive.
func (queue *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		queue.lock.Lock()
		if queue.Len() > 0 {
			value := queue.dequeueLocked()
			queue.lock.Unlock()
			return value, nil
		}
		if queue.closed {
			err := queue.closeErr
			queue.lock.Unlock()
			return zero, err
		}
		waitCh := queue.notEmptyCh
		queue.lock.Unlock()

		select {
		case <-waitCh:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close wakes every waiter. The first reason wins; later calls are no-ops.
func (queue *Queue[T]) Close(reason error) {
	queue.lock.Lock()
	defer queue.lock.Unlock()
	if queue.closed {
		return
	}
	if reason == nil {
		reason = ErrClosed
	}
	queue.closed = true
	queue.closeErr = reason
	queue.notifyNotEmptyLocked()
}

// Err returns the close reason, or nil while the queue is open.
func (queue *Queue[T]) Err() error {
	queue.lock.Lock()
	defer queue.lock.Unlock()
	return queue.closeErr
}

func (queue *Queue[T]) resize() {
	newRing := make([]T, queue.capacity*2)

	currentLength := queue.Len()
	i, j := queue.first, 0
	for ; j < currentLength; j++ {
		newRing[j] = queue.ring[i]
		i = (i + 1) % queue.capacity
	}

	queue.ring = newRing
	queue.first = 0
	if j > 0 {
		queue.last = j - 1
	} else {
		queue.last = 0
	}

	queue.capacity *= 2
}
