// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/Thejuampi/amqp-client-go/amqp/internal/fifo"
)

// ErrPipeClosed is returned by either end once the pipe has been closed.
var ErrPipeClosed = errors.New("testutil: pipe closed")

// Counter is a deterministic integer counter for tests.
type Counter struct {
	lock  sync.Mutex
	value int
}

// Next increments and returns counter value.
func (counter *Counter) Next() int {
	counter.lock.Lock()
	defer counter.lock.Unlock()
	counter.value++
	return counter.value
}

// Value returns the current counter value.
func (counter *Counter) Value() int {
	counter.lock.Lock()
	defer counter.lock.Unlock()
	return counter.value
}

// PipeEnd is one side of an in-memory duplex pipe.
type PipeEnd[T any] struct {
	in    *fifo.Queue[T]
	out   *fifo.Queue[T]
	close func()
}

// NewPipe returns the two connected ends of a pipe. Closing either end
// closes both directions.
func NewPipe[T any]() (*PipeEnd[T], *PipeEnd[T]) {
	left := fifo.New[T](16)
	right := fifo.New[T](16)
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			left.Close(ErrPipeClosed)
			right.Close(ErrPipeClosed)
		})
	}
	return &PipeEnd[T]{in: left, out: right, close: closeBoth},
		&PipeEnd[T]{in: right, out: left, close: closeBoth}
}

// Send delivers value to the other end.
func (end *PipeEnd[T]) Send(value T) error {
	if !end.out.Put(value) {
		return ErrPipeClosed
	}
	return nil
}

// Receive blocks for the next value from the other end. Values sent before
// Close are still returned.
func (end *PipeEnd[T]) Receive(ctx context.Context) (T, error) {
	return end.in.Get(ctx)
}

// Close closes both directions.
func (end *PipeEnd[T]) Close() error {
	end.close()
	return nil
}
