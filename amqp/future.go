package amqp

import (
	"context"
	"sync"
)

// Future is the pending result of one command on a session.
type Future struct {
	commandID uint32
	done      chan struct{}
	once      sync.Once
	value     *Struct
	err       error
}

func newFuture(commandID uint32) *Future {
	return &Future{commandID: commandID, done: make(chan struct{})}
}

// CommandID is the command the future resolves.
func (future *Future) CommandID() uint32 { return future.commandID }

// Done is closed once the future is resolved or failed.
func (future *Future) Done() <-chan struct{} { return future.done }

// Get waits for the result.
func (future *Future) Get(ctx context.Context) (*Struct, error) {
	select {
	case <-future.done:
		return future.value, future.err
	case <-ctx.Done():
		return nil, NewError(TimedOutError, ctx.Err())
	}
}

func (future *Future) complete(value *Struct, err error) bool {
	completed := false
	future.once.Do(func() {
		future.value = value
		future.err = err
		close(future.done)
		completed = true
	})
	return completed
}

// completion tracks the cumulative execution mark reported by the peer.
type completion struct {
	lock    sync.Mutex
	mark    uint32
	hasMark bool
	changed chan struct{}
	err     error
}

func newCompletion() *completion {
	return &completion{changed: make(chan struct{})}
}

func (tracker *completion) complete(mark uint32) {
	tracker.lock.Lock()
	defer tracker.lock.Unlock()
	if tracker.hasMark && mark <= tracker.mark {
		return
	}
	tracker.mark = mark
	tracker.hasMark = true
	close(tracker.changed)
	tracker.changed = make(chan struct{})
}

func (tracker *completion) completed(commandID uint32) bool {
	tracker.lock.Lock()
	defer tracker.lock.Unlock()
	return tracker.hasMark && commandID <= tracker.mark
}

func (tracker *completion) wait(ctx context.Context, commandID uint32) error {
	for {
		tracker.lock.Lock()
		if tracker.hasMark && commandID <= tracker.mark {
			tracker.lock.Unlock()
			return nil
		}
		if tracker.err != nil {
			err := tracker.err
			tracker.lock.Unlock()
			return err
		}
		changed := tracker.changed
		tracker.lock.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return NewError(TimedOutError, ctx.Err())
		}
	}
}

func (tracker *completion) close(err error) {
	tracker.lock.Lock()
	defer tracker.lock.Unlock()
	if tracker.err != nil {
		return
	}
	tracker.err = err
	close(tracker.changed)
	tracker.changed = make(chan struct{})
}
