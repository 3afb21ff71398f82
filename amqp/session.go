package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Thejuampi/amqp-client-go/amqp/internal/fifo"
)

// Session is one logical channel multiplexed over the client's connection.
type Session struct {
	client     *Client
	id         uint16
	name       string
	references *References
	completion *completion
	acquired   *fifo.Queue[*MessageAcquired]
	replies    *fifo.Queue[Method]

	lock          sync.Mutex
	futures       map[uint32]*Future
	nextCommandID uint32
	reason        error

	callLock  sync.Mutex
	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(client *Client, id uint16) *Session {
	return &Session{
		client:     client,
		id:         id,
		name:       uuid.NewString(),
		references: newReferences(),
		completion: newCompletion(),
		acquired:   fifo.New[*MessageAcquired](8),
		replies:    fifo.New[Method](4),
		futures:    make(map[uint32]*Future),
		done:       make(chan struct{}),
	}
}

// ID is the channel number the session is multiplexed on.
func (session *Session) ID() uint16 { return session.id }

// Name is the session name sent with session.open.
func (session *Session) Name() string { return session.name }

// References holds the session's reference bodies being reassembled.
func (session *Session) References() *References { return session.references }

// Done is closed when the session has been closed by either side.
func (session *Session) Done() <-chan struct{} { return session.done }

// Err returns the close reason, or nil while the session is usable.
func (session *Session) Err() error {
	session.lock.Lock()
	defer session.lock.Unlock()
	return session.reason
}

// Open performs the session.open / session.attached exchange.
func (session *Session) Open(ctx context.Context) error {
	reply, err := session.call(ctx, &SessionOpen{Name: session.name})
	if err != nil {
		return err
	}
	if _, ok := reply.(*SessionAttached); !ok {
		return NewError(ProtocolError, fmt.Sprintf("expected session.attached, got %s", reply.MethodName()))
	}
	return nil
}

// Close closes the session on the wire, fails whatever is still pending and
// frees the id for reuse. Closing twice is a no-op.
func (session *Session) Close(ctx context.Context) error {
	if !session.closing.CompareAndSwap(false, true) {
		return nil
	}

	if session.Err() == nil {
		if err := session.client.send(session.id, &SessionClose{}); err == nil {
			select {
			case <-session.done:
			case <-ctx.Done():
			}
		}
	}

	session.markClosed(NewError(ClosedError, fmt.Sprintf("session %d closed", session.id)))
	session.client.deregister(session)
	return nil
}

// markClosed records reason and fails every waiter. Only the first reason
// is kept.
func (session *Session) markClosed(reason error) {
	session.closeOnce.Do(func() {
		session.lock.Lock()
		session.reason = reason
		pending := session.futures
		session.futures = make(map[uint32]*Future)
		session.lock.Unlock()

		for _, future := range pending {
			future.complete(nil, reason)
		}
		session.replies.Close(reason)
		session.acquired.Close(reason)
		session.completion.close(reason)
		session.references.discard()
		close(session.done)
	})
}

// call sends request and waits for the next reply on this channel. Calls on
// one session are serialized.
func (session *Session) call(ctx context.Context, request Method) (Method, error) {
	session.callLock.Lock()
	defer session.callLock.Unlock()

	if err := session.Err(); err != nil {
		return nil, err
	}
	if err := session.client.send(session.id, request); err != nil {
		return nil, err
	}
	reply, err := session.replies.Get(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, NewError(TimedOutError, err)
		}
		return nil, err
	}
	return reply, nil
}

// RegisterFuture creates the future for commandID.
func (session *Session) RegisterFuture(commandID uint32) (*Future, error) {
	session.lock.Lock()
	defer session.lock.Unlock()
	return session.registerFutureLocked(commandID)
}

func (session *Session) registerFutureLocked(commandID uint32) (*Future, error) {
	if session.reason != nil {
		return nil, session.reason
	}
	if _, exists := session.futures[commandID]; exists {
		return nil, NewError(UsageError, fmt.Sprintf("command %d already has a pending future", commandID))
	}
	future := newFuture(commandID)
	session.futures[commandID] = future
	return future, nil
}

// Resolve completes the future of commandID with value.
func (session *Session) Resolve(commandID uint32, value *Struct) error {
	session.lock.Lock()
	future, exists := session.futures[commandID]
	if exists {
		delete(session.futures, commandID)
	}
	session.lock.Unlock()

	if !exists {
		return NewError(ProtocolError, fmt.Sprintf("result for unknown command %d on session %d", commandID, session.id))
	}
	future.complete(value, nil)
	return nil
}

// PendingFutures reports how many futures are still unresolved.
func (session *Session) PendingFutures() int {
	session.lock.Lock()
	defer session.lock.Unlock()
	return len(session.futures)
}

// Execute sends a command under the next command id and returns the future
// that its execution.result resolves.
func (session *Session) Execute(ctx context.Context, name string, arguments *Struct) (*Future, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError(TimedOutError, err)
	}

	session.lock.Lock()
	commandID := session.nextCommandID
	future, err := session.registerFutureLocked(commandID)
	if err != nil {
		session.lock.Unlock()
		return nil, err
	}
	session.nextCommandID++
	session.lock.Unlock()

	if err := session.client.send(session.id, &ExecutionCommand{CommandID: commandID, Name: name, Arguments: arguments}); err != nil {
		session.lock.Lock()
		delete(session.futures, commandID)
		session.lock.Unlock()
		future.complete(nil, err)
		return nil, err
	}
	return future, nil
}

// Call executes a command and waits for its result.
func (session *Session) Call(ctx context.Context, name string, arguments *Struct) (*Struct, error) {
	future, err := session.Execute(ctx, name, arguments)
	if err != nil {
		return nil, err
	}
	return future.Get(ctx)
}

// Completed reports whether the peer has marked commandID complete.
func (session *Session) Completed(commandID uint32) bool {
	return session.completion.completed(commandID)
}

// WaitCompleted waits until commandID is covered by the completion mark.
func (session *Session) WaitCompleted(ctx context.Context, commandID uint32) error {
	return session.completion.wait(ctx, commandID)
}

// Acquired waits for the next message.acquired notification.
func (session *Session) Acquired(ctx context.Context) (*MessageAcquired, error) {
	acquired, err := session.acquired.Get(ctx)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil, NewError(TimedOutError, err)
	}
	return acquired, err
}

func (session *Session) String() string {
	return fmt.Sprintf("session[%d %s]", session.id, session.name)
}
