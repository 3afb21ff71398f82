package amqp

import (
	"context"
	"errors"
	"sync"

	"github.com/Thejuampi/amqp-client-go/amqp/internal/fifo"
)

const initialQueueSize = 64

// Message is one delivery handed to application code.
type Message struct {
	Channel     uint16
	Destination string
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
	Body        []byte
	Properties  *Struct
	Method      Method
}

// DeliveryQueue is the unbounded FIFO of messages for one delivery key.
type DeliveryQueue struct {
	key   string
	queue *fifo.Queue[*Message]
}

// Key is the destination or consumer tag the queue is keyed by.
func (queue *DeliveryQueue) Key() string { return queue.key }

// Len reports the number of buffered messages.
func (queue *DeliveryQueue) Len() int { return queue.queue.Len() }

// Get waits for the next message. Once the client is closed and the queue is
// drained it returns the closure reason.
func (queue *DeliveryQueue) Get(ctx context.Context) (*Message, error) {
	message, err := queue.queue.Get(ctx)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil, NewError(TimedOutError, err)
	}
	return message, err
}

// TryGet returns the next message without waiting.
func (queue *DeliveryQueue) TryGet() (*Message, bool) {
	return queue.queue.TryGet()
}

func (queue *DeliveryQueue) put(message *Message) bool {
	return queue.queue.Put(message)
}

// deliveryRegistry guards only queue membership; contents synchronize
// through the queues themselves.
type deliveryRegistry struct {
	lock     sync.Mutex
	queues   map[string]*DeliveryQueue
	closeErr error
}

func newDeliveryRegistry() *deliveryRegistry {
	return &deliveryRegistry{queues: make(map[string]*DeliveryQueue)}
}

func (registry *deliveryRegistry) queue(key string) *DeliveryQueue {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	if queue, exists := registry.queues[key]; exists {
		return queue
	}
	queue := &DeliveryQueue{key: key, queue: fifo.New[*Message](initialQueueSize)}
	if registry.closeErr != nil {
		queue.queue.Close(registry.closeErr)
	}
	registry.queues[key] = queue
	return queue
}

func (registry *deliveryRegistry) closeAll(reason error) {
	registry.lock.Lock()
	if registry.closeErr != nil {
		registry.lock.Unlock()
		return
	}
	registry.closeErr = reason
	queues := make([]*DeliveryQueue, 0, len(registry.queues))
	for _, queue := range registry.queues {
		queues = append(queues, queue)
	}
	registry.lock.Unlock()

	for _, queue := range queues {
		queue.queue.Close(reason)
	}
}

func (registry *deliveryRegistry) keys() []string {
	registry.lock.Lock()
	defer registry.lock.Unlock()
	keys := make([]string, 0, len(registry.queues))
	for key := range registry.queues {
		keys = append(keys, key)
	}
	return keys
}
