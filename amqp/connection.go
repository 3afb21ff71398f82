package amqp

import (
	"context"
	"math"
	"sync"
	"time"
)

// Connection is a framed transport. Implementations encode and decode frames;
// the client never sees bytes. Close must unblock a pending ReadFrame.
type Connection interface {
	// Init performs transport-level start-up such as writing the protocol header.
	Init() error
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
	Close() error
}

// Dialer establishes a Connection to address ("host:port").
type Dialer func(ctx context.Context, address string) (Connection, error)

// ReconnectDelayStrategy decides how long to wait before the next dial attempt.
type ReconnectDelayStrategy interface {
	GetConnectWaitDuration(address string) (time.Duration, error)
	Reset()
}

// RetryDialer wraps dialer so that failed dials are retried up to attempts
// times, sleeping per strategy between tries. The client itself never
// retries; this is for callers that want backoff at construction time.
func RetryDialer(dialer Dialer, strategy ReconnectDelayStrategy, attempts int) Dialer {
	if attempts < 1 {
		attempts = 1
	}
	return func(ctx context.Context, address string) (Connection, error) {
		var lastErr error
		for attempt := 0; attempt < attempts; attempt++ {
			if attempt > 0 && strategy != nil {
				delay, err := strategy.GetConnectWaitDuration(address)
				if err != nil {
					return nil, err
				}
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				}
			}

			connection, err := dialer(ctx, address)
			if err == nil {
				if strategy != nil {
					strategy.Reset()
				}
				return connection, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}

// FixedDelayStrategy makes RetryDialer wait the same Delay before every
// redial.
type FixedDelayStrategy struct {
	Delay time.Duration
}

// NewFixedDelayStrategy returns a strategy that waits delay between dials.
// A negative delay redials at once.
func NewFixedDelayStrategy(delay time.Duration) *FixedDelayStrategy {
	if delay < 0 {
		delay = 0
	}
	return &FixedDelayStrategy{Delay: delay}
}

// GetConnectWaitDuration returns the pause before the next dial of address.
func (strategy *FixedDelayStrategy) GetConnectWaitDuration(address string) (time.Duration, error) {
	if strategy == nil {
		return 0, nil
	}
	return strategy.Delay, nil
}

// Reset is a no-op; a fixed delay keeps no per-address history.
func (strategy *FixedDelayStrategy) Reset() {}

// ExponentialDelayStrategy backs off redials of one broker address: the
// first retry waits BaseDelay and each later one multiplies it by Factor,
// capped at MaxDelay. RetryDialer resets it after a successful dial.
type ExponentialDelayStrategy struct {
	lock      sync.Mutex
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	attempts  map[string]uint32
}

// NewExponentialDelayStrategy returns a backoff for RetryDialer. A maxDelay
// of zero caps at 30s and a factor below 1 doubles.
func NewExponentialDelayStrategy(baseDelay time.Duration, maxDelay time.Duration, factor float64) *ExponentialDelayStrategy {
	if baseDelay < 0 {
		baseDelay = 0
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if factor < 1 {
		factor = 2
	}
	return &ExponentialDelayStrategy{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		Factor:    factor,
		attempts:  make(map[string]uint32),
	}
}

// GetConnectWaitDuration returns the pause before the next dial of address
// and counts the attempt.
func (strategy *ExponentialDelayStrategy) GetConnectWaitDuration(address string) (time.Duration, error) {
	if strategy == nil {
		return 0, nil
	}

	strategy.lock.Lock()
	defer strategy.lock.Unlock()

	if address == "" {
		address = "_default"
	}

	attempt := strategy.attempts[address]
	strategy.attempts[address] = attempt + 1

	delay := strategy.BaseDelay
	if attempt > 0 && delay > 0 {
		delayFloat := float64(delay) * math.Pow(strategy.Factor, float64(attempt))
		if delayFloat > float64(strategy.MaxDelay) {
			delayFloat = float64(strategy.MaxDelay)
		}
		delay = time.Duration(delayFloat)
	}
	if delay > strategy.MaxDelay {
		delay = strategy.MaxDelay
	}
	return delay, nil
}

// Reset forgets every address's attempt count, so the next failed dial
// waits BaseDelay again.
func (strategy *ExponentialDelayStrategy) Reset() {
	if strategy == nil {
		return
	}
	strategy.lock.Lock()
	strategy.attempts = make(map[string]uint32)
	strategy.lock.Unlock()
}
