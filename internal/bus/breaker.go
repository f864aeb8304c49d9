package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/kubently/kubently/internal/pkg/metrics"
)

// ErrCircuitOpen is returned when the breaker is open and dispatches are
// failing fast instead of piling onto an unavailable Redis.
var ErrCircuitOpen = errors.New("circuit breaker is open: command bus unavailable")

// BreakerState represents the state of the bus circuit breaker.
type BreakerState int

const (
	StateClosed   BreakerState = iota // Normal operation
	StateOpen                         // Circuit is open, failing fast
	StateHalfOpen                     // Testing if the bus recovered
)

// Breaker implements a circuit breaker around bus operations. After 5
// consecutive transport failures the circuit opens for 30 seconds, turning
// publish and store attempts into immediate Unavailable errors.
type Breaker struct {
	mu sync.RWMutex

	failureThreshold int
	openDuration     time.Duration
	halfOpenMaxCalls int

	state             BreakerState
	failureCount      int
	lastFailureTime   time.Time
	halfOpenCallCount int
	lastStateChange   time.Time
}

// NewBreaker creates a breaker with default settings.
func NewBreaker() *Breaker {
	b := &Breaker{
		failureThreshold: 5,
		openDuration:     30 * time.Second,
		halfOpenMaxCalls: 1,
		state:            StateClosed,
		lastStateChange:  time.Now(),
	}
	metrics.BusBreakerState.Set(float64(StateClosed))
	return b
}

func (b *Breaker) setState(newState BreakerState) {
	if b.state != newState {
		metrics.BusBreakerTransitionsTotal.WithLabelValues(stateToString(b.state), stateToString(newState)).Inc()
		metrics.BusBreakerState.Set(float64(newState))

		b.state = newState
		b.lastStateChange = time.Now()
	}
}

func stateToString(state BreakerState) string {
	switch state {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Execute runs fn with circuit breaker protection.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	b.mu.RLock()
	state := b.state
	b.mu.RUnlock()

	switch state {
	case StateOpen:
		b.mu.Lock()
		if time.Since(b.lastFailureTime) >= b.openDuration {
			b.setState(StateHalfOpen)
			b.halfOpenCallCount = 0
			state = StateHalfOpen
		}
		b.mu.Unlock()

		if state == StateOpen {
			return ErrCircuitOpen
		}

	case StateHalfOpen:
		b.mu.Lock()
		if b.halfOpenCallCount >= b.halfOpenMaxCalls {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.halfOpenCallCount++
		b.mu.Unlock()
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		if isTransportError(err) {
			b.failureCount++
			b.lastFailureTime = time.Now()

			if b.state == StateHalfOpen {
				b.setState(StateOpen)
				b.halfOpenCallCount = 0
			} else if b.failureCount >= b.failureThreshold {
				b.setState(StateOpen)
			}
		} else {
			// Application-level error, the bus itself is healthy
			b.failureCount = 0
		}
		return err
	}

	b.failureCount = 0
	if b.state != StateClosed {
		b.setState(StateClosed)
		b.halfOpenCallCount = 0
	}

	return nil
}

// State returns the current state of the breaker.
func (b *Breaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// FailureCount returns the current consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failureCount
}

// isTransportError checks whether an error indicates the bus transport is
// unhealthy, as opposed to an application-level condition.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := err.Error()
	for _, sub := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"timeout",
		"unreachable",
		"no such host",
		"dial tcp",
		"i/o timeout",
		"EOF",
		"LOADING",
		"CLUSTERDOWN",
	} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
