package gradebook

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/go-peergrade/internal/domain"
	"github.com/ahrav/go-peergrade/internal/ports"
)

// ErrCircuitOpen indicates that the circuit breaker rejected a push without
// contacting the ledger.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the current state of a circuit breaker.
type CircuitBreakerState int

// Circuit breaker states.
const (
	// StateClosed lets every push through.
	StateClosed CircuitBreakerState = iota

	// StateOpen rejects pushes until the cooldown expires.
	StateOpen

	// StateHalfOpen lets one push through to probe recovery.
	StateHalfOpen
)

// String returns the state name.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// CircuitBreaker opens after maxFailures consecutive failures and stays
// open for the cooldown before probing with a single call.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitBreakerState
	failureCount     int
	maxFailures      int
	cooldownDuration time.Duration
	lastFailure      time.Time
	now              func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the specified configuration.
func NewCircuitBreaker(maxFailures int, cooldownDuration time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		maxFailures:      maxFailures,
		cooldownDuration: cooldownDuration,
		now:              time.Now,
	}
}

// Call executes fn through the circuit breaker. If the circuit is open it
// returns ErrCircuitOpen without calling fn.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailure) < cb.cooldownDuration {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
	}

	err := fn()
	if err == nil {
		cb.failureCount = 0
		cb.state = StateClosed
		return nil
	}

	cb.failureCount++
	cb.lastFailure = cb.now()
	if cb.state == StateHalfOpen || cb.failureCount >= cb.maxFailures {
		cb.state = StateOpen
	}
	return err
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

type circuitBreakerGradebook struct {
	next ports.Gradebook
	cb   *CircuitBreaker
}

// CircuitBreakerMiddleware creates middleware that stops calling the ledger
// after maxFailures consecutive errors, for cooldown.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration) Middleware {
	return CircuitBreakerMiddlewareWith(NewCircuitBreaker(maxFailures, cooldown))
}

// CircuitBreakerMiddlewareWith creates middleware around an existing
// breaker so callers can inspect its state.
func CircuitBreakerMiddlewareWith(cb *CircuitBreaker) Middleware {
	return func(next ports.Gradebook) ports.Gradebook {
		return &circuitBreakerGradebook{next: next, cb: cb}
	}
}

// PushGradebookScore executes the push through the circuit breaker.
func (c *circuitBreakerGradebook) PushGradebookScore(ctx context.Context, student domain.ParticipantID, rawScore float64) error {
	return c.cb.Call(func() error {
		return c.next.PushGradebookScore(ctx, student, rawScore)
	})
}
