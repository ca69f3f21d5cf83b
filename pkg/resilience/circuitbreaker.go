// Package resilience provides the fault-tolerance primitives used around
// model backend calls: a circuit breaker shared by every request on the
// same credential, bounded retry with backoff, and a per-call timeout that
// separates slow backends from impatient callers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the backend while the breaker
// is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the phase of a CircuitBreaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// outcome is how a finished call counts against the breaker.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// outcomeIgnored leaves the failure streak untouched. Calls the caller
	// abandoned say nothing about backend health.
	outcomeIgnored
)

// CircuitBreakerConfig controls when a CircuitBreaker opens and how it
// recovers.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker. Default 5.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before letting a
	// trial call through. Default 30s.
	ResetTimeout time.Duration
	// HalfOpenMaxRequests bounds concurrent trial calls. Default 1.
	HalfOpenMaxRequests int
	// IsFailure decides which errors count as backend failures. Errors it
	// rejects count as successes since the backend did answer. Nil counts
	// every error.
	IsFailure func(err error) bool
	// OnStateChange, when set, is called with the breaker lock held after
	// every transition.
	OnStateChange func(name string, to State)
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// CircuitBreaker stops calling a backend after consecutive failures and lets
// a bounded number of trial calls through once ResetTimeout has passed.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trials   int
}

// NewCircuitBreaker creates a closed CircuitBreaker.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn if the breaker admits it. When fn fails after ctx is
// already done the call is not counted, so one caller's deadline cannot
// open the breaker for everyone sharing it.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(cb.classify(ctx, err))
	return err
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker and clears the failure streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.trials = 0
	cb.transition(StateClosed, "manual reset")
}

func (cb *CircuitBreaker) classify(ctx context.Context, err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case CallerDone(ctx, err):
		return outcomeIgnored
	case cb.cfg.IsFailure != nil && !cb.cfg.IsFailure(err):
		return outcomeSuccess
	}
	return outcomeFailure
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - cb.cfg.Now().Sub(cb.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, cb.name, wait.Round(10*time.Millisecond))
		}
		cb.trials = 0
		cb.transition(StateHalfOpen, "reset timeout elapsed")
		fallthrough
	case StateHalfOpen:
		if cb.trials >= cb.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s (trial call in flight)", ErrCircuitOpen, cb.name)
		}
		cb.trials++
	}
	return nil
}

func (cb *CircuitBreaker) record(o outcome) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.trials > 0 {
		cb.trials--
	}
	switch o {
	case outcomeIgnored:
		return
	case outcomeSuccess:
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.transition(StateClosed, "trial call succeeded")
		}
		return
	}
	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.openedAt = cb.cfg.Now()
		cb.transition(StateOpen, "trial call failed")
	case cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold:
		cb.openedAt = cb.cfg.Now()
		cb.transition(StateOpen, fmt.Sprintf("%d consecutive failures", cb.failures))
	}
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State, why string) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, to)
	}
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	cb.logger.Log(context.Background(), level, "circuit state changed", "from", from.String(), "to", to.String(), "reason", why)
}
