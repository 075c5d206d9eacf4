// Package resilience provides the circuit breaker that sits in front of every
// dependency lifelogger cannot vouch for: archive sinks (disk, PostgreSQL) and
// external encoder binaries.
//
// A [CircuitBreaker] is a three-state breaker (closed → open → half-open).
// While open it rejects calls immediately with [ErrCircuitOpen], so a dead
// database or a missing binary costs one fast error per archive tick instead
// of a full timeout.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through. All of them
	// succeeding closes the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks, e.g. "archive/disk".
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed while half-open.
	// Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the breaker. Nil
	// counts every error except context cancellation.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition with the
	// breaker's mutex released.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenOK      int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		state:         StateClosed,
	}
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
		cb.halfOpenOK = 0
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	probe := cb.state == StateHalfOpen
	if probe {
		cb.halfOpenCalls++
	}
	mid := cb.state
	cb.mu.Unlock()
	cb.notify(from, mid)

	err := fn()

	cb.mu.Lock()
	before := cb.state
	switch {
	case err != nil && cb.isFailure(err):
		cb.recordFailure(probe)
	case err == nil:
		cb.recordSuccess(probe)
	}
	after := cb.state
	cb.mu.Unlock()
	cb.notify(before, after)
	return err
}

// ExecuteContext is Execute for functions that take a context. A context
// already done is reported without consulting the breaker.
func (cb *CircuitBreaker) ExecuteContext(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return cb.Execute(func() error { return fn(ctx) })
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(probe bool) {
	cb.lastFailure = time.Now()
	if probe || cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.consecutiveFail = cb.maxFailures
		return
	}
	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.maxFailures {
		cb.state = StateOpen
	}
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(probe bool) {
	if !probe {
		cb.consecutiveFail = 0
		return
	}
	if cb.state != StateHalfOpen {
		return
	}
	cb.halfOpenOK++
	if cb.halfOpenOK >= cb.halfOpenMax {
		cb.state = StateClosed
		cb.consecutiveFail = 0
		cb.halfOpenCalls = 0
		cb.halfOpenOK = 0
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from == to {
		return
	}
	slog.Info("circuit breaker state change", "name", cb.name, "from", from, "to", to)
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenOK = 0
	cb.mu.Unlock()
	cb.notify(from, StateClosed)
}
