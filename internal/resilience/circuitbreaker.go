// Package resilience provides circuit breaker and provider failover primitives.
//
// The central type is [CircuitBreaker], a classic three-state breaker
// (closed, open, half-open) that keeps a dead speech or language provider from
// stalling every voice turn until its stage timeout.
// [FallbackGroup] composes multiple instances of any provider type with per-entry
// circuit breakers so that a failing primary is automatically bypassed in favour
// of healthy fallbacks.
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

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has elapsed.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
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

// Defaults applied by [NewCircuitBreaker] to zero config fields.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name identifies the guarded provider in logs and state callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again,
	// and the most probes admitted per half-open period.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the breaker. Default:
	// every error except [context.Canceled]; a user hanging up mid-turn says
	// nothing about the provider.
	IsFailure func(error) bool

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Default: [time.Now].
	Now func() time.Time
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// BreakerStatus is a point-in-time view of a breaker.
type BreakerStatus struct {
	Name                string
	State               State
	ConsecutiveFailures int

	// RetryAt is when an open breaker will admit its next probe. Zero unless
	// State is StateOpen.
	RetryAt time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int // consecutive, closed state
	openedAt  time.Time
	probes    int // admitted, half-open state
	probeWins int // successes, half-open state
}

// NewCircuitBreaker creates a closed [CircuitBreaker]. Zero config fields are
// replaced with the package defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn if the breaker admits the call. A ctx that is already done
// is returned as is, without calling fn or touching the counters.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	probe, notify, err := cb.admit()
	notify()
	if err != nil {
		return err
	}

	err = fn(ctx)

	cb.mu.Lock()
	switch {
	case err == nil:
		notify = cb.onSuccess(probe)
	case cb.cfg.IsFailure(err):
		notify = cb.onFailure(probe)
	default:
		if probe {
			cb.probes--
		}
		notify = func() {}
	}
	cb.mu.Unlock()
	notify()
	return err
}

// admit decides whether a call may proceed and whether it is a half-open
// probe. The returned notify must be called after the lock is released.
func (cb *CircuitBreaker) admit() (probe bool, notify func(), err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	notify = func() {}
	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, notify, ErrCircuitOpen
		}
		notify = cb.transition(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, notify, ErrCircuitOpen
		}
		cb.probes++
		return true, notify, nil
	}
	return false, notify, nil
}

// onSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) onSuccess(probe bool) func() {
	if !probe {
		cb.failures = 0
		return func() {}
	}
	if cb.state != StateHalfOpen {
		// A concurrent probe already decided the outcome.
		return func() {}
	}
	cb.probeWins++
	if cb.probeWins >= cb.cfg.HalfOpenMax {
		return cb.transition(StateClosed)
	}
	return func() {}
}

// onFailure must be called with cb.mu held.
func (cb *CircuitBreaker) onFailure(probe bool) func() {
	switch {
	case probe && cb.state == StateHalfOpen:
		return cb.transition(StateOpen)
	case cb.state == StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			return cb.transition(StateOpen)
		}
	}
	return func() {}
}

// transition moves the breaker to `to`, resetting the counters that belong to
// the new state. It must be called with cb.mu held; the returned func logs and
// fires OnStateChange and must run after the lock is released.
func (cb *CircuitBreaker) transition(to State) func() {
	from := cb.state
	cb.state = to
	failures := cb.failures
	switch to {
	case StateOpen:
		cb.openedAt = cb.cfg.Now()
	case StateHalfOpen:
		cb.probes, cb.probeWins = 0, 0
	case StateClosed:
		cb.failures, cb.probes, cb.probeWins = 0, 0, 0
	}

	return func() {
		level := slog.LevelInfo
		if to == StateOpen {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "circuit breaker state changed",
			"provider", cb.cfg.Name, "from", from.String(), "to", to.String(),
			"consecutive_failures", failures)
		if cb.cfg.OnStateChange != nil {
			cb.cfg.OnStateChange(cb.cfg.Name, from, to)
		}
	}
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	return cb.Snapshot().State
}

// Snapshot returns the breaker's current status.
func (cb *CircuitBreaker) Snapshot() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st := BreakerStatus{Name: cb.cfg.Name, State: cb.state, ConsecutiveFailures: cb.failures}
	if cb.state == StateOpen {
		retry := cb.openedAt.Add(cb.cfg.ResetTimeout)
		if !cb.cfg.Now().Before(retry) {
			st.State = StateHalfOpen
		} else {
			st.RetryAt = retry
		}
	}
	return st
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	if cb.state == StateClosed {
		cb.failures = 0
		cb.mu.Unlock()
		return
	}
	notify := cb.transition(StateClosed)
	cb.mu.Unlock()
	notify()
}
