package resilience

import (
	"context"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means calls flow through normally.
	StateClosed State = iota
	// StateOpen means calls are rejected without reaching the tool.
	StateOpen
	// StateHalfOpen means a bounded number of trial calls are admitted to
	// test recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// CircuitBreakerConfig configures circuit behavior for a tool.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures inside FailureWindow
	// before the circuit opens.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is the number of half-open successes required to
	// close the circuit.
	// Default: 2
	SuccessThreshold int

	// ResetTimeout is how long an open circuit waits before admitting a
	// trial call.
	// Default: 60 seconds
	ResetTimeout time.Duration

	// HalfOpenMaxCalls caps concurrent trial calls while half-open.
	// Default: 1
	HalfOpenMaxCalls int

	// FailureWindow bounds how long a failure counts against the
	// threshold.
	// Default: 60 seconds
	FailureWindow time.Duration
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 60 * time.Second
	}
	return c
}

// CircuitSnapshot is a read-only view of one tool's circuit.
type CircuitSnapshot struct {
	Tool          string
	State         State
	FailureCount  int
	SuccessCount  int
	OpenedAt      *time.Time
	HalfOpenCalls int

	// TimeUntilHalfOpen is the remaining wait before an open circuit
	// admits a trial call; nil unless the circuit is open and the reset
	// timeout has not yet elapsed.
	TimeUntilHalfOpen *time.Duration

	// Config is the configuration resolved for this tool.
	Config CircuitBreakerConfig
}

// CircuitBreaker gates calls per tool, backed by a pluggable CircuitStore so
// state can live in process memory or a shared store visible to multiple
// processes.
type CircuitBreaker struct {
	store         CircuitStore
	defaults      CircuitBreakerConfig
	overrides     map[string]CircuitBreakerConfig
	onStateChange func(tool string, from, to State)
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithToolOverrides sets per-tool configurations. An override replaces the
// defaults wholesale for its tool; there is no field-level merging.
func WithToolOverrides(overrides map[string]CircuitBreakerConfig) CircuitBreakerOption {
	return func(b *CircuitBreaker) {
		b.overrides = overrides
	}
}

// WithStateChangeHook registers a callback invoked on every state
// transition. The hook must be safe for concurrent use.
func WithStateChangeHook(fn func(tool string, from, to State)) CircuitBreakerOption {
	return func(b *CircuitBreaker) {
		b.onStateChange = fn
	}
}

// NewCircuitBreaker creates a circuit breaker over store with the given
// default configuration.
func NewCircuitBreaker(store CircuitStore, defaults CircuitBreakerConfig, opts ...CircuitBreakerOption) *CircuitBreaker {
	b := &CircuitBreaker{
		store:    store,
		defaults: defaults.withDefaults(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// configFor resolves the configuration for tool. Resolution happens on every
// operation, never cached across calls.
func (b *CircuitBreaker) configFor(tool string) CircuitBreakerConfig {
	if cfg, ok := b.overrides[tool]; ok {
		return cfg.withDefaults()
	}
	return b.defaults
}

// CanExecute decides whether a call to tool may proceed. It never blocks
// beyond a single store round trip: closed circuits admit immediately, open
// circuits transition to half-open once the reset timeout has elapsed, and
// half-open circuits admit at most HalfOpenMaxCalls concurrent trials.
func (b *CircuitBreaker) CanExecute(ctx context.Context, tool string) (bool, error) {
	d, err := b.store.Transition(ctx, tool, OpCanExecute, b.configFor(tool))
	if err != nil {
		return false, err
	}
	b.notify(tool, d)
	return d.Allowed, nil
}

// RecordSuccess accounts a successful call. Half-open circuits close after
// SuccessThreshold successes; closed and open circuits are unaffected.
func (b *CircuitBreaker) RecordSuccess(ctx context.Context, tool string) error {
	d, err := b.store.Transition(ctx, tool, OpRecordSuccess, b.configFor(tool))
	if err != nil {
		return err
	}
	b.notify(tool, d)
	return nil
}

// RecordFailure accounts a failed call. Closed circuits open once
// FailureThreshold failures accumulate inside FailureWindow; a single
// half-open failure re-opens the circuit immediately.
func (b *CircuitBreaker) RecordFailure(ctx context.Context, tool string) error {
	d, err := b.store.Transition(ctx, tool, OpRecordFailure, b.configFor(tool))
	if err != nil {
		return err
	}
	b.notify(tool, d)
	return nil
}

// GetState returns a read-only snapshot of tool's circuit.
func (b *CircuitBreaker) GetState(ctx context.Context, tool string) (CircuitSnapshot, error) {
	cfg := b.configFor(tool)
	snap, err := b.store.Snapshot(ctx, tool, cfg)
	if err != nil {
		return CircuitSnapshot{}, err
	}
	snap.Config = cfg
	return snap, nil
}

// GetAllStates returns snapshots for every tool with tracked state.
func (b *CircuitBreaker) GetAllStates(ctx context.Context) (map[string]CircuitSnapshot, error) {
	tools, err := b.store.Tools(ctx)
	if err != nil {
		return nil, err
	}
	states := make(map[string]CircuitSnapshot, len(tools))
	for _, t := range tools {
		snap, err := b.GetState(ctx, t)
		if err != nil {
			return nil, err
		}
		states[t] = snap
	}
	return states, nil
}

// Reset deletes tool's tracked state; subsequent access behaves as a fresh
// closed circuit.
func (b *CircuitBreaker) Reset(ctx context.Context, tool string) error {
	return b.store.Delete(ctx, tool)
}

// ResetAll deletes all tracked state and reports how many tools were
// cleared.
func (b *CircuitBreaker) ResetAll(ctx context.Context) (int, error) {
	return b.store.DeleteAll(ctx)
}

func (b *CircuitBreaker) notify(tool string, d CircuitDecision) {
	if b.onStateChange != nil && d.From != d.To {
		b.onStateChange(tool, d.From, d.To)
	}
}
