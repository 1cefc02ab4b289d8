package resilience

import (
	"context"
	"time"
)

// CircuitOp identifies which breaker operation a store transition applies.
type CircuitOp int

const (
	// OpCanExecute decides admission, transitioning open circuits to
	// half-open once the reset timeout has elapsed.
	OpCanExecute CircuitOp = iota
	// OpRecordSuccess accounts a successful call.
	OpRecordSuccess
	// OpRecordFailure accounts a failed call.
	OpRecordFailure
)

// CircuitDecision reports the outcome of one atomic store transition.
type CircuitDecision struct {
	// Allowed reports whether the call may proceed. Only meaningful for
	// OpCanExecute.
	Allowed bool

	// From and To are the circuit states before and after the transition.
	From State
	To   State
}

// CircuitStore persists per-tool circuit state.
//
// Contract:
//   - Transition applies the full read-decide-write sequence for op as one
//     atomic step; concurrent callers never interleave inside it.
//   - Tools without tracked state behave as fresh closed circuits with zero
//     counters.
//   - Implementations must be safe for concurrent use.
type CircuitStore interface {
	// Transition atomically applies op for tool under cfg's thresholds.
	Transition(ctx context.Context, tool string, op CircuitOp, cfg CircuitBreakerConfig) (CircuitDecision, error)

	// Snapshot returns a read-only view of one tool's circuit. The
	// snapshot's Config field is left unset; the breaker fills it.
	Snapshot(ctx context.Context, tool string, cfg CircuitBreakerConfig) (CircuitSnapshot, error)

	// Tools lists tool names with tracked state.
	Tools(ctx context.Context) ([]string, error)

	// Delete removes one tool's state. Idempotent.
	Delete(ctx context.Context, tool string) error

	// DeleteAll removes all tracked state and reports how many tools were
	// cleared.
	DeleteAll(ctx context.Context) (int, error)
}

// GlobalScope is the rate-limiting scope shared by all tools.
const GlobalScope = "global"

// ToolScope returns the rate-limiting scope for one tool.
func ToolScope(tool string) string { return "tool:" + tool }

// RateStore persists a sliding-window request log per scope.
//
// Contract:
//   - Acquire performs prune, count and conditional insert as one atomic
//     step; concurrent callers never interleave inside it.
//   - Scopes without tracked state behave as empty windows.
//   - Implementations must be safe for concurrent use.
type RateStore interface {
	// Acquire prunes entries older than period, then inserts one entry at
	// the current time if the surviving count is below limit. When denied,
	// retryAfter is the time until the oldest surviving entry ages out.
	Acquire(ctx context.Context, scope string, limit int, period time.Duration) (ok bool, retryAfter time.Duration, err error)

	// Count prunes entries older than period and returns the current
	// occupancy without consuming a slot.
	Count(ctx context.Context, scope string, period time.Duration) (int, error)

	// Clear empties one scope. Idempotent.
	Clear(ctx context.Context, scope string) error

	// ClearAll empties every scope.
	ClearAll(ctx context.Context) error
}
