package tool

import (
	"context"
	"time"
)

// ExecutionStrategy executes a batch of tool calls.
//
// Contract:
//   - Returns exactly one ToolResult per input call, in input order.
//   - Never silently drops a call; per-call failures are reported through
//     ToolResult.Error, not by omitting the result.
//   - A non-nil error means the batch as a whole could not be executed.
//   - Implementations must be safe for concurrent use.
//
// A timeout of zero means the strategy's own default applies.
type ExecutionStrategy interface {
	Execute(ctx context.Context, calls []ToolCall, timeout time.Duration) ([]ToolResult, error)
}

// SingleDispatch is an optional capability for strategies that can execute
// one call at a time. Wrappers use it to fan a batch out concurrently while
// preserving result order.
type SingleDispatch interface {
	// ExecuteOne runs a single call. Failures are reported through the
	// result's Error field; ExecuteOne never drops the call.
	ExecuteOne(ctx context.Context, call ToolCall, timeout time.Duration) ToolResult
}

// CacheCapable is an optional capability for strategies that accept a
// result-cache hint. Wrappers forward the hint untouched.
type CacheCapable interface {
	SetUseCache(use bool)
}
