package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/toolguard/tool"
)

// ResilientExecutor decorates an ExecutionStrategy with rate limiting and
// circuit breaking. It implements tool.ExecutionStrategy itself, so callers
// compose it transparently in place of the wrapped strategy.
//
// Per call, rate limiting is applied before circuit admission, so a
// rate-limited call never consumes a half-open trial slot. Rejected calls
// receive a synthesized ToolResult and never reach the wrapped strategy.
// The result batch always matches the input batch in length and order.
type ResilientExecutor struct {
	strategy tool.ExecutionStrategy
	breaker  *CircuitBreaker
	limiter  *RateLimiter
	metrics  Metrics
}

// ExecutorOption configures a ResilientExecutor.
type ExecutorOption func(*ResilientExecutor)

// WithCircuitBreaker adds circuit breaking to the executor.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *ResilientExecutor) {
		e.breaker = cb
	}
}

// WithRateLimiter adds rate limiting to the executor.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *ResilientExecutor) {
		e.limiter = rl
	}
}

// WithMetrics sets the metrics sink for rejection events.
func WithMetrics(m Metrics) ExecutorOption {
	return func(e *ResilientExecutor) {
		e.metrics = m
	}
}

// NewResilientExecutor creates a resilient executor around strategy.
func NewResilientExecutor(strategy tool.ExecutionStrategy, opts ...ExecutorOption) *ResilientExecutor {
	e := &ResilientExecutor{
		strategy: strategy,
		metrics:  NoopMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Breaker returns the executor's circuit breaker, or nil when circuit
// breaking is not configured. Intended for operational tooling.
func (e *ResilientExecutor) Breaker() *CircuitBreaker { return e.breaker }

// Limiter returns the executor's rate limiter, or nil when rate limiting is
// not configured. Intended for operational tooling.
func (e *ResilientExecutor) Limiter() *RateLimiter { return e.limiter }

// SetUseCache forwards the cache hint when the wrapped strategy supports it.
func (e *ResilientExecutor) SetUseCache(use bool) {
	if c, ok := e.strategy.(tool.CacheCapable); ok {
		c.SetUseCache(use)
	}
}

// Execute runs calls through rate limiting and circuit admission, delegating
// admitted calls to the wrapped strategy. Per-call failures and rejections
// are reported through each result's Error field; Execute itself only
// returns an error for a batch that could not be processed at all.
func (e *ResilientExecutor) Execute(ctx context.Context, calls []tool.ToolCall, timeout time.Duration) ([]tool.ToolResult, error) {
	if len(calls) == 0 {
		return []tool.ToolResult{}, nil
	}
	if sd, ok := e.strategy.(tool.SingleDispatch); ok {
		return e.executeConcurrent(ctx, sd, calls, timeout), nil
	}
	return e.executeBatch(ctx, calls, timeout), nil
}

// executeConcurrent fans calls out so one rate-limited call does not delay
// the others. Results land at their input index.
func (e *ResilientExecutor) executeConcurrent(ctx context.Context, sd tool.SingleDispatch, calls []tool.ToolCall, timeout time.Duration) []tool.ToolResult {
	results := make([]tool.ToolResult, len(calls))
	g := new(errgroup.Group)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			if rej, rejected := e.gate(ctx, call); rejected {
				results[i] = rej
				return nil
			}
			results[i] = e.dispatchOne(ctx, sd, call, timeout)
			return nil
		})
	}
	_ = g.Wait() // workers report everything through results
	return results
}

// executeBatch gates calls in order and forwards the admitted subset to the
// wrapped strategy as a single batch, honoring its own batch contract.
func (e *ResilientExecutor) executeBatch(ctx context.Context, calls []tool.ToolCall, timeout time.Duration) []tool.ToolResult {
	results := make([]tool.ToolResult, len(calls))
	var admitted []tool.ToolCall
	var indexes []int
	for i, call := range calls {
		if rej, rejected := e.gate(ctx, call); rejected {
			results[i] = rej
			continue
		}
		admitted = append(admitted, call)
		indexes = append(indexes, i)
	}
	if len(admitted) == 0 {
		return results
	}

	batch, err := e.dispatchBatch(ctx, admitted, timeout)
	if err == nil && len(batch) != len(admitted) {
		err = fmt.Errorf("strategy returned %d results for %d calls", len(batch), len(admitted))
	}
	if err != nil {
		// The whole sub-batch failed; each admitted call counts as a
		// failure against its circuit.
		for j, call := range admitted {
			res := tool.NewResult(call)
			res.Fail(err)
			e.record(ctx, res)
			results[indexes[j]] = res
		}
		return results
	}

	for j, res := range batch {
		e.record(ctx, res)
		results[indexes[j]] = res
	}
	return results
}

// gate applies rate limiting then circuit admission for one call. When it
// reports a rejection, the wrapped strategy must not see the call.
func (e *ResilientExecutor) gate(ctx context.Context, call tool.ToolCall) (tool.ToolResult, bool) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, call.Tool); err != nil {
			return e.reject(ctx, call, classifyWaitError(call.Tool, err)), true
		}
	}
	if e.breaker != nil {
		allowed, err := e.breaker.CanExecute(ctx, call.Tool)
		if err != nil {
			// A store failure fails the call, never bypasses protection.
			// Counting it is best effort against the same store.
			_ = e.breaker.RecordFailure(ctx, call.Tool)
			return e.reject(ctx, call, &RejectionError{
				Kind:    RejectionInfrastructure,
				Tool:    call.Tool,
				Message: err.Error(),
			}), true
		}
		if !allowed {
			return e.reject(ctx, call, e.circuitOpenRejection(ctx, call.Tool)), true
		}
	}
	return tool.ToolResult{}, false
}

// circuitOpenRejection describes an open circuit, including the failure
// count and time until the next trial when the snapshot is reachable.
func (e *ResilientExecutor) circuitOpenRejection(ctx context.Context, name string) *RejectionError {
	msg := "call rejected"
	if snap, err := e.breaker.GetState(ctx, name); err == nil {
		if snap.TimeUntilHalfOpen != nil {
			msg = fmt.Sprintf("%d failures, retry in %s", snap.FailureCount, snap.TimeUntilHalfOpen.Round(time.Millisecond))
		} else {
			msg = fmt.Sprintf("%d failures", snap.FailureCount)
		}
	}
	return &RejectionError{Kind: RejectionCircuitOpen, Tool: name, Message: msg}
}

func classifyWaitError(name string, err error) *RejectionError {
	kind := RejectionRateLimited
	if !isContextError(err) {
		kind = RejectionInfrastructure
	}
	return &RejectionError{Kind: kind, Tool: name, Message: "wait aborted: " + err.Error()}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *ResilientExecutor) reject(ctx context.Context, call tool.ToolCall, rerr *RejectionError) tool.ToolResult {
	e.metrics.RecordRejection(ctx, call.Tool, rerr.Kind)
	res := tool.NewResult(call)
	res.Fail(rerr)
	return res
}

// dispatchOne runs a single call, converting a strategy panic into a failure
// result so one call can never abort the batch.
func (e *ResilientExecutor) dispatchOne(ctx context.Context, sd tool.SingleDispatch, call tool.ToolCall, timeout time.Duration) (res tool.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			res = tool.NewResult(call)
			res.Fail(fmt.Errorf("strategy panic: %v", r))
			e.record(ctx, res)
		}
	}()
	res = sd.ExecuteOne(ctx, call, timeout)
	e.record(ctx, res)
	return res
}

func (e *ResilientExecutor) dispatchBatch(ctx context.Context, admitted []tool.ToolCall, timeout time.Duration) (batch []tool.ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			batch, err = nil, fmt.Errorf("strategy panic: %v", r)
		}
	}()
	return e.strategy.Execute(ctx, admitted, timeout)
}

// record feeds a result's outcome back to the circuit breaker. Recording is
// best effort after dispatch: the result already carries the call's outcome,
// so a store error here is not surfaced to the caller.
func (e *ResilientExecutor) record(ctx context.Context, res tool.ToolResult) {
	if e.breaker == nil {
		return
	}
	if res.Failed() {
		_ = e.breaker.RecordFailure(ctx, res.Tool)
	} else {
		_ = e.breaker.RecordSuccess(ctx, res.Tool)
	}
}

var _ tool.ExecutionStrategy = (*ResilientExecutor)(nil)
