package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/jonwraymond/toolguard/tool"
)

// BenchmarkCircuitBreaker_CanExecute_Closed measures happy path admission.
func BenchmarkCircuitBreaker_CanExecute_Closed(b *testing.B) {
	cb := NewCircuitBreaker(NewMemoryCircuitStore(), CircuitBreakerConfig{})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = cb.CanExecute(ctx, "search")
	}
}

// BenchmarkCircuitBreaker_RecordFailure measures failure accounting with
// window pruning.
func BenchmarkCircuitBreaker_RecordFailure(b *testing.B) {
	cb := NewCircuitBreaker(NewMemoryCircuitStore(), CircuitBreakerConfig{
		FailureThreshold: 1 << 30,
	})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cb.RecordFailure(ctx, "search")
	}
}

// BenchmarkCircuitBreaker_Concurrent measures parallel admission across
// goroutines sharing one tool.
func BenchmarkCircuitBreaker_Concurrent(b *testing.B) {
	cb := NewCircuitBreaker(NewMemoryCircuitStore(), CircuitBreakerConfig{})
	ctx := context.Background()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = cb.CanExecute(ctx, "search")
		}
	})
}

// BenchmarkRateStore_Acquire measures sliding window acquisition under the
// limit.
func BenchmarkRateStore_Acquire(b *testing.B) {
	store := NewMemoryRateStore()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = store.Acquire(ctx, GlobalScope, 1<<30, time.Minute)
	}
}

// BenchmarkRateLimiter_Wait measures the uncontended wait path with both
// scopes configured.
func BenchmarkRateLimiter_Wait(b *testing.B) {
	rl := NewRateLimiter(NewMemoryRateStore(), RateLimiterConfig{
		GlobalLimit: Limit(1 << 30),
		ToolLimits: map[string]ToolLimit{
			"search": {Limit: 1 << 30, Period: time.Minute},
		},
	})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = rl.Wait(ctx, "search")
	}
}

type noopStrategy struct{}

func (noopStrategy) Execute(_ context.Context, calls []tool.ToolCall, _ time.Duration) ([]tool.ToolResult, error) {
	results := make([]tool.ToolResult, 0, len(calls))
	for _, call := range calls {
		res := tool.NewResult(call)
		res.Finish("ok")
		results = append(results, res)
	}
	return results, nil
}

// BenchmarkResilientExecutor_Execute measures full decorator overhead around
// a no-op strategy.
func BenchmarkResilientExecutor_Execute(b *testing.B) {
	e := NewResilientExecutor(noopStrategy{},
		WithCircuitBreaker(NewCircuitBreaker(NewMemoryCircuitStore(), CircuitBreakerConfig{})),
		WithRateLimiter(NewRateLimiter(NewMemoryRateStore(), RateLimiterConfig{})))
	ctx := context.Background()
	batch := []tool.ToolCall{tool.NewCall("search", nil)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Execute(ctx, batch, 0)
	}
}
