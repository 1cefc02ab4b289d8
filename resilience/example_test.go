package resilience_test

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/toolguard/resilience"
	"github.com/jonwraymond/toolguard/tool"
)

type echoStrategy struct{}

func (echoStrategy) Execute(_ context.Context, calls []tool.ToolCall, _ time.Duration) ([]tool.ToolResult, error) {
	results := make([]tool.ToolResult, 0, len(calls))
	for _, call := range calls {
		res := tool.NewResult(call)
		res.Finish("echo: " + call.Tool)
		results = append(results, res)
	}
	return results, nil
}

func ExampleNewCircuitBreaker() {
	cb := resilience.NewCircuitBreaker(resilience.NewMemoryCircuitStore(),
		resilience.CircuitBreakerConfig{FailureThreshold: 2})
	ctx := context.Background()

	snap, _ := cb.GetState(ctx, "search")
	fmt.Println("Initial state:", snap.State)

	for i := 0; i < 2; i++ {
		_ = cb.RecordFailure(ctx, "search")
	}
	snap, _ = cb.GetState(ctx, "search")
	fmt.Println("After failures:", snap.State)

	_ = cb.Reset(ctx, "search")
	snap, _ = cb.GetState(ctx, "search")
	fmt.Println("After reset:", snap.State)
	// Output:
	// Initial state: closed
	// After failures: open
	// After reset: closed
}

func ExampleRateLimiter_CheckLimits() {
	rl := resilience.NewRateLimiter(resilience.NewMemoryRateStore(),
		resilience.RateLimiterConfig{
			GlobalLimit:  resilience.Limit(2),
			GlobalPeriod: time.Minute,
		})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = rl.Wait(ctx, "search")
	}

	globalLimited, toolLimited, _ := rl.CheckLimits(ctx, "search")
	fmt.Println("Global limited:", globalLimited)
	fmt.Println("Tool limited:", toolLimited)
	// Output:
	// Global limited: true
	// Tool limited: false
}

func ExampleNew() {
	wrapped, err := resilience.New(echoStrategy{}, resilience.Config{
		Breaker: &resilience.BreakerSettings{Enabled: true},
		Limiter: &resilience.LimiterSettings{
			Enabled:           true,
			RateLimiterConfig: resilience.RateLimiterConfig{GlobalLimit: resilience.Limit(100)},
		},
	})
	if err != nil {
		fmt.Println("setup failed:", err)
		return
	}

	results, _ := wrapped.Execute(context.Background(),
		[]tool.ToolCall{tool.NewCall("search", nil)}, 30*time.Second)
	fmt.Println(results[0].Result)
	// Output:
	// echo: search
}

func ExampleRejectionFromResult() {
	wrapped, _ := resilience.New(echoStrategy{}, resilience.Config{
		Breaker: &resilience.BreakerSettings{
			Enabled:  true,
			Defaults: resilience.CircuitBreakerConfig{FailureThreshold: 1},
		},
	})
	e := wrapped.(*resilience.ResilientExecutor)
	ctx := context.Background()

	_ = e.Breaker().RecordFailure(ctx, "flaky")
	results, _ := e.Execute(ctx, []tool.ToolCall{tool.NewCall("flaky", nil)}, 0)

	if rej, ok := resilience.RejectionFromResult(results[0]); ok {
		fmt.Println("Rejected:", rej.Kind)
	}
	// Output:
	// Rejected: circuit-open
}
