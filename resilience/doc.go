// Package resilience protects tool execution from flaky or overloaded
// downstream tools with per-tool circuit breaking and sliding-window rate
// limiting.
//
// Both patterns store their state behind pluggable store interfaces with two
// implementations each: an in-memory backend for single-process use and a
// Redis backend whose transitions run as server-side scripts, so multiple
// processes share one consistent view of every tool's state.
//
// # Composition
//
// ResilientExecutor implements tool.ExecutionStrategy and wraps any other
// strategy. Per call, rate limiting is applied before circuit admission;
// rejected calls receive a synthesized result and never reach the wrapped
// strategy. The factory assembles the whole stack from configuration:
//
//	executor, err := resilience.New(strategy, resilience.Config{
//	    Backend: resilience.BackendMemory,
//	    Breaker: &resilience.BreakerSettings{
//	        Enabled: true,
//	        Defaults: resilience.CircuitBreakerConfig{
//	            FailureThreshold: 5,
//	            ResetTimeout:     time.Minute,
//	        },
//	        PerTool: map[string]resilience.CircuitBreakerConfig{
//	            "payments": {FailureThreshold: 1},
//	        },
//	    },
//	    Limiter: &resilience.LimiterSettings{
//	        Enabled: true,
//	        RateLimiterConfig: resilience.RateLimiterConfig{
//	            GlobalLimit:  resilience.Limit(100),
//	            GlobalPeriod: time.Minute,
//	        },
//	    },
//	})
//
// For the distributed backend, set Backend to "redis" and RedisAddr to a
// redis:// URL. An unreachable Redis is a construction-time error; the
// factory never degrades to memory silently. Backend "auto" probes the
// address and falls back to memory when it is unreachable.
//
// # Distinguishing rejections from tool failures
//
// A rejected call's result carries a stable marker in its Error field;
// RejectionFromResult recovers the typed rejection:
//
//	if rej, ok := resilience.RejectionFromResult(res); ok {
//	    switch rej.Kind {
//	    case resilience.RejectionCircuitOpen:
//	        // back off, the tool is failing
//	    case resilience.RejectionRateLimited:
//	        // slow down
//	    }
//	}
package resilience
