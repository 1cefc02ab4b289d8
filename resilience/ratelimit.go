package resilience

import (
	"context"
	"time"
)

// ToolLimit caps one tool's request rate.
type ToolLimit struct {
	// Limit is the number of requests allowed per Period.
	Limit int

	// Period is the sliding window duration.
	// Default: 60 seconds
	Period time.Duration
}

// RateLimiterConfig configures sliding-window rate limiting.
type RateLimiterConfig struct {
	// GlobalLimit caps requests across all tools per GlobalPeriod.
	// nil disables global limiting.
	GlobalLimit *int

	// GlobalPeriod is the global sliding window.
	// Default: 60 seconds
	GlobalPeriod time.Duration

	// ToolLimits maps tool names to their own caps. Tools absent from the
	// map have no tool-specific cap.
	ToolLimits map[string]ToolLimit

	// PollInterval is the minimum back-off between Wait retries.
	// Default: 100ms
	PollInterval time.Duration
}

func (c RateLimiterConfig) withDefaults() RateLimiterConfig {
	if c.GlobalPeriod <= 0 {
		c.GlobalPeriod = 60 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if len(c.ToolLimits) > 0 {
		limits := make(map[string]ToolLimit, len(c.ToolLimits))
		for tool, tl := range c.ToolLimits {
			if tl.Period <= 0 {
				tl.Period = 60 * time.Second
			}
			limits[tool] = tl
		}
		c.ToolLimits = limits
	}
	return c
}

// Limit returns a pointer to n, for setting RateLimiterConfig.GlobalLimit
// inline.
func Limit(n int) *int { return &n }

// Usage reports the occupancy of one scope.
type Usage struct {
	Used      int
	Limit     int
	Remaining int
}

// RateLimiter caps request rates per scope with a sliding window, backed by
// a pluggable RateStore.
type RateLimiter struct {
	store  RateStore
	config RateLimiterConfig
	onWait func(tool string, waited time.Duration)
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithWaitHook registers a callback invoked after each successful Wait with
// the time the caller spent blocked. The hook must be safe for concurrent
// use.
func WithWaitHook(fn func(tool string, waited time.Duration)) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.onWait = fn
	}
}

// NewRateLimiter creates a rate limiter over store.
func NewRateLimiter(store RateStore, config RateLimiterConfig, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		store:  store,
		config: config.withDefaults(),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Wait blocks until both the global scope and the tool scope admit one
// request, then consumes one slot in each applicable scope. Only the calling
// goroutine is suspended. Returns early when ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, tool string) error {
	start := time.Now()
	for {
		ok, retryAfter, err := rl.tryAcquire(ctx, tool)
		if err != nil {
			return err
		}
		if ok {
			if rl.onWait != nil {
				rl.onWait(tool, time.Since(start))
			}
			return nil
		}

		if retryAfter < rl.config.PollInterval {
			retryAfter = rl.config.PollInterval
		}
		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire acquires the global scope then the tool scope. A denial in
// either scope fails the attempt; the next attempt re-acquires both, so no
// slot-return accounting is needed around a partial acquisition.
func (rl *RateLimiter) tryAcquire(ctx context.Context, tool string) (bool, time.Duration, error) {
	if rl.config.GlobalLimit != nil {
		ok, retryAfter, err := rl.store.Acquire(ctx, GlobalScope, *rl.config.GlobalLimit, rl.config.GlobalPeriod)
		if err != nil {
			return false, 0, err
		}
		if !ok {
			return false, retryAfter, nil
		}
	}
	if tl, ok := rl.config.ToolLimits[tool]; ok {
		acquired, retryAfter, err := rl.store.Acquire(ctx, ToolScope(tool), tl.Limit, tl.Period)
		if err != nil {
			return false, 0, err
		}
		if !acquired {
			return false, retryAfter, nil
		}
	}
	return true, 0, nil
}

// CheckLimits reports whether the global and tool scopes are currently at
// their limits, without consuming a slot.
func (rl *RateLimiter) CheckLimits(ctx context.Context, tool string) (globalLimited, toolLimited bool, err error) {
	if rl.config.GlobalLimit != nil {
		n, err := rl.store.Count(ctx, GlobalScope, rl.config.GlobalPeriod)
		if err != nil {
			return false, false, err
		}
		globalLimited = n >= *rl.config.GlobalLimit
	}
	if tl, ok := rl.config.ToolLimits[tool]; ok {
		n, err := rl.store.Count(ctx, ToolScope(tool), tl.Period)
		if err != nil {
			return false, false, err
		}
		toolLimited = n >= tl.Limit
	}
	return globalLimited, toolLimited, nil
}

// GetUsage reports occupancy per configured scope. The global scope is
// included iff a global limit is set; the tool scope iff tool is non-empty
// and has a configured limit.
func (rl *RateLimiter) GetUsage(ctx context.Context, tool string) (map[string]Usage, error) {
	usage := make(map[string]Usage)
	if rl.config.GlobalLimit != nil {
		n, err := rl.store.Count(ctx, GlobalScope, rl.config.GlobalPeriod)
		if err != nil {
			return nil, err
		}
		usage[GlobalScope] = newUsage(n, *rl.config.GlobalLimit)
	}
	if tool != "" {
		if tl, ok := rl.config.ToolLimits[tool]; ok {
			n, err := rl.store.Count(ctx, ToolScope(tool), tl.Period)
			if err != nil {
				return nil, err
			}
			usage[ToolScope(tool)] = newUsage(n, tl.Limit)
		}
	}
	return usage, nil
}

func newUsage(used, limit int) Usage {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Usage{Used: used, Limit: limit, Remaining: remaining}
}

// Reset clears the named tool's scope, or every scope when tool is empty.
// Resetting a tool without a configured limit is a no-op.
func (rl *RateLimiter) Reset(ctx context.Context, tool string) error {
	if tool == "" {
		return rl.store.ClearAll(ctx)
	}
	if _, ok := rl.config.ToolLimits[tool]; !ok {
		return nil
	}
	return rl.store.Clear(ctx, ToolScope(tool))
}
