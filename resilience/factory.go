package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/toolguard/tool"
)

// Backend selectors for where breaker and limiter state lives.
const (
	// BackendMemory keeps state in process memory.
	BackendMemory = "memory"
	// BackendRedis keeps state in a shared Redis visible to all processes.
	BackendRedis = "redis"
	// BackendAuto probes the configured Redis address and falls back to
	// memory when it is unreachable.
	BackendAuto = "auto"
)

// BreakerSettings enables circuit breaking.
type BreakerSettings struct {
	Enabled bool

	// Defaults applies to every tool without an override.
	Defaults CircuitBreakerConfig

	// PerTool overrides replace Defaults wholesale for the named tool.
	PerTool map[string]CircuitBreakerConfig
}

// LimiterSettings enables rate limiting.
type LimiterSettings struct {
	Enabled bool

	RateLimiterConfig
}

// Config assembles a ResilientExecutor.
type Config struct {
	// Backend is memory, redis or auto. Default: memory.
	Backend string

	// RedisAddr is a redis:// URL. Required for the redis backend.
	RedisAddr string

	// KeyPrefix namespaces Redis keys so independent deployments can
	// share one store. Default: "toolguard"
	KeyPrefix string

	// OpTimeout bounds each store round trip. Default: 2 seconds
	OpTimeout time.Duration

	// Breaker and Limiter enable the two wrappers. When neither is
	// enabled, New returns the strategy unchanged.
	Breaker *BreakerSettings
	Limiter *LimiterSettings

	// Meter enables otel instrumentation when set.
	Meter metric.Meter

	// OnStateChange observes circuit transitions, e.g. for logging.
	OnStateChange func(tool string, from, to State)
}

// New builds a resilient executor around strategy. The caller never needs to
// know which backend is active. A redis backend that cannot be reached is a
// construction-time error, never a silent fallback to memory.
func New(strategy tool.ExecutionStrategy, cfg Config) (tool.ExecutionStrategy, error) {
	breakerOn := cfg.Breaker != nil && cfg.Breaker.Enabled
	limiterOn := cfg.Limiter != nil && cfg.Limiter.Enabled
	if !breakerOn && !limiterOn {
		return strategy, nil
	}

	var m Metrics = NoopMetrics()
	if cfg.Meter != nil {
		var err error
		if m, err = NewMetrics(cfg.Meter); err != nil {
			return nil, err
		}
	}

	circuits, rates, err := buildStores(cfg)
	if err != nil {
		return nil, err
	}

	opts := []ExecutorOption{WithMetrics(m)}
	if breakerOn {
		userHook := cfg.OnStateChange
		hook := func(tool string, from, to State) {
			m.RecordTransition(context.Background(), tool, from, to)
			if userHook != nil {
				userHook(tool, from, to)
			}
		}
		cb := NewCircuitBreaker(circuits, cfg.Breaker.Defaults,
			WithToolOverrides(cfg.Breaker.PerTool),
			WithStateChangeHook(hook))
		opts = append(opts, WithCircuitBreaker(cb))
	}
	if limiterOn {
		rl := NewRateLimiter(rates, cfg.Limiter.RateLimiterConfig,
			WithWaitHook(func(tool string, waited time.Duration) {
				m.RecordWait(context.Background(), tool, waited)
			}))
		opts = append(opts, WithRateLimiter(rl))
	}
	return NewResilientExecutor(strategy, opts...), nil
}

func buildStores(cfg Config) (CircuitStore, RateStore, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendMemory
	}

	switch backend {
	case BackendMemory:
		return NewMemoryCircuitStore(), NewMemoryRateStore(), nil

	case BackendRedis:
		client, err := dialRedis(cfg)
		if err != nil {
			return nil, nil, err
		}
		return redisStores(client, cfg)

	case BackendAuto:
		if cfg.RedisAddr == "" {
			return NewMemoryCircuitStore(), NewMemoryRateStore(), nil
		}
		client, err := dialRedis(cfg)
		if err != nil {
			return NewMemoryCircuitStore(), NewMemoryRateStore(), nil
		}
		return redisStores(client, cfg)

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

func redisStores(client RedisClient, cfg Config) (CircuitStore, RateStore, error) {
	sc := RedisStoreConfig{KeyPrefix: cfg.KeyPrefix, OpTimeout: cfg.OpTimeout}
	return NewRedisCircuitStore(client, sc), NewRedisRateStore(client, sc), nil
}

// dialRedis connects and pings within the configured operation timeout.
func dialRedis(cfg Config) (RedisClient, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("%w: redis backend requires an address", ErrBackendUnavailable)
	}

	opts, err := redis.ParseURL(cfg.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	client := redis.NewClient(opts)

	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return client, nil
}
