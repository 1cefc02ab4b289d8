package resilience

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis used by the Redis-backed stores.
// *redis.Client, *redis.ClusterClient and redis.UniversalClient satisfy it.
type RedisClient interface {
	redis.Scripter
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

const (
	// DefaultKeyPrefix namespaces Redis keys so independent deployments
	// can share one store without collision.
	DefaultKeyPrefix = "toolguard"

	// DefaultOpTimeout bounds each Redis round trip so a slow store
	// cannot stall callers indefinitely.
	DefaultOpTimeout = 2 * time.Second
)

// RedisStoreConfig configures the Redis-backed stores.
type RedisStoreConfig struct {
	// KeyPrefix namespaces all keys. Default: "toolguard"
	KeyPrefix string

	// OpTimeout bounds each store round trip. Default: 2 seconds
	OpTimeout time.Duration

	// Clock overrides the time source. Default: system clock.
	Clock Clock
}

func (c RedisStoreConfig) withDefaults() RedisStoreConfig {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = DefaultOpTimeout
	}
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
	return c
}

// Each script performs the full read-decide-write sequence server-side so
// concurrent processes never interleave inside a transition. Thresholds and
// periods arrive as ARGV, never baked into the script text, so config
// changes take effect without redeploying script logic.

// canExecuteScript applies the admission transition.
// KEYS[1] = circuit hash. ARGV: now (ms), reset timeout (ms), half-open max
// calls. Returns {allowed, from, to}.
var canExecuteScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state or state == 'closed' then
  return {1, 'closed', 'closed'}
end
local now = tonumber(ARGV[1])
if state == 'open' then
  local opened = tonumber(redis.call('HGET', KEYS[1], 'opened_at') or '0')
  if now - opened >= tonumber(ARGV[2]) then
    redis.call('HSET', KEYS[1], 'state', 'half_open', 'half_open_calls', 1, 'success_count', 0)
    return {1, 'open', 'half_open'}
  end
  return {0, 'open', 'open'}
end
local calls = tonumber(redis.call('HGET', KEYS[1], 'half_open_calls') or '0')
if calls < tonumber(ARGV[3]) then
  redis.call('HINCRBY', KEYS[1], 'half_open_calls', 1)
  return {1, 'half_open', 'half_open'}
end
return {0, 'half_open', 'half_open'}
`)

// recordSuccessScript accounts a success. A half-open success below the
// threshold releases its trial slot so the next trial can be admitted.
// KEYS[1] = circuit hash, KEYS[2] = failure window zset. ARGV: success
// threshold. Returns {from, to}.
var recordSuccessScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state or state == 'closed' then
  return {'closed', 'closed'}
end
if state == 'open' then
  return {'open', 'open'}
end
local n = redis.call('HINCRBY', KEYS[1], 'success_count', 1)
if n >= tonumber(ARGV[1]) then
  redis.call('DEL', KEYS[1], KEYS[2])
  return {'half_open', 'closed'}
end
local calls = tonumber(redis.call('HGET', KEYS[1], 'half_open_calls') or '0')
if calls > 0 then
  redis.call('HSET', KEYS[1], 'half_open_calls', calls - 1)
end
return {'half_open', 'half_open'}
`)

// recordFailureScript accounts a failure, pruning the sliding failure window
// in the same atomic step.
// KEYS[1] = circuit hash, KEYS[2] = failure window zset. ARGV: now (ms),
// failure window (ms), failure threshold, unique member. Returns {from, to}.
var recordFailureScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then state = 'closed' end
if state == 'open' then
  return {'open', 'open'}
end
local now = tonumber(ARGV[1])
if state == 'half_open' then
  redis.call('HSET', KEYS[1], 'state', 'open', 'opened_at', now, 'success_count', 0, 'half_open_calls', 0)
  return {'half_open', 'open'}
end
redis.call('ZADD', KEYS[2], now, ARGV[4])
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', now - tonumber(ARGV[2]))
local count = redis.call('ZCARD', KEYS[2])
redis.call('PEXPIRE', KEYS[2], tonumber(ARGV[2]))
if count >= tonumber(ARGV[3]) then
  redis.call('HSET', KEYS[1], 'state', 'open', 'opened_at', now, 'failure_count', count, 'success_count', 0, 'half_open_calls', 0)
  redis.call('DEL', KEYS[2])
  return {'closed', 'open'}
end
return {'closed', 'closed'}
`)

// circuitSnapshotScript reads one circuit, pruning the failure window so the
// read does not race concurrent acquisitions.
// KEYS[1] = circuit hash, KEYS[2] = failure window zset. ARGV: now (ms),
// failure window (ms). Returns {state, failures, successes, opened_at (ms),
// half_open_calls}.
var circuitSnapshotScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then state = 'closed' end
local now = tonumber(ARGV[1])
local failures = 0
if state == 'closed' then
  redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', now - tonumber(ARGV[2]))
  failures = redis.call('ZCARD', KEYS[2])
else
  failures = tonumber(redis.call('HGET', KEYS[1], 'failure_count') or '0')
end
local opened = tonumber(redis.call('HGET', KEYS[1], 'opened_at') or '0')
local succ = tonumber(redis.call('HGET', KEYS[1], 'success_count') or '0')
local calls = tonumber(redis.call('HGET', KEYS[1], 'half_open_calls') or '0')
return {state, failures, succ, opened, calls}
`)

// rateAcquireScript prunes, counts and conditionally inserts one window
// entry.
// KEYS[1] = scope zset. ARGV: now (ms), period (ms), limit, unique member.
// Returns {acquired, retry_after_ms}.
var rateAcquireScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local period = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - period)
local count = redis.call('ZCARD', KEYS[1])
if count < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], now, ARGV[4])
  redis.call('PEXPIRE', KEYS[1], period)
  return {1, 0}
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local retry = 0
if oldest[2] then
  retry = tonumber(oldest[2]) + period - now
end
return {0, retry}
`)

// rateCountScript prunes and counts one scope.
// KEYS[1] = scope zset. ARGV: now (ms), period (ms).
var rateCountScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', tonumber(ARGV[1]) - tonumber(ARGV[2]))
return redis.call('ZCARD', KEYS[1])
`)

// RedisCircuitStore is a CircuitStore backed by a shared Redis, safe for use
// from multiple processes. Every transition is a single server-side script
// invocation.
type RedisCircuitStore struct {
	client    RedisClient
	prefix    string
	opTimeout time.Duration
	clock     Clock
}

// NewRedisCircuitStore creates a Redis-backed circuit store.
func NewRedisCircuitStore(client RedisClient, cfg RedisStoreConfig) *RedisCircuitStore {
	cfg = cfg.withDefaults()
	return &RedisCircuitStore{
		client:    client,
		prefix:    cfg.KeyPrefix,
		opTimeout: cfg.OpTimeout,
		clock:     cfg.Clock,
	}
}

func (s *RedisCircuitStore) stateKey(tool string) string {
	return s.prefix + ":cb:state:" + tool
}

func (s *RedisCircuitStore) failKey(tool string) string {
	return s.prefix + ":cb:fail:" + tool
}

// Transition atomically applies op for tool via one script invocation.
func (s *RedisCircuitStore) Transition(ctx context.Context, tool string, op CircuitOp, cfg CircuitBreakerConfig) (CircuitDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	now := s.clock.Now().UnixMilli()
	var raw any
	var err error
	switch op {
	case OpCanExecute:
		raw, err = canExecuteScript.Run(ctx, s.client,
			[]string{s.stateKey(tool)},
			now, cfg.ResetTimeout.Milliseconds(), cfg.HalfOpenMaxCalls).Result()
	case OpRecordSuccess:
		raw, err = recordSuccessScript.Run(ctx, s.client,
			[]string{s.stateKey(tool), s.failKey(tool)},
			cfg.SuccessThreshold).Result()
	case OpRecordFailure:
		raw, err = recordFailureScript.Run(ctx, s.client,
			[]string{s.stateKey(tool), s.failKey(tool)},
			now, cfg.FailureWindow.Milliseconds(), cfg.FailureThreshold, uuid.NewString()).Result()
	default:
		return CircuitDecision{}, fmt.Errorf("resilience: unknown circuit op %d", op)
	}
	if err != nil {
		return CircuitDecision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return parseCircuitDecision(op, raw)
}

// Snapshot returns a read-only view of tool's circuit.
func (s *RedisCircuitStore) Snapshot(ctx context.Context, tool string, cfg CircuitBreakerConfig) (CircuitSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	now := s.clock.Now()
	raw, err := circuitSnapshotScript.Run(ctx, s.client,
		[]string{s.stateKey(tool), s.failKey(tool)},
		now.UnixMilli(), cfg.FailureWindow.Milliseconds()).Result()
	if err != nil {
		return CircuitSnapshot{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return parseCircuitSnapshot(tool, cfg, now, raw)
}

// Tools lists tool names with tracked state, via SCAN.
func (s *RedisCircuitStore) Tools(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	seen := make(map[string]bool)
	for _, pattern := range []string{s.prefix + ":cb:state:", s.prefix + ":cb:fail:"} {
		keys, err := scanKeys(ctx, s.client, pattern+"*")
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			seen[strings.TrimPrefix(key, pattern)] = true
		}
	}

	tools := make([]string, 0, len(seen))
	for tool := range seen {
		tools = append(tools, tool)
	}
	return tools, nil
}

// Delete removes one tool's state.
func (s *RedisCircuitStore) Delete(ctx context.Context, tool string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, s.stateKey(tool), s.failKey(tool)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteAll removes all tracked state under this store's prefix.
func (s *RedisCircuitStore) DeleteAll(ctx context.Context) (int, error) {
	tools, err := s.Tools(ctx)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	for _, tool := range tools {
		if err := s.client.Del(ctx, s.stateKey(tool), s.failKey(tool)).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return len(tools), nil
}

// RedisRateStore is a RateStore backed by a shared Redis. Each scope is a
// time-ordered set pruned inside the same script that counts and inserts.
type RedisRateStore struct {
	client    RedisClient
	prefix    string
	opTimeout time.Duration
	clock     Clock
}

// NewRedisRateStore creates a Redis-backed rate store.
func NewRedisRateStore(client RedisClient, cfg RedisStoreConfig) *RedisRateStore {
	cfg = cfg.withDefaults()
	return &RedisRateStore{
		client:    client,
		prefix:    cfg.KeyPrefix,
		opTimeout: cfg.OpTimeout,
		clock:     cfg.Clock,
	}
}

func (s *RedisRateStore) key(scope string) string {
	return s.prefix + ":rl:" + scope
}

// Acquire attempts to consume one slot in scope via one script invocation.
func (s *RedisRateStore) Acquire(ctx context.Context, scope string, limit int, period time.Duration) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	raw, err := rateAcquireScript.Run(ctx, s.client,
		[]string{s.key(scope)},
		s.clock.Now().UnixMilli(), period.Milliseconds(), limit, uuid.NewString()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return parseAcquire(raw)
}

// Count prunes and returns the scope's occupancy.
func (s *RedisRateStore) Count(ctx context.Context, scope string, period time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	n, err := rateCountScript.Run(ctx, s.client,
		[]string{s.key(scope)},
		s.clock.Now().UnixMilli(), period.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Clear empties one scope.
func (s *RedisRateStore) Clear(ctx context.Context, scope string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, s.key(scope)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ClearAll empties every scope under this store's prefix.
func (s *RedisRateStore) ClearAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	keys, err := scanKeys(ctx, s.client, s.prefix+":rl:*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func scanKeys(ctx context.Context, client RedisClient, match string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		page, next, err := client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		keys = append(keys, page...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func parseCircuitDecision(op CircuitOp, raw any) (CircuitDecision, error) {
	reply, ok := raw.([]any)
	if !ok {
		return CircuitDecision{}, fmt.Errorf("resilience: unexpected script reply %T", raw)
	}

	i := 0
	var d CircuitDecision
	if op == OpCanExecute {
		if len(reply) != 3 {
			return CircuitDecision{}, fmt.Errorf("resilience: unexpected script reply length %d", len(reply))
		}
		allowed, ok := reply[0].(int64)
		if !ok {
			return CircuitDecision{}, fmt.Errorf("resilience: unexpected allowed reply %T", reply[0])
		}
		d.Allowed = allowed == 1
		i = 1
	} else if len(reply) != 2 {
		return CircuitDecision{}, fmt.Errorf("resilience: unexpected script reply length %d", len(reply))
	}

	var err error
	if d.From, err = parseState(reply[i]); err != nil {
		return CircuitDecision{}, err
	}
	if d.To, err = parseState(reply[i+1]); err != nil {
		return CircuitDecision{}, err
	}
	return d, nil
}

func parseCircuitSnapshot(tool string, cfg CircuitBreakerConfig, now time.Time, raw any) (CircuitSnapshot, error) {
	reply, ok := raw.([]any)
	if !ok || len(reply) != 5 {
		return CircuitSnapshot{}, fmt.Errorf("resilience: unexpected snapshot reply %T", raw)
	}

	state, err := parseState(reply[0])
	if err != nil {
		return CircuitSnapshot{}, err
	}

	nums := make([]int64, 4)
	for i, v := range reply[1:] {
		n, ok := v.(int64)
		if !ok {
			return CircuitSnapshot{}, fmt.Errorf("resilience: unexpected snapshot field %T", v)
		}
		nums[i] = n
	}

	snap := CircuitSnapshot{
		Tool:          tool,
		State:         state,
		FailureCount:  int(nums[0]),
		SuccessCount:  int(nums[1]),
		HalfOpenCalls: int(nums[3]),
	}
	if state == StateOpen {
		openedAt := time.UnixMilli(nums[2])
		snap.OpenedAt = &openedAt
		if remaining := cfg.ResetTimeout - now.Sub(openedAt); remaining > 0 {
			snap.TimeUntilHalfOpen = &remaining
		}
	}
	return snap, nil
}

func parseAcquire(raw any) (bool, time.Duration, error) {
	reply, ok := raw.([]any)
	if !ok || len(reply) != 2 {
		return false, 0, fmt.Errorf("resilience: unexpected acquire reply %T", raw)
	}

	acquired, ok1 := reply[0].(int64)
	retryMs, ok2 := reply[1].(int64)
	if !ok1 || !ok2 {
		return false, 0, fmt.Errorf("resilience: unexpected acquire fields %T, %T", reply[0], reply[1])
	}
	return acquired == 1, time.Duration(retryMs) * time.Millisecond, nil
}

// parseState decodes a state name from a script reply.
func parseState(v any) (State, error) {
	s, ok := v.(string)
	if !ok {
		return StateClosed, fmt.Errorf("resilience: unexpected state reply %T", v)
	}
	switch s {
	case "closed":
		return StateClosed, nil
	case "open":
		return StateOpen, nil
	case "half_open":
		return StateHalfOpen, nil
	default:
		return StateClosed, fmt.Errorf("resilience: unknown state %q", s)
	}
}

var (
	_ CircuitStore = (*RedisCircuitStore)(nil)
	_ RateStore    = (*RedisRateStore)(nil)
)
