package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryCircuitStore is a single-process CircuitStore backed by a
// mutex-guarded map. All transitions hold the lock for their full duration,
// so the check-then-act sequences are atomic within the process.
type MemoryCircuitStore struct {
	clock Clock

	mu       sync.Mutex
	circuits map[string]*circuitRecord
}

type circuitRecord struct {
	state State

	// failures holds failure timestamps inside the sliding window while
	// the circuit is closed.
	failures []time.Time

	// failureCount is the count at the moment the circuit opened.
	failureCount int

	successCount  int
	openedAt      time.Time
	halfOpenCalls int
}

// NewMemoryCircuitStore creates an in-memory circuit store.
func NewMemoryCircuitStore() *MemoryCircuitStore {
	return NewMemoryCircuitStoreWithClock(SystemClock())
}

// NewMemoryCircuitStoreWithClock creates an in-memory circuit store with a
// custom time source.
func NewMemoryCircuitStoreWithClock(clock Clock) *MemoryCircuitStore {
	return &MemoryCircuitStore{
		clock:    clock,
		circuits: make(map[string]*circuitRecord),
	}
}

// Transition atomically applies op for tool.
func (s *MemoryCircuitStore) Transition(_ context.Context, tool string, op CircuitOp, cfg CircuitBreakerConfig) (CircuitDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch op {
	case OpCanExecute:
		return s.canExecuteLocked(tool, cfg), nil
	case OpRecordSuccess:
		return s.recordSuccessLocked(tool, cfg), nil
	case OpRecordFailure:
		return s.recordFailureLocked(tool, cfg), nil
	default:
		return CircuitDecision{}, fmt.Errorf("resilience: unknown circuit op %d", op)
	}
}

func (s *MemoryCircuitStore) canExecuteLocked(tool string, cfg CircuitBreakerConfig) CircuitDecision {
	rec, ok := s.circuits[tool]
	if !ok || rec.state == StateClosed {
		return CircuitDecision{Allowed: true, From: StateClosed, To: StateClosed}
	}

	now := s.clock.Now()
	switch rec.state {
	case StateOpen:
		if now.Sub(rec.openedAt) >= cfg.ResetTimeout {
			rec.state = StateHalfOpen
			rec.successCount = 0
			rec.halfOpenCalls = 1
			return CircuitDecision{Allowed: true, From: StateOpen, To: StateHalfOpen}
		}
		return CircuitDecision{From: StateOpen, To: StateOpen}
	default: // half-open
		if rec.halfOpenCalls < cfg.HalfOpenMaxCalls {
			rec.halfOpenCalls++
			return CircuitDecision{Allowed: true, From: StateHalfOpen, To: StateHalfOpen}
		}
		return CircuitDecision{From: StateHalfOpen, To: StateHalfOpen}
	}
}

func (s *MemoryCircuitStore) recordSuccessLocked(tool string, cfg CircuitBreakerConfig) CircuitDecision {
	rec, ok := s.circuits[tool]
	if !ok || rec.state != StateHalfOpen {
		state := StateClosed
		if ok {
			state = rec.state
		}
		return CircuitDecision{From: state, To: state}
	}

	rec.successCount++
	if rec.successCount >= cfg.SuccessThreshold {
		// Deleting the record is equivalent to a fresh closed circuit.
		delete(s.circuits, tool)
		return CircuitDecision{From: StateHalfOpen, To: StateClosed}
	}
	// The completed trial frees its admission slot so the next trial can
	// be admitted.
	if rec.halfOpenCalls > 0 {
		rec.halfOpenCalls--
	}
	return CircuitDecision{From: StateHalfOpen, To: StateHalfOpen}
}

func (s *MemoryCircuitStore) recordFailureLocked(tool string, cfg CircuitBreakerConfig) CircuitDecision {
	rec, ok := s.circuits[tool]
	if !ok {
		rec = &circuitRecord{state: StateClosed}
		s.circuits[tool] = rec
	}

	now := s.clock.Now()
	switch rec.state {
	case StateOpen:
		return CircuitDecision{From: StateOpen, To: StateOpen}
	case StateHalfOpen:
		rec.state = StateOpen
		rec.openedAt = now
		rec.successCount = 0
		rec.halfOpenCalls = 0
		return CircuitDecision{From: StateHalfOpen, To: StateOpen}
	default:
		rec.failures = append(rec.failures, now)
		rec.failures = pruneOlder(rec.failures, now.Add(-cfg.FailureWindow))
		if len(rec.failures) >= cfg.FailureThreshold {
			rec.state = StateOpen
			rec.openedAt = now
			rec.failureCount = len(rec.failures)
			rec.failures = nil
			rec.successCount = 0
			rec.halfOpenCalls = 0
			return CircuitDecision{From: StateClosed, To: StateOpen}
		}
		return CircuitDecision{From: StateClosed, To: StateClosed}
	}
}

// Snapshot returns a read-only view of tool's circuit.
func (s *MemoryCircuitStore) Snapshot(_ context.Context, tool string, cfg CircuitBreakerConfig) (CircuitSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.circuits[tool]
	if !ok {
		return CircuitSnapshot{Tool: tool, State: StateClosed}, nil
	}

	snap := CircuitSnapshot{
		Tool:          tool,
		State:         rec.state,
		SuccessCount:  rec.successCount,
		HalfOpenCalls: rec.halfOpenCalls,
	}

	now := s.clock.Now()
	if rec.state == StateClosed {
		rec.failures = pruneOlder(rec.failures, now.Add(-cfg.FailureWindow))
		snap.FailureCount = len(rec.failures)
	} else {
		snap.FailureCount = rec.failureCount
	}

	if rec.state == StateOpen {
		openedAt := rec.openedAt
		snap.OpenedAt = &openedAt
		if remaining := cfg.ResetTimeout - now.Sub(rec.openedAt); remaining > 0 {
			snap.TimeUntilHalfOpen = &remaining
		}
	}
	return snap, nil
}

// Tools lists tool names with tracked state.
func (s *MemoryCircuitStore) Tools(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tools := make([]string, 0, len(s.circuits))
	for tool := range s.circuits {
		tools = append(tools, tool)
	}
	return tools, nil
}

// Delete removes one tool's state.
func (s *MemoryCircuitStore) Delete(_ context.Context, tool string) error {
	s.mu.Lock()
	delete(s.circuits, tool)
	s.mu.Unlock()
	return nil
}

// DeleteAll removes all tracked state.
func (s *MemoryCircuitStore) DeleteAll(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.circuits)
	s.circuits = make(map[string]*circuitRecord)
	return n, nil
}

// pruneOlder drops timestamps at or before cutoff. Entries are appended in
// time order, so the survivors are a suffix.
func pruneOlder(entries []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	return entries[i:]
}

// MemoryRateStore is a single-process RateStore. Each scope holds its own
// lock and timestamp log, so unrelated tools never contend.
type MemoryRateStore struct {
	clock Clock

	mu     sync.RWMutex
	scopes map[string]*rateWindow
}

type rateWindow struct {
	mu      sync.Mutex
	entries []time.Time
}

// NewMemoryRateStore creates an in-memory rate store.
func NewMemoryRateStore() *MemoryRateStore {
	return NewMemoryRateStoreWithClock(SystemClock())
}

// NewMemoryRateStoreWithClock creates an in-memory rate store with a custom
// time source.
func NewMemoryRateStoreWithClock(clock Clock) *MemoryRateStore {
	return &MemoryRateStore{
		clock:  clock,
		scopes: make(map[string]*rateWindow),
	}
}

func (s *MemoryRateStore) window(scope string) *rateWindow {
	s.mu.RLock()
	w, ok := s.scopes[scope]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.scopes[scope]; ok {
		return w
	}
	w = &rateWindow{}
	s.scopes[scope] = w
	return w
}

// Acquire prunes, counts and conditionally inserts under the scope's lock.
func (s *MemoryRateStore) Acquire(_ context.Context, scope string, limit int, period time.Duration) (bool, time.Duration, error) {
	w := s.window(scope)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := s.clock.Now()
	w.entries = pruneOlder(w.entries, now.Add(-period))
	if len(w.entries) < limit {
		w.entries = append(w.entries, now)
		return true, 0, nil
	}

	retryAfter := w.entries[0].Add(period).Sub(now)
	return false, retryAfter, nil
}

// Count prunes and returns the scope's occupancy.
func (s *MemoryRateStore) Count(_ context.Context, scope string, period time.Duration) (int, error) {
	w := s.window(scope)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = pruneOlder(w.entries, s.clock.Now().Add(-period))
	return len(w.entries), nil
}

// Clear empties one scope.
func (s *MemoryRateStore) Clear(_ context.Context, scope string) error {
	s.mu.Lock()
	delete(s.scopes, scope)
	s.mu.Unlock()
	return nil
}

// ClearAll empties every scope.
func (s *MemoryRateStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	s.scopes = make(map[string]*rateWindow)
	s.mu.Unlock()
	return nil
}

var (
	_ CircuitStore = (*MemoryCircuitStore)(nil)
	_ RateStore    = (*MemoryRateStore)(nil)
)
