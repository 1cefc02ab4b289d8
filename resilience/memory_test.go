package resilience

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryCircuitStore_ImplicitClosed(t *testing.T) {
	store := NewMemoryCircuitStore()
	cfg := CircuitBreakerConfig{}.withDefaults()

	d, err := store.Transition(context.Background(), "unknown", OpCanExecute, cfg)
	if err != nil {
		t.Fatalf("Transition error = %v", err)
	}
	if !d.Allowed {
		t.Error("Allowed = false for an untracked tool")
	}
	if d.From != StateClosed || d.To != StateClosed {
		t.Errorf("transition = %v>%v, want closed>closed", d.From, d.To)
	}

	snap, err := store.Snapshot(context.Background(), "unknown", cfg)
	if err != nil {
		t.Fatalf("Snapshot error = %v", err)
	}
	if snap.State != StateClosed || snap.FailureCount != 0 {
		t.Errorf("snapshot = %+v, want fresh closed", snap)
	}
}

func TestMemoryCircuitStore_UnknownOp(t *testing.T) {
	store := NewMemoryCircuitStore()
	cfg := CircuitBreakerConfig{}.withDefaults()

	if _, err := store.Transition(context.Background(), "X", CircuitOp(99), cfg); err == nil {
		t.Error("unknown op accepted")
	}
}

func TestMemoryCircuitStore_SuccessOnClosedIsNoop(t *testing.T) {
	store := NewMemoryCircuitStore()
	cfg := CircuitBreakerConfig{}.withDefaults()
	ctx := context.Background()

	if _, err := store.Transition(ctx, "X", OpRecordSuccess, cfg); err != nil {
		t.Fatalf("Transition error = %v", err)
	}

	tools, err := store.Tools(ctx)
	if err != nil {
		t.Fatalf("Tools error = %v", err)
	}
	if len(tools) != 0 {
		t.Errorf("success on an untracked tool created state: %v", tools)
	}
}

func TestMemoryCircuitStore_FailureOnOpenIsNoop(t *testing.T) {
	clock := NewManualClock(time.Now())
	store := NewMemoryCircuitStoreWithClock(clock)
	cfg := CircuitBreakerConfig{FailureThreshold: 1}.withDefaults()
	ctx := context.Background()

	if _, err := store.Transition(ctx, "X", OpRecordFailure, cfg); err != nil {
		t.Fatalf("Transition error = %v", err)
	}
	openedSnap, _ := store.Snapshot(ctx, "X", cfg)

	clock.Advance(time.Second)
	d, err := store.Transition(ctx, "X", OpRecordFailure, cfg)
	if err != nil {
		t.Fatalf("Transition error = %v", err)
	}
	if d.From != StateOpen || d.To != StateOpen {
		t.Errorf("transition = %v>%v, want open>open", d.From, d.To)
	}

	snap, _ := store.Snapshot(ctx, "X", cfg)
	if snap.OpenedAt == nil || openedSnap.OpenedAt == nil || !snap.OpenedAt.Equal(*openedSnap.OpenedAt) {
		t.Error("failure on an open circuit moved OpenedAt")
	}
}

func TestMemoryCircuitStore_ConcurrentFailuresAllCounted(t *testing.T) {
	const workers = 50
	store := NewMemoryCircuitStore()
	cfg := CircuitBreakerConfig{FailureThreshold: workers, FailureWindow: time.Hour}.withDefaults()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Transition(ctx, "X", OpRecordFailure, cfg); err != nil {
				t.Errorf("Transition error = %v", err)
			}
		}()
	}
	wg.Wait()

	// Exactly the threshold-th failure must have opened the circuit.
	snap, err := store.Snapshot(ctx, "X", cfg)
	if err != nil {
		t.Fatalf("Snapshot error = %v", err)
	}
	if snap.State != StateOpen {
		t.Errorf("state = %v after %d concurrent failures, want open", snap.State, workers)
	}
	if snap.FailureCount != workers {
		t.Errorf("FailureCount = %d, want %d (lost updates)", snap.FailureCount, workers)
	}
}

func TestMemoryRateStore_AcquireUpToLimit(t *testing.T) {
	store := NewMemoryRateStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := store.Acquire(ctx, GlobalScope, 3, time.Minute)
		if err != nil {
			t.Fatalf("Acquire error = %v", err)
		}
		if !ok {
			t.Fatalf("Acquire #%d denied below limit", i+1)
		}
	}

	ok, retryAfter, err := store.Acquire(ctx, GlobalScope, 3, time.Minute)
	if err != nil {
		t.Fatalf("Acquire error = %v", err)
	}
	if ok {
		t.Error("Acquire succeeded above limit")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Errorf("retryAfter = %v, want within (0, 1m]", retryAfter)
	}
}

func TestMemoryRateStore_WindowSlides(t *testing.T) {
	clock := NewManualClock(time.Now())
	store := NewMemoryRateStoreWithClock(clock)
	ctx := context.Background()

	if ok, _, _ := store.Acquire(ctx, "tool:search", 1, 10*time.Second); !ok {
		t.Fatal("first Acquire denied")
	}
	if ok, _, _ := store.Acquire(ctx, "tool:search", 1, 10*time.Second); ok {
		t.Fatal("second Acquire succeeded inside the window")
	}

	clock.Advance(11 * time.Second)
	if ok, _, _ := store.Acquire(ctx, "tool:search", 1, 10*time.Second); !ok {
		t.Error("Acquire denied after the window slid past the old entry")
	}
}

func TestMemoryRateStore_CountPrunes(t *testing.T) {
	clock := NewManualClock(time.Now())
	store := NewMemoryRateStoreWithClock(clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		store.Acquire(ctx, GlobalScope, 10, 10*time.Second)
	}
	if n, _ := store.Count(ctx, GlobalScope, 10*time.Second); n != 4 {
		t.Errorf("Count = %d, want 4", n)
	}

	clock.Advance(11 * time.Second)
	if n, _ := store.Count(ctx, GlobalScope, 10*time.Second); n != 0 {
		t.Errorf("Count = %d after expiry, want 0", n)
	}
}

func TestMemoryRateStore_ScopesAreIndependent(t *testing.T) {
	store := NewMemoryRateStore()
	ctx := context.Background()

	if ok, _, _ := store.Acquire(ctx, ToolScope("a"), 1, time.Minute); !ok {
		t.Fatal("Acquire(a) denied")
	}
	if ok, _, _ := store.Acquire(ctx, ToolScope("b"), 1, time.Minute); !ok {
		t.Error("Acquire(b) denied after filling scope a")
	}
}

func TestMemoryRateStore_ClearAndClearAll(t *testing.T) {
	store := NewMemoryRateStore()
	ctx := context.Background()

	store.Acquire(ctx, GlobalScope, 5, time.Minute)
	store.Acquire(ctx, ToolScope("a"), 5, time.Minute)

	if err := store.Clear(ctx, ToolScope("a")); err != nil {
		t.Fatalf("Clear error = %v", err)
	}
	if n, _ := store.Count(ctx, ToolScope("a"), time.Minute); n != 0 {
		t.Errorf("Count(a) = %d after Clear, want 0", n)
	}
	if n, _ := store.Count(ctx, GlobalScope, time.Minute); n != 1 {
		t.Errorf("Count(global) = %d, want 1 (Clear must not touch other scopes)", n)
	}

	if err := store.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll error = %v", err)
	}
	if n, _ := store.Count(ctx, GlobalScope, time.Minute); n != 0 {
		t.Errorf("Count(global) = %d after ClearAll, want 0", n)
	}
}

func TestMemoryRateStore_ConcurrentAcquireRespectsLimit(t *testing.T) {
	const limit = 10
	store := NewMemoryRateStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := store.Acquire(ctx, GlobalScope, limit, time.Minute)
			if err != nil {
				t.Errorf("Acquire error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != limit {
		t.Errorf("granted %d slots under concurrency, want %d", granted, limit)
	}
}

func TestPruneOlder(t *testing.T) {
	base := time.Now()
	entries := []time.Time{
		base,
		base.Add(time.Second),
		base.Add(2 * time.Second),
	}

	pruned := pruneOlder(entries, base.Add(time.Second))
	if len(pruned) != 1 {
		t.Fatalf("pruneOlder kept %d entries, want 1", len(pruned))
	}
	if !pruned[0].Equal(base.Add(2 * time.Second)) {
		t.Errorf("survivor = %v, want the newest entry", pruned[0])
	}
}
