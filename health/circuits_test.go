package health

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jonwraymond/toolguard/resilience"
)

type fakeStates struct {
	snapshots map[string]resilience.CircuitSnapshot
	err       error
}

func (f *fakeStates) GetAllStates(context.Context) (map[string]resilience.CircuitSnapshot, error) {
	return f.snapshots, f.err
}

func snapshot(state resilience.State) resilience.CircuitSnapshot {
	return resilience.CircuitSnapshot{State: state}
}

func TestCircuitChecker_Healthy(t *testing.T) {
	c := NewCircuitChecker("circuits", &fakeStates{snapshots: map[string]resilience.CircuitSnapshot{
		"search": snapshot(resilience.StateClosed),
		"fetch":  snapshot(resilience.StateClosed),
	}})

	res := c.Check(context.Background())
	if res.Status != StatusHealthy {
		t.Fatalf("Status = %v, want healthy", res.Status)
	}
	if res.Details["tracked"] != 2 {
		t.Errorf("tracked = %v, want 2", res.Details["tracked"])
	}
}

func TestCircuitChecker_OpenIsUnhealthy(t *testing.T) {
	c := NewCircuitChecker("circuits", &fakeStates{snapshots: map[string]resilience.CircuitSnapshot{
		"search":   snapshot(resilience.StateClosed),
		"payments": snapshot(resilience.StateOpen),
		"fetch":    snapshot(resilience.StateOpen),
	}})

	res := c.Check(context.Background())
	if res.Status != StatusUnhealthy {
		t.Fatalf("Status = %v, want unhealthy", res.Status)
	}
	if !errors.Is(res.Error, ErrCheckFailed) {
		t.Errorf("Error = %v, want ErrCheckFailed", res.Error)
	}
	// Names are sorted for stable output.
	if !strings.Contains(res.Message, "fetch, payments") {
		t.Errorf("Message = %q, want sorted open circuits", res.Message)
	}
}

func TestCircuitChecker_HalfOpenIsDegraded(t *testing.T) {
	c := NewCircuitChecker("circuits", &fakeStates{snapshots: map[string]resilience.CircuitSnapshot{
		"search": snapshot(resilience.StateHalfOpen),
		"fetch":  snapshot(resilience.StateClosed),
	}})

	res := c.Check(context.Background())
	if res.Status != StatusDegraded {
		t.Fatalf("Status = %v, want degraded", res.Status)
	}
	if !strings.Contains(res.Message, "search") {
		t.Errorf("Message = %q, want the recovering tool", res.Message)
	}
}

func TestCircuitChecker_StoreError(t *testing.T) {
	wantErr := errors.New("store down")
	c := NewCircuitChecker("circuits", &fakeStates{err: wantErr})

	res := c.Check(context.Background())
	if res.Status != StatusUnhealthy {
		t.Fatalf("Status = %v, want unhealthy", res.Status)
	}
	if !errors.Is(res.Error, wantErr) {
		t.Errorf("Error = %v, want the store error", res.Error)
	}
}

func TestCircuitChecker_WithRealBreaker(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.NewMemoryCircuitStore(),
		resilience.CircuitBreakerConfig{FailureThreshold: 1})
	c := NewCircuitChecker("circuits", cb)
	ctx := context.Background()

	if res := c.Check(ctx); res.Status != StatusHealthy {
		t.Fatalf("Status = %v before any failures, want healthy", res.Status)
	}

	if err := cb.RecordFailure(ctx, "search"); err != nil {
		t.Fatalf("RecordFailure error = %v", err)
	}
	res := c.Check(ctx)
	if res.Status != StatusUnhealthy {
		t.Fatalf("Status = %v after circuit opened, want unhealthy", res.Status)
	}
	if !strings.Contains(res.Message, "search") {
		t.Errorf("Message = %q, want the open tool", res.Message)
	}
}

func TestStatus_String(t *testing.T) {
	for status, want := range map[Status]string{
		StatusHealthy:   "healthy",
		StatusDegraded:  "degraded",
		StatusUnhealthy: "unhealthy",
		Status(9):       "unknown",
	} {
		if got := status.String(); got != want {
			t.Errorf("String(%d) = %q, want %q", int(status), got, want)
		}
	}
}
