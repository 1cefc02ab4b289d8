package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jonwraymond/toolguard/resilience"
)

// CircuitStates is the view of circuit breaker state the checker needs.
// *resilience.CircuitBreaker satisfies it.
type CircuitStates interface {
	GetAllStates(ctx context.Context) (map[string]resilience.CircuitSnapshot, error)
}

// CircuitChecker reports circuit breaker health: unhealthy when any circuit
// is open, degraded when any is half-open.
type CircuitChecker struct {
	name   string
	states CircuitStates
}

// NewCircuitChecker creates a checker over states.
func NewCircuitChecker(name string, states CircuitStates) *CircuitChecker {
	return &CircuitChecker{name: name, states: states}
}

// Name returns the name of this checker.
func (c *CircuitChecker) Name() string { return c.name }

// Check inspects every tracked circuit.
func (c *CircuitChecker) Check(ctx context.Context) Result {
	now := time.Now()

	all, err := c.states.GetAllStates(ctx)
	if err != nil {
		return Result{
			Status:    StatusUnhealthy,
			Message:   "circuit state unavailable",
			Error:     err,
			Timestamp: now,
		}
	}

	var open, halfOpen []string
	for tool, snap := range all {
		switch snap.State {
		case resilience.StateOpen:
			open = append(open, tool)
		case resilience.StateHalfOpen:
			halfOpen = append(halfOpen, tool)
		}
	}
	sort.Strings(open)
	sort.Strings(halfOpen)

	res := Result{
		Timestamp: now,
		Details: map[string]any{
			"tracked":   len(all),
			"open":      open,
			"half_open": halfOpen,
		},
	}
	switch {
	case len(open) > 0:
		res.Status = StatusUnhealthy
		res.Message = "circuits open: " + strings.Join(open, ", ")
		res.Error = ErrCheckFailed
	case len(halfOpen) > 0:
		res.Status = StatusDegraded
		res.Message = "circuits recovering: " + strings.Join(halfOpen, ", ")
	default:
		res.Status = StatusHealthy
		res.Message = fmt.Sprintf("%d tracked circuits closed", len(all))
	}
	return res
}

var _ Checker = (*CircuitChecker)(nil)
