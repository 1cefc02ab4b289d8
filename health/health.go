package health

import (
	"context"
	"errors"
	"time"
)

// ErrCheckFailed indicates a health check failed.
var ErrCheckFailed = errors.New("health: check failed")

// Status grades a check outcome.
type Status int

const (
	// StatusHealthy means the component is operating normally.
	StatusHealthy Status = iota
	// StatusDegraded means the component works but needs attention.
	StatusDegraded
	// StatusUnhealthy means the component is not operational.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Result is one check's outcome.
type Result struct {
	// Status grades the outcome.
	Status Status

	// Message is a human-readable summary.
	Message string

	// Details carries check-specific metadata.
	Details map[string]any

	// Timestamp is when the check ran.
	Timestamp time.Time

	// Error is set when Status is StatusUnhealthy.
	Error error
}

// Checker is a named, repeatable health check.
//
// Contract:
//   - Check must not panic; problems are reported through the Result.
//   - Implementations must be safe for concurrent use.
type Checker interface {
	// Name identifies this checker in aggregated output.
	Name() string

	// Check runs the check and reports its outcome.
	Check(ctx context.Context) Result
}
