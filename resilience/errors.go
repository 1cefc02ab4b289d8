package resilience

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jonwraymond/toolguard/tool"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRateLimitExceeded is returned when the rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrStoreUnavailable is returned when the state store cannot be
	// reached or a store operation fails.
	ErrStoreUnavailable = errors.New("resilience: state store unavailable")

	// ErrBackendUnavailable is returned at construction time when the
	// requested backend cannot be built.
	ErrBackendUnavailable = errors.New("resilience: backend unavailable")

	// ErrUnknownBackend is returned at construction time for an
	// unrecognized backend selector.
	ErrUnknownBackend = errors.New("resilience: unknown backend")
)

// RejectionKind classifies why a call was rejected without reaching the
// wrapped strategy.
type RejectionKind int

const (
	// RejectionCircuitOpen means the tool's circuit breaker blocked the call.
	RejectionCircuitOpen RejectionKind = iota
	// RejectionRateLimited means the call could not acquire a rate slot.
	RejectionRateLimited
	// RejectionInfrastructure means the resilience layer itself failed,
	// e.g. the shared state store was unreachable during gating.
	RejectionInfrastructure
)

// String returns the string representation of the kind.
func (k RejectionKind) String() string {
	switch k {
	case RejectionCircuitOpen:
		return "circuit-open"
	case RejectionRateLimited:
		return "rate-limited"
	case RejectionInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// marker is the stable prefix embedded in synthesized ToolResult errors so
// callers can tell a rejection from a tool-level failure.
func (k RejectionKind) marker() string {
	switch k {
	case RejectionCircuitOpen:
		return "circuit breaker open"
	case RejectionRateLimited:
		return "rate limit exceeded"
	case RejectionInfrastructure:
		return "resilience backend error"
	default:
		return "call rejected"
	}
}

// RejectionError is a typed rejection produced by the resilience layer. It
// is embedded in synthesized ToolResult errors; callers match on Kind or on
// a sentinel via errors.Is rather than string-matching free text.
type RejectionError struct {
	Kind    RejectionKind
	Tool    string
	Message string
}

// Error returns the human-readable message, prefixed with the kind's marker.
func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s for %q: %s", e.Kind.marker(), e.Tool, e.Message)
}

// Unwrap maps the kind to its sentinel error.
func (e *RejectionError) Unwrap() error {
	switch e.Kind {
	case RejectionCircuitOpen:
		return ErrCircuitOpen
	case RejectionRateLimited:
		return ErrRateLimitExceeded
	default:
		return ErrStoreUnavailable
	}
}

// IsRejection reports whether err is a resilience rejection.
func IsRejection(err error) bool {
	var rerr *RejectionError
	return errors.As(err, &rerr)
}

// RejectionFromResult reports whether res was synthesized by the resilience
// layer rather than produced by a tool, and if so which kind of rejection.
func RejectionFromResult(res tool.ToolResult) (*RejectionError, bool) {
	if res.Error == "" {
		return nil, false
	}
	for _, kind := range []RejectionKind{RejectionCircuitOpen, RejectionRateLimited, RejectionInfrastructure} {
		if strings.HasPrefix(res.Error, kind.marker()) {
			return &RejectionError{Kind: kind, Tool: res.Tool, Message: res.Error}, true
		}
	}
	return nil, false
}
