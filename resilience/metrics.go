package resilience

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records resilience events.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordTransition records a circuit state transition.
	RecordTransition(ctx context.Context, tool string, from, to State)

	// RecordRejection records a call rejected before reaching the wrapped
	// strategy.
	RecordRejection(ctx context.Context, tool string, kind RejectionKind)

	// RecordWait records how long a caller was blocked by the rate
	// limiter.
	RecordWait(ctx context.Context, tool string, waited time.Duration)
}

type otelMetrics struct {
	transitions metric.Int64Counter
	rejections  metric.Int64Counter
	waitHist    metric.Float64Histogram
}

// NewMetrics creates a Metrics backed by the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	transitions, err := meter.Int64Counter(
		"toolguard.circuit.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	rejections, err := meter.Int64Counter(
		"toolguard.calls.rejected",
		metric.WithDescription("Calls rejected before reaching the wrapped strategy"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	waitHist, err := meter.Float64Histogram(
		"toolguard.ratelimit.wait_ms",
		metric.WithDescription("Time callers spent blocked on the rate limiter"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		transitions: transitions,
		rejections:  rejections,
		waitHist:    waitHist,
	}, nil
}

// RecordTransition records a circuit state transition.
func (m *otelMetrics) RecordTransition(ctx context.Context, tool string, from, to State) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

// RecordRejection records a rejected call.
func (m *otelMetrics) RecordRejection(ctx context.Context, tool string, kind RejectionKind) {
	m.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("kind", kind.String()),
	))
}

// RecordWait records rate-limiter wait time in milliseconds.
func (m *otelMetrics) RecordWait(ctx context.Context, tool string, waited time.Duration) {
	m.waitHist.Record(ctx, float64(waited.Milliseconds()), metric.WithAttributes(
		attribute.String("tool", tool),
	))
}

// noopMetrics records nothing.
type noopMetrics struct{}

func (noopMetrics) RecordTransition(context.Context, string, State, State) {}
func (noopMetrics) RecordRejection(context.Context, string, RejectionKind) {}
func (noopMetrics) RecordWait(context.Context, string, time.Duration)      {}

// NoopMetrics returns a Metrics that records nothing.
func NoopMetrics() Metrics { return noopMetrics{} }
