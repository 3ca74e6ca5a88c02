package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/hanko-field/fulfillment/internal/platform/observability"

// VerificationMetrics records webhook signature and OIDC verification outcomes. It satisfies
// auth.MetricsRecorder.
type VerificationMetrics struct {
	attempts metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewVerificationMetrics registers the instruments on meter, or on the global provider when nil.
func NewVerificationMetrics(meter metric.Meter) (*VerificationMetrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	attempts, err := meter.Int64Counter("auth.verification.attempts",
		metric.WithDescription("Inbound request verifications by kind and outcome"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("auth.verification.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Verification latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}
	return &VerificationMetrics{attempts: attempts, latency: latency}, nil
}

// RecordVerification implements auth.MetricsRecorder.
func (m *VerificationMetrics) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	)
	m.attempts.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
}
