// Package adapter connects shmcopy sessions to external observability
// systems: OpenTelemetry, health probes and the admin HTTP listener.
package adapter

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/srediag/shmcopy"

// Telemetry wraps the tracer and meter used for copy sessions.
type Telemetry struct {
	tracer trace.Tracer
	bytes  metric.Int64Counter
}

// NewTelemetry builds Telemetry from the given providers. Nil providers fall
// back to no-op implementations.
func NewTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) (*Telemetry, error) {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	bytes, err := mp.Meter(instrumentationName).Int64Counter("shmcopy.bytes",
		metric.WithDescription("Bytes moved by copy sessions"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	return &Telemetry{tracer: tp.Tracer(instrumentationName), bytes: bytes}, nil
}

// NopTelemetry returns Telemetry that records nothing.
func NopTelemetry() *Telemetry {
	t, _ := NewTelemetry(nil, nil)
	return t
}

// StartSession opens a span covering one copy session.
func (t *Telemetry) StartSession(ctx context.Context, segment, role, id string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "shmcopy.session",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("shmcopy.segment", segment),
			attribute.String("shmcopy.role", role),
			attribute.String("shmcopy.session_id", id),
		))
}

// RecordBytes adds n to the bytes counter for role.
func (t *Telemetry) RecordBytes(ctx context.Context, role string, n int64) {
	t.bytes.Add(ctx, n, metric.WithAttributes(attribute.String("shmcopy.role", role)))
}
