// Package tracing installs a process-wide OpenTelemetry TracerProvider and
// wraps span creation for the one hot path that benefits from it: one pulse
// moving through the orchestrator's score/decide/enhance/persist chain. No
// exporter is attached here, mirroring the teacher's own tracer setup
// (engine/monitoring.NewOpenTelemetryTracer) pending a real OTLP collector;
// logctx already pulls trace_id/span_id out of whatever span is active, so
// wiring one in here is what makes those fields non-empty.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// NewProvider installs an in-process TracerProvider tagged with serviceName
// and environment, and returns a Tracer for it. Call once at startup.
func NewProvider(serviceName, environment string) oteltrace.Tracer {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.DeploymentEnvironmentKey.String(environment),
		)),
	)
	otel.SetTracerProvider(tp)
	return otel.Tracer(serviceName)
}

// StartPulseSpan starts a span for one orchestrator processing pass, tagged
// with the identifiers an operator would grep logs for.
func StartPulseSpan(ctx context.Context, tracer oteltrace.Tracer, pulseID, userID string) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, "orchestrator.process", oteltrace.WithAttributes(
		attribute.String("pulse_id", pulseID),
		attribute.String("user_id", userID),
	))
}

// EndSpan closes span, marking it errored when err is non-nil.
func EndSpan(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
