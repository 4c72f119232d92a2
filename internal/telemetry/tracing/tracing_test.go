package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestStartPulseSpan_ProducesAValidSpanContext(t *testing.T) {
	tracer := NewProvider("pulsecore-test", "test")
	ctx, span := StartPulseSpan(context.Background(), tracer, "p1", "u1")
	defer EndSpan(span, nil)

	sc := span.SpanContext()
	if !sc.IsValid() {
		t.Fatalf("expected a valid span context from an installed provider")
	}
	if ctx == nil {
		t.Fatalf("expected a non-nil context")
	}
}

func TestEndSpan_RecordsErrorWithoutPanicking(t *testing.T) {
	tracer := NewProvider("pulsecore-test", "test")
	_, span := StartPulseSpan(context.Background(), tracer, "p2", "u2")
	EndSpan(span, errors.New("boom"))
}
