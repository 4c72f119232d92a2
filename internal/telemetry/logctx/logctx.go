// Package logctx carries a *slog.Logger through context.Context so no
// component reaches for a package-level global logger. Every pipeline stage
// pulls its logger out of ctx and enriches it with trace/span ids when a
// span is active, mirroring the teacher's correlated-logger wrapper.
package logctx

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

type loggerKey struct{}

// With returns a new context carrying logger, replacing any logger already
// present.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// From returns the logger carried by ctx, or slog.Default() if none was set.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// Info logs at info level using the context's logger, adding trace/span ids
// from an active OTel span when present.
func Info(ctx context.Context, msg string, args ...any) {
	From(ctx).InfoContext(ctx, msg, withTraceAttrs(ctx, args)...)
}

// Warn logs at warn level using the context's logger.
func Warn(ctx context.Context, msg string, args ...any) {
	From(ctx).WarnContext(ctx, msg, withTraceAttrs(ctx, args)...)
}

// Error logs at error level using the context's logger.
func Error(ctx context.Context, msg string, args ...any) {
	From(ctx).ErrorContext(ctx, msg, withTraceAttrs(ctx, args)...)
}

// Debug logs at debug level using the context's logger.
func Debug(ctx context.Context, msg string, args ...any) {
	From(ctx).DebugContext(ctx, msg, withTraceAttrs(ctx, args)...)
}

func withTraceAttrs(ctx context.Context, args []any) []any {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return args
	}
	out := make([]any, 0, len(args)+2)
	out = append(out, args...)
	out = append(out, slog.String("trace_id", sc.TraceID().String()), slog.String("span_id", sc.SpanID().String()))
	return out
}
