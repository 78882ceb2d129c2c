package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the augur tracer.
const tracerName = "github.com/shuymn/augur"

// Tracer returns the augur tracer from the globally registered
// [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span under the augur tracer. The caller owns the span
// and must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// ToolSpan starts a span covering one tool invocation, named after the tool.
// The returned finish function records the settled status ("ok", "timeout",
// "invalid_input", ...) on the span and ends it; call it exactly once, after
// the invocation settles.
func ToolSpan(ctx context.Context, tool string) (context.Context, func(status string)) {
	ctx, span := Tracer().Start(ctx, "tool "+tool,
		trace.WithAttributes(attribute.String("tool", tool)),
	)
	return ctx, func(status string) {
		span.SetAttributes(attribute.String("status", status))
		span.End()
	}
}

// CorrelationID returns the trace ID of the active span in ctx, or "" when
// there is none. The trace ID doubles as the request correlation identifier
// the middleware echoes in the X-Correlation-ID response header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default [slog.Logger] enriched with the trace_id and
// span_id of the active span in ctx, so tool and request logs can be joined
// to their traces. With no active span it returns the default logger as is.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
