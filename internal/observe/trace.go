package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Proctora tracer.
const tracerName = "github.com/MrWong99/proctora"

type connKey struct{}

// Tracer returns the package-level [trace.Tracer] for Proctora. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// WithConn returns a context carrying the host connection ID, picked up by
// [Logger]. A connection can host several interview views in turn; each view
// logs its own view_id.
func WithConn(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connKey{}, connID)
}

// ConnID returns the connection ID stored by [WithConn], or "".
func ConnID(ctx context.Context) string {
	id, _ := ctx.Value(connKey{}).(string)
	return id
}

// Logger returns an [slog.Logger] enriched with the connection ID and with
// trace_id and span_id from the OTel span context in ctx. Attributes that are
// absent from ctx are omitted.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := ConnID(ctx); id != "" {
		l = l.With(slog.String("conn_id", id))
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
