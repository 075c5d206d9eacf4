package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/lifelogger"

// Tracer returns the lifelogger tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartEncode starts a "codec.encode" span describing one encode of samples
// at rate. The returned func ends the span, marking it failed when err is
// non-nil.
func StartEncode(ctx context.Context, format string, samples int, rate uint32) (context.Context, func(err error)) {
	ctx, span := StartSpan(ctx, "codec.encode", trace.WithAttributes(
		attribute.String("codec", format),
		attribute.Int("samples", samples),
		attribute.Int64("sample_rate", int64(rate)),
	))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// CorrelationID returns the trace ID in ctx, or "". The HTTP middleware
// echoes it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns slog.Default with trace_id and span_id attached when ctx
// carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
