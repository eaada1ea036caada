package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for all talkmate spans.
const tracerName = "github.com/hamchoi/talkmate"

// StartSpan opens a span on the globally registered tracer provider. The
// caller owns span.End.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// ProviderSpan opens a client span around one upstream vendor call. A tutor
// turn fans out to several vendors in sequence (script LLM, TTS, feedback
// LLM), so each call gets its own span named after the stage and tagged with
// the vendor kind; that is what makes per-stage latency visible inside the
// trace of a turn.
func ProviderSpan(ctx context.Context, stage, vendor string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "provider."+stage,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("talkmate.stage", stage),
			attribute.String("talkmate.vendor", vendor),
		),
	)
}

// FinishSpan ends span, marking it failed when err is non-nil.
func FinishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID extracts the trace ID from the span context in ctx. The
// trace ID doubles as the request correlation identifier surfaced to the
// browser in the X-Correlation-ID header. Returns the empty string when no
// span with a valid trace ID is active.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] carrying trace_id and span_id from the
// span context in ctx, or the default logger when no span is active.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
