package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/cuemix"

// Span attribute keys set by the control API.
const (
	AttrClip       = attribute.Key("cuemix.clip")
	AttrPlayMillis = attribute.Key("cuemix.play.duration_ms")
	AttrGroup      = attribute.Key("cuemix.group")
	AttrLevel      = attribute.Key("cuemix.group.level")
)

// StartSpan starts a span on the global cuemix tracer. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// AnnotatePlay records a play request on the span in ctx. A zero d means the
// engine produced no sound.
func AnnotatePlay(ctx context.Context, clip string, d time.Duration) {
	trace.SpanFromContext(ctx).SetAttributes(
		AttrClip.String(clip),
		AttrPlayMillis.Int64(d.Milliseconds()),
	)
}

// AnnotateVolume records a group level change on the span in ctx.
func AnnotateVolume(ctx context.Context, group string, level float64) {
	trace.SpanFromContext(ctx).SetAttributes(
		AttrGroup.String(group),
		AttrLevel.Float64(level),
	)
}

// CorrelationID is the trace ID of the span in ctx, or "". Control API
// responses carry it in the X-Correlation-ID header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// LoggerFrom adds trace_id and span_id from ctx to base. A nil base means
// [slog.Default].
func LoggerFrom(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return base
	}
	return base.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
