package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name for processing spans.
const TracerName = "meeting-digest"

// Span attribute keys
const (
	AttrMeetingID    = "meeting_id"
	AttrMode         = "mode"
	AttrStage        = "stage"
	AttrModel        = "model"
	AttrOutcome      = "outcome"
	AttrErrorCode    = "error_code"
	AttrRetryable    = "retryable"
	AttrDurationMs   = "duration_ms"
	AttrInputTokens  = "input_tokens"
	AttrOutputTokens = "output_tokens"
)

// Span names
const (
	SpanProcessMeeting = "digest.process_meeting"
	SpanStage          = "digest.stage"
	SpanLLMCall        = "digest.llm_call"
)

// Tracer starts processing spans on the global OpenTelemetry provider.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// StartRunSpan starts the root span of a processing run.
func (t *Tracer) StartRunSpan(ctx context.Context, meetingID, mode string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanProcessMeeting,
		trace.WithAttributes(
			attribute.String(AttrMeetingID, meetingID),
			attribute.String(AttrMode, mode),
		),
	)
}

// StartStageSpan starts a span for one analysis stage.
func (t *Tracer) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanStage,
		trace.WithAttributes(attribute.String(AttrStage, stage)),
	)
}

// StartLLMSpan starts a span for a chat completion call.
func (t *Tracer) StartLLMSpan(ctx context.Context, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanLLMCall,
		trace.WithAttributes(attribute.String(AttrModel, model)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SpanHelper sets common attributes on a span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper wraps span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetOutcome sets the outcome attribute.
func (h *SpanHelper) SetOutcome(outcome string) {
	h.span.SetAttributes(attribute.String(AttrOutcome, outcome))
}

// SetTokens records provider token usage.
func (h *SpanHelper) SetTokens(input, output int) {
	h.span.SetAttributes(
		attribute.Int(AttrInputTokens, input),
		attribute.Int(AttrOutputTokens, output),
	)
}

// SetError records err on the span.
func (h *SpanHelper) SetError(err error, code string, retryable bool) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.Bool(AttrRetryable, retryable),
	)
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID from the context, or "".
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
