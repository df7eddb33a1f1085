package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tabflow/courier"

// Tracer provides OpenTelemetry tracing for Courier.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Courier tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartPublishSpan starts a span for a publish fanout.
func (t *Tracer) StartPublishSpan(ctx context.Context, eventID, topic, scope string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "courier.publish",
		trace.WithAttributes(
			attribute.String("courier.event_id", eventID),
			attribute.String("courier.topic", topic),
			attribute.String("courier.scope", scope),
		),
	)
}

// EndPublishSpan ends a publish span with the fanout result.
func (t *Tracer) EndPublishSpan(span trace.Span, fanout int, err string) {
	span.SetAttributes(attribute.Int("courier.fanout", fanout))
	if err != "" {
		span.SetAttributes(attribute.String("courier.error", err))
	}
	span.End()
}

// StartRetrySpan starts a span for one retry sweep.
func (t *Tracer) StartRetrySpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "courier.retry_sweep")
}

// EndRetrySpan ends a retry sweep span with the number of records re-sent.
func (t *Tracer) EndRetrySpan(span trace.Span, resent int) {
	span.SetAttributes(attribute.Int("courier.resent", resent))
	span.End()
}

// StartReplaySpan starts a span for a terminal replay request.
func (t *Tracer) StartReplaySpan(ctx context.Context, terminalID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "courier.replay",
		trace.WithAttributes(
			attribute.String("courier.terminal_id", terminalID),
		),
	)
}

// EndReplaySpan ends a replay span with the number of records re-sent.
func (t *Tracer) EndReplaySpan(span trace.Span, replayed int) {
	span.SetAttributes(attribute.Int("courier.replayed", replayed))
	span.End()
}
