package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartHandleSpan starts a span for one Handle call.
	StartHandleSpan(ctx context.Context, eventType, messageID string) (context.Context, trace.Span)

	// StartObserveSpan starts a span for the atomic correlation update.
	// It should be a child of the handle span.
	StartObserveSpan(ctx context.Context, entity string, position int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{tracer: otel.Tracer("bracketer")}
}

// NewSpanManagerFromProvider returns a SpanManager bound to provider.
func NewSpanManagerFromProvider(provider trace.TracerProvider) SpanManager {
	return &otelSpanManager{tracer: provider.Tracer("bracketer")}
}

// StartHandleSpan starts a span for one Handle call.
func (m *otelSpanManager) StartHandleSpan(ctx context.Context, eventType, messageID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "bracketer.handle",
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("event.message_id", messageID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartObserveSpan starts a span for the atomic correlation update.
func (m *otelSpanManager) StartObserveSpan(ctx context.Context, entity string, position int) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "bracketer.correlation.observe",
		trace.WithAttributes(
			attribute.String("entity.key", entity),
			attribute.Int("sequence.position", position),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
