package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordReceived does nothing.
func (NoopMetrics) RecordReceived(_ context.Context, _ string) {}

// RecordIgnored does nothing.
func (NoopMetrics) RecordIgnored(_ context.Context, _ string) {}

// RecordEmitted does nothing.
func (NoopMetrics) RecordEmitted(_ context.Context, _ string) {}

// RecordStoreError does nothing.
func (NoopMetrics) RecordStoreError(_ context.Context) {}

// RecordRenderFailure does nothing.
func (NoopMetrics) RecordRenderFailure(_ context.Context, _ string) {}

// RecordHandle does nothing.
func (NoopMetrics) RecordHandle(_ context.Context, _ time.Duration, _ error) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

// noopSpan is a span that does nothing.
var noopSpan = noop.Span{}

// StartHandleSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartHandleSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartObserveSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartObserveSpan(ctx context.Context, _ string, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
