package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Reasons reported with RecordIgnored.
const (
	ReasonNotInSequence    = "not_in_sequence"
	ReasonMissingEntityKey = "missing_entity_key"
	ReasonOutOfOrder       = "out_of_order"
)

// MetricsRecorder records bracketer metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordReceived counts an event handed to the bracketer.
	RecordReceived(ctx context.Context, eventType string)

	// RecordIgnored counts an event that changed no state.
	RecordIgnored(ctx context.Context, reason string)

	// RecordEmitted counts a synthesized bracket event.
	RecordEmitted(ctx context.Context, eventType string)

	// RecordStoreError counts a correlation store failure.
	RecordStoreError(ctx context.Context)

	// RecordRenderFailure counts a failed render.
	RecordRenderFailure(ctx context.Context, eventType string)

	// RecordHandle records how long one Handle call took.
	RecordHandle(ctx context.Context, duration time.Duration, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	received       metric.Int64Counter
	ignored        metric.Int64Counter
	emitted        metric.Int64Counter
	storeErrors    metric.Int64Counter
	renderFailures metric.Int64Counter
	handleLatency  metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.Meter("bracketer"))
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates the bracketer instruments on meter.
func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	received, err := meter.Int64Counter("bracketer.events.received",
		metric.WithDescription("Number of events handled"),
	)
	if err != nil {
		return nil, err
	}

	ignored, err := meter.Int64Counter("bracketer.events.ignored",
		metric.WithDescription("Number of events that changed no correlation state"),
	)
	if err != nil {
		return nil, err
	}

	emitted, err := meter.Int64Counter("bracketer.brackets.emitted",
		metric.WithDescription("Number of synthesized bracket events"),
	)
	if err != nil {
		return nil, err
	}

	storeErrors, err := meter.Int64Counter("bracketer.store.errors",
		metric.WithDescription("Number of correlation store failures"),
	)
	if err != nil {
		return nil, err
	}

	renderFailures, err := meter.Int64Counter("bracketer.render.failures",
		metric.WithDescription("Number of failed bracket renders"),
	)
	if err != nil {
		return nil, err
	}

	handleLatency, err := meter.Float64Histogram("bracketer.handle.latency_ms",
		metric.WithDescription("Handle latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		received:       received,
		ignored:        ignored,
		emitted:        emitted,
		storeErrors:    storeErrors,
		renderFailures: renderFailures,
		handleLatency:  handleLatency,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFromProvider returns a MetricsRecorder bound to provider
// instead of the global one.
func NewMetricsRecorderFromProvider(provider metric.MeterProvider) (MetricsRecorder, error) {
	m, err := newOtelMetrics(provider.Meter("bracketer"))
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordReceived counts a handled event.
func (m *otelMetrics) RecordReceived(ctx context.Context, eventType string) {
	m.received.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordIgnored counts an ignored event.
func (m *otelMetrics) RecordIgnored(ctx context.Context, reason string) {
	m.ignored.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordEmitted counts an emitted bracket.
func (m *otelMetrics) RecordEmitted(ctx context.Context, eventType string) {
	m.emitted.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordStoreError counts a store failure.
func (m *otelMetrics) RecordStoreError(ctx context.Context) {
	m.storeErrors.Add(ctx, 1)
}

// RecordRenderFailure counts a render failure.
func (m *otelMetrics) RecordRenderFailure(ctx context.Context, eventType string) {
	m.renderFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordHandle records Handle latency.
func (m *otelMetrics) RecordHandle(ctx context.Context, duration time.Duration, err error) {
	m.handleLatency.Record(ctx, float64(duration.Microseconds())/1000,
		metric.WithAttributes(attribute.Bool("success", err == nil)))
}
