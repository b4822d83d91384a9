// Package observability provides the bracketer's structured logging,
// metrics and tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every log helper accepts a nil logger and does nothing.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds event context to a logger.
// Returns a new logger with event_type, message_id and entity fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "compute.instance.create.end", "msg-1", "i-123")
//	enriched.Debug("matched") // includes event_type, message_id, entity
func EnrichLogger(logger *slog.Logger, eventType, messageID, entity string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_type", eventType),
		slog.String("message_id", messageID),
		slog.String("entity", entity),
	)
}

// LogStart logs bracketer construction.
func LogStart(logger *slog.Logger, targetType string, sequence []string, required []string) {
	if logger == nil {
		return
	}
	logger.Info("bracketer configured",
		slog.String("target_type", targetType),
		slog.Any("sequence", sequence),
		slog.Any("required_sources", required),
	)
}

// LogIgnored logs an event that was not correlated.
func LogIgnored(logger *slog.Logger, eventType, messageID, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("event ignored",
		slog.String("event_type", eventType),
		slog.String("message_id", messageID),
		slog.String("reason", reason),
	)
}

// LogObserved logs a recorded observation.
func LogObserved(logger *slog.Logger, entity string, position, seen, length int) {
	if logger == nil {
		return
	}
	logger.Debug("position observed",
		slog.String("entity", entity),
		slog.Int("position", position),
		slog.Int("seen", seen),
		slog.Int("length", length),
	)
}

// LogEmitted logs a synthesized bracket event.
func LogEmitted(logger *slog.Logger, entity, eventType, messageID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("bracket emitted",
		slog.String("entity", entity),
		slog.String("event_type", eventType),
		slog.String("message_id", messageID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogStoreError logs a correlation store failure.
func LogStoreError(logger *slog.Logger, entity string, err error) {
	if logger == nil {
		return
	}
	logger.Error("correlation store failed",
		slog.String("entity", entity),
		slog.String("error", err.Error()),
	)
}

// LogRenderError logs a failed bracket render. The entity's state is kept.
func LogRenderError(logger *slog.Logger, entity, targetType string, err error) {
	if logger == nil {
		return
	}
	logger.Error("bracket render failed",
		slog.String("entity", entity),
		slog.String("target_type", targetType),
		slog.String("error", err.Error()),
	)
}

// LogSweep logs removal of expired correlation state.
func LogSweep(logger *slog.Logger, removed int) {
	if logger == nil {
		return
	}
	logger.Debug("expired state swept",
		slog.Int("removed", removed),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
