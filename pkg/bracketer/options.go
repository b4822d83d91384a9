package bracketer

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/bracketer/pkg/bracketer/config"
	"github.com/randalmurphal/bracketer/pkg/bracketer/correlation"
	"github.com/randalmurphal/bracketer/pkg/bracketer/observability"
)

// DefaultEntityTrait is the trait that identifies an entity by default.
const DefaultEntityTrait = "instance_id"

// RenderPolicy decides what an unresolved placeholder renders as.
type RenderPolicy int

const (
	// RenderPermissive substitutes an empty string. This is the default.
	RenderPermissive RenderPolicy = iota

	// RenderStrict fails the render with ErrRenderIncomplete and keeps the
	// entity's state.
	RenderStrict
)

// String returns the policy name.
func (p RenderPolicy) String() string {
	switch p {
	case RenderPermissive:
		return "permissive"
	case RenderStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// ParseRenderPolicy parses "permissive" or "strict", case-insensitively.
func ParseRenderPolicy(s string) (RenderPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "permissive", "":
		return RenderPermissive, nil
	case "strict":
		return RenderStrict, nil
	default:
		return 0, fmt.Errorf("unknown render policy %q", s)
	}
}

// options holds Bracketer configuration.
type options struct {
	entityTrait  string
	stateTTL     time.Duration
	storeTimeout time.Duration
	policy       RenderPolicy
	ordered      bool
	markerPrefix string
	paramPrefix  string

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	now   func() time.Time
	newID func() string
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		entityTrait:  DefaultEntityTrait,
		stateTTL:     correlation.DefaultTTL,
		storeTimeout: correlation.DefaultTimeout,
		policy:       RenderPermissive,
		markerPrefix: correlation.DefaultMarkerPrefix,
		paramPrefix:  correlation.DefaultParamPrefix,
		metrics:      observability.NoopMetrics{},
		spans:        observability.NoopSpanManager{},
		now:          time.Now,
		newID:        defaultID,
	}
}

func defaultID() string {
	return uuid.NewString()
}

// Option configures a Bracketer.
type Option func(*options)

// WithEntityTrait sets the trait that identifies an event's entity.
// Default: "instance_id"
func WithEntityTrait(name string) Option {
	return func(o *options) {
		if name != "" {
			o.entityTrait = name
		}
	}
}

// WithStateTTL sets the sliding expiry of correlation state. Every write
// refreshes it. Zero disables expiry.
// Default: 24h
func WithStateTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl >= 0 {
			o.stateTTL = ttl
		}
	}
}

// WithStoreTimeout bounds each correlation store call. A call that runs out
// of time fails with ErrStoreUnavailable. Zero disables the bound.
// Default: 2s
func WithStoreTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.storeTimeout = d
		}
	}
}

// WithRenderPolicy sets how unresolved placeholders are rendered.
// Default: RenderPermissive
func WithRenderPolicy(p RenderPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithOrderedSequence rejects an event unless every earlier position in the
// sequence has already been observed for its entity. By default arrival
// order does not matter.
func WithOrderedSequence(ordered bool) Option {
	return func(o *options) {
		o.ordered = ordered
	}
}

// WithKeyPrefixes sets the cache key prefixes for markers and params.
// Default: "marker:" and "target:"
func WithKeyPrefixes(marker, params string) Option {
	return func(o *options) {
		if marker != "" {
			o.markerPrefix = marker
		}
		if params != "" {
			o.paramPrefix = params
		}
	}
}

// WithLogger sets the structured logger. Nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics on the global meter provider.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		if enabled {
			o.metrics = observability.NewMetricsRecorder()
		} else {
			o.metrics = observability.NoopMetrics{}
		}
	}
}

// WithMetricsRecorder sets the metrics recorder directly.
func WithMetricsRecorder(m observability.MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracing enables OpenTelemetry tracing on the global tracer provider.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		if enabled {
			o.spans = observability.NewSpanManager()
		} else {
			o.spans = observability.NoopSpanManager{}
		}
	}
}

// WithSpanManager sets the span manager directly.
func WithSpanManager(s observability.SpanManager) Option {
	return func(o *options) {
		if s != nil {
			o.spans = s
		}
	}
}

// WithClock sets the clock used for the generated time of synthesized events.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator sets the message ID generator for synthesized events.
// Default: random UUIDs.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// OptionsFromConfig translates a config section into options.
//
// Recognized keys: entity_trait, state_ttl, store_timeout, render_policy,
// ordered, marker_prefix, param_prefix. Missing keys keep the defaults.
func OptionsFromConfig(cfg config.Config) ([]Option, error) {
	var opts []Option

	if cfg.Has("entity_trait") {
		opts = append(opts, WithEntityTrait(cfg.String("entity_trait", DefaultEntityTrait)))
	}
	if cfg.Has("state_ttl") {
		opts = append(opts, WithStateTTL(cfg.Duration("state_ttl", correlation.DefaultTTL)))
	}
	if cfg.Has("store_timeout") {
		opts = append(opts, WithStoreTimeout(cfg.Duration("store_timeout", correlation.DefaultTimeout)))
	}
	if cfg.Has("render_policy") {
		p, err := ParseRenderPolicy(cfg.String("render_policy", ""))
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithRenderPolicy(p))
	}
	if cfg.Has("ordered") {
		opts = append(opts, WithOrderedSequence(cfg.Bool("ordered", false)))
	}
	if cfg.Has("marker_prefix") || cfg.Has("param_prefix") {
		opts = append(opts, WithKeyPrefixes(cfg.String("marker_prefix", ""), cfg.String("param_prefix", "")))
	}
	return opts, nil
}
