package bracketer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/bracketer/pkg/bracketer/cache"
	"github.com/randalmurphal/bracketer/pkg/bracketer/correlation"
	"github.com/randalmurphal/bracketer/pkg/bracketer/event"
	"github.com/randalmurphal/bracketer/pkg/bracketer/observability"
)

// Bracketer detects completed event sequences per entity and synthesizes
// one composite event for each.
//
// A Bracketer is safe for concurrent use. Several Bracketers, in one process
// or many, may share a store; the store's atomic update guarantees at most
// one emission per completed sequence instance.
type Bracketer struct {
	def     Definition
	seq     *Sequence
	synth   *Synthesizer
	adapter *correlation.Adapter
	store   cache.Store
	opts    options
}

// Outcome describes what Process did with one event.
type Outcome struct {
	// Emitted is the synthesized event, or nil.
	Emitted *event.Event
	// Ignored is ErrNotInSequence, ErrMissingEntityKey or ErrOutOfOrder when
	// the event changed no state.
	Ignored error
	// Entity is the event's entity key, when one was found.
	Entity string
	// Position is the event's index in the sequence.
	Position int
	// Marker is the entity's marker after the event.
	Marker correlation.Marker
}

// New creates a Bracketer. The definition is validated; store is not closed
// by the Bracketer.
func New(def Definition, store cache.Store, opts ...Option) (*Bracketer, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("bracketer: store is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	req := def.Requirements()
	seq := NewSequence(def.SequenceTypes())

	adapter, err := correlation.New(store, seq.Len(), req.Sources(),
		correlation.WithTTL(o.stateTTL),
		correlation.WithTimeout(o.storeTimeout),
		correlation.WithKeyPrefixes(o.markerPrefix, o.paramPrefix),
		correlation.WithOrdered(o.ordered),
	)
	if err != nil {
		return nil, fmt.Errorf("create correlation adapter: %w", err)
	}

	b := &Bracketer{
		def:     def,
		seq:     seq,
		synth:   NewSynthesizer(def.Target, req, o.policy, o.now, o.newID),
		adapter: adapter,
		store:   store,
		opts:    o,
	}

	observability.LogStart(o.logger, def.Target.EventType, seq.Types(), req.Sources())
	if def.HasTraitConditions() && o.logger != nil {
		o.logger.Warn("trait conditions in the definition are not evaluated; events match by type only")
	}
	return b, nil
}

// Definition returns the definition the Bracketer was built from.
func (b *Bracketer) Definition() Definition { return b.def }

// Sequence returns the sequence matcher.
func (b *Bracketer) Sequence() *Sequence { return b.seq }

// Adapter returns the correlation adapter, for inspecting entity state.
func (b *Bracketer) Adapter() *correlation.Adapter { return b.adapter }

// EntityKey returns the value of the entity trait on evt. An absent or empty
// trait yields false.
func (b *Bracketer) EntityKey(evt *event.Event) (string, bool) {
	v, ok := evt.TraitString(b.opts.entityTrait)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Handle processes one event and returns the synthesized event when evt
// completes its entity's sequence, or nil when there is nothing to emit.
//
// Events outside the sequence, without an entity key, or rejected by
// ordered mode are ignored: nil, nil. Store failures return an error
// matching ErrStoreUnavailable; render failures return a *RenderError.
// Neither emits anything.
func (b *Bracketer) Handle(ctx context.Context, evt *event.Event) (*event.Event, error) {
	out, err := b.Process(ctx, evt)
	if err != nil {
		return nil, err
	}
	return out.Emitted, nil
}

// Process is Handle with the full outcome.
func (b *Bracketer) Process(ctx context.Context, evt *event.Event) (out Outcome, err error) {
	if evt == nil {
		return Outcome{}, ErrNilEvent
	}

	start := time.Now()
	done := observability.TimedOperation()

	ctx, span := b.opts.spans.StartHandleSpan(ctx, evt.EventType, evt.MessageID)
	defer func() {
		b.opts.metrics.RecordHandle(ctx, time.Since(start), err)
		b.opts.spans.EndSpanWithError(span, err)
	}()

	b.opts.metrics.RecordReceived(ctx, evt.EventType)

	pos, ok := b.seq.Position(evt.EventType)
	if !ok {
		return b.ignore(ctx, evt, Outcome{}, ErrNotInSequence, observability.ReasonNotInSequence), nil
	}
	out.Position = pos

	entity, ok := b.EntityKey(evt)
	if !ok {
		return b.ignore(ctx, evt, out, ErrMissingEntityKey, observability.ReasonMissingEntityKey), nil
	}
	out.Entity = entity
	span.SetAttributes(attribute.String("entity.key", entity))

	obs := correlation.Observation{
		Position:   pos,
		SourceType: evt.EventType,
		Params:     b.synth.Capture(evt),
	}

	var emitted *event.Event
	render := func(_ correlation.Marker, params correlation.ParamCache) error {
		emitted = nil
		rendered, err := b.synth.Render(params)
		if err != nil {
			return err
		}
		emitted = rendered
		return nil
	}

	obsCtx, obsSpan := b.opts.spans.StartObserveSpan(ctx, entity, pos)
	res, err := b.adapter.Observe(obsCtx, entity, obs, render)
	b.opts.spans.EndSpanWithError(obsSpan, err)
	out.Marker = res.Marker

	if err != nil {
		var renderErr *RenderError
		switch {
		case errors.Is(err, ErrStoreUnavailable):
			b.opts.metrics.RecordStoreError(ctx)
			observability.LogStoreError(b.opts.logger, entity, err)
		case errors.As(err, &renderErr):
			b.opts.metrics.RecordRenderFailure(ctx, b.def.Target.EventType)
			observability.LogRenderError(b.opts.logger, entity, b.def.Target.EventType, err)
		}
		return out, err
	}

	if res.Rejected {
		return b.ignore(ctx, evt, out, ErrOutOfOrder, observability.ReasonOutOfOrder), nil
	}

	if res.Completed {
		out.Emitted = emitted
		b.opts.spans.AddSpanEvent(ctx, "bracket.emitted",
			attribute.String("event.type", emitted.EventType),
			attribute.String("event.message_id", emitted.MessageID),
		)
		b.opts.metrics.RecordEmitted(ctx, emitted.EventType)
		observability.LogEmitted(b.opts.logger, entity, emitted.EventType, emitted.MessageID, done())
		return out, nil
	}

	observability.LogObserved(b.opts.logger, entity, pos, res.Marker.Count(), b.seq.Len())
	return out, nil
}

func (b *Bracketer) ignore(ctx context.Context, evt *event.Event, out Outcome, reason error, label string) Outcome {
	out.Ignored = reason
	b.opts.metrics.RecordIgnored(ctx, label)
	observability.LogIgnored(b.opts.logger, evt.EventType, evt.MessageID, label)
	return out
}

// Sweep removes expired correlation state on stores without native expiry.
// It returns 0 for stores that expire entries themselves.
func (b *Bracketer) Sweep(ctx context.Context) (int, error) {
	sw, ok := b.store.(cache.Sweeper)
	if !ok {
		return 0, nil
	}
	n, err := sw.Sweep(ctx)
	if err != nil {
		b.opts.metrics.RecordStoreError(ctx)
		observability.LogStoreError(b.opts.logger, "", err)
		return 0, err
	}
	observability.LogSweep(b.opts.logger, n)
	return n, nil
}

// Flush is called by hosts at the end of a batch. Partial sequences stay in
// the store, so there is never anything to emit.
func (b *Bracketer) Flush(_ context.Context) ([]*event.Event, error) {
	return nil, nil
}
