// Package correlation manages per-entity partial-completion state in a
// shared cache.
//
// Each entity has two entries: a Marker ("marker:"+entity) holding one slot
// per sequence position, and a ParamCache ("target:"+entity) holding the
// field values captured from source events. MarkPosition, RecordParams and
// Clear are plain read-modify-write operations. Observe performs all of them,
// plus the completion check, as one atomic cache update so that at most one
// caller ever sees a given sequence instance complete.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/randalmurphal/bracketer/pkg/bracketer/cache"
)

// Defaults for Adapter options.
const (
	DefaultTTL          = 24 * time.Hour
	DefaultTimeout      = 2 * time.Second
	DefaultMarkerPrefix = "marker:"
	DefaultParamPrefix  = "target:"
)

var (
	// ErrPositionOutOfRange indicates a position outside the marker.
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrNotRequired indicates params recorded for a source type the target
	// does not need.
	ErrNotRequired = errors.New("source type not required")
)

// Adapter reads and writes correlation state for entities.
// It is safe for concurrent use when the underlying store is.
type Adapter struct {
	store    cache.Store
	length   int
	required map[string]struct{}

	ttl          time.Duration
	timeout      time.Duration
	markerPrefix string
	paramPrefix  string
	ordered      bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTTL sets the sliding expiry applied to both entries on every write.
// Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(a *Adapter) {
		if ttl >= 0 {
			a.ttl = ttl
		}
	}
}

// WithTimeout bounds every store call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d >= 0 {
			a.timeout = d
		}
	}
}

// WithKeyPrefixes overrides the marker and param key prefixes.
// Empty values keep the defaults.
func WithKeyPrefixes(marker, params string) Option {
	return func(a *Adapter) {
		if marker != "" {
			a.markerPrefix = marker
		}
		if params != "" {
			a.paramPrefix = params
		}
	}
}

// WithOrdered makes Observe reject a position unless every earlier position
// has already been observed for the entity.
func WithOrdered(ordered bool) Option {
	return func(a *Adapter) {
		a.ordered = ordered
	}
}

// New creates an adapter for a sequence of the given length whose target
// needs params from the required source types.
func New(store cache.Store, length int, required []string, opts ...Option) (*Adapter, error) {
	if store == nil {
		return nil, errors.New("correlation: store is required")
	}
	if length <= 0 {
		return nil, fmt.Errorf("correlation: sequence length must be positive, got %d", length)
	}

	a := &Adapter{
		store:        store,
		length:       length,
		required:     make(map[string]struct{}, len(required)),
		ttl:          DefaultTTL,
		timeout:      DefaultTimeout,
		markerPrefix: DefaultMarkerPrefix,
		paramPrefix:  DefaultParamPrefix,
	}
	for _, src := range required {
		a.required[src] = struct{}{}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Length returns the marker length.
func (a *Adapter) Length() int { return a.length }

// Required returns the required source types, sorted.
func (a *Adapter) Required() []string {
	return slices.Sorted(maps.Keys(a.required))
}

// Ordered reports whether ordered mode is enabled.
func (a *Adapter) Ordered() bool { return a.ordered }

// Keys returns the marker and param cache keys for entity.
func (a *Adapter) Keys(entity string) (markerKey, paramKey string) {
	return a.markerPrefix + entity, a.paramPrefix + entity
}

// IsRequired reports whether params from sourceType are needed.
func (a *Adapter) IsRequired(sourceType string) bool {
	_, ok := a.required[sourceType]
	return ok
}

// IsComplete reports whether every marker slot is set and params have been
// recorded for every required source type. Entries for other source types
// are ignored.
func (a *Adapter) IsComplete(marker Marker, params ParamCache) bool {
	if len(marker) != a.length || !marker.Complete() {
		return false
	}
	for src := range a.required {
		if _, ok := params[src]; !ok {
			return false
		}
	}
	return true
}

// MarkPosition fetches or initializes the entity's marker, sets pos and
// persists it.
//
// The read and write are separate store calls. Concurrent callers for the
// same entity can lose updates; use Observe for concurrent delivery.
func (a *Adapter) MarkPosition(ctx context.Context, entity string, pos int) (Marker, error) {
	if pos < 0 || pos >= a.length {
		return nil, fmt.Errorf("%w: %d (length %d)", ErrPositionOutOfRange, pos, a.length)
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	key, _ := a.Keys(entity)
	raw, err := a.store.GetOrCreate(ctx, key, func() ([]byte, error) {
		return encode(NewMarker(a.length))
	})
	if err != nil {
		return nil, storeError("mark_position", key, err)
	}

	marker := decodeMarker(raw, a.length)
	marker[pos] = true

	data, err := encode(marker)
	if err != nil {
		return nil, fmt.Errorf("encode marker: %w", err)
	}
	if err := a.store.Set(ctx, key, data, a.ttl); err != nil {
		return nil, storeError("mark_position", key, err)
	}
	return marker, nil
}

// RecordParams fetches or initializes the entity's param cache, replaces the
// entry for sourceType and persists it. Like MarkPosition it is not atomic.
func (a *Adapter) RecordParams(ctx context.Context, entity, sourceType string, values map[string]string) (ParamCache, error) {
	if !a.IsRequired(sourceType) {
		return nil, fmt.Errorf("%w: %s", ErrNotRequired, sourceType)
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	_, key := a.Keys(entity)
	raw, err := a.store.GetOrCreate(ctx, key, func() ([]byte, error) {
		return encode(ParamCache{})
	})
	if err != nil {
		return nil, storeError("record_params", key, err)
	}

	params := decodeParams(raw, a.required)
	params[sourceType] = copyValues(values)

	data, err := encode(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	if err := a.store.Set(ctx, key, data, a.ttl); err != nil {
		return nil, storeError("record_params", key, err)
	}
	return params, nil
}

// Clear deletes both entries for entity.
func (a *Adapter) Clear(ctx context.Context, entity string) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	mk, pk := a.Keys(entity)
	if err := a.store.Delete(ctx, mk, pk); err != nil {
		return storeError("clear", mk, err)
	}
	return nil
}

// State returns the entity's current marker and params without modifying
// them. An entity with no state yields an all-unset marker and empty params.
func (a *Adapter) State(ctx context.Context, entity string) (Marker, ParamCache, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	mk, pk := a.Keys(entity)
	var (
		marker Marker
		params ParamCache
	)
	err := a.store.Update(ctx, []string{mk, pk}, func(cur map[string][]byte) (cache.Mutation, error) {
		marker = decodeMarker(cur[mk], a.length)
		params = decodeParams(cur[pk], a.required)
		return cache.Mutation{}, nil
	})
	if err != nil {
		return nil, nil, storeError("state", mk, err)
	}
	return marker, params, nil
}

// Observation is one matched event for an entity.
type Observation struct {
	// Position is the event's index in the sequence.
	Position int
	// SourceType is the event type.
	SourceType string
	// Params are the captured field values. They are recorded only when
	// SourceType is required.
	Params map[string]string
}

// CompleteFunc is called inside the atomic update when an observation
// completes the sequence. It may be called more than once on optimistic
// backends and must not have side effects beyond its own result.
type CompleteFunc func(marker Marker, params ParamCache) error

// Result describes the outcome of Observe.
type Result struct {
	// Marker and Params are the state after the observation.
	Marker Marker
	Params ParamCache
	// Completed is true for the single observation that completed the
	// sequence; the entity's state has been cleared.
	Completed bool
	// Rejected is true when ordered mode refused the observation; nothing
	// was written.
	Rejected bool
}

// Observe marks obs.Position, records obs.Params, and checks for completion
// in one atomic store update. On completion, complete is called and, if it
// succeeds, both entries are deleted in the same update. If complete fails
// the observation is still persisted, the state is kept, and the error is
// returned alongside the Result.
func (a *Adapter) Observe(ctx context.Context, entity string, obs Observation, complete CompleteFunc) (Result, error) {
	if obs.Position < 0 || obs.Position >= a.length {
		return Result{}, fmt.Errorf("%w: %d (length %d)", ErrPositionOutOfRange, obs.Position, a.length)
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	mk, pk := a.Keys(entity)
	record := a.IsRequired(obs.SourceType)

	var (
		res         Result
		completeErr error
	)
	err := a.store.Update(ctx, []string{mk, pk}, func(cur map[string][]byte) (cache.Mutation, error) {
		res = Result{}
		completeErr = nil

		marker := decodeMarker(cur[mk], a.length)
		params := decodeParams(cur[pk], a.required)

		if a.ordered && !marker.PrecedingSet(obs.Position) {
			res = Result{Marker: marker, Params: params, Rejected: true}
			return cache.Mutation{}, nil
		}

		marker[obs.Position] = true
		if record {
			params[obs.SourceType] = copyValues(obs.Params)
		}
		res.Marker, res.Params = marker, params

		if a.IsComplete(marker, params) {
			if complete != nil {
				if err := complete(marker, params.Clone()); err != nil {
					completeErr = err
					return a.persist(mk, pk, marker, params)
				}
			}
			res.Completed = true
			return cache.Mutation{Delete: []string{mk, pk}}, nil
		}
		return a.persist(mk, pk, marker, params)
	})
	if err != nil {
		return Result{}, storeError("observe", mk, err)
	}
	if completeErr != nil {
		return res, completeErr
	}
	return res, nil
}

func (a *Adapter) persist(mk, pk string, marker Marker, params ParamCache) (cache.Mutation, error) {
	m, err := encode(marker)
	if err != nil {
		return cache.Mutation{}, fmt.Errorf("encode marker: %w", err)
	}
	p, err := encode(params)
	if err != nil {
		return cache.Mutation{}, fmt.Errorf("encode params: %w", err)
	}
	return cache.Mutation{
		Set: map[string][]byte{mk: m, pk: p},
		TTL: a.ttl,
	}, nil
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

// storeError makes context expiry look like any other store failure.
// Errors that already match cache.ErrStoreUnavailable, and errors from the
// adapter's own update functions, pass through.
func storeError(op, key string, err error) error {
	if errors.Is(err, cache.ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &cache.StoreError{Op: op, Key: key, Err: err}
	}
	return err
}

func copyValues(values map[string]string) map[string]string {
	if values == nil {
		return map[string]string{}
	}
	return maps.Clone(values)
}
