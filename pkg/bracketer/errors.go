package bracketer

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/bracketer/pkg/bracketer/cache"
	"github.com/randalmurphal/bracketer/pkg/bracketer/event"
)

// Sentinel errors for ignored events. Handle never returns these; they are
// reported in Outcome.Ignored.
var (
	// ErrNotInSequence indicates the event type is not part of the sequence.
	ErrNotInSequence = errors.New("event type not in sequence")

	// ErrMissingEntityKey indicates the entity trait is absent or empty.
	ErrMissingEntityKey = errors.New("entity key missing")

	// ErrOutOfOrder indicates ordered mode rejected the event because an
	// earlier position has not been observed.
	ErrOutOfOrder = errors.New("event arrived before earlier sequence positions")
)

// Sentinel errors returned by Handle.
var (
	// ErrNilEvent indicates Handle was called with a nil event.
	ErrNilEvent = errors.New("event cannot be nil")

	// ErrStoreUnavailable indicates the correlation store failed or timed
	// out. No state was changed and nothing was emitted.
	ErrStoreUnavailable = cache.ErrStoreUnavailable

	// ErrRenderIncomplete indicates a placeholder had no captured value under
	// the strict render policy.
	ErrRenderIncomplete = errors.New("render incomplete")

	// ErrTypeCoercion indicates a rendered value did not parse as its dtype.
	ErrTypeCoercion = event.ErrTypeCoercion
)

// ErrInvalidDefinition indicates a Definition failed validation.
var ErrInvalidDefinition = errors.New("invalid definition")

// DefinitionError describes one validation failure in a Definition.
type DefinitionError struct {
	// Field locates the problem, e.g. "target.traits[1].value".
	Field string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *DefinitionError) Error() string {
	return fmt.Sprintf("invalid definition: %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// Is matches ErrInvalidDefinition.
func (e *DefinitionError) Is(target error) bool {
	return target == ErrInvalidDefinition
}

// RenderError wraps a failure to render one target trait.
// The entity's correlation state is kept when rendering fails.
type RenderError struct {
	// Trait is the target trait that failed.
	Trait string
	// Err is the underlying error (ErrRenderIncomplete or a coercion error).
	Err error
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	return fmt.Sprintf("render trait %s: %v", e.Trait, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RenderError) Unwrap() error {
	return e.Err
}
