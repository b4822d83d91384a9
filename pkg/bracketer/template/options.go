package template

// MissingAction specifies how to handle placeholders without a captured value.
type MissingAction int

const (
	// MissingEmpty replaces the placeholder with an empty string.
	// This is the default behavior.
	MissingEmpty MissingAction = iota

	// MissingError returns an *UnresolvedError.
	MissingError

	// MissingKeep leaves the placeholder text in place.
	MissingKeep
)

// String returns the action name.
func (a MissingAction) String() string {
	switch a {
	case MissingEmpty:
		return "empty"
	case MissingError:
		return "error"
	case MissingKeep:
		return "keep"
	default:
		return "unknown"
	}
}

// Option configures an Expander.
type Option func(*Expander)

// WithMissingAction sets how unresolved placeholders are handled.
//
// Default: MissingEmpty
//
// Example:
//
//	exp := NewExpander(WithMissingAction(MissingError))
//	_, err := exp.Expand("$a.start(trait:id)", nil)
//	// err: "unresolved placeholder: $a.start(trait:id)"
func WithMissingAction(action MissingAction) Option {
	return func(e *Expander) {
		e.missingAction = action
	}
}
