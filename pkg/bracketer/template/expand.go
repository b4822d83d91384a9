package template

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern matches $<event_type>(<field>).
var Pattern = regexp.MustCompile(`\$([\w\.]+)\(([\w:_]+)\)`)

// Reference is one placeholder occurrence.
type Reference struct {
	EventType string
	Field     string
}

// String renders the reference in placeholder syntax.
func (r Reference) String() string {
	return "$" + r.EventType + "(" + r.Field + ")"
}

// Placeholders returns every reference in s in order of appearance.
// Duplicates are kept.
func Placeholders(s string) []Reference {
	matches := Pattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	refs := make([]Reference, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, Reference{EventType: m[1], Field: m[2]})
	}
	return refs
}

// Lookup resolves a reference to its captured value.
type Lookup func(eventType, field string) (string, bool)

// MapLookup adapts a per-event-type capture map to a Lookup.
func MapLookup(captured map[string]map[string]string) Lookup {
	return func(eventType, field string) (string, bool) {
		fields, ok := captured[eventType]
		if !ok {
			return "", false
		}
		v, ok := fields[field]
		return v, ok
	}
}

// Expander expands placeholders in strings.
//
// Create with NewExpander() and configure with Option functions.
type Expander struct {
	missingAction MissingAction
}

// NewExpander creates a new Expander with the given options.
//
// Default configuration:
//   - MissingAction: MissingEmpty (unresolved placeholders become "")
func NewExpander(opts ...Option) *Expander {
	e := &Expander{
		missingAction: MissingEmpty,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MissingAction returns the configured policy.
func (e *Expander) MissingAction() MissingAction {
	return e.missingAction
}

// Expand substitutes every placeholder in s using lookup.
//
// Errors are only returned when MissingAction is MissingError and at least
// one reference cannot be resolved. The partially expanded string is still
// returned alongside the error for diagnostics.
func (e *Expander) Expand(s string, lookup Lookup) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []Reference
	result := Pattern.ReplaceAllStringFunc(s, func(match string) string {
		m := Pattern.FindStringSubmatch(match)
		ref := Reference{EventType: m[1], Field: m[2]}
		if lookup != nil {
			if val, ok := lookup(ref.EventType, ref.Field); ok {
				return val
			}
		}
		switch e.missingAction {
		case MissingKeep:
			return match
		case MissingError:
			missing = append(missing, ref)
			return match
		default: // MissingEmpty
			return ""
		}
	})

	if len(missing) > 0 {
		return result, &UnresolvedError{References: missing}
	}
	return result, nil
}

// UnresolvedError is returned when MissingError is set and one or more
// references have no captured value.
type UnresolvedError struct {
	References []Reference
}

// Error implements the error interface.
func (e *UnresolvedError) Error() string {
	names := make([]string, len(e.References))
	for i, r := range e.References {
		names[i] = r.String()
	}
	if len(names) == 1 {
		return fmt.Sprintf("unresolved placeholder: %s", names[0])
	}
	return fmt.Sprintf("unresolved placeholders: %s", strings.Join(names, ", "))
}
