// Package event defines the lifecycle event model consumed and produced by
// the bracketer.
//
// An Event is a typed, timestamped record carrying named, typed attributes
// (traits). Events are immutable once received; the bracketer only reads
// them, except when it builds a new composite event to emit.
package event

import (
	"fmt"
	"strconv"
	"time"
)

// DType is the declared type tag of a trait value.
type DType string

// Supported trait dtypes.
const (
	DTypeText     DType = "text"
	DTypeInt      DType = "int"
	DTypeFloat    DType = "float"
	DTypeDatetime DType = "datetime"
)

// Valid reports whether d is one of the supported dtypes.
func (d DType) Valid() bool {
	switch d {
	case DTypeText, DTypeInt, DTypeFloat, DTypeDatetime:
		return true
	}
	return false
}

// Trait is a single named, typed attribute on an Event.
//
// Value holds a string, int64, float64 or time.Time according to DType.
// Values decoded from JSON may arrive as float64 for int traits; FormatValue
// handles both.
type Trait struct {
	Name  string `json:"name" yaml:"name"`
	DType DType  `json:"dtype" yaml:"dtype"`
	Value any    `json:"value" yaml:"value"`
}

// Event is one occurrence in the source system.
type Event struct {
	EventType string         `json:"event_type"`
	Generated time.Time      `json:"generated"`
	MessageID string         `json:"message_id"`
	Traits    []Trait        `json:"traits"`
	Raw       map[string]any `json:"raw,omitempty"`
}

// Trait returns the first trait with the given name.
// Trait names are not guaranteed unique; the first match wins.
func (e *Event) Trait(name string) (Trait, bool) {
	if e == nil {
		return Trait{}, false
	}
	for _, t := range e.Traits {
		if t.Name == name {
			return t, true
		}
	}
	return Trait{}, false
}

// TraitString returns the first trait with the given name, stringified.
func (e *Event) TraitString(name string) (string, bool) {
	t, ok := e.Trait(name)
	if !ok {
		return "", false
	}
	return FormatValue(t.Value), true
}

// FormatValue stringifies a trait value for caching and template substitution.
//
// Datetimes are rendered as RFC3339Nano in UTC and floats in their shortest
// round-tripping form, so that Coerce can read them back losslessly.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.UTC().Format(time.RFC3339Nano)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
