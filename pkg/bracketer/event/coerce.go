package event

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrTypeCoercion indicates a rendered string could not be converted to the
// trait's declared dtype.
var ErrTypeCoercion = errors.New("type coercion failed")

// CoercionError describes a failed dtype conversion.
type CoercionError struct {
	DType DType
	Input string
	Err   error
}

// Error implements the error interface.
func (e *CoercionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("coerce %q to %s: %v", e.Input, e.DType, e.Err)
	}
	return fmt.Sprintf("coerce %q to %s", e.Input, e.DType)
}

// Unwrap returns ErrTypeCoercion for errors.Is support.
func (e *CoercionError) Unwrap() error {
	return ErrTypeCoercion
}

// datetimeLayouts are tried in order for DTypeDatetime.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Coerce converts a fully substituted template string into a value of the
// given dtype. It is a fixed conversion table, not an evaluator:
//
//   - text: passthrough, byte for byte
//   - int: strconv.ParseInt
//   - float: strconv.ParseFloat
//   - datetime: RFC3339, naive ISO-8601, a date, or integer epoch seconds
//
// Conversions never truncate; anything that does not parse cleanly returns
// a *CoercionError.
func Coerce(dtype DType, s string) (any, error) {
	switch dtype {
	case DTypeText:
		return s, nil

	case DTypeInt:
		in := Unquote(strings.TrimSpace(s))
		n, err := strconv.ParseInt(in, 10, 64)
		if err != nil {
			return nil, &CoercionError{DType: dtype, Input: s, Err: err}
		}
		return n, nil

	case DTypeFloat:
		in := Unquote(strings.TrimSpace(s))
		f, err := strconv.ParseFloat(in, 64)
		if err != nil {
			return nil, &CoercionError{DType: dtype, Input: s, Err: err}
		}
		return f, nil

	case DTypeDatetime:
		in := Unquote(strings.TrimSpace(s))
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, in); err == nil {
				return t.UTC(), nil
			}
		}
		if secs, err := strconv.ParseInt(in, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC(), nil
		}
		return nil, &CoercionError{DType: dtype, Input: s, Err: errors.New("unrecognized datetime")}
	}

	return nil, &CoercionError{DType: dtype, Input: s, Err: errors.New("unknown dtype")}
}

// Unquote strips a single layer of matching single or double quotes.
func Unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}
