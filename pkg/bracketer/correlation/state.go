package correlation

import (
	"encoding/json"
	"maps"
)

// Marker records which sequence positions have been observed for an entity.
// It is an unordered set of positions, not a state machine.
type Marker []bool

// NewMarker returns an all-unset marker with n slots.
func NewMarker(n int) Marker {
	return make(Marker, n)
}

// Complete reports whether every slot is set. An empty marker is never
// complete.
func (m Marker) Complete() bool {
	if len(m) == 0 {
		return false
	}
	for _, seen := range m {
		if !seen {
			return false
		}
	}
	return true
}

// PrecedingSet reports whether every slot before pos is set.
func (m Marker) PrecedingSet(pos int) bool {
	for i := 0; i < pos && i < len(m); i++ {
		if !m[i] {
			return false
		}
	}
	return true
}

// Count returns the number of set slots.
func (m Marker) Count() int {
	n := 0
	for _, seen := range m {
		if seen {
			n++
		}
	}
	return n
}

// ParamCache holds captured field values per source event type:
// source event type -> field name -> stringified value.
type ParamCache map[string]map[string]string

// Clone returns a deep copy.
func (p ParamCache) Clone() ParamCache {
	out := make(ParamCache, len(p))
	for src, fields := range p {
		out[src] = maps.Clone(fields)
	}
	return out
}

// Lookup returns the captured value of field for sourceType.
func (p ParamCache) Lookup(sourceType, field string) (string, bool) {
	fields, ok := p[sourceType]
	if !ok {
		return "", false
	}
	v, ok := fields[field]
	return v, ok
}

// decodeMarker returns the stored marker, or a fresh one when nothing is
// stored, the payload is unreadable, or its length no longer matches.
func decodeMarker(raw []byte, length int) Marker {
	if raw == nil {
		return NewMarker(length)
	}
	var m Marker
	if err := json.Unmarshal(raw, &m); err != nil || len(m) != length {
		return NewMarker(length)
	}
	return m
}

// decodeParams returns the stored cache, or an empty one when nothing usable
// is stored. Entries for source types outside required are dropped, so a
// cache written under an older definition never holds more entries than the
// current one requires.
func decodeParams(raw []byte, required map[string]struct{}) ParamCache {
	p := ParamCache{}
	if raw == nil {
		return p
	}
	if err := json.Unmarshal(raw, &p); err != nil || p == nil {
		return ParamCache{}
	}
	for src := range p {
		if _, ok := required[src]; !ok {
			delete(p, src)
		}
	}
	return p
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
