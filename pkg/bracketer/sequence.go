package bracketer

import "slices"

// Sequence answers membership and position queries for the configured
// event types. It is immutable and safe for concurrent use.
type Sequence struct {
	types []string
	index map[string]int
}

// NewSequence creates a Sequence. When a type repeats, its first index is
// its position.
func NewSequence(types []string) *Sequence {
	s := &Sequence{
		types: slices.Clone(types),
		index: make(map[string]int, len(types)),
	}
	for i, t := range types {
		if _, ok := s.index[t]; !ok {
			s.index[t] = i
		}
	}
	return s
}

// Position returns the index of eventType, or false if it is not in the
// sequence. Only the type is considered.
func (s *Sequence) Position(eventType string) (int, bool) {
	pos, ok := s.index[eventType]
	return pos, ok
}

// Len returns the number of positions.
func (s *Sequence) Len() int {
	return len(s.types)
}

// Types returns a copy of the event types in order.
func (s *Sequence) Types() []string {
	return slices.Clone(s.types)
}
