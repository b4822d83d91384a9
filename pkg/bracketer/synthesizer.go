package bracketer

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/randalmurphal/bracketer/pkg/bracketer/correlation"
	"github.com/randalmurphal/bracketer/pkg/bracketer/event"
	"github.com/randalmurphal/bracketer/pkg/bracketer/template"
)

// Synthesizer captures parameters from source events and renders the
// target event once a sequence completes. It is safe for concurrent use.
type Synthesizer struct {
	target   TargetDefinition
	req      ParameterRequirement
	expander *template.Expander
	now      func() time.Time
	newID    func() string
}

// NewSynthesizer creates a Synthesizer for target. A nil now or newID uses
// time.Now or uuid.NewString.
func NewSynthesizer(target TargetDefinition, req ParameterRequirement, policy RenderPolicy, now func() time.Time, newID func() string) *Synthesizer {
	action := template.MissingEmpty
	if policy == RenderStrict {
		action = template.MissingError
	}
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = defaultID
	}
	return &Synthesizer{
		target:   target,
		req:      req,
		expander: template.NewExpander(template.WithMissingAction(action)),
		now:      now,
		newID:    newID,
	}
}

// Requires reports whether params are captured from eventType.
func (s *Synthesizer) Requires(eventType string) bool {
	_, ok := s.req[eventType]
	return ok
}

// Capture extracts the required fields from evt, keyed by field name.
// It returns nil when nothing is required from evt's type.
//
//   - trait:<name>: the first trait with that name, stringified; omitted when absent
//   - generated: integer epoch seconds
//   - message_id, event_type: the attribute as-is
func (s *Synthesizer) Capture(evt *event.Event) map[string]string {
	fields, ok := s.req[evt.EventType]
	if !ok {
		return nil
	}

	captured := make(map[string]string, len(fields))
	for _, field := range fields {
		switch field {
		case FieldGenerated:
			captured[field] = strconv.FormatInt(evt.Generated.Unix(), 10)
		case FieldMessageID:
			captured[field] = evt.MessageID
		case FieldEventType:
			captured[field] = evt.EventType
		default:
			name, ok := strings.CutPrefix(field, traitFieldPrefix)
			if !ok {
				continue
			}
			if v, ok := evt.TraitString(name); ok {
				captured[field] = v
			}
		}
	}
	return captured
}

// Render builds the target event from captured params.
//
// Each trait template is expanded, then coerced to its declared dtype.
// Matching quotes around a whole template are template syntax and are
// removed before expansion; quotes inside captured values are kept.
// Under RenderPermissive a placeholder without a value becomes "";
// under RenderStrict it fails with ErrRenderIncomplete. Coercion failures
// always fail the render. Errors are *RenderError.
func (s *Synthesizer) Render(params correlation.ParamCache) (*event.Event, error) {
	lookup := template.Lookup(params.Lookup)

	traits := make([]event.Trait, 0, len(s.target.Traits))
	for _, tt := range s.target.Traits {
		expanded, err := s.expander.Expand(event.Unquote(tt.Value), lookup)
		if err != nil {
			return nil, &RenderError{Trait: tt.Name, Err: fmt.Errorf("%w: %w", ErrRenderIncomplete, err)}
		}

		value, err := event.Coerce(tt.Type, expanded)
		if err != nil {
			return nil, &RenderError{Trait: tt.Name, Err: err}
		}

		traits = append(traits, event.Trait{Name: tt.Name, DType: tt.Type, Value: value})
	}

	raw := maps.Clone(s.target.Raw)
	if raw == nil {
		raw = map[string]any{}
	}

	return &event.Event{
		EventType: s.target.EventType,
		Generated: s.now().UTC(),
		MessageID: s.newID(),
		Traits:    traits,
		Raw:       raw,
	}, nil
}
