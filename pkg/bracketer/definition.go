package bracketer

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/bracketer/pkg/bracketer/event"
	"github.com/randalmurphal/bracketer/pkg/bracketer/template"
)

// Attribute fields a placeholder may reference besides trait:<name>.
const (
	FieldGenerated = "generated"
	FieldMessageID = "message_id"
	FieldEventType = "event_type"

	traitFieldPrefix = "trait:"
)

// Definition configures a Bracketer: the sequence to watch and the target
// event to synthesize when it completes.
type Definition struct {
	Events []EventSpec       `yaml:"events" json:"events"`
	Target TargetDefinition `yaml:"target" json:"target"`
}

// EventSpec is one member of the sequence.
//
// Traits holds optional per-event trait conditions. They are accepted so
// existing definitions load, but events are matched by type only.
type EventSpec struct {
	EventType string           `yaml:"event_type" json:"event_type"`
	Traits    []map[string]any `yaml:"traits,omitempty" json:"traits,omitempty"`
}

// TargetDefinition describes the synthesized event.
type TargetDefinition struct {
	EventType string          `yaml:"event_type" json:"event_type"`
	Traits    []TraitTemplate `yaml:"traits" json:"traits"`
	Raw       map[string]any  `yaml:"raw,omitempty" json:"raw,omitempty"`
}

// TraitTemplate renders one trait of the target event. Value may contain
// $<event_type>(<field>) placeholders.
type TraitTemplate struct {
	Name  string      `yaml:"name" json:"name"`
	Type  event.DType `yaml:"type" json:"type"`
	Value string      `yaml:"value" json:"value"`
}

// ParameterRequirement maps a source event type to the fields that must be
// captured from it.
type ParameterRequirement map[string][]string

// Sources returns the required source event types, sorted.
func (r ParameterRequirement) Sources() []string {
	out := make([]string, 0, len(r))
	for src := range r {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// ParseDefinition decodes a YAML or JSON definition and validates it.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// LoadDefinition reads and parses a definition file.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read definition: %w", err)
	}
	return ParseDefinition(data)
}

// SequenceTypes returns the sequence's event types in order.
func (d Definition) SequenceTypes() []string {
	types := make([]string, len(d.Events))
	for i, e := range d.Events {
		types[i] = e.EventType
	}
	return types
}

// HasTraitConditions reports whether any sequence member declares trait
// conditions.
func (d Definition) HasTraitConditions() bool {
	for _, e := range d.Events {
		if len(e.Traits) > 0 {
			return true
		}
	}
	return false
}

// Requirements scans every target trait value for placeholders.
// Fields are de-duplicated per source type in first-seen order.
func (d Definition) Requirements() ParameterRequirement {
	req := ParameterRequirement{}
	for _, tt := range d.Target.Traits {
		for _, ref := range template.Placeholders(tt.Value) {
			if !slices.Contains(req[ref.EventType], ref.Field) {
				req[ref.EventType] = append(req[ref.EventType], ref.Field)
			}
		}
	}
	return req
}

// Validate checks the definition and returns the first problem found as a
// *DefinitionError.
func (d Definition) Validate() error {
	if len(d.Events) == 0 {
		return &DefinitionError{Field: "events", Err: errors.New("at least one event is required")}
	}

	seen := make(map[string]int, len(d.Events))
	for i, e := range d.Events {
		field := fmt.Sprintf("events[%d].event_type", i)
		if e.EventType == "" {
			return &DefinitionError{Field: field, Err: errors.New("event type is required")}
		}
		if j, dup := seen[e.EventType]; dup {
			return &DefinitionError{Field: field, Err: fmt.Errorf("duplicate of events[%d]: %s", j, e.EventType)}
		}
		seen[e.EventType] = i
	}

	if d.Target.EventType == "" {
		return &DefinitionError{Field: "target.event_type", Err: errors.New("target event type is required")}
	}

	for i, tt := range d.Target.Traits {
		prefix := fmt.Sprintf("target.traits[%d]", i)
		if tt.Name == "" {
			return &DefinitionError{Field: prefix + ".name", Err: errors.New("trait name is required")}
		}
		if !tt.Type.Valid() {
			return &DefinitionError{Field: prefix + ".type", Err: fmt.Errorf("unknown dtype %q", tt.Type)}
		}
		for _, ref := range template.Placeholders(tt.Value) {
			if _, ok := seen[ref.EventType]; !ok {
				return &DefinitionError{
					Field: prefix + ".value",
					Err:   fmt.Errorf("%s references %s, which is not in the sequence", ref, ref.EventType),
				}
			}
			if !validField(ref.Field) {
				return &DefinitionError{
					Field: prefix + ".value",
					Err:   fmt.Errorf("%s: unknown field %q", ref, ref.Field),
				}
			}
		}
	}
	return nil
}

func validField(field string) bool {
	switch field {
	case FieldGenerated, FieldMessageID, FieldEventType:
		return true
	}
	name, ok := strings.CutPrefix(field, traitFieldPrefix)
	return ok && name != ""
}
