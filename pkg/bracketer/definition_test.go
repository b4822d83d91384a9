package bracketer_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/bracketer/pkg/bracketer"
	"github.com/randalmurphal/bracketer/pkg/bracketer/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lifecycleYAML = `
events:
  - event_type: compute.instance.create.start
  - event_type: compute.instance.create.end
    traits:
      - name: state
        value: active
  - event_type: compute.instance.delete.end
target:
  event_type: compute.instance.lifecycle
  raw:
    source: bracketer
  traits:
    - name: flavor
      type: text
      value: $compute.instance.create.start(trait:flavor)
    - name: started_at
      type: int
      value: $compute.instance.create.start(generated)
    - name: summary
      type: text
      value: "$compute.instance.create.start(trait:flavor) -> $compute.instance.delete.end(trait:state)"
`

func TestParseDefinition_YAML(t *testing.T) {
	def, err := bracketer.ParseDefinition([]byte(lifecycleYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{typeCreateStart, typeCreateEnd, typeDeleteEnd}, def.SequenceTypes())
	assert.True(t, def.HasTraitConditions())
	assert.Equal(t, typeLifecycle, def.Target.EventType)
	assert.Equal(t, "bracketer", def.Target.Raw["source"])
	require.Len(t, def.Target.Traits, 3)
	assert.Equal(t, event.DTypeInt, def.Target.Traits[1].Type)

	req := def.Requirements()
	assert.Equal(t, bracketer.ParameterRequirement{
		typeCreateStart: {"trait:flavor", "generated"},
		typeDeleteEnd:   {"trait:state"},
	}, req)
	assert.Equal(t, []string{typeCreateStart, typeDeleteEnd}, req.Sources())
}

func TestParseDefinition_JSON(t *testing.T) {
	data := []byte(`{
		"events": [{"event_type": "a.start"}, {"event_type": "a.end"}],
		"target": {
			"event_type": "a.bracket",
			"traits": [{"name": "id", "type": "text", "value": "$a.start(message_id)"}]
		}
	}`)

	def, err := bracketer.ParseDefinition(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.start", "a.end"}, def.SequenceTypes())
	assert.False(t, def.HasTraitConditions())
	assert.Equal(t, bracketer.ParameterRequirement{"a.start": {"message_id"}}, def.Requirements())
}

func TestParseDefinition_Errors(t *testing.T) {
	_, err := bracketer.ParseDefinition([]byte("events: [unclosed"))
	assert.Error(t, err)

	_, err = bracketer.ParseDefinition([]byte("events: []\ntarget: {event_type: x}"))
	assert.ErrorIs(t, err, bracketer.ErrInvalidDefinition)
}

func TestLoadDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifecycle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(lifecycleYAML), 0o600))

	def, err := bracketer.LoadDefinition(path)
	require.NoError(t, err)
	assert.Len(t, def.Events, 3)

	_, err = bracketer.LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRequirements_Deduplicates(t *testing.T) {
	def := bracketer.Definition{
		Events: []bracketer.EventSpec{{EventType: "a"}, {EventType: "b"}},
		Target: bracketer.TargetDefinition{
			EventType: "t",
			Traits: []bracketer.TraitTemplate{
				{Name: "x", Type: event.DTypeText, Value: "$a(trait:x)-$a(trait:y)"},
				{Name: "y", Type: event.DTypeText, Value: "$a(trait:x)"},
				{Name: "z", Type: event.DTypeText, Value: "literal"},
			},
		},
	}
	assert.Equal(t, bracketer.ParameterRequirement{"a": {"trait:x", "trait:y"}}, def.Requirements())
}

func TestValidate(t *testing.T) {
	valid := func() bracketer.Definition { return lifecycleDefinition() }

	tests := []struct {
		name   string
		mutate func(*bracketer.Definition)
		field  string
	}{
		{"no events", func(d *bracketer.Definition) { d.Events = nil }, "events"},
		{"empty event type", func(d *bracketer.Definition) { d.Events[1].EventType = "" }, "events[1].event_type"},
		{"duplicate event type", func(d *bracketer.Definition) { d.Events[2].EventType = typeCreateStart }, "events[2].event_type"},
		{"no target type", func(d *bracketer.Definition) { d.Target.EventType = "" }, "target.event_type"},
		{"trait without name", func(d *bracketer.Definition) { d.Target.Traits[0].Name = "" }, "target.traits[0].name"},
		{"unknown dtype", func(d *bracketer.Definition) { d.Target.Traits[1].Type = "decimal" }, "target.traits[1].type"},
		{"placeholder outside sequence", func(d *bracketer.Definition) {
			d.Target.Traits[0].Value = "$compute.instance.resize(trait:flavor)"
		}, "target.traits[0].value"},
		{"unknown attribute field", func(d *bracketer.Definition) {
			d.Target.Traits[0].Value = "$" + typeCreateStart + "(publisher_id)"
		}, "target.traits[0].value"},
		{"empty trait field", func(d *bracketer.Definition) {
			d.Target.Traits[0].Value = "$" + typeCreateStart + "(trait:)"
		}, "target.traits[0].value"},
	}

	require.NoError(t, valid().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := valid()
			tt.mutate(&def)

			err := def.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, bracketer.ErrInvalidDefinition)

			var defErr *bracketer.DefinitionError
			require.ErrorAs(t, err, &defErr)
			assert.Equal(t, tt.field, defErr.Field)
		})
	}
}

func TestValidate_AllFieldKinds(t *testing.T) {
	def := bracketer.Definition{
		Events: []bracketer.EventSpec{{EventType: "a"}},
		Target: bracketer.TargetDefinition{
			EventType: "t",
			Traits: []bracketer.TraitTemplate{
				{Name: "g", Type: event.DTypeInt, Value: "$a(generated)"},
				{Name: "m", Type: event.DTypeText, Value: "$a(message_id)"},
				{Name: "e", Type: event.DTypeText, Value: "$a(event_type)"},
				{Name: "t", Type: event.DTypeText, Value: "$a(trait:name)"},
			},
		},
	}
	assert.NoError(t, def.Validate())
}

func TestSequence(t *testing.T) {
	seq := bracketer.NewSequence([]string{"a", "b", "a", "c"})

	assert.Equal(t, 4, seq.Len())
	assert.Equal(t, []string{"a", "b", "a", "c"}, seq.Types())

	pos, ok := seq.Position("a")
	assert.True(t, ok)
	assert.Equal(t, 0, pos, "first index wins")

	pos, ok = seq.Position("c")
	assert.True(t, ok)
	assert.Equal(t, 3, pos)

	_, ok = seq.Position("z")
	assert.False(t, ok)

	types := seq.Types()
	types[0] = "mutated"
	pos, _ = seq.Position("a")
	assert.Equal(t, 0, pos)
	assert.Equal(t, "a", seq.Types()[0])
}
