package bracketer_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/bracketer/pkg/bracketer"
	"github.com/randalmurphal/bracketer/pkg/bracketer/cache"
	"github.com/randalmurphal/bracketer/pkg/bracketer/event"
	"github.com/stretchr/testify/require"
)

// Event types of the test lifecycle sequence.
const (
	typeCreateStart = "compute.instance.create.start"
	typeCreateEnd   = "compute.instance.create.end"
	typeDeleteEnd   = "compute.instance.delete.end"
	typeLifecycle   = "compute.instance.lifecycle"
)

// fixedNow is the clock used for synthesized events in tests.
var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// sourceGenerated is the generated time of every test source event.
var sourceGenerated = time.Date(2026, 2, 28, 8, 30, 0, 0, time.UTC)

// lifecycleDefinition returns a three-event sequence whose target takes
// traits from the first and last events only.
func lifecycleDefinition() bracketer.Definition {
	return bracketer.Definition{
		Events: []bracketer.EventSpec{
			{EventType: typeCreateStart},
			{EventType: typeCreateEnd},
			{EventType: typeDeleteEnd},
		},
		Target: bracketer.TargetDefinition{
			EventType: typeLifecycle,
			Traits: []bracketer.TraitTemplate{
				{Name: "flavor", Type: event.DTypeText, Value: "$" + typeCreateStart + "(trait:flavor)"},
				{Name: "memory_mb", Type: event.DTypeInt, Value: "$" + typeCreateStart + "(trait:memory_mb)"},
				{Name: "started_at", Type: event.DTypeInt, Value: "$" + typeCreateStart + "(generated)"},
				{Name: "final_state", Type: event.DTypeText, Value: "$" + typeDeleteEnd + "(trait:state)"},
			},
			Raw: map[string]any{"source": "bracketer"},
		},
	}
}

var messageSeq atomic.Int64

// newEvent builds a source event for instance with the given extra traits.
// An empty instance omits the instance_id trait.
func newEvent(eventType, instance string, traits ...event.Trait) *event.Event {
	evt := &event.Event{
		EventType: eventType,
		Generated: sourceGenerated,
		MessageID: fmt.Sprintf("msg-%d", messageSeq.Add(1)),
	}
	if instance != "" {
		evt.Traits = append(evt.Traits, event.Trait{Name: "instance_id", DType: event.DTypeText, Value: instance})
	}
	evt.Traits = append(evt.Traits, traits...)
	return evt
}

func text(name, value string) event.Trait {
	return event.Trait{Name: name, DType: event.DTypeText, Value: value}
}

func integer(name string, value int64) event.Trait {
	return event.Trait{Name: name, DType: event.DTypeInt, Value: value}
}

// lifecycleEvents returns the three source events for instance, in sequence
// order.
func lifecycleEvents(instance string) []*event.Event {
	return []*event.Event{
		newEvent(typeCreateStart, instance, text("flavor", "m1.small"), integer("memory_mb", 2048)),
		newEvent(typeCreateEnd, instance, text("state", "active")),
		newEvent(typeDeleteEnd, instance, text("state", "deleted")),
	}
}

// sequentialIDs returns an ID generator yielding bracket-1, bracket-2, ...
func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("bracket-%d", n.Add(1))
	}
}

// newBracketer builds a Bracketer over a fresh memory store with a fixed
// clock and sequential IDs.
func newBracketer(t *testing.T, def bracketer.Definition, opts ...bracketer.Option) (*bracketer.Bracketer, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })

	base := []bracketer.Option{
		bracketer.WithClock(func() time.Time { return fixedNow }),
		bracketer.WithIDGenerator(sequentialIDs()),
	}
	b, err := bracketer.New(def, store, append(base, opts...)...)
	require.NoError(t, err)
	return b, store
}

// traitValue returns the value of the named trait on evt.
func traitValue(t *testing.T, evt *event.Event, name string) any {
	t.Helper()
	tr, ok := evt.Trait(name)
	require.True(t, ok, "trait %s missing", name)
	return tr.Value
}
