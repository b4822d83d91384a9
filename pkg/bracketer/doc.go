/*
Package bracketer detects when a configured sequence of lifecycle events has
fully arrived for one entity and synthesizes a single composite "bracket"
event that summarizes it.

# Overview

A Definition names the sequence (an ordered list of event types) and the
target event to build. Events arrive one at a time, in any order and
possibly from concurrent callers. For each event the Bracketer:

 1. Looks up the event's position in the sequence (Sequence)
 2. Reads the entity key from a trait (default "instance_id")
 3. Captures the fields the target template needs from the event (Synthesizer)
 4. Marks the position and records the captured fields in the shared store,
    checking for completion in the same atomic update (correlation.Adapter)
 5. On completion, renders the target event and clears the entity's state

# Quick Start

	def, err := bracketer.LoadDefinition("lifecycle.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	store := cache.NewMemoryStore(time.Minute)
	defer store.Close()

	b, err := bracketer.New(def, store, bracketer.WithLogger(slog.Default()))
	if err != nil {
	    log.Fatal(err)
	}

	out, err := b.Handle(ctx, evt)
	if err != nil {
	    // store unavailable or render failure: nothing was emitted
	}
	if out != nil {
	    forward(out)
	}

# Definitions

	events:
	  - event_type: compute.instance.create.start
	  - event_type: compute.instance.create.end
	target:
	  event_type: compute.instance.create
	  traits:
	    - name: started_at
	      type: int
	      value: $compute.instance.create.start(generated)
	    - name: flavor
	      type: text
	      value: $compute.instance.create.end(trait:flavor)

Placeholders have the form $<event_type>(<field>) where field is
trait:<name>, generated (epoch seconds), message_id or event_type. Every
placeholder must reference a type in the sequence. Expanded values are
coerced to the trait's dtype (text, int, float, datetime) by an explicit
parser; nothing is evaluated.

# Concurrency

The store's Update runs the whole mark, record, complete and clear cycle
atomically, so two callers delivering the final event for the same entity
produce exactly one bracket. For in-process fan-out, dispatch.Pool also
routes each entity to a single worker, which preserves per-entity order.

# State Lifetime

Correlation state has a sliding TTL (default 24h, WithStateTTL) refreshed on
every write, so sequences that never complete do not accumulate. Stores
without native expiry expose Sweep.

# Error Handling

Handle returns nil, nil for ignored events (not in the sequence, no entity
key, or out of order in ordered mode); Process reports the reason.
Store failures match ErrStoreUnavailable and change nothing. Render
failures are *RenderError wrapping ErrRenderIncomplete (RenderStrict) or
ErrTypeCoercion; the entity's state is kept.
*/
package bracketer
