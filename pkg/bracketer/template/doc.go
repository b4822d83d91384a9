/*
Package template scans and expands event-reference placeholders in trait
value templates.

# Overview

A placeholder names a field captured from a source event of a given type:

	$compute.instance.create.start(trait:instance_id)
	$compute.instance.create.end(generated)

The part after '$' is the source event type; the part in parentheses is the
field. Fields are either "trait:<name>" or a literal event attribute such as
"generated" or "message_id".

# Scanning

Placeholders lists every reference in a string, in order of appearance:

	refs := template.Placeholders("$a.start(trait:id)-$a.end(generated)")
	// [{EventType: "a.start", Field: "trait:id"}, {EventType: "a.end", Field: "generated"}]

# Expansion

An Expander substitutes each placeholder using a Lookup function:

	exp := template.NewExpander(template.WithMissingAction(template.MissingError))
	out, err := exp.Expand("'$a.start(trait:name)'", lookup)

By default an unresolvable placeholder expands to the empty string
(MissingEmpty). With MissingError the expansion returns an *UnresolvedError
naming every reference that could not be resolved.

# Thread Safety

Expander is safe for concurrent use after construction.
*/
package template
