package message

import "fmt"

// SchemaError reports a malformed envelope rejected by one of the envelope
// constructors: a missing required field, or an empty recipient list for a
// multi-recipient kind (spec taxonomy item 1). Envelopes arriving from a peer
// swarm are not re-validated, so this error is not raised there.
type SchemaError struct {
	// Kind is the envelope kind being constructed.
	Kind EnvelopeKind
	// Field names the offending field, when known.
	Field string
	// Reason describes the violation.
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("message: schema error for kind %q: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("message: schema error for kind %q field %q: %s", e.Kind, e.Field, e.Reason)
}
