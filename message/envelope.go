// Package message implements the MAIL wire envelope: immutable,
// schema-validated messages and the canonical XML-like rendering used as
// agent input (spec.md §4.1). Envelope is a tagged sum type discriminated by
// Kind rather than a class hierarchy, per the corpus convention of preferring
// flat structs over inheritance for wire types.
package message

import (
	"time"

	"github.com/google/uuid"
)

// EnvelopeKind discriminates the five envelope shapes defined in spec.md §3.
type EnvelopeKind string

const (
	// KindRequest carries a one-to-one request awaiting a Response.
	KindRequest EnvelopeKind = "request"
	// KindResponse carries a one-to-one reply correlated via RequestID.
	KindResponse EnvelopeKind = "response"
	// KindBroadcast fans out to one or more recipients with no reply expected.
	KindBroadcast EnvelopeKind = "broadcast"
	// KindInterrupt is a high-priority broadcast-shaped envelope.
	KindInterrupt EnvelopeKind = "interrupt"
	// KindTaskComplete signals terminal completion of a task. Shape-identical
	// to KindBroadcast; Recipients MUST be [All].
	KindTaskComplete EnvelopeKind = "task_complete"
)

// System-originated subjects are wrapped in double-colon markers so they are
// visually distinct from agent-authored subjects (spec.md §4.1).
const (
	SubjectToolCallError  = "::tool_call_error::"
	SubjectAgentError     = "::agent_error::"
	SubjectRouterError    = "::router_error::"
	SubjectRuntimeError   = "::runtime_error::"
	SubjectTaskError      = "::task_error::"
)

// Envelope is a single unit of MAIL communication. Fields not relevant to
// Kind are left zero-valued; see the per-kind comments below. Envelopes are
// treated as immutable after a constructor (Request, Response, ...) returns
// them.
type Envelope struct {
	// ID uniquely identifies this envelope (UUID v4).
	ID string `json:"id"`
	// Timestamp is the UTC creation time, RFC-3339 encoded on the wire.
	Timestamp time.Time `json:"timestamp"`
	// TaskID identifies the logical task this envelope belongs to.
	TaskID string `json:"task_id"`
	// Kind discriminates the envelope shape.
	Kind EnvelopeKind `json:"kind"`

	// Sender is populated for every kind.
	Sender Address `json:"sender"`
	// Recipient is populated for KindRequest and KindResponse.
	Recipient Address `json:"recipient,omitempty"`
	// Recipients is populated for KindBroadcast, KindInterrupt, and
	// KindTaskComplete. Must be non-empty.
	Recipients []Address `json:"recipients,omitempty"`

	// Subject is a short human-readable label.
	Subject string `json:"subject"`
	// Body is the message payload.
	Body string `json:"body"`

	// RequestID correlates a KindResponse with the KindRequest it answers.
	// Populated for KindRequest (its own id) and KindResponse (the id it
	// answers).
	RequestID string `json:"request_id,omitempty"`
	// BroadcastID identifies a KindBroadcast (and, by shape, KindTaskComplete).
	BroadcastID string `json:"broadcast_id,omitempty"`
	// InterruptID identifies a KindInterrupt.
	InterruptID string `json:"interrupt_id,omitempty"`

	// Routing fields, used only for federation (spec.md §3).
	SenderSwarm     string         `json:"sender_swarm,omitempty"`
	RecipientSwarm  string         `json:"recipient_swarm,omitempty"`
	RecipientSwarms []string       `json:"recipient_swarms,omitempty"`
	RoutingInfo     map[string]any `json:"routing_info,omitempty"`
}

// newID returns a fresh random envelope/task identifier.
func newID() string { return uuid.NewString() }

// NewTaskID returns a fresh random task identifier. Swarm containers call
// this once per post_message/submit_and_wait/submit_and_stream invocation
// that targets an unknown task.
func NewTaskID() string { return uuid.NewString() }

// Request constructs a KindRequest envelope. taskID defaults to a fresh UUID
// when empty; RequestID is always set to the envelope's own fresh ID, so
// callers that need to correlate a later Response must retain that ID.
func Request(taskID string, sender, recipient Address, subject, body string) (*Envelope, error) {
	if taskID == "" {
		taskID = NewTaskID()
	}
	id := newID()
	env := &Envelope{
		ID:        id,
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
		Kind:      KindRequest,
		Sender:    sender,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		RequestID: id,
	}
	return env, validate(env)
}

// Response constructs a KindResponse envelope correlated with requestID.
func Response(taskID string, sender, recipient Address, subject, body, requestID string) (*Envelope, error) {
	env := &Envelope{
		ID:        newID(),
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
		Kind:      KindResponse,
		Sender:    sender,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		RequestID: requestID,
	}
	return env, validate(env)
}

// Broadcast constructs a KindBroadcast envelope. recipients must be
// non-empty (validated).
func Broadcast(taskID string, sender Address, recipients []Address, subject, body string) (*Envelope, error) {
	id := newID()
	env := &Envelope{
		ID:          id,
		Timestamp:   time.Now().UTC(),
		TaskID:      taskID,
		Kind:        KindBroadcast,
		Sender:      sender,
		Recipients:  recipients,
		Subject:     subject,
		Body:        body,
		BroadcastID: id,
	}
	return env, validate(env)
}

// Interrupt constructs a KindInterrupt envelope. recipients must be
// non-empty (validated).
func Interrupt(taskID string, sender Address, recipients []Address, subject, body string) (*Envelope, error) {
	id := newID()
	env := &Envelope{
		ID:          id,
		Timestamp:   time.Now().UTC(),
		TaskID:      taskID,
		Kind:        KindInterrupt,
		Sender:      sender,
		Recipients:  recipients,
		Subject:     subject,
		Body:        body,
		InterruptID: id,
	}
	return env, validate(env)
}

// TaskComplete constructs a KindTaskComplete broadcast. Recipients are
// forced to [All] per spec.md §3.
func TaskComplete(taskID string, sender Address, finishBody string) (*Envelope, error) {
	id := newID()
	env := &Envelope{
		ID:          id,
		Timestamp:   time.Now().UTC(),
		TaskID:      taskID,
		Kind:        KindTaskComplete,
		Sender:      sender,
		Recipients:  []Address{{Kind: KindAgent, Name: All}},
		Subject:     "task_complete",
		Body:        finishBody,
		BroadcastID: id,
	}
	return env, validate(env)
}

// SystemError constructs a system-originated KindResponse carrying one of
// the ::xxx_error:: subjects, delivered back to the offending sender.
func SystemError(taskID string, recipient Address, subject, body string) (*Envelope, error) {
	return Response(taskID, Address{Kind: KindSystem, Name: "mail"}, recipient, subject, body, "")
}

// validate implements the construct-time schema checks of spec.md invariant 1.
func validate(env *Envelope) error {
	if env.TaskID == "" {
		return &SchemaError{Kind: env.Kind, Field: "task_id", Reason: "required"}
	}
	if env.Sender.Name == "" {
		return &SchemaError{Kind: env.Kind, Field: "sender", Reason: "required"}
	}
	switch env.Kind {
	case KindRequest, KindResponse:
		if env.Recipient.Name == "" {
			return &SchemaError{Kind: env.Kind, Field: "recipient", Reason: "required"}
		}
	case KindBroadcast, KindInterrupt, KindTaskComplete:
		if len(env.Recipients) == 0 {
			return &SchemaError{Kind: env.Kind, Field: "recipients", Reason: "must be non-empty"}
		}
		if env.Kind == KindTaskComplete {
			if len(env.Recipients) != 1 || !env.Recipients[0].IsAll() {
				return &SchemaError{Kind: env.Kind, Field: "recipients", Reason: "must be exactly [all]"}
			}
		}
	default:
		return &SchemaError{Kind: env.Kind, Reason: "unknown envelope kind"}
	}
	return nil
}
