// Package action implements the MAIL action executor (spec.md §4.3): it runs
// non-MAIL (third-party) tool calls an agent's template declares in its
// actions list, validates arguments against a JSON Schema, and formats
// results as response envelopes. Actions declared as breakpoints suspend
// instead of running; the runtime stashes queue state and resumes later.
package action

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/charonlabs/mail/message"
)

// Func is the third-party side effect an Action invokes. It receives the
// already schema-validated arguments and returns a JSON-encodable result.
type Func func(ctx context.Context, args json.RawMessage) (any, error)

// Action is one entry in an agent's declared actions list.
type Action struct {
	// Name identifies the action; it MUST NOT collide with a mailtools.Name.
	Name string
	// Description is surfaced to the agent function alongside Schema.
	Description string
	// Schema is the JSON Schema document describing Args, as a decoded JSON
	// value (map[string]any or bool). A nil Schema accepts any arguments.
	Schema any
	// Breakpoint marks the action as pausing: invoking it never calls Fn;
	// see spec.md §4.3.
	Breakpoint bool
	// Fn is the side-effecting function. Required unless Breakpoint is true.
	Fn Func
}

type compiled struct {
	action Action
	schema *jsonschema.Schema
}

// Executor holds the compiled action catalog for one swarm instance.
type Executor struct {
	actions map[string]*compiled
}

// NewExecutor compiles every action's Schema and returns an Executor ready
// to run calls. An action with a nil Schema always validates.
func NewExecutor(actions []Action) (*Executor, error) {
	e := &Executor{actions: make(map[string]*compiled, len(actions))}
	for _, a := range actions {
		c := &compiled{action: a}
		if a.Schema != nil {
			resourceID := fmt.Sprintf("mem://actions/%s.json", a.Name)
			compiler := jsonschema.NewCompiler()
			if err := compiler.AddResource(resourceID, a.Schema); err != nil {
				return nil, fmt.Errorf("action %s: add schema resource: %w", a.Name, err)
			}
			schema, err := compiler.Compile(resourceID)
			if err != nil {
				return nil, fmt.Errorf("action %s: compile schema: %w", a.Name, err)
			}
			c.schema = schema
		}
		e.actions[a.Name] = c
	}
	return e, nil
}

// Has reports whether name is a declared action.
func (e *Executor) Has(name string) bool {
	_, ok := e.actions[name]
	return ok
}

// OutcomeKind discriminates the two shapes Execute may return.
type OutcomeKind int

const (
	// OutcomeResponse means Outcome.Envelope is ready to enqueue as the
	// caller's tool response, success or ::tool_call_error::.
	OutcomeResponse OutcomeKind = iota
	// OutcomeBreakpoint means the action must not run; the runtime is
	// responsible for stashing queue state, marking the task paused, and
	// emitting a breakpoint_tool_call event (spec.md §4.3 steps 1-3).
	OutcomeBreakpoint
)

// Outcome is the result of Execute.
type Outcome struct {
	Kind OutcomeKind

	// Envelope is populated when Kind == OutcomeResponse.
	Envelope *message.Envelope

	// Pending is populated when Kind == OutcomeBreakpoint.
	Pending *Pending
}

// Pending describes a breakpointed call awaiting external resume.
type Pending struct {
	Action string
	Args   json.RawMessage
	Caller message.Address
	TaskID string
}

// Execute runs (or breakpoints) call on behalf of caller. taskID and
// requestID are forwarded so the resulting response envelope correlates
// with the tool-call history entry that triggered it.
func (e *Executor) Execute(ctx context.Context, call Call, caller message.Address, taskID, requestID string) Outcome {
	c, ok := e.actions[call.Name]
	if !ok {
		return Outcome{Kind: OutcomeResponse, Envelope: errorEnvelope(caller, taskID, requestID,
			fmt.Sprintf("unknown action %q", call.Name))}
	}

	if c.schema != nil {
		var instance any
		if len(call.Args) == 0 {
			instance = map[string]any{}
		} else if err := json.Unmarshal(call.Args, &instance); err != nil {
			return Outcome{Kind: OutcomeResponse, Envelope: errorEnvelope(caller, taskID, requestID,
				fmt.Sprintf("action %s: invalid JSON arguments: %v", call.Name, err))}
		}
		if err := c.schema.Validate(instance); err != nil {
			return Outcome{Kind: OutcomeResponse, Envelope: errorEnvelope(caller, taskID, requestID,
				fmt.Sprintf("action %s: argument validation failed: %s", call.Name, describeValidationError(err)))}
		}
	}

	if c.action.Breakpoint {
		return Outcome{Kind: OutcomeBreakpoint, Pending: &Pending{
			Action: call.Name,
			Args:   call.Args,
			Caller: caller,
			TaskID: taskID,
		}}
	}

	result, err := c.action.Fn(ctx, call.Args)
	if err != nil {
		return Outcome{Kind: OutcomeResponse, Envelope: errorEnvelope(caller, taskID, requestID,
			fmt.Sprintf("action %s: %v", call.Name, err))}
	}
	body, err := json.Marshal(result)
	if err != nil {
		return Outcome{Kind: OutcomeResponse, Envelope: errorEnvelope(caller, taskID, requestID,
			fmt.Sprintf("action %s: result is not JSON-encodable: %v", call.Name, err))}
	}

	env, envErr := message.Response(taskID, message.Address{Kind: message.KindSystem, Name: "mail"}, caller, call.Name, string(body), requestID)
	if envErr != nil {
		return Outcome{Kind: OutcomeResponse, Envelope: errorEnvelope(caller, taskID, requestID, envErr.Error())}
	}
	return Outcome{Kind: OutcomeResponse, Envelope: env}
}

// Call is a single action invocation requested by an agent function. Its
// shape mirrors mailtools.Call but actions live in a disjoint namespace from
// built-in MAIL tools, so the two are not interchangeable.
type Call struct {
	ID   string
	Name string
	Args json.RawMessage
}

func errorEnvelope(caller message.Address, taskID, requestID, reason string) *message.Envelope {
	env, err := message.SystemError(taskID, caller, message.SubjectToolCallError, reason)
	if err != nil {
		return &message.Envelope{
			TaskID:    taskID,
			Kind:      message.KindResponse,
			Sender:    message.Address{Kind: message.KindSystem, Name: "mail"},
			Recipient: caller,
			Subject:   message.SubjectToolCallError,
			Body:      reason,
			RequestID: requestID,
		}
	}
	env.RequestID = requestID
	return env
}

// describeValidationError renders a jsonschema validation failure with the
// offending instance path, matching spec.md §4.3's "type mismatches are
// reported with the offending path".
func describeValidationError(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok || len(ve.Causes) == 0 {
		return err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	return fmt.Sprintf("%s: %s", leaf.InstanceLocation, leaf.Error())
}
