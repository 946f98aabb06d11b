// Package mailtools implements the MAIL built-in tool catalog (spec.md
// §4.2): the fixed set of tools every agent may call to communicate with
// other agents, acknowledge or ignore broadcasts, idle itself, and reach
// across swarm boundaries. Conversion from a requested ToolCall to an
// Envelope (or an in-runtime effect) lives in convert.go.
package mailtools

import "encoding/json"

// Name is a built-in MAIL tool identifier. Names MUST match exactly; the
// runtime never treats a tool call as a MAIL tool unless its Name is one of
// the constants below.
type Name string

const (
	// SendRequest emits a request envelope to Target.
	SendRequest Name = "send_request"
	// SendResponse emits a response envelope to Target, correlated with the
	// request the calling agent is answering.
	SendResponse Name = "send_response"
	// SendInterrupt emits a high-priority interrupt envelope to Target.
	SendInterrupt Name = "send_interrupt"
	// SendBroadcast emits a broadcast to every local agent.
	SendBroadcast Name = "send_broadcast"
	// TaskComplete emits a terminal task_complete broadcast. Only effective
	// when issued by a supervisor (an agent with CanCompleteTasks = true).
	TaskComplete Name = "task_complete"
	// AcknowledgeBroadcast appends a memory record for the current broadcast.
	// It never produces an outbound envelope.
	AcknowledgeBroadcast Name = "acknowledge_broadcast"
	// IgnoreBroadcast discards the current broadcast with no memory write and
	// no outbound envelope.
	IgnoreBroadcast Name = "ignore_broadcast"
	// AwaitMessage marks the calling agent idle until a new envelope targets it.
	AwaitMessage Name = "await_message"
	// SendInterswarmBroadcast fans a broadcast across the named remote swarms.
	SendInterswarmBroadcast Name = "send_interswarm_broadcast"
	// DiscoverSwarms registers peers advertised by the given discovery URLs.
	DiscoverSwarms Name = "discover_swarms"
)

// IsBuiltin reports whether name is one of the MAIL built-in tools.
func IsBuiltin(name Name) bool {
	switch name {
	case SendRequest, SendResponse, SendInterrupt, SendBroadcast, TaskComplete,
		AcknowledgeBroadcast, IgnoreBroadcast, AwaitMessage,
		SendInterswarmBroadcast, DiscoverSwarms:
		return true
	default:
		return false
	}
}

// Call is a single tool invocation requested by an agent function, as
// returned from AgentFn's second result value.
type Call struct {
	// ID is an optional identifier for the call, echoed back with its result
	// when the runtime records the assistant's tool-call history entry.
	ID string
	// Name is the tool identifier requested by the agent.
	Name Name
	// Args is the canonical JSON arguments object for Name.
	Args json.RawMessage
}

// Definition describes a built-in tool for presentation to an agent
// function (e.g. as part of a provider tool-use schema). MAIL ships a fixed
// catalog; Catalog is not extensible by swarm templates.
type Definition struct {
	Name        Name
	Description string
}

// Catalog lists every built-in MAIL tool definition, in the order presented
// to agents.
var Catalog = []Definition{
	{Name: SendRequest, Description: "Send a request to another agent and await its response."},
	{Name: SendResponse, Description: "Reply to the request currently being answered."},
	{Name: SendInterrupt, Description: "Send a high-priority interrupt to another agent."},
	{Name: SendBroadcast, Description: "Broadcast a message to every local agent."},
	{Name: TaskComplete, Description: "Declare the task complete (supervisors only)."},
	{Name: AcknowledgeBroadcast, Description: "Acknowledge the current broadcast without replying."},
	{Name: IgnoreBroadcast, Description: "Ignore the current broadcast."},
	{Name: AwaitMessage, Description: "Idle until a new message targets this agent."},
	{Name: SendInterswarmBroadcast, Description: "Broadcast to agents on one or more remote swarms."},
	{Name: DiscoverSwarms, Description: "Register peer swarms advertised by the given discovery URLs."},
}

type (
	// SendArgs is the argument shape shared by send_request, send_response,
	// and send_interrupt.
	SendArgs struct {
		Target  string `json:"target"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}

	// BroadcastArgs is the argument shape for send_broadcast.
	BroadcastArgs struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}

	// TaskCompleteArgs is the argument shape for task_complete.
	TaskCompleteArgs struct {
		FinishMessage string `json:"finish_message"`
	}

	// AcknowledgeArgs is the argument shape for acknowledge_broadcast.
	AcknowledgeArgs struct {
		Note string `json:"note,omitempty"`
	}

	// IgnoreArgs is the argument shape for ignore_broadcast.
	IgnoreArgs struct {
		Reason string `json:"reason,omitempty"`
	}

	// AwaitArgs is the argument shape for await_message.
	AwaitArgs struct {
		Reason string `json:"reason,omitempty"`
	}

	// InterswarmBroadcastArgs is the argument shape for
	// send_interswarm_broadcast.
	InterswarmBroadcastArgs struct {
		Subject      string   `json:"subject"`
		Body         string   `json:"body"`
		TargetSwarms []string `json:"target_swarms"`
	}

	// DiscoverArgs is the argument shape for discover_swarms.
	DiscoverArgs struct {
		DiscoveryURLs []string `json:"discovery_urls"`
	}
)
