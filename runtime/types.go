// Package runtime implements the MAIL runtime scheduler (spec.md §4.4): a
// single-threaded-cooperative-in-spirit, priority-ordered dispatch loop that
// owns per-agent-per-task histories, pending futures, a bounded event log,
// and breakpoint stash/resume. Go has no native coroutines, so the
// concurrency model prescribed for a "threaded implementation" in spec.md §5
// is the one implemented here: the queue and histories are serialized by a
// mutex, while agent and action invocations run on their own goroutines so
// distinct tasks make progress concurrently.
package runtime

import (
	"context"
	"encoding/json"
	"time"
)

// HistoryEntry is one record in an agent's per-task conversation history
// (spec.md §3, "Agent history"). The head of a history is always the
// rendered envelope that woke the agent.
type HistoryEntry struct {
	Role    string // user | assistant | tool | system
	Content string
	// ToolCallID correlates a tool- or system-role entry with the tool call
	// it answers. Empty for user and assistant entries, and for the tool
	// entry appended by a breakpoint resume.
	ToolCallID string
	// Name is the tool or action name for tool and system entries recorded
	// for a tool call. Empty for user and assistant entries.
	Name string
}

// ToolCall is a single tool invocation an agent function requested. Name may
// name a built-in MAIL tool (mailtools.Name) or a third-party action
// declared in the agent's Actions list; the runtime disambiguates by
// looking the name up in both catalogs.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// AgentFn is the opaque per-agent function the runtime invokes on dispatch:
// "(history) -> (text?, [ToolCall])" in spec.md §9's design note. The
// scheduler never inspects agent internals; AgentFn may wrap an LM backend,
// a deterministic test double, or a programmable stub.
type AgentFn func(ctx context.Context, history []HistoryEntry) (text string, calls []ToolCall, err error)

// AgentDescriptor is one entry in a swarm template (spec.md §3).
type AgentDescriptor struct {
	Name             string
	CommTargets      []string
	CanCompleteTasks bool
	EnableEntrypoint bool
	ToolFormat       string
	Fn               AgentFn
	// Actions lists the names of non-MAIL actions this agent may invoke;
	// every name must be declared in the Executor passed to NewRuntime.
	Actions []string
}

func (a *AgentDescriptor) commTargetSet() map[string]struct{} {
	set := make(map[string]struct{}, len(a.CommTargets))
	for _, t := range a.CommTargets {
		set[t] = struct{}{}
	}
	return set
}

// TaskStatus is the lifecycle state of a task (spec.md §3).
type TaskStatus string

const (
	StatusRunning   TaskStatus = "running"
	StatusPaused    TaskStatus = "paused"
	StatusCompleted TaskStatus = "completed"
	StatusErrored   TaskStatus = "errored"
)

// ResumeKind discriminates the two resumption modes of spec.md §4.4.
type ResumeKind string

const (
	ResumeUserResponse     ResumeKind = "user_response"
	ResumeBreakpointCall   ResumeKind = "breakpoint_tool_call"
)

// Event kinds recorded in the per-task event ring (spec.md §3).
const (
	EventNewMessage        = "new_message"
	EventToolCall          = "tool_call"
	EventActionCall        = "action_call"
	EventActionComplete    = "action_complete"
	EventTaskComplete      = "task_complete"
	EventTaskError         = "task_error"
	EventAgentError        = "agent_error"
	EventBreakpointToolCall = "breakpoint_tool_call"
	EventPing              = "ping"
)

// Event is one entry in a task's event stream.
type Event struct {
	ID          string
	Seq         int64
	Kind        string
	Timestamp   time.Time
	TaskID      string
	Description string
	Extra       map[string]any
}

// DefaultEventRingCapacity is the per-task retained event count (spec.md
// §4.4, "bounded ring of ≥ 1000 per task").
const DefaultEventRingCapacity = 1000

// PingInterval bounds the heartbeat cadence for streaming callers (spec.md
// §4.4, "≤ 15 s").
const PingInterval = 15 * time.Second
