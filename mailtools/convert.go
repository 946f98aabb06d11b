package mailtools

import (
	"encoding/json"
	"fmt"

	"github.com/charonlabs/mail/message"
)

// Effect discriminates what the runtime must do with a Result.
type Effect int

const (
	// EffectEnqueue means Result.Envelope is ready to enqueue as-is, whether
	// it is the agent's intended message or a system ::tool_call_error::
	// response (Result.IsError distinguishes the two for logging).
	EffectEnqueue Effect = iota
	// EffectAcknowledge means the runtime should append Result.MemoryNote to
	// the calling agent's memory and take no other action.
	EffectAcknowledge
	// EffectIgnore means the runtime takes no action at all.
	EffectIgnore
	// EffectAwait means the calling agent goes idle until a new envelope
	// targets it.
	EffectAwait
	// EffectDiscover means the runtime should ask the registry to discover
	// peers at Result.DiscoveryURLs.
	EffectDiscover
)

// Result is the outcome of converting a single Call.
type Result struct {
	Effect Effect

	// Envelope is populated when Effect == EffectEnqueue.
	Envelope *message.Envelope
	// IsError reports whether Envelope is a system ::tool_call_error::
	// response rather than the agent's intended message. Never leaves the
	// runtime for delivery to another swarm.
	IsError bool

	// MemoryNote is populated when Effect == EffectAcknowledge.
	MemoryNote string

	// DiscoveryURLs is populated when Effect == EffectDiscover.
	DiscoveryURLs []string
}

// Options carries the per-call context Convert needs but cannot derive from
// Call alone: the caller's communication policy and the request it is
// currently replying to, if any.
type Options struct {
	// CommTargets is the set of agent names (bare local names, or
	// "name@swarm" for remote agents) the calling agent is permitted to
	// address with send_request, send_response, and send_interrupt. The
	// reserved name "all" is always allowed; a nil or empty map allows no
	// other target.
	CommTargets map[string]struct{}
	// ReplyToRequestID is the id of the request (its RequestID) or broadcast
	// (its BroadcastID) that woke the calling agent, if any. Needed to
	// correlate send_response.
	ReplyToRequestID string
	// CanCompleteTask reports whether the calling agent is a supervisor
	// (template.CanCompleteTasks) and so may issue task_complete.
	CanCompleteTask bool
}

// Convert turns a requested tool Call into a Result. It is the
// call_to_envelope operation of spec.md §4.2: it validates the call's target
// against the caller's comm_targets, constructs the envelope, and forwards
// taskID. Calls that fail validation never leave the runtime — Convert
// returns EffectEnqueue with IsError set and Envelope holding a system
// response addressed back to sender, subject ::tool_call_error::.
func Convert(call Call, sender message.Address, taskID string, opts Options) Result {
	switch call.Name {
	case SendRequest:
		return convertSend(call, sender, taskID, opts, message.Request)
	case SendInterrupt:
		return convertInterrupt(call, sender, taskID, opts)
	case SendResponse:
		return convertResponse(call, sender, taskID, opts)
	case SendBroadcast:
		return convertBroadcast(call, sender, taskID)
	case TaskComplete:
		return convertTaskComplete(call, sender, taskID, opts)
	case AcknowledgeBroadcast:
		return convertAcknowledge(call)
	case IgnoreBroadcast:
		return Result{Effect: EffectIgnore}
	case AwaitMessage:
		return Result{Effect: EffectAwait}
	case SendInterswarmBroadcast:
		return convertInterswarmBroadcast(call, sender, taskID)
	case DiscoverSwarms:
		return convertDiscover(call)
	default:
		return errorResult(sender, taskID, fmt.Sprintf("unknown tool %q", call.Name))
	}
}

// errorResult builds the canonical ::tool_call_error:: response back to
// sender. A malformed system response here (e.g. empty taskID) would defeat
// its own purpose, so construction failure falls back to a bare envelope
// rather than propagating the error.
func errorResult(sender message.Address, taskID, reason string) Result {
	env, err := message.SystemError(taskID, sender, message.SubjectToolCallError, reason)
	if err != nil {
		env = &message.Envelope{
			TaskID:    taskID,
			Kind:      message.KindResponse,
			Sender:    message.Address{Kind: message.KindSystem, Name: "mail"},
			Recipient: sender,
			Subject:   message.SubjectToolCallError,
			Body:      reason,
		}
	}
	return Result{Effect: EffectEnqueue, Envelope: env, IsError: true}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing arguments")
	}
	return json.Unmarshal(raw, v)
}

func targetAllowed(opts Options, target string) bool {
	if target == message.All {
		return true
	}
	if opts.CommTargets == nil {
		return false
	}
	_, ok := opts.CommTargets[target]
	return ok
}

type sendConstructor func(taskID string, sender, recipient message.Address, subject, body string) (*message.Envelope, error)

func convertSend(call Call, sender message.Address, taskID string, opts Options, construct sendConstructor) Result {
	var args SendArgs
	if err := decodeArgs(call.Args, &args); err != nil {
		return errorResult(sender, taskID, fmt.Sprintf("invalid arguments for %s: %v", call.Name, err))
	}
	if args.Target == "" {
		return errorResult(sender, taskID, fmt.Sprintf("%s requires a target", call.Name))
	}
	if !targetAllowed(opts, args.Target) {
		return errorResult(sender, taskID, fmt.Sprintf("target %q is not in comm_targets", args.Target))
	}
	env, err := construct(taskID, sender, message.Agent(args.Target), args.Subject, args.Body)
	if err != nil {
		return errorResult(sender, taskID, err.Error())
	}
	return Result{Effect: EffectEnqueue, Envelope: env}
}

func convertInterrupt(call Call, sender message.Address, taskID string, opts Options) Result {
	var args SendArgs
	if err := decodeArgs(call.Args, &args); err != nil {
		return errorResult(sender, taskID, fmt.Sprintf("invalid arguments for send_interrupt: %v", err))
	}
	if args.Target == "" {
		return errorResult(sender, taskID, "send_interrupt requires a target")
	}
	if !targetAllowed(opts, args.Target) {
		return errorResult(sender, taskID, fmt.Sprintf("target %q is not in comm_targets", args.Target))
	}
	env, err := message.Interrupt(taskID, sender, []message.Address{message.Agent(args.Target)}, args.Subject, args.Body)
	if err != nil {
		return errorResult(sender, taskID, err.Error())
	}
	return Result{Effect: EffectEnqueue, Envelope: env}
}

func convertResponse(call Call, sender message.Address, taskID string, opts Options) Result {
	var args SendArgs
	if err := decodeArgs(call.Args, &args); err != nil {
		return errorResult(sender, taskID, fmt.Sprintf("invalid arguments for send_response: %v", err))
	}
	if args.Target == "" {
		return errorResult(sender, taskID, "send_response requires a target")
	}
	if !targetAllowed(opts, args.Target) {
		return errorResult(sender, taskID, fmt.Sprintf("target %q is not in comm_targets", args.Target))
	}
	if opts.ReplyToRequestID == "" {
		return errorResult(sender, taskID, "send_response has no outstanding request to correlate with")
	}
	env, err := message.Response(taskID, sender, message.Agent(args.Target), args.Subject, args.Body, opts.ReplyToRequestID)
	if err != nil {
		return errorResult(sender, taskID, err.Error())
	}
	return Result{Effect: EffectEnqueue, Envelope: env}
}

func convertBroadcast(call Call, sender message.Address, taskID string) Result {
	var args BroadcastArgs
	if err := decodeArgs(call.Args, &args); err != nil {
		return errorResult(sender, taskID, fmt.Sprintf("invalid arguments for send_broadcast: %v", err))
	}
	env, err := message.Broadcast(taskID, sender, []message.Address{message.Agent(message.All)}, args.Subject, args.Body)
	if err != nil {
		return errorResult(sender, taskID, err.Error())
	}
	return Result{Effect: EffectEnqueue, Envelope: env}
}

func convertTaskComplete(call Call, sender message.Address, taskID string, opts Options) Result {
	if !opts.CanCompleteTask {
		return errorResult(sender, taskID, "only a supervisor agent may call task_complete")
	}
	var args TaskCompleteArgs
	if err := decodeArgs(call.Args, &args); err != nil {
		return errorResult(sender, taskID, fmt.Sprintf("invalid arguments for task_complete: %v", err))
	}
	env, err := message.TaskComplete(taskID, sender, args.FinishMessage)
	if err != nil {
		return errorResult(sender, taskID, err.Error())
	}
	return Result{Effect: EffectEnqueue, Envelope: env}
}

func convertAcknowledge(call Call) Result {
	var args AcknowledgeArgs
	_ = decodeArgs(call.Args, &args)
	return Result{Effect: EffectAcknowledge, MemoryNote: args.Note}
}

func convertInterswarmBroadcast(call Call, sender message.Address, taskID string) Result {
	var args InterswarmBroadcastArgs
	if err := decodeArgs(call.Args, &args); err != nil {
		return errorResult(sender, taskID, fmt.Sprintf("invalid arguments for send_interswarm_broadcast: %v", err))
	}
	if len(args.TargetSwarms) == 0 {
		return errorResult(sender, taskID, "send_interswarm_broadcast requires at least one target swarm")
	}
	recipients := make([]message.Address, 0, len(args.TargetSwarms))
	for _, sw := range args.TargetSwarms {
		recipients = append(recipients, message.Agent(fmt.Sprintf("%s@%s", message.All, sw)))
	}
	env, err := message.Broadcast(taskID, sender, recipients, args.Subject, args.Body)
	if err != nil {
		return errorResult(sender, taskID, err.Error())
	}
	env.RecipientSwarms = args.TargetSwarms
	return Result{Effect: EffectEnqueue, Envelope: env}
}

func convertDiscover(call Call) Result {
	var args DiscoverArgs
	if err := decodeArgs(call.Args, &args); err != nil {
		return Result{Effect: EffectDiscover}
	}
	return Result{Effect: EffectDiscover, DiscoveryURLs: args.DiscoveryURLs}
}
