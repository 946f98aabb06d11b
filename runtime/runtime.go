package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/charonlabs/mail/action"
	"github.com/charonlabs/mail/mailtools"
	"github.com/charonlabs/mail/message"
	"github.com/charonlabs/mail/telemetry"
)

// DiscoverFunc is invoked when an agent calls discover_swarms. The runtime
// has no registry dependency of its own; swarm.Container wires this to the
// local registry's Discover operation (spec.md §4.6).
type DiscoverFunc func(ctx context.Context, taskID string, urls []string)

// RemoteFunc is invoked instead of local delivery when an envelope's
// recipient names a peer swarm (spec.md §4.7). The runtime has no transport
// dependency of its own; interswarm.Router wires this to its outbound
// forwarding path. recipientName is the full remote-qualified name
// ("weather@north"). A returned error causes the runtime to reply a
// ::router_error:: to env.Sender, exactly as an unknown local recipient
// would.
type RemoteFunc func(ctx context.Context, env *message.Envelope, recipientName string) error

// CompletionFunc is invoked when a task this swarm owns reaches
// StatusCompleted and other swarms contributed to it (spec.md §4.7,
// "owner-side best-effort broadcast of completion to all contributor
// swarms"). contributors excludes the local swarm itself.
type CompletionFunc func(ctx context.Context, taskID, body string, contributors []string)

// options configures a Runtime; see the With* functions below.
type options struct {
	eventCapacity int
	discover      DiscoverFunc
	remote        RemoteFunc
	onComplete    CompletionFunc
}

// Option configures a Runtime at construction time.
type Option func(*options)

// WithEventCapacity overrides the default per-task event ring size.
func WithEventCapacity(n int) Option {
	return func(o *options) { o.eventCapacity = n }
}

// WithDiscoverFunc wires discover_swarms to a registry's discovery operation.
func WithDiscoverFunc(fn DiscoverFunc) Option {
	return func(o *options) { o.discover = fn }
}

// WithRemoteDispatch wires remote-recipient envelopes to an interswarm
// router's outbound forwarding path.
func WithRemoteDispatch(fn RemoteFunc) Option {
	return func(o *options) { o.remote = fn }
}

// WithCompletionHook wires task completion to an interswarm router's
// best-effort broadcast to contributor swarms.
func WithCompletionHook(fn CompletionFunc) Option {
	return func(o *options) { o.onComplete = fn }
}

// Runtime is one per-user (or per-swarm-instance) cooperative scheduler
// (spec.md §4.4). A process typically owns one Runtime per authenticated
// session; each Runtime owns its own queue, histories, and event rings.
type Runtime struct {
	localSwarm string
	agents     map[string]*AgentDescriptor
	actionExec *action.Executor
	opts       options

	mu    sync.Mutex
	cond  *sync.Cond
	queue *priorityQueue
	tasks map[string]*taskState

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	closed  bool

	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
}

// NewRuntime builds a Runtime over the given agents and action catalog.
// agents must be keyed by unique Name; callers that need swarm-template
// validation (comm_targets references, single entrypoint, ≥1 supervisor)
// should use swarm.NewContainer, which validates before calling NewRuntime.
func NewRuntime(localSwarm string, agents []AgentDescriptor, actionExec *action.Executor, opts ...Option) (*Runtime, error) {
	o := options{eventCapacity: DefaultEventRingCapacity}
	for _, fn := range opts {
		fn(&o)
	}
	rt := &Runtime{
		localSwarm: localSwarm,
		agents:     make(map[string]*AgentDescriptor, len(agents)),
		actionExec: actionExec,
		opts:       o,
		queue:      newPriorityQueue(),
		tasks:      make(map[string]*taskState),
		stopCh:     make(chan struct{}),
		tracer:     telemetry.NewTracer(),
		metrics:    telemetry.NewMetrics(),
	}
	rt.cond = sync.NewCond(&rt.mu)
	for i := range agents {
		a := agents[i]
		if _, dup := rt.agents[a.Name]; dup {
			return nil, fmt.Errorf("runtime: duplicate agent name %q", a.Name)
		}
		rt.agents[a.Name] = &a
	}
	rt.start()
	return rt, nil
}

func (rt *Runtime) start() {
	rt.wg.Add(1)
	go rt.dispatchLoop()
}

// Submit enqueues env and returns immediately (spec.md §6.1).
func (rt *Runtime) Submit(env *message.Envelope) error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return fmt.Errorf("runtime: submit after shutdown")
	}
	rt.ensureTaskLocked(env)
	rt.queue.push(env)
	rt.cond.Broadcast()
	rt.mu.Unlock()
	return nil
}

// ensureTaskLocked creates the taskState for env.TaskID if this is the first
// envelope seen for it. Must be called with rt.mu held.
func (rt *Runtime) ensureTaskLocked(env *message.Envelope) *taskState {
	owner := fmt.Sprintf("user:%s@%s", env.Sender.Name, rt.localSwarm)
	if env.Sender.Kind == message.KindAgent {
		owner = fmt.Sprintf("swarm:%s@%s", rt.localSwarm, rt.localSwarm)
	}
	return rt.ensureTaskOwnedLocked(env.TaskID, owner)
}

func (rt *Runtime) ensureTaskOwnedLocked(taskID, owner string) *taskState {
	ts, ok := rt.tasks[taskID]
	if ok {
		return ts
	}
	ts = newTaskState(taskID, owner, rt.localSwarm, rt.opts.eventCapacity)
	rt.tasks[taskID] = ts
	return ts
}

// SubmitRemote enqueues an envelope forwarded in from a peer swarm, recording
// owner as the task's owner if this is the first envelope seen for taskID
// (spec.md §4.7: "task_owner is immutable once established"), and recording
// the local swarm as a contributor. Used by an interswarm router's inbound
// handler; env.Recipient is expected to already be rewritten to a bare local
// agent name.
func (rt *Runtime) SubmitRemote(env *message.Envelope, owner string) error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return fmt.Errorf("runtime: submit after shutdown")
	}
	ts := rt.ensureTaskOwnedLocked(env.TaskID, owner)
	rt.queue.push(env)
	rt.cond.Broadcast()
	rt.mu.Unlock()
	ts.addContributor(rt.localSwarm)
	return nil
}

// TaskOwner returns the owner recorded for taskID, if known.
func (rt *Runtime) TaskOwner(taskID string) (string, bool) {
	ts := rt.taskOrNil(taskID)
	if ts == nil {
		return "", false
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.owner, true
}

// TaskContributors returns the set of swarm names that have contributed to
// taskID (spec.md §4.7 "task_contributors").
func (rt *Runtime) TaskContributors(taskID string) ([]string, bool) {
	ts := rt.taskOrNil(taskID)
	if ts == nil {
		return nil, false
	}
	set := ts.contributorSet()
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out, true
}

// AddTaskContributor records swarm as having contributed to taskID. Used by
// an interswarm router when it forwards a task onward to another peer.
func (rt *Runtime) AddTaskContributor(taskID, swarm string) {
	ts := rt.taskOrNil(taskID)
	if ts == nil {
		return
	}
	ts.addContributor(swarm)
}

func (rt *Runtime) taskOrNil(taskID string) *taskState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.tasks[taskID]
}

// SubmitAndWait enqueues env and blocks until task_complete resolves the
// future, timeout elapses, or ctx is cancelled (spec.md §6.1, §5).
func (rt *Runtime) SubmitAndWait(ctx context.Context, env *message.Envelope, timeout time.Duration) (string, error) {
	rt.mu.Lock()
	ts := rt.ensureTaskLocked(env)
	rt.mu.Unlock()
	if err := rt.Submit(env); err != nil {
		return "", err
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-ts.done:
		return ts.result.Body, ts.result.Err
	case <-waitCtx.Done():
		rt.Cancel(env.TaskID)
		return "", &TaskTimeoutError{TaskID: env.TaskID}
	}
}

// SubmitAndStream enqueues env and returns a channel of events for the task,
// emitting ping heartbeats at most PingInterval apart (spec.md §4.4). The
// channel closes when the task reaches a terminal status or ctx is done.
func (rt *Runtime) SubmitAndStream(ctx context.Context, env *message.Envelope, timeout time.Duration) (<-chan Event, error) {
	rt.mu.Lock()
	ts := rt.ensureTaskLocked(env)
	rt.mu.Unlock()
	if err := rt.Submit(env); err != nil {
		return nil, err
	}
	return rt.streamTask(ctx, ts, timeout), nil
}

// StreamTask restarts a stream for an already-submitted task (spec.md §4.4,
// "the stream is restartable for the lifetime of the task"): it re-emits
// every event currently retained in the ring before continuing live.
func (rt *Runtime) StreamTask(ctx context.Context, taskID string, timeout time.Duration) (<-chan Event, error) {
	ts := rt.taskOrNil(taskID)
	if ts == nil {
		return nil, fmt.Errorf("runtime: unknown task %s", taskID)
	}
	return rt.streamTask(ctx, ts, timeout), nil
}

func (rt *Runtime) streamTask(ctx context.Context, ts *taskState, timeout time.Duration) <-chan Event {
	out := make(chan Event, 16)
	streamCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	go func() {
		defer close(out)
		if cancel != nil {
			defer cancel()
		}
		var seq int64
		ticker := time.NewTicker(PingInterval)
		defer ticker.Stop()
		for {
			events, wake, _ := ts.events.since(seq)
			for _, e := range events {
				select {
				case out <- e:
				case <-streamCtx.Done():
					return
				}
				seq = e.Seq + 1
			}
			if ts.isTerminal() {
				return
			}
			select {
			case <-wake:
			case <-ticker.C:
				select {
				case out <- Event{Kind: EventPing, Timestamp: time.Now().UTC(), TaskID: ts.id}:
				case <-streamCtx.Done():
					return
				}
			case <-streamCtx.Done():
				return
			}
		}
	}()
	return out
}

// Cancel evicts queued envelopes for taskID, rejects the pending future with
// Cancelled, and writes a task_error event (spec.md §4.4). Idempotent.
func (rt *Runtime) Cancel(taskID string) {
	rt.mu.Lock()
	rt.queue.removeTask(taskID)
	ts := rt.tasks[taskID]
	rt.mu.Unlock()
	if ts == nil {
		return
	}
	if ts.resolved() {
		return
	}
	ts.setStatus(StatusErrored)
	ts.events.append(taskID, EventTaskError, "task cancelled", nil)
	ts.resolve("", &CancelledError{TaskID: taskID})
}

// Resume implements the two resumption modes of spec.md §4.4.
func (rt *Runtime) Resume(ctx context.Context, taskID string, kind ResumeKind, env *message.Envelope, extras map[string]string) error {
	switch kind {
	case ResumeUserResponse, "":
		if env == nil {
			return fmt.Errorf("runtime: resume user_response requires an envelope")
		}
		env.TaskID = taskID
		return rt.Submit(env)
	case ResumeBreakpointCall:
		return rt.resumeBreakpoint(taskID, extras)
	default:
		return fmt.Errorf("runtime: unknown resume kind %q", kind)
	}
}

func (rt *Runtime) resumeBreakpoint(taskID string, extras map[string]string) error {
	caller := extras["breakpoint_tool_caller"]
	resultJSON := extras["breakpoint_tool_call_result"]
	if caller == "" || resultJSON == "" {
		return fmt.Errorf("runtime: breakpoint_tool_call resume requires breakpoint_tool_caller and breakpoint_tool_call_result")
	}

	rt.mu.Lock()
	ts := rt.tasks[taskID]
	if ts == nil {
		rt.mu.Unlock()
		return fmt.Errorf("runtime: unknown task %s", taskID)
	}
	ts.mu.Lock()
	bp := ts.breakpoint
	ts.mu.Unlock()
	if bp == nil {
		rt.mu.Unlock()
		return fmt.Errorf("runtime: task %s has no pending breakpoint", taskID)
	}

	ts.appendHistory(caller, HistoryEntry{Role: "tool", Content: resultJSON, Name: bp.action})
	rt.queue.restoreTask(bp.stashedQueue)
	ts.mu.Lock()
	ts.breakpoint = nil
	ts.mu.Unlock()
	ts.setStatus(StatusRunning)
	rt.cond.Broadcast()
	rt.mu.Unlock()
	return nil
}

// PendingRequest describes one task currently awaiting completion
// (SUPPLEMENTED FEATURES introspection, spec.md §6.1 pending_requests).
type PendingRequest struct {
	TaskID       string
	Status       TaskStatus
	Owner        string
	Contributors []string
}

// PendingRequests lists every non-terminal task known to the runtime.
func (rt *Runtime) PendingRequests() []PendingRequest {
	rt.mu.Lock()
	ids := make([]*taskState, 0, len(rt.tasks))
	for _, ts := range rt.tasks {
		ids = append(ids, ts)
	}
	rt.mu.Unlock()

	out := make([]PendingRequest, 0, len(ids))
	for _, ts := range ids {
		if ts.isTerminal() {
			continue
		}
		contributors := ts.contributorSet()
		names := make([]string, 0, len(contributors))
		for c := range contributors {
			names = append(names, c)
		}
		out = append(out, PendingRequest{TaskID: ts.id, Status: ts.getStatus(), Owner: ts.owner, Contributors: names})
	}
	return out
}

// EventStats reports the event ring occupancy for a task (SUPPLEMENTED
// FEATURES: overflow-counter introspection).
type EventStats struct {
	Count    int
	Dropped  int
}

// EventsFor returns the retained events and overflow count for taskID
// (spec.md §6.1 events_for).
func (rt *Runtime) EventsFor(taskID string) ([]Event, EventStats, error) {
	ts := rt.taskOrNil(taskID)
	if ts == nil {
		return nil, EventStats{}, fmt.Errorf("runtime: unknown task %s", taskID)
	}
	events, dropped := ts.events.snapshot()
	return events, EventStats{Count: len(events), Dropped: dropped}, nil
}

// Shutdown stops accepting submissions, waits up to grace for running tasks
// to finish, then cancels the remainder (spec.md §5).
func (rt *Runtime) Shutdown(grace time.Duration) {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return
	}
	rt.closed = true
	pending := make([]*taskState, 0, len(rt.tasks))
	for _, ts := range rt.tasks {
		pending = append(pending, ts)
	}
	rt.mu.Unlock()

	graceCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	for _, ts := range pending {
		if ts.isTerminal() {
			continue
		}
		select {
		case <-ts.done:
		case <-graceCtx.Done():
		}
	}
	for _, ts := range pending {
		if !ts.isTerminal() {
			rt.Cancel(ts.id)
		}
	}
	close(rt.stopCh)
	rt.cond.Broadcast()
	rt.wg.Wait()
}

// dispatchLoop is the single scheduler goroutine described in spec.md §4.4.
// It owns dequeue ordering; each dequeued envelope's fanout and agent
// invocation runs on its own goroutine so distinct tasks progress
// concurrently while the queue and histories stay serialized by rt.mu.
func (rt *Runtime) dispatchLoop() {
	defer rt.wg.Done()
	for {
		rt.mu.Lock()
		for {
			if rt.closedAndDrainedLocked() {
				rt.mu.Unlock()
				return
			}
			env := rt.queue.popEligible(func(taskID string) bool {
				ts := rt.tasks[taskID]
				return ts != nil && ts.isPaused()
			})
			if env != nil {
				rt.mu.Unlock()
				rt.wg.Add(1)
				go func() {
					defer rt.wg.Done()
					rt.process(env)
				}()
				break
			}
			select {
			case <-rt.stopCh:
				rt.mu.Unlock()
				return
			default:
			}
			rt.cond.Wait()
		}
	}
}

func (rt *Runtime) closedAndDrainedLocked() bool {
	if !rt.closed {
		return false
	}
	select {
	case <-rt.stopCh:
		return true
	default:
		return false
	}
}

// process handles one dequeued envelope: history fanout, agent invocation,
// and conversion of the agent's resulting tool calls (spec.md §4.4 steps
// 1-3). Failures inside this function never escape to the dispatch loop;
// they are converted to system responses or task-level errors per §4.4
// "Failure semantics".
func (rt *Runtime) process(env *message.Envelope) {
	ctx, span := rt.tracer.Start(context.Background(), "runtime.process",
		attribute.String("task_id", env.TaskID), attribute.String("kind", string(env.Kind)))
	defer span.End()
	rt.metrics.IncCounter(ctx, "mail.envelope.processed", attribute.String("kind", string(env.Kind)))

	local, remote := rt.splitRecipients(env)
	if len(local) == 0 && len(remote) == 0 {
		rt.forceTaskError(env.TaskID, fmt.Sprintf("envelope %s has no resolvable recipient", env.ID))
		return
	}
	for _, name := range local {
		rt.deliverToAgent(ctx, env, name)
	}
	for _, name := range remote {
		rt.dispatchRemote(ctx, env, name)
	}
	if env.Kind == message.KindTaskComplete {
		rt.completeTask(env)
	}
}

// splitRecipients resolves an envelope's target names into local agent names
// (bare, with any "@localSwarm" suffix stripped) and remote-qualified names
// left untouched for RemoteFunc. The reserved "all" expands only to local
// agents — fanout to peer swarms is a distinct tool (send_interswarm_broadcast),
// never implicit in "all" (spec.md §4.4 "Fanout", §4.7).
func (rt *Runtime) splitRecipients(env *message.Envelope) (local, remote []string) {
	resolve := func(r message.Address) {
		if r.IsRemote(rt.localSwarm) {
			remote = append(remote, r.Name)
			return
		}
		name, _, _ := r.Local()
		local = append(local, name)
	}
	switch env.Kind {
	case message.KindRequest, message.KindResponse:
		resolve(env.Recipient)
	default:
		for _, r := range env.Recipients {
			if r.IsAll() {
				rt.mu.Lock()
				for name := range rt.agents {
					local = append(local, name)
				}
				rt.mu.Unlock()
				continue
			}
			resolve(r)
		}
	}
	return local, remote
}

// dispatchRemote hands env off to the interswarm router. Without a wired
// RemoteFunc, a remote-qualified recipient is indistinguishable from an
// unknown local one and gets the same ::router_error:: treatment.
func (rt *Runtime) dispatchRemote(ctx context.Context, env *message.Envelope, recipientName string) {
	ts := rt.taskOrNil(env.TaskID)
	if ts == nil {
		return
	}
	if rt.opts.remote == nil {
		rt.replyRouterError(ts, env.Sender, fmt.Sprintf("no interswarm router configured for remote recipient %q", recipientName))
		return
	}
	if err := rt.opts.remote(ctx, env, recipientName); err != nil {
		rt.replyRouterError(ts, env.Sender, err.Error())
	}
}

func (rt *Runtime) deliverToAgent(ctx context.Context, env *message.Envelope, name string) {
	rt.mu.Lock()
	ts := rt.tasks[env.TaskID]
	ag, exists := rt.agents[name]
	rt.mu.Unlock()
	if ts == nil {
		rt.forceTaskError(env.TaskID, fmt.Sprintf("envelope for unknown task %s", env.TaskID))
		return
	}
	if !exists {
		rt.replyRouterError(ts, env.Sender, fmt.Sprintf("unknown local recipient %q", name))
		return
	}

	recipientAddr := message.Agent(name)
	rendered := message.RenderForAgent(env, recipientAddr)
	// A response correlates to a request the recipient itself issued, so it
	// reaches the agent as a tool result (spec.md line 136), not a fresh ask;
	// everything else (a brand-new request, a broadcast, an interrupt) reads
	// as "user" so the agent can tell the difference.
	role := "user"
	if env.Kind == message.KindResponse {
		role = "tool"
	}
	ts.appendHistory(name, HistoryEntry{Role: role, Content: rendered})
	ts.events.append(env.TaskID, EventNewMessage, fmt.Sprintf("%s -> %s: %s", env.Sender.Name, name, env.Subject), map[string]any{
		"envelope_id": env.ID,
		"kind":        string(env.Kind),
	})

	text, calls, err := ag.Fn(ctx, ts.historySnapshot(name))
	if err != nil {
		telemetry.Error(ctx, err, "agent invocation failed", telemetry.KV{K: "agent", V: name}, telemetry.KV{K: "task_id", V: env.TaskID})
		ts.events.append(env.TaskID, EventAgentError, err.Error(), map[string]any{"agent": name})
		errEnv, buildErr := message.SystemError(env.TaskID, recipientAddr, message.SubjectAgentError, err.Error())
		if buildErr == nil {
			rt.Submit(errEnv)
		}
		return
	}

	ts.appendHistory(name, HistoryEntry{Role: "assistant", Content: text})

	replyToRequestID := ""
	switch env.Kind {
	case message.KindRequest:
		replyToRequestID = env.ID
	case message.KindBroadcast:
		replyToRequestID = env.BroadcastID
	}

	for _, call := range calls {
		rt.dispatchToolCall(ctx, ts, ag, recipientAddr, env.TaskID, replyToRequestID, call)
	}
}

func (rt *Runtime) dispatchToolCall(ctx context.Context, ts *taskState, ag *AgentDescriptor, caller message.Address, taskID, replyToRequestID string, call ToolCall) {
	ts.events.append(taskID, EventToolCall, call.Name, map[string]any{"agent": caller.Name, "call_id": call.ID})

	if mailtools.IsBuiltin(mailtools.Name(call.Name)) {
		result := mailtools.Convert(mailtools.Call{ID: call.ID, Name: mailtools.Name(call.Name), Args: call.Args}, caller, taskID, mailtools.Options{
			CommTargets:      ag.commTargetSet(),
			ReplyToRequestID: replyToRequestID,
			CanCompleteTask:  ag.CanCompleteTasks,
		})
		rt.applyMailResult(ts, caller, call, result)
		return
	}

	if rt.actionExec != nil && rt.actionExec.Has(call.Name) && slices.Contains(ag.Actions, call.Name) {
		outcome := rt.actionExec.Execute(ctx, action.Call{ID: call.ID, Name: call.Name, Args: call.Args}, caller, taskID, replyToRequestID)
		rt.applyActionOutcome(ts, caller, call, outcome)
		return
	}

	errEnv, buildErr := message.SystemError(taskID, caller, message.SubjectToolCallError, fmt.Sprintf("unknown tool %q", call.Name))
	if buildErr == nil {
		ts.appendHistory(caller.Name, HistoryEntry{Role: "tool", Content: errEnv.Body, ToolCallID: call.ID, Name: call.Name})
		rt.Submit(errEnv)
	}
}

func (rt *Runtime) applyMailResult(ts *taskState, caller message.Address, call ToolCall, result mailtools.Result) {
	switch result.Effect {
	case mailtools.EffectEnqueue:
		ts.appendHistory(caller.Name, HistoryEntry{Role: "tool", Content: result.Envelope.Body, ToolCallID: call.ID, Name: call.Name})
		rt.Submit(result.Envelope)
	case mailtools.EffectAcknowledge:
		ts.appendHistory(caller.Name, HistoryEntry{Role: "system", Content: result.MemoryNote, ToolCallID: call.ID, Name: call.Name})
	case mailtools.EffectIgnore:
		// no outbound envelope, no memory write
	case mailtools.EffectAwait:
		ts.appendHistory(caller.Name, HistoryEntry{Role: "system", Content: "awaiting next message", ToolCallID: call.ID, Name: call.Name})
	case mailtools.EffectDiscover:
		if rt.opts.discover != nil {
			rt.opts.discover(context.Background(), ts.id, result.DiscoveryURLs)
		}
		ts.appendHistory(caller.Name, HistoryEntry{Role: "system", Content: "discovery requested", ToolCallID: call.ID, Name: call.Name})
	}
}

func (rt *Runtime) applyActionOutcome(ts *taskState, caller message.Address, call ToolCall, outcome action.Outcome) {
	switch outcome.Kind {
	case action.OutcomeResponse:
		ts.appendHistory(caller.Name, HistoryEntry{Role: "tool", Content: outcome.Envelope.Body, ToolCallID: call.ID, Name: call.Name})
		ts.events.append(ts.id, EventActionComplete, call.Name, map[string]any{"agent": caller.Name})
		rt.Submit(outcome.Envelope)
	case action.OutcomeBreakpoint:
		rt.mu.Lock()
		stashed := rt.queue.removeTask(ts.id)
		rt.mu.Unlock()
		ts.mu.Lock()
		ts.breakpoint = &breakpointStash{caller: caller.Name, action: call.Name, args: call.Args, stashedQueue: stashed}
		ts.mu.Unlock()
		ts.setStatus(StatusPaused)
		argsJSON, _ := json.Marshal(outcome.Pending.Args)
		ts.events.append(ts.id, EventBreakpointToolCall, call.Name, map[string]any{
			"agent": caller.Name,
			"args":  string(argsJSON),
		})
	}
}

func (rt *Runtime) replyRouterError(ts *taskState, to message.Address, reason string) {
	env, err := message.SystemError(ts.id, to, message.SubjectRouterError, reason)
	if err == nil {
		rt.Submit(env)
	}
}

// forceTaskError implements the fatal "queue invariant violation" path of
// spec.md §4.4: it marks the task errored, records a task_error event, and
// resolves the pending future with reason as the body and a
// QueueInvariantError. No task_complete envelope is enqueued.
func (rt *Runtime) forceTaskError(taskID, reason string) {
	ts := rt.taskOrNil(taskID)
	if ts == nil {
		return
	}
	if ts.resolved() {
		return
	}
	ts.setStatus(StatusErrored)
	ts.events.append(taskID, EventTaskError, reason, nil)
	ts.resolve(reason, &QueueInvariantError{TaskID: taskID, Reason: reason})
}

// completeTask implements spec.md §4.4 "Task completion".
func (rt *Runtime) completeTask(env *message.Envelope) {
	ts := rt.taskOrNil(env.TaskID)
	if ts == nil {
		return
	}
	if ts.isTerminal() {
		// invariant 2 / boundary behavior: re-emitted task_complete is
		// logged and discarded, no new resolution, no stream event.
		telemetry.Warn(context.Background(), "duplicate task_complete ignored", telemetry.KV{K: "task_id", V: env.TaskID}, telemetry.KV{K: "envelope_id", V: env.ID})
		return
	}
	ts.setStatus(StatusCompleted)
	ts.events.append(env.TaskID, EventTaskComplete, env.Body, map[string]any{"sender": env.Sender.Name})
	ts.resolve(env.Body, nil)
	telemetry.Info(context.Background(), "task completed", telemetry.KV{K: "task_id", V: env.TaskID})
	rt.metrics.IncCounter(context.Background(), "mail.task.completed")

	if rt.opts.onComplete == nil || ownerSwarmName(ts.owner) != rt.localSwarm {
		return
	}
	var others []string
	for c := range ts.contributorSet() {
		if c != rt.localSwarm {
			others = append(others, c)
		}
	}
	if len(others) > 0 {
		rt.opts.onComplete(context.Background(), env.TaskID, env.Body, others)
	}
}

// ownerSwarmName extracts the swarm name suffix from an owner identifier of
// the form "user:name@swarm" or "swarm:name@swarm".
func ownerSwarmName(owner string) string {
	i := strings.LastIndexByte(owner, '@')
	if i < 0 {
		return owner
	}
	return owner[i+1:]
}
