package runtime

import (
	"encoding/json"
	"sync"

	"github.com/charonlabs/mail/message"
)

// breakpointStash is the per-task record stashed when an action declared as
// a breakpoint is invoked (spec.md §4.3). It carries everything resume()
// needs to restore dispatch: the queued envelopes removed from the priority
// queue and the identity of the call awaiting a result.
type breakpointStash struct {
	caller       string // agent name
	action       string
	args         json.RawMessage
	stashedQueue []*message.Envelope
}

// futureResult is the terminal outcome of submit_and_wait (spec.md §4.4).
type futureResult struct {
	Body string
	Err  error
}

// taskState is the runtime's bookkeeping for one task_id (spec.md §3,
// "Task state").
type taskState struct {
	id string

	mu         sync.Mutex
	status     TaskStatus
	owner      string
	contributors map[string]struct{}
	histories  map[string][]HistoryEntry
	breakpoint *breakpointStash

	events *eventRing

	done        chan struct{}
	result      futureResult
	resolveOnce sync.Once
}

// newTaskState builds a fresh task. initialContributor is the bare swarm
// name that owns the task at creation time; Contributors is always a set of
// bare swarm names (spec.md §4.7 "task_contributors"), distinct from owner,
// which retains the fuller "kind:name@swarm" identity.
func newTaskState(id, owner, initialContributor string, eventCapacity int) *taskState {
	return &taskState{
		id:           id,
		status:       StatusRunning,
		owner:        owner,
		contributors: map[string]struct{}{initialContributor: {}},
		histories:    make(map[string][]HistoryEntry),
		events:       newEventRing(eventCapacity),
		done:         make(chan struct{}),
	}
}

func (ts *taskState) appendHistory(agent string, entry HistoryEntry) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.histories[agent] = append(ts.histories[agent], entry)
}

func (ts *taskState) historySnapshot(agent string) []HistoryEntry {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	h := ts.histories[agent]
	out := make([]HistoryEntry, len(h))
	copy(out, h)
	return out
}

func (ts *taskState) setStatus(s TaskStatus) {
	ts.mu.Lock()
	ts.status = s
	ts.mu.Unlock()
}

func (ts *taskState) getStatus() TaskStatus {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.status
}

func (ts *taskState) isPaused() bool {
	return ts.getStatus() == StatusPaused
}

func (ts *taskState) isTerminal() bool {
	s := ts.getStatus()
	return s == StatusCompleted || s == StatusErrored
}

func (ts *taskState) addContributor(swarm string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.contributors[swarm] = struct{}{}
}

func (ts *taskState) contributorSet() map[string]struct{} {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make(map[string]struct{}, len(ts.contributors))
	for k := range ts.contributors {
		out[k] = struct{}{}
	}
	return out
}

// resolve fulfills the pending future exactly once; later calls are no-ops
// (spec.md invariant 2: exactly one resolution per task).
func (ts *taskState) resolve(body string, err error) {
	ts.resolveOnce.Do(func() {
		ts.result = futureResult{Body: body, Err: err}
		close(ts.done)
	})
}

func (ts *taskState) resolved() bool {
	select {
	case <-ts.done:
		return true
	default:
		return false
	}
}
