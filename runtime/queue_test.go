package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charonlabs/mail/message"
)

func TestTierOrdering(t *testing.T) {
	sys, _ := message.SystemError("t1", message.Agent("a"), message.SubjectRouterError, "x")
	userReq, _ := message.Request("t1", message.User("u"), message.Agent("a"), "s", "b")
	interrupt, _ := message.Interrupt("t1", message.Agent("a"), []message.Address{message.Agent("b")}, "s", "b")
	broadcast, _ := message.Broadcast("t1", message.Agent("a"), []message.Address{message.Agent(message.All)}, "s", "b")
	agentReq, _ := message.Request("t1", message.Agent("a"), message.Agent("b"), "s", "b")

	assert.Equal(t, 1, tier(sys))
	assert.Equal(t, 2, tier(userReq))
	assert.Equal(t, 3, tier(interrupt))
	assert.Equal(t, 4, tier(broadcast))
	assert.Equal(t, 5, tier(agentReq))
}

func TestPriorityQueueFIFOWithinTier(t *testing.T) {
	pq := newPriorityQueue()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := &message.Envelope{ID: "b", TaskID: "t1", Kind: message.KindRequest, Sender: message.Agent("a"), Recipient: message.Agent("x"), Timestamp: base}
	second := &message.Envelope{ID: "a", TaskID: "t1", Kind: message.KindRequest, Sender: message.Agent("a"), Recipient: message.Agent("x"), Timestamp: base.Add(time.Second)}
	pq.push(second)
	pq.push(first)

	out := pq.popEligible(func(string) bool { return false })
	require.NotNil(t, out)
	assert.Equal(t, "b", out.ID, "earlier timestamp dequeues first regardless of push order")
}

func TestPriorityQueueTiesBreakOnID(t *testing.T) {
	pq := newPriorityQueue()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	envA := &message.Envelope{ID: "aaa", TaskID: "t1", Kind: message.KindRequest, Sender: message.Agent("a"), Recipient: message.Agent("x"), Timestamp: ts}
	envB := &message.Envelope{ID: "bbb", TaskID: "t1", Kind: message.KindRequest, Sender: message.Agent("a"), Recipient: message.Agent("x"), Timestamp: ts}
	pq.push(envB)
	pq.push(envA)

	out := pq.popEligible(func(string) bool { return false })
	assert.Equal(t, "aaa", out.ID)
}

func TestPopEligibleSkipsPausedTasks(t *testing.T) {
	pq := newPriorityQueue()
	paused, _ := message.Interrupt("paused-task", message.Agent("a"), []message.Address{message.Agent("b")}, "s", "b")
	runnable, _ := message.Request("runnable-task", message.Agent("a"), message.Agent("b"), "s", "b")
	pq.push(paused)
	pq.push(runnable)

	out := pq.popEligible(func(taskID string) bool { return taskID == "paused-task" })
	require.NotNil(t, out)
	assert.Equal(t, "runnable-task", out.TaskID)

	// the paused envelope must still be in the queue, unaffected by the skip.
	again := pq.popEligible(func(string) bool { return false })
	require.NotNil(t, again)
	assert.Equal(t, "paused-task", again.TaskID)
}

func TestRemoveAndRestoreTaskPreservesOrder(t *testing.T) {
	pq := newPriorityQueue()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e1 := &message.Envelope{ID: "1", TaskID: "t1", Kind: message.KindRequest, Sender: message.Agent("a"), Recipient: message.Agent("x"), Timestamp: ts}
	e2 := &message.Envelope{ID: "2", TaskID: "t1", Kind: message.KindRequest, Sender: message.Agent("a"), Recipient: message.Agent("x"), Timestamp: ts.Add(time.Second)}
	other := &message.Envelope{ID: "3", TaskID: "t2", Kind: message.KindRequest, Sender: message.Agent("a"), Recipient: message.Agent("x"), Timestamp: ts}
	pq.push(e2)
	pq.push(e1)
	pq.push(other)

	removed := pq.removeTask("t1")
	require.Len(t, removed, 2)
	assert.Equal(t, "1", removed[0].ID)
	assert.Equal(t, "2", removed[1].ID)

	pq.restoreTask(removed)
	first := pq.popEligible(func(string) bool { return false })
	assert.Equal(t, "1", first.ID)
}
