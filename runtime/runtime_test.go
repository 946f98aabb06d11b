package runtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charonlabs/mail/action"
	"github.com/charonlabs/mail/message"
)

func sendArgs(target, subject, body string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"target": target, "subject": subject, "body": body})
	return raw
}

// TestSingleSwarmRequestResponse implements spec.md §8 scenario 1: a
// supervisor asks weather for a forecast and completes the task with its
// answer.
func TestSingleSwarmRequestResponse(t *testing.T) {
	supervisor := AgentDescriptor{
		Name: "supervisor", CommTargets: []string{"weather"}, CanCompleteTasks: true, EnableEntrypoint: true,
		Fn: func(ctx context.Context, history []HistoryEntry) (string, []ToolCall, error) {
			last := history[len(history)-1]
			if last.Role == "user" {
				return "", []ToolCall{{ID: "c1", Name: "send_request", Args: sendArgs("weather", "q", "forecast?")}}, nil
			}
			return "", []ToolCall{{ID: "c2", Name: "task_complete", Args: mustJSON(map[string]string{"finish_message": "It will be sunny."})}}, nil
		},
	}
	weather := AgentDescriptor{
		Name: "weather", CommTargets: []string{"supervisor"},
		Fn: func(ctx context.Context, history []HistoryEntry) (string, []ToolCall, error) {
			return "", []ToolCall{{ID: "c3", Name: "send_response", Args: sendArgs("supervisor", "a", "sunny")}}, nil
		},
	}
	exec, err := action.NewExecutor(nil)
	require.NoError(t, err)
	rt, err := NewRuntime("local", []AgentDescriptor{supervisor, weather}, exec)
	require.NoError(t, err)
	defer rt.Shutdown(time.Second)

	env, err := message.Request("", message.User("caller"), message.Agent("supervisor"), "q", "forecast?")
	require.NoError(t, err)

	finish, err := rt.SubmitAndWait(context.Background(), env, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "It will be sunny.", finish)
}

func mustJSON(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

// TestBroadcastWithAcknowledge implements spec.md §8 scenario 2.
func TestBroadcastWithAcknowledge(t *testing.T) {
	supervisor := AgentDescriptor{
		Name: "supervisor", CommTargets: []string{"a", "b", "c"}, CanCompleteTasks: true, EnableEntrypoint: true,
		Fn: func(ctx context.Context, history []HistoryEntry) (string, []ToolCall, error) {
			last := history[len(history)-1]
			if last.Role == "user" {
				return "", []ToolCall{{ID: "c1", Name: "send_broadcast", Args: mustJSON(map[string]string{"subject": "fyi", "body": "deployment at 5pm"})}}, nil
			}
			return "", []ToolCall{{ID: "c2", Name: "task_complete", Args: mustJSON(map[string]string{"finish_message": "done"})}}, nil
		},
	}
	agentA := AgentDescriptor{Name: "a", CommTargets: []string{"supervisor"}, Fn: func(ctx context.Context, h []HistoryEntry) (string, []ToolCall, error) {
		return "", []ToolCall{{ID: "ca", Name: "acknowledge_broadcast", Args: mustJSON(map[string]string{"note": "saved"})}}, nil
	}}
	agentB := AgentDescriptor{Name: "b", CommTargets: []string{"supervisor"}, Fn: func(ctx context.Context, h []HistoryEntry) (string, []ToolCall, error) {
		return "", []ToolCall{{ID: "cb", Name: "ignore_broadcast"}}, nil
	}}
	agentC := AgentDescriptor{Name: "c", CommTargets: []string{"supervisor"}, Fn: func(ctx context.Context, h []HistoryEntry) (string, []ToolCall, error) {
		return "", []ToolCall{{ID: "cc", Name: "send_response", Args: sendArgs("supervisor", "ack", "ok")}}, nil
	}}

	exec, err := action.NewExecutor(nil)
	require.NoError(t, err)
	rt, err := NewRuntime("local", []AgentDescriptor{supervisor, agentA, agentB, agentC}, exec)
	require.NoError(t, err)
	defer rt.Shutdown(time.Second)

	env, err := message.Request("", message.User("caller"), message.Agent("supervisor"), "q", "go")
	require.NoError(t, err)
	finish, err := rt.SubmitAndWait(context.Background(), env, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", finish)
}

// TestPriorityPreemption implements spec.md §8 scenario 3: an interrupt
// dequeues before a same-tick request.
func TestPriorityPreemption(t *testing.T) {
	req, err := message.Request("t1", message.Agent("a"), message.Agent("b"), "r", "body")
	require.NoError(t, err)
	interrupt, err := message.Interrupt("t1", message.Agent("a"), []message.Address{message.Agent("b")}, "i", "body")
	require.NoError(t, err)

	pq := newPriorityQueue()
	pq.push(req)
	pq.push(interrupt)

	first := pq.popEligible(func(string) bool { return false })
	require.NotNil(t, first)
	assert.Equal(t, message.KindInterrupt, first.Kind)
}

// TestBreakpointPauseAndResume implements spec.md §8 scenario 5.
func TestBreakpointPauseAndResume(t *testing.T) {
	supervisor := AgentDescriptor{
		Name: "supervisor", CommTargets: []string{"weather"}, CanCompleteTasks: true, EnableEntrypoint: true,
		Fn: func(ctx context.Context, history []HistoryEntry) (string, []ToolCall, error) {
			last := history[len(history)-1]
			if last.Role == "user" {
				return "", []ToolCall{{ID: "c1", Name: "send_request", Args: sendArgs("weather", "q", "forecast?")}}, nil
			}
			return "", []ToolCall{{ID: "c2", Name: "task_complete", Args: mustJSON(map[string]string{"finish_message": "75F sunny"})}}, nil
		},
	}
	weatherCalled := false
	weather := AgentDescriptor{
		Name: "weather", CommTargets: []string{"supervisor"}, Actions: []string{"fetch_forecast"},
		Fn: func(ctx context.Context, history []HistoryEntry) (string, []ToolCall, error) {
			last := history[len(history)-1]
			if last.Role == "user" && !weatherCalled {
				weatherCalled = true
				return "", []ToolCall{{ID: "cb", Name: "fetch_forecast", Args: mustJSON(map[string]string{"location": "NYC"})}}, nil
			}
			return "", []ToolCall{{ID: "cc", Name: "send_response", Args: sendArgs("supervisor", "a", "75F sunny")}}, nil
		},
	}

	exec, err := action.NewExecutor([]action.Action{{
		Name:       "fetch_forecast",
		Breakpoint: true,
	}})
	require.NoError(t, err)
	rt, err := NewRuntime("local", []AgentDescriptor{supervisor, weather}, exec)
	require.NoError(t, err)
	defer rt.Shutdown(time.Second)

	env, err := message.Request("", message.User("caller"), message.Agent("supervisor"), "q", "forecast?")
	require.NoError(t, err)

	require.NoError(t, rt.Submit(env))

	require.Eventually(t, func() bool {
		ts := rt.taskOrNil(env.TaskID)
		return ts != nil && ts.isPaused()
	}, 2*time.Second, 10*time.Millisecond)

	events, _, err := rt.EventsFor(env.TaskID)
	require.NoError(t, err)
	bpCount := 0
	for _, e := range events {
		if e.Kind == EventBreakpointToolCall {
			bpCount++
		}
	}
	assert.Equal(t, 1, bpCount)

	err = rt.Resume(context.Background(), env.TaskID, ResumeBreakpointCall, nil, map[string]string{
		"breakpoint_tool_caller":      "weather",
		"breakpoint_tool_call_result": `{"content":"75F sunny"}`,
	})
	require.NoError(t, err)

	ts := rt.taskOrNil(env.TaskID)
	require.NotNil(t, ts)
	select {
	case <-ts.done:
		assert.Equal(t, "75F sunny", ts.result.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not complete after resume")
	}

	history := ts.historySnapshot("weather")
	toolResults := 0
	for _, h := range history {
		if h.Role == "tool" && h.Content == `{"content":"75F sunny"}` {
			toolResults++
		}
	}
	assert.Equal(t, 1, toolResults)
}

// TestCancelRejectsFuture verifies Cancel's Cancelled-error contract.
func TestCancelRejectsFuture(t *testing.T) {
	blocked := make(chan struct{})
	supervisor := AgentDescriptor{
		Name: "supervisor", CanCompleteTasks: true, EnableEntrypoint: true,
		Fn: func(ctx context.Context, h []HistoryEntry) (string, []ToolCall, error) {
			<-blocked
			return "", nil, nil
		},
	}
	exec, err := action.NewExecutor(nil)
	require.NoError(t, err)
	rt, err := NewRuntime("local", []AgentDescriptor{supervisor}, exec)
	require.NoError(t, err)
	defer func() {
		close(blocked)
		rt.Shutdown(time.Second)
	}()

	env, err := message.Request("", message.User("caller"), message.Agent("supervisor"), "q", "go")
	require.NoError(t, err)
	require.NoError(t, rt.Submit(env))

	time.Sleep(20 * time.Millisecond)
	rt.Cancel(env.TaskID)

	ts := rt.taskOrNil(env.TaskID)
	require.NotNil(t, ts)
	require.True(t, ts.resolved())
	var cancelled *CancelledError
	assert.ErrorAs(t, ts.result.Err, &cancelled)
}
