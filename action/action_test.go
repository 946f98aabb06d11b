package action

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charonlabs/mail/message"
)

func TestExecuteUnknownActionProducesToolCallError(t *testing.T) {
	exec, err := NewExecutor(nil)
	require.NoError(t, err)
	out := exec.Execute(context.Background(), Call{Name: "nope"}, message.Agent("weather"), "t1", "req-1")
	require.Equal(t, OutcomeResponse, out.Kind)
	assert.Equal(t, message.SubjectToolCallError, out.Envelope.Subject)
}

func TestExecuteValidatesArgumentsAgainstSchema(t *testing.T) {
	exec, err := NewExecutor([]Action{{
		Name: "fetch_forecast",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"location"},
			"properties": map[string]any{
				"location": map[string]any{"type": "string"},
			},
		},
		Fn: func(ctx context.Context, args json.RawMessage) (any, error) {
			return map[string]string{"content": "75F sunny"}, nil
		},
	}})
	require.NoError(t, err)

	out := exec.Execute(context.Background(), Call{Name: "fetch_forecast", Args: json.RawMessage(`{"location": 5}`)},
		message.Agent("weather"), "t1", "req-1")
	require.Equal(t, OutcomeResponse, out.Kind)
	assert.Equal(t, message.SubjectToolCallError, out.Envelope.Subject)
	assert.Contains(t, out.Envelope.Body, "location")
}

func TestExecuteRunsActionAndReturnsResponse(t *testing.T) {
	exec, err := NewExecutor([]Action{{
		Name: "add",
		Fn: func(ctx context.Context, args json.RawMessage) (any, error) {
			return map[string]int{"sum": 4}, nil
		},
	}})
	require.NoError(t, err)

	out := exec.Execute(context.Background(), Call{Name: "add", Args: json.RawMessage(`{}`)},
		message.Agent("weather"), "t1", "req-1")
	require.Equal(t, OutcomeResponse, out.Kind)
	require.NotNil(t, out.Envelope)
	assert.Equal(t, "req-1", out.Envelope.RequestID)
	assert.Equal(t, "weather", out.Envelope.Recipient.Name)
	assert.JSONEq(t, `{"sum":4}`, out.Envelope.Body)
}

func TestExecuteBreakpointDoesNotRunFn(t *testing.T) {
	called := false
	exec, err := NewExecutor([]Action{{
		Name:       "fetch_forecast",
		Breakpoint: true,
		Fn: func(ctx context.Context, args json.RawMessage) (any, error) {
			called = true
			return nil, nil
		},
	}})
	require.NoError(t, err)

	out := exec.Execute(context.Background(), Call{Name: "fetch_forecast", Args: json.RawMessage(`{"location":"NYC"}`)},
		message.Agent("weather"), "t1", "req-1")
	require.Equal(t, OutcomeBreakpoint, out.Kind)
	assert.False(t, called)
	require.NotNil(t, out.Pending)
	assert.Equal(t, "fetch_forecast", out.Pending.Action)
	assert.Equal(t, "t1", out.Pending.TaskID)
}

func TestExecuteActionErrorProducesToolCallError(t *testing.T) {
	exec, err := NewExecutor([]Action{{
		Name: "flaky",
		Fn: func(ctx context.Context, args json.RawMessage) (any, error) {
			return nil, assert.AnError
		},
	}})
	require.NoError(t, err)

	out := exec.Execute(context.Background(), Call{Name: "flaky"}, message.Agent("weather"), "t1", "req-1")
	require.Equal(t, OutcomeResponse, out.Kind)
	assert.Equal(t, message.SubjectToolCallError, out.Envelope.Subject)
}
