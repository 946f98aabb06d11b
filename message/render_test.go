package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderForAgentIsDeterministic(t *testing.T) {
	env := &Envelope{
		ID:        "fixed-id",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		TaskID:    "task-1",
		Kind:      KindRequest,
		Sender:    Agent("supervisor"),
		Recipient: Agent("weather"),
		Subject:   "q",
		Body:      "forecast?",
		RequestID: "fixed-id",
	}
	a := RenderForAgent(env, env.Recipient)
	b := RenderForAgent(env, env.Recipient)
	require.Equal(t, a, b)
	assert.Contains(t, a, "<subject>q</subject>")
	assert.Contains(t, a, "2026-01-02T03:04:05Z")
	assert.Contains(t, a, `<from kind="agent">supervisor</from>`)
	assert.Contains(t, a, `<to kind="agent">weather</to>`)
}

func TestRenderForAgentEscapesMarkup(t *testing.T) {
	env := &Envelope{
		Timestamp: time.Now().UTC(),
		Sender:    Agent("a"),
		Recipient: Agent("b"),
		Subject:   "<script>",
		Body:      "a & b",
	}
	out := RenderForAgent(env, env.Recipient)
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, "a &amp; b")
}

func TestIsSystemSubject(t *testing.T) {
	assert.True(t, IsSystemSubject(SubjectToolCallError))
	assert.True(t, IsSystemSubject(SubjectRouterError))
	assert.False(t, IsSystemSubject("fyi"))
}
