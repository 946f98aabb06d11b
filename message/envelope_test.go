package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestConstructAssignsIDAndTimestamp(t *testing.T) {
	env, err := Request("", Agent("supervisor"), Agent("weather"), "q", "forecast?")
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)
	assert.NotEmpty(t, env.TaskID)
	assert.False(t, env.Timestamp.IsZero())
	assert.Equal(t, env.ID, env.RequestID)
}

func TestBroadcastRequiresNonEmptyRecipients(t *testing.T) {
	_, err := Broadcast("t1", Agent("supervisor"), nil, "fyi", "body")
	require.Error(t, err)
	var schemaErr *SchemaError
	assert.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, KindBroadcast, schemaErr.Kind)
}

func TestInterruptRequiresNonEmptyRecipients(t *testing.T) {
	_, err := Interrupt("t1", Agent("supervisor"), []Address{}, "subj", "body")
	require.Error(t, err)
}

func TestTaskCompleteForcesAllRecipient(t *testing.T) {
	env, err := TaskComplete("t1", Agent("supervisor"), "done")
	require.NoError(t, err)
	require.Len(t, env.Recipients, 1)
	assert.True(t, env.Recipients[0].IsAll())
}

func TestConstructRejectsMissingSender(t *testing.T) {
	env := &Envelope{TaskID: "t1", Kind: KindRequest, Recipient: Agent("weather")}
	err := validate(env)
	require.Error(t, err)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "sender", schemaErr.Field)
}

func TestAddressLocalSplitsRemoteName(t *testing.T) {
	a := Agent("consultant@north")
	local, swarm, ok := a.Local()
	require.True(t, ok)
	assert.Equal(t, "consultant", local)
	assert.Equal(t, "north", swarm)
}

func TestAddressLocalNoSuffix(t *testing.T) {
	a := Agent("weather")
	local, swarm, ok := a.Local()
	assert.False(t, ok)
	assert.Equal(t, "weather", local)
	assert.Empty(t, swarm)
}

func TestAddressIsRemote(t *testing.T) {
	a := Agent("consultant@north")
	assert.True(t, a.IsRemote("south"))
	assert.False(t, a.IsRemote("north"))
	assert.False(t, Agent("weather").IsRemote("south"))
}

func TestIsAllReservedName(t *testing.T) {
	assert.True(t, Agent(All).IsAll())
	assert.False(t, Agent("weather").IsAll())
	assert.False(t, User(All).IsAll())
}
