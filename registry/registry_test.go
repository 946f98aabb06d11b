package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterGetList(t *testing.T) {
	r := New(Options{LocalSwarm: "local"})
	_, err := r.Register("north", "https://north.example/", "https://north.example/health", "", true, map[string]string{"region": "north"})
	require.NoError(t, err)

	ep, ok := r.Get("north")
	require.True(t, ok)
	assert.Equal(t, "https://north.example/", ep.BaseURL)
	assert.True(t, ep.Volatile)

	list := r.List()
	assert.Len(t, list, 1)
}

func TestUnregisterRemovesEntry(t *testing.T) {
	r := New(Options{LocalSwarm: "local"})
	_, err := r.Register("north", "https://north.example/", "", "", true, nil)
	require.NoError(t, err)
	require.NoError(t, r.Unregister("north"))

	_, ok := r.Get("north")
	assert.False(t, ok)
}

func TestUnregisterUnknownSwarmErrors(t *testing.T) {
	r := New(Options{LocalSwarm: "local"})
	err := r.Unregister("ghost")
	assert.Error(t, err)
}

func TestRegisterNonVolatileGeneratesEnvVarReference(t *testing.T) {
	r := New(Options{LocalSwarm: "local"})
	ep, err := r.Register("north-star", "https://north.example/", "", "literal-token", false, nil)
	require.NoError(t, err)
	assert.Equal(t, "${SWARM_AUTH_TOKEN_NORTH_STAR}", ep.AuthTokenRef)
}

func TestResolveTokenFromEnv(t *testing.T) {
	r := New(Options{LocalSwarm: "local"})
	_, err := r.Register("north", "https://north.example/", "", "literal-token", false, nil)
	require.NoError(t, err)

	t.Setenv("SWARM_AUTH_TOKEN_NORTH", "resolved-secret")
	tok, err := r.ResolveToken("north")
	require.NoError(t, err)
	assert.Equal(t, "resolved-secret", tok)
}

func TestResolveTokenMissingEnvErrors(t *testing.T) {
	r := New(Options{LocalSwarm: "local"})
	_, err := r.Register("north", "https://north.example/", "", "literal-token", false, nil)
	require.NoError(t, err)

	_, err = r.ResolveToken("north")
	assert.Error(t, err)
}

func TestResolveTokenVolatileIsLiteral(t *testing.T) {
	r := New(Options{LocalSwarm: "local"})
	_, err := r.Register("north", "https://north.example/", "", "raw-token", true, nil)
	require.NoError(t, err)

	tok, err := r.ResolveToken("north")
	require.NoError(t, err)
	assert.Equal(t, "raw-token", tok)
}

func TestSaveLoadRoundTripDropsVolatile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")

	r := New(Options{LocalSwarm: "local", LocalBaseURL: "https://local.example/", PersistPath: path})
	_, err := r.Register("north", "https://north.example/", "https://north.example/health", "persisted-token", false, map[string]string{"region": "north"})
	require.NoError(t, err)
	_, err = r.Register("ephemeral", "https://eph.example/", "", "", true, nil)
	require.NoError(t, err)

	r2 := New(Options{LocalSwarm: "local", LocalBaseURL: "https://local.example/", PersistPath: path})
	require.NoError(t, r2.Load())

	_, ok := r2.Get("ephemeral")
	assert.False(t, ok, "volatile entries must not survive save/load")

	ep, ok := r2.Get("north")
	require.True(t, ok)
	assert.Equal(t, "https://north.example/", ep.BaseURL)
	assert.Equal(t, "${SWARM_AUTH_TOKEN_NORTH}", ep.AuthTokenRef)
	assert.False(t, ep.Volatile)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	r := New(Options{LocalSwarm: "local", PersistPath: filepath.Join(t.TempDir(), "missing.json")})
	assert.NoError(t, r.Load())
}

func TestDiscoverNeverOverwritesPersistedEntry(t *testing.T) {
	dir := t.TempDir()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"swarm_name":"north","base_url":"https://discovered.example/"}]`))
	}))
	defer server.Close()

	r := New(Options{LocalSwarm: "local", PersistPath: filepath.Join(dir, "registry.json")})
	_, err := r.Register("north", "https://persisted.example/", "", "", false, nil)
	require.NoError(t, err)

	require.NoError(t, r.Discover(context.Background(), []string{server.URL}))

	ep, ok := r.Get("north")
	require.True(t, ok)
	assert.Equal(t, "https://persisted.example/", ep.BaseURL, "discovery must not overwrite a persisted entry")
}

func TestDiscoverRegistersVolatileEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"swarm_name":"south","base_url":"https://south.example/"}]`))
	}))
	defer server.Close()

	r := New(Options{LocalSwarm: "local"})
	require.NoError(t, r.Discover(context.Background(), []string{server.URL}))

	ep, ok := r.Get("south")
	require.True(t, ok)
	assert.True(t, ep.Volatile)
}

func TestHealthCheckInactivatesAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := New(Options{LocalSwarm: "local", HealthFailureThreshold: 2})
	_, err := r.Register("north", server.URL, server.URL, "", true, nil)
	require.NoError(t, err)

	ctx := context.Background()
	r.checkOne(ctx, "north", server.URL)
	ep, _ := r.Get("north")
	assert.True(t, ep.Active, "one failure must not yet inactivate")

	r.checkOne(ctx, "north", server.URL)
	ep, _ = r.Get("north")
	assert.False(t, ep.Active, "threshold consecutive failures must inactivate")
}

func TestHealthCheckRecoversOnSuccess(t *testing.T) {
	failing := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := New(Options{LocalSwarm: "local", HealthFailureThreshold: 1})
	_, err := r.Register("north", server.URL, server.URL, "", true, nil)
	require.NoError(t, err)

	ctx := context.Background()
	r.checkOne(ctx, "north", server.URL)
	ep, _ := r.Get("north")
	require.False(t, ep.Active)

	failing = false
	r.checkOne(ctx, "north", server.URL)
	ep, _ = r.Get("north")
	assert.True(t, ep.Active)
	assert.False(t, ep.LastSeen.IsZero())
}

func TestEnvVarNameSanitizesNonAlnum(t *testing.T) {
	assert.Equal(t, "SWARM_AUTH_TOKEN_NORTH_STAR", envVarName("north-star"))
	assert.Equal(t, "SWARM_AUTH_TOKEN_A1", envVarName("a1"))
}

func TestStartStopHealthIsIdempotent(t *testing.T) {
	r := New(Options{LocalSwarm: "local", HealthInterval: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartHealth(ctx)
	r.StartHealth(ctx) // second call must be a no-op, not a second goroutine
	r.StopHealth()
}
