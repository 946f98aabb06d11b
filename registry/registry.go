// Package registry implements the MAIL swarm registry (spec.md §4.6): a
// local directory of known peer swarms combining three concerns —
// persistence of non-volatile entries, liveness tracking via periodic health
// checks, and environment-resolved credentials.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Endpoint is one registry entry (spec.md §3, "Swarm endpoint").
type Endpoint struct {
	SwarmName    string            `json:"swarm_name"`
	BaseURL      string            `json:"base_url"`
	HealthURL    string            `json:"health_url"`
	AuthTokenRef string            `json:"auth_token_ref,omitempty"`
	LastSeen     time.Time         `json:"last_seen,omitempty"`
	Active       bool              `json:"active"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Volatile     bool              `json:"-"`

	consecutiveFailures int
}

// clone returns a defensive copy so callers cannot mutate registry state
// through a returned pointer.
func (e *Endpoint) clone() *Endpoint {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Options configures a Registry at construction.
type Options struct {
	// LocalSwarm names this instance, used to derive env var names and
	// build persistence documents.
	LocalSwarm string
	// LocalBaseURL is advertised to peers that discover this swarm.
	LocalBaseURL string
	// PersistPath is the file non-volatile entries are written to. Empty
	// disables persistence.
	PersistPath string
	// HealthInterval is the polling cadence; defaults to 30s (spec.md §4.6
	// "recommended: 30 s").
	HealthInterval time.Duration
	// HealthFailureThreshold is the number of consecutive failures before a
	// peer is marked inactive; defaults to 3 (spec.md §4.6 "recommended: 3").
	HealthFailureThreshold int
	// HTTPClient is the client used for health checks and discovery; a
	// default with a 10s timeout is used if nil.
	HTTPClient *http.Client
}

// Registry is the local directory of peer swarms.
type Registry struct {
	opts Options

	mu        sync.RWMutex
	endpoints map[string]*Endpoint

	healthMu sync.Mutex
	healthCh chan struct{}
	healthWG sync.WaitGroup

	client *client
}

// New builds a Registry. It does not load from disk; call Load explicitly
// at startup (spec.md §4.6 persistence is reload-at-startup, not implicit).
func New(opts Options) *Registry {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 30 * time.Second
	}
	if opts.HealthFailureThreshold <= 0 {
		opts.HealthFailureThreshold = 3
	}
	return &Registry{
		opts:      opts,
		endpoints: make(map[string]*Endpoint),
		client:    newClient(opts.HTTPClient),
	}
}

// envVarName is the deterministic reference name for a persisted peer's
// token (spec.md §6.5: "SWARM_AUTH_TOKEN_<PEER_UPPER>").
func envVarName(peerSwarm string) string {
	upper := strings.ToUpper(peerSwarm)
	upper = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, upper)
	return "SWARM_AUTH_TOKEN_" + upper
}

// Register adds or replaces an entry. When volatile is false and token is a
// literal (non-"${...}") value, the registry generates the deterministic env
// var reference, stores the reference (never the literal) in the in-memory
// entry used for persistence, and expects the literal to already be present
// in the process environment under that name (spec.md §4.6 "Secret
// handling"). When volatile is true, the literal token is kept as-is.
func (r *Registry) Register(swarmName, baseURL, healthURL, token string, volatile bool, metadata map[string]string) (*Endpoint, error) {
	if swarmName == "" {
		return nil, fmt.Errorf("registry: swarm_name is required")
	}
	ref := token
	if !volatile && token != "" && !isEnvRef(token) {
		ref = "${" + envVarName(swarmName) + "}"
	}
	ep := &Endpoint{
		SwarmName:    swarmName,
		BaseURL:      baseURL,
		HealthURL:    healthURL,
		AuthTokenRef: ref,
		Active:       true,
		LastSeen:     time.Time{},
		Metadata:     metadata,
		Volatile:     volatile,
	}
	r.mu.Lock()
	r.endpoints[swarmName] = ep
	r.mu.Unlock()
	if !volatile {
		if err := r.save(); err != nil {
			return ep.clone(), err
		}
	}
	return ep.clone(), nil
}

func isEnvRef(token string) bool {
	return strings.HasPrefix(token, "${") && strings.HasSuffix(token, "}")
}

// Unregister removes a peer by name.
func (r *Registry) Unregister(swarmName string) error {
	r.mu.Lock()
	ep, ok := r.endpoints[swarmName]
	if ok {
		delete(r.endpoints, swarmName)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("registry: unknown swarm %q", swarmName)
	}
	if !ep.Volatile {
		return r.save()
	}
	return nil
}

// Get returns the entry for swarmName, if any.
func (r *Registry) Get(swarmName string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[swarmName]
	if !ok {
		return nil, false
	}
	return ep.clone(), true
}

// List returns every registered peer.
func (r *Registry) List() []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep.clone())
	}
	return out
}

// ResolveToken resolves swarmName's bearer token at send time (spec.md
// §4.6). A literal AuthTokenRef (volatile entries) is returned verbatim; an
// "${VAR}" reference is resolved from the process environment, returning an
// error if the variable is unset — callers (the interswarm router) translate
// that into a ::router_error:: response rather than failing the local task.
func (r *Registry) ResolveToken(swarmName string) (string, error) {
	ep, ok := r.Get(swarmName)
	if !ok {
		return "", fmt.Errorf("registry: unknown swarm %q", swarmName)
	}
	if ep.AuthTokenRef == "" {
		return "", nil
	}
	if !isEnvRef(ep.AuthTokenRef) {
		return ep.AuthTokenRef, nil
	}
	name := strings.TrimSuffix(strings.TrimPrefix(ep.AuthTokenRef, "${"), "}")
	val, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("registry: environment variable %s is not set for swarm %q", name, swarmName)
	}
	return val, nil
}

// Discover polls each catalog URL and registers the peers it advertises as
// volatile entries (spec.md §4.6, "Discovery never overwrites persistent
// entries").
func (r *Registry) Discover(ctx context.Context, urls []string) error {
	var firstErr error
	for _, url := range urls {
		peers, err := r.client.fetchCatalog(ctx, url)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, p := range peers {
			r.mu.RLock()
			existing, ok := r.endpoints[p.SwarmName]
			r.mu.RUnlock()
			if ok && !existing.Volatile {
				continue // never overwrite a persisted entry
			}
			if _, err := r.Register(p.SwarmName, p.BaseURL, p.HealthURL, p.AuthTokenRef, true, p.Metadata); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
