package registry

import (
	"encoding/json"
	"fmt"
	"os"
)

// document is the on-disk persistence shape (spec.md §6.4). Only non-volatile
// entries are written; tokens are persisted as "${ENV_VAR}" references, never
// as literals.
type document struct {
	LocalSwarmName string                  `json:"local_swarm_name"`
	LocalBaseURL   string                  `json:"local_base_url"`
	Endpoints      map[string]docEndpoint `json:"endpoints"`
}

type docEndpoint struct {
	BaseURL      string            `json:"base_url"`
	HealthURL    string            `json:"health_url"`
	AuthTokenRef string            `json:"auth_token_ref,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Save writes the non-volatile subset of the registry to opts.PersistPath. A
// no-op if PersistPath is empty.
func (r *Registry) Save() error {
	return r.save()
}

func (r *Registry) save() error {
	if r.opts.PersistPath == "" {
		return nil
	}
	doc := document{
		LocalSwarmName: r.opts.LocalSwarm,
		LocalBaseURL:   r.opts.LocalBaseURL,
		Endpoints:      make(map[string]docEndpoint),
	}
	r.mu.RLock()
	for name, ep := range r.endpoints {
		if ep.Volatile {
			continue
		}
		doc.Endpoints[name] = docEndpoint{
			BaseURL:      ep.BaseURL,
			HealthURL:    ep.HealthURL,
			AuthTokenRef: ep.AuthTokenRef,
			Metadata:     ep.Metadata,
		}
	}
	r.mu.RUnlock()

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal persistence document: %w", err)
	}
	if err := os.WriteFile(r.opts.PersistPath, raw, 0o600); err != nil {
		return fmt.Errorf("registry: write %s: %w", r.opts.PersistPath, err)
	}
	return nil
}

// Load reads opts.PersistPath (if set and present) and registers each
// persisted endpoint as a non-volatile entry, replacing whatever
// non-volatile entries are currently held. A missing file is not an error —
// it means no peers have been persisted yet.
func (r *Registry) Load() error {
	if r.opts.PersistPath == "" {
		return nil
	}
	raw, err := os.ReadFile(r.opts.PersistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("registry: read %s: %w", r.opts.PersistPath, err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("registry: parse %s: %w", r.opts.PersistPath, err)
	}

	r.mu.Lock()
	for name, ep := range r.endpoints {
		if !ep.Volatile {
			delete(r.endpoints, name)
		}
	}
	for name, de := range doc.Endpoints {
		r.endpoints[name] = &Endpoint{
			SwarmName:    name,
			BaseURL:      de.BaseURL,
			HealthURL:    de.HealthURL,
			AuthTokenRef: de.AuthTokenRef,
			Active:       true,
			Metadata:     de.Metadata,
			Volatile:     false,
		}
	}
	r.mu.Unlock()
	return nil
}
