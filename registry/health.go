package registry

import (
	"context"
	"time"

	"github.com/charonlabs/mail/telemetry"
)

// StartHealth begins a background polling loop over every registered
// endpoint that declares a HealthURL, at opts.HealthInterval. An endpoint is
// marked inactive after opts.HealthFailureThreshold consecutive failures,
// and reactivated (LastSeen refreshed) on the next success (spec.md §4.6).
// Calling StartHealth twice without an intervening StopHealth is a no-op.
func (r *Registry) StartHealth(ctx context.Context) {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	if r.healthCh != nil {
		return
	}
	stop := make(chan struct{})
	r.healthCh = stop

	r.healthWG.Add(1)
	go func() {
		defer r.healthWG.Done()
		ticker := time.NewTicker(r.opts.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				r.pollOnce(ctx)
			}
		}
	}()
}

// StopHealth halts the polling loop started by StartHealth, waiting for the
// in-flight round (if any) to finish. A no-op if polling was never started.
func (r *Registry) StopHealth() {
	r.healthMu.Lock()
	stop := r.healthCh
	r.healthCh = nil
	r.healthMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	r.healthWG.Wait()
}

func (r *Registry) pollOnce(ctx context.Context) {
	for _, ep := range r.List() {
		if ep.HealthURL == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.checkOne(ctx, ep.SwarmName, ep.HealthURL)
	}
}

// checkOne performs a single health probe against swarmName and updates its
// failure count/Active flag accordingly. Package tests call it directly to
// drive a single probe deterministically rather than waiting on the ticker.
func (r *Registry) checkOne(ctx context.Context, swarmName, healthURL string) {
	err := r.client.checkHealth(ctx, healthURL)

	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[swarmName]
	if !ok {
		return
	}
	if err != nil {
		ep.consecutiveFailures++
		if ep.consecutiveFailures >= r.opts.HealthFailureThreshold {
			if ep.Active {
				telemetry.Warn(ctx, "peer swarm marked inactive", telemetry.KV{K: "swarm", V: swarmName}, telemetry.KV{K: "failures", V: ep.consecutiveFailures})
			}
			ep.Active = false
		}
		return
	}
	if !ep.Active {
		telemetry.Info(ctx, "peer swarm recovered", telemetry.KV{K: "swarm", V: swarmName})
	}
	ep.consecutiveFailures = 0
	ep.Active = true
	ep.LastSeen = time.Now()
}

// CheckOnce runs a single health round synchronously, for callers (and
// tests) that want deterministic control instead of the background ticker.
func (r *Registry) CheckOnce(ctx context.Context) {
	r.pollOnce(ctx)
}
