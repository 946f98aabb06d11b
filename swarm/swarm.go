// Package swarm implements the MAIL swarm container (spec.md §4.5): it wires
// a swarm template (agents + actions + entrypoint, plus optional discovery,
// remote-dispatch and completion hooks) into a live
// runtime.Runtime, validating the template at instantiation and exposing the
// convenience surface (post_message, post_message_stream, run_continuous,
// shutdown) that an embedding HTTP server or CLI consumes.
package swarm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/charonlabs/mail/action"
	"github.com/charonlabs/mail/message"
	"github.com/charonlabs/mail/runtime"
	"github.com/charonlabs/mail/telemetry"
)

// Template describes a swarm before it is instantiated.
type Template struct {
	// LocalSwarm is this instance's swarm name; the runtime uses it to tell
	// local recipients from remote-qualified ones.
	LocalSwarm string
	Agents     []runtime.AgentDescriptor
	Actions    []action.Action
	// EnableFederation allows comm_targets entries of the form
	// "name@remote_swarm" to validate even though no local agent named
	// "name@remote_swarm" exists.
	EnableFederation bool
	// EventCapacity overrides the runtime's default per-task event ring size.
	EventCapacity int
	// Discover wires discover_swarms to a registry; nil disables the tool.
	Discover runtime.DiscoverFunc
	// Remote wires remote-recipient envelopes to an interswarm router; nil
	// means remote recipients are treated as unknown local ones.
	Remote runtime.RemoteFunc
	// OnComplete wires task completion to an interswarm router's contributor
	// broadcast; nil disables it.
	OnComplete runtime.CompletionFunc
}

// Container is a fully wired, runnable swarm instance.
type Container struct {
	template Template
	rt       *runtime.Runtime
	tracer   *telemetry.Tracer

	shutdown bool
}

// NewContainer validates template and builds the runtime underneath it
// (spec.md §4.5, "Validation at instantiation").
func NewContainer(template Template) (*Container, error) {
	if err := validateTemplate(template); err != nil {
		return nil, err
	}
	exec, err := action.NewExecutor(template.Actions)
	if err != nil {
		return nil, fmt.Errorf("swarm: compile actions: %w", err)
	}
	var opts []runtime.Option
	if template.EventCapacity > 0 {
		opts = append(opts, runtime.WithEventCapacity(template.EventCapacity))
	}
	if template.Discover != nil {
		opts = append(opts, runtime.WithDiscoverFunc(template.Discover))
	}
	if template.Remote != nil {
		opts = append(opts, runtime.WithRemoteDispatch(template.Remote))
	}
	if template.OnComplete != nil {
		opts = append(opts, runtime.WithCompletionHook(template.OnComplete))
	}
	rt, err := runtime.NewRuntime(template.LocalSwarm, template.Agents, exec, opts...)
	if err != nil {
		return nil, fmt.Errorf("swarm: build runtime: %w", err)
	}
	return &Container{template: template, rt: rt, tracer: telemetry.NewTracer()}, nil
}

func validateTemplate(t Template) error {
	if t.LocalSwarm == "" {
		return fmt.Errorf("swarm: local swarm name is required")
	}
	names := make(map[string]struct{}, len(t.Agents))
	entrypoints := 0
	supervisors := 0
	for _, a := range t.Agents {
		if a.Name == message.All {
			return fmt.Errorf("swarm: agent name %q is reserved", message.All)
		}
		if _, dup := names[a.Name]; dup {
			return fmt.Errorf("swarm: duplicate agent name %q", a.Name)
		}
		names[a.Name] = struct{}{}
		if a.EnableEntrypoint {
			entrypoints++
		}
		if a.CanCompleteTasks {
			supervisors++
		}
	}
	if entrypoints != 1 {
		return fmt.Errorf("swarm: exactly one agent must have enable_entrypoint = true, found %d", entrypoints)
	}
	if supervisors == 0 {
		return fmt.Errorf("swarm: at least one agent must have can_complete_tasks = true")
	}
	for _, a := range t.Agents {
		for _, target := range a.CommTargets {
			if target == message.All {
				continue
			}
			if _, ok := names[target]; ok {
				continue
			}
			if t.EnableFederation && strings.Contains(target, "@") {
				continue
			}
			return fmt.Errorf("swarm: agent %q declares comm_target %q which does not reference a known agent", a.Name, target)
		}
	}
	return nil
}

func (c *Container) entrypoint() string {
	for _, a := range c.template.Agents {
		if a.EnableEntrypoint {
			return a.Name
		}
	}
	return ""
}

// Runtime exposes the underlying scheduler for callers that need the core
// API directly (resume, cancel, introspection).
func (c *Container) Runtime() *runtime.Runtime { return c.rt }

// PostMessage is the synchronous convenience of spec.md §4.5: it submits a
// fresh-task request to the entrypoint and blocks for the finish body.
func (c *Container) PostMessage(ctx context.Context, subject, body string, timeout time.Duration) (string, error) {
	ctx, span := c.tracer.Start(ctx, "swarm.post_message", attribute.String("local_swarm", c.template.LocalSwarm))
	defer span.End()
	env, err := message.Request(message.NewTaskID(), message.User("caller"), message.Agent(c.entrypoint()), subject, body)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	result, err := c.rt.SubmitAndWait(ctx, env, timeout)
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

// PostMessageStream is the streaming counterpart of PostMessage.
func (c *Container) PostMessageStream(ctx context.Context, subject, body string, timeout time.Duration) (<-chan runtime.Event, error) {
	env, err := message.Request(message.NewTaskID(), message.User("caller"), message.Agent(c.entrypoint()), subject, body)
	if err != nil {
		return nil, err
	}
	return c.rt.SubmitAndStream(ctx, env, timeout)
}

// RunContinuous blocks until ctx is cancelled, then shuts the container down
// with the given grace period. It is the long-running loop a server process
// embeds (spec.md §4.5).
func (c *Container) RunContinuous(ctx context.Context, grace time.Duration) {
	<-ctx.Done()
	c.Shutdown(grace)
}

// Shutdown drains pending tasks (bounded by grace) and stops the runtime.
// Idempotent.
func (c *Container) Shutdown(grace time.Duration) {
	if c.shutdown {
		return
	}
	c.shutdown = true
	c.rt.Shutdown(grace)
}
