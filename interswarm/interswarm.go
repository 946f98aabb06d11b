// Package interswarm implements the MAIL interswarm router (spec.md §4.7):
// detection of remote-qualified recipients, outbound envelope wrapping and
// HTTP forwarding to peer swarms, and inbound dispatch of forwarded
// envelopes back into a local runtime.Runtime.
package interswarm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/charonlabs/mail/message"
	"github.com/charonlabs/mail/registry"
	"github.com/charonlabs/mail/runtime"
	"github.com/charonlabs/mail/telemetry"
)

// Envelope is the wire wrapper exchanged between swarm instances (spec.md
// §4.7 and §6.5 "Wire format").
type Envelope struct {
	MessageID        string            `json:"message_id"`
	SourceSwarm      string            `json:"source_swarm"`
	TargetSwarm      string            `json:"target_swarm"`
	Timestamp        time.Time         `json:"timestamp"`
	Payload          *message.Envelope `json:"payload"`
	TaskOwner        string            `json:"task_owner"`
	TaskContributors []string          `json:"task_contributors"`
	AuthToken        string            `json:"auth_token,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

// DefaultTimeout bounds a single forward/back HTTP call (spec.md §4.7,
// "default 60 s").
const DefaultTimeout = 60 * time.Second

// Router forwards remote-qualified envelopes to peer swarms over HTTP and
// dispatches inbound forwarded envelopes into the local runtime. One Router
// per swarm instance; wire its Forward method in as runtime.RemoteFunc via
// swarm.Template.Remote.
type Router struct {
	localSwarm string
	reg        *registry.Registry
	rt         *runtime.Runtime
	client     *http.Client
	seen       *seenSet
	tracer     *telemetry.Tracer
}

// New builds a Router over reg (for peer lookup and token resolution) and rt
// (for task ownership/contributor bookkeeping and inbound submission).
func New(localSwarm string, reg *registry.Registry, rt *runtime.Runtime) *Router {
	return &Router{
		localSwarm: localSwarm,
		reg:        reg,
		rt:         rt,
		client:     &http.Client{Timeout: DefaultTimeout},
		seen:       newSeenSet(4096),
		tracer:     telemetry.NewTracer(),
	}
}

// RemoteFunc returns r.Forward bound as a runtime.RemoteFunc, for
// swarm.Template.Remote.
func (r *Router) RemoteFunc() runtime.RemoteFunc { return r.Forward }

// CompletionFunc returns r.BroadcastCompletion bound as a
// runtime.CompletionFunc, for swarm.Template.OnComplete.
func (r *Router) CompletionFunc() runtime.CompletionFunc { return r.BroadcastCompletion }

// BroadcastCompletion notifies every contributor swarm that taskID finished,
// so their local mirror of the task is marked terminal too (spec.md §4.7,
// "owner-side best-effort broadcast of completion to all contributor
// swarms"). Failures are logged via the returned error from post but never
// propagated — completion of the owner's own task is unaffected by a peer
// being unreachable.
func (r *Router) BroadcastCompletion(ctx context.Context, taskID, body string, contributors []string) {
	owner, _ := r.rt.TaskOwner(taskID)
	for _, peer := range contributors {
		ep, found := r.reg.Get(peer)
		if !found {
			telemetry.Warn(ctx, "completion broadcast skipped unknown peer", telemetry.KV{K: "task_id", V: taskID}, telemetry.KV{K: "peer", V: peer})
			continue
		}
		token, err := r.reg.ResolveToken(peer)
		if err != nil {
			telemetry.Warn(ctx, "completion broadcast token resolution failed", telemetry.KV{K: "task_id", V: taskID}, telemetry.KV{K: "peer", V: peer})
			continue
		}
		payload, err := message.TaskComplete(taskID, message.System("mail"), body)
		if err != nil {
			continue
		}
		wire := Envelope{
			MessageID:   message.NewTaskID(),
			SourceSwarm: r.localSwarm,
			TargetSwarm: peer,
			Timestamp:   time.Now().UTC(),
			Payload:     payload,
			TaskOwner:   owner,
		}
		if err := r.post(ctx, ep.BaseURL+"/interswarm/forward", token, wire); err != nil {
			telemetry.Warn(ctx, "completion broadcast delivery failed", telemetry.KV{K: "task_id", V: taskID}, telemetry.KV{K: "peer", V: peer})
		}
	}
}

// qualifyLocal rewrites addr to "name@localSwarm" if it names a bare local
// identity, so a remote peer can address a reply back to it (spec.md §4.7,
// "the sender address on the payload is rewritten to include the local
// swarm"). An already swarm-qualified address (a prior hop's rewrite) is
// left untouched.
func qualifyLocal(addr message.Address, localSwarm string) message.Address {
	if _, _, ok := addr.Local(); ok {
		return addr
	}
	addr.Name = addr.Name + "@" + localSwarm
	return addr
}

// ownerSwarm extracts the swarm name suffix from an owner identifier of the
// form "user:name@swarm" or "swarm:name@swarm".
func ownerSwarm(owner string) string {
	i := strings.LastIndexByte(owner, '@')
	if i < 0 {
		return owner
	}
	return owner[i+1:]
}

// Forward wraps env and sends it to the peer swarm named in recipientName
// ("agent@swarm"). It selects /interswarm/back when the peer is the task's
// owner and /interswarm/forward for every other peer, whether or not that
// peer has seen this task before (spec.md §4.7). On any failure it returns an error, which the runtime
// turns into a ::router_error:: reply to the original sender — the local
// task itself is never failed by a transport problem.
func (r *Router) Forward(ctx context.Context, env *message.Envelope, recipientName string) error {
	ctx, span := r.tracer.Start(ctx, "interswarm.forward",
		attribute.String("task_id", env.TaskID), attribute.String("recipient", recipientName))
	defer span.End()

	local, targetSwarm, ok := message.Agent(recipientName).Local()
	if !ok {
		err := fmt.Errorf("interswarm: recipient %q has no swarm qualifier", recipientName)
		span.RecordError(err)
		return err
	}

	ep, found := r.reg.Get(targetSwarm)
	if !found {
		err := fmt.Errorf("interswarm: unknown peer swarm %q", targetSwarm)
		span.RecordError(err)
		return err
	}
	if !ep.Active {
		err := fmt.Errorf("interswarm: peer swarm %q is marked inactive", targetSwarm)
		span.RecordError(err)
		return err
	}
	token, err := r.reg.ResolveToken(targetSwarm)
	if err != nil {
		err = fmt.Errorf("interswarm: resolve token for %q: %w", targetSwarm, err)
		span.RecordError(err)
		return err
	}

	owner, _ := r.rt.TaskOwner(env.TaskID)
	contributors, _ := r.rt.TaskContributors(env.TaskID)

	payload := *env
	payload.Sender = qualifyLocal(payload.Sender, r.localSwarm)
	switch payload.Kind {
	case message.KindRequest, message.KindResponse:
		payload.Recipient = message.Agent(local)
	default:
		rewritten := make([]message.Address, len(payload.Recipients))
		for i, addr := range payload.Recipients {
			if addr.IsAll() {
				rewritten[i] = addr
				continue
			}
			ln, sw, ok := addr.Local()
			if ok && sw == targetSwarm {
				rewritten[i] = message.Agent(ln)
				continue
			}
			rewritten[i] = addr
		}
		payload.Recipients = rewritten
	}

	wire := Envelope{
		MessageID:        message.NewTaskID(),
		SourceSwarm:      r.localSwarm,
		TargetSwarm:      targetSwarm,
		Timestamp:        time.Now().UTC(),
		Payload:          &payload,
		TaskOwner:        owner,
		TaskContributors: contributors,
		AuthToken:        token,
		Metadata: map[string]any{
			"expect_response": payload.Kind == message.KindRequest,
			"sender_swarm":    r.localSwarm,
			"recipient_swarm": targetSwarm,
		},
	}

	path := "/interswarm/forward"
	if owner != "" && ownerSwarm(owner) == targetSwarm {
		path = "/interswarm/back"
	}

	if err := r.post(ctx, ep.BaseURL+path, token, wire); err != nil {
		span.RecordError(err)
		telemetry.Error(ctx, err, "interswarm forward failed", telemetry.KV{K: "task_id", V: env.TaskID}, telemetry.KV{K: "target_swarm", V: targetSwarm})
		return err
	}
	r.rt.AddTaskContributor(env.TaskID, targetSwarm)
	return nil
}
