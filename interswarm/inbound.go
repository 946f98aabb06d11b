package interswarm

import (
	"context"
	"fmt"
)

// inbound implements spec.md §4.7 "Inbound handling": a repeated message_id
// is treated as idempotent (SUPPLEMENTED FEATURES, per spec.md §9's "SHOULD"
// on redelivery) and dropped without error; otherwise the payload's
// recipient is already bare-local (the sender rewrote it before forwarding),
// task ownership/contributors are recorded, and the payload is submitted
// into the local runtime.
func (r *Router) inbound(ctx context.Context, wire Envelope) error {
	if wire.Payload == nil {
		return fmt.Errorf("interswarm: envelope %s carries no payload", wire.MessageID)
	}
	if r.seen.markAndCheck(wire.MessageID) {
		return nil // already processed, idempotent drop
	}

	owner := wire.TaskOwner
	if owner == "" {
		owner = fmt.Sprintf("swarm:%s@%s", wire.SourceSwarm, wire.SourceSwarm)
	}

	if err := r.rt.SubmitRemote(wire.Payload, owner); err != nil {
		return err
	}
	r.rt.AddTaskContributor(wire.Payload.TaskID, wire.SourceSwarm)
	for _, c := range wire.TaskContributors {
		r.rt.AddTaskContributor(wire.Payload.TaskID, c)
	}
	return nil
}
