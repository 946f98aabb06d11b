package interswarm

import (
	"context"
	"encoding/json"
	"net/http"
)

// Handler returns an http.Handler serving /interswarm/forward and
// /interswarm/back at the paths a caller mounts it under (spec.md §6.5). Both
// paths share the same inbound logic; they exist as distinct routes only so
// operators can apply different authorization policy per direction if
// desired.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/interswarm/forward", r.handleInbound)
	mux.HandleFunc("/interswarm/back", r.handleInbound)
	return mux
}

func (r *Router) handleInbound(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var wrapped wireRequest
	if err := json.NewDecoder(req.Body).Decode(&wrapped); err != nil {
		http.Error(w, "malformed interswarm envelope: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := r.Inbound(req.Context(), wrapped.Message); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Inbound processes one forwarded envelope: idempotent-redelivery check,
// owner and contributor bookkeeping, and submission into the local runtime
// (spec.md §4.7 "Inbound handling"). The payload's recipient is submitted
// as it arrives; the sending router has already rewritten it to a bare
// local name. Exported so callers that embed
// their own HTTP routing (rather than mounting Handler) can still dispatch
// correctly, and so tests can drive it without spinning up a server.
func (r *Router) Inbound(ctx context.Context, wire Envelope) error {
	return r.inbound(ctx, wire)
}
