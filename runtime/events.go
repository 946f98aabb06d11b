package runtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// eventRing is the bounded per-task event log of spec.md §4.4: "events are
// retained in a bounded ring of ≥ 1000 per task (older events are discarded
// on overflow with a counter increment observable via the events
// endpoint)". Events carry a monotonic sequence number rather than relying
// on slice position, so a streaming consumer can resume after the ring has
// evicted entries it already saw.
type eventRing struct {
	mu       sync.Mutex
	capacity int
	events   []Event
	nextSeq  int64
	dropped  int
	wake     chan struct{}
}

func newEventRing(capacity int) *eventRing {
	if capacity <= 0 {
		capacity = DefaultEventRingCapacity
	}
	return &eventRing{capacity: capacity, wake: make(chan struct{})}
}

// append records a new event and returns it.
func (r *eventRing) append(taskID, kind, description string, extra map[string]any) Event {
	r.mu.Lock()
	e := Event{
		ID:          uuid.NewString(),
		Seq:         r.nextSeq,
		Kind:        kind,
		Timestamp:   time.Now().UTC(),
		TaskID:      taskID,
		Description: description,
		Extra:       extra,
	}
	r.nextSeq++
	if len(r.events) >= r.capacity {
		r.events = r.events[1:]
		r.dropped++
	}
	r.events = append(r.events, e)
	old := r.wake
	r.wake = make(chan struct{})
	r.mu.Unlock()
	close(old)
	return e
}

// since returns every currently-retained event with Seq >= seq, the current
// wake channel (closed on the next append), and the cumulative overflow
// counter.
func (r *eventRing) since(seq int64) (events []Event, wake chan struct{}, dropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if e.Seq >= seq {
			out = append(out, e)
		}
	}
	return out, r.wake, r.dropped
}

// snapshot returns every currently-retained event and the overflow counter,
// used by the events_for introspection operation (spec.md §6.1).
func (r *eventRing) snapshot() ([]Event, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out, r.dropped
}
