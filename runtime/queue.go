package runtime

import (
	"container/heap"

	"github.com/charonlabs/mail/message"
)

// tier assigns the five-level priority of spec.md §4.4 ("highest first").
// Lower numeric values dequeue first.
func tier(env *message.Envelope) int {
	switch env.Sender.Kind {
	case message.KindSystem:
		return 1
	case message.KindAdmin, message.KindUser:
		return 2
	}
	switch env.Kind {
	case message.KindInterrupt:
		return 3
	case message.KindBroadcast, message.KindTaskComplete:
		return 4
	default:
		return 5
	}
}

// item is one entry in the priority queue.
type item struct {
	env   *message.Envelope
	tier  int
	index int // maintained by container/heap
}

// priorityQueue orders items by tier, then timestamp, then envelope ID, per
// spec.md §4.4 and the "Ties are broken by timestamp ... then by envelope id
// (lexicographic)" rule. container/heap gives an O(log n) push/pop with no
// ecosystem library in the corpus offering a priority queue, so the standard
// library is used here directly (see DESIGN.md).
type priorityQueue []*item

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	a, b := pq[i], pq[j]
	if a.tier != b.tier {
		return a.tier < b.tier
	}
	if !a.env.Timestamp.Equal(b.env.Timestamp) {
		return a.env.Timestamp.Before(b.env.Timestamp)
	}
	return a.env.ID < b.env.ID
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*pq)
	*pq = append(*pq, it)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*pq = old[:n-1]
	return it
}

func newPriorityQueue() *priorityQueue {
	pq := priorityQueue{}
	heap.Init(&pq)
	return &pq
}

func (pq *priorityQueue) push(env *message.Envelope) {
	heap.Push(pq, &item{env: env, tier: tier(env)})
}

// popEligible pops and returns the highest-priority envelope whose task is
// not paused, preserving heap order for the envelopes it has to skip over.
// Returns nil if no eligible envelope exists.
func (pq *priorityQueue) popEligible(paused func(taskID string) bool) *message.Envelope {
	var skipped []*item
	var found *message.Envelope
	for pq.Len() > 0 {
		it := heap.Pop(pq).(*item)
		if paused(it.env.TaskID) {
			skipped = append(skipped, it)
			continue
		}
		found = it.env
		break
	}
	for _, it := range skipped {
		heap.Push(pq, it)
	}
	return found
}

// removeTask evicts and returns every queued envelope belonging to taskID,
// in their relative priority order, leaving the remaining queue intact. Used
// both for cancel() and for breakpoint stashing.
func (pq *priorityQueue) removeTask(taskID string) []*message.Envelope {
	var kept []*item
	var removed []*message.Envelope
	for pq.Len() > 0 {
		it := heap.Pop(pq).(*item)
		if it.env.TaskID == taskID {
			removed = append(removed, it.env)
		} else {
			kept = append(kept, it)
		}
	}
	for _, it := range kept {
		heap.Push(pq, it)
	}
	// removed was popped in priority order already; that is the order
	// restoreTask should re-push them in to preserve relative ordering.
	return removed
}

// restoreTask re-enqueues previously removed envelopes, preserving their
// relative order (spec.md invariant 5: "stashed queue entries are restored
// in their original order").
func (pq *priorityQueue) restoreTask(envs []*message.Envelope) {
	for _, env := range envs {
		pq.push(env)
	}
}
