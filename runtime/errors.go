package runtime

import "fmt"

// TaskTimeoutError is returned by SubmitAndWait when the caller-supplied
// timeout elapses (or ctx is done) before task_complete; the task is then
// cancelled (spec.md §7, kind TaskTimeout). SubmitAndStream does not return
// it: on timeout its event channel just closes and the task is not
// cancelled.
type TaskTimeoutError struct {
	TaskID string
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("runtime: task %s timed out", e.TaskID)
}

// CancelledError is returned by SubmitAndWait when the task was cancelled
// before completion (spec.md §7, kind Cancelled). SubmitAndStream does not
// return it; its event channel closes after the task_error event.
type CancelledError struct {
	TaskID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("runtime: task %s was cancelled", e.TaskID)
}

// QueueInvariantError is the fatal condition of spec.md §4.4: "envelope for
// unknown task". The scheduler reacts by marking the task errored and
// resolving its pending future with the reason as the body and this error,
// so SubmitAndWait returns both.
type QueueInvariantError struct {
	TaskID string
	Reason string
}

func (e *QueueInvariantError) Error() string {
	return fmt.Sprintf("runtime: queue invariant violated for task %s: %s", e.TaskID, e.Reason)
}

// UnknownRecipientError reports that an envelope addressed a local agent
// name that does not exist in this runtime (spec.md §7, kind
// UnknownRecipient).
type UnknownRecipientError struct {
	Recipient string
}

func (e *UnknownRecipientError) Error() string {
	return fmt.Sprintf("runtime: unknown local recipient %q", e.Recipient)
}
