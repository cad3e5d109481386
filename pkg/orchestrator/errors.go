package orchestrator

import (
	"context"
	"errors"
	"fmt"
)

// FailureReason classifies a task failure for retry policy and reporting.
type FailureReason string

const (
	// ReasonTransient covers failures worth retrying: network timeouts,
	// lock contention on the target site, provider rate limits.
	ReasonTransient FailureReason = "transient"

	// ReasonPermanent covers failures that retrying cannot fix: invalid
	// target, operation not applicable, permission denied.
	ReasonPermanent FailureReason = "permanent"

	// ReasonTargetGone marks a target that no longer existed at dispatch
	// time. Never retried; sibling tasks are unaffected.
	ReasonTargetGone FailureReason = "target_gone"

	// ReasonTimeout marks an executor invocation that exceeded its
	// deadline. Treated as transient for retry purposes: the underlying
	// operation may have been stalled rather than broken.
	ReasonTimeout FailureReason = "timeout"
)

// Retryable reports whether a failure with this reason is eligible for
// automatic retry (subject to the attempt budget).
func (r FailureReason) Retryable() bool {
	return r == ReasonTransient || r == ReasonTimeout
}

// TransientError marks an executor failure as retry-worthy.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so Classify reports it as transient.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// PermanentError marks an executor failure as not retryable.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Classify reports it as permanent.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// ErrTargetGone is returned by executors (or the dispatch-time target check)
// when the site behind a task has disappeared.
var ErrTargetGone = errors.New("target no longer exists")

// Classify maps an executor error onto the failure taxonomy.
//
// Unmarked errors classify as permanent: blindly retrying an unknown failure
// against a live WordPress install risks compounding damage, so retry is
// opt-in via Transient.
func Classify(err error) FailureReason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTargetGone):
		return ReasonTargetGone
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		var transient *TransientError
		if errors.As(err, &transient) {
			return ReasonTransient
		}
		return ReasonPermanent
	}
}

// InvalidTransitionError reports a task state transition the state machine
// forbids, e.g. cancelling a running task.
type InvalidTransitionError struct {
	TaskID string
	From   TaskState
	To     TaskState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.TaskID, e.From, e.To)
}

// BatchNotFoundError reports an unknown batch id.
type BatchNotFoundError struct {
	BatchID string
}

func (e *BatchNotFoundError) Error() string {
	return fmt.Sprintf("batch not found: %s", e.BatchID)
}

// TaskNotFoundError reports an unknown task id.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// BatchStateError reports a batch operation attempted in the wrong state,
// e.g. confirming a batch that is not awaiting confirmation.
type BatchStateError struct {
	BatchID string
	Status  BatchStatus
	Op      string
}

func (e *BatchStateError) Error() string {
	return fmt.Sprintf("batch %s: cannot %s while %s", e.BatchID, e.Op, e.Status)
}
