// Package orchestrator implements the fleet maintenance operation
// orchestrator: batches of per-site tasks, the bounded execution engine that
// drives them, and the confirmation gate for destructive operations.
//
// All shared mutable state (the batch/task registry and the pending queue)
// lives behind a single mutex with a condition variable for dispatch wake-up.
// Workers block only inside executor invocations, never while holding the
// registry lock.
package orchestrator

import (
	"time"

	"github.com/pressfleet/pressfleet/pkg/fleet"
)

// TaskState is the lifecycle state of one (operation, target) execution unit.
//
// Allowed transitions:
//
//	pending -> running    (engine dispatch)
//	running -> completed  (executor success)
//	running -> failed     (executor error or timeout)
//	failed  -> pending    (automatic retry re-entry)
//	pending -> cancelled  (explicit cancellation before dispatch)
//
// running -> cancelled is forbidden: a task already handed to a worker runs
// to completion or failure. An in-flight site-side operation cannot be
// interrupted without leaving the target in an undefined state.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether no further transition can occur from s.
// A failed task is only terminal once its retry budget is exhausted; that
// check lives in the registry, which knows the attempt count.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// validTransition encodes the task state machine.
func validTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning || to == TaskCancelled
	case TaskRunning:
		return to == TaskCompleted || to == TaskFailed
	case TaskFailed:
		return to == TaskPending
	default:
		return false
	}
}

// Task is one execution unit. Tasks are created once per (batch, target)
// pair, owned exclusively by their batch, and never reused.
//
// Task values are only mutated by the registry while holding its lock;
// callers receive copies (TaskView) and cannot race on fields.
type Task struct {
	ID          string
	BatchID     string
	OperationID string
	Target      fleet.Target

	State        TaskState
	Progress     int
	AttemptCount int
	MaxAttempts  int

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Error  string
	Reason FailureReason

	// retryAt is set while a failed task waits for its backoff delay.
	retryAt *time.Time
}

// TaskView is the immutable snapshot handed to API consumers and the audit
// log.
type TaskView struct {
	ID           string        `json:"task_id"`
	BatchID      string        `json:"batch_id"`
	OperationID  string        `json:"operation_id"`
	SiteID       string        `json:"site_id"`
	SiteName     string        `json:"site_name"`
	State        TaskState     `json:"state"`
	Progress     int           `json:"progress"`
	AttemptCount int           `json:"attempt_count"`
	MaxAttempts  int           `json:"max_attempts"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Error        string        `json:"error,omitempty"`
	Reason       FailureReason `json:"reason,omitempty"`
}

func (t *Task) view() TaskView {
	return TaskView{
		ID:           t.ID,
		BatchID:      t.BatchID,
		OperationID:  t.OperationID,
		SiteID:       t.Target.SiteID,
		SiteName:     t.Target.Name,
		State:        t.State,
		Progress:     t.Progress,
		AttemptCount: t.AttemptCount,
		MaxAttempts:  t.MaxAttempts,
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
		Error:        t.Error,
		Reason:       t.Reason,
	}
}
