package orchestrator

import (
	"time"

	"github.com/pressfleet/pressfleet/pkg/fleet"
)

// Trigger identifies what created a batch.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// BatchStatus is the derived aggregate state of a batch. It is never stored
// independently; Status() recomputes it from constituent task states.
type BatchStatus string

const (
	// BatchAwaitingConfirmation holds a batch whose operation requires
	// explicit approval. No tasks exist yet, only the resolved target list.
	BatchAwaitingConfirmation BatchStatus = "awaiting_confirmation"

	BatchRunning         BatchStatus = "running"
	BatchCompleted       BatchStatus = "completed"
	BatchPartiallyFailed BatchStatus = "partially_failed"
	BatchFailed          BatchStatus = "failed"

	// BatchRejected is a confirmation-gated batch discarded via Reject.
	BatchRejected BatchStatus = "rejected"

	// BatchExpired is a confirmation-gated batch that outlived the
	// configured confirmation expiry without a decision.
	BatchExpired BatchStatus = "expired"

	// BatchCancelled means every constituent task was cancelled before
	// dispatch.
	BatchCancelled BatchStatus = "cancelled"
)

// Batch is a group of tasks created by a single trigger. The task set is
// fixed at materialization time; targets cannot be added or removed after.
type Batch struct {
	ID          string
	OperationID string
	CreatedBy   string
	CreatedAt   time.Time
	Trigger     Trigger

	// ScheduleID links a scheduled batch back to its schedule.
	ScheduleID string

	// FailFast cancels remaining pending tasks once any task fails
	// terminally. Off by default.
	FailFast bool

	// Targets is the resolved target list, held before confirmation and
	// used to materialize tasks.
	Targets []fleet.Target

	// Skipped reports selector entries that could not be resolved at
	// creation time.
	Skipped []fleet.SkippedTarget

	// TaskIDs is the ordered task set, fixed once materialized.
	TaskIDs []string

	awaiting    bool
	rejected    bool
	expired     bool
	ConfirmedAt *time.Time
	ExpiresAt   *time.Time
}

// TaskCounts aggregates constituent task states for summaries.
type TaskCounts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

func (c TaskCounts) total() int {
	return c.Pending + c.Running + c.Completed + c.Failed + c.Cancelled
}

// status derives the aggregate batch status from task state counts.
// retryable failed tasks still count as in-flight, not failed: a task in its
// backoff window is on its way back to pending.
func (b *Batch) status(counts TaskCounts, retryPending int) BatchStatus {
	switch {
	case b.rejected:
		return BatchRejected
	case b.expired:
		return BatchExpired
	case b.awaiting:
		return BatchAwaitingConfirmation
	}

	terminalFailed := counts.Failed - retryPending
	inFlight := counts.Pending + counts.Running + retryPending

	if b.FailFast && terminalFailed > 0 && inFlight == 0 {
		return BatchFailed
	}
	if inFlight > 0 {
		return BatchRunning
	}
	if counts.total() == 0 || counts.Completed == counts.total() {
		return BatchCompleted
	}
	if terminalFailed > 0 {
		if counts.Completed == 0 && counts.Cancelled == 0 && terminalFailed == counts.total() {
			return BatchFailed
		}
		return BatchPartiallyFailed
	}
	if counts.Cancelled == counts.total() {
		return BatchCancelled
	}
	// Mixed completed/cancelled with no failures.
	return BatchPartiallyFailed
}

// BatchView is the API-facing snapshot of a batch.
type BatchView struct {
	ID          string                `json:"batch_id"`
	OperationID string                `json:"operation_id"`
	CreatedBy   string                `json:"created_by"`
	CreatedAt   time.Time             `json:"created_at"`
	Trigger     Trigger               `json:"trigger"`
	ScheduleID  string                `json:"schedule_id,omitempty"`
	FailFast    bool                  `json:"fail_fast,omitempty"`
	Status      BatchStatus           `json:"status"`
	Counts      TaskCounts            `json:"counts"`
	Targets     []fleet.Target        `json:"targets,omitempty"`
	Skipped     []fleet.SkippedTarget `json:"skipped,omitempty"`
	Tasks       []TaskView            `json:"tasks,omitempty"`
	ConfirmedAt *time.Time            `json:"confirmed_at,omitempty"`
	ExpiresAt   *time.Time            `json:"expires_at,omitempty"`
}
