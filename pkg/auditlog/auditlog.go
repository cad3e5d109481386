// Package auditlog persists terminal task outcomes to a local SQLite
// database and exports them as JSONL, optionally archiving exports to
// S3-compatible storage.
//
// The log is append-only and idempotent by task id: a task reaches its
// terminal state exactly once, and a duplicate record attempt for the same
// task is a no-op rather than an error. That tolerates at-least-once
// delivery from the orchestrator without double-counting outcomes.
package auditlog

import (
	"fmt"
	"time"

	"github.com/pressfleet/pressfleet/pkg/orchestrator"
)

// Entry is one persisted terminal task outcome.
type Entry struct {
	TaskID       string                     `json:"task_id"`
	BatchID      string                     `json:"batch_id"`
	OperationID  string                     `json:"operation_id"`
	SiteID       string                     `json:"site_id"`
	SiteName     string                     `json:"site_name"`
	State        orchestrator.TaskState     `json:"state"`
	AttemptCount int                        `json:"attempt_count"`
	Error        string                     `json:"error,omitempty"`
	Reason       orchestrator.FailureReason `json:"reason,omitempty"`
	StartedAt    *time.Time                 `json:"started_at,omitempty"`
	CompletedAt  *time.Time                 `json:"completed_at,omitempty"`
	RecordedAt   time.Time                  `json:"recorded_at"`
}

// Query filters List and Export. Zero-value fields match everything.
type Query struct {
	BatchID     string
	SiteID      string
	OperationID string
	State       orchestrator.TaskState
	Since       time.Time
	Until       time.Time

	// Limit caps returned rows, newest first. Zero means DefaultLimit.
	Limit int
}

// DefaultLimit bounds unqualified List calls.
const DefaultLimit = 500

// StoreError wraps audit store failures with the operation that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("auditlog: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
