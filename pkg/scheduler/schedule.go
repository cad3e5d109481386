// Package scheduler maintains recurring maintenance schedules and
// materializes batches when they fall due inside their maintenance window.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pressfleet/pressfleet/pkg/fleet"
)

// cronParser accepts standard five-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is a recurring rule that periodically creates batches of a single
// operation. The target selector is re-resolved at each trigger, so a run
// always applies to the current fleet rather than a snapshot taken at
// schedule creation.
type Schedule struct {
	ID             string            `json:"schedule_id" yaml:"id"`
	OperationID    string            `json:"operation_id" yaml:"operation"`
	Selector       fleet.Selector    `json:"target_selector" yaml:"selector"`
	CronExpression string            `json:"cron_expression" yaml:"cron"`
	Window         MaintenanceWindow `json:"maintenance_window,omitempty" yaml:"window,omitempty"`
	Enabled        bool              `json:"enabled" yaml:"enabled"`
	FailFast       bool              `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`
	CreatedBy      string            `json:"created_by,omitempty" yaml:"created_by,omitempty"`
}

// Validate checks the schedule definition and returns the parsed cron rule.
func (s *Schedule) Validate() (cron.Schedule, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("schedule id is required")
	}
	if s.OperationID == "" {
		return nil, fmt.Errorf("schedule %s: operation id is required", s.ID)
	}
	if err := s.Selector.Validate(); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
	}
	rule, err := cronParser.Parse(s.CronExpression)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: invalid cron expression %q: %w", s.ID, s.CronExpression, err)
	}
	if err := s.Window.Validate(); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
	}
	return rule, nil
}

// View is the externally visible snapshot of a schedule.
type View struct {
	Schedule
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	Deleting   bool       `json:"deleting,omitempty"`
	RunCount   int        `json:"run_count"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt time.Time  `json:"modified_at"`
}

// NotFoundError indicates an unknown schedule id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("schedule not found: %s", e.ID)
}

// ConflictError indicates a schedule id already in use.
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("schedule already exists: %s", e.ID)
}
