// Package catalog provides the static registry of fleet maintenance
// operation definitions.
//
// Operations are loaded once at process start (built-in defaults or a YAML
// catalog file) and never mutated afterwards, so concurrent reads require no
// locking. Adding a new operation type requires a restart: the catalog is
// configuration, not runtime state.
package catalog

import (
	"fmt"
	"sort"
	"time"
)

// Category groups operations by the dashboard's maintenance areas.
type Category string

const (
	CategoryMaintenance Category = "maintenance"
	CategorySecurity    Category = "security"
	CategoryUpdates     Category = "updates"
	CategoryPerformance Category = "performance"
	CategoryBackups     Category = "backups"
)

// ImpactLevel is a coarse risk classification used to bound concurrent
// execution of risky operations.
type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "low"
	ImpactMedium ImpactLevel = "medium"
	ImpactHigh   ImpactLevel = "high"
)

// DurationRange is the estimated wall-clock duration of one operation run
// against a single site.
type DurationRange struct {
	Min time.Duration `json:"min" yaml:"min"`
	Max time.Duration `json:"max" yaml:"max"`
}

// Operation is an immutable definition of a maintenance action.
//
// ExecutorRef is an opaque handle naming the per-site implementation; the
// orchestrator never interprets it beyond routing to a registered executor.
type Operation struct {
	ID                   string        `json:"id" yaml:"id"`
	Name                 string        `json:"name" yaml:"name"`
	Category             Category      `json:"category" yaml:"category"`
	Impact               ImpactLevel   `json:"impact_level" yaml:"impact_level"`
	RequiresConfirmation bool          `json:"requires_confirmation" yaml:"requires_confirmation"`
	EstimatedDuration    DurationRange `json:"estimated_duration" yaml:"estimated_duration"`
	ExecutorRef          string        `json:"executor_ref" yaml:"executor_ref"`
}

// Timeout returns the per-task execution deadline for this operation:
// multiplier × the upper duration estimate. A non-positive multiplier or a
// missing estimate falls back to DefaultTimeout.
func (o Operation) Timeout(multiplier float64) time.Duration {
	if multiplier <= 0 {
		multiplier = DefaultTimeoutMultiplier
	}
	if o.EstimatedDuration.Max <= 0 {
		return DefaultTimeout
	}
	return time.Duration(multiplier * float64(o.EstimatedDuration.Max))
}

const (
	// DefaultTimeoutMultiplier scales the upper duration estimate into a
	// hard deadline for a single executor invocation.
	DefaultTimeoutMultiplier = 3.0

	// DefaultTimeout applies when an operation carries no duration estimate.
	DefaultTimeout = 15 * time.Minute
)

// NotFoundError is returned by Get for unknown operation ids.
type NotFoundError struct {
	OperationID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("operation not found: %s", e.OperationID)
}

// Catalog is a read-only registry of Operations keyed by id.
type Catalog struct {
	ops   map[string]Operation
	order []string
}

// New builds a catalog from the given operations.
//
// Every operation must have a unique, non-empty id, a known category and a
// known impact level. Estimated durations must be non-negative with Min <= Max.
func New(ops []Operation) (*Catalog, error) {
	c := &Catalog{ops: make(map[string]Operation, len(ops))}
	for i, op := range ops {
		if err := validate(op); err != nil {
			return nil, fmt.Errorf("operation %d (%q): %w", i, op.ID, err)
		}
		if _, exists := c.ops[op.ID]; exists {
			return nil, fmt.Errorf("duplicate operation id: %s", op.ID)
		}
		c.ops[op.ID] = op
		c.order = append(c.order, op.ID)
	}
	return c, nil
}

func validate(op Operation) error {
	if op.ID == "" {
		return fmt.Errorf("id is required")
	}
	switch op.Category {
	case CategoryMaintenance, CategorySecurity, CategoryUpdates, CategoryPerformance, CategoryBackups:
	default:
		return fmt.Errorf("unknown category: %q", op.Category)
	}
	switch op.Impact {
	case ImpactLow, ImpactMedium, ImpactHigh:
	default:
		return fmt.Errorf("unknown impact level: %q", op.Impact)
	}
	d := op.EstimatedDuration
	if d.Min < 0 || d.Max < 0 {
		return fmt.Errorf("estimated duration must be non-negative")
	}
	if d.Max > 0 && d.Min > d.Max {
		return fmt.Errorf("estimated duration min %s exceeds max %s", d.Min, d.Max)
	}
	return nil
}

// Get returns the operation with the given id.
func (c *Catalog) Get(id string) (Operation, error) {
	op, ok := c.ops[id]
	if !ok {
		return Operation{}, &NotFoundError{OperationID: id}
	}
	return op, nil
}

// List returns operations, optionally filtered by category.
//
// With no categories, all operations are returned in registration order.
// With categories, results keep registration order within the filter.
func (c *Catalog) List(categories ...Category) []Operation {
	want := make(map[Category]bool, len(categories))
	for _, cat := range categories {
		want[cat] = true
	}
	out := make([]Operation, 0, len(c.order))
	for _, id := range c.order {
		op := c.ops[id]
		if len(want) > 0 && !want[op.Category] {
			continue
		}
		out = append(out, op)
	}
	return out
}

// Len returns the number of registered operations.
func (c *Catalog) Len() int {
	return len(c.ops)
}

// Categories returns the distinct categories present in the catalog, sorted.
func (c *Catalog) Categories() []Category {
	seen := make(map[Category]bool)
	var out []Category
	for _, op := range c.ops {
		if !seen[op.Category] {
			seen[op.Category] = true
			out = append(out, op.Category)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
