package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/pressfleet/pressfleet/pkg/fleet"
)

// Result is the outcome payload an executor returns on success.
type Result struct {
	// Message is a short human-readable summary surfaced in the dashboard.
	Message string `json:"message,omitempty"`

	// Detail carries operation-specific key/value output (e.g. updated
	// plugin versions). Shallow and string-only so records stay stable.
	Detail map[string]string `json:"detail,omitempty"`
}

// Executor runs one operation against one site. Implementations live outside
// the orchestrator (WP-CLI wrappers, scanners); they must honor context
// cancellation and return promptly once the deadline is exceeded where the
// external system allows it.
type Executor interface {
	Execute(ctx context.Context, target fleet.Target) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, target fleet.Target) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, target fleet.Target) (Result, error) {
	return f(ctx, target)
}

// ProgressFunc reports execution progress in percent (0-100).
type ProgressFunc func(percent int)

// ProgressReporting is an optional executor capability. Executors that can
// report intermediate progress implement it; the engine passes a sink that
// feeds the task's progress field and the event bus.
type ProgressReporting interface {
	ExecuteWithProgress(ctx context.Context, target fleet.Target, report ProgressFunc) (Result, error)
}

// ExecutorRegistry maps executor refs from the operation catalog to
// implementations. Registration happens at startup; lookups are concurrent.
type ExecutorRegistry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewExecutorRegistry creates an empty registry.
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{executors: make(map[string]Executor)}
}

// Register binds ref to an executor implementation. Re-registering a ref
// replaces the previous binding.
func (r *ExecutorRegistry) Register(ref string, exec Executor) error {
	if ref == "" {
		return fmt.Errorf("executor ref is required")
	}
	if exec == nil {
		return fmt.Errorf("executor for ref %q is nil", ref)
	}
	r.mu.Lock()
	r.executors[ref] = exec
	r.mu.Unlock()
	return nil
}

// Lookup returns the executor bound to ref.
func (r *ExecutorRegistry) Lookup(ref string) (Executor, error) {
	r.mu.RLock()
	exec, ok := r.executors[ref]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no executor registered for ref %q", ref)
	}
	return exec, nil
}
