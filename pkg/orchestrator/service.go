package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pressfleet/pressfleet/pkg/catalog"
	"github.com/pressfleet/pressfleet/pkg/eventbus"
	"github.com/pressfleet/pressfleet/pkg/fleet"
)

// Service is the trigger-facing facade over the orchestrator: it resolves
// selectors, applies the confirmation gate and exposes the batch/task API
// the dashboard consumes.
type Service struct {
	catalog  *catalog.Catalog
	resolver *fleet.Resolver
	registry *Registry
	engine   *Engine
	gate     *Gate
	bus      *eventbus.Bus
	logger   *zap.Logger
}

// ServiceDeps wires a Service.
type ServiceDeps struct {
	Catalog  *catalog.Catalog
	Resolver *fleet.Resolver
	Registry *Registry
	Engine   *Engine
	Gate     *Gate
	Bus      *eventbus.Bus
	Logger   *zap.Logger
}

// NewService assembles the orchestrator facade.
func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Catalog == nil:
		return nil, fmt.Errorf("catalog is required")
	case deps.Resolver == nil:
		return nil, fmt.Errorf("resolver is required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("registry is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("engine is required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("gate is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		catalog:  deps.Catalog,
		resolver: deps.Resolver,
		registry: deps.Registry,
		engine:   deps.Engine,
		gate:     deps.Gate,
		bus:      deps.Bus,
		logger:   deps.Logger,
	}, nil
}

// Run drives the engine and the confirmation sweep until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.engine.Run(ctx) })
	g.Go(func() error { return s.gate.Run(ctx) })
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// CreateBatchRequest parameterizes CreateBatch.
type CreateBatchRequest struct {
	OperationID string         `json:"operation_id"`
	Selector    fleet.Selector `json:"selector"`
	CreatedBy   string         `json:"created_by,omitempty"`
	Trigger     Trigger        `json:"-"`
	ScheduleID  string         `json:"-"`
	FailFast    bool           `json:"fail_fast,omitempty"`
}

// CreateBatch resolves the selector and creates a batch for the operation.
//
// Resolution is best-effort: unresolvable targets are reported on the batch
// as skipped, and the batch is created for the resolvable subset. An
// operation requiring confirmation yields a batch in awaiting_confirmation
// with zero tasks.
func (s *Service) CreateBatch(req CreateBatchRequest) (BatchView, error) {
	op, err := s.catalog.Get(req.OperationID)
	if err != nil {
		return BatchView{}, err
	}

	res, err := s.resolver.Resolve(req.Selector)
	if err != nil {
		return BatchView{}, err
	}

	view, err := s.registry.CreateBatch(op, res, BatchOptions{
		CreatedBy:     req.CreatedBy,
		Trigger:       req.Trigger,
		ScheduleID:    req.ScheduleID,
		FailFast:      req.FailFast,
		ConfirmExpiry: s.gate.ConfirmExpiry(),
	})
	if err != nil {
		return BatchView{}, err
	}

	s.logger.Info("batch created",
		zap.String("batch_id", view.ID),
		zap.String("operation", op.ID),
		zap.String("trigger", string(view.Trigger)),
		zap.String("status", string(view.Status)),
		zap.Int("targets", len(view.Targets)),
		zap.Int("skipped", len(view.Skipped)))
	return view, nil
}

// Confirm approves an awaiting batch; its tasks materialize and queue.
func (s *Service) Confirm(batchID string) (BatchView, error) {
	return s.registry.Confirm(batchID)
}

// Reject discards an awaiting batch with no side effects.
func (s *Service) Reject(batchID string) (BatchView, error) {
	return s.registry.Reject(batchID)
}

// CancelTask cancels one still-pending task.
func (s *Service) CancelTask(taskID string) (TaskView, error) {
	return s.registry.CancelTask(taskID)
}

// CancelBatch cancels every still-pending task in a batch.
func (s *Service) CancelBatch(batchID string) (BatchView, error) {
	return s.registry.CancelBatch(batchID)
}

// GetBatch returns the batch with per-task detail.
func (s *Service) GetBatch(batchID string) (BatchView, error) {
	return s.registry.GetBatch(batchID, true)
}

// GetTask returns one task snapshot.
func (s *Service) GetTask(taskID string) (TaskView, error) {
	return s.registry.GetTask(taskID)
}

// Snapshot returns all current batch views for push-channel reconnects.
func (s *Service) Snapshot() []BatchView {
	return s.registry.Snapshot()
}

// HasActiveBatchForSchedule reports in-flight work originating from a
// schedule.
func (s *Service) HasActiveBatchForSchedule(scheduleID string) bool {
	return s.registry.HasActiveBatchForSchedule(scheduleID)
}

// Subscribe attaches a new event bus subscriber.
func (s *Service) Subscribe() *eventbus.Subscription {
	return s.bus.Subscribe()
}

// Catalog exposes the operation catalog for read-only queries.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}
