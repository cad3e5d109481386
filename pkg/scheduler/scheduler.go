package scheduler

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pressfleet/pressfleet/pkg/eventbus"
	"github.com/pressfleet/pressfleet/pkg/orchestrator"
)

// Orchestrator is the slice of the batch orchestrator the scheduler needs:
// creating scheduled batches and checking for in-flight work when a schedule
// is deleted.
type Orchestrator interface {
	CreateBatch(req orchestrator.CreateBatchRequest) (orchestrator.BatchView, error)
	HasActiveBatchForSchedule(scheduleID string) bool
}

// Config configures the scheduler.
type Config struct {
	// TickInterval is how often due schedules are checked.
	// Default: 60s
	TickInterval time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{TickInterval: time.Minute}
}

type entry struct {
	schedule Schedule
	rule     cron.Schedule
	next     time.Time
	lastRun  *time.Time
	runCount int
	created  time.Time
	modified time.Time
	deleting bool

	// index is the heap position, -1 while paused or deleting.
	index int
}

// entryHeap orders entries by next run time.
type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].next.Before(h[j].next) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x any)        { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler holds recurring schedules in a min-heap keyed by next run time
// and materializes batches when they fall due inside their maintenance
// window.
type Scheduler struct {
	orch   Orchestrator
	bus    *eventbus.Bus
	config Config
	logger *zap.Logger
	nowFn  func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	due     entryHeap
}

// New creates a scheduler. bus may be nil.
func New(orch Orchestrator, bus *eventbus.Bus, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		orch:    orch,
		bus:     bus,
		config:  cfg,
		logger:  logger,
		nowFn:   func() time.Time { return time.Now().UTC() },
		entries: make(map[string]*entry),
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(s.nowFn())
		}
	}
}

// Create registers a schedule. A disabled schedule is stored but produces no
// runs until resumed.
func (s *Scheduler) Create(sched Schedule) (View, error) {
	rule, err := sched.Validate()
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[sched.ID]; ok {
		return View{}, &ConflictError{ID: sched.ID}
	}

	now := s.nowFn()
	e := &entry{
		schedule: sched,
		rule:     rule,
		created:  now,
		modified: now,
		index:    -1,
	}
	if sched.Enabled {
		e.next = rule.Next(now)
		heap.Push(&s.due, e)
	}
	s.entries[sched.ID] = e

	s.logger.Info("schedule created",
		zap.String("schedule_id", sched.ID),
		zap.String("operation", sched.OperationID),
		zap.String("cron", sched.CronExpression),
		zap.Bool("enabled", sched.Enabled))
	s.publish(sched.ID, eventbus.KindStateChanged, map[string]any{"action": "created", "enabled": sched.Enabled})
	return s.viewLocked(e), nil
}

// Pause disables a schedule; it produces no batches until resumed.
func (s *Scheduler) Pause(id string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.liveEntryLocked(id)
	if err != nil {
		return View{}, err
	}
	if e.schedule.Enabled {
		e.schedule.Enabled = false
		e.modified = s.nowFn()
		if e.index >= 0 {
			heap.Remove(&s.due, e.index)
		}
		s.logger.Info("schedule paused", zap.String("schedule_id", id))
		s.publish(id, eventbus.KindStateChanged, map[string]any{"action": "paused"})
	}
	return s.viewLocked(e), nil
}

// Resume re-enables a paused schedule. The next run is computed strictly
// after the resume time: occurrences missed while paused are not caught up.
func (s *Scheduler) Resume(id string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.liveEntryLocked(id)
	if err != nil {
		return View{}, err
	}
	if !e.schedule.Enabled {
		now := s.nowFn()
		e.schedule.Enabled = true
		e.modified = now
		e.next = e.rule.Next(now)
		heap.Push(&s.due, e)
		s.logger.Info("schedule resumed",
			zap.String("schedule_id", id),
			zap.Time("next_run_at", e.next))
		s.publish(id, eventbus.KindStateChanged, map[string]any{"action": "resumed"})
	}
	return s.viewLocked(e), nil
}

// Delete removes a schedule. While a batch originating from the schedule is
// still in flight, the schedule stops producing runs immediately but the
// record is only removed once that work has drained.
func (s *Scheduler) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.liveEntryLocked(id)
	if err != nil {
		return err
	}

	if e.index >= 0 {
		heap.Remove(&s.due, e.index)
	}
	e.schedule.Enabled = false

	if s.orch.HasActiveBatchForSchedule(id) {
		e.deleting = true
		e.modified = s.nowFn()
		s.logger.Info("schedule deletion deferred: batch in flight", zap.String("schedule_id", id))
		return nil
	}

	delete(s.entries, id)
	s.logger.Info("schedule deleted", zap.String("schedule_id", id))
	s.publish(id, eventbus.KindStateChanged, map[string]any{"action": "deleted"})
	return nil
}

// Get returns one schedule view.
func (s *Scheduler) Get(id string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.liveEntryLocked(id)
	if err != nil {
		return View{}, err
	}
	return s.viewLocked(e), nil
}

// List returns all schedules sorted by id, pending deletions included.
func (s *Scheduler) List() []View {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]View, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, s.viewLocked(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// tick fires all schedules due at or before now and sweeps deferred
// deletions whose in-flight work has drained.
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()

	type firing struct {
		e   *entry
		req orchestrator.CreateBatchRequest
	}
	var fire []firing

	for s.due.Len() > 0 && !s.due[0].next.After(now) {
		e := heap.Pop(&s.due).(*entry)

		if !e.schedule.Window.Contains(now) {
			// Due outside the maintenance window: defer to the next
			// window opening rather than skip the run.
			e.next = e.schedule.Window.NextOpen(now)
			heap.Push(&s.due, e)
			s.logger.Info("run deferred to maintenance window",
				zap.String("schedule_id", e.schedule.ID),
				zap.Time("deferred_to", e.next))
			continue
		}

		fire = append(fire, firing{e: e, req: orchestrator.CreateBatchRequest{
			OperationID: e.schedule.OperationID,
			Selector:    e.schedule.Selector,
			CreatedBy:   e.schedule.CreatedBy,
			Trigger:     orchestrator.TriggerScheduled,
			ScheduleID:  e.schedule.ID,
			FailFast:    e.schedule.FailFast,
		}})

		ts := now
		e.lastRun = &ts
		e.next = e.rule.Next(now)
		heap.Push(&s.due, e)
	}

	var sweep []string
	for id, e := range s.entries {
		if e.deleting {
			sweep = append(sweep, id)
		}
	}

	s.mu.Unlock()

	// Batch creation happens outside the lock: it resolves the fleet and
	// takes the registry lock of its own.
	for _, f := range fire {
		view, err := s.orch.CreateBatch(f.req)
		if err != nil {
			s.logger.Error("scheduled run failed to create batch",
				zap.String("schedule_id", f.req.ScheduleID),
				zap.String("operation", f.req.OperationID),
				zap.Error(err))
			s.publish(f.req.ScheduleID, eventbus.KindError, map[string]any{
				"action": "trigger_failed",
				"error":  err.Error(),
			})
			continue
		}

		s.mu.Lock()
		if e, ok := s.entries[f.req.ScheduleID]; ok {
			e.runCount++
		}
		s.mu.Unlock()

		s.logger.Info("scheduled batch created",
			zap.String("schedule_id", f.req.ScheduleID),
			zap.String("batch_id", view.ID),
			zap.String("operation", f.req.OperationID),
			zap.Int("targets", len(view.Targets)))
		s.publish(f.req.ScheduleID, eventbus.KindStateChanged, map[string]any{
			"action":   "triggered",
			"batch_id": view.ID,
		})
	}

	for _, id := range sweep {
		if s.orch.HasActiveBatchForSchedule(id) {
			continue
		}
		s.mu.Lock()
		if e, ok := s.entries[id]; ok && e.deleting {
			delete(s.entries, id)
			s.logger.Info("schedule deleted", zap.String("schedule_id", id))
			s.publish(id, eventbus.KindStateChanged, map[string]any{"action": "deleted"})
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) liveEntryLocked(id string) (*entry, error) {
	e, ok := s.entries[id]
	if !ok || e.deleting {
		return nil, &NotFoundError{ID: id}
	}
	return e, nil
}

func (s *Scheduler) viewLocked(e *entry) View {
	v := View{
		Schedule:   e.schedule,
		LastRunAt:  e.lastRun,
		Deleting:   e.deleting,
		RunCount:   e.runCount,
		CreatedAt:  e.created,
		ModifiedAt: e.modified,
	}
	if e.schedule.Enabled {
		next := e.next
		v.NextRunAt = &next
	}
	return v
}

func (s *Scheduler) publish(id string, kind eventbus.Kind, payload map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.NewEvent(eventbus.SubjectSchedule, id, kind, payload))
}
