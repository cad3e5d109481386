package orchestrator

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pressfleet/pressfleet/pkg/catalog"
	"github.com/pressfleet/pressfleet/pkg/eventbus"
	"github.com/pressfleet/pressfleet/pkg/fleet"
)

// AuditRecorder receives terminal task snapshots. Implementations must be
// idempotent by task id: the registry guarantees at-least-once delivery.
type AuditRecorder interface {
	Record(task TaskView) error
}

// ErrShutdown is returned by NextForDispatch after Shutdown.
var ErrShutdown = errors.New("registry is shut down")

// DefaultMaxAttempts bounds automatic retries per task.
const DefaultMaxAttempts = 3

// RegistryConfig configures the batch/task registry.
type RegistryConfig struct {
	// MaxAttempts is the per-task attempt budget. Default: 3.
	MaxAttempts int

	// Bus receives lifecycle events. Nil disables publication.
	Bus *eventbus.Bus

	// Audit receives terminal task records. Nil disables auditing.
	Audit AuditRecorder

	Logger *zap.Logger
}

// Registry owns all batch and task state. One mutex guards every mutation;
// a condition variable wakes dispatch waiters when eligible work may exist.
// No executor call ever happens under the lock.
type Registry struct {
	mu   sync.Mutex
	cond *sync.Cond

	batches    map[string]*Batch
	batchOrder []string
	ops        map[string]catalog.Operation // batch id -> operation definition
	tasks      map[string]*Task
	taskImpact map[string]catalog.ImpactLevel
	taskSeq    map[string]uint64
	lastStatus map[string]BatchStatus

	seq         uint64
	runningHigh int
	runningAll  int
	shutdown    bool

	maxAttempts int
	bus         *eventbus.Bus
	audit       AuditRecorder
	logger      *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	r := &Registry{
		batches:     make(map[string]*Batch),
		ops:         make(map[string]catalog.Operation),
		tasks:       make(map[string]*Task),
		taskImpact:  make(map[string]catalog.ImpactLevel),
		taskSeq:     make(map[string]uint64),
		lastStatus:  make(map[string]BatchStatus),
		maxAttempts: cfg.MaxAttempts,
		bus:         cfg.Bus,
		audit:       cfg.Audit,
		logger:      cfg.Logger,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// BatchOptions parameterizes batch creation.
type BatchOptions struct {
	CreatedBy  string
	Trigger    Trigger
	ScheduleID string
	FailFast   bool

	// ConfirmExpiry bounds how long a confirmation-gated batch may wait
	// for a decision. Zero disables expiry.
	ConfirmExpiry time.Duration
}

// effects collected under the lock and executed after release.
type effects struct {
	events []eventbus.Event
	audits []TaskView
}

func (r *Registry) apply(fx *effects) {
	for _, e := range fx.events {
		if r.bus != nil {
			r.bus.Publish(e)
		}
	}
	for _, view := range fx.audits {
		if r.audit == nil {
			continue
		}
		if err := r.audit.Record(view); err != nil {
			r.logger.Error("audit record failed",
				zap.String("task_id", view.ID),
				zap.Error(err))
		}
	}
}

// CreateBatch registers a new batch for the given operation over the
// resolved targets.
//
// Operations flagged requires_confirmation produce a placeholder batch in
// awaiting_confirmation with zero tasks; everything else materializes its
// task set immediately and becomes eligible for dispatch.
func (r *Registry) CreateBatch(op catalog.Operation, res *fleet.Resolution, opts BatchOptions) (BatchView, error) {
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}

	now := time.Now().UTC()
	b := &Batch{
		ID:          uuid.New().String(),
		OperationID: op.ID,
		CreatedBy:   opts.CreatedBy,
		CreatedAt:   now,
		Trigger:     opts.Trigger,
		ScheduleID:  opts.ScheduleID,
		FailFast:    opts.FailFast,
		Targets:     res.Targets,
		Skipped:     res.Skipped,
	}

	fx := &effects{}
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return BatchView{}, ErrShutdown
	}
	r.batches[b.ID] = b
	r.batchOrder = append(r.batchOrder, b.ID)
	r.ops[b.ID] = op

	if op.RequiresConfirmation {
		b.awaiting = true
		if opts.ConfirmExpiry > 0 {
			exp := now.Add(opts.ConfirmExpiry)
			b.ExpiresAt = &exp
		}
	} else {
		r.materializeLocked(b, op, now, fx)
	}

	r.noteBatchStatusLocked(b, fx)
	view := r.batchViewLocked(b, false)
	r.mu.Unlock()

	r.apply(fx)
	return view, nil
}

// materializeLocked creates the batch's task set from its target list.
// The task set is fixed from this point on.
func (r *Registry) materializeLocked(b *Batch, op catalog.Operation, now time.Time, fx *effects) {
	for _, target := range b.Targets {
		r.seq++
		task := &Task{
			ID:          uuid.New().String(),
			BatchID:     b.ID,
			OperationID: op.ID,
			Target:      target,
			State:       TaskPending,
			MaxAttempts: r.maxAttempts,
			CreatedAt:   now,
		}
		r.tasks[task.ID] = task
		r.taskImpact[task.ID] = op.Impact
		r.taskSeq[task.ID] = r.seq
		b.TaskIDs = append(b.TaskIDs, task.ID)
		fx.events = append(fx.events, eventbus.NewEvent(eventbus.SubjectTask, task.ID, eventbus.KindStateChanged, task.view()))
	}
	r.cond.Broadcast()
}

// Confirm approves an awaiting batch, materializing its tasks and handing
// them to the execution engine.
func (r *Registry) Confirm(batchID string) (BatchView, error) {
	fx := &effects{}
	r.mu.Lock()
	b, ok := r.batches[batchID]
	if !ok {
		r.mu.Unlock()
		return BatchView{}, &BatchNotFoundError{BatchID: batchID}
	}
	if !b.awaiting || b.rejected || b.expired {
		status := r.batchStatusLocked(b)
		r.mu.Unlock()
		return BatchView{}, &BatchStateError{BatchID: batchID, Status: status, Op: "confirm"}
	}

	now := time.Now().UTC()
	b.awaiting = false
	b.ConfirmedAt = &now
	op := r.ops[b.ID]
	r.materializeLocked(b, op, now, fx)
	r.noteBatchStatusLocked(b, fx)
	view := r.batchViewLocked(b, false)
	r.mu.Unlock()

	r.apply(fx)
	return view, nil
}

// Reject discards an awaiting batch. No tasks were ever created, so the
// audit log is untouched.
func (r *Registry) Reject(batchID string) (BatchView, error) {
	fx := &effects{}
	r.mu.Lock()
	b, ok := r.batches[batchID]
	if !ok {
		r.mu.Unlock()
		return BatchView{}, &BatchNotFoundError{BatchID: batchID}
	}
	if !b.awaiting || b.rejected || b.expired {
		status := r.batchStatusLocked(b)
		r.mu.Unlock()
		return BatchView{}, &BatchStateError{BatchID: batchID, Status: status, Op: "reject"}
	}

	b.awaiting = false
	b.rejected = true
	r.noteBatchStatusLocked(b, fx)
	view := r.batchViewLocked(b, false)
	r.mu.Unlock()

	r.apply(fx)
	return view, nil
}

// ExpireStale expires awaiting batches whose confirmation window has passed.
// Returns the ids of expired batches.
func (r *Registry) ExpireStale(now time.Time) []string {
	fx := &effects{}
	var expired []string

	r.mu.Lock()
	for _, id := range r.batchOrder {
		b := r.batches[id]
		if b.awaiting && b.ExpiresAt != nil && now.After(*b.ExpiresAt) {
			b.awaiting = false
			b.expired = true
			expired = append(expired, b.ID)
			r.noteBatchStatusLocked(b, fx)
		}
	}
	r.mu.Unlock()

	r.apply(fx)
	return expired
}

// CancelTask cancels a task that has not yet been dispatched. Running tasks
// cannot be cancelled: they run to completion or failure.
func (r *Registry) CancelTask(taskID string) (TaskView, error) {
	fx := &effects{}
	r.mu.Lock()
	task, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return TaskView{}, &TaskNotFoundError{TaskID: taskID}
	}
	if err := r.cancelTaskLocked(task, fx); err != nil {
		r.mu.Unlock()
		return TaskView{}, err
	}
	view := task.view()
	r.mu.Unlock()

	r.apply(fx)
	return view, nil
}

func (r *Registry) cancelTaskLocked(task *Task, fx *effects) error {
	// A failed task waiting out its backoff is still on its way back to
	// pending; cancelling it prevents the re-entry.
	if task.State == TaskFailed && task.retryAt != nil {
		task.retryAt = nil
		fx.events = append(fx.events, eventbus.NewEvent(eventbus.SubjectTask, task.ID, eventbus.KindStateChanged, task.view()))
		fx.audits = append(fx.audits, task.view())
		r.noteBatchStatusLocked(r.batches[task.BatchID], fx)
		return nil
	}
	if !validTransition(task.State, TaskCancelled) {
		return &InvalidTransitionError{TaskID: task.ID, From: task.State, To: TaskCancelled}
	}
	now := time.Now().UTC()
	task.State = TaskCancelled
	task.CompletedAt = &now
	fx.events = append(fx.events, eventbus.NewEvent(eventbus.SubjectTask, task.ID, eventbus.KindStateChanged, task.view()))
	fx.audits = append(fx.audits, task.view())
	r.noteBatchStatusLocked(r.batches[task.BatchID], fx)
	return nil
}

// CancelBatch cancels every still-pending task in the batch. Tasks already
// running are unaffected. Awaiting batches must be rejected instead.
func (r *Registry) CancelBatch(batchID string) (BatchView, error) {
	fx := &effects{}
	r.mu.Lock()
	b, ok := r.batches[batchID]
	if !ok {
		r.mu.Unlock()
		return BatchView{}, &BatchNotFoundError{BatchID: batchID}
	}
	if b.awaiting {
		r.mu.Unlock()
		return BatchView{}, &BatchStateError{BatchID: batchID, Status: BatchAwaitingConfirmation, Op: "cancel"}
	}

	for _, id := range b.TaskIDs {
		task := r.tasks[id]
		if task.State == TaskPending || (task.State == TaskFailed && task.retryAt != nil) {
			_ = r.cancelTaskLocked(task, fx)
		}
	}
	view := r.batchViewLocked(b, false)
	r.mu.Unlock()

	r.apply(fx)
	return view, nil
}

// Dispatched is the unit of work handed to an engine worker.
type Dispatched struct {
	Task      TaskView
	Operation catalog.Operation
	Target    fleet.Target
}

// NextForDispatch blocks until an eligible pending task exists, transitions
// it to running and returns it. Returns ErrShutdown once the registry stops
// dispatching.
//
// Eligibility honors both concurrency caps: callers form the fixed worker
// pool bounding total running tasks, and at most one high-impact task runs
// at any instant regardless of free workers. Within those caps, selection
// prefers lower impact tiers and is FIFO inside a tier.
func (r *Registry) NextForDispatch() (*Dispatched, error) {
	fx := &effects{}
	r.mu.Lock()
	for {
		if r.shutdown {
			r.mu.Unlock()
			return nil, ErrShutdown
		}
		task := r.selectLocked()
		if task != nil {
			now := time.Now().UTC()
			task.State = TaskRunning
			task.StartedAt = &now
			task.AttemptCount++
			task.Progress = 0
			r.runningAll++
			if r.taskImpact[task.ID] == catalog.ImpactHigh {
				r.runningHigh++
			}
			fx.events = append(fx.events, eventbus.NewEvent(eventbus.SubjectTask, task.ID, eventbus.KindStateChanged, task.view()))
			r.noteBatchStatusLocked(r.batches[task.BatchID], fx)

			d := &Dispatched{
				Task:      task.view(),
				Operation: r.ops[task.BatchID],
				Target:    task.Target,
			}
			r.mu.Unlock()
			r.apply(fx)
			return d, nil
		}
		r.cond.Wait()
	}
}

// selectLocked picks the dispatch candidate: lowest impact tier first, FIFO
// by creation order within a tier, skipping high-impact work while another
// high-impact task runs.
func (r *Registry) selectLocked() *Task {
	var best *Task
	var bestRank int
	var bestSeq uint64

	for _, task := range r.tasks {
		if task.State != TaskPending {
			continue
		}
		impact := r.taskImpact[task.ID]
		if impact == catalog.ImpactHigh && r.runningHigh >= 1 {
			continue
		}
		rank := impactRank(impact)
		seq := r.taskSeq[task.ID]
		if best == nil || rank < bestRank || (rank == bestRank && seq < bestSeq) {
			best = task
			bestRank = rank
			bestSeq = seq
		}
	}
	return best
}

func impactRank(impact catalog.ImpactLevel) int {
	switch impact {
	case catalog.ImpactLow:
		return 0
	case catalog.ImpactMedium:
		return 1
	default:
		return 2
	}
}

// SetProgress updates a running task's progress. Progress is monotonically
// non-decreasing while the task runs; regressions are ignored.
func (r *Registry) SetProgress(taskID string, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	fx := &effects{}
	r.mu.Lock()
	task, ok := r.tasks[taskID]
	if !ok || task.State != TaskRunning || percent <= task.Progress {
		r.mu.Unlock()
		return
	}
	task.Progress = percent
	fx.events = append(fx.events, eventbus.NewEvent(eventbus.SubjectTask, task.ID, eventbus.KindProgress, task.view()))
	r.mu.Unlock()

	r.apply(fx)
}

// Complete transitions a running task to completed with progress forced
// to 100.
func (r *Registry) Complete(taskID string, result Result) error {
	fx := &effects{}
	r.mu.Lock()
	task, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return &TaskNotFoundError{TaskID: taskID}
	}
	if !validTransition(task.State, TaskCompleted) {
		from := task.State
		r.mu.Unlock()
		return &InvalidTransitionError{TaskID: taskID, From: from, To: TaskCompleted}
	}

	now := time.Now().UTC()
	task.State = TaskCompleted
	task.Progress = 100
	task.CompletedAt = &now
	r.releaseSlotLocked(task)

	fx.events = append(fx.events, eventbus.NewEvent(eventbus.SubjectTask, task.ID, eventbus.KindStateChanged, task.view()))
	fx.audits = append(fx.audits, task.view())
	r.noteBatchStatusLocked(r.batches[task.BatchID], fx)
	r.mu.Unlock()

	r.apply(fx)
	return nil
}

// Fail transitions a running task to failed with the executor error captured
// verbatim.
//
// When the failure is retryable and attempts remain, the task is marked for
// re-entry at retryAt and the caller is told to schedule the requeue; the
// audit record is deferred until the task fails for good. Otherwise the
// failure is terminal and audited now. Terminal failures on a fail-fast
// batch cancel the batch's remaining pending tasks.
func (r *Registry) Fail(taskID string, errText string, reason FailureReason, retryAt time.Time) (willRetry bool, err error) {
	fx := &effects{}
	r.mu.Lock()
	task, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return false, &TaskNotFoundError{TaskID: taskID}
	}
	if !validTransition(task.State, TaskFailed) {
		from := task.State
		r.mu.Unlock()
		return false, &InvalidTransitionError{TaskID: taskID, From: from, To: TaskFailed}
	}

	now := time.Now().UTC()
	task.State = TaskFailed
	task.Error = errText
	task.Reason = reason
	task.CompletedAt = &now
	r.releaseSlotLocked(task)

	willRetry = reason.Retryable() && task.AttemptCount < task.MaxAttempts && !r.shutdown
	if willRetry {
		at := retryAt
		task.retryAt = &at
	} else {
		task.retryAt = nil
		fx.audits = append(fx.audits, task.view())
	}

	fx.events = append(fx.events, eventbus.NewEvent(eventbus.SubjectTask, task.ID, eventbus.KindError, task.view()))

	b := r.batches[task.BatchID]
	if !willRetry && b.FailFast {
		for _, id := range b.TaskIDs {
			sibling := r.tasks[id]
			if sibling.ID != task.ID && (sibling.State == TaskPending || (sibling.State == TaskFailed && sibling.retryAt != nil)) {
				_ = r.cancelTaskLocked(sibling, fx)
			}
		}
	}
	r.noteBatchStatusLocked(b, fx)
	r.mu.Unlock()

	r.apply(fx)
	return willRetry, nil
}

// Requeue re-enters a failed task into the pending queue once its backoff
// delay has elapsed. A task whose retry was cancelled in the meantime stays
// put.
func (r *Registry) Requeue(taskID string) error {
	fx := &effects{}
	r.mu.Lock()
	task, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return &TaskNotFoundError{TaskID: taskID}
	}
	if task.State != TaskFailed || task.retryAt == nil {
		r.mu.Unlock()
		return nil
	}

	task.State = TaskPending
	task.retryAt = nil
	task.Error = ""
	task.Reason = ""
	task.Progress = 0
	task.StartedAt = nil
	task.CompletedAt = nil
	r.seq++
	r.taskSeq[task.ID] = r.seq

	fx.events = append(fx.events, eventbus.NewEvent(eventbus.SubjectTask, task.ID, eventbus.KindStateChanged, task.view()))
	r.noteBatchStatusLocked(r.batches[task.BatchID], fx)
	r.cond.Broadcast()
	r.mu.Unlock()

	r.apply(fx)
	return nil
}

func (r *Registry) releaseSlotLocked(task *Task) {
	r.runningAll--
	if r.taskImpact[task.ID] == catalog.ImpactHigh {
		r.runningHigh--
	}
	// A freed high-impact slot may unblock queued high-impact work.
	r.cond.Broadcast()
}

// Shutdown stops dispatch. Reads keep working; in-flight workers finish
// their current task.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

// --- read side -----------------------------------------------------------

func (r *Registry) countsLocked(b *Batch) (TaskCounts, int) {
	var counts TaskCounts
	retryPending := 0
	for _, id := range b.TaskIDs {
		switch task := r.tasks[id]; task.State {
		case TaskPending:
			counts.Pending++
		case TaskRunning:
			counts.Running++
		case TaskCompleted:
			counts.Completed++
		case TaskFailed:
			counts.Failed++
			if task.retryAt != nil {
				retryPending++
			}
		case TaskCancelled:
			counts.Cancelled++
		}
	}
	return counts, retryPending
}

func (r *Registry) batchStatusLocked(b *Batch) BatchStatus {
	counts, retryPending := r.countsLocked(b)
	return b.status(counts, retryPending)
}

func (r *Registry) noteBatchStatusLocked(b *Batch, fx *effects) {
	status := r.batchStatusLocked(b)
	if r.lastStatus[b.ID] == status {
		return
	}
	r.lastStatus[b.ID] = status
	fx.events = append(fx.events, eventbus.NewEvent(eventbus.SubjectBatch, b.ID, eventbus.KindStateChanged, r.batchViewLocked(b, false)))
}

func (r *Registry) batchViewLocked(b *Batch, includeTasks bool) BatchView {
	counts, retryPending := r.countsLocked(b)
	view := BatchView{
		ID:          b.ID,
		OperationID: b.OperationID,
		CreatedBy:   b.CreatedBy,
		CreatedAt:   b.CreatedAt,
		Trigger:     b.Trigger,
		ScheduleID:  b.ScheduleID,
		FailFast:    b.FailFast,
		Status:      b.status(counts, retryPending),
		Counts:      counts,
		Targets:     append([]fleet.Target(nil), b.Targets...),
		Skipped:     append([]fleet.SkippedTarget(nil), b.Skipped...),
		ConfirmedAt: b.ConfirmedAt,
		ExpiresAt:   b.ExpiresAt,
	}
	if includeTasks {
		for _, id := range b.TaskIDs {
			view.Tasks = append(view.Tasks, r.tasks[id].view())
		}
	}
	return view
}

// GetBatch returns a batch snapshot, optionally including per-task views.
func (r *Registry) GetBatch(batchID string, includeTasks bool) (BatchView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return BatchView{}, &BatchNotFoundError{BatchID: batchID}
	}
	return r.batchViewLocked(b, includeTasks), nil
}

// GetTask returns a task snapshot.
func (r *Registry) GetTask(taskID string) (TaskView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return TaskView{}, &TaskNotFoundError{TaskID: taskID}
	}
	return task.view(), nil
}

// Snapshot returns current views of all batches (tasks included), newest
// first. Push-channel consumers use this on (re)connect instead of a
// backlog replay.
func (r *Registry) Snapshot() []BatchView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BatchView, 0, len(r.batchOrder))
	for _, id := range r.batchOrder {
		out = append(out, r.batchViewLocked(r.batches[id], true))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// HasActiveBatchForSchedule reports whether any batch created by the given
// schedule still has in-flight work. The scheduler defers schedule deletion
// while this holds.
func (r *Registry) HasActiveBatchForSchedule(scheduleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.batches {
		if b.ScheduleID != scheduleID {
			continue
		}
		switch r.batchStatusLocked(b) {
		case BatchRunning, BatchAwaitingConfirmation:
			return true
		}
	}
	return false
}

// RunningCounts reports current running task counts (all tiers, high tier).
// Used by tests asserting the concurrency caps.
func (r *Registry) RunningCounts() (all, high int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runningAll, r.runningHigh
}
