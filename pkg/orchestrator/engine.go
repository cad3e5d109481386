package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pressfleet/pressfleet/pkg/fleet"
)

// EngineConfig configures the execution engine.
type EngineConfig struct {
	// Workers is the fixed worker pool size and therefore the global cap
	// on concurrently running tasks (max_concurrent_operations).
	// Default: 3
	Workers int

	// TimeoutMultiplier scales an operation's upper duration estimate
	// into the per-invocation deadline.
	// Default: 3.0
	TimeoutMultiplier float64

	// RetryBackoff is the base delay before the first retry; subsequent
	// retries back off exponentially (base, 2×base, 4×base, ...).
	// Default: 5s
	RetryBackoff time.Duration

	// RetryBackoffMax caps the exponential backoff delay.
	// Default: 5m
	RetryBackoffMax time.Duration

	// DispatchRate limits executor invocations per second across all
	// workers. Zero means unlimited. Shared hosting control planes
	// throttle aggressively; this keeps bulk actions under their limits.
	// Default: 0
	DispatchRate float64
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Workers:           3,
		TimeoutMultiplier: 3.0,
		RetryBackoff:      5 * time.Second,
		RetryBackoffMax:   5 * time.Minute,
	}
}

// Engine is the bounded worker pool that drives pending tasks to completion.
//
// Workers pull eligible tasks from the registry (which enforces the
// concurrency caps and dispatch order) and block only inside executor
// invocations. Timeouts are enforced by wrapping each invocation with a
// deadline; on expiry the task fails with a timeout error, though the
// site-side operation may continue out-of-band. That risk is surfaced in
// the error text rather than hidden.
type Engine struct {
	registry  *Registry
	executors *ExecutorRegistry
	sites     fleet.Registry // optional dispatch-time existence check
	config    EngineConfig
	limiter   *rate.Limiter
	logger    *zap.Logger

	timerMu sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewEngine creates an engine over the given registry and executor set.
//
// sites may be nil; when present, targets are re-verified at dispatch time
// and vanished sites fail with the target-gone reason instead of invoking
// the executor.
func NewEngine(registry *Registry, executors *ExecutorRegistry, sites fleet.Registry, cfg EngineConfig, logger *zap.Logger) *Engine {
	def := DefaultEngineConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.TimeoutMultiplier <= 0 {
		cfg.TimeoutMultiplier = def.TimeoutMultiplier
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.RetryBackoffMax <= 0 {
		cfg.RetryBackoffMax = def.RetryBackoffMax
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		registry:  registry,
		executors: executors,
		sites:     sites,
		config:    cfg,
		logger:    logger,
		timers:    make(map[string]*time.Timer),
	}
	if cfg.DispatchRate > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.DispatchRate), 1)
	}
	return e
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// workers have drained. Tasks still pending at shutdown stay pending;
// running executor invocations get the remainder of their deadline.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			e.registry.Shutdown()
		case <-stop:
		}
	}()

	for i := 0; i < e.config.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			e.runWorker(ctx, worker)
		}(i)
	}

	wg.Wait()
	close(stop)

	// Abandon outstanding retry timers: a retry that has not re-entered
	// the queue by shutdown stays terminally failed.
	e.timerMu.Lock()
	e.stopped = true
	for _, timer := range e.timers {
		timer.Stop()
	}
	e.timers = make(map[string]*time.Timer)
	e.timerMu.Unlock()

	return ctx.Err()
}

func (e *Engine) runWorker(ctx context.Context, worker int) {
	log := e.logger.With(zap.Int("worker", worker))
	for {
		d, err := e.registry.NextForDispatch()
		if err != nil {
			return
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				// Shutting down mid-dispatch: the task was already
				// marked running, so fail it as transient; it will
				// stay failed-with-retry until a future restart is
				// out of scope, so record the shutdown instead.
				_, _ = e.registry.Fail(d.Task.ID, "dispatch aborted: engine shutting down", ReasonTransient, time.Time{})
				return
			}
		}

		e.execute(ctx, log, d)
	}
}

// execute drives a single dispatched task through one attempt.
func (e *Engine) execute(ctx context.Context, log *zap.Logger, d *Dispatched) {
	log = log.With(
		zap.String("task_id", d.Task.ID),
		zap.String("batch_id", d.Task.BatchID),
		zap.String("operation", d.Operation.ID),
		zap.String("site_id", d.Target.SiteID),
		zap.Int("attempt", d.Task.AttemptCount))

	// Dispatch-time target check: the site may have been removed since the
	// batch was created. A vanished target fails alone; siblings proceed.
	if e.sites != nil {
		if _, err := e.sites.Get(d.Target.SiteID); err != nil {
			log.Warn("target gone at dispatch time", zap.Error(err))
			_, _ = e.registry.Fail(d.Task.ID, ErrTargetGone.Error(), ReasonTargetGone, time.Time{})
			return
		}
	}

	exec, err := e.executors.Lookup(d.Operation.ExecutorRef)
	if err != nil {
		log.Error("no executor for operation", zap.Error(err))
		_, _ = e.registry.Fail(d.Task.ID, err.Error(), ReasonPermanent, time.Time{})
		return
	}

	timeout := d.Operation.Timeout(e.config.TimeoutMultiplier)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info("dispatching task", zap.Duration("timeout", timeout))

	result, execErr := e.invoke(execCtx, exec, d)

	if execErr == nil {
		if err := e.registry.Complete(d.Task.ID, result); err != nil {
			log.Error("complete transition failed", zap.Error(err))
		}
		log.Info("task completed")
		return
	}

	reason := Classify(execErr)
	errText := execErr.Error()
	if reason == ReasonTimeout {
		errText = fmt.Sprintf("operation exceeded %s deadline: %s (the site-side operation may still be running)", timeout, errText)
	}

	delay := e.backoff(d.Task.AttemptCount)
	willRetry, err := e.registry.Fail(d.Task.ID, errText, reason, time.Now().UTC().Add(delay))
	if err != nil {
		log.Error("fail transition failed", zap.Error(err))
		return
	}

	if willRetry {
		log.Warn("task failed, retry scheduled",
			zap.String("reason", string(reason)),
			zap.Duration("backoff", delay),
			zap.String("error", errText))
		e.scheduleRequeue(d.Task.ID, delay)
	} else {
		log.Error("task failed permanently",
			zap.String("reason", string(reason)),
			zap.String("error", errText))
	}
}

// invoke runs the executor, preferring the progress-reporting capability
// when the implementation offers it.
func (e *Engine) invoke(ctx context.Context, exec Executor, d *Dispatched) (Result, error) {
	if pr, ok := exec.(ProgressReporting); ok {
		taskID := d.Task.ID
		return pr.ExecuteWithProgress(ctx, d.Target, func(percent int) {
			e.registry.SetProgress(taskID, percent)
		})
	}
	return exec.Execute(ctx, d.Target)
}

// backoff computes the exponential retry delay after the given attempt.
func (e *Engine) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.config.RetryBackoff) * math.Pow(2, float64(attempt-1)))
	if d > e.config.RetryBackoffMax {
		d = e.config.RetryBackoffMax
	}
	return d
}

func (e *Engine) scheduleRequeue(taskID string, delay time.Duration) {
	e.timerMu.Lock()
	if e.stopped {
		e.timerMu.Unlock()
		return
	}
	e.timers[taskID] = time.AfterFunc(delay, func() {
		e.timerMu.Lock()
		delete(e.timers, taskID)
		e.timerMu.Unlock()
		if err := e.registry.Requeue(taskID); err != nil {
			e.logger.Error("requeue failed", zap.String("task_id", taskID), zap.Error(err))
		}
	})
	e.timerMu.Unlock()
}
