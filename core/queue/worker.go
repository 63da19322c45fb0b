package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/medialib/core/logger"
	"github.com/dmitrymomot/medialib/core/logs"
)

const opLogName = "QueueWorker"

// OpLog persists operator-visible diagnostics. Satisfied by *logs.Recorder.
type OpLog interface {
	Record(e logs.Entry)
}

// Worker is the single background consumer that drains the queue. It claims
// one queued task at a time and processes its items strictly in index order.
type Worker struct {
	store Store
	bus   *EventBus
	reg   *Registry
	log   *slog.Logger
	oplog OpLog

	pollInterval    time.Duration
	watchInterval   time.Duration
	shutdownTimeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopping atomic.Bool

	stateMu         sync.RWMutex
	lastProcessedAt *time.Time
	lastError       string

	tasksProcessed atomic.Int64
}

// WorkerStatus is a point-in-time snapshot of worker state for the debug
// endpoint.
type WorkerStatus struct {
	Running         bool       `json:"running"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPollInterval sets the sleep between empty claims.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for the current item.
func WithShutdownTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.shutdownTimeout = d
		}
	}
}

// WithWorkerLogger sets the slog logger.
func WithWorkerLogger(log *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// WithOpLog sets the persistent operator log sink.
func WithOpLog(oplog OpLog) WorkerOption {
	return func(w *Worker) {
		if oplog != nil {
			w.oplog = oplog
		}
	}
}

// NewWorker creates a worker over the store, bus, and handler registry.
func NewWorker(store Store, bus *EventBus, reg *Registry, opts ...WorkerOption) (*Worker, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if bus == nil {
		bus = NewEventBus(nil)
	}
	if reg == nil {
		reg = NewRegistry()
	}

	w := &Worker{
		store:           store,
		bus:             bus,
		reg:             reg,
		log:             logger.Discard(),
		pollInterval:    2 * time.Second,
		watchInterval:   250 * time.Millisecond,
		shutdownTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// NewWorkerFromConfig creates a Worker from configuration. Additional
// options override config values.
func NewWorkerFromConfig(cfg Config, store Store, bus *EventBus, reg *Registry, opts ...WorkerOption) (*Worker, error) {
	allOpts := append([]WorkerOption{
		WithPollInterval(cfg.PollInterval),
		WithShutdownTimeout(cfg.ShutdownTimeout),
	}, opts...)
	return NewWorker(store, bus, reg, allOpts...)
}

// Start begins the claim loop. Blocking; runs until the context is
// canceled or Stop is called. Idempotent: returns nil if already running.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.stopping.Store(false)

	w.log.InfoContext(loopCtx, "worker started", logger.Duration(w.pollInterval))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		// Drain eagerly: keep claiming until the queue is empty, then wait
		// one poll interval.
		for {
			if w.stopping.Load() || loopCtx.Err() != nil {
				break
			}
			processed, err := w.processOne(loopCtx, w.stopping.Load)
			if err != nil {
				w.setLastError(err)
				w.log.ErrorContext(loopCtx, "queue iteration failed", logger.Error(err))
				break
			}
			if !processed {
				break
			}
		}

		select {
		case <-loopCtx.Done():
			w.log.Info("worker stopping")
			w.clearStarted()
			return loopCtx.Err()
		case <-ticker.C:
		}
	}
}

// Stop signals the loop and waits for the in-flight item to finish, up to
// the shutdown timeout. Idempotent: returns nil if not running.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return nil
	}
	w.stopping.Store(true)
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.log.Info("worker stopped")
		return nil
	case <-ctx.Done():
		w.log.Warn("worker shutdown timeout exceeded, current task may be left running",
			logger.Duration(w.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", w.shutdownTimeout)
	}
}

// IsRunning reports whether the claim loop is active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// Status returns the debug snapshot.
func (w *Worker) Status() WorkerStatus {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return WorkerStatus{
		Running:         w.IsRunning(),
		LastProcessedAt: w.lastProcessedAt,
		LastError:       w.lastError,
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- w.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = w.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// ProcessOne executes one loop iteration synchronously and reports whether
// a task was processed. Exposed for tests and the debug endpoint. It does
// not consult the stop flag a previous Stop left behind, so a claimed task
// always runs to finalization.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	processed, err := w.processOne(ctx, nil)
	if err != nil {
		w.setLastError(err)
	}
	return processed, err
}

// processOne claims and runs one task. A non-nil stop callback lets the
// claim loop abandon the item iteration between items during shutdown.
func (w *Worker) processOne(ctx context.Context, stop func() bool) (bool, error) {
	task, err := w.store.ClaimNextQueuedTask(ctx)
	if err != nil {
		if errors.Is(err, ErrNoTaskToClaim) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim task: %w", err)
	}

	w.wg.Add(1)
	defer w.wg.Done()

	w.log.InfoContext(ctx, "claimed task",
		logger.TaskID(task.ID), logger.TaskType(task.Type), logger.Count("items", task.TotalItems))
	w.publishTask(ctx, task.ID)

	w.runTask(ctx, task, stop)

	now := time.Now().UTC()
	w.stateMu.Lock()
	w.lastProcessedAt = &now
	w.stateMu.Unlock()
	w.tasksProcessed.Add(1)

	return true, nil
}

// runTask iterates a claimed task's items. Execution is detached from the
// worker context so graceful shutdown lets the in-flight item commit; the
// stop callback is checked between items and task cancellation flows
// through the status watcher instead.
func (w *Worker) runTask(parent context.Context, task *Task, stop func() bool) {
	handler, hasHandler := w.reg.Lookup(task.Type)

	ctx := context.WithoutCancel(parent)

	taskCtx, cancelTask := context.WithCancel(ctx)
	defer cancelTask()
	stopWatch := w.watchCancellation(taskCtx, task.ID, cancelTask)
	defer stopWatch()

	anyFailed := false
	for i := range task.Items {
		item := task.Items[i]

		// Graceful shutdown: exit between items, skipping finalization.
		// The task stays running; operators purge current to recover.
		if stop != nil && stop() {
			w.log.Info("worker stopping mid-task", logger.TaskID(task.ID), logger.ItemIndex(item.Index))
			return
		}

		status, err := w.store.TaskStatus(ctx, task.ID)
		if err != nil {
			w.setLastError(err)
			w.log.ErrorContext(ctx, "failed to re-read task status",
				logger.TaskID(task.ID), logger.Error(err))
			return
		}
		if status == StatusCanceled || status == StatusDeleted {
			w.log.InfoContext(ctx, "task canceled mid-run, stopping item loop",
				logger.TaskID(task.ID), logger.ItemIndex(item.Index))
			w.publishTask(ctx, task.ID)
			return
		}

		if item.Status != ItemQueued {
			continue
		}

		startedAt := time.Now().UTC()
		running := ItemRunning
		applied, err := w.store.UpdateItem(ctx, item.ID, ItemUpdate{Status: &running, StartedAt: &startedAt})
		if err != nil {
			w.setLastError(err)
			w.log.ErrorContext(ctx, "failed to mark item running",
				logger.TaskID(task.ID), logger.ItemIndex(item.Index), logger.Error(err))
			return
		}
		if !applied {
			// Canceled between the status check above and the write.
			continue
		}
		w.publishTask(ctx, task.ID)

		var outcome Outcome
		if !hasHandler {
			outcome = Failed("unknown task type", map[string]string{"error": "unknown task type"})
		} else {
			outcome = w.safeHandle(taskCtx, handler, task, item)
		}

		if outcome.Kind == OutcomeFailed {
			anyFailed = true
			w.setLastError(errors.New(outcome.Err))
			w.record(logs.Error(opLogName,
				fmt.Sprintf("task %d (%s) item %d failed: %s", task.ID, task.Type, item.Index, outcome.Err), nil))
		}

		if err := w.applyOutcome(ctx, task.ID, item.ID, outcome); err != nil {
			w.setLastError(err)
			w.log.ErrorContext(ctx, "failed to apply item outcome",
				logger.TaskID(task.ID), logger.ItemIndex(item.Index), logger.Error(err))
			return
		}
		w.publishTask(ctx, task.ID)
	}

	w.finalize(ctx, task.ID, anyFailed)
}

// safeHandle dispatches to the handler with panic recovery so one bad
// handler cannot take the worker down.
func (w *Worker) safeHandle(ctx context.Context, handler Handler, task *Task, item Item) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("handler panicked",
				logger.TaskID(task.ID), logger.TaskType(task.Type),
				logger.ItemIndex(item.Index), logger.ID("panic", fmt.Sprint(r)), logger.Stack())
			outcome = Failed(fmt.Sprintf("panic in handler: %v", r), nil)
		}
	}()
	return handler.Handle(ctx, task, item)
}

// applyOutcome writes the item's terminal state. The counter is bumped
// only when the completed write took effect: if cancellation won the race
// the sticky-cancel rule discards the outcome, and counting it would push
// completed_items past the number of completed items.
func (w *Worker) applyOutcome(ctx context.Context, taskID, itemID int64, outcome Outcome) error {
	finishedAt := time.Now().UTC()
	status := ItemCompleted
	if outcome.Kind == OutcomeFailed {
		status = ItemFailed
	}

	applied, err := w.store.UpdateItem(ctx, itemID, ItemUpdate{
		Status:     &status,
		Result:     outcome.Result,
		FinishedAt: &finishedAt,
	})
	if err != nil {
		return err
	}

	if applied && status == ItemCompleted {
		return w.store.IncrementCompletedItems(ctx, taskID)
	}
	return nil
}

// finalize computes the terminal task status after the item loop. Canceled
// and deleted tasks are left as-is.
func (w *Worker) finalize(ctx context.Context, taskID int64, anyFailed bool) {
	task, err := w.store.GetTask(ctx, taskID)
	if err != nil {
		w.setLastError(err)
		w.log.ErrorContext(ctx, "failed to load task for finalization",
			logger.TaskID(taskID), logger.Error(err))
		return
	}

	if task.Status == StatusCanceled || task.Status == StatusDeleted {
		w.publishTask(ctx, taskID)
		return
	}

	var failedItems []int
	for _, item := range task.Items {
		if item.Status == ItemFailed {
			failedItems = append(failedItems, item.Index)
		}
	}

	final := StatusCompleted
	if anyFailed || len(failedItems) > 0 {
		final = StatusFailed
	}
	finishedAt := time.Now().UTC()
	if err := w.store.UpdateTaskStatus(ctx, taskID, final, &finishedAt); err != nil {
		w.setLastError(err)
		w.log.ErrorContext(ctx, "failed to finalize task", logger.TaskID(taskID), logger.Error(err))
		return
	}

	if final == StatusFailed {
		w.record(logs.Error(opLogName,
			fmt.Sprintf("task %d (%s) finished with %d failed item(s): %v",
				taskID, task.Type, len(failedItems), failedItems), nil))
	}

	w.log.InfoContext(ctx, "task finished",
		logger.TaskID(taskID), logger.TaskType(task.Type), logger.ID("status", string(final)))
	w.publishTask(ctx, taskID)
}

// watchCancellation polls the task status and cancels the handler context
// once the task is canceled or deleted, so in-flight provider calls abort
// promptly. Returns a stop function.
func (w *Worker) watchCancellation(ctx context.Context, taskID int64, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(w.watchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				status, err := w.store.TaskStatus(ctx, taskID)
				if err != nil {
					continue
				}
				if status == StatusCanceled || status == StatusDeleted {
					cancel()
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

func (w *Worker) publishTask(ctx context.Context, taskID int64) {
	task, err := w.store.GetTask(ctx, taskID)
	if err != nil {
		w.log.Debug("skipping event publish, task not readable",
			logger.TaskID(taskID), logger.Error(err))
		return
	}
	w.bus.PublishTaskUpdate(task)
}

func (w *Worker) record(e logs.Entry) {
	if w.oplog != nil {
		w.oplog.Record(e)
	}
}

func (w *Worker) setLastError(err error) {
	if err == nil {
		return
	}
	w.stateMu.Lock()
	w.lastError = err.Error()
	w.stateMu.Unlock()
}

func (w *Worker) clearStarted() {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel = nil
	}
	w.mu.Unlock()
}
