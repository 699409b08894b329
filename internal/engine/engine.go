// Package engine schedules WorkItems through a two-queue loop: a strict
// FIFO primary queue fed from the batch source, and a time-gated delayed
// queue holding retries until their NotBefore. One dispatcher goroutine
// runs everything; items never execute concurrently with each other.
package engine

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/config"
)

// persistTimeout bounds each PersistResult call so a stuck store cannot
// stall the scheduler.
const persistTimeout = 30 * time.Second

// cancelledContext is the terminal context recorded for items the run never
// finished because its context was cancelled.
const cancelledContext = "run canceled before item completed"

// staleLinkContext is the terminal context recorded when the retry budget
// runs out.
const staleLinkContext = "stale or expired link"

// -- Interfaces for Dependency Inversion --

// Worker processes one scheduled execution of a WorkItem.
type Worker interface {
	Process(ctx context.Context, task Task) (Outcome, error)
}

// Store persists terminal results. Persistence failures are logged, never
// fatal to the run.
type Store interface {
	PersistResult(ctx context.Context, res *schemas.Result) error
}

// Task is one execution of a WorkItem. Attempt starts at 1 on the primary
// pass and counts every execution, retries included. Proxy is non-nil on
// retries whose earlier attempt already resolved a route.
type Task struct {
	Item    schemas.WorkItem
	Proxy   *schemas.ProxyProfile
	Attempt int
}

// Outcome is the worker's report for one execution. Proxy is filled as soon
// as resolution happened, error or not, so a retry reuses the same route
// instead of drawing a fresh one. Resources is only set on success.
type Outcome struct {
	ArtifactPath string
	Resources    []schemas.ResourceRecord
	Proxy        *schemas.ProxyProfile
}

// Engine owns the dispatch loop and the retry bookkeeping.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger
	worker Worker
	store  Store
}

// New creates the scheduler. Worker and store are injected as interfaces so
// tests can swap them out.
func New(cfg *config.Config, logger *zap.Logger, worker Worker, store Store) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: config is required")
	}
	if worker == nil {
		return nil, errors.New("engine: worker is required")
	}
	if store == nil {
		return nil, errors.New("engine: store is required")
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "engine")),
		worker: worker,
		store:  store,
	}, nil
}

// runState is the per-run mutable state threaded through the dispatch loop.
type runState struct {
	runID   string
	log     *zap.Logger
	delayed *retryQueue
	results []schemas.Result
}

// Run processes the batch to completion and returns one terminal Result per
// item, in completion order. After every processed item the delayed queue
// is drained of due retries; once the primary queue is empty the loop
// sleeps until the earliest NotBefore and keeps draining. On cancellation
// the items still queued get terminal error Results so the
// one-result-per-item invariant holds.
func (e *Engine) Run(ctx context.Context, items []schemas.WorkItem) ([]schemas.Result, error) {
	st := &runState{
		runID:   uuid.NewString(),
		delayed: &retryQueue{},
		results: make([]schemas.Result, 0, len(items)),
	}
	st.log = e.logger.With(zap.String("run_id", st.runID))
	heap.Init(st.delayed)

	st.log.Info("Run started", zap.Int("items", len(items)))

	for idx, item := range items {
		if ctx.Err() != nil {
			e.cancelRemaining(ctx, st, items[idx:])
			return st.results, ctx.Err()
		}
		e.runPrimary(ctx, st, item)
		if stopped := e.drainDue(ctx, st); stopped {
			e.cancelRemaining(ctx, st, items[idx+1:])
			return st.results, ctx.Err()
		}
	}

	for st.delayed.Len() > 0 {
		next := (*st.delayed)[0].NotBefore
		if wait := time.Until(next); wait > 0 {
			st.log.Debug("Primary queue empty, sleeping until next retry",
				zap.Time("not_before", next),
				zap.Duration("wait", wait),
			)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				e.cancelRemaining(ctx, st, nil)
				return st.results, ctx.Err()
			case <-timer.C:
			}
		}
		if stopped := e.drainDue(ctx, st); stopped {
			e.cancelRemaining(ctx, st, nil)
			return st.results, ctx.Err()
		}
	}

	ok, failed := tally(st.results)
	st.log.Info("Run finished",
		zap.Int("results", len(st.results)),
		zap.Int("captured", ok),
		zap.Int("failed", failed),
	)
	return st.results, nil
}

// runPrimary executes an item's first attempt.
func (e *Engine) runPrimary(ctx context.Context, st *runState, item schemas.WorkItem) {
	task := Task{Item: item, Attempt: 1}
	outcome, err := e.attempt(ctx, task)
	if err == nil {
		e.recordOK(ctx, st, task, outcome)
		return
	}
	taskErr := classify(err)
	if taskErr.Kind.Retryable() {
		e.enqueueRetry(st, task, outcome, e.retryBudget(), taskErr)
		return
	}
	e.recordError(ctx, st, task, taskErr, taskErr.ContextMessage())
}

// runRetry executes one due entry from the delayed queue.
func (e *Engine) runRetry(ctx context.Context, st *runState, pending *schemas.PendingRetry) {
	attempt := e.retryBudget() - pending.AttemptsRemaining + 2
	task := Task{Item: pending.Item, Proxy: pending.Proxy, Attempt: attempt}

	outcome, err := e.attempt(ctx, task)
	if err == nil {
		e.recordOK(ctx, st, task, outcome)
		return
	}
	taskErr := classify(err)
	if !taskErr.Kind.Retryable() {
		e.recordError(ctx, st, task, taskErr, taskErr.ContextMessage())
		return
	}
	remaining := pending.AttemptsRemaining - 1
	if remaining <= 0 {
		st.log.Warn("Retry budget exhausted",
			zap.String("link", task.Item.Link),
			zap.String("region", task.Item.Region),
			zap.Int("attempts", task.Attempt),
		)
		e.recordError(ctx, st, task, taskErr, staleLinkContext)
		return
	}
	e.enqueueRetry(st, task, outcome, remaining, taskErr)
}

// drainDue runs every delayed entry whose gate has passed. Returns true
// when the context died mid-drain.
func (e *Engine) drainDue(ctx context.Context, st *runState) bool {
	for st.delayed.Len() > 0 {
		if ctx.Err() != nil {
			return true
		}
		if (*st.delayed)[0].NotBefore.After(time.Now()) {
			return false
		}
		pending := heap.Pop(st.delayed).(*schemas.PendingRetry)
		e.runRetry(ctx, st, pending)
	}
	return false
}

// attempt invokes the worker and converts a panic into a retryable failure
// at the item boundary so nothing can crash the loop.
func (e *Engine) attempt(ctx context.Context, task Task) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Worker panic recovered",
				zap.String("link", task.Item.Link),
				zap.Int("attempt", task.Attempt),
				zap.Any("panic", r),
			)
			err = schemas.NewTaskError(schemas.ErrCaptureFailure, fmt.Sprintf("worker panic: %v", r), nil)
		}
	}()
	return e.worker.Process(ctx, task)
}

// enqueueRetry pushes the item into the delayed queue with the route its
// failed attempt resolved, gated RetryDelay into the future.
func (e *Engine) enqueueRetry(st *runState, task Task, outcome Outcome, remaining int, taskErr *schemas.TaskError) {
	proxy := outcome.Proxy
	if proxy == nil {
		proxy = task.Proxy
	}
	notBefore := time.Now().Add(e.cfg.Engine.RetryDelay)
	heap.Push(st.delayed, &schemas.PendingRetry{
		Item:              task.Item,
		Proxy:             proxy,
		AttemptsRemaining: remaining,
		NotBefore:         notBefore,
	})
	st.log.Info("Item scheduled for retry",
		zap.String("link", task.Item.Link),
		zap.String("region", task.Item.Region),
		zap.String("kind", string(taskErr.Kind)),
		zap.Int("attempts_remaining", remaining),
		zap.Time("not_before", notBefore),
	)
}

// cancelRemaining writes terminal cancellation Results for every item the
// run never finished: the untouched primary tail plus the delayed queue.
func (e *Engine) cancelRemaining(ctx context.Context, st *runState, primaryTail []schemas.WorkItem) {
	st.log.Warn("Run cancelled, closing out queued items",
		zap.Int("primary_remaining", len(primaryTail)),
		zap.Int("delayed_remaining", st.delayed.Len()),
	)
	for _, item := range primaryTail {
		task := Task{Item: item, Attempt: 0}
		e.recordCancelled(ctx, st, task)
	}
	for st.delayed.Len() > 0 {
		pending := heap.Pop(st.delayed).(*schemas.PendingRetry)
		executed := e.retryBudget() - pending.AttemptsRemaining + 1
		task := Task{Item: pending.Item, Proxy: pending.Proxy, Attempt: executed}
		e.recordCancelled(ctx, st, task)
	}
}

func (e *Engine) recordOK(ctx context.Context, st *runState, task Task, outcome Outcome) {
	st.log.Info("Item captured",
		zap.String("link", task.Item.Link),
		zap.String("region", task.Item.Region),
		zap.Int("attempts", task.Attempt),
		zap.String("artifact", outcome.ArtifactPath),
	)
	e.record(ctx, st, schemas.Result{
		RunID:        st.runID,
		Status:       schemas.StatusOK,
		Item:         task.Item,
		Timestamp:    time.Now().UTC(),
		ArtifactPath: outcome.ArtifactPath,
		Attempts:     task.Attempt,
		Resources:    outcome.Resources,
	})
}

func (e *Engine) recordError(ctx context.Context, st *runState, task Task, taskErr *schemas.TaskError, contextMsg string) {
	log := st.log.Warn
	if taskErr.Kind == schemas.ErrArchiveFailure {
		// A finished capture was lost; this must not drown in warnings.
		log = st.log.Error
	}
	log("Item failed terminally",
		zap.String("link", task.Item.Link),
		zap.String("region", task.Item.Region),
		zap.String("kind", string(taskErr.Kind)),
		zap.Int("attempts", task.Attempt),
		zap.Error(taskErr),
	)
	e.record(ctx, st, schemas.Result{
		RunID:     st.runID,
		Status:    schemas.StatusError,
		Item:      task.Item,
		Timestamp: time.Now().UTC(),
		Context:   contextMsg,
		Attempts:  task.Attempt,
	})
}

func (e *Engine) recordCancelled(ctx context.Context, st *runState, task Task) {
	e.record(ctx, st, schemas.Result{
		RunID:     st.runID,
		Status:    schemas.StatusError,
		Item:      task.Item,
		Timestamp: time.Now().UTC(),
		Context:   cancelledContext,
		Attempts:  task.Attempt,
	})
}

// record appends the terminal Result and persists it. The persist context
// survives run cancellation so the tail of a cancelled run is still saved.
func (e *Engine) record(ctx context.Context, st *runState, res schemas.Result) {
	st.results = append(st.results, res)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := e.store.PersistResult(persistCtx, &res); err != nil {
		st.log.Error("Result not persisted",
			zap.String("link", res.Item.Link),
			zap.Error(err),
		)
	}
}

// retryBudget is the number of re-attempts an item gets after its first
// failure.
func (e *Engine) retryBudget() int {
	if e.cfg.Engine.RetryAttempts < 1 {
		return 1
	}
	return e.cfg.Engine.RetryAttempts
}

// classify coerces any worker error into a TaskError; unclassified errors
// count as capture failures and stay retryable.
func classify(err error) *schemas.TaskError {
	if taskErr, ok := schemas.AsTaskError(err); ok {
		return taskErr
	}
	return schemas.NewTaskError(schemas.ErrCaptureFailure, "unclassified failure", err)
}

func tally(results []schemas.Result) (ok, failed int) {
	for _, res := range results {
		if res.Status == schemas.StatusOK {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}

// -- Delayed Queue --

// retryQueue is a min-heap ordered by NotBefore.
type retryQueue []*schemas.PendingRetry

func (q retryQueue) Len() int { return len(q) }

func (q retryQueue) Less(i, j int) bool { return q[i].NotBefore.Before(q[j].NotBefore) }

func (q retryQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *retryQueue) Push(x any) { *q = append(*q, x.(*schemas.PendingRetry)) }

func (q *retryQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
