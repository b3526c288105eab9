package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentmux/internal/logging"
	"agentmux/internal/types"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// WORKFLOW ENGINE
// =============================================================================
//
// The engine runs a workflow's tasks under a bounded concurrency budget with
// per-attempt timeouts, exponential-backoff retries, and dependency-aware
// ordering. A task failure never aborts siblings in DAG or PARALLEL mode;
// downstream tasks are skipped instead. Task state is owned exclusively by
// the goroutine executing the task.

// Config configures workflow execution.
type Config struct {
	MaxParallelTasks int           // in-flight bound for DAG and PARALLEL modes
	DefaultTimeout   time.Duration // per-attempt deadline when the task sets none
	RetryBackoffBase time.Duration // sleep between attempts is 2^attempt * base
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallelTasks: 5,
		DefaultTimeout:   300 * time.Second,
		RetryBackoffBase: time.Second,
	}
}

// Engine executes workflows.
type Engine struct {
	config Config
}

// NewEngine creates an engine, sanitizing non-positive config values.
func NewEngine(config Config) *Engine {
	if config.MaxParallelTasks <= 0 {
		config.MaxParallelTasks = 5
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 300 * time.Second
	}
	if config.RetryBackoffBase <= 0 {
		config.RetryBackoffBase = time.Second
	}
	return &Engine{config: config}
}

// Execute validates the workflow, runs it under the configured mode, and
// reports per-task outcomes. Execution errors live in the result; the
// returned error is non-nil only for a structurally invalid workflow.
func (e *Engine) Execute(ctx context.Context, w *types.Workflow, onProgress types.ProgressFunc) (*types.WorkflowResult, error) {
	if w == nil {
		return nil, fmt.Errorf("execute: nil workflow")
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("execute %s: %w", w.ID, err)
	}

	logging.Engine("Executing workflow %s: %d task(s), mode=%s, max_parallel=%d",
		w.ID, len(w.Tasks), w.Mode, e.config.MaxParallelTasks)
	start := time.Now()

	switch w.Mode {
	case types.ModeSequential:
		e.executeSequential(ctx, w, onProgress)
	case types.ModeParallel:
		e.executeParallel(ctx, w, onProgress)
	default:
		e.executeDAG(ctx, w, onProgress)
	}

	result := collectResult(w, time.Since(start))
	logging.Engine("Workflow %s done in %v: %d completed, %d failed, %d skipped",
		w.ID, result.ExecutionTime, result.CompletedCount, result.FailedCount, result.SkippedCount)
	return result, nil
}

// executeSequential runs tasks in declaration order and stops at the first
// failure; unreached tasks stay PENDING.
func (e *Engine) executeSequential(ctx context.Context, w *types.Workflow, onProgress types.ProgressFunc) {
	for _, id := range w.TaskOrder() {
		if ctx.Err() != nil {
			return
		}
		if err := e.runTask(ctx, w.Tasks[id], w, onProgress); err != nil {
			logging.EngineWarn("Sequential workflow %s stopped at task %s: %v", w.ID, id, err)
			return
		}
	}
}

// executeParallel launches every task concurrently under the in-flight
// bound, ignoring dependencies.
func (e *Engine) executeParallel(ctx context.Context, w *types.Workflow, onProgress types.ProgressFunc) {
	var g errgroup.Group
	g.SetLimit(e.config.MaxParallelTasks)
	for _, id := range w.TaskOrder() {
		t := w.Tasks[id]
		g.Go(func() error {
			// Failures are recorded on the task; never cancel siblings.
			_ = e.runTask(ctx, t, w, onProgress)
			return nil
		})
	}
	_ = g.Wait()
}

// executeDAG runs tasks in dependency order: in-degree counting seeds a
// ready queue, an executing set bounded by MaxParallelTasks drains it, and
// each terminal task releases its dependents. Tasks whose dependencies
// failed or were skipped cascade to SKIPPED without running.
func (e *Engine) executeDAG(ctx context.Context, w *types.Workflow, onProgress types.ProgressFunc) {
	indegree := make(map[string]int, len(w.Tasks))
	dependents := make(map[string][]string, len(w.Tasks))
	for id, t := range w.Tasks {
		indegree[id] = len(t.Dependencies)
		for _, dep := range t.Dependencies {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	ready := make([]string, 0, len(w.Tasks))
	for _, id := range w.TaskOrder() {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	release := func(id string) {
		for _, depID := range dependents[id] {
			indegree[depID]--
			if indegree[depID] == 0 {
				ready = append(ready, depID)
			}
		}
	}

	done := make(chan string)
	executing := 0

	for len(ready) > 0 || executing > 0 {
		for len(ready) > 0 && executing < e.config.MaxParallelTasks {
			id := ready[0]
			ready = ready[1:]
			t := w.Tasks[id]

			if cause := failedDependency(t, w); cause != nil {
				if err := t.Skip(cause); err == nil {
					logging.Engine("Task %s skipped: %v", id, cause)
					e.notify(onProgress, id, types.StatusSkipped, cause)
				}
				release(id)
				continue
			}

			executing++
			go func(t *types.Task) {
				_ = e.runTask(ctx, t, w, onProgress)
				done <- t.ID
			}(t)
		}

		if executing == 0 {
			// The skip cascade refilled (or drained) the ready queue.
			continue
		}

		id := <-done
		executing--
		release(id)
	}
}

// failedDependency returns the skip cause when any dependency ended FAILED
// or SKIPPED, nil when all completed.
func failedDependency(t *types.Task, w *types.Workflow) error {
	for _, depID := range t.Dependencies {
		dep, ok := w.Tasks[depID]
		if !ok {
			continue
		}
		switch dep.Status() {
		case types.StatusFailed, types.StatusSkipped:
			return fmt.Errorf("%w: task %s requires %s which ended %s", types.ErrDependencyFailed, t.ID, depID, dep.Status())
		}
	}
	return nil
}

// runTask drives one task through its attempt loop and terminal transition.
// The returned error mirrors the task's failure so SEQUENTIAL mode can stop.
func (e *Engine) runTask(ctx context.Context, t *types.Task, w *types.Workflow, onProgress types.ProgressFunc) error {
	if err := t.Start(); err != nil {
		return err
	}
	e.notify(onProgress, t.ID, types.StatusRunning, nil)

	query, taskCtx := buildTaskContext(t, w)

	attempts := t.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	var result any
	var err error
	if t.Executor == nil {
		err = fmt.Errorf("task %s has no executor bound", t.ID)
	} else {
		for attempt := 1; attempt <= attempts; attempt++ {
			t.RecordAttempt()
			result, err = e.invokeExecutor(ctx, t, query, taskCtx)
			if err == nil {
				break
			}
			logging.EngineWarn("Task %s attempt %d/%d failed: %v", t.ID, attempt, attempts, err)
			if attempt == attempts {
				break
			}
			backoff := time.Duration(1<<uint(attempt)) * e.config.RetryBackoffBase
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				err = fmt.Errorf("task %s: %w", t.ID, ctx.Err())
				attempt = attempts
			}
		}
	}

	if err != nil {
		if ferr := t.Fail(err); ferr != nil {
			return ferr
		}
		if t.OnFailure != nil {
			t.OnFailure(err)
		}
		e.notify(onProgress, t.ID, types.StatusFailed, err)
		return err
	}

	if cerr := t.Complete(result); cerr != nil {
		return cerr
	}
	if t.OnSuccess != nil {
		t.OnSuccess(result)
	}
	logging.EngineDebug("Task %s completed in %v after %d attempt(s)", t.ID, t.Duration(), t.Attempts())
	e.notify(onProgress, t.ID, types.StatusCompleted, result)
	return nil
}

// invokeExecutor runs one attempt under the task's deadline. The executor
// goroutine is handed the attempt context and abandoned on timeout; the
// buffered channel lets it finish without leaking.
func (e *Engine) invokeExecutor(ctx context.Context, t *types.Task, query string, taskCtx map[string]any) (any, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		r, err := t.Executor.Execute(attemptCtx, query, taskCtx)
		ch <- outcome{r, err}
	}()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: task %s exceeded %v", types.ErrExecutorTimeout, t.ID, timeout)
		}
		return nil, attemptCtx.Err()
	}
}

// notify delivers a progress event; callback errors are logged and swallowed.
func (e *Engine) notify(onProgress types.ProgressFunc, taskID string, status types.TaskStatus, payload any) {
	if onProgress == nil {
		return
	}
	if err := onProgress(taskID, status, payload); err != nil {
		logging.EngineDebug("Progress callback for %s/%s returned error: %v", taskID, status, err)
	}
}

// collectResult snapshots every task's terminal state into a WorkflowResult.
func collectResult(w *types.Workflow, elapsed time.Duration) *types.WorkflowResult {
	result := &types.WorkflowResult{
		Results:       make(map[string]any),
		Errors:        make(map[string]error),
		ExecutionTime: elapsed,
		TaskCount:     len(w.Tasks),
	}
	for id, t := range w.Tasks {
		switch t.Status() {
		case types.StatusCompleted:
			result.CompletedCount++
			result.Results[id] = t.Result()
		case types.StatusFailed:
			result.FailedCount++
			result.Errors[id] = t.Err()
		case types.StatusSkipped:
			result.SkippedCount++
			result.Errors[id] = t.Err()
		}
	}
	result.Success = result.FailedCount == 0
	return result
}
