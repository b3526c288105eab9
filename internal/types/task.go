package types

import (
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// TASK STATUS
// =============================================================================

// TaskStatus is the lifecycle state of a runtime task. Transitions are
// one-way: PENDING -> RUNNING -> (COMPLETED | FAILED), or PENDING -> SKIPPED
// when an upstream dependency failed.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusSkipped   TaskStatus = "skipped"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

func (s TaskStatus) String() string { return string(s) }

// =============================================================================
// EXECUTION MODE
// =============================================================================

// ExecutionMode selects how the engine schedules a workflow's tasks.
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential" // declaration order, stop at first failure
	ModeParallel   ExecutionMode = "parallel"   // all at once under the concurrency bound
	ModeDAG        ExecutionMode = "dag"        // dependency order, bounded parallelism
)

// =============================================================================
// RUNTIME TASK
// =============================================================================

// Task is one unit of work inside a workflow. Declarative fields are set
// before execution and never change; runtime fields are guarded by mu and
// mutated only through the transition methods.
type Task struct {
	ID             string
	Name           string
	Tool           string // executor name in the registry
	Query          string // query template, may contain {{variable}} placeholders
	Inputs         map[string]any
	Dependencies   []string
	OutputVariable string
	RetryCount     int           // attempt budget, 0 means single attempt
	Timeout        time.Duration // per-attempt deadline, 0 means engine default

	// Executor is the capability bound to this task at workflow build time.
	Executor Executor

	// Optional outcome hooks, invoked once after the terminal transition.
	OnSuccess func(result any)
	OnFailure func(err error)

	mu        sync.Mutex
	status    TaskStatus
	result    any
	err       error
	startedAt time.Time
	endedAt   time.Time
	attempts  int
}

// NewTask returns a PENDING task with the given declarative fields.
func NewTask(id, tool, query string) *Task {
	return &Task{
		ID:     id,
		Name:   id,
		Tool:   tool,
		Query:  query,
		Inputs: make(map[string]any),
		status: StatusPending,
	}
}

// Status returns the current lifecycle state.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Result returns the stored result; meaningful only after COMPLETED.
func (t *Task) Result() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Err returns the stored failure; meaningful only after FAILED or SKIPPED.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Attempts returns how many execution attempts have been recorded.
func (t *Task) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Duration returns wall time between start and terminal transition, or 0 if
// the task never ran.
func (t *Task) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startedAt.IsZero() || t.endedAt.IsZero() {
		return 0
	}
	return t.endedAt.Sub(t.startedAt)
}

// RecordAttempt increments the attempt counter.
func (t *Task) RecordAttempt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
}

// Start transitions PENDING -> RUNNING.
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPending {
		return fmt.Errorf("task %s: cannot start from %s", t.ID, t.status)
	}
	t.status = StatusRunning
	t.startedAt = time.Now()
	return nil
}

// Complete transitions RUNNING -> COMPLETED and stores the result.
func (t *Task) Complete(result any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusRunning {
		return fmt.Errorf("task %s: cannot complete from %s", t.ID, t.status)
	}
	t.status = StatusCompleted
	t.result = result
	t.endedAt = time.Now()
	return nil
}

// Fail transitions RUNNING -> FAILED and stores the error.
func (t *Task) Fail(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusRunning {
		return fmt.Errorf("task %s: cannot fail from %s", t.ID, t.status)
	}
	t.status = StatusFailed
	t.err = err
	t.endedAt = time.Now()
	return nil
}

// Skip transitions PENDING -> SKIPPED, recording which dependency failed.
func (t *Task) Skip(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPending {
		return fmt.Errorf("task %s: cannot skip from %s", t.ID, t.status)
	}
	t.status = StatusSkipped
	t.err = err
	t.endedAt = time.Now()
	return nil
}

// =============================================================================
// WORKFLOW
// =============================================================================

// Workflow is a set of tasks plus an execution mode. Tasks are keyed by id;
// declaration order is preserved for SEQUENTIAL scheduling.
type Workflow struct {
	ID    string
	Name  string
	Mode  ExecutionMode
	Tasks map[string]*Task

	order []string
}

// NewWorkflow returns an empty workflow. Mode defaults to DAG when empty.
func NewWorkflow(id, name string, mode ExecutionMode) *Workflow {
	if mode == "" {
		mode = ModeDAG
	}
	return &Workflow{
		ID:    id,
		Name:  name,
		Mode:  mode,
		Tasks: make(map[string]*Task),
	}
}

// AddTask registers a task; duplicate ids are rejected.
func (w *Workflow) AddTask(t *Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("workflow %s: task must have an id", w.ID)
	}
	if _, exists := w.Tasks[t.ID]; exists {
		return fmt.Errorf("workflow %s: duplicate task id %q", w.ID, t.ID)
	}
	w.Tasks[t.ID] = t
	w.order = append(w.order, t.ID)
	return nil
}

// TaskOrder returns task ids in declaration order.
func (w *Workflow) TaskOrder() []string {
	return append([]string(nil), w.order...)
}

// Validate checks dependency references and, for DAG workflows, acyclicity.
// It is idempotent and safe to call before every execution.
func (w *Workflow) Validate() error {
	if len(w.Tasks) == 0 {
		return fmt.Errorf("workflow %s: no tasks", w.ID)
	}
	for id, t := range w.Tasks {
		for _, dep := range t.Dependencies {
			if dep == id {
				return fmt.Errorf("%w: task %s depends on itself", ErrCycleDetected, id)
			}
			if _, ok := w.Tasks[dep]; !ok {
				return fmt.Errorf("task %s depends on unknown task %q", id, dep)
			}
		}
	}
	if w.Mode == ModeDAG {
		return w.checkAcyclic()
	}
	return nil
}

// checkAcyclic runs a DFS with a recursion stack over the dependency edges.
func (w *Workflow) checkAcyclic() error {
	visited := make(map[string]bool, len(w.Tasks))
	inStack := make(map[string]bool, len(w.Tasks))

	var visit func(id string) error
	visit = func(id string) error {
		visited[id] = true
		inStack[id] = true
		for _, dep := range w.Tasks[id].Dependencies {
			if inStack[dep] {
				return fmt.Errorf("%w: involving task %s", ErrCycleDetected, dep)
			}
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		inStack[id] = false
		return nil
	}

	for _, id := range w.order {
		if !visited[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// WORKFLOW RESULT
// =============================================================================

// WorkflowResult is the outcome of one engine execution. Success means no
// task FAILED; skipped tasks do not count as failures.
type WorkflowResult struct {
	Success        bool
	Results        map[string]any
	Errors         map[string]error
	ExecutionTime  time.Duration
	TaskCount      int
	CompletedCount int
	FailedCount    int
	SkippedCount   int
}
