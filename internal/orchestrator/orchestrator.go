// Package orchestrator ties routing, planning, execution, and aggregation
// into the single ProcessQuery entry point the CLI calls.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agentmux/internal/aggregate"
	"agentmux/internal/engine"
	"agentmux/internal/executor"
	"agentmux/internal/logging"
	"agentmux/internal/plan"
	"agentmux/internal/store"
	"agentmux/internal/types"

	"github.com/google/uuid"
)

// =============================================================================
// ORCHESTRATOR
// =============================================================================
//
// Control flow: optional file preclassification (may answer with a single
// tool run) -> route -> decompose -> materialize a workflow bound to registry
// executors -> execute -> aggregate. Routing and planning failures degrade
// (keyword fallback, single-task plan); only an invalid query or an invalid
// workflow abort before any task runs. The response always carries an answer:
// a run with zero completed tasks reports a failure summary at confidence 0.

// QueryRouter classifies a query. *routing.HybridRouter satisfies it.
type QueryRouter interface {
	Route(ctx context.Context, query string, qctx map[string]any) (*types.RoutingDecision, error)
}

// QueryPlanner decomposes a query into a task plan. *plan.Decomposer
// satisfies it, including its contract that the returned plan is non-nil
// even alongside a non-nil error.
type QueryPlanner interface {
	Decompose(ctx context.Context, query string, qctx map[string]any) (*types.TaskPlan, error)
}

// RunRecorder persists finished runs. *store.Store satisfies it.
type RunRecorder interface {
	SaveRun(ctx context.Context, run *store.Run) error
}

// Config holds the orchestrator's components and task defaults. Router,
// Planner, Engine, Registry, and Aggregator are required.
type Config struct {
	Router     QueryRouter
	Planner    QueryPlanner
	Engine     *engine.Engine
	Registry   *executor.Registry
	Aggregator *aggregate.Aggregator

	// Recorder, when set, persists each finished run for the history command.
	Recorder RunRecorder

	// Preclassify decides whether an attached file bypasses planning.
	// Defaults to DefaultPreclassifier.
	Preclassify FilePreclassifier

	Strategy    aggregate.Strategy // aggregation strategy, default synthesis
	RetryCount  int                // per-task attempt budget
	TaskTimeout time.Duration      // per-attempt deadline, 0 uses the engine default
}

// Orchestrator processes queries end to end.
type Orchestrator struct {
	router      QueryRouter
	planner     QueryPlanner
	engine      *engine.Engine
	registry    *executor.Registry
	aggregator  *aggregate.Aggregator
	recorder    RunRecorder
	preclassify FilePreclassifier
	strategy    aggregate.Strategy
	retryCount  int
	taskTimeout time.Duration
}

// New creates an orchestrator, rejecting incomplete wiring.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Router == nil:
		return nil, fmt.Errorf("orchestrator: no router configured")
	case cfg.Planner == nil:
		return nil, fmt.Errorf("orchestrator: no planner configured")
	case cfg.Engine == nil:
		return nil, fmt.Errorf("orchestrator: no engine configured")
	case cfg.Registry == nil:
		return nil, fmt.Errorf("orchestrator: no executor registry configured")
	case cfg.Aggregator == nil:
		return nil, fmt.Errorf("orchestrator: no aggregator configured")
	}
	if cfg.Preclassify == nil {
		cfg.Preclassify = DefaultPreclassifier
	}
	if cfg.Strategy == "" {
		cfg.Strategy = aggregate.StrategySynthesis
	}
	if cfg.RetryCount < 1 {
		cfg.RetryCount = 1
	}
	return &Orchestrator{
		router:      cfg.Router,
		planner:     cfg.Planner,
		engine:      cfg.Engine,
		registry:    cfg.Registry,
		aggregator:  cfg.Aggregator,
		recorder:    cfg.Recorder,
		preclassify: cfg.Preclassify,
		strategy:    cfg.Strategy,
		retryCount:  cfg.RetryCount,
		taskTimeout: cfg.TaskTimeout,
	}, nil
}

// methodFileIntake tags responses answered by the preclassification
// short-circuit, where no routing decision exists.
const methodFileIntake = "file_preclassification"

// directAnswerConfidence is reported for preclassified single-tool answers,
// which skip synthesis entirely.
const directAnswerConfidence = 0.9

// Response is the unified answer for one processed query.
type Response struct {
	Answer     string         `json:"answer"`
	TaskType   types.TaskType `json:"task_type,omitempty"`
	Method     string         `json:"method,omitempty"`
	Cached     bool           `json:"cached,omitempty"`
	ToolsUsed  []string       `json:"tools_used,omitempty"`
	Sources    []types.Source `json:"sources,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	KeyPoints  []string       `json:"key_points,omitempty"`
	Confidence float64        `json:"confidence"`

	Goal      string        `json:"goal,omitempty"`
	TaskCount int           `json:"task_count"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// ProcessQuery runs the full pipeline for one query. file may be nil.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query string, file *Attachment) (*Response, error) {
	return o.ProcessQueryWithProgress(ctx, query, file, nil)
}

// ProcessQueryWithProgress is ProcessQuery with a task lifecycle observer.
func (o *Orchestrator) ProcessQueryWithProgress(ctx context.Context, query string, file *Attachment, onProgress types.ProgressFunc) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" && file == nil {
		return nil, fmt.Errorf("process: %w: empty query", types.ErrInvalidQuery)
	}

	start := time.Now()
	runID := uuid.NewString()
	logging.Orchestrator("Run %s: %q (file=%v)", runID, clip(query, 120), file != nil)

	if file != nil {
		if taskType, ok := o.preclassify(query, file); ok {
			logging.Orchestrator("Run %s: file preclassified as %s, skipping planner", runID, taskType)
			return o.processFile(ctx, runID, query, file, taskType, onProgress, start)
		}
	}

	decision, err := o.router.Route(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("process: %w", err)
	}

	planCtx := map[string]any{
		"task_type":  string(decision.TaskType),
		"confidence": decision.Confidence,
	}
	p, perr := o.planner.Decompose(ctx, query, planCtx)
	if p == nil {
		return nil, fmt.Errorf("process: planner returned no plan: %w", perr)
	}
	if perr != nil {
		logging.OrchestratorWarn("Run %s: planning degraded: %v", runID, perr)
	}

	w, err := o.buildWorkflow(runID, p, file)
	if err != nil {
		return nil, fmt.Errorf("process: %w", err)
	}

	wr, err := o.engine.Execute(ctx, w, onProgress)
	if err != nil {
		return nil, fmt.Errorf("process: %w", err)
	}

	agg, aggErr := o.aggregator.Aggregate(ctx, wr.Results, query, o.strategy)
	if aggErr != nil || agg == nil {
		logging.OrchestratorError("Run %s: aggregation failed: %v", runID, aggErr)
		agg = &types.AggregatedResult{Summary: failureSummary(w, wr), Confidence: 0}
	}

	resp := o.buildResponse(w, wr, agg, decision, p.Goal, time.Since(start))
	logging.Orchestrator("Run %s done in %v: %d/%d task(s) completed, confidence %.2f",
		runID, resp.Duration, resp.Completed, resp.TaskCount, resp.Confidence)
	o.record(ctx, runID, query, resp)
	return resp, nil
}

// processFile answers a preclassified file query with a single tool run. The
// task still goes through the engine so retries, timeouts, and progress
// reporting behave exactly as in planned runs.
func (o *Orchestrator) processFile(ctx context.Context, runID, query string, file *Attachment, taskType types.TaskType, onProgress types.ProgressFunc, start time.Time) (*Response, error) {
	tool := plan.ToolForTask(taskType)

	t := types.NewTask("task_1", tool, query)
	t.OutputVariable = "task_1_output"
	t.RetryCount = o.retryCount
	t.Timeout = o.taskTimeout
	t.Executor = o.registry.Get(tool)
	applyAttachment(t, file)

	w := types.NewWorkflow(runID, "file intake: "+tool, types.ModeSequential)
	if err := w.AddTask(t); err != nil {
		return nil, fmt.Errorf("process file: %w", err)
	}

	wr, err := o.engine.Execute(ctx, w, onProgress)
	if err != nil {
		return nil, fmt.Errorf("process file: %w", err)
	}

	resp := &Response{
		TaskType:  taskType,
		Method:    methodFileIntake,
		ToolsUsed: []string{tool},
		Details:   make(map[string]any, 1),
		TaskCount: wr.TaskCount,
		Completed: wr.CompletedCount,
		Failed:    wr.FailedCount,
		Skipped:   wr.SkippedCount,
		Duration:  time.Since(start),
	}
	if result, ok := wr.Results["task_1"]; ok {
		resp.Answer = stringifyResult(result)
		resp.Confidence = directAnswerConfidence
		resp.Details["task_1_output"] = result
		if sp, ok := result.(types.SourceProvider); ok {
			resp.Sources = sp.SourceRecords()
		}
	} else {
		resp.Answer = failureSummary(w, wr)
	}

	o.record(ctx, runID, query, resp)
	return resp, nil
}

// buildWorkflow materializes a validated plan as a DAG workflow, binding each
// subtask to its registry executor. A tool missing from the registry is left
// unbound; the engine fails that task and the run degrades to partial results.
func (o *Orchestrator) buildWorkflow(runID string, p *types.TaskPlan, file *Attachment) (*types.Workflow, error) {
	w := types.NewWorkflow(runID, p.Goal, types.ModeDAG)
	for i := range p.Subtasks {
		st := &p.Subtasks[i]
		t := types.NewTask(st.ID, st.Tool, st.Query)
		if st.Description != "" {
			t.Name = st.Description
		}
		t.Dependencies = append([]string(nil), st.Dependencies...)
		t.OutputVariable = st.OutputVariable
		t.RetryCount = o.retryCount
		t.Timeout = o.taskTimeout
		t.Executor = o.registry.Get(st.Tool)
		applyAttachment(t, file)
		if err := w.AddTask(t); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// buildResponse folds the workflow outcome and the aggregate into the
// response envelope. Tools and details keep plan declaration order.
func (o *Orchestrator) buildResponse(w *types.Workflow, wr *types.WorkflowResult, agg *types.AggregatedResult, decision *types.RoutingDecision, goal string, elapsed time.Duration) *Response {
	resp := &Response{
		Answer:     agg.Summary,
		TaskType:   decision.TaskType,
		Method:     decision.Method(),
		Cached:     decision.Cached(),
		Sources:    agg.Sources,
		KeyPoints:  agg.KeyPoints,
		Confidence: agg.Confidence,
		Details:    make(map[string]any, wr.CompletedCount),
		Goal:       goal,
		TaskCount:  wr.TaskCount,
		Completed:  wr.CompletedCount,
		Failed:     wr.FailedCount,
		Skipped:    wr.SkippedCount,
		Duration:   elapsed,
	}

	seen := make(map[string]bool, len(w.Tasks))
	for _, id := range w.TaskOrder() {
		t := w.Tasks[id]
		status := t.Status()
		if status == types.StatusCompleted && t.OutputVariable != "" {
			resp.Details[t.OutputVariable] = t.Result()
		}
		// Skipped tasks never invoked their tool.
		if (status == types.StatusCompleted || status == types.StatusFailed) && !seen[t.Tool] {
			seen[t.Tool] = true
			resp.ToolsUsed = append(resp.ToolsUsed, t.Tool)
		}
	}

	if wr.CompletedCount == 0 {
		resp.Answer = failureSummary(w, wr)
		resp.Confidence = 0
	}
	return resp
}

// record persists the run outcome; persistence problems only log. The parent
// context may already be done when execution timed out, so recording detaches
// from its cancellation.
func (o *Orchestrator) record(ctx context.Context, runID, query string, resp *Response) {
	if o.recorder == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	run := &store.Run{
		ID:         runID,
		Query:      query,
		TaskType:   string(resp.TaskType),
		Method:     resp.Method,
		Answer:     clip(resp.Answer, 2000),
		Confidence: resp.Confidence,
		ToolsUsed:  resp.ToolsUsed,
		TaskCount:  resp.TaskCount,
		Completed:  resp.Completed,
		Failed:     resp.Failed,
		Duration:   resp.Duration,
	}
	if err := o.recorder.SaveRun(saveCtx, run); err != nil {
		logging.OrchestratorWarn("Run %s: history save failed: %v", runID, err)
	}
}

// failureSummary names the first error so a run with zero completed tasks
// still explains itself.
func failureSummary(w *types.Workflow, wr *types.WorkflowResult) string {
	for _, id := range w.TaskOrder() {
		if err, ok := wr.Errors[id]; ok && err != nil {
			return fmt.Sprintf("No task completed (%d failed, %d skipped). First error (%s): %v",
				wr.FailedCount, wr.SkippedCount, id, err)
		}
	}
	return "No task produced a usable result for this query."
}

// stringifyResult renders a task result as the answer text.
func stringifyResult(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// clip shortens s to max runes.
func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
