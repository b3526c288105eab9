package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agentmux/internal/types"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubExecutor runs an injectable function as its Execute body.
type stubExecutor struct {
	name string
	fn   func(ctx context.Context, query string, taskCtx map[string]any) (any, error)
}

func (s *stubExecutor) Name() string { return s.name }

func (s *stubExecutor) Execute(ctx context.Context, query string, taskCtx map[string]any) (any, error) {
	return s.fn(ctx, query, taskCtx)
}

func succeedWith(result any) *stubExecutor {
	return &stubExecutor{name: "stub", fn: func(context.Context, string, map[string]any) (any, error) {
		return result, nil
	}}
}

func failWith(err error) *stubExecutor {
	return &stubExecutor{name: "stub", fn: func(context.Context, string, map[string]any) (any, error) {
		return nil, err
	}}
}

func taskWith(id string, deps []string, exec types.Executor) *types.Task {
	task := types.NewTask(id, "stub", "run "+id)
	task.Dependencies = deps
	task.Executor = exec
	return task
}

func workflowWith(t *testing.T, mode types.ExecutionMode, tasks ...*types.Task) *types.Workflow {
	t.Helper()
	w := types.NewWorkflow("wf-test", "test", mode)
	for _, task := range tasks {
		if err := w.AddTask(task); err != nil {
			t.Fatalf("AddTask(%s): %v", task.ID, err)
		}
	}
	return w
}

// testEngine uses a millisecond backoff base so retry tests stay fast.
func testEngine(maxParallel int) *Engine {
	return NewEngine(Config{
		MaxParallelTasks: maxParallel,
		DefaultTimeout:   5 * time.Second,
		RetryBackoffBase: time.Millisecond,
	})
}

func TestEngine_SequentialStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	w := workflowWith(t, types.ModeSequential,
		taskWith("a", nil, succeedWith("A")),
		taskWith("b", nil, failWith(boom)),
		taskWith("c", nil, succeedWith("C")),
	)

	res, err := testEngine(2).Execute(context.Background(), w, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("Success = true, want false after a task failure")
	}
	if res.CompletedCount != 1 || res.FailedCount != 1 || res.SkippedCount != 0 {
		t.Errorf("counts = %d/%d/%d completed/failed/skipped, want 1/1/0",
			res.CompletedCount, res.FailedCount, res.SkippedCount)
	}
	if got := res.Results["a"]; got != "A" {
		t.Errorf("Results[a] = %v, want A", got)
	}
	if !errors.Is(res.Errors["b"], boom) {
		t.Errorf("Errors[b] = %v, want wrapped boom", res.Errors["b"])
	}
	if got := w.Tasks["c"].Status(); got != types.StatusPending {
		t.Errorf("task c status = %s, want pending (never reached)", got)
	}
	if _, ok := res.Results["c"]; ok {
		t.Error("unreached task must not appear in Results")
	}
	if _, ok := res.Errors["c"]; ok {
		t.Error("unreached task must not appear in Errors")
	}
}

func TestEngine_ParallelHonorsConcurrencyBound(t *testing.T) {
	const bound = 2
	var cur, peak atomic.Int32
	exec := &stubExecutor{name: "stub", fn: func(context.Context, string, map[string]any) (any, error) {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		cur.Add(-1)
		return "ok", nil
	}}

	w := types.NewWorkflow("wf-bound", "test", types.ModeParallel)
	for i := 0; i < 6; i++ {
		if err := w.AddTask(taskWith(fmt.Sprintf("t%d", i), nil, exec)); err != nil {
			t.Fatal(err)
		}
	}

	res, err := testEngine(bound).Execute(context.Background(), w, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.CompletedCount != 6 {
		t.Errorf("CompletedCount = %d, want 6", res.CompletedCount)
	}
	if got := peak.Load(); got > bound {
		t.Errorf("observed %d tasks in flight, bound is %d", got, bound)
	}
}

func TestEngine_ParallelFailureDoesNotCancelSiblings(t *testing.T) {
	slow := &stubExecutor{name: "stub", fn: func(context.Context, string, map[string]any) (any, error) {
		time.Sleep(30 * time.Millisecond)
		return "done", nil
	}}
	w := workflowWith(t, types.ModeParallel,
		taskWith("fast-fail", nil, failWith(errors.New("boom"))),
		taskWith("slow-1", nil, slow),
		taskWith("slow-2", nil, slow),
	)

	res, err := testEngine(3).Execute(context.Background(), w, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("Success = true, want false")
	}
	if res.CompletedCount != 2 || res.FailedCount != 1 {
		t.Errorf("counts = %d completed, %d failed, want 2 and 1", res.CompletedCount, res.FailedCount)
	}
}

func TestEngine_DAGOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(id string) *stubExecutor {
		return &stubExecutor{name: "stub", fn: func(context.Context, string, map[string]any) (any, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return id, nil
		}}
	}

	w := workflowWith(t, types.ModeDAG,
		taskWith("a", nil, record("a")),
		taskWith("b", []string{"a"}, record("b")),
		taskWith("c", []string{"a"}, record("c")),
		taskWith("d", []string{"b", "c"}, record("d")),
	)

	res, err := testEngine(4).Execute(context.Background(), w, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.CompletedCount != 4 {
		t.Fatalf("result = success=%v completed=%d, want all 4 completed", res.Success, res.CompletedCount)
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if !(pos["a"] < pos["b"] && pos["a"] < pos["c"] && pos["b"] < pos["d"] && pos["c"] < pos["d"]) {
		t.Errorf("execution order %v violates dependency edges", order)
	}
}

func TestEngine_DAGInjectsDependencyResults(t *testing.T) {
	search := taskWith("search", nil, succeedWith("quantum results"))
	search.OutputVariable = "search_results"

	var gotQuery string
	var gotCtx map[string]any
	summarize := taskWith("summarize", []string{"search"}, &stubExecutor{
		name: "stub",
		fn: func(_ context.Context, q string, tc map[string]any) (any, error) {
			gotQuery, gotCtx = q, tc
			return "summary", nil
		},
	})
	summarize.Query = "Summarize: {{search_results}}"
	summarize.Inputs["style"] = "bullet points about {{search_results}}"
	summarize.Inputs["limit"] = 3

	w := workflowWith(t, types.ModeDAG, search, summarize)
	if _, err := testEngine(2).Execute(context.Background(), w, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if gotQuery != "Summarize: quantum results" {
		t.Errorf("query = %q, want substituted form", gotQuery)
	}
	if got := gotCtx["search_result"]; got != "quantum results" {
		t.Errorf("taskCtx[search_result] = %v, want dependency result", got)
	}
	if got := gotCtx["style"]; got != "bullet points about quantum results" {
		t.Errorf("taskCtx[style] = %v, want substituted input", got)
	}
	if got := gotCtx["limit"]; got != 3 {
		t.Errorf("taskCtx[limit] = %v, want untouched non-string input", got)
	}
}

func TestEngine_DAGSkipsDependentsOfFailedTask(t *testing.T) {
	boom := errors.New("boom")
	w := workflowWith(t, types.ModeDAG,
		taskWith("a", nil, failWith(boom)),
		taskWith("b", []string{"a"}, succeedWith("B")),
		taskWith("c", []string{"b"}, succeedWith("C")),
		taskWith("e", nil, succeedWith("E")),
	)

	res, err := testEngine(2).Execute(context.Background(), w, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("Success = true, want false")
	}
	if res.CompletedCount != 1 || res.FailedCount != 1 || res.SkippedCount != 2 {
		t.Errorf("counts = %d/%d/%d completed/failed/skipped, want 1/1/2",
			res.CompletedCount, res.FailedCount, res.SkippedCount)
	}
	for _, id := range []string{"b", "c"} {
		if got := w.Tasks[id].Status(); got != types.StatusSkipped {
			t.Errorf("task %s status = %s, want skipped", id, got)
		}
		if !errors.Is(res.Errors[id], types.ErrDependencyFailed) {
			t.Errorf("Errors[%s] = %v, want ErrDependencyFailed", id, res.Errors[id])
		}
	}
	if got := res.Results["e"]; got != "E" {
		t.Errorf("independent task e result = %v, want E", got)
	}
}

func TestEngine_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	exec := &stubExecutor{name: "stub", fn: func(context.Context, string, map[string]any) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "finally", nil
	}}
	flaky := taskWith("flaky", nil, exec)
	flaky.RetryCount = 3

	w := workflowWith(t, types.ModeSequential, flaky)
	res, err := testEngine(1).Execute(context.Background(), w, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("Success = false, errors: %v", res.Errors)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("executor called %d times, want 3", got)
	}
	if got := flaky.Attempts(); got != 3 {
		t.Errorf("Attempts() = %d, want 3", got)
	}
	if got := res.Results["flaky"]; got != "finally" {
		t.Errorf("Results[flaky] = %v, want finally", got)
	}
}

func TestEngine_RetryExhaustionFailsTask(t *testing.T) {
	boom := errors.New("still broken")
	var calls atomic.Int32
	exec := &stubExecutor{name: "stub", fn: func(context.Context, string, map[string]any) (any, error) {
		calls.Add(1)
		return nil, boom
	}}
	doomed := taskWith("doomed", nil, exec)
	doomed.RetryCount = 2

	w := workflowWith(t, types.ModeSequential, doomed)
	res, err := testEngine(1).Execute(context.Background(), w, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("executor called %d times, want 2", got)
	}
	if !errors.Is(res.Errors["doomed"], boom) {
		t.Errorf("Errors[doomed] = %v, want wrapped boom", res.Errors["doomed"])
	}
}

func TestEngine_ZeroRetryCountMeansSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	exec := &stubExecutor{name: "stub", fn: func(context.Context, string, map[string]any) (any, error) {
		calls.Add(1)
		return nil, errors.New("boom")
	}}

	w := workflowWith(t, types.ModeSequential, taskWith("once", nil, exec))
	if _, err := testEngine(1).Execute(context.Background(), w, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("executor called %d times, want exactly 1", got)
	}
}

func TestEngine_TimeoutFailsTask(t *testing.T) {
	exec := &stubExecutor{name: "stub", fn: func(ctx context.Context, _ string, _ map[string]any) (any, error) {
		select {
		case <-time.After(5 * time.Second):
			return "too slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	slow := taskWith("slow", nil, exec)
	slow.Timeout = 30 * time.Millisecond

	w := workflowWith(t, types.ModeSequential, slow)
	res, err := testEngine(1).Execute(context.Background(), w, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := slow.Status(); got != types.StatusFailed {
		t.Errorf("task status = %s, want failed", got)
	}
	if !errors.Is(res.Errors["slow"], types.ErrExecutorTimeout) {
		t.Errorf("Errors[slow] = %v, want ErrExecutorTimeout", res.Errors["slow"])
	}
}

func TestEngine_RejectsInvalidWorkflow(t *testing.T) {
	if _, err := testEngine(1).Execute(context.Background(), nil, nil); err == nil {
		t.Error("Execute(nil) error = nil, want error")
	}

	w := workflowWith(t, types.ModeDAG,
		taskWith("a", []string{"b"}, succeedWith("A")),
		taskWith("b", []string{"a"}, succeedWith("B")),
	)
	res, err := testEngine(1).Execute(context.Background(), w, nil)
	if err == nil {
		t.Fatal("Execute error = nil, want cycle error")
	}
	if !errors.Is(err, types.ErrCycleDetected) {
		t.Errorf("error = %v, want ErrCycleDetected", err)
	}
	if res != nil {
		t.Error("result must be nil when validation fails")
	}
}

func TestEngine_ProgressCallbackErrorsAreSwallowed(t *testing.T) {
	var events []string
	onProgress := func(taskID string, status types.TaskStatus, _ any) error {
		events = append(events, taskID+":"+string(status))
		return errors.New("observer exploded")
	}

	w := workflowWith(t, types.ModeSequential, taskWith("only", nil, succeedWith("ok")))
	res, err := testEngine(1).Execute(context.Background(), w, onProgress)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Errorf("Success = false, callback errors must not affect outcome: %v", res.Errors)
	}
	want := []string{"only:running", "only:completed"}
	if len(events) != len(want) || events[0] != want[0] || events[1] != want[1] {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestEngine_NilExecutorFailsWithoutRetry(t *testing.T) {
	orphan := taskWith("orphan", nil, nil)
	orphan.RetryCount = 3

	w := workflowWith(t, types.ModeSequential, orphan)
	res, err := testEngine(1).Execute(context.Background(), w, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := orphan.Attempts(); got != 0 {
		t.Errorf("Attempts() = %d, want 0 when no executor is bound", got)
	}
	if got := orphan.Status(); got != types.StatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
	if msg := res.Errors["orphan"]; msg == nil || !strings.Contains(msg.Error(), "no executor") {
		t.Errorf("Errors[orphan] = %v, want message naming the missing executor", msg)
	}
}

func TestEngine_OutcomeHooks(t *testing.T) {
	boom := errors.New("boom")

	var succeeded any
	ok := taskWith("ok", nil, succeedWith(42))
	ok.OnSuccess = func(result any) { succeeded = result }

	var failed error
	bad := taskWith("bad", nil, failWith(boom))
	bad.OnFailure = func(err error) { failed = err }

	w := workflowWith(t, types.ModeParallel, ok, bad)
	if _, err := testEngine(2).Execute(context.Background(), w, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if succeeded != 42 {
		t.Errorf("OnSuccess payload = %v, want 42", succeeded)
	}
	if !errors.Is(failed, boom) {
		t.Errorf("OnFailure payload = %v, want wrapped boom", failed)
	}
}
