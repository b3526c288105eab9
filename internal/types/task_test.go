package types

import (
	"errors"
	"testing"
)

func TestTaskTransitions(t *testing.T) {
	task := NewTask("t1", "search", "find things")
	if task.Status() != StatusPending {
		t.Fatalf("new task should be pending, got %s", task.Status())
	}

	if err := task.Complete("x"); err == nil {
		t.Fatalf("complete from pending must be rejected")
	}
	if err := task.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := task.Start(); err == nil {
		t.Fatalf("double start must be rejected")
	}
	if err := task.Complete("done"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.Status() != StatusCompleted || task.Result() != "done" {
		t.Fatalf("unexpected terminal state: %s %v", task.Status(), task.Result())
	}
	if err := task.Fail(errors.New("late")); err == nil {
		t.Fatalf("terminal status must not transition again")
	}
	if task.Duration() < 0 {
		t.Fatalf("negative duration")
	}
}

func TestTaskSkipOnlyFromPending(t *testing.T) {
	task := NewTask("t1", "search", "q")
	if err := task.Skip(ErrDependencyFailed); err != nil {
		t.Fatalf("skip from pending: %v", err)
	}
	if task.Status() != StatusSkipped {
		t.Fatalf("expected skipped, got %s", task.Status())
	}
	if !errors.Is(task.Err(), ErrDependencyFailed) {
		t.Fatalf("skip should record the dependency failure")
	}

	running := NewTask("t2", "search", "q")
	if err := running.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := running.Skip(ErrDependencyFailed); err == nil {
		t.Fatalf("skip from running must be rejected")
	}
}

func TestStatusTerminal(t *testing.T) {
	for status, want := range map[TaskStatus]bool{
		StatusPending:   false,
		StatusRunning:   false,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusSkipped:   true,
	} {
		if status.Terminal() != want {
			t.Fatalf("Terminal(%s) = %v, want %v", status, !want, want)
		}
	}
}

func TestWorkflowAddTaskRejectsDuplicates(t *testing.T) {
	w := NewWorkflow("w1", "test", ModeDAG)
	if err := w.AddTask(NewTask("a", "search", "q")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := w.AddTask(NewTask("a", "chat", "q2")); err == nil {
		t.Fatalf("duplicate id must be rejected")
	}
}

func TestWorkflowValidateUnknownDependency(t *testing.T) {
	w := NewWorkflow("w1", "test", ModeDAG)
	task := NewTask("a", "search", "q")
	task.Dependencies = []string{"ghost"}
	if err := w.AddTask(task); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := w.Validate(); err == nil {
		t.Fatalf("unknown dependency must fail validation")
	}
}

func TestWorkflowValidateDetectsCycle(t *testing.T) {
	w := NewWorkflow("w1", "test", ModeDAG)
	a := NewTask("a", "search", "q")
	b := NewTask("b", "search", "q")
	c := NewTask("c", "search", "q")
	a.Dependencies = []string{"c"}
	b.Dependencies = []string{"a"}
	c.Dependencies = []string{"b"}
	for _, task := range []*Task{a, b, c} {
		if err := w.AddTask(task); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	err := w.Validate()
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestWorkflowValidateSelfDependency(t *testing.T) {
	w := NewWorkflow("w1", "test", ModeDAG)
	task := NewTask("a", "search", "q")
	task.Dependencies = []string{"a"}
	if err := w.AddTask(task); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := w.Validate(); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("self-dependency should report a cycle, got %v", err)
	}
}

func TestWorkflowValidateAcceptsDiamond(t *testing.T) {
	w := NewWorkflow("w1", "test", ModeDAG)
	a := NewTask("a", "search", "q")
	b := NewTask("b", "search", "q")
	c := NewTask("c", "search", "q")
	d := NewTask("d", "chat", "q")
	b.Dependencies = []string{"a"}
	c.Dependencies = []string{"a"}
	d.Dependencies = []string{"b", "c"}
	for _, task := range []*Task{a, b, c, d} {
		if err := w.AddTask(task); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := w.Validate(); err != nil {
		t.Fatalf("diamond is acyclic, validate failed: %v", err)
	}
	order := w.TaskOrder()
	if len(order) != 4 || order[0] != "a" || order[3] != "d" {
		t.Fatalf("declaration order not preserved: %v", order)
	}
}
