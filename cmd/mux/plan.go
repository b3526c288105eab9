package main

import (
	"context"
	"fmt"
	"strings"

	"agentmux/internal/plan"

	"github.com/spf13/cobra"
)

// planCmd previews the decomposed task plan without executing it
var planCmd = &cobra.Command{
	Use:   "plan [query]",
	Short: "Preview the task plan for a query without executing it",
	Long: `Routes the query and asks the decomposer for a task plan, then prints
the plan: one line per subtask with its tool, output variable, and
dependencies. Nothing is executed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: previewPlan,
}

func previewPlan(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	query := strings.Join(args, " ")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	decision, err := p.router.Route(ctx, query, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Routed as %s (confidence %.2f, %s)\n\n", decision.TaskType, decision.Confidence, decision.Method())

	taskPlan, perr := p.planner.Decompose(ctx, query, map[string]any{
		"task_type":  string(decision.TaskType),
		"confidence": decision.Confidence,
	})
	if taskPlan == nil {
		return fmt.Errorf("no plan produced: %w", perr)
	}
	if perr != nil {
		fmt.Printf("(planner degraded to a single-step plan: %v)\n\n", perr)
	}

	fmt.Println(plan.Visualize(taskPlan))
	return nil
}
