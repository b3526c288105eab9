package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var historyLimit int

// historyCmd lists recent runs from the store
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent query runs",
	RunE:  showHistory,
}

func showHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	runs, err := st.RecentRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	for _, run := range runs {
		fmt.Printf("%s  %-8s %-24s conf=%.2f  %d/%d tasks  %s\n",
			run.CreatedAt.Format("2006-01-02 15:04"),
			run.TaskType, run.Method, run.Confidence,
			run.Completed, run.TaskCount,
			run.Duration.Round(time.Millisecond))
		fmt.Printf("    Q: %s\n", truncateLine(run.Query, 100))
		if len(run.ToolsUsed) > 0 {
			fmt.Printf("    Tools: %s\n", strings.Join(run.ToolsUsed, ", "))
		}
	}
	return nil
}
