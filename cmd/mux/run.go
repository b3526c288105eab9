package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"agentmux/internal/orchestrator"
	"agentmux/internal/types"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runFile  string
	runWatch bool
)

// runCmd processes one query through the full pipeline
var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Process a query through the full pipeline",
	Long: `Routes the query, decomposes it into subtasks, executes them with the
registered capability executors, and aggregates the results into one answer.

Examples:
  mux run "What's the weather in Tokyo and how is AAPL doing?"
  mux run "Summarize the latest Go release notes" --watch
  mux run "What does this receipt say?" --file receipt.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

// maxInlineFile bounds how much of an attachment is loaded into memory;
// larger files ride along as a path only.
const maxInlineFile = 20 << 20

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	query := strings.Join(args, " ")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	file, err := loadAttachment(runFile)
	if err != nil {
		return err
	}

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	logger.Info("Processing query", zap.String("query", query), zap.Bool("file", file != nil))

	var resp *orchestrator.Response
	if runWatch {
		resp, err = runWithBoard(ctx, p.orch, query, file)
	} else {
		resp, err = p.orch.ProcessQueryWithProgress(ctx, query, file, printProgress)
	}
	if err != nil {
		return err
	}

	printResponse(resp)
	return nil
}

// loadAttachment stats and loads the --file argument. Small files are read
// into memory so image detection can sniff content instead of trusting the
// extension.
func loadAttachment(path string) (*orchestrator.Attachment, error) {
	if path == "" {
		return nil, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("attachment: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("attachment: %s is a directory", path)
	}

	att := &orchestrator.Attachment{Name: filepath.Base(path), Path: path}
	if info.Size() <= maxInlineFile {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("attachment: %w", err)
		}
		att.Data = data
	}
	return att, nil
}

// printProgress reports task transitions inline when no task board is up.
func printProgress(taskID string, status types.TaskStatus, payload any) error {
	switch status {
	case types.StatusRunning:
		fmt.Printf("  ▸ %s running\n", taskID)
	case types.StatusCompleted:
		fmt.Printf("  ✓ %s completed\n", taskID)
	case types.StatusFailed:
		fmt.Printf("  ✗ %s failed: %v\n", taskID, payload)
	case types.StatusSkipped:
		fmt.Printf("  - %s skipped\n", taskID)
	}
	return nil
}

// printResponse renders the answer as markdown plus a short result footer.
func printResponse(resp *orchestrator.Response) {
	fmt.Println()
	answer := resp.Answer
	if renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	); err == nil {
		if rendered, rerr := renderer.Render(answer); rerr == nil {
			answer = rendered
		}
	}
	fmt.Print(answer)
	if !strings.HasSuffix(answer, "\n") {
		fmt.Println()
	}

	if len(resp.KeyPoints) > 0 {
		fmt.Println("Key points:")
		for _, kp := range resp.KeyPoints {
			fmt.Printf("  • %s\n", kp)
		}
	}
	if len(resp.Sources) > 0 {
		fmt.Println("Sources:")
		for i, src := range resp.Sources {
			if i >= 5 {
				fmt.Printf("  ... and %d more\n", len(resp.Sources)-i)
				break
			}
			line := src.Title
			if line == "" {
				line = src.URL
			} else if src.URL != "" {
				line += " (" + src.URL + ")"
			}
			fmt.Printf("  [%d] %s\n", i+1, line)
		}
	}

	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("Type: %s | Method: %s | Confidence: %.2f", resp.TaskType, resp.Method, resp.Confidence)
	if resp.Cached {
		fmt.Print(" | cached")
	}
	fmt.Println()
	if len(resp.ToolsUsed) > 0 {
		fmt.Printf("Tools: %s\n", strings.Join(resp.ToolsUsed, ", "))
	}
	fmt.Printf("Tasks: %d/%d completed", resp.Completed, resp.TaskCount)
	if resp.Failed > 0 {
		fmt.Printf(", %d failed", resp.Failed)
	}
	if resp.Skipped > 0 {
		fmt.Printf(", %d skipped", resp.Skipped)
	}
	fmt.Printf(" in %s\n", resp.Duration.Round(time.Millisecond))
}
