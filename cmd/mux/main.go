package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	apiKey  string
	timeout time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mux",
	Short: "agentmux - multi-agent query orchestrator",
	Long: `agentmux answers natural-language queries by orchestrating specialized agents.

Every query flows through one pipeline:
  1. Route: a keyword classifier picks the task type, an LLM breaks ties
  2. Plan: the decomposer splits the query into a small DAG of subtasks
  3. Execute: the engine runs subtasks with retries, timeouts, and skip cascade
  4. Aggregate: results are deduplicated and synthesized into one answer

Capabilities include web research, page scraping, code generation and sandboxed
execution, weather/stock/routing APIs, knowledge-base retrieval, OCR, and
image understanding.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .mux/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "LLM API key (or set ZAI_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY, ...)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	// Run flags
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "Attach a file; images route straight to OCR or vision")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Show a live task board while the query runs")

	// Knowledge flags
	knowledgeAddCmd.Flags().StringVar(&knowledgeTitle, "title", "", "Document title (default: first words or file name)")
	knowledgeAddCmd.Flags().StringVar(&knowledgeSource, "source", "", "Document source URL or label")
	knowledgeSearchCmd.Flags().IntVar(&knowledgeLimit, "limit", 5, "Maximum results")

	// History flags
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Maximum runs to show")

	// Knowledge subcommands
	knowledgeCmd.AddCommand(knowledgeAddCmd)
	knowledgeCmd.AddCommand(knowledgeSearchCmd)

	// Add commands to root
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(knowledgeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
