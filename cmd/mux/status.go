package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// statusCmd shows configuration and component readiness
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agentmux configuration and component status",
	RunE:  showStatus,
}

func showStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("agentmux %s\n", cfg.Version)
	fmt.Println("========================")

	if cfg.LLM.APIKey != "" {
		fmt.Printf("✓ LLM: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	} else {
		fmt.Println("✗ LLM: no API key configured")
	}

	if cfg.Store.EmbeddingAPIKey != "" {
		fmt.Printf("✓ Embeddings: %s\n", cfg.Store.EmbeddingModel)
	} else {
		fmt.Println("✗ Embeddings: not configured (keyword search only)")
	}

	if cfg.Browser.Enabled {
		fmt.Printf("✓ Browser rendering enabled (headless=%v, max %d pages)\n",
			cfg.Browser.Headless, cfg.Browser.MaxPages)
	} else {
		fmt.Println("- Browser rendering disabled")
	}

	if cfg.Routing.KeywordFile != "" {
		watch := ""
		if cfg.Routing.WatchKeywords {
			watch = ", hot-reload on"
		}
		fmt.Printf("✓ Keyword overrides: %s%s\n", cfg.Routing.KeywordFile, watch)
	} else {
		fmt.Println("- Keyword tables: built-in defaults")
	}

	fmt.Printf("  Routing threshold: %.2f, cache capacity: %d\n",
		cfg.Routing.ConfidenceThreshold, cfg.Routing.CacheCapacity)
	fmt.Printf("  Engine: %d parallel tasks, %d retries, %s task timeout\n",
		cfg.Engine.MaxParallelTasks, cfg.Engine.RetryCount, cfg.Engine.TaskTimeout)
	fmt.Printf("  Aggregation: %s (similarity %.2f)\n",
		cfg.Aggregator.DefaultStrategy, cfg.Aggregator.SimilarityThreshold)

	st, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Printf("✗ Store: %v\n", err)
		return nil
	}
	defer st.Close()

	docs, err := st.DocumentCount(ctx)
	if err != nil {
		fmt.Printf("✗ Store: %v\n", err)
		return nil
	}
	runs, _ := st.RecentRuns(ctx, 1)
	fmt.Printf("✓ Store: %s (%d document(s)", cfg.Store.DatabasePath, docs)
	if len(runs) > 0 {
		fmt.Printf(", last run %s", runs[0].CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Println(")")

	return nil
}
