package main

import (
	"context"
	"fmt"
	"strings"

	"agentmux/internal/llm"
	"agentmux/internal/types"

	"github.com/spf13/cobra"
)

// classifyCmd dumps the routing decision without executing anything
var classifyCmd = &cobra.Command{
	Use:   "classify [query]",
	Short: "Show the routing decision for a query",
	Long: `Classifies the query and prints the decision: task type, confidence,
and which method produced it (keyword match, LLM fallback, or cache).

Without an API key the LLM fallback is disabled and low-confidence keyword
decisions stand as-is.`,
	Args: cobra.MinimumNArgs(1),
	RunE: classifyQuery,
}

func classifyQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	query := strings.Join(args, " ")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// LLM escalation only when a key is configured; classify stays usable
	// offline on keyword decisions alone.
	var client types.LLMClient
	if cfg.LLM.APIKey != "" {
		client, err = llm.NewFromConfig(ctx, cfg)
		if err != nil {
			return err
		}
	}

	router := newRouter(cfg, client)
	decision, err := router.Route(ctx, query, nil)
	if err != nil {
		return err
	}

	fmt.Printf("Query:      %s\n", decision.Query)
	fmt.Printf("Task type:  %s\n", decision.TaskType)
	fmt.Printf("Confidence: %.2f\n", decision.Confidence)
	fmt.Printf("Method:     %s\n", decision.Method())
	if decision.Reasoning != "" {
		fmt.Printf("Reasoning:  %s\n", decision.Reasoning)
	}
	if decision.IsMultiIntent {
		alts := make([]string, len(decision.AlternativeTasks))
		for i, t := range decision.AlternativeTasks {
			alts[i] = string(t)
		}
		fmt.Printf("Multi-intent: yes (also %s)\n", strings.Join(alts, ", "))
	}
	if len(decision.RequiredTools) > 0 {
		names := make([]string, len(decision.RequiredTools))
		for i, t := range decision.RequiredTools {
			names[i] = t.ToolName
		}
		fmt.Printf("Tools:      %s\n", strings.Join(names, ", "))
	}
	return nil
}
