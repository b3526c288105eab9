package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	knowledgeTitle  string
	knowledgeSource string
	knowledgeLimit  int
)

// knowledgeCmd groups knowledge base management
var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the local knowledge base used by the rag tool",
}

var knowledgeAddCmd = &cobra.Command{
	Use:   "add [text|@file]",
	Short: "Add a document to the knowledge base",
	Long: `Stores a document for retrieval by the rag executor. Pass the content
inline or reference a file with @:

  mux knowledge add "The deploy runbook lives in ops/deploy.md" --title runbook
  mux knowledge add @docs/architecture.md --source docs/architecture.md

With an embedding API key configured the document is embedded for semantic
search; otherwise search falls back to keyword matching.`,
	Args: cobra.MinimumNArgs(1),
	RunE: knowledgeAdd,
}

var knowledgeSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  knowledgeSearch,
}

func knowledgeAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	content := strings.Join(args, " ")
	title := knowledgeTitle
	source := knowledgeSource

	if strings.HasPrefix(content, "@") {
		path := strings.TrimPrefix(content, "@")
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
		content = string(data)
		if title == "" {
			title = filepath.Base(path)
		}
		if source == "" {
			source = path
		}
	}
	if title == "" {
		title = truncateLine(content, 60)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	id, err := st.AddDocument(ctx, title, content, source)
	if err != nil {
		return err
	}

	fmt.Printf("Added document %d: %s (%d chars)\n", id, title, len(content))
	return nil
}

func knowledgeSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	query := strings.Join(args, " ")

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	sources, err := st.SearchKnowledge(ctx, query, knowledgeLimit)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Println("No matching documents.")
		return nil
	}

	for i, src := range sources {
		fmt.Printf("%2d. [%.2f] %s\n", i+1, src.Score, src.Title)
		if src.URL != "" {
			fmt.Printf("    %s\n", src.URL)
		}
		snippet := strings.Join(strings.Fields(src.Content), " ")
		fmt.Printf("    %s\n", truncateLine(snippet, 160))
	}
	return nil
}
