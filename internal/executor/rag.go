package executor

import (
	"context"
	"fmt"
	"strings"

	"agentmux/internal/logging"
	"agentmux/internal/types"
)

// =============================================================================
// RAG EXECUTOR
// =============================================================================

// KnowledgeSearcher is the slice of the store the RAG executor needs.
type KnowledgeSearcher interface {
	SearchKnowledge(ctx context.Context, query string, limit int) ([]types.Source, error)
}

// RAGConfig configures retrieval-augmented answering.
type RAGConfig struct {
	Limit       int // documents retrieved per query
	Temperature float64
	MaxTokens   int
}

// DefaultRAGConfig returns retrieval defaults.
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{Limit: 5, Temperature: 0.3, MaxTokens: 1024}
}

// RAGExecutor retrieves knowledge base documents and, when an LLM client is
// configured, synthesizes an answer grounded in them. Without a client it
// returns the retrieved documents directly.
type RAGExecutor struct {
	searcher KnowledgeSearcher
	client   types.LLMClient
	config   RAGConfig
}

// NewRAGExecutor creates a RAG executor, filling config defaults.
func NewRAGExecutor(searcher KnowledgeSearcher, client types.LLMClient, config RAGConfig) *RAGExecutor {
	def := DefaultRAGConfig()
	if config.Limit <= 0 {
		config.Limit = def.Limit
	}
	if config.Temperature <= 0 {
		config.Temperature = def.Temperature
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = def.MaxTokens
	}
	return &RAGExecutor{searcher: searcher, client: client, config: config}
}

func (e *RAGExecutor) Name() string { return "rag" }

func (e *RAGExecutor) Execute(ctx context.Context, query string, taskCtx map[string]any) (any, error) {
	if e.searcher == nil {
		return nil, fmt.Errorf("rag: no knowledge store configured")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("rag: %w: empty query", types.ErrInvalidQuery)
	}

	sources, err := e.searcher.SearchKnowledge(ctx, query, e.config.Limit)
	if err != nil {
		return nil, fmt.Errorf("rag search: %w", err)
	}
	if len(sources) == 0 {
		logging.ExecutorWarn("RAG found no documents for %q", truncateRunes(query, 80))
		return &ResearchResult{Query: query, Summary: "No knowledge base entries matched: " + query}, nil
	}
	logging.Executor("RAG retrieved %d document(s) for %q", len(sources), truncateRunes(query, 80))

	summary := renderSources(query, sources)
	if e.client != nil {
		if answer, err := e.synthesize(ctx, query, sources); err != nil {
			logging.ExecutorWarn("RAG synthesis failed, returning raw documents: %v", err)
		} else {
			summary = answer
		}
	}

	return &ResearchResult{Query: query, Sources: sources, Summary: summary}, nil
}

// synthesize asks the LLM to answer from the retrieved documents only.
func (e *RAGExecutor) synthesize(ctx context.Context, query string, sources []types.Source) (string, error) {
	var sb strings.Builder
	sb.WriteString("Answer the question using ONLY the documents below. Cite document numbers like [1]. If the documents do not contain the answer, say so.\n\nDOCUMENTS:\n")
	for i, src := range sources {
		content := src.Content
		if content == "" {
			content = src.Snippet
		}
		fmt.Fprintf(&sb, "\n[%d] %s\n%s\n", i+1, src.Title, truncateRunes(content, 2000))
	}
	fmt.Fprintf(&sb, "\nQUESTION: %s\n", query)

	messages := []types.Message{{Role: "user", Content: sb.String()}}
	answer, err := e.client.CompleteWithOptions(ctx, messages, e.config.Temperature, e.config.MaxTokens)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrLLMUnavailable, err)
	}
	return strings.TrimSpace(answer), nil
}
