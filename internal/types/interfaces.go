package types

import (
	"context"
)

// Message is one turn of an LLM conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// LLMClient defines the interface for LLM interactions. Implementations live
// in internal/llm; every consumer (classifier, decomposer, aggregator,
// executors) accepts this interface so tests can inject mocks.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithOptions(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error)
}

// VisionClient is an optional interface for LLM clients that accept image
// input. Use type assertion to check support:
//
//	if vc, ok := client.(types.VisionClient); ok {
//	    text, err := vc.CompleteWithImage(ctx, prompt, img, "image/png")
//	}
type VisionClient interface {
	CompleteWithImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// Executor is a capability back-end: search, code evaluation, a domain API.
// Execute receives the resolved query (placeholders substituted) and the
// task context, which includes declared inputs plus injected dependency
// results under "<depID>_result" keys.
type Executor interface {
	Name() string
	Execute(ctx context.Context, query string, taskCtx map[string]any) (any, error)
}

// ProgressFunc observes task lifecycle transitions during workflow execution.
// Errors returned by the callback are logged and swallowed; they never affect
// the task outcome.
type ProgressFunc func(taskID string, status TaskStatus, payload any) error

// SourceProvider is an optional interface for task results that carry
// structured provenance (search hits, retrieved documents). The aggregator
// prefers these records over the result's plain string projection.
type SourceProvider interface {
	SourceRecords() []Source
}
