package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"agentmux/internal/logging"
	"agentmux/internal/types"
)

// =============================================================================
// CHAT EXECUTOR
// =============================================================================

const chatSystemPrompt = `You are a helpful, knowledgeable assistant. Answer the user's question directly and concisely. When context from earlier workflow steps is provided, ground your answer in it and do not contradict it.`

// ChatConfig configures the conversational executor.
type ChatConfig struct {
	Temperature float64
	MaxTokens   int
}

// DefaultChatConfig returns conversational defaults.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{Temperature: 0.7, MaxTokens: 1024}
}

// ChatExecutor answers CHAT tasks with a direct LLM completion.
type ChatExecutor struct {
	client types.LLMClient
	config ChatConfig
}

// NewChatExecutor creates a chat executor, filling config defaults.
func NewChatExecutor(client types.LLMClient, config ChatConfig) *ChatExecutor {
	def := DefaultChatConfig()
	if config.Temperature <= 0 {
		config.Temperature = def.Temperature
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = def.MaxTokens
	}
	return &ChatExecutor{client: client, config: config}
}

func (e *ChatExecutor) Name() string { return "chat" }

func (e *ChatExecutor) Execute(ctx context.Context, query string, taskCtx map[string]any) (any, error) {
	if e.client == nil {
		return nil, fmt.Errorf("chat: %w: no client configured", types.ErrLLMUnavailable)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("chat: %w: empty query", types.ErrInvalidQuery)
	}

	messages := []types.Message{{Role: "system", Content: chatSystemPrompt}}
	if contextBlock := renderUpstreamContext(taskCtx); contextBlock != "" {
		messages = append(messages, types.Message{Role: "system", Content: contextBlock})
	}
	messages = append(messages, types.Message{Role: "user", Content: query})

	answer, err := e.client.CompleteWithOptions(ctx, messages, e.config.Temperature, e.config.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w: %v", types.ErrLLMUnavailable, err)
	}
	logging.ExecutorDebug("Chat answered %q (%d chars)", truncateRunes(query, 80), len(answer))
	return strings.TrimSpace(answer), nil
}

// renderUpstreamContext folds dependency results from the task context into
// a prompt block. Keys are sorted so prompts stay deterministic.
func renderUpstreamContext(taskCtx map[string]any) string {
	var keys []string
	for k := range taskCtx {
		if strings.HasSuffix(k, "_result") {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("Context from earlier steps:\n")
	for _, k := range keys {
		step := strings.TrimSuffix(k, "_result")
		fmt.Fprintf(&sb, "\n[%s]\n%s\n", step, truncateRunes(contextString(taskCtx[k]), 4000))
	}
	return sb.String()
}

// contextString renders a dependency result for prompt inclusion.
func contextString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
