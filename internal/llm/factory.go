package llm

import (
	"context"
	"fmt"

	"agentmux/internal/config"
	"agentmux/internal/logging"
	"agentmux/internal/types"
)

// defaultBaseURLs maps providers to their OpenAI-compatible endpoints.
var defaultBaseURLs = map[string]string{
	"zai":    "https://api.z.ai/api/paas/v4",
	"openai": "https://api.openai.com/v1",
	"xai":    "https://api.x.ai/v1",
}

// defaultModels maps providers to a reasonable default model.
var defaultModels = map[string]string{
	"zai":       "glm-4.6",
	"openai":    "gpt-4o-mini",
	"xai":       "grok-3-mini",
	"anthropic": "claude-sonnet-4-20250514",
	"gemini":    "gemini-2.5-flash",
}

// NewFromConfig builds an LLM client for the configured provider.
// zai, openai and xai share the OpenAI chat-completions wire format;
// anthropic and gemini get dedicated clients.
func NewFromConfig(ctx context.Context, cfg *config.Config) (types.LLMClient, error) {
	provider := cfg.LLM.Provider
	model := cfg.LLM.Model
	if model == "" {
		model = defaultModels[provider]
	}

	var client types.LLMClient

	switch provider {
	case "zai", "openai", "xai":
		baseURL := cfg.LLM.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURLs[provider]
		}
		client = NewOpenAIClientWithConfig(OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: baseURL,
			Model:   model,
			Timeout: cfg.GetLLMTimeout(),
		})

	case "anthropic":
		acfg := DefaultAnthropicConfig(cfg.LLM.APIKey)
		acfg.Model = model
		acfg.Timeout = cfg.GetLLMTimeout()
		if cfg.LLM.BaseURL != "" {
			acfg.BaseURL = cfg.LLM.BaseURL
		}
		client = NewAnthropicClientWithConfig(acfg)

	case "gemini":
		gc, err := NewGeminiClient(ctx, GeminiConfig{
			APIKey: cfg.LLM.APIKey,
			Model:  model,
		})
		if err != nil {
			return nil, err
		}
		client = gc

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", provider)
	}

	logging.LLM("Client initialized: provider=%s model=%s", provider, model)
	return client, nil
}

// NewSchedulerFromConfig builds a call scheduler sized to the provider's
// concurrency limit.
func NewSchedulerFromConfig(cfg *config.Config) *Scheduler {
	sc := DefaultSchedulerConfig()
	if cfg.LLM.MaxConcurrent > 0 {
		sc.MaxConcurrentCalls = cfg.LLM.MaxConcurrent
	}
	return NewScheduler(sc)
}
