package routing

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"agentmux/internal/types"
)

// mockLLM implements types.LLMClient for classifier tests.
type mockLLM struct {
	completeFunc func(ctx context.Context, prompt string) (string, error)
	calls        int32
}

func (m *mockLLM) Complete(ctx context.Context, prompt string) (string, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.completeFunc != nil {
		return m.completeFunc(ctx, prompt)
	}
	return "", nil
}

func (m *mockLLM) CompleteWithOptions(ctx context.Context, messages []types.Message, temperature float64, maxTokens int) (string, error) {
	var prompt strings.Builder
	for _, msg := range messages {
		prompt.WriteString(msg.Content)
	}
	return m.Complete(ctx, prompt.String())
}

func (m *mockLLM) callCount() int32 { return atomic.LoadInt32(&m.calls) }

func TestLLMClassifier_ParsesStructuredResponse(t *testing.T) {
	mock := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			return "```json\n" + `{
				"task_type": "WEATHER",
				"confidence": 0.92,
				"reasoning": "asks about current conditions",
				"tools_needed": [{"tool_name": "weather_api", "tool_type": "api", "required": true}],
				"multi_intent": false,
				"alternative_tasks": ["research", "weather", "not_a_type", 42]
			}` + "\n```", nil
		},
	}

	c := NewLLMClassifier(mock, DefaultLLMClassifierConfig())
	d, err := c.Route(context.Background(), "现在北京的天气", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	if d.TaskType != types.TaskWeather {
		t.Fatalf("task = %s, want weather", d.TaskType)
	}
	if d.Confidence != 0.92 {
		t.Fatalf("confidence = %v, want 0.92", d.Confidence)
	}
	if d.Method() != types.MethodLLM {
		t.Fatalf("method = %q, want llm", d.Method())
	}
	if d.Metadata[types.MetaLanguage] != "zh" {
		t.Fatalf("language = %v, want zh", d.Metadata[types.MetaLanguage])
	}
	if len(d.RequiredTools) != 1 || d.RequiredTools[0].ToolName != "weather_api" {
		t.Fatalf("tools = %+v", d.RequiredTools)
	}
	// primary and junk entries dropped from alternatives
	if len(d.AlternativeTasks) != 1 || d.AlternativeTasks[0] != types.TaskResearch {
		t.Fatalf("alternatives = %v", d.AlternativeTasks)
	}
}

func TestLLMClassifier_ClampsConfidence(t *testing.T) {
	mock := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			return `{"task_type": "code", "confidence": 1.7}`, nil
		},
	}

	c := NewLLMClassifier(mock, DefaultLLMClassifierConfig())
	d, err := c.Route(context.Background(), "compute something", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want clamped 1.0", d.Confidence)
	}
}

func TestLLMClassifier_StringConfidenceCoerced(t *testing.T) {
	mock := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			return `{"task_type": "finance", "confidence": "0.85"}`, nil
		},
	}

	c := NewLLMClassifier(mock, DefaultLLMClassifierConfig())
	d, err := c.Route(context.Background(), "AAPL?", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.Confidence != 0.85 {
		t.Fatalf("confidence = %v, want 0.85", d.Confidence)
	}
	// No tools in the response: static requirements fill in.
	if len(d.RequiredTools) != 1 || d.RequiredTools[0].ToolName != "stock_api" {
		t.Fatalf("tools = %+v", d.RequiredTools)
	}
}

func TestLLMClassifier_UnknownTaskMapsToChat(t *testing.T) {
	mock := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			return `{"task_type": "translation", "confidence": 0.9}`, nil
		},
	}

	c := NewLLMClassifier(mock, DefaultLLMClassifierConfig())
	d, err := c.Route(context.Background(), "translate this", nil)
	if err != nil {
		t.Fatalf("unknown task name should not error: %v", err)
	}
	if d.TaskType != types.TaskChat {
		t.Fatalf("task = %s, want chat", d.TaskType)
	}
}

func TestLLMClassifier_FallbackOnClientError(t *testing.T) {
	mock := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", errors.New("connection refused")
		},
	}

	c := NewLLMClassifier(mock, DefaultLLMClassifierConfig())
	d, err := c.Route(context.Background(), "anything", nil)
	if err == nil {
		t.Fatal("expected error alongside fallback decision")
	}
	if !errors.Is(err, types.ErrLLMUnavailable) {
		t.Fatalf("error = %v, want ErrLLMUnavailable", err)
	}
	if d == nil {
		t.Fatal("fallback decision missing")
	}
	if d.TaskType != types.TaskChat || d.Confidence != 0.3 {
		t.Fatalf("fallback = %s/%v, want chat/0.3", d.TaskType, d.Confidence)
	}
	if d.Method() != types.MethodLLMFallback {
		t.Fatalf("method = %q, want llm_fallback", d.Method())
	}
	if d.Metadata[types.MetaError] == "" {
		t.Fatal("fallback missing error tag")
	}
}

func TestLLMClassifier_FallbackOnMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		resp string
	}{
		{"prose", "The query looks like a weather question to me."},
		{"broken json", `{"task_type": "weather", "confidence":`},
		{"missing task type", `{"confidence": 0.8}`},
		{"missing confidence", `{"task_type": "weather"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockLLM{
				completeFunc: func(ctx context.Context, prompt string) (string, error) {
					return tt.resp, nil
				},
			}

			c := NewLLMClassifier(mock, DefaultLLMClassifierConfig())
			d, err := c.Route(context.Background(), "anything", nil)
			if err == nil {
				t.Fatal("expected error for malformed response")
			}
			if !errors.Is(err, types.ErrMalformedLLMOutput) {
				t.Fatalf("error = %v, want ErrMalformedLLMOutput", err)
			}
			if d.Metadata[types.MetaError] != "malformed_response" {
				t.Fatalf("error tag = %v, want malformed_response", d.Metadata[types.MetaError])
			}
		})
	}
}

func TestLLMClassifier_LanguageHintSelectsPrompt(t *testing.T) {
	var sawPrompt string
	mock := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			sawPrompt = prompt
			return `{"task_type": "chat", "confidence": 0.5}`, nil
		},
	}

	c := NewLLMClassifier(mock, DefaultLLMClassifierConfig())

	// Explicit hint wins over detection.
	if _, err := c.Route(context.Background(), "hello", map[string]any{"language": "zh"}); err != nil {
		t.Fatalf("route: %v", err)
	}
	if !strings.Contains(sawPrompt, "任务类型") {
		t.Fatal("zh hint did not select the Chinese prompt")
	}

	if _, err := c.Route(context.Background(), "hello", nil); err != nil {
		t.Fatalf("route: %v", err)
	}
	if !strings.Contains(sawPrompt, "Task types") {
		t.Fatal("en query did not select the English prompt")
	}
}
