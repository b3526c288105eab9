package routing

import (
	"context"
	"errors"
	"testing"

	"agentmux/internal/types"
)

func newTestRouter(mock *mockLLM) *HybridRouter {
	var llmc *LLMClassifier
	if mock != nil {
		llmc = NewLLMClassifier(mock, DefaultLLMClassifierConfig())
	}
	return NewHybridRouter(NewKeywordClassifier(nil), llmc, DefaultHybridConfig())
}

func TestHybridRouter_ConfidentKeywordSkipsLLM(t *testing.T) {
	mock := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			t.Fatal("LLM must not be consulted for confident keyword decisions")
			return "", nil
		},
	}
	r := newTestRouter(mock)

	d, err := r.Route(context.Background(), "What's the weather in Beijing?", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.TaskType != types.TaskWeather {
		t.Fatalf("task = %s, want weather", d.TaskType)
	}
	if d.Method() != types.MethodHybridKeyword {
		t.Fatalf("method = %q, want hybrid_keyword", d.Method())
	}
	if _, ok := d.Metadata[types.MetaKeywordConfidence]; !ok {
		t.Fatal("keyword_confidence metadata missing")
	}
	if d.Confidence < 0.7 {
		t.Fatalf("confidence %v below threshold", d.Confidence)
	}
}

func TestHybridRouter_CacheHitPreservesMethod(t *testing.T) {
	r := newTestRouter(nil)

	first, err := r.Route(context.Background(), "What's the weather in Beijing?", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if first.Cached() {
		t.Fatal("first call must not be cached")
	}

	second, err := r.Route(context.Background(), "  what's the weather in beijing?  ", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !second.Cached() {
		t.Fatal("normalized repeat should hit the cache")
	}
	if second.Method() != types.MethodHybridKeyword {
		t.Fatalf("cached method = %q, want hybrid_keyword preserved", second.Method())
	}
	if second.TaskType != types.TaskWeather {
		t.Fatalf("cached task = %s", second.TaskType)
	}
}

func TestHybridRouter_LowConfidenceEscalatesToLLM(t *testing.T) {
	mock := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			return `{"task_type": "finance", "confidence": 0.88, "reasoning": "ticker comparison"}`, nil
		},
	}
	r := newTestRouter(mock)

	// No keyword signals here beyond the base score: escalates.
	d, err := r.Route(context.Background(), "Is AAPL better value than TSLA right now", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.Method() != types.MethodHybridLLM {
		t.Fatalf("method = %q, want hybrid_llm", d.Method())
	}
	if d.TaskType != types.TaskFinance {
		t.Fatalf("task = %s, want finance", d.TaskType)
	}
	if _, ok := d.Metadata[types.MetaKeywordConfidence]; !ok {
		t.Fatal("keyword_confidence missing on llm path")
	}
	if _, ok := d.Metadata[types.MetaKeywordTask]; !ok {
		t.Fatal("keyword_task missing on llm path")
	}
	if mock.callCount() != 1 {
		t.Fatalf("llm called %d times, want 1", mock.callCount())
	}

	// Repeat: served from cache, no extra LLM call.
	d2, err := r.Route(context.Background(), "Is AAPL better value than TSLA right now", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !d2.Cached() || d2.Method() != types.MethodHybridLLM {
		t.Fatalf("cached repeat lost method/cached tags: %q cached=%v", d2.Method(), d2.Cached())
	}
	if mock.callCount() != 1 {
		t.Fatalf("cache hit still called llm: %d calls", mock.callCount())
	}
}

func TestHybridRouter_LLMErrorFallsBackToKeywordUncached(t *testing.T) {
	mock := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", errors.New("provider down")
		},
	}
	r := newTestRouter(mock)

	query := "tell me something nice"
	d, err := r.Route(context.Background(), query, nil)
	if err != nil {
		t.Fatalf("fallback path must not error: %v", err)
	}
	if d.Method() != types.MethodHybridKeywordFallback {
		t.Fatalf("method = %q, want hybrid_keyword_fallback", d.Method())
	}
	if d.Metadata[types.MetaLLMError] == nil {
		t.Fatal("llm_error metadata missing")
	}

	// Error-path decisions are not memoized; the next call retries the LLM.
	if _, err := r.Route(context.Background(), query, nil); err != nil {
		t.Fatalf("route: %v", err)
	}
	if mock.callCount() != 2 {
		t.Fatalf("llm called %d times, want 2 (no caching on fallback)", mock.callCount())
	}
}

func TestHybridRouter_NoLLMConfigured(t *testing.T) {
	r := newTestRouter(nil)

	d, err := r.Route(context.Background(), "tell me something nice", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.Method() != types.MethodHybridKeywordFallback {
		t.Fatalf("method = %q, want hybrid_keyword_fallback", d.Method())
	}
}

func TestHybridRouter_InvalidQuery(t *testing.T) {
	r := newTestRouter(nil)

	if _, err := r.Route(context.Background(), "", nil); !errors.Is(err, types.ErrInvalidQuery) {
		t.Fatalf("empty query: got %v, want ErrInvalidQuery", err)
	}
}
