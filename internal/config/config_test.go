package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// =============================================================================
// UNIFIED CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "agentmux" {
		t.Errorf("expected Name=agentmux, got %s", cfg.Name)
	}
	if cfg.Routing.ConfidenceThreshold != 0.7 {
		t.Errorf("expected ConfidenceThreshold=0.7, got %v", cfg.Routing.ConfidenceThreshold)
	}
	if cfg.Routing.CacheCapacity != 1000 {
		t.Errorf("expected CacheCapacity=1000, got %d", cfg.Routing.CacheCapacity)
	}
	if cfg.Routing.MaxQueryLength != 10000 {
		t.Errorf("expected MaxQueryLength=10000, got %d", cfg.Routing.MaxQueryLength)
	}
	if cfg.Engine.MaxParallelTasks != 5 {
		t.Errorf("expected MaxParallelTasks=5, got %d", cfg.Engine.MaxParallelTasks)
	}
	if cfg.Engine.RetryCount != 3 {
		t.Errorf("expected RetryCount=3, got %d", cfg.Engine.RetryCount)
	}
	if cfg.Plan.MaxSubtasks != 10 {
		t.Errorf("expected MaxSubtasks=10, got %d", cfg.Plan.MaxSubtasks)
	}
	if cfg.Aggregator.SimilarityThreshold != 0.85 {
		t.Errorf("expected SimilarityThreshold=0.85, got %v", cfg.Aggregator.SimilarityThreshold)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	// Ensure no env vars interfere
	t.Setenv("ZAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("XAI_API_KEY", "")
	t.Setenv("GENAI_API_KEY", "")
	t.Setenv("AGENTMUX_DB", "")
	t.Setenv("AGENTMUX_KEYWORDS", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.APIKey = "sk-test"
	cfg.Engine.MaxParallelTasks = 8

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("config did not survive save/load round-trip (-want +got):\n%s", diff)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("ZAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("XAI_API_KEY", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope", "config.yaml"))
	if err != nil {
		t.Fatalf("Load of missing file should not error: %v", err)
	}
	if cfg.Routing.CacheCapacity != 1000 {
		t.Errorf("missing file should yield defaults, got cache capacity %d", cfg.Routing.CacheCapacity)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte("llm: [not a map"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error for malformed YAML")
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.GetLLMTimeout().Seconds() != 120 {
		t.Errorf("expected 120s LLM timeout, got %v", cfg.GetLLMTimeout())
	}
	if cfg.GetTaskTimeout().Seconds() != 300 {
		t.Errorf("expected 300s task timeout, got %v", cfg.GetTaskTimeout())
	}

	cfg.Engine.TaskTimeout = "bogus"
	if cfg.GetTaskTimeout().Seconds() != 300 {
		t.Errorf("malformed timeout should fall back to 300s, got %v", cfg.GetTaskTimeout())
	}
	cfg.Browser.PageTimeout = "15s"
	if cfg.GetPageTimeout().Seconds() != 15 {
		t.Errorf("expected 15s page timeout, got %v", cfg.GetPageTimeout())
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing API key")
	}

	cfg.LLM.APIKey = "k"
	cfg.LLM.Provider = "nonsense"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid provider")
	}

	cfg.LLM.Provider = "openai"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg.Routing.ConfidenceThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for out-of-range threshold")
	}
	cfg.Routing.ConfidenceThreshold = 0.7

	cfg.Engine.MaxParallelTasks = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero parallelism")
	}
}
