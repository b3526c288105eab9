// Package config loads agentmux configuration from YAML with environment
// variable overrides for credentials and paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all agentmux configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Router configuration
	Routing RoutingConfig `yaml:"routing"`

	// Decomposer configuration
	Plan PlanConfig `yaml:"plan"`

	// Workflow engine configuration
	Engine EngineConfig `yaml:"engine"`

	// Result aggregator configuration
	Aggregator AggregatorConfig `yaml:"aggregator"`

	// Knowledge base and history storage
	Store StoreConfig `yaml:"store"`

	// Headless browser fallback for research
	Browser BrowserConfig `yaml:"browser"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the LLM client.
type LLMConfig struct {
	Provider      string `yaml:"provider"` // zai, anthropic, openai, gemini, xai
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	BaseURL       string `yaml:"base_url"`
	Timeout       string `yaml:"timeout"`
	MaxConcurrent int    `yaml:"max_concurrent"` // API scheduler slots
	MaxRetries    int    `yaml:"max_retries"`    // retries on transient API errors
}

// RoutingConfig configures the hybrid router.
type RoutingConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"` // keyword decision accepted at or above this
	CacheCapacity       int     `yaml:"cache_capacity"`
	MaxQueryLength      int     `yaml:"max_query_length"`
	DefaultLanguage     string  `yaml:"default_language"` // "en" or "zh"
	KeywordFile         string  `yaml:"keyword_file"`     // optional YAML keyword overrides
	WatchKeywords       bool    `yaml:"watch_keywords"`   // hot-reload the keyword file
}

// PlanConfig configures the task decomposer.
type PlanConfig struct {
	MaxSubtasks int     `yaml:"max_subtasks"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// EngineConfig configures the workflow engine.
type EngineConfig struct {
	MaxParallelTasks int    `yaml:"max_parallel_tasks"`
	RetryCount       int    `yaml:"retry_count"`
	TaskTimeout      string `yaml:"task_timeout"`
}

// AggregatorConfig configures result aggregation.
type AggregatorConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"` // dedup at or above this LCS ratio
	DefaultStrategy     string  `yaml:"default_strategy"`     // synthesis, concatenate, ranking
	MaxKeyPoints        int     `yaml:"max_key_points"`
	TopN                int     `yaml:"top_n"` // ranking strategy cutoff
}

// StoreConfig configures the SQLite-backed knowledge base and run history.
type StoreConfig struct {
	DatabasePath    string `yaml:"database_path"`
	EmbeddingModel  string `yaml:"embedding_model"`
	EmbeddingAPIKey string `yaml:"embedding_api_key"`
}

// BrowserConfig configures the rod session manager.
type BrowserConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Headless    bool   `yaml:"headless"`
	PageTimeout string `yaml:"page_timeout"`
	MaxPages    int    `yaml:"max_pages"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	Enabled    bool            `yaml:"enabled"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "agentmux",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:      "zai",
			Model:         "glm-4.6",
			BaseURL:       "https://api.z.ai/api/paas/v4",
			Timeout:       "120s",
			MaxConcurrent: 4,
			MaxRetries:    3,
		},

		Routing: RoutingConfig{
			ConfidenceThreshold: 0.7,
			CacheCapacity:       1000,
			MaxQueryLength:      10000,
			DefaultLanguage:     "en",
			KeywordFile:         "",
			WatchKeywords:       false,
		},

		Plan: PlanConfig{
			MaxSubtasks: 10,
			Temperature: 0.3,
			MaxTokens:   1500,
		},

		Engine: EngineConfig{
			MaxParallelTasks: 5,
			RetryCount:       3,
			TaskTimeout:      "300s",
		},

		Aggregator: AggregatorConfig{
			SimilarityThreshold: 0.85,
			DefaultStrategy:     "synthesis",
			MaxKeyPoints:        5,
			TopN:                5,
		},

		Store: StoreConfig{
			DatabasePath:   filepath.Join(".mux", "agentmux.db"),
			EmbeddingModel: "gemini-embedding-001",
		},

		Browser: BrowserConfig{
			Enabled:     false,
			Headless:    true,
			PageTimeout: "60s",
			MaxPages:    3,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config location under the workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".mux", "config.yaml")
}

// Load loads configuration from a YAML file. A missing file yields defaults;
// environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. Keys are checked
// in ascending priority; the last one found wins.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ZAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "zai"
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "anthropic"
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if key := os.Getenv("XAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "xai"
	}

	// Embedder key: GENAI_API_KEY wins over GEMINI_API_KEY
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.Store.EmbeddingAPIKey == "" {
		c.Store.EmbeddingAPIKey = key
	}
	if key := os.Getenv("GENAI_API_KEY"); key != "" {
		c.Store.EmbeddingAPIKey = key
	}

	if path := os.Getenv("AGENTMUX_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if path := os.Getenv("AGENTMUX_KEYWORDS"); path != "" {
		c.Routing.KeywordFile = path
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetTaskTimeout returns the per-task execution timeout as a duration.
func (c *Config) GetTaskTimeout() time.Duration {
	d, err := time.ParseDuration(c.Engine.TaskTimeout)
	if err != nil {
		return 300 * time.Second
	}
	return d
}

// GetPageTimeout returns the browser page load timeout as a duration.
func (c *Config) GetPageTimeout() time.Duration {
	d, err := time.ParseDuration(c.Browser.PageTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"zai", "anthropic", "openai", "gemini", "xai"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY, XAI_API_KEY, or ZAI_API_KEY)")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	if c.Routing.ConfidenceThreshold < 0 || c.Routing.ConfidenceThreshold > 1 {
		return fmt.Errorf("routing confidence threshold must be in [0,1], got %v", c.Routing.ConfidenceThreshold)
	}
	if c.Routing.CacheCapacity <= 0 {
		return fmt.Errorf("routing cache capacity must be positive, got %d", c.Routing.CacheCapacity)
	}
	if c.Engine.MaxParallelTasks <= 0 {
		return fmt.Errorf("engine max parallel tasks must be positive, got %d", c.Engine.MaxParallelTasks)
	}
	if c.Plan.MaxSubtasks <= 0 {
		return fmt.Errorf("plan max subtasks must be positive, got %d", c.Plan.MaxSubtasks)
	}
	if c.Aggregator.SimilarityThreshold < 0 || c.Aggregator.SimilarityThreshold > 1 {
		return fmt.Errorf("aggregator similarity threshold must be in [0,1], got %v", c.Aggregator.SimilarityThreshold)
	}

	return nil
}
