package main

import (
	"context"
	"fmt"

	"agentmux/internal/aggregate"
	"agentmux/internal/browser"
	"agentmux/internal/config"
	"agentmux/internal/engine"
	"agentmux/internal/executor"
	"agentmux/internal/llm"
	"agentmux/internal/logging"
	"agentmux/internal/orchestrator"
	"agentmux/internal/plan"
	"agentmux/internal/routing"
	"agentmux/internal/store"
	"agentmux/internal/types"

	"go.uber.org/zap"
)

// loadConfig resolves the config file (flag, then .mux/config.yaml, then
// defaults), applies the --api-key override, and brings up file logging.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath(".")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}

	if err := logging.Initialize("."); err != nil {
		logger.Warn("File logging unavailable", zap.Error(err))
	}
	return cfg, nil
}

// newRouter builds the hybrid router. client may be nil; routing then never
// escalates to the LLM and low-confidence keyword decisions stand.
func newRouter(cfg *config.Config, client types.LLMClient) *routing.HybridRouter {
	tables := routing.DefaultKeywordTables()
	if cfg.Routing.KeywordFile != "" {
		loaded, err := routing.LoadKeywordTables(cfg.Routing.KeywordFile)
		if err != nil {
			logger.Warn("Keyword file unreadable, using built-in tables",
				zap.String("path", cfg.Routing.KeywordFile), zap.Error(err))
		} else {
			tables = loaded
		}
	}
	keyword := routing.NewKeywordClassifier(tables)
	if cfg.Routing.MaxQueryLength > 0 {
		keyword.SetMaxQueryLength(cfg.Routing.MaxQueryLength)
	}

	var classifier *routing.LLMClassifier
	if client != nil {
		classifier = routing.NewLLMClassifier(client, routing.DefaultLLMClassifierConfig())
	}

	return routing.NewHybridRouter(keyword, classifier, routing.HybridConfig{
		ConfidenceThreshold: cfg.Routing.ConfidenceThreshold,
		CacheCapacity:       cfg.Routing.CacheCapacity,
	})
}

// storeOptions assembles store options; a broken embedder degrades knowledge
// search to keyword matching rather than failing the command.
func storeOptions(ctx context.Context, cfg *config.Config) []store.Option {
	var opts []store.Option
	if cfg.Store.EmbeddingAPIKey != "" {
		emb, err := store.NewGeminiEmbedder(ctx, cfg.Store.EmbeddingAPIKey, cfg.Store.EmbeddingModel)
		if err != nil {
			logger.Warn("Embedder unavailable, knowledge search falls back to keywords", zap.Error(err))
		} else {
			opts = append(opts, store.WithEmbedder(emb))
		}
	}
	return opts
}

// openStore opens the knowledge/history database at the configured path.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.Store.DatabasePath, storeOptions(ctx, cfg)...)
}

// newToolRegistry registers the ten built-in capability executors, reusing
// the planner catalog descriptions so plans and bindings name the same tools.
func newToolRegistry(wrap func(string) types.LLMClient, st *store.Store, mgr *browser.Manager) *executor.Registry {
	desc := make(map[string]string)
	for _, ti := range plan.DefaultToolCatalog() {
		desc[ti.Name] = ti.Description
	}

	scraperCfg := executor.DefaultScraperConfig()
	if mgr != nil {
		scraperCfg.Renderer = mgr
	}

	reg := executor.NewRegistry()
	for _, e := range []types.Executor{
		executor.NewSearchExecutor(executor.DefaultSearchConfig()),
		executor.NewScraperExecutor(scraperCfg),
		executor.NewCodeExecutor(wrap("code"), executor.DefaultCodeConfig()),
		executor.NewWeatherExecutor(executor.DefaultWeatherConfig()),
		executor.NewStockExecutor(executor.DefaultStockConfig()),
		executor.NewRouteExecutor(executor.DefaultRouteConfig()),
		executor.NewRAGExecutor(st, wrap("rag"), executor.DefaultRAGConfig()),
		executor.NewOCRExecutor(wrap("vision")),
		executor.NewVisionExecutor(wrap("vision")),
		executor.NewChatExecutor(wrap("chat"), executor.DefaultChatConfig()),
	} {
		reg.MustRegister(e, desc[e.Name()])
	}
	return reg
}

// pipeline bundles every component behind mux run and mux plan.
type pipeline struct {
	cfg      *config.Config
	sched    *llm.Scheduler
	router   *routing.HybridRouter
	watcher  *routing.KeywordWatcher
	planner  *plan.Decomposer
	registry *executor.Registry
	engine   *engine.Engine
	agg      *aggregate.Aggregator
	store    *store.Store
	browser  *browser.Manager
	orch     *orchestrator.Orchestrator
}

// newPipeline wires the full stack from config. The browser manager is
// created unstarted; Chrome launches on the first rendered fetch.
func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	raw, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sched := llm.NewSchedulerFromConfig(cfg)
	wrap := func(caller string) types.LLMClient {
		return llm.NewScheduledClient(sched, caller, raw)
	}

	p := &pipeline{cfg: cfg, sched: sched}
	p.router = newRouter(cfg, wrap("routing"))

	if cfg.Routing.WatchKeywords && cfg.Routing.KeywordFile != "" {
		w, err := routing.NewKeywordWatcher(cfg.Routing.KeywordFile, p.router.Keyword(), p.router.Cache())
		if err != nil {
			logger.Warn("Keyword watcher unavailable", zap.Error(err))
		} else if err := w.Start(ctx); err != nil {
			logger.Warn("Keyword watcher failed to start", zap.Error(err))
		} else {
			p.watcher = w
		}
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	p.store = st

	if cfg.Browser.Enabled {
		p.browser = browser.NewManager(browser.Config{
			Headless:    cfg.Browser.Headless,
			PageTimeout: cfg.GetPageTimeout(),
			MaxPages:    cfg.Browser.MaxPages,
		})
	}

	p.registry = newToolRegistry(wrap, st, p.browser)
	p.planner = plan.NewDecomposer(wrap("plan"), plan.Config{
		Temperature: cfg.Plan.Temperature,
		MaxTokens:   cfg.Plan.MaxTokens,
		MaxSubtasks: cfg.Plan.MaxSubtasks,
	}, p.registry.Catalog())
	p.engine = engine.NewEngine(engine.Config{
		MaxParallelTasks: cfg.Engine.MaxParallelTasks,
		DefaultTimeout:   cfg.GetTaskTimeout(),
	})
	p.agg = aggregate.New(wrap("aggregate"), aggregate.Config{
		SimilarityThreshold: cfg.Aggregator.SimilarityThreshold,
		MaxKeyPoints:        cfg.Aggregator.MaxKeyPoints,
		TopN:                cfg.Aggregator.TopN,
	})

	orch, err := orchestrator.New(orchestrator.Config{
		Router:      p.router,
		Planner:     p.planner,
		Engine:      p.engine,
		Registry:    p.registry,
		Aggregator:  p.agg,
		Recorder:    st,
		Strategy:    aggregate.Strategy(cfg.Aggregator.DefaultStrategy),
		RetryCount:  cfg.Engine.RetryCount,
		TaskTimeout: cfg.GetTaskTimeout(),
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	p.orch = orch
	return p, nil
}

// Close releases pipeline resources in reverse dependency order.
func (p *pipeline) Close() {
	if p.watcher != nil {
		p.watcher.Stop()
	}
	if p.browser != nil {
		if err := p.browser.Shutdown(); err != nil {
			logger.Debug("Browser shutdown", zap.Error(err))
		}
	}
	if p.store != nil {
		_ = p.store.Close()
	}
	if p.sched != nil {
		p.sched.Stop()
	}
}
