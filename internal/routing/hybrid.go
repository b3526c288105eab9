package routing

import (
	"context"

	"agentmux/internal/logging"
	"agentmux/internal/types"
)

// =============================================================================
// HYBRID ROUTER
// =============================================================================
//
// Keyword classification runs first on every call. When its confidence clears
// the threshold the LLM is never consulted; otherwise the LLM decides and the
// keyword verdict travels along in metadata. An LLM failure falls back to the
// keyword decision so routing stays live without the model.

// HybridConfig configures the hybrid router.
type HybridConfig struct {
	ConfidenceThreshold float64 // keyword decisions at or above this skip the LLM
	CacheCapacity       int
}

// DefaultHybridConfig returns sensible defaults.
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		ConfidenceThreshold: 0.7,
		CacheCapacity:       DefaultCacheCapacity,
	}
}

// HybridRouter combines the keyword and LLM classifiers with memoization.
type HybridRouter struct {
	keyword   *KeywordClassifier
	llm       *LLMClassifier
	cache     *Cache
	threshold float64
}

// NewHybridRouter builds the router. llm may be nil; the router then always
// falls back to keyword decisions when confidence is low.
func NewHybridRouter(keyword *KeywordClassifier, llm *LLMClassifier, config HybridConfig) *HybridRouter {
	if keyword == nil {
		keyword = NewKeywordClassifier(nil)
	}
	threshold := config.ConfidenceThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.7
	}
	return &HybridRouter{
		keyword:   keyword,
		llm:       llm,
		cache:     NewCache(config.CacheCapacity),
		threshold: threshold,
	}
}

// Keyword exposes the keyword classifier, mainly for the hot-reload watcher.
func (r *HybridRouter) Keyword() *KeywordClassifier { return r.keyword }

// Cache exposes the routing cache.
func (r *HybridRouter) Cache() *Cache { return r.cache }

// Route classifies the query. Inside a single call, keyword classification
// strictly precedes any LLM call. Concurrent calls with the same key are not
// coalesced; last write wins, which is fine because every writer computes the
// same function.
func (r *HybridRouter) Route(ctx context.Context, query string, qctx map[string]any) (*types.RoutingDecision, error) {
	if err := r.keyword.ValidateQuery(query); err != nil {
		return nil, err
	}

	key := CacheKey(query, qctx)
	if d := r.cache.Get(key); d != nil {
		logging.RoutingDebug("Route cache hit: %q -> %s (method=%s)", truncate(query, 80), d.TaskType, d.Method())
		return d, nil
	}

	kw, err := r.keyword.Classify(query)
	if err != nil {
		return nil, err
	}

	// Confident keyword decision: accept without consulting the LLM.
	if kw.Confidence >= r.threshold {
		kw.Metadata[types.MetaMethod] = types.MethodHybridKeyword
		kw.Metadata[types.MetaKeywordConfidence] = kw.Confidence
		r.cache.Put(key, kw)
		logging.Routing("Route: %q -> %s (%.2f, keyword)", truncate(query, 80), kw.TaskType, kw.Confidence)
		return kw, nil
	}

	// Low confidence: escalate to the LLM when available.
	if r.llm != nil {
		ld, lerr := r.llm.Route(ctx, query, qctx)
		if lerr == nil {
			ld.Metadata[types.MetaMethod] = types.MethodHybridLLM
			ld.Metadata[types.MetaKeywordConfidence] = kw.Confidence
			ld.Metadata[types.MetaKeywordTask] = string(kw.TaskType)
			r.cache.Put(key, ld)
			logging.Routing("Route: %q -> %s (%.2f, llm; keyword said %s at %.2f)",
				truncate(query, 80), ld.TaskType, ld.Confidence, kw.TaskType, kw.Confidence)
			return ld, nil
		}

		// LLM errored: hand back the keyword decision, uncached so the next
		// call gets another shot at the model.
		kw.Metadata[types.MetaMethod] = types.MethodHybridKeywordFallback
		kw.Metadata[types.MetaKeywordConfidence] = kw.Confidence
		kw.Metadata[types.MetaLLMError] = lerr.Error()
		logging.RoutingWarn("Route: LLM unavailable, keeping keyword decision %s (%.2f): %v",
			kw.TaskType, kw.Confidence, lerr)
		return kw, nil
	}

	kw.Metadata[types.MetaMethod] = types.MethodHybridKeywordFallback
	kw.Metadata[types.MetaKeywordConfidence] = kw.Confidence
	kw.Metadata[types.MetaLLMError] = "llm classifier not configured"
	return kw, nil
}
