package aggregate

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"agentmux/internal/llm"
	"agentmux/internal/logging"
	"agentmux/internal/types"
)

// =============================================================================
// RESULT AGGREGATOR
// =============================================================================
//
// The aggregator folds per-task results into one presentable answer. Results
// are projected to source records, deduplicated (exact content hash first,
// then pairwise LCS similarity), and handed to the selected strategy. The
// aggregator is purely functional over its inputs; its only side effect is
// the optional LLM call of the synthesis strategy.

// Strategy selects how deduplicated sources become a summary.
type Strategy string

const (
	StrategySynthesis   Strategy = "synthesis"   // LLM-written unified summary
	StrategyConcatenate Strategy = "concatenate" // join contents, no model call
	StrategyRanking     Strategy = "ranking"     // top sources by score+credibility
)

// Config configures aggregation.
type Config struct {
	SimilarityThreshold float64 // drop a source when its LCS ratio to a kept one reaches this
	MaxKeyPoints        int
	TopN                int // ranking strategy cutoff
	Temperature         float64
	MaxTokens           int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.85,
		MaxKeyPoints:        5,
		TopN:                5,
		Temperature:         0.3,
		MaxTokens:           1024,
	}
}

// Aggregator synthesizes final answers from workflow results.
type Aggregator struct {
	client types.LLMClient
	config Config
}

// New creates an aggregator, filling config defaults. client may be nil; the
// synthesis strategy then degrades to concatenation.
func New(client types.LLMClient, config Config) *Aggregator {
	def := DefaultConfig()
	if config.SimilarityThreshold <= 0 || config.SimilarityThreshold > 1 {
		config.SimilarityThreshold = def.SimilarityThreshold
	}
	if config.MaxKeyPoints <= 0 {
		config.MaxKeyPoints = def.MaxKeyPoints
	}
	if config.TopN <= 0 {
		config.TopN = def.TopN
	}
	if config.Temperature <= 0 {
		config.Temperature = def.Temperature
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = def.MaxTokens
	}
	return &Aggregator{client: client, config: config}
}

// Aggregate turns a task-id-to-result map into an AggregatedResult. An empty
// or all-failed result map yields a zero-confidence failure summary rather
// than an error, so the orchestrator always has an answer to return.
func (a *Aggregator) Aggregate(ctx context.Context, results map[string]any, query string, strategy Strategy) (*types.AggregatedResult, error) {
	sources := a.collectSources(results)
	if len(sources) == 0 {
		return &types.AggregatedResult{
			Summary:    "No task produced a usable result for this query.",
			Confidence: 0,
			Metadata:   map[string]any{"strategy": string(strategy), "source_count": 0},
		}, nil
	}

	kept := a.Deduplicate(sources)
	dropped := len(sources) - len(kept)
	if dropped > 0 {
		logging.Aggregate("Deduplicated %d of %d source(s)", dropped, len(sources))
	}

	var (
		agg *types.AggregatedResult
		err error
	)
	switch strategy {
	case StrategyConcatenate:
		agg = a.concatenate(kept)
	case StrategyRanking:
		agg = a.ranking(kept)
	default:
		agg, err = a.synthesize(ctx, kept, query)
		if err != nil {
			logging.AggregateDebug("Synthesis failed, concatenating instead: %v", err)
			agg = a.concatenate(kept)
			agg.Metadata = map[string]any{"synthesis_error": err.Error()}
			strategy = StrategyConcatenate
		} else {
			strategy = StrategySynthesis
		}
	}

	if agg.Metadata == nil {
		agg.Metadata = make(map[string]any)
	}
	agg.Metadata["strategy"] = string(strategy)
	agg.Metadata["source_count"] = len(kept)
	if dropped > 0 {
		agg.Metadata["deduplicated"] = dropped
	}
	agg.Sources = kept
	return agg, nil
}

// collectSources projects task results onto source records in task-id order.
// Results carrying structured provenance contribute their own records; plain
// results become one record each with the neutral 0.5 credibility.
func (a *Aggregator) collectSources(results map[string]any) []types.Source {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sources []types.Source
	for _, id := range ids {
		result := results[id]
		if result == nil {
			continue
		}
		if sp, ok := result.(types.SourceProvider); ok {
			for _, src := range sp.SourceRecords() {
				if src.Credibility == 0 {
					src.Credibility = 0.5
				}
				sources = append(sources, src)
			}
			continue
		}
		content := strings.TrimSpace(stringify(result))
		if content == "" {
			continue
		}
		sources = append(sources, types.Source{
			Title:       id,
			Content:     content,
			Credibility: 0.5,
		})
	}
	return sources
}

// Deduplicate drops exact duplicates by content hash, then near-duplicates
// whose LCS ratio to an already-kept source reaches the threshold. Order is
// preserved; the first occurrence wins.
func (a *Aggregator) Deduplicate(sources []types.Source) []types.Source {
	seen := make(map[[md5.Size]byte]bool, len(sources))
	kept := make([]types.Source, 0, len(sources))

	for _, src := range sources {
		content := sourceContent(src)
		hash := md5.Sum([]byte(content))
		if seen[hash] {
			continue
		}

		similar := false
		for i := range kept {
			if lcsRatio(content, sourceContent(kept[i])) >= a.config.SimilarityThreshold {
				similar = true
				break
			}
		}
		if similar {
			continue
		}

		seen[hash] = true
		kept = append(kept, src)
	}
	return kept
}

// synthesize asks the LLM for a unified summary over the sources and parses
// its JSON verdict. Any failure is returned so the caller can fall back.
func (a *Aggregator) synthesize(ctx context.Context, sources []types.Source, query string) (*types.AggregatedResult, error) {
	if a.client == nil {
		return nil, fmt.Errorf("synthesis: %w: no client configured", types.ErrLLMUnavailable)
	}

	resp, err := a.client.CompleteWithOptions(ctx,
		[]types.Message{{Role: "user", Content: a.buildSynthesisPrompt(sources, query)}},
		a.config.Temperature, a.config.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("synthesis call: %w: %v", types.ErrLLMUnavailable, err)
	}

	obj := llm.ExtractJSONObject(resp)
	if obj == "" {
		return nil, fmt.Errorf("synthesis: no JSON object in response: %w", types.ErrMalformedLLMOutput)
	}

	var raw struct {
		Summary    string   `json:"summary"`
		KeyPoints  []string `json:"key_points"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("synthesis: parse verdict: %w: %v", types.ErrMalformedLLMOutput, err)
	}
	if strings.TrimSpace(raw.Summary) == "" {
		return nil, fmt.Errorf("synthesis: empty summary: %w", types.ErrMalformedLLMOutput)
	}

	confidence := AggregateConfidence(sources)
	if raw.Confidence != nil {
		confidence = clamp01(*raw.Confidence)
	}
	if len(raw.KeyPoints) > a.config.MaxKeyPoints {
		raw.KeyPoints = raw.KeyPoints[:a.config.MaxKeyPoints]
	}

	logging.Aggregate("Synthesized %d source(s) into %d chars, confidence %.2f",
		len(sources), len(raw.Summary), confidence)
	return &types.AggregatedResult{
		Summary:    strings.TrimSpace(raw.Summary),
		KeyPoints:  raw.KeyPoints,
		Confidence: confidence,
	}, nil
}

// buildSynthesisPrompt lists the deduplicated sources and demands a JSON
// verdict with a summary, key points, and a self-assessed confidence.
func (a *Aggregator) buildSynthesisPrompt(sources []types.Source, query string) string {
	var b strings.Builder
	b.WriteString("Synthesize the task results below into one unified answer to the user's question.\n\n")
	fmt.Fprintf(&b, "QUESTION: %s\n\nRESULTS:\n", query)
	for i, src := range sources {
		fmt.Fprintf(&b, "\n[%d] %s\n%s\n", i+1, src.Title, truncateRunes(sourceContent(src), 3000))
	}
	fmt.Fprintf(&b, `
Respond with ONLY this JSON object:
{
  "summary": "the unified answer, grounded in the results above",
  "key_points": ["3 to %d short takeaways"],
  "confidence": 0.0
}
confidence is your own 0-1 assessment of how well the results answer the question.`, a.config.MaxKeyPoints)
	return b.String()
}

// concatenate joins source contents with separators. Titles become the key
// points and the confidence is the flat 0.5 of an unassessed join.
func (a *Aggregator) concatenate(sources []types.Source) *types.AggregatedResult {
	parts := make([]string, 0, len(sources))
	var keyPoints []string
	for _, src := range sources {
		if content := sourceContent(src); content != "" {
			parts = append(parts, content)
		}
		if src.Title != "" && len(keyPoints) < a.config.MaxKeyPoints {
			keyPoints = append(keyPoints, src.Title)
		}
	}
	return &types.AggregatedResult{
		Summary:    strings.Join(parts, "\n\n---\n\n"),
		KeyPoints:  keyPoints,
		Confidence: 0.5,
	}
}

// ranking keeps the top sources by score plus credibility and summarizes
// them by snippet.
func (a *Aggregator) ranking(sources []types.Source) *types.AggregatedResult {
	ranked := append([]types.Source(nil), sources...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score+ranked[i].Credibility > ranked[j].Score+ranked[j].Credibility
	})
	if len(ranked) > a.config.TopN {
		ranked = ranked[:a.config.TopN]
	}

	var b strings.Builder
	var keyPoints []string
	for i, src := range ranked {
		snippet := src.Snippet
		if snippet == "" {
			snippet = truncateRunes(sourceContent(src), 200)
		}
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, src.Title, snippet)
		if src.Title != "" && len(keyPoints) < a.config.MaxKeyPoints {
			keyPoints = append(keyPoints, src.Title)
		}
	}
	return &types.AggregatedResult{
		Summary:    strings.TrimRight(b.String(), "\n"),
		KeyPoints:  keyPoints,
		Confidence: 0.7,
	}
}

// AggregateConfidence scores a source set: 40% coverage (how close the count
// comes to five sources) and 60% mean credibility, defaulting 0.5 where a
// source carries none.
func AggregateConfidence(sources []types.Source) float64 {
	if len(sources) == 0 {
		return 0
	}
	coverage := float64(len(sources)) / 5.0
	if coverage > 1 {
		coverage = 1
	}
	var credSum float64
	for _, src := range sources {
		cred := src.Credibility
		if cred == 0 {
			cred = 0.5
		}
		credSum += cred
	}
	return clamp01(0.4*coverage + 0.6*credSum/float64(len(sources)))
}

// =============================================================================
// SIMILARITY
// =============================================================================

// lcsCap bounds the quadratic LCS comparison. Near-duplicate detection on the
// first 1000 runes is reliable for tool output while keeping dedup cheap.
const lcsCap = 1000

// lcsRatio returns 2*LCS(a,b) / (len(a)+len(b)) over runes, in [0,1].
func lcsRatio(a, b string) float64 {
	ra := capRunes(a, lcsCap)
	rb := capRunes(b, lcsCap)
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	// Two-row dynamic program; prev is row i-1 of the LCS table.
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(rb)]
	return 2 * float64(lcs) / float64(len(ra)+len(rb))
}

func capRunes(s string, max int) []rune {
	runes := []rune(s)
	if len(runes) > max {
		return runes[:max]
	}
	return runes
}

// sourceContent returns the canonical string projection used for hashing and
// similarity: content when present, snippet otherwise.
func sourceContent(src types.Source) string {
	if src.Content != "" {
		return src.Content
	}
	return src.Snippet
}

func stringify(v any) string {
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

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
