package routing

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"agentmux/internal/logging"
	"agentmux/internal/types"
)

// =============================================================================
// KEYWORD CLASSIFIER
// =============================================================================
//
// Deterministic first stage of the hybrid router. Classification precedence,
// first match wins:
//
//   1. domain keyword sets, in order weather -> finance -> routing -> rag
//      (routing additionally requires a direction marker)
//   2. explicit code verbs
//   3. math-shape patterns (operators, relations, decimals, symbols, calls, n!)
//   4. unit-conversion phrases
//   5. calculation indicator + unit word, unless a real-time marker is present
//   6. research keywords
//   7. question-mark terminator
//   8. default chat
//
// Confidence starts at 0.5 and accumulates per signal of the chosen class:
// +0.25 per keyword, +0.15 per math pattern class, +0.20 per unit-conversion
// pattern, +0.10 per calculation indicator, +0.30 domain bonus. Clamped to 1.

// DefaultMaxQueryLength bounds accepted query length in runes.
const DefaultMaxQueryLength = 10000

// Math-shape pattern classes. Operator and factorial forms are anchored to
// digits so prose punctuation (hyphenated words, exclamations) doesn't match.
var (
	reArithmetic = regexp.MustCompile(`[0-9]\s*[-+*/^]\s*[0-9(]`)
	reRelational = regexp.MustCompile(`[=<>]`)
	reDecimal    = regexp.MustCompile(`[0-9]+\.[0-9]+`)
	reMathSymbol = regexp.MustCompile(`[∑∫∂√π∞]`)
	reMathFunc   = regexp.MustCompile(`\b(sin|cos|tan|log|sqrt|exp)\s*\(`)
	reFactorial  = regexp.MustCompile(`[0-9]\s*!`)

	mathPatterns = []*regexp.Regexp{
		reArithmetic, reRelational, reDecimal, reMathSymbol, reMathFunc, reFactorial,
	}

	// Unit-conversion phrasings, English and Chinese.
	reUnitConvEN = regexp.MustCompile(`\b(seconds?|minutes?|hours?|days?|weeks?|months?)\s+in\s+(a|an|one|per)\s+(second|minute|hour|day|week|month|year)s?\b`)
	reUnitConvZH = regexp.MustCompile(`[一每]?(年|个?月|周|星期|天|小时|分钟)有(多少|几)个?(年|个?月|周|星期|天|小时|分钟|秒)`)

	unitConvPatterns = []*regexp.Regexp{reUnitConvEN, reUnitConvZH}
)

// matcher matches one keyword. ASCII keywords compile to a word-bounded
// regexp; CJK keywords match as plain substrings.
type matcher struct {
	keyword string
	re      *regexp.Regexp
}

func (m matcher) matches(lower string) bool {
	if m.re != nil {
		return m.re.MatchString(lower)
	}
	return strings.Contains(lower, m.keyword)
}

func compileSet(keywords []string) []matcher {
	out := make([]matcher, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if isASCII(kw) {
			out = append(out, matcher{
				keyword: kw,
				re:      regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`),
			})
		} else {
			out = append(out, matcher{keyword: kw})
		}
	}
	return out
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// tableMatchers is an immutable compiled snapshot of the keyword tables.
// Swapped wholesale on hot reload.
type tableMatchers struct {
	tables         *KeywordTables
	weather        []matcher
	finance        []matcher
	routing        []matcher
	rag            []matcher
	directions     []matcher
	code           []matcher
	research       []matcher
	calcIndicators []matcher
	units          []matcher
	realTime       []matcher
}

func compileTables(t *KeywordTables) *tableMatchers {
	return &tableMatchers{
		tables:         t,
		weather:        compileSet(t.Weather),
		finance:        compileSet(t.Finance),
		routing:        compileSet(t.Routing),
		rag:            compileSet(t.RAG),
		directions:     compileSet(t.Directions),
		code:           compileSet(t.Code),
		research:       compileSet(t.Research),
		calcIndicators: compileSet(t.CalcIndicators),
		units:          compileSet(t.Units),
		realTime:       compileSet(t.RealTimeMarkers),
	}
}

func countMatches(lower string, set []matcher) (int, []string) {
	var hits []string
	for _, m := range set {
		if m.matches(lower) {
			hits = append(hits, m.keyword)
		}
	}
	return len(hits), hits
}

// KeywordClassifier maps a query to a task type via ordered deterministic
// rules. Safe for concurrent use; tables can be swapped at runtime.
type KeywordClassifier struct {
	mu             sync.RWMutex
	matchers       *tableMatchers
	maxQueryLength int
}

// NewKeywordClassifier builds a classifier over the given tables.
// nil tables selects the compiled-in defaults.
func NewKeywordClassifier(tables *KeywordTables) *KeywordClassifier {
	if tables == nil {
		tables = DefaultKeywordTables()
	}
	return &KeywordClassifier{
		matchers:       compileTables(tables),
		maxQueryLength: DefaultMaxQueryLength,
	}
}

// SetMaxQueryLength overrides the accepted query length bound.
func (c *KeywordClassifier) SetMaxQueryLength(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 {
		c.maxQueryLength = n
	}
}

// SetTables swaps the keyword tables. Used by the hot-reload watcher.
func (c *KeywordClassifier) SetTables(tables *KeywordTables) {
	compiled := compileTables(tables)
	c.mu.Lock()
	c.matchers = compiled
	c.mu.Unlock()
	logging.Routing("Keyword tables reloaded (%d weather, %d finance, %d routing, %d rag, %d code, %d research)",
		len(tables.Weather), len(tables.Finance), len(tables.Routing),
		len(tables.RAG), len(tables.Code), len(tables.Research))
}

// Tables returns the active keyword tables.
func (c *KeywordClassifier) Tables() *KeywordTables {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matchers.tables
}

// ValidateQuery rejects empty and over-long queries.
func (c *KeywordClassifier) ValidateQuery(query string) error {
	c.mu.RLock()
	maxLen := c.maxQueryLength
	c.mu.RUnlock()

	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("empty query: %w", types.ErrInvalidQuery)
	}
	if n := len([]rune(query)); n > maxLen {
		return fmt.Errorf("query length %d exceeds limit %d: %w", n, maxLen, types.ErrInvalidQuery)
	}
	return nil
}

// Classify maps the query to a routing decision with method "keyword".
func (c *KeywordClassifier) Classify(query string) (*types.RoutingDecision, error) {
	if err := c.ValidateQuery(query); err != nil {
		return nil, err
	}

	c.mu.RLock()
	m := c.matchers
	c.mu.RUnlock()

	lower := strings.ToLower(query)
	lang := DetectLanguage(query)

	// Rule 1: domain keyword sets, fixed order. Routing needs a direction
	// marker on top of a routing keyword.
	weatherN, weatherHits := countMatches(lower, m.weather)
	financeN, financeHits := countMatches(lower, m.finance)
	routingN, routingHits := countMatches(lower, m.routing)
	directionN, _ := countMatches(lower, m.directions)
	ragN, ragHits := countMatches(lower, m.rag)

	routingEligible := routingN > 0 && directionN > 0

	domainOrder := []struct {
		task  types.TaskType
		count int
		hits  []string
		ok    bool
	}{
		{types.TaskWeather, weatherN, weatherHits, weatherN > 0},
		{types.TaskFinance, financeN, financeHits, financeN > 0},
		{types.TaskRouting, routingN, routingHits, routingEligible},
		{types.TaskRAG, ragN, ragHits, ragN > 0},
	}

	for i, d := range domainOrder {
		if !d.ok {
			continue
		}
		var alternatives []types.TaskType
		for j, other := range domainOrder {
			if j != i && other.ok {
				alternatives = append(alternatives, other.task)
			}
		}
		conf := clamp01(0.5 + 0.25*float64(d.count) + 0.3)
		return c.finish(query, d.task, conf,
			fmt.Sprintf("matched %s keywords: %s", d.task, strings.Join(d.hits, ", ")),
			alternatives, lang)
	}

	// CODE-class signals are shared by rules 2-5.
	codeN, codeHits := countMatches(lower, m.code)
	mathN := countPatternClasses(lower, mathPatterns)
	unitConvN := countPatternClasses(lower, unitConvPatterns)
	calcN, calcHits := countMatches(lower, m.calcIndicators)
	unitWordN, _ := countMatches(lower, m.units)
	realTimeN, _ := countMatches(lower, m.realTime)

	codeConf := clamp01(0.5 + 0.25*float64(codeN) + 0.15*float64(mathN) +
		0.20*float64(unitConvN) + 0.10*float64(calcN))

	// Rule 2: explicit code verbs.
	if codeN > 0 {
		return c.finish(query, types.TaskCode, codeConf,
			fmt.Sprintf("matched code keywords: %s", strings.Join(codeHits, ", ")),
			nil, lang)
	}

	// Rule 3: math-shape patterns.
	if mathN > 0 {
		return c.finish(query, types.TaskCode, codeConf,
			fmt.Sprintf("query contains %d math pattern class(es)", mathN),
			nil, lang)
	}

	// Rule 4: unit-conversion phrasing.
	if unitConvN > 0 {
		return c.finish(query, types.TaskCode, codeConf,
			"unit conversion phrasing detected", nil, lang)
	}

	// Rule 5: calculation indicator with unit context, demoted by real-time
	// markers ("how many hours until today ends" is not a computation).
	if calcN > 0 && unitWordN > 0 && realTimeN == 0 {
		return c.finish(query, types.TaskCode, codeConf,
			fmt.Sprintf("calculation indicators with unit context: %s", strings.Join(calcHits, ", ")),
			nil, lang)
	}

	// Rule 6: research keywords.
	researchN, researchHits := countMatches(lower, m.research)
	if researchN > 0 {
		conf := clamp01(0.5 + 0.25*float64(researchN))
		return c.finish(query, types.TaskResearch, conf,
			fmt.Sprintf("matched research keywords: %s", strings.Join(researchHits, ", ")),
			nil, lang)
	}

	// Rule 7: question-mark terminator. Base confidence only, so the hybrid
	// router escalates bare questions to the LLM.
	if strings.ContainsAny(query, "?？") {
		return c.finish(query, types.TaskResearch, 0.5,
			"question form without recognized keywords", nil, lang)
	}

	// Rule 8: default.
	return c.finish(query, types.TaskChat, 0.5, "no keyword rules matched", nil, lang)
}

func (c *KeywordClassifier) finish(query string, task types.TaskType, conf float64, reasoning string, alternatives []types.TaskType, lang string) (*types.RoutingDecision, error) {
	d, err := types.NewRoutingDecision(query, task, conf)
	if err != nil {
		return nil, err
	}
	d.Reasoning = reasoning
	d.RequiredTools = ToolRequirementsFor(task)
	d.AlternativeTasks = alternatives
	d.Metadata[types.MetaMethod] = types.MethodKeyword
	d.Metadata[types.MetaLanguage] = lang

	logging.RoutingDebug("Keyword classify: %q -> %s (%.2f) [%s]", truncate(query, 80), task, conf, reasoning)
	return d, nil
}

func countPatternClasses(lower string, patterns []*regexp.Regexp) int {
	n := 0
	for _, re := range patterns {
		if re.MatchString(lower) {
			n++
		}
	}
	return n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// DetectLanguage returns "zh" when the query contains Han characters,
// otherwise "en".
func DetectLanguage(query string) string {
	for _, r := range query {
		if unicode.Is(unicode.Han, r) {
			return "zh"
		}
	}
	return "en"
}

// =============================================================================
// STATIC TOOL REQUIREMENTS
// =============================================================================

// ToolRequirementsFor returns the fixed tool set a task type needs.
func ToolRequirementsFor(task types.TaskType) []types.ToolRequirement {
	switch task {
	case types.TaskResearch:
		return []types.ToolRequirement{
			{ToolName: "search", ToolType: "web", Required: true},
			{ToolName: "scraper", ToolType: "web", Required: false},
		}
	case types.TaskCode:
		return []types.ToolRequirement{
			{ToolName: "code_executor", ToolType: "sandbox", Required: true},
		}
	case types.TaskWeather:
		return []types.ToolRequirement{
			{ToolName: "weather_api", ToolType: "api", Required: true},
		}
	case types.TaskFinance:
		return []types.ToolRequirement{
			{ToolName: "stock_api", ToolType: "api", Required: true},
		}
	case types.TaskRouting:
		return []types.ToolRequirement{
			{ToolName: "routing_api", ToolType: "api", Required: true},
		}
	case types.TaskRAG:
		return []types.ToolRequirement{
			{ToolName: "vector_store", ToolType: "storage", Required: true},
			{ToolName: "document_processor", ToolType: "processing", Required: true},
		}
	case types.TaskOCR:
		return []types.ToolRequirement{
			{ToolName: "ocr", ToolType: "vision", Required: true},
		}
	case types.TaskVision:
		return []types.ToolRequirement{
			{ToolName: "vision", ToolType: "vision", Required: true},
		}
	default:
		return nil
	}
}
