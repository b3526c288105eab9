package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"agentmux/internal/llm"
	"agentmux/internal/logging"
	"agentmux/internal/routing"
	"agentmux/internal/types"
)

// =============================================================================
// TASK DECOMPOSER
// =============================================================================
//
// The decomposer turns a query into a validated TaskPlan: a small DAG of
// subtasks, each bound to one capability tool. The LLM proposes the plan;
// validation rejects anything structurally unsound; any failure degrades to a
// single-subtask plan so a query always makes forward progress.

// Config configures plan generation.
type Config struct {
	Temperature float64
	MaxTokens   int
	MaxSubtasks int
}

// DefaultConfig returns sensible defaults: low temperature for stable JSON,
// a budget that fits a ten-step plan, and the ten-subtask ceiling.
func DefaultConfig() Config {
	return Config{
		Temperature: 0.3,
		MaxTokens:   1500,
		MaxSubtasks: 10,
	}
}

// ToolInfo describes one registered capability for the planning prompt.
type ToolInfo struct {
	Name        string
	Description string
}

// DefaultToolCatalog lists the built-in capabilities and their purposes.
func DefaultToolCatalog() []ToolInfo {
	return []ToolInfo{
		{Name: "search", Description: "web search; returns titled result snippets with URLs"},
		{Name: "scraper", Description: "fetch one URL and extract its readable text"},
		{Name: "code_executor", Description: "generate and run a small program for calculation or data transformation"},
		{Name: "weather_api", Description: "current weather and forecast for a city"},
		{Name: "stock_api", Description: "latest stock quote for a ticker symbol"},
		{Name: "routing_api", Description: "driving route and distance between two places"},
		{Name: "rag", Description: "search previously ingested documents in the knowledge base"},
		{Name: "ocr", Description: "extract text from an attached image"},
		{Name: "vision", Description: "describe or answer questions about an attached image"},
		{Name: "chat", Description: "direct LLM answer; also summarizes upstream results"},
	}
}

// ToolForTask maps a routed task type to the registry tool that serves it.
func ToolForTask(t types.TaskType) string {
	switch t {
	case types.TaskResearch:
		return "search"
	case types.TaskCode:
		return "code_executor"
	case types.TaskRAG:
		return "rag"
	case types.TaskWeather:
		return "weather_api"
	case types.TaskFinance:
		return "stock_api"
	case types.TaskRouting:
		return "routing_api"
	case types.TaskOCR:
		return "ocr"
	case types.TaskVision:
		return "vision"
	default:
		return "chat"
	}
}

// Decomposer produces validated task plans from queries.
type Decomposer struct {
	client  types.LLMClient
	config  Config
	catalog []ToolInfo
	known   map[string]bool
	keyword *routing.KeywordClassifier
}

// NewDecomposer creates a decomposer. A nil catalog uses the built-in tool
// set; pass the registry's catalog to plan against custom capabilities.
func NewDecomposer(client types.LLMClient, config Config, catalog []ToolInfo) *Decomposer {
	if config.Temperature <= 0 {
		config.Temperature = 0.3
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1500
	}
	if config.MaxSubtasks <= 0 {
		config.MaxSubtasks = 10
	}
	if len(catalog) == 0 {
		catalog = DefaultToolCatalog()
	}
	known := make(map[string]bool, len(catalog))
	for _, t := range catalog {
		known[t.Name] = true
	}
	return &Decomposer{
		client:  client,
		config:  config,
		catalog: catalog,
		known:   known,
		keyword: routing.NewKeywordClassifier(nil),
	}
}

// rawPlan mirrors the plan JSON the model emits.
type rawPlan struct {
	Goal       string       `json:"goal"`
	Complexity string       `json:"complexity"`
	Subtasks   []rawSubtask `json:"subtasks"`
}

type rawSubtask struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	Tool           string   `json:"tool"`
	Query          string   `json:"query"`
	Dependencies   []string `json:"dependencies"`
	OutputVariable string   `json:"output_variable"`
}

// Decompose turns a query into a validated TaskPlan. The context may carry
// the router's verdict ("task_type", "confidence") as a planning hint.
//
// Decompose never returns a nil plan: on LLM failure, unparseable output, or
// an invalid plan it returns a single-subtask fallback plan TOGETHER with the
// non-nil cause, so callers can proceed and still log the degradation.
func (d *Decomposer) Decompose(ctx context.Context, query string, qctx map[string]any) (*types.TaskPlan, error) {
	if d.client == nil {
		return d.fallbackPlan(query, qctx), fmt.Errorf("decompose: no llm client: %w", types.ErrLLMUnavailable)
	}

	prompt := d.buildPrompt(query, qctx)
	resp, err := d.client.CompleteWithOptions(ctx,
		[]types.Message{{Role: "user", Content: prompt}},
		d.config.Temperature, d.config.MaxTokens)
	if err != nil {
		logging.PlanWarn("Decompose LLM call failed: %v", err)
		return d.fallbackPlan(query, qctx), fmt.Errorf("decompose call: %w: %v", types.ErrLLMUnavailable, err)
	}

	obj := llm.ExtractJSONObject(resp)
	if obj == "" {
		logging.PlanWarn("Decompose returned no JSON object: %q", limitString(resp, 120))
		return d.fallbackPlan(query, qctx), fmt.Errorf("decompose: no JSON object in response: %w", types.ErrMalformedLLMOutput)
	}

	var raw rawPlan
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		logging.PlanWarn("Decompose plan JSON unparseable: %v", err)
		return d.fallbackPlan(query, qctx), fmt.Errorf("decompose: parse plan: %w: %v", types.ErrMalformedLLMOutput, err)
	}

	p := d.buildPlan(query, &raw)
	if err := d.ValidatePlan(p); err != nil {
		logging.PlanWarn("Discarding invalid plan for %q: %v", limitString(query, 80), err)
		return d.fallbackPlan(query, qctx), err
	}

	logging.Plan("Decomposed %q into %d step(s), complexity=%s", limitString(query, 80), len(p.Subtasks), p.Complexity)
	return p, nil
}

// buildPlan converts raw model output into a TaskPlan, defaulting the
// optional fields: missing ids become task_N, missing output variables
// derive from the id, an empty query falls back to the original query.
func (d *Decomposer) buildPlan(query string, raw *rawPlan) *types.TaskPlan {
	p := &types.TaskPlan{
		OriginalQuery:  query,
		Goal:           strings.TrimSpace(raw.Goal),
		Subtasks:       make([]types.SubTask, 0, len(raw.Subtasks)),
		EstimatedSteps: len(raw.Subtasks),
		Complexity:     normalizeComplexity(raw.Complexity, len(raw.Subtasks)),
	}
	if p.Goal == "" {
		p.Goal = query
	}

	for i, rs := range raw.Subtasks {
		id := strings.TrimSpace(rs.ID)
		if id == "" {
			id = fmt.Sprintf("task_%d", i+1)
		}
		outVar := strings.TrimSpace(rs.OutputVariable)
		if outVar == "" {
			outVar = id + "_output"
		}
		q := strings.TrimSpace(rs.Query)
		if q == "" {
			q = query
		}
		p.Subtasks = append(p.Subtasks, types.SubTask{
			ID:             id,
			Description:    strings.TrimSpace(rs.Description),
			Tool:           strings.ToLower(strings.TrimSpace(rs.Tool)),
			Query:          q,
			Dependencies:   rs.Dependencies,
			OutputVariable: outVar,
		})
	}
	return p
}

// ValidatePlan checks the structural rules every plan must satisfy: subtask
// count within bounds, unique ids and output variables, known tools, existing
// dependency targets, and an acyclic dependency graph.
func (d *Decomposer) ValidatePlan(p *types.TaskPlan) error {
	if len(p.Subtasks) == 0 {
		return fmt.Errorf("%w: plan has no subtasks", types.ErrPlanValidation)
	}
	if len(p.Subtasks) > d.config.MaxSubtasks {
		return fmt.Errorf("%w: %d subtasks exceeds limit %d", types.ErrPlanValidation, len(p.Subtasks), d.config.MaxSubtasks)
	}

	ids := make(map[string]bool, len(p.Subtasks))
	outVars := make(map[string]string, len(p.Subtasks))
	for _, st := range p.Subtasks {
		if ids[st.ID] {
			return fmt.Errorf("%w: duplicate subtask id %q", types.ErrPlanValidation, st.ID)
		}
		ids[st.ID] = true

		if prev, dup := outVars[st.OutputVariable]; dup {
			return fmt.Errorf("%w: output variable %q reused by %s and %s", types.ErrPlanValidation, st.OutputVariable, prev, st.ID)
		}
		outVars[st.OutputVariable] = st.ID

		if !d.known[st.Tool] {
			return fmt.Errorf("%w: subtask %s names unknown tool %q", types.ErrPlanValidation, st.ID, st.Tool)
		}
	}

	deps := make(map[string][]string, len(p.Subtasks))
	for _, st := range p.Subtasks {
		for _, dep := range st.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("%w: subtask %s depends on unknown id %q", types.ErrPlanValidation, st.ID, dep)
			}
			if dep == st.ID {
				return fmt.Errorf("%w: subtask %s depends on itself", types.ErrPlanValidation, st.ID)
			}
		}
		deps[st.ID] = st.Dependencies
	}

	// DFS with a recursion stack over the dependency edges.
	visited := make(map[string]bool, len(p.Subtasks))
	inStack := make(map[string]bool, len(p.Subtasks))
	var visit func(id string) error
	visit = func(id string) error {
		visited[id] = true
		inStack[id] = true
		for _, dep := range deps[id] {
			if inStack[dep] {
				return fmt.Errorf("%w: dependency cycle involving subtask %s", types.ErrPlanValidation, dep)
			}
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		inStack[id] = false
		return nil
	}
	for _, st := range p.Subtasks {
		if !visited[st.ID] {
			if err := visit(st.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// fallbackPlan builds the single-subtask degraded plan. The tool comes from
// the router verdict in the context when present, otherwise from a keyword
// pass over the query; chat-by-default queries plan as research so the step
// still gathers material to answer with.
func (d *Decomposer) fallbackPlan(query string, qctx map[string]any) *types.TaskPlan {
	task := types.TaskType("")
	if qctx != nil {
		if s, ok := qctx["task_type"].(string); ok {
			if t, known := types.ParseTaskType(s); known {
				task = t
			}
		}
	}
	if task == "" {
		if kw, err := d.keyword.Classify(query); err == nil {
			task = kw.TaskType
		}
		if task == "" || task == types.TaskChat {
			task = types.TaskResearch
		}
	}

	tool := ToolForTask(task)
	logging.Plan("Fallback plan for %q: single %s step", limitString(query, 80), tool)
	return &types.TaskPlan{
		OriginalQuery:  query,
		Goal:           query,
		EstimatedSteps: 1,
		Complexity:     types.ComplexityLow,
		Subtasks: []types.SubTask{{
			ID:             "task_1",
			Description:    "Answer the query in a single step",
			Tool:           tool,
			Query:          query,
			OutputVariable: "task_1_output",
		}},
	}
}

const decomposeExamples = `Query: "What's the weather in Beijing?"
{"goal": "Get current weather for Beijing", "complexity": "low", "subtasks": [
  {"id": "task_1", "description": "Fetch current weather for Beijing", "tool": "weather_api", "query": "Beijing", "dependencies": [], "output_variable": "weather_data"}
]}

Query: "Find the latest quantum computing breakthroughs and summarize them"
{"goal": "Research and summarize recent quantum computing breakthroughs", "complexity": "medium", "subtasks": [
  {"id": "task_1", "description": "Search for recent breakthroughs", "tool": "search", "query": "latest quantum computing breakthroughs", "dependencies": [], "output_variable": "search_results"},
  {"id": "task_2", "description": "Summarize the findings", "tool": "chat", "query": "Summarize the key developments: {{search_results}}", "dependencies": ["task_1"], "output_variable": "summary"}
]}

Query: "上海明天的天气怎么样？再帮我查下茅台的股价"
{"goal": "Get Shanghai weather and Moutai stock quote", "complexity": "medium", "subtasks": [
  {"id": "task_1", "description": "Fetch weather for Shanghai", "tool": "weather_api", "query": "Shanghai", "dependencies": [], "output_variable": "weather_data"},
  {"id": "task_2", "description": "Fetch Moutai stock quote", "tool": "stock_api", "query": "600519.SS", "dependencies": [], "output_variable": "stock_data"}
]}`

// buildPrompt assembles the planning prompt: tool catalog, structural rules,
// worked examples, then the query and the exact output schema.
func (d *Decomposer) buildPrompt(query string, qctx map[string]any) string {
	var b strings.Builder

	b.WriteString("You are a task planning expert. Decompose the user's query into an executable plan.\n\n")

	b.WriteString("AVAILABLE TOOLS:\n")
	for _, t := range d.catalog {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	b.WriteString("\n")

	if qctx != nil {
		if tt, ok := qctx["task_type"].(string); ok && tt != "" {
			fmt.Fprintf(&b, "ROUTER CLASSIFICATION: %s", tt)
			if conf, ok := qctx["confidence"].(float64); ok {
				fmt.Fprintf(&b, " (confidence %.2f)", conf)
			}
			b.WriteString("\n\n")
		}
	}

	fmt.Fprintf(&b, "RULES:\n- At most %d subtasks; prefer the fewest steps that cover the query.\n", d.config.MaxSubtasks)
	b.WriteString("- Give each subtask a unique id (task_1, task_2, ...) and a unique output_variable.\n")
	b.WriteString("- dependencies lists the ids that must finish first; leave it empty for independent steps.\n")
	b.WriteString("- A downstream query may embed an upstream result as {{output_variable}}.\n")
	b.WriteString("- weather_api queries take the city name in English (Beijing, not 北京).\n")
	b.WriteString("- stock_api queries take the ticker symbol (AAPL, 600519.SS), never the company name.\n")
	b.WriteString("- routing_api queries take the form \"origin to destination\" with English place names.\n\n")

	b.WriteString("EXAMPLES:\n")
	b.WriteString(decomposeExamples)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "QUERY: %s\n\n", strconv.Quote(query))

	b.WriteString(`Output JSON:
{
  "goal": "what the plan accomplishes",
  "complexity": "low|medium|high",
  "subtasks": [
    {"id": "task_1", "description": "...", "tool": "tool_name", "query": "...", "dependencies": [], "output_variable": "snake_case_name"}
  ]
}

Output ONLY valid JSON:`)

	return b.String()
}

// normalizeComplexity keeps a recognized grade or derives one from step count.
func normalizeComplexity(raw string, steps int) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case types.ComplexityLow:
		return types.ComplexityLow
	case types.ComplexityMedium:
		return types.ComplexityMedium
	case types.ComplexityHigh:
		return types.ComplexityHigh
	}
	switch {
	case steps <= 1:
		return types.ComplexityLow
	case steps <= 3:
		return types.ComplexityMedium
	default:
		return types.ComplexityHigh
	}
}

func limitString(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
