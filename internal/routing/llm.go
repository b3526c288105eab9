package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"agentmux/internal/llm"
	"agentmux/internal/logging"
	"agentmux/internal/types"
)

// =============================================================================
// LLM CLASSIFIER
// =============================================================================

// LLMClassifierConfig configures sampling for classification calls.
type LLMClassifierConfig struct {
	Temperature float64
	MaxTokens   int
}

// DefaultLLMClassifierConfig returns sensible defaults: low temperature for
// stable structured output, small budget since the reply is one JSON object.
func DefaultLLMClassifierConfig() LLMClassifierConfig {
	return LLMClassifierConfig{
		Temperature: 0.2,
		MaxTokens:   500,
	}
}

// LLMClassifier asks the model to emit a structured JSON classification.
type LLMClassifier struct {
	client types.LLMClient
	config LLMClassifierConfig
}

// NewLLMClassifier creates a classifier over the given client.
func NewLLMClassifier(client types.LLMClient, config LLMClassifierConfig) *LLMClassifier {
	if config.Temperature <= 0 {
		config.Temperature = 0.2
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 500
	}
	return &LLMClassifier{client: client, config: config}
}

// rawClassification tolerates loosely-typed model output; fields are coerced
// after parsing.
type rawClassification struct {
	TaskType         string    `json:"task_type"`
	Confidence       any       `json:"confidence"`
	Reasoning        string    `json:"reasoning"`
	ToolsNeeded      []rawTool `json:"tools_needed"`
	MultiIntent      bool      `json:"multi_intent"`
	AlternativeTasks []any     `json:"alternative_tasks"`
}

type rawTool struct {
	ToolName   string         `json:"tool_name"`
	ToolType   string         `json:"tool_type"`
	Required   *bool          `json:"required"`
	Parameters map[string]any `json:"parameters"`
}

// Route classifies the query via the LLM. The context may carry a language
// hint under "language" ({zh, en}); otherwise the language is detected.
//
// On LLM failure or unusable output, Route returns a live fallback decision
// (chat, confidence 0.3, method llm_fallback) TOGETHER with a non-nil error,
// so the hybrid router can prefer its keyword decision instead while
// standalone callers still get a usable result.
func (c *LLMClassifier) Route(ctx context.Context, query string, qctx map[string]any) (*types.RoutingDecision, error) {
	lang := languageHint(query, qctx)
	prompt := buildClassifyPrompt(query, lang)

	resp, err := c.client.CompleteWithOptions(ctx,
		[]types.Message{{Role: "user", Content: prompt}},
		c.config.Temperature, c.config.MaxTokens)
	if err != nil {
		logging.RoutingWarn("LLM classify failed: %v", err)
		return c.fallback(query, lang, err.Error(), fmt.Errorf("classify call: %w: %v", types.ErrLLMUnavailable, err))
	}

	obj := llm.ExtractJSONObject(resp)
	if obj == "" {
		logging.RoutingWarn("LLM classify returned no JSON object: %q", truncate(resp, 120))
		return c.fallback(query, lang, "malformed_response", fmt.Errorf("classify response has no JSON object: %w", types.ErrMalformedLLMOutput))
	}

	var raw rawClassification
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		logging.RoutingWarn("LLM classify JSON parse failed: %v", err)
		return c.fallback(query, lang, "malformed_response", fmt.Errorf("classify response parse: %w: %v", types.ErrMalformedLLMOutput, err))
	}

	if strings.TrimSpace(raw.TaskType) == "" || raw.Confidence == nil {
		return c.fallback(query, lang, "malformed_response", fmt.Errorf("classify response missing required fields: %w", types.ErrMalformedLLMOutput))
	}

	// Unknown task names map to chat rather than failing the call.
	task, ok := types.ParseTaskType(raw.TaskType)
	if !ok {
		logging.RoutingDebug("LLM classify proposed unknown task %q, using chat", raw.TaskType)
		task = types.TaskChat
	}

	conf, ok := coerceFloat(raw.Confidence)
	if !ok {
		return c.fallback(query, lang, "malformed_response", fmt.Errorf("classify confidence not numeric: %w", types.ErrMalformedLLMOutput))
	}
	conf = clamp01(conf)

	d, err := types.NewRoutingDecision(query, task, conf)
	if err != nil {
		return c.fallback(query, lang, "malformed_response", fmt.Errorf("classify decision construction: %w", err))
	}
	d.Reasoning = raw.Reasoning
	d.IsMultiIntent = raw.MultiIntent
	d.AlternativeTasks = parseAlternatives(raw.AlternativeTasks, task)
	d.RequiredTools = parseTools(raw.ToolsNeeded)
	if len(d.RequiredTools) == 0 {
		d.RequiredTools = ToolRequirementsFor(task)
	}
	d.Metadata[types.MetaMethod] = types.MethodLLM
	d.Metadata[types.MetaLanguage] = lang

	logging.Routing("LLM classify: %q -> %s (%.2f)", truncate(query, 80), task, conf)
	return d, nil
}

func (c *LLMClassifier) fallback(query, lang, reason string, cause error) (*types.RoutingDecision, error) {
	d, _ := types.NewRoutingDecision(query, types.TaskChat, 0.3)
	d.Reasoning = "LLM classification unavailable, defaulting to chat"
	d.Metadata[types.MetaMethod] = types.MethodLLMFallback
	d.Metadata[types.MetaError] = reason
	d.Metadata[types.MetaLanguage] = lang
	return d, cause
}

func languageHint(query string, qctx map[string]any) string {
	if qctx != nil {
		if v, ok := qctx["language"].(string); ok && (v == "zh" || v == "en") {
			return v
		}
	}
	return DetectLanguage(query)
}

func parseAlternatives(raw []any, primary types.TaskType) []types.TaskType {
	var out []types.TaskType
	seen := map[types.TaskType]bool{primary: true}
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		t, ok := types.ParseTaskType(s)
		if !ok || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func parseTools(raw []rawTool) []types.ToolRequirement {
	var out []types.ToolRequirement
	for _, rt := range raw {
		name := strings.TrimSpace(rt.ToolName)
		if name == "" {
			continue
		}
		required := true
		if rt.Required != nil {
			required = *rt.Required
		}
		toolType := rt.ToolType
		if toolType == "" {
			toolType = "general"
		}
		out = append(out, types.ToolRequirement{
			ToolName:   name,
			ToolType:   toolType,
			Required:   required,
			Parameters: rt.Parameters,
		})
	}
	return out
}

func coerceFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// =============================================================================
// PROMPTS
// =============================================================================

func buildClassifyPrompt(query, lang string) string {
	if lang == "zh" {
		return buildClassifyPromptZH(query)
	}
	return buildClassifyPromptEN(query)
}

func buildClassifyPromptEN(query string) string {
	var sb strings.Builder

	sb.WriteString("You are the query router of a multi-agent assistant. ")
	sb.WriteString("Classify the query into exactly one task type.\n\n")

	sb.WriteString("Task types:\n")
	sb.WriteString("- research: web lookup, facts, news, explanations. Example: \"What is quantum computing?\"\n")
	sb.WriteString("- code: math, computation, programming. Example: \"Calculate 2^10\"\n")
	sb.WriteString("- chat: greetings, small talk, opinions. Example: \"tell me a joke\"\n")
	sb.WriteString("- rag: questions about uploaded documents or the knowledge base. Example: \"summarize the document\"\n")
	sb.WriteString("- weather: weather conditions and forecasts. Example: \"weather in Beijing tomorrow\"\n")
	sb.WriteString("- finance: stock prices and markets. Example: \"AAPL share price\"\n")
	sb.WriteString("- routing: directions and navigation. Example: \"how do I get from the airport to downtown\"\n\n")

	sb.WriteString("Chinese idiom rules:\n")
	sb.WriteString("- \"是什么\" / \"什么是\" means a definition question: research\n")
	sb.WriteString("- \"目前\" / \"现在\" plus a domain noun means that domain (weather, finance, ...)\n")
	sb.WriteString("- \"怎么走\" means directions: routing\n\n")

	sb.WriteString("Query: ")
	sb.WriteString(strconv.Quote(query))
	sb.WriteString("\n\n")

	sb.WriteString("Output ONLY a single JSON object, no markdown fences, shaped exactly like:\n")
	sb.WriteString(`{"task_type": "research", "confidence": 0.9, "reasoning": "one sentence", ` +
		`"tools_needed": [{"tool_name": "search", "tool_type": "web", "required": true, "parameters": {}}], ` +
		`"multi_intent": false, "alternative_tasks": []}`)
	sb.WriteString("\n")

	return sb.String()
}

func buildClassifyPromptZH(query string) string {
	var sb strings.Builder

	sb.WriteString("你是一个多智能体助手的查询路由器。请将查询归入且仅归入一个任务类型。\n\n")

	sb.WriteString("任务类型：\n")
	sb.WriteString("- research：联网查询、事实、新闻、概念解释。例：\"什么是量子计算？\"\n")
	sb.WriteString("- code：数学、计算、编程。例：\"计算 2^10\"\n")
	sb.WriteString("- chat：问候、闲聊、观点。例：\"讲个笑话\"\n")
	sb.WriteString("- rag：针对已上传文档或知识库的提问。例：\"总结这份文档\"\n")
	sb.WriteString("- weather：天气与预报。例：\"北京明天的天气\"\n")
	sb.WriteString("- finance：股价与行情。例：\"苹果股价\"\n")
	sb.WriteString("- routing：路线与导航。例：\"从机场到市中心怎么走\"\n\n")

	sb.WriteString("模式规则：\n")
	sb.WriteString("- \"是什么\" / \"什么是\" 表示定义类问题：research\n")
	sb.WriteString("- \"目前\" / \"现在\" 加领域名词表示对应领域（weather、finance 等）\n")
	sb.WriteString("- \"怎么走\" 表示路线：routing\n\n")

	sb.WriteString("查询：")
	sb.WriteString(strconv.Quote(query))
	sb.WriteString("\n\n")

	sb.WriteString("只输出一个 JSON 对象，不要 markdown 代码块，格式如下：\n")
	sb.WriteString(`{"task_type": "research", "confidence": 0.9, "reasoning": "一句话理由", ` +
		`"tools_needed": [{"tool_name": "search", "tool_type": "web", "required": true, "parameters": {}}], ` +
		`"multi_intent": false, "alternative_tasks": []}`)
	sb.WriteString("\n")

	return sb.String()
}
