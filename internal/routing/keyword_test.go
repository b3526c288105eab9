package routing

import (
	"errors"
	"strings"
	"testing"

	"agentmux/internal/types"
)

func TestKeywordClassifier_Precedence(t *testing.T) {
	c := NewKeywordClassifier(nil)

	tests := []struct {
		name  string
		query string
		want  types.TaskType
	}{
		{"weather english", "What's the weather in Beijing?", types.TaskWeather},
		{"weather chinese", "北京今天天气怎么样", types.TaskWeather},
		{"finance english", "AAPL stock price please", types.TaskFinance},
		{"finance chinese", "查一下苹果的股价", types.TaskFinance},
		{"routing with direction", "directions from the airport to downtown", types.TaskRouting},
		{"routing chinese", "从机场到市中心怎么走", types.TaskRouting},
		{"rag", "summarize the uploaded file for me", types.TaskRAG},
		{"code verb", "Calculate 2^10", types.TaskCode},
		{"code chinese", "计算三百的百分之十五", types.TaskCode},
		{"math shape", "12.5 * 3", types.TaskCode},
		{"factorial", "5!", types.TaskCode},
		{"math function", "sqrt(144)", types.TaskCode},
		{"unit conversion", "how many hours in a week", types.TaskCode},
		{"calc indicator with unit", "convert 5 miles please", types.TaskCode},
		{"research keyword", "what is quantum computing", types.TaskResearch},
		{"research chinese", "什么是区块链？", types.TaskResearch},
		{"bare question", "coffee or tea?", types.TaskResearch},
		{"bare question fullwidth", "咖啡还是茶？", types.TaskResearch},
		{"default chat", "hello there friend", types.TaskChat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := c.Classify(tt.query)
			if err != nil {
				t.Fatalf("classify: %v", err)
			}
			if d.TaskType != tt.want {
				t.Fatalf("got %s, want %s (reasoning: %s)", d.TaskType, tt.want, d.Reasoning)
			}
			if d.Method() != types.MethodKeyword {
				t.Fatalf("method = %q, want keyword", d.Method())
			}
			if d.Confidence < 0 || d.Confidence > 1 {
				t.Fatalf("confidence %v out of range", d.Confidence)
			}
		})
	}
}

func TestKeywordClassifier_DomainBeatsCode(t *testing.T) {
	c := NewKeywordClassifier(nil)

	// Domain sets precede code rules even when math shapes are present.
	d, err := c.Classify("weather for the next 3-5 days")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if d.TaskType != types.TaskWeather {
		t.Fatalf("got %s, want weather", d.TaskType)
	}
}

func TestKeywordClassifier_RoutingNeedsDirection(t *testing.T) {
	c := NewKeywordClassifier(nil)

	// A routing keyword without a direction marker must not classify as routing.
	d, err := c.Classify("what is the best route optimization algorithm")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if d.TaskType == types.TaskRouting {
		t.Fatalf("routing chosen without direction marker")
	}
}

func TestKeywordClassifier_RealTimeDemotesCalculation(t *testing.T) {
	c := NewKeywordClassifier(nil)

	// "how many" + unit word would be CODE, but a real-time marker skips that
	// rule and the question mark lands it on research.
	d, err := c.Classify("how many hours of daylight are there today?")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if d.TaskType == types.TaskCode {
		t.Fatalf("real-time marker should demote calculation rule, got %s", d.TaskType)
	}
}

func TestKeywordClassifier_ConfidenceScoring(t *testing.T) {
	c := NewKeywordClassifier(nil)

	tests := []struct {
		query string
		task  types.TaskType
		conf  float64
	}{
		// 0.5 + 0.25 (weather) + 0.3 domain bonus, clamped
		{"What's the weather in Beijing?", types.TaskWeather, 1.0},
		// 0.5 + 0.25 (calculate) + 0.15 (arithmetic pattern)
		{"Calculate 2^10", types.TaskCode, 0.9},
		// 0.5 + 0.25 (什么是)
		{"什么是区块链？", types.TaskResearch, 0.75},
		// question mark only: base confidence
		{"seriously?", types.TaskResearch, 0.5},
		// no rules at all
		{"good morning", types.TaskChat, 0.5},
	}

	for _, tt := range tests {
		d, err := c.Classify(tt.query)
		if err != nil {
			t.Fatalf("classify %q: %v", tt.query, err)
		}
		if d.TaskType != tt.task {
			t.Fatalf("%q: got %s, want %s", tt.query, d.TaskType, tt.task)
		}
		if diff := d.Confidence - tt.conf; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("%q: confidence %v, want %v", tt.query, d.Confidence, tt.conf)
		}
	}
}

func TestKeywordClassifier_QueryValidation(t *testing.T) {
	c := NewKeywordClassifier(nil)

	if _, err := c.Classify(""); !errors.Is(err, types.ErrInvalidQuery) {
		t.Fatalf("empty query: got %v, want ErrInvalidQuery", err)
	}
	if _, err := c.Classify("   \t  "); !errors.Is(err, types.ErrInvalidQuery) {
		t.Fatalf("blank query: got %v, want ErrInvalidQuery", err)
	}

	c.SetMaxQueryLength(10)
	atLimit := strings.Repeat("a", 10)
	if _, err := c.Classify(atLimit); err != nil {
		t.Fatalf("query at limit rejected: %v", err)
	}
	over := strings.Repeat("a", 11)
	if _, err := c.Classify(over); !errors.Is(err, types.ErrInvalidQuery) {
		t.Fatalf("over-limit query: got %v, want ErrInvalidQuery", err)
	}
}

func TestKeywordClassifier_LanguageMetadata(t *testing.T) {
	c := NewKeywordClassifier(nil)

	d, _ := c.Classify("什么是区块链？")
	if d.Metadata[types.MetaLanguage] != "zh" {
		t.Fatalf("expected zh language tag, got %v", d.Metadata[types.MetaLanguage])
	}

	d, _ = c.Classify("what is a blockchain?")
	if d.Metadata[types.MetaLanguage] != "en" {
		t.Fatalf("expected en language tag, got %v", d.Metadata[types.MetaLanguage])
	}
}

func TestKeywordClassifier_SetTables(t *testing.T) {
	c := NewKeywordClassifier(nil)

	custom := DefaultKeywordTables()
	custom.Weather = []string{"blizzard"}
	c.SetTables(custom)

	d, err := c.Classify("is a blizzard coming")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if d.TaskType != types.TaskWeather {
		t.Fatalf("custom keyword not picked up, got %s", d.TaskType)
	}

	// Old keyword gone after swap ("weather" itself was replaced).
	d, _ = c.Classify("weather report please")
	if d.TaskType == types.TaskWeather {
		t.Fatalf("stale keyword table still active")
	}
}

func TestToolRequirementsFor(t *testing.T) {
	tests := []struct {
		task  types.TaskType
		tools []string
	}{
		{types.TaskResearch, []string{"search", "scraper"}},
		{types.TaskCode, []string{"code_executor"}},
		{types.TaskWeather, []string{"weather_api"}},
		{types.TaskFinance, []string{"stock_api"}},
		{types.TaskRouting, []string{"routing_api"}},
		{types.TaskRAG, []string{"vector_store", "document_processor"}},
		{types.TaskOCR, []string{"ocr"}},
		{types.TaskVision, []string{"vision"}},
		{types.TaskChat, nil},
	}

	for _, tt := range tests {
		reqs := ToolRequirementsFor(tt.task)
		if len(reqs) != len(tt.tools) {
			t.Fatalf("%s: got %d tools, want %d", tt.task, len(reqs), len(tt.tools))
		}
		for i, name := range tt.tools {
			if reqs[i].ToolName != name {
				t.Fatalf("%s: tool[%d] = %s, want %s", tt.task, i, reqs[i].ToolName, name)
			}
		}
	}
}

func TestDetectLanguage(t *testing.T) {
	if DetectLanguage("hello world") != "en" {
		t.Fatal("ascii text should detect en")
	}
	if DetectLanguage("你好") != "zh" {
		t.Fatal("han text should detect zh")
	}
	if DetectLanguage("what is 区块链") != "zh" {
		t.Fatal("mixed text with han should detect zh")
	}
}
