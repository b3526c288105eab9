package routing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// KEYWORD TABLES
// =============================================================================
//
// The keyword classifier is driven by these tables. Defaults are compiled in;
// operators can override them with a YAML file (routing.keyword_file) which is
// hot-reloaded by the KeywordWatcher. English entries are matched on word
// boundaries, CJK entries as substrings.

// KeywordTables holds every keyword set the classifier consults.
type KeywordTables struct {
	// Domain sets, checked in fixed order: weather, finance, routing, rag.
	Weather []string `yaml:"weather"`
	Finance []string `yaml:"finance"`
	Routing []string `yaml:"routing"`
	RAG     []string `yaml:"rag"`

	// A routing match additionally requires one of these direction markers.
	Directions []string `yaml:"directions"`

	// Code verbs and research phrasings.
	Code     []string `yaml:"code"`
	Research []string `yaml:"research"`

	// Calculation indicators plus the unit words that give them context.
	CalcIndicators []string `yaml:"calc_indicators"`
	Units          []string `yaml:"units"`

	// Real-time markers demote calculation-shaped queries to later rules.
	RealTimeMarkers []string `yaml:"real_time_markers"`
}

// DefaultKeywordTables returns the compiled-in bilingual keyword sets.
func DefaultKeywordTables() *KeywordTables {
	return &KeywordTables{
		Weather: []string{
			"weather", "temperature", "forecast", "rain", "snow", "sunny", "humidity",
			"天气", "气温", "温度", "下雨", "下雪", "预报",
		},
		Finance: []string{
			"stock", "stocks", "stock price", "share price", "ticker", "market cap",
			"nasdaq", "earnings", "dividend",
			"股票", "股价", "市值", "大盘", "财报",
		},
		Routing: []string{
			"route", "directions", "navigate", "navigation", "how to get",
			"how do i get", "how far", "distance",
			"怎么走", "路线", "导航", "多远",
		},
		RAG: []string{
			"document", "documents", "knowledge base", "uploaded file", "the pdf",
			"文档", "资料", "知识库", "上传的文件",
		},
		Directions: []string{
			"from", "to", "从", "到", "去",
		},
		Code: []string{
			"calculate", "solve", "compute", "evaluate", "plot", "algorithm",
			"equation", "factorial",
			"计算", "求解", "算法", "方程", "画图",
		},
		Research: []string{
			"search", "find", "look up", "what is", "who is", "when did",
			"where is", "why does", "latest", "news", "explain", "tell me about",
			"是什么", "什么是", "谁是", "搜索", "查询", "介绍", "解释", "新闻", "最新",
		},
		CalcIndicators: []string{
			"how many", "how much", "convert",
			"多少", "几个", "百分比",
		},
		Units: []string{
			"second", "seconds", "minute", "minutes", "hour", "hours",
			"day", "days", "week", "weeks", "month", "months", "year", "years",
			"kilometer", "kilometers", "km", "mile", "miles", "meter", "meters",
			"kilogram", "kg", "gram", "grams", "pound", "pounds", "ton",
			"秒", "分钟", "小时", "天", "周", "月", "年",
			"公里", "千米", "米", "英里", "公斤", "克", "吨",
		},
		RealTimeMarkers: []string{
			"now", "current", "today",
			"现在", "目前", "实时", "今天",
		},
	}
}

// LoadKeywordTables reads a YAML keyword file and merges it over the defaults.
// Sets left empty in the file keep their compiled-in values, so an override
// file only needs the sets it changes.
func LoadKeywordTables(path string) (*KeywordTables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyword file: %w", err)
	}

	var loaded KeywordTables
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse keyword file: %w", err)
	}

	tables := DefaultKeywordTables()
	tables.merge(&loaded)
	return tables, nil
}

func (t *KeywordTables) merge(o *KeywordTables) {
	if len(o.Weather) > 0 {
		t.Weather = o.Weather
	}
	if len(o.Finance) > 0 {
		t.Finance = o.Finance
	}
	if len(o.Routing) > 0 {
		t.Routing = o.Routing
	}
	if len(o.RAG) > 0 {
		t.RAG = o.RAG
	}
	if len(o.Directions) > 0 {
		t.Directions = o.Directions
	}
	if len(o.Code) > 0 {
		t.Code = o.Code
	}
	if len(o.Research) > 0 {
		t.Research = o.Research
	}
	if len(o.CalcIndicators) > 0 {
		t.CalcIndicators = o.CalcIndicators
	}
	if len(o.Units) > 0 {
		t.Units = o.Units
	}
	if len(o.RealTimeMarkers) > 0 {
		t.RealTimeMarkers = o.RealTimeMarkers
	}
}

// Save writes the tables as YAML, for seeding an editable keyword file.
func (t *KeywordTables) Save(path string) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal keyword tables: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write keyword file: %w", err)
	}
	return nil
}
