// Package types provides shared type definitions used across agentmux packages.
// This package exists to break import cycles between routing, plan, engine, and
// orchestrator. Types in this package should be foundational data structures with
// no complex dependencies.
package types

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// TASK TYPE CATALOG
// =============================================================================

// TaskType classifies what kind of capability a query needs.
// Values serialize as lowercase strings.
type TaskType string

const (
	TaskResearch TaskType = "research" // web/source research and summarization
	TaskCode     TaskType = "code"     // computation, math, code generation/execution
	TaskChat     TaskType = "chat"     // conversational default
	TaskRAG      TaskType = "rag"      // retrieval over a private knowledge base
	TaskWeather  TaskType = "weather"  // weather domain API
	TaskFinance  TaskType = "finance"  // stock/market domain API
	TaskRouting  TaskType = "routing"  // navigation/route planning domain API
	TaskOCR      TaskType = "ocr"      // text extraction from images
	TaskVision   TaskType = "vision"   // general image understanding
)

// AllTaskTypes returns the closed catalog in a stable order.
func AllTaskTypes() []TaskType {
	return []TaskType{
		TaskResearch, TaskCode, TaskChat, TaskRAG, TaskWeather,
		TaskFinance, TaskRouting, TaskOCR, TaskVision,
	}
}

// Valid reports whether t is one of the nine catalog values.
func (t TaskType) Valid() bool {
	switch t {
	case TaskResearch, TaskCode, TaskChat, TaskRAG, TaskWeather,
		TaskFinance, TaskRouting, TaskOCR, TaskVision:
		return true
	}
	return false
}

func (t TaskType) String() string { return string(t) }

// ParseTaskType resolves a string to a catalog value, case-insensitively.
func ParseTaskType(s string) (TaskType, bool) {
	t := TaskType(strings.ToLower(strings.TrimSpace(s)))
	if t.Valid() {
		return t, true
	}
	return "", false
}

// =============================================================================
// ROUTING DECISION
// =============================================================================

// Routing method values recorded under MetaMethod.
const (
	MethodKeyword               = "keyword"
	MethodLLM                   = "llm"
	MethodLLMFallback           = "llm_fallback"
	MethodHybridKeyword         = "hybrid_keyword"
	MethodHybridLLM             = "hybrid_llm"
	MethodHybridKeywordFallback = "hybrid_keyword_fallback"
)

// Well-known metadata keys on a RoutingDecision.
const (
	MetaMethod            = "method"
	MetaKeywordConfidence = "keyword_confidence"
	MetaKeywordTask       = "keyword_task"
	MetaCached            = "cached"
	MetaLanguage          = "language"
	MetaError             = "error"
	MetaLLMError          = "llm_error"
)

// ToolRequirement declares a tool a routed query will need. It carries no
// execution logic; binding happens in the executor registry.
type ToolRequirement struct {
	ToolName   string         `json:"tool_name"`
	ToolType   string         `json:"tool_type"`
	Required   bool           `json:"required"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// RoutingDecision is the routing verdict for one query. Treat as immutable
// after construction; Clone before mutating metadata.
type RoutingDecision struct {
	Query            string            `json:"query"`
	TaskType         TaskType          `json:"task_type"`
	Confidence       float64           `json:"confidence"`
	RequiredTools    []ToolRequirement `json:"required_tools,omitempty"`
	Reasoning        string            `json:"reasoning,omitempty"`
	IsMultiIntent    bool              `json:"is_multi_intent,omitempty"`
	AlternativeTasks []TaskType        `json:"alternative_tasks,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

// NewRoutingDecision validates the task type and confidence range and returns
// a decision with an initialized metadata map.
func NewRoutingDecision(query string, taskType TaskType, confidence float64) (*RoutingDecision, error) {
	if !taskType.Valid() {
		return nil, fmt.Errorf("unknown task type %q", taskType)
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence %.3f out of range [0,1]", confidence)
	}
	return &RoutingDecision{
		Query:      query,
		TaskType:   taskType,
		Confidence: confidence,
		Metadata:   make(map[string]any),
	}, nil
}

// Clone returns a deep copy. The cache hands out clones so callers can tag
// metadata (cached, method) without mutating the stored decision.
func (d *RoutingDecision) Clone() *RoutingDecision {
	if d == nil {
		return nil
	}
	cp := *d
	cp.RequiredTools = append([]ToolRequirement(nil), d.RequiredTools...)
	cp.AlternativeTasks = append([]TaskType(nil), d.AlternativeTasks...)
	cp.Metadata = make(map[string]any, len(d.Metadata))
	for k, v := range d.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

// Method returns the metadata routing method, or "" when untagged.
func (d *RoutingDecision) Method() string {
	if d == nil || d.Metadata == nil {
		return ""
	}
	if m, ok := d.Metadata[MetaMethod].(string); ok {
		return m
	}
	return ""
}

// Cached reports whether this decision was served from the routing cache.
func (d *RoutingDecision) Cached() bool {
	if d == nil || d.Metadata == nil {
		return false
	}
	c, ok := d.Metadata[MetaCached].(bool)
	return ok && c
}

// =============================================================================
// TASK PLAN
// =============================================================================

// Plan complexity grades.
const (
	ComplexityLow    = "low"
	ComplexityMedium = "medium"
	ComplexityHigh   = "high"
)

// SubTask is one step of a decomposed plan. Query may contain {{variable}}
// placeholders resolved from upstream output variables at execution time.
type SubTask struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	Tool           string   `json:"tool"`
	Query          string   `json:"query"`
	Dependencies   []string `json:"dependencies,omitempty"`
	OutputVariable string   `json:"output_variable"`
}

// TaskPlan is an ordered set of subtasks produced by the decomposer.
type TaskPlan struct {
	OriginalQuery  string    `json:"original_query"`
	Goal           string    `json:"goal"`
	Subtasks       []SubTask `json:"subtasks"`
	EstimatedSteps int       `json:"estimated_steps"`
	Complexity     string    `json:"complexity"`
}

// SubTaskByID returns the subtask with the given id, if declared.
func (p *TaskPlan) SubTaskByID(id string) (*SubTask, bool) {
	for i := range p.Subtasks {
		if p.Subtasks[i].ID == id {
			return &p.Subtasks[i], true
		}
	}
	return nil, false
}

// =============================================================================
// AGGREGATION
// =============================================================================

// Source is one provenance item feeding aggregation: a search hit, a fetched
// page, a tool result. Credibility defaults to 0.5 when the producer has no
// basis to say otherwise.
type Source struct {
	Title       string  `json:"title"`
	URL         string  `json:"url,omitempty"`
	Content     string  `json:"content"`
	Snippet     string  `json:"snippet,omitempty"`
	Score       float64 `json:"score,omitempty"`
	Credibility float64 `json:"credibility,omitempty"`
}

// AggregatedResult is the synthesized outcome over all task results.
type AggregatedResult struct {
	Summary    string         `json:"summary"`
	Sources    []Source       `json:"sources,omitempty"`
	KeyPoints  []string       `json:"key_points,omitempty"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// =============================================================================
// CANONICALIZATION HELPERS
// =============================================================================

// CanonicalContext renders a context map deterministically (keys sorted) so
// equal maps always produce the same cache key material.
func CanonicalContext(ctx map[string]any) string {
	if len(ctx) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('|')
		}
		fmt.Fprintf(&b, "%s=%v", k, ctx[k])
	}
	return b.String()
}
