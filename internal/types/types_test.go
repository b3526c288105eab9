package types

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseTaskType(t *testing.T) {
	cases := []struct {
		in   string
		want TaskType
		ok   bool
	}{
		{"research", TaskResearch, true},
		{"CODE", TaskCode, true},
		{"  Weather ", TaskWeather, true},
		{"vision", TaskVision, true},
		{"translate", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := ParseTaskType(c.in)
		if ok != c.ok || got != c.want {
			t.Fatalf("ParseTaskType(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestTaskTypeCatalogClosed(t *testing.T) {
	all := AllTaskTypes()
	if len(all) != 9 {
		t.Fatalf("expected 9 task types, got %d", len(all))
	}
	seen := make(map[TaskType]bool)
	for _, tt := range all {
		if !tt.Valid() {
			t.Fatalf("catalog value %q not valid", tt)
		}
		if seen[tt] {
			t.Fatalf("duplicate catalog value %q", tt)
		}
		seen[tt] = true
	}
}

func TestTaskTypeSerializesLowercase(t *testing.T) {
	b, err := json.Marshal(TaskFinance)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"finance"` {
		t.Fatalf("expected lowercase wire form, got %s", b)
	}
}

func TestNewRoutingDecisionValidatesConfidence(t *testing.T) {
	if _, err := NewRoutingDecision("hi", TaskChat, -0.01); err == nil {
		t.Fatalf("expected error for confidence below 0")
	}
	if _, err := NewRoutingDecision("hi", TaskChat, 1.01); err == nil {
		t.Fatalf("expected error for confidence above 1")
	}
	d, err := NewRoutingDecision("hi", TaskChat, 0)
	if err != nil {
		t.Fatalf("boundary 0 should construct: %v", err)
	}
	if d.Confidence != 0 {
		t.Fatalf("confidence mangled: %v", d.Confidence)
	}
	if _, err := NewRoutingDecision("hi", TaskChat, 1); err != nil {
		t.Fatalf("boundary 1 should construct: %v", err)
	}
}

func TestNewRoutingDecisionRejectsUnknownType(t *testing.T) {
	if _, err := NewRoutingDecision("hi", TaskType("translate"), 0.5); err == nil {
		t.Fatalf("expected error for unknown task type")
	}
}

func TestRoutingDecisionClone(t *testing.T) {
	d, err := NewRoutingDecision("compare results", TaskResearch, 0.8)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	d.Metadata[MetaMethod] = MethodKeyword
	d.AlternativeTasks = []TaskType{TaskChat}

	cp := d.Clone()
	cp.Metadata[MetaCached] = true
	cp.AlternativeTasks[0] = TaskCode

	if _, leaked := d.Metadata[MetaCached]; leaked {
		t.Fatalf("clone shares metadata map with original")
	}
	if d.AlternativeTasks[0] != TaskChat {
		t.Fatalf("clone shares alternatives slice with original")
	}
	if !cp.Cached() || d.Cached() {
		t.Fatalf("cached flag mixed up between clone and original")
	}
	if cp.Method() != MethodKeyword {
		t.Fatalf("clone lost method metadata")
	}
}

func TestRoutingDecisionWireRoundTrip(t *testing.T) {
	d, err := NewRoutingDecision("weather in Beijing", TaskWeather, 0.95)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	d.Reasoning = "weather keyword match"
	d.IsMultiIntent = true
	d.AlternativeTasks = []TaskType{TaskResearch}
	d.RequiredTools = []ToolRequirement{{ToolName: "weather_api", ToolType: "api", Required: true}}
	// Metadata values restricted to JSON-stable kinds (string, bool, float64).
	d.Metadata[MetaMethod] = MethodKeyword
	d.Metadata[MetaCached] = false
	d.Metadata[MetaKeywordConfidence] = 0.95

	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back RoutingDecision
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(*d, back); diff != "" {
		t.Errorf("decision changed across round-trip (-want +got):\n%s", diff)
	}
}

func TestSubTaskPlanWireFormat(t *testing.T) {
	raw := `{
		"goal": "compare stocks",
		"complexity": "medium",
		"subtasks": [
			{"id": "task1", "description": "get AAPL", "tool": "stock_api",
			 "query": "AAPL", "output_variable": "aapl_price"},
			{"id": "task2", "description": "analyze", "tool": "chat",
			 "query": "compare {{aapl_price}}", "dependencies": ["task1"],
			 "output_variable": "analysis", "unknown_field": 42}
		]
	}`
	var plan TaskPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if plan.Goal != "compare stocks" || len(plan.Subtasks) != 2 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	st, ok := plan.SubTaskByID("task2")
	if !ok {
		t.Fatalf("task2 not found")
	}
	if st.Dependencies[0] != "task1" || st.OutputVariable != "analysis" {
		t.Fatalf("unexpected subtask: %+v", st)
	}

	// Unknown fields are dropped, everything else survives a round-trip.
	again, err := json.Marshal(plan)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var reparsed TaskPlan
	if err := json.Unmarshal(again, &reparsed); err != nil {
		t.Fatalf("unmarshal round-trip: %v", err)
	}
	if diff := cmp.Diff(plan, reparsed); diff != "" {
		t.Errorf("plan changed across round-trip (-want +got):\n%s", diff)
	}
}

func TestCanonicalContextDeterministic(t *testing.T) {
	a := map[string]any{"user": "u1", "lang": "zh", "n": 3}
	b := map[string]any{"n": 3, "lang": "zh", "user": "u1"}
	if CanonicalContext(a) != CanonicalContext(b) {
		t.Fatalf("canonical form depends on insertion order")
	}
	if CanonicalContext(nil) != "" {
		t.Fatalf("nil context should canonicalize to empty string")
	}
	if CanonicalContext(a) == CanonicalContext(map[string]any{"user": "u2", "lang": "zh", "n": 3}) {
		t.Fatalf("different contexts should differ")
	}
}
