package plan

import (
	"fmt"
	"strings"

	"agentmux/internal/types"
)

// Visualize renders a plan as human-readable text, one line per step with
// its tool, output variable, query, and dependencies. Pure function, used
// for logging and CLI preview.
func Visualize(p *types.TaskPlan) string {
	if p == nil || len(p.Subtasks) == 0 {
		return "(empty plan)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s\n", p.Goal)
	fmt.Fprintf(&b, "Complexity: %s | Steps: %d\n", p.Complexity, len(p.Subtasks))
	for i, st := range p.Subtasks {
		fmt.Fprintf(&b, "  %d. %s (%s) -> %s: %s", i+1, st.ID, st.Tool, st.OutputVariable, limitString(st.Query, 80))
		if len(st.Dependencies) > 0 {
			fmt.Fprintf(&b, " [after: %s]", strings.Join(st.Dependencies, ", "))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
