package engine

import (
	"fmt"
	"regexp"

	"agentmux/internal/types"
)

// =============================================================================
// TASK CONTEXT ASSEMBLY
// =============================================================================

// reTemplate matches {{variable}} placeholders, tolerating inner whitespace.
var reTemplate = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// buildTaskContext assembles the query and context map handed to a task's
// executor. The context starts from the task's declared inputs; every
// COMPLETED dependency contributes its result under "<depID>_result", and
// its output variable becomes available as a {{placeholder}} in the query
// and in string-valued inputs.
func buildTaskContext(t *types.Task, w *types.Workflow) (string, map[string]any) {
	taskCtx := make(map[string]any, len(t.Inputs)+len(t.Dependencies))
	for k, v := range t.Inputs {
		taskCtx[k] = v
	}

	vars := make(map[string]string, len(t.Dependencies))
	for _, depID := range t.Dependencies {
		dep, ok := w.Tasks[depID]
		if !ok || dep.Status() != types.StatusCompleted {
			continue
		}
		result := dep.Result()
		taskCtx[depID+"_result"] = result
		if dep.OutputVariable != "" {
			vars[dep.OutputVariable] = stringify(result)
		}
	}

	query := substituteTemplates(t.Query, vars)
	if len(vars) > 0 {
		for k, v := range taskCtx {
			if s, ok := v.(string); ok {
				taskCtx[k] = substituteTemplates(s, vars)
			}
		}
	}
	return query, taskCtx
}

// substituteTemplates replaces {{name}} placeholders with values from vars.
// Placeholders without a binding are left untouched so a downstream reader
// can still see what was expected.
func substituteTemplates(s string, vars map[string]string) string {
	if len(vars) == 0 {
		return s
	}
	return reTemplate.ReplaceAllStringFunc(s, func(match string) string {
		name := reTemplate.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}

// stringify renders a dependency result for template injection.
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
