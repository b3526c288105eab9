package types

import "errors"

// Core error kinds. Wrap with fmt.Errorf("...: %w", Err...) and match with
// errors.Is so callers never parse error strings.
var (
	// ErrInvalidQuery indicates an empty or over-length query.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrLLMUnavailable indicates the LLM call itself failed (transport,
	// timeout, provider error).
	ErrLLMUnavailable = errors.New("llm unavailable")

	// ErrMalformedLLMOutput indicates the LLM responded but the payload
	// could not be parsed into the expected structure.
	ErrMalformedLLMOutput = errors.New("malformed llm output")

	// ErrPlanValidation indicates a structurally invalid plan: unknown
	// dependency ids, duplicate output variables, too many subtasks.
	ErrPlanValidation = errors.New("plan validation failed")

	// ErrExecutorTimeout indicates a single task attempt exceeded its deadline.
	ErrExecutorTimeout = errors.New("executor timeout")

	// ErrExecutorFailed indicates an executor returned an error.
	ErrExecutorFailed = errors.New("executor failed")

	// ErrDependencyFailed marks a task skipped because an upstream task failed.
	ErrDependencyFailed = errors.New("dependency failed")

	// ErrCycleDetected indicates circular dependencies in a plan or workflow.
	ErrCycleDetected = errors.New("dependency cycle detected")
)
