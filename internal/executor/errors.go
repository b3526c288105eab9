package executor

import "errors"

// Registry errors.
var (
	// ErrNotFound is returned when no executor is registered under a name.
	ErrNotFound = errors.New("executor not found")

	// ErrAlreadyRegistered is returned when registering a duplicate name.
	ErrAlreadyRegistered = errors.New("executor already registered")

	// ErrNoVisionSupport is returned by image executors when the configured
	// LLM client cannot accept image input.
	ErrNoVisionSupport = errors.New("llm client has no vision support")
)
