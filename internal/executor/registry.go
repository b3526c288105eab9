package executor

import (
	"fmt"
	"sort"
	"sync"

	"agentmux/internal/logging"
	"agentmux/internal/plan"
	"agentmux/internal/types"
)

// =============================================================================
// EXECUTOR REGISTRY
// =============================================================================

// Registry maps tool names to executors. It is safe for concurrent use;
// registration normally happens once at startup.
type Registry struct {
	mu           sync.RWMutex
	executors    map[string]types.Executor
	descriptions map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors:    make(map[string]types.Executor),
		descriptions: make(map[string]string),
	}
}

// Register binds an executor under its Name. The description feeds the
// decomposer's tool catalog. Duplicate names are rejected.
func (r *Registry) Register(exec types.Executor, description string) error {
	if exec == nil {
		return fmt.Errorf("register: nil executor")
	}
	name := exec.Name()
	if name == "" {
		return fmt.Errorf("register: executor has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.executors[name] = exec
	r.descriptions[name] = description
	logging.ExecutorDebug("Registered executor: %s", name)
	return nil
}

// MustRegister registers an executor and panics on error. Use for static
// wiring at startup.
func (r *Registry) MustRegister(exec types.Executor, description string) {
	if err := r.Register(exec, description); err != nil {
		panic(fmt.Sprintf("executor registration: %v", err))
	}
}

// Get returns the executor registered under name, or nil.
func (r *Registry) Get(name string) types.Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.executors[name]
}

// Resolve returns the executor registered under name, or ErrNotFound.
func (r *Registry) Resolve(name string) (types.Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return exec, nil
}

// Has reports whether an executor is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[name]
	return ok
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered executors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}

// Catalog renders the registry as a decomposer tool catalog, sorted by name.
func (r *Registry) Catalog() []plan.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	catalog := make([]plan.ToolInfo, 0, len(r.executors))
	for name := range r.executors {
		catalog = append(catalog, plan.ToolInfo{Name: name, Description: r.descriptions[name]})
	}
	sort.Slice(catalog, func(i, j int) bool { return catalog[i].Name < catalog[j].Name })
	return catalog
}
