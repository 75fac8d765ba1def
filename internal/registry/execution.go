package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agentmesh-ai/meshd/internal/errors"
)

// ExecutionRegistry owns the tools runnable in this process. Registration is
// first-wins: a second registration under an existing name is an error, so
// exactly one in-process caller owns each tool name.
// It is safe for concurrent use by multiple goroutines.
type ExecutionRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewExecutionRegistry creates an empty execution registry.
func NewExecutionRegistry() *ExecutionRegistry {
	return &ExecutionRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool. Registering a name that already exists returns
// errors.ErrDuplicateRegistration and leaves the registry unchanged.
func (r *ExecutionRegistry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %q has no handler", tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: tool %q", errors.ErrDuplicateRegistration, tool.Name)
	}
	r.tools[tool.Name] = tool

	return nil
}

// Get returns the tool for the given name.
// The boolean reports whether the tool was found.
func (r *ExecutionRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools sorted by name.
func (r *ExecutionRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	return tools
}
