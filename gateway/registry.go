// Package gateway is the host-facing dispatch layer: an explicit tool
// registry plus the service tying the workflow engine, cache, and
// output router together.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mediaforge/mediaforge/types"
)

// ToolDescriptor documents one exposed tool for the calling host.
type ToolDescriptor struct {
	// Description is a human-readable summary.
	Description string `json:"description"`
	// Parameters documents the accepted arguments, keyed by name.
	Parameters map[string]string `json:"parameters,omitempty"`
}

// ToolHandler executes one tool call.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// ToolRegistry maps tool names to handlers. It is populated
// explicitly at startup, before the dispatch layer accepts requests;
// nothing registers itself through import side effects.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

type registeredTool struct {
	descriptor ToolDescriptor
	handler    ToolHandler
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]registeredTool)}
}

// Register adds a tool. Registering an existing name is an error so
// wiring mistakes surface at startup.
func (r *ToolRegistry) Register(name string, descriptor ToolDescriptor, handler ToolHandler) error {
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("tool %q has no handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q is already registered", name)
	}
	r.tools[name] = registeredTool{descriptor: descriptor, handler: handler}
	return nil
}

// Dispatch invokes the named tool.
func (r *ToolRegistry) Dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrCapabilityUnknown, fmt.Sprintf("unknown tool %q", name))
	}
	return tool.handler(ctx, args)
}

// Describe returns the descriptor for one tool.
func (r *ToolRegistry) Describe(name string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool.descriptor, ok
}

// List returns the sorted names of all registered tools.
func (r *ToolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
