package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mediaforge/mediaforge/types"
)

// Registry is a thread-safe mapping from capability to adapter.
// It is constructed explicitly at startup and passed down; nothing
// registers itself at import time.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Invoker
	byCap  map[Capability]Invoker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Invoker),
		byCap:  make(map[Capability]Invoker),
	}
}

// Register adds an adapter and binds it to each capability it
// declares. A later registration for the same capability replaces
// the earlier binding.
func (r *Registry) Register(inv Invoker) error {
	caps := inv.Capabilities()
	if len(caps) == 0 {
		return fmt.Errorf("adapter %q declares no capabilities", inv.Name())
	}
	for _, c := range caps {
		if !c.Valid() {
			return fmt.Errorf("adapter %q declares unknown capability %q", inv.Name(), c)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[inv.Name()] = inv
	for _, c := range caps {
		r.byCap[c] = inv
	}
	return nil
}

// ForCapability returns the adapter bound to the capability.
func (r *Registry) ForCapability(c Capability) (Invoker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.byCap[c]
	if !ok {
		return nil, types.NewError(types.ErrCapabilityUnknown, fmt.Sprintf("no adapter registered for capability %q", c))
	}
	return inv, nil
}

// Get returns an adapter by name.
func (r *Registry) Get(name string) (Invoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.byName[name]
	return inv, ok
}

// List returns the sorted names of all registered adapters.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
