package adapter

import (
	"sort"
	"sync"
)

// Registry holds the adapters available to the coordinator.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	disabled map[string]bool
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		disabled: make(map[string]bool),
	}
}

// Register adds an adapter, replacing any with the same name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns an adapter by name, or nil if not found.
func (r *Registry) Get(name string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[name]
}

// SetEnabled toggles whether an adapter takes part in lookups.
func (r *Registry) SetEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if enabled {
		delete(r.disabled, name)
		return
	}
	r.disabled[name] = true
}

// List returns all registered adapter names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enabled returns the enabled adapters in name order.
func (r *Registry) Enabled() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		if !r.disabled[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]Adapter, 0, len(names))
	for _, name := range names {
		out = append(out, r.adapters[name])
	}
	return out
}
