package plugin

import (
	"fmt"
	"sync"
)

// Registry holds registered components, guarded by a reader/writer
// exclusion (spec §5: "many concurrent reads, writes only during plugin
// lifecycle"), grounded in the teacher's GlobalPluginRegistry
// (internal/plugins/registry.go).
type Registry struct {
	mu         sync.RWMutex
	components map[Kind]map[string]*Component
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{components: make(map[Kind]map[string]*Component)}
}

// ErrDuplicateComponent is returned by Register when a component of the
// same kind and name already exists (spec §4.2 DuplicateComponent).
type ErrDuplicateComponent struct {
	Kind Kind
	Name string
}

func (e *ErrDuplicateComponent) Error() string {
	return fmt.Sprintf("duplicate component %s/%s", e.Kind, e.Name)
}

// Register adds a component. Returns ErrDuplicateComponent if a component
// of the same kind and name is already registered.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byName, ok := r.components[c.Info.Kind]
	if !ok {
		byName = make(map[string]*Component)
		r.components[c.Info.Kind] = byName
	}
	if _, exists := byName[c.Info.Name]; exists {
		return &ErrDuplicateComponent{Kind: c.Info.Kind, Name: c.Info.Name}
	}
	cc := c
	byName[c.Info.Name] = &cc
	return nil
}

// Unregister removes a component by kind and name.
func (r *Registry) Unregister(kind Kind, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if byName, ok := r.components[kind]; ok {
		delete(byName, name)
	}
}

// UnregisterPlugin removes every component owned by the given plugin name,
// across all kinds (used when a plugin fails to load or is unloaded).
func (r *Registry) UnregisterPlugin(pluginName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for kind, byName := range r.components {
		for name, c := range byName {
			if c.Info.Plugin == pluginName {
				delete(byName, name)
			}
		}
		if len(byName) == 0 {
			delete(r.components, kind)
		}
	}
}

// Get looks up a single component by kind and name.
func (r *Registry) Get(kind Kind, name string) (*Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName, ok := r.components[kind]
	if !ok {
		return nil, false
	}
	c, ok := byName[name]
	return c, ok
}

// ListByKind returns every component registered under kind.
func (r *Registry) ListByKind(kind Kind) []*Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName, ok := r.components[kind]
	if !ok {
		return nil
	}
	out := make([]*Component, 0, len(byName))
	for _, c := range byName {
		out = append(out, c)
	}
	return out
}

// All returns every registered component across all kinds.
func (r *Registry) All() []*Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Component
	for _, byName := range r.components {
		for _, c := range byName {
			out = append(out, c)
		}
	}
	return out
}
