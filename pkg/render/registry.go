package render

import (
	"fmt"
	"sort"
	"sync"

	"github.com/live-view/liveview-backend/pkg/vdom"
)

// Scope is what a component sees while rendering: its own props and the
// session's assigns.
type Scope struct {
	Props   map[string]any
	Assigns Assigns
}

// Lookup resolves key against props first, then assigns.
func (s Scope) Lookup(key string) (any, bool) {
	if v, ok := s.Props[key]; ok {
		return v, true
	}
	v, ok := s.Assigns[key]
	return v, ok
}

// Component produces the template for one component instance. Templates may
// contain placeholders (vdom.Dyn) and references to other components
// (vdom.Comp); both are resolved by Render.
type Component interface {
	Render(s Scope) []*vdom.VNode
}

// ComponentFunc adapts a function to the Component interface.
type ComponentFunc func(s Scope) []*vdom.VNode

// Render calls f(s).
func (f ComponentFunc) Render(s Scope) []*vdom.VNode {
	return f(s)
}

// Registry maps component names to implementations. It is safe for
// concurrent use; registration normally happens at startup.
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
}

// NewRegistry creates an empty component registry.
func NewRegistry() *Registry {
	return &Registry{components: make(map[string]Component)}
}

// Register adds a component under name.
func (r *Registry) Register(name string, c Component) error {
	if name == "" || c == nil {
		return ErrInvalidComponent
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateComponent, name)
	}
	r.components[name] = c
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, c Component) {
	if err := r.Register(name, c); err != nil {
		panic(err)
	}
}

// RegisterFunc registers a function component.
func (r *Registry) RegisterFunc(name string, fn func(Scope) []*vdom.VNode) error {
	return r.Register(name, ComponentFunc(fn))
}

// Lookup returns the component registered under name.
func (r *Registry) Lookup(name string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	return c, ok
}

// Names returns the registered component names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
