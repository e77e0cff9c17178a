package live

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/live-view/liveview-backend/pkg/render"
)

var (
	// ErrDuplicateView is returned when registering a view name twice.
	ErrDuplicateView = errors.New("live: view already registered")

	// ErrInvalidView is returned for a view without a name or root component.
	ErrInvalidView = errors.New("live: invalid view")

	// ErrUnknownView is returned when looking up a name with no view.
	ErrUnknownView = errors.New("live: unknown view")
)

// MountFunc builds the initial assigns for a new session from the
// handshake parameters.
type MountFunc func(ctx context.Context, params Payload) (render.Assigns, error)

// SubscribeFunc runs for as long as a client is attached to a session of the
// view. It delivers server-side changes through push, which returns an error
// once the connection is gone. It must return when ctx is done.
type SubscribeFunc func(ctx context.Context, push func(Mutation) error)

// View binds a root component to its mount logic and event handlers.
type View struct {
	Name      string
	Root      string // Root component name in the render registry
	Mount     MountFunc
	Subscribe SubscribeFunc

	handlers map[string]Handler
}

// NewView creates a view rendering the root component.
func NewView(name, root string) *View {
	return &View{
		Name:     name,
		Root:     root,
		handlers: make(map[string]Handler),
	}
}

// On binds an event name to a handler. A later binding for the same event
// replaces the earlier one. It returns v for chaining.
func (v *View) On(event string, h Handler) *View {
	if v.handlers == nil {
		v.handlers = make(map[string]Handler)
	}
	v.handlers[event] = h
	return v
}

// WithMount sets the mount function. It returns v for chaining.
func (v *View) WithMount(fn MountFunc) *View {
	v.Mount = fn
	return v
}

// WithSubscribe sets the subscription function. It returns v for chaining.
func (v *View) WithSubscribe(fn SubscribeFunc) *View {
	v.Subscribe = fn
	return v
}

// Handler returns the handler bound to event.
func (v *View) Handler(event string) (Handler, bool) {
	h, ok := v.handlers[event]
	return h, ok
}

// Events returns the bound event names in sorted order.
func (v *View) Events() []string {
	names := make([]string, 0, len(v.handlers))
	for name := range v.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InitialAssigns runs Mount, or returns the params as assigns when the view
// has no mount function.
func (v *View) InitialAssigns(ctx context.Context, params Payload) (render.Assigns, error) {
	if v.Mount == nil {
		return render.Assigns(params).Clone(), nil
	}
	a, err := v.Mount(ctx, params)
	if err != nil {
		return nil, err
	}
	if a == nil {
		a = render.Assigns{}
	}
	return a, nil
}

func (v *View) validate() error {
	if v == nil || v.Name == "" || v.Root == "" {
		return ErrInvalidView
	}
	for event, h := range v.handlers {
		if !h.Valid() {
			return fmt.Errorf("%w: %s: event %q has no handler", ErrInvalidView, v.Name, event)
		}
	}
	return nil
}

// Registry holds the views the server can mount.
type Registry struct {
	mu    sync.RWMutex
	views map[string]*View
}

// NewRegistry creates an empty view registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string]*View)}
}

// Register adds a view. Handlers must be bound before registration.
func (r *Registry) Register(v *View) error {
	if err := v.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.views[v.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateView, v.Name)
	}
	r.views[v.Name] = v
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(v *View) {
	if err := r.Register(v); err != nil {
		panic(err)
	}
}

// Lookup returns the view registered under name.
func (r *Registry) Lookup(name string) (*View, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownView, name)
	}
	return v, nil
}

// Names returns the registered view names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.views))
	for name := range r.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
