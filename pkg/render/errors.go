package render

import (
	"errors"
	"fmt"
)

var (
	// ErrUnregisteredComponent is returned when a view references a component
	// type that is not in the registry.
	ErrUnregisteredComponent = errors.New("render: unregistered component")

	// ErrComponentCycle is returned when a component (directly or indirectly)
	// renders itself.
	ErrComponentCycle = errors.New("render: component cycle")

	// ErrMaxDepth is returned when component nesting exceeds MaxDepth.
	ErrMaxDepth = errors.New("render: maximum component depth exceeded")

	// ErrComponentPanic is returned when a component panics while rendering.
	ErrComponentPanic = errors.New("render: component panicked")

	// ErrDuplicateComponent is returned by Register for a name already in use.
	ErrDuplicateComponent = errors.New("render: component already registered")

	// ErrInvalidComponent is returned by Register for an empty name or nil component.
	ErrInvalidComponent = errors.New("render: invalid component")
)

// RenderError describes a failed render.
type RenderError struct {
	Root      string // Root component of the view being rendered
	Component string // Component that failed
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	if e.Component == "" || e.Component == e.Root {
		return fmt.Sprintf("render %s: %v", e.Root, e.Err)
	}
	return fmt.Sprintf("render %s: component %s: %v", e.Root, e.Component, e.Err)
}

// Unwrap returns the underlying error.
func (e *RenderError) Unwrap() error {
	return e.Err
}
