package dispatch

import "fmt"

// UnhandledEventError is returned when a session's view has no handler bound
// to the event name. It is not fatal: the session stays usable and its
// assigns are untouched.
type UnhandledEventError struct {
	SessionID string
	View      string
	Event     string
}

// Error implements the error interface.
func (e *UnhandledEventError) Error() string {
	return fmt.Sprintf("dispatch: view %q has no handler for event %q", e.View, e.Event)
}

// HandlerError wraps an error returned by, or a panic raised in, an event
// handler, mount function or server push. The session's assigns are rolled
// back to their state before the handler ran.
type HandlerError struct {
	SessionID string
	Event     string
	Err       error
	Panic     bool   // The handler panicked; Err carries the panic value
	Stack     []byte // Stack trace for panics
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	if e.Panic {
		return fmt.Sprintf("dispatch: handler %q panicked: %v", e.Event, e.Err)
	}
	return fmt.Sprintf("dispatch: handler %q: %v", e.Event, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}
