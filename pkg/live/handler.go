package live

import (
	"context"
	"errors"

	"github.com/live-view/liveview-backend/pkg/render"
)

// Payload is the client-supplied data attached to an event.
type Payload map[string]any

// String returns the payload value under key as text.
func (p Payload) String(key string) string {
	return render.Format(p[key])
}

// Int returns the payload value under key as an int.
func (p Payload) Int(key string) (int, bool) {
	return render.Assigns(p).Int(key)
}

// Mutation changes a session's assigns in place. Returning an error aborts
// the change.
type Mutation = func(a render.Assigns) error

// SyncFunc is a pure event handler: it mutates assigns from the payload and
// performs no I/O.
type SyncFunc func(a render.Assigns, p Payload) error

// AsyncFunc is an event handler that may perform its own I/O. It must honour
// ctx: when the connection goes away ctx is cancelled and any changes the
// handler made are discarded.
type AsyncFunc func(ctx context.Context, a render.Assigns, p Payload) error

// HandlerKind distinguishes the two handler variants.
type HandlerKind uint8

const (
	KindSync HandlerKind = iota + 1
	KindAsync
)

// String returns the string representation of the HandlerKind.
func (k HandlerKind) String() string {
	switch k {
	case KindSync:
		return "sync"
	case KindAsync:
		return "async"
	default:
		return "unknown"
	}
}

// ErrNilHandler is returned when invoking a zero Handler.
var ErrNilHandler = errors.New("live: nil handler")

// Handler is a tagged event handler, either Sync or Async.
type Handler struct {
	kind  HandlerKind
	sync  SyncFunc
	async AsyncFunc
}

// Sync wraps a pure handler.
func Sync(fn SyncFunc) Handler {
	return Handler{kind: KindSync, sync: fn}
}

// Async wraps a handler that performs I/O.
func Async(fn AsyncFunc) Handler {
	return Handler{kind: KindAsync, async: fn}
}

// Kind reports which variant h holds.
func (h Handler) Kind() HandlerKind {
	return h.kind
}

// Valid reports whether h wraps a function.
func (h Handler) Valid() bool {
	return (h.kind == KindSync && h.sync != nil) || (h.kind == KindAsync && h.async != nil)
}

// Invoke runs the handler against a. A cancelled ctx is reported before a
// sync handler runs; async handlers observe ctx themselves.
func (h Handler) Invoke(ctx context.Context, a render.Assigns, p Payload) error {
	switch {
	case h.kind == KindSync && h.sync != nil:
		if err := ctx.Err(); err != nil {
			return err
		}
		return h.sync(a, p)
	case h.kind == KindAsync && h.async != nil:
		return h.async(ctx, a, p)
	default:
		return ErrNilHandler
	}
}
