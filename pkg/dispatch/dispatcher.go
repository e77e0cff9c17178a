package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/live-view/liveview-backend/pkg/live"
	"github.com/live-view/liveview-backend/pkg/render"
	"github.com/live-view/liveview-backend/pkg/session"
	"github.com/live-view/liveview-backend/pkg/vdom"
)

// PushEvent is the event name reported for server-side pushes.
const PushEvent = "$push"

// Event is a named client interaction addressed to a session.
type Event struct {
	SessionID string
	Name      string
	Payload   live.Payload

	push live.Mutation // set for server pushes; Name is PushEvent
}

// Result is the outcome of a handled event: the patch to send and the
// sequence number it carries.
type Result struct {
	SessionID string
	Seq       uint64
	Patch     []vdom.Patch
}

// Empty reports whether there is nothing to transmit.
func (r *Result) Empty() bool {
	return r == nil || len(r.Patch) == 0
}

// Mounted describes a session ready to be driven by a client, either freshly
// created or resumed. Snapshot is the full current render.
type Mounted struct {
	SessionID   string
	View        string
	ResumeToken string
	Seq         uint64
	Snapshot    *vdom.Snapshot
	Resumed     bool
}

// HandleFunc processes one event.
type HandleFunc func(ctx context.Context, ev Event) (*Result, error)

// Middleware wraps a HandleFunc, e.g. to record metrics or traces.
type Middleware func(next HandleFunc) HandleFunc

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithMiddleware appends middleware. The first middleware is outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(d *Dispatcher) {
		d.middleware = append(d.middleware, mw...)
	}
}

// Dispatcher routes events to view handlers and turns the resulting state
// changes into patches.
//
// Every operation on a session runs inside the session's lock, so events for
// one session are processed one at a time in arrival order while different
// sessions proceed in parallel.
type Dispatcher struct {
	store      *session.Store
	views      *live.Registry
	components *render.Registry
	logger     *slog.Logger
	middleware []Middleware
	handle     HandleFunc
}

// New creates a Dispatcher.
func New(store *session.Store, views *live.Registry, components *render.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:      store,
		views:      views,
		components: components,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")

	h := d.dispatch
	for i := len(d.middleware) - 1; i >= 0; i-- {
		h = d.middleware[i](h)
	}
	d.handle = h
	return d
}

// Store returns the session store the dispatcher drives.
func (d *Dispatcher) Store() *session.Store {
	return d.store
}

// Views returns the view registry.
func (d *Dispatcher) Views() *live.Registry {
	return d.views
}

// Mount creates a session for view, runs its mount function with params and
// renders the initial snapshot. No session is created if mount or render fails.
func (d *Dispatcher) Mount(ctx context.Context, viewName string, params live.Payload) (*Mounted, error) {
	view, err := d.views.Lookup(viewName)
	if err != nil {
		return nil, err
	}

	assigns, err := d.mountAssigns(ctx, view, params)
	if err != nil {
		return nil, err
	}

	snap, err := render.Render(d.components, render.ViewState{Root: view.Root, Assigns: assigns})
	if err != nil {
		return nil, err
	}

	s, err := d.store.Create(view.Name, assigns)
	if err != nil {
		return nil, err
	}

	m := &Mounted{SessionID: s.ID, View: view.Name, ResumeToken: s.ResumeToken(), Snapshot: snap}
	err = d.store.Do(ctx, s.ID, func(s *session.Session) error {
		s.Snapshot = snap
		s.SetState(session.StateIdle)
		m.Seq = s.Seq
		return nil
	})
	if err != nil {
		d.store.Destroy(s.ID)
		return nil, err
	}

	d.logger.Debug("session mounted",
		"session_id", s.ID,
		"view", view.Name,
		"nodes", snap.Count())
	return m, nil
}

// Preview renders view as a fresh mount with params would, without creating
// a session.
func (d *Dispatcher) Preview(ctx context.Context, viewName string, params live.Payload) (*vdom.Snapshot, error) {
	view, err := d.views.Lookup(viewName)
	if err != nil {
		return nil, err
	}
	assigns, err := d.mountAssigns(ctx, view, params)
	if err != nil {
		return nil, err
	}
	return render.Render(d.components, render.ViewState{Root: view.Root, Assigns: assigns})
}

func (d *Dispatcher) mountAssigns(ctx context.Context, view *live.View, params live.Payload) (a render.Assigns, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &HandlerError{Event: "mount", Err: fmt.Errorf("%v", p), Panic: true, Stack: debug.Stack()}
		}
	}()
	a, err = view.InitialAssigns(ctx, params)
	if err != nil {
		return nil, &HandlerError{Event: "mount", Err: err}
	}
	return a, nil
}

// Resume reattaches the session a resume token belongs to and returns its
// full current snapshot along with a freshly rotated token.
func (d *Dispatcher) Resume(ctx context.Context, token string) (*Mounted, error) {
	s, err := d.store.ResolveToken(ctx, token)
	if err != nil {
		return nil, err
	}
	newToken, err := d.store.Attach(s.ID)
	if err != nil {
		return nil, err
	}

	m := &Mounted{SessionID: s.ID, View: s.View, ResumeToken: newToken, Resumed: true}
	err = d.store.Do(ctx, s.ID, func(s *session.Session) error {
		view, err := d.views.Lookup(s.View)
		if err != nil {
			return err
		}
		snap, err := render.Render(d.components, render.ViewState{Root: view.Root, Assigns: s.Assigns})
		if err != nil {
			return err
		}
		s.Snapshot = snap
		s.SetState(session.StateIdle)
		m.Snapshot = snap
		m.Seq = s.Seq
		return nil
	})
	if err != nil {
		if detachErr := d.store.Detach(s.ID); detachErr != nil {
			d.logger.Warn("failed to detach session after resume error",
				"session_id", s.ID,
				"error", detachErr)
		}
		return nil, err
	}

	d.logger.Debug("session resumed", "session_id", s.ID, "seq", m.Seq)
	return m, nil
}

// Dispatch handles an event through the middleware chain.
//
// Outcomes:
//   - no handler bound: *UnhandledEventError, assigns untouched
//   - handler error or panic: *HandlerError, assigns rolled back
//   - ctx cancelled while handling: ctx.Err(), mutation discarded
//   - render failure: *render.RenderError, assigns and snapshot unchanged
//   - success: a Result whose patch may be empty; Seq advances only for a
//     non-empty patch
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (*Result, error) {
	return d.handle(ctx, ev)
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) (*Result, error) {
	var res *Result
	err := d.store.Do(ctx, ev.SessionID, func(s *session.Session) error {
		view, err := d.views.Lookup(s.View)
		if err != nil {
			return err
		}

		if ev.push != nil {
			res, err = d.run(ctx, s, view, PushEvent, ev.push)
			return err
		}

		h, ok := view.Handler(ev.Name)
		if !ok {
			d.logger.Warn("unhandled event",
				"session_id", s.ID,
				"view", view.Name,
				"event", ev.Name)
			s.SetState(session.StateIdle)
			return &UnhandledEventError{SessionID: s.ID, View: view.Name, Event: ev.Name}
		}

		res, err = d.run(ctx, s, view, ev.Name, func(a render.Assigns) error {
			return h.Invoke(ctx, a, ev.Payload)
		})
		return err
	})
	return res, err
}

// Push applies a server-side mutation through the same middleware and
// pipeline as a client event. Middleware sees it as an Event named PushEvent.
func (d *Dispatcher) Push(ctx context.Context, sessionID string, m live.Mutation) (*Result, error) {
	if m == nil {
		return nil, fmt.Errorf("dispatch: nil mutation for session %s", sessionID)
	}
	return d.handle(ctx, Event{SessionID: sessionID, Name: PushEvent, push: m})
}

// run executes fn against a copy of the session's assigns, then renders,
// diffs and commits. Callers hold the session lock.
func (d *Dispatcher) run(ctx context.Context, s *session.Session, view *live.View, event string, fn func(render.Assigns) error) (*Result, error) {
	start := time.Now()
	s.SetState(session.StateRendering)
	defer s.SetState(session.StateIdle)

	next := s.Assigns.Clone()
	if err := safeInvoke(fn, next); err != nil {
		if he, ok := err.(*HandlerError); ok && he.Panic {
			he.SessionID = s.ID
			he.Event = event
			d.logger.Error("handler panic",
				"session_id", s.ID,
				"event", event,
				"error", he.Err,
				"stack", string(he.Stack))
			return nil, he
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Warn("handler error",
			"session_id", s.ID,
			"event", event,
			"error", err)
		return nil, &HandlerError{SessionID: s.ID, Event: event, Err: err}
	}

	if err := ctx.Err(); err != nil {
		d.logger.Debug("event discarded",
			"session_id", s.ID,
			"event", event,
			"error", err)
		return nil, err
	}

	snap, err := render.Render(d.components, render.ViewState{Root: view.Root, Assigns: next})
	if err != nil {
		d.logger.Error("render failed",
			"session_id", s.ID,
			"event", event,
			"error", err)
		return nil, err
	}

	patch := vdom.Diff(s.Snapshot, snap)

	s.Assigns = next
	s.Snapshot = snap
	if len(patch) > 0 {
		s.Seq++
	}

	d.logger.Debug("event handled",
		"session_id", s.ID,
		"event", event,
		"ops", len(patch),
		"seq", s.Seq,
		"duration", time.Since(start))

	return &Result{SessionID: s.ID, Seq: s.Seq, Patch: patch}, nil
}

// safeInvoke calls fn, converting a panic into a *HandlerError.
func safeInvoke(fn func(render.Assigns) error, a render.Assigns) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &HandlerError{Err: fmt.Errorf("%v", p), Panic: true, Stack: debug.Stack()}
		}
	}()
	return fn(a)
}

// Snapshot returns the session's last rendered snapshot and its sequence
// number, for answering a client resync request.
func (d *Dispatcher) Snapshot(ctx context.Context, sessionID string) (*vdom.Snapshot, uint64, error) {
	var snap *vdom.Snapshot
	var seq uint64
	err := d.store.Do(ctx, sessionID, func(s *session.Session) error {
		snap = s.Snapshot.Clone()
		seq = s.Seq
		return nil
	})
	return snap, seq, err
}

// Disconnect ends the client's attachment to a session. An explicit
// disconnect destroys the session; otherwise it is detached and destroyed
// after the store's grace period unless resumed.
func (d *Dispatcher) Disconnect(sessionID string, explicit bool) {
	if explicit {
		d.store.Destroy(sessionID)
		return
	}
	if err := d.store.Detach(sessionID); err != nil {
		d.logger.Warn("failed to detach session",
			"session_id", sessionID,
			"error", err)
	}
}
