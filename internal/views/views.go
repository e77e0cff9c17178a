// Package views holds the live views the service ships with.
package views

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/live-view/liveview-backend/pkg/live"
	"github.com/live-view/liveview-backend/pkg/render"
	"github.com/live-view/liveview-backend/pkg/vdom"
)

// MaxTodoItems caps the todo list.
const MaxTodoItems = 100

type options struct {
	now      func() time.Time
	interval time.Duration
}

// Option configures the built-in views.
type Option func(*options)

// WithClock sets the time source of the clock view.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithTickInterval sets how often the clock view pushes the time.
// Default: 1 second.
func WithTickInterval(d time.Duration) Option {
	return func(o *options) {
		o.interval = d
	}
}

// Register adds the counter, todo and clock views and their components.
func Register(views *live.Registry, components *render.Registry, opts ...Option) error {
	o := options{now: time.Now, interval: time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	comps := map[string]render.ComponentFunc{
		"counter":       counterComponent,
		"count-display": countDisplayComponent,
		"todo":          todoComponent,
		"clock":         clockComponent,
	}
	for name, c := range comps {
		if err := components.Register(name, c); err != nil {
			return err
		}
	}

	for _, v := range []*live.View{counterView(), todoView(), clockView(o)} {
		if err := views.Register(v); err != nil {
			return err
		}
	}
	return nil
}

// Counter

func counterView() *live.View {
	return live.NewView("counter", "counter").
		WithMount(func(ctx context.Context, p live.Payload) (render.Assigns, error) {
			start, _ := p.Int("start")
			return render.Assigns{"count": start}, nil
		}).
		On("increment", live.Sync(func(a render.Assigns, p live.Payload) error {
			by, ok := p.Int("by")
			if !ok {
				by = 1
			}
			a["count"] = a.IntOr("count", 0) + by
			return nil
		})).
		On("decrement", live.Sync(func(a render.Assigns, p live.Payload) error {
			a["count"] = a.IntOr("count", 0) - 1
			return nil
		})).
		On("reset", live.Sync(func(a render.Assigns, p live.Payload) error {
			a["count"] = 0
			return nil
		}))
}

func counterComponent(s render.Scope) []*vdom.VNode {
	return vdom.Nodes(
		vdom.Div(vdom.Class("counter"),
			vdom.H1("Counter"),
			vdom.Comp("count-display", map[string]any{"label": "Count"}),
			vdom.Button(vdom.OnClick("decrement"), "-"),
			vdom.Button(vdom.OnClick("increment"), "+"),
			vdom.Button(vdom.OnClick("reset"), "Reset"),
		),
	)
}

func countDisplayComponent(s render.Scope) []*vdom.VNode {
	return vdom.Nodes(
		vdom.P(vdom.AriaLive("polite"),
			vdom.Strong(vdom.Dyn("label")),
			vdom.Span(vdom.Class("count"), vdom.Dyn("count")),
		),
	)
}

// Todo

func todoView() *live.View {
	return live.NewView("todo", "todo").
		WithMount(func(ctx context.Context, p live.Payload) (render.Assigns, error) {
			return render.Assigns{"items": []string{}}, nil
		}).
		On("add", live.Sync(func(a render.Assigns, p live.Payload) error {
			text := strings.TrimSpace(p.String("text"))
			items := stringsOf(a["items"])
			if text == "" || len(items) >= MaxTodoItems {
				return nil
			}
			a["items"] = append(items, text)
			return nil
		})).
		On("remove", live.Sync(func(a render.Assigns, p live.Payload) error {
			i, ok := p.Int("index")
			items := stringsOf(a["items"])
			if !ok || i < 0 || i >= len(items) {
				return nil
			}
			a["items"] = append(items[:i:i], items[i+1:]...)
			return nil
		})).
		On("clear", live.Sync(func(a render.Assigns, p live.Payload) error {
			a["items"] = []string{}
			return nil
		}))
}

func todoComponent(s render.Scope) []*vdom.VNode {
	items := stringsOf(s.Assigns["items"])
	list := make([]*vdom.VNode, len(items))
	for i, item := range items {
		list[i] = vdom.Li(item,
			vdom.Button(vdom.OnClick("remove"), vdom.Data("index", strconv.Itoa(i)), "x"))
	}
	return vdom.Nodes(
		vdom.Section(vdom.Class("todo"),
			vdom.H2("Todo"),
			vdom.Form(vdom.OnSubmit("add"),
				vdom.Input(vdom.Name("text"), vdom.Type("text")),
			),
			vdom.Ul(list),
			vdom.Footer(strconv.Itoa(len(items))+" items"),
		),
	)
}

// stringsOf reads a string list from assigns. Restored sessions hold []any.
func stringsOf(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, render.Format(e))
		}
		return out
	default:
		return nil
	}
}

// Clock

func clockView(o options) *live.View {
	format := func() string {
		return o.now().UTC().Format(time.RFC3339)
	}
	return live.NewView("clock", "clock").
		WithMount(func(ctx context.Context, p live.Payload) (render.Assigns, error) {
			return render.Assigns{"now": format()}, nil
		}).
		WithSubscribe(func(ctx context.Context, push func(live.Mutation) error) {
			ticker := time.NewTicker(o.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					now := format()
					err := push(func(a render.Assigns) error {
						a["now"] = now
						return nil
					})
					if err != nil {
						return
					}
				}
			}
		})
}

func clockComponent(s render.Scope) []*vdom.VNode {
	return vdom.Nodes(
		vdom.Div(vdom.Class("clock"),
			vdom.Time(vdom.Dyn("now")),
		),
	)
}
