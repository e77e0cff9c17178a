package vtest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/live-view/liveview-backend/pkg/dispatch"
	"github.com/live-view/liveview-backend/pkg/live"
	"github.com/live-view/liveview-backend/pkg/render"
	"github.com/live-view/liveview-backend/pkg/session"
	"github.com/live-view/liveview-backend/pkg/vdom"
)

func newDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()

	components := render.NewRegistry()
	components.MustRegister("list", render.ComponentFunc(func(s render.Scope) []*vdom.VNode {
		n := s.Assigns.IntOr("n", 0)
		items := make([]*vdom.VNode, n)
		for i := range items {
			items[i] = vdom.Li(vdom.Textf("item %d", i))
		}
		return vdom.Nodes(
			vdom.Div(vdom.Class("list"),
				vdom.Span(vdom.Dyn("n")),
				vdom.Ul(items),
			),
		)
	}))

	views := live.NewRegistry()
	views.MustRegister(live.NewView("list", "list").
		WithMount(func(ctx context.Context, p live.Payload) (render.Assigns, error) {
			n, _ := p.Int("n")
			return render.Assigns{"n": n}, nil
		}).
		On("grow", live.Sync(func(a render.Assigns, p live.Payload) error {
			a["n"] = a.IntOr("n", 0) + 2
			return nil
		})).
		On("shrink", live.Sync(func(a render.Assigns, p live.Payload) error {
			a["n"] = a.IntOr("n", 0) - 1
			return nil
		})))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewStore(nil, session.StoreConfig{}, logger)
	t.Cleanup(func() { store.Shutdown(context.Background()) })
	return dispatch.New(store, views, components, dispatch.WithLogger(logger))
}

func TestClientFollowsPatches(t *testing.T) {
	c := NewClient(t, newDispatcher(t), "list", live.Payload{"n": 1})
	c.ExpectAttribute("class", "list")
	c.ExpectContains("item 0")
	c.ExpectNotContains("item 1")

	c.Send("grow", nil)
	c.Send("grow", nil)
	c.ExpectContains("item 4")
	c.Send("shrink", nil)
	c.ExpectNotContains("item 4")
	c.ExpectElement("li")

	if c.Seq != 3 {
		t.Errorf("Seq = %d, want 3", c.Seq)
	}
}

func TestClientPush(t *testing.T) {
	c := NewClient(t, newDispatcher(t), "list", nil)
	res := c.Push(func(a render.Assigns) error {
		a["n"] = 2
		return nil
	})
	if res.Seq != 1 {
		t.Errorf("Seq = %d, want 1", res.Seq)
	}
	c.ExpectContains("item 1")
}

func TestClientReconnect(t *testing.T) {
	d := newDispatcher(t)
	c := NewClient(t, d, "list", live.Payload{"n": 2})
	c.Send("grow", nil)
	token := c.ResumeToken

	c.SimulateDisconnect()
	if err := c.SimulateReconnect(); err != nil {
		t.Fatalf("SimulateReconnect() error = %v", err)
	}
	if c.ResumeToken == token {
		t.Error("resume token was not rotated")
	}
	if c.Seq != 1 {
		t.Errorf("Seq = %d, want 1", c.Seq)
	}
	c.ExpectContains("item 3")

	c.Send("shrink", nil)
	c.ExpectNotContains("item 3")

	c.Close()
	if err := c.SimulateReconnect(); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("SimulateReconnect() after Close error = %v, want ErrNotFound", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"too long", 3, "too..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
