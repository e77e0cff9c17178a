package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/live-view/liveview-backend/pkg/dispatch"
	"github.com/live-view/liveview-backend/pkg/live"
	"github.com/live-view/liveview-backend/pkg/protocol"
	"github.com/live-view/liveview-backend/pkg/render"
	"github.com/live-view/liveview-backend/pkg/session"
	"github.com/live-view/liveview-backend/pkg/vdom"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv is a server on an httptest listener with a counter view and a
// ticker view whose subscription forwards mutations from ticks.
type testEnv struct {
	srv   *Server
	ts    *httptest.Server
	store *session.Store
	ticks chan live.Mutation
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	components := render.NewRegistry()
	components.MustRegister("counter", render.ComponentFunc(func(s render.Scope) []*vdom.VNode {
		return vdom.Nodes(
			vdom.Div(vdom.Class("counter"),
				vdom.Span(vdom.Dyn("count")),
				vdom.Button(vdom.OnClick("increment"), "+"),
			),
		)
	}))

	ticks := make(chan live.Mutation)
	views := live.NewRegistry()
	views.MustRegister(live.NewView("counter", "counter").
		WithMount(func(ctx context.Context, p live.Payload) (render.Assigns, error) {
			start, _ := p.Int("start")
			return render.Assigns{"count": start}, nil
		}).
		On("increment", live.Sync(func(a render.Assigns, p live.Payload) error {
			a["count"] = a.IntOr("count", 0) + 1
			return nil
		})))
	views.MustRegister(live.NewView("ticker", "counter").
		WithSubscribe(func(ctx context.Context, push func(live.Mutation) error) {
			for {
				select {
				case <-ctx.Done():
					return
				case m := <-ticks:
					if push(m) != nil {
						return
					}
				}
			}
		}))

	store := session.NewStore(nil, session.StoreConfig{GracePeriod: time.Minute}, testLogger())
	d := dispatch.New(store, views, components, dispatch.WithLogger(testLogger()))
	srv := New(d, cfg, WithLogger(testLogger()), WithGatherer(prometheus.NewRegistry()))
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		ts.Close()
		store.Shutdown(ctx)
	})
	return &testEnv{srv: srv, ts: ts, store: store, ticks: ticks}
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func (e *testEnv) dial(t *testing.T) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/live"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return &testClient{t: t, ws: ws}
}

func (c *testClient) send(msg any) {
	c.t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		c.t.Fatalf("Encode() error = %v", err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.t.Fatalf("WriteMessage() error = %v", err)
	}
}

// recv returns the next server message, skipping pings.
func (c *testClient) recv() any {
	c.t.Helper()
	for {
		c.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.t.Fatalf("ReadMessage() error = %v", err)
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			c.t.Fatalf("DecodeServerMessage() error = %v", err)
		}
		if ctl, ok := msg.(*protocol.Control); ok && ctl.Type == protocol.ControlPing {
			continue
		}
		return msg
	}
}

func (c *testClient) hello(ch *protocol.ClientHello) *protocol.ServerHello {
	c.t.Helper()
	c.send(ch)
	sh, ok := c.recv().(*protocol.ServerHello)
	if !ok {
		c.t.Fatal("expected ServerHello")
	}
	return sh
}

func (c *testClient) patches() *protocol.PatchesFrame {
	c.t.Helper()
	msg := c.recv()
	pf, ok := msg.(*protocol.PatchesFrame)
	if !ok {
		c.t.Fatalf("got %T, want *PatchesFrame", msg)
	}
	return pf
}

func (c *testClient) closeReason() protocol.CloseReason {
	c.t.Helper()
	msg := c.recv()
	ctl, ok := msg.(*protocol.Control)
	if !ok || ctl.Type != protocol.ControlClose {
		c.t.Fatalf("got %#v, want ControlClose", msg)
	}
	return ctl.Payload.(*protocol.CloseMessage).Reason
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func countText(t *testing.T, snap *vdom.Snapshot) string {
	t.Helper()
	n, err := snap.Node(vdom.Path{0, 0, 0})
	if err != nil {
		t.Fatalf("Node() error = %v", err)
	}
	return n.Text
}

func TestHTTPRoutes(t *testing.T) {
	e := newTestEnv(t, Config{})

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/", http.StatusOK, "Hello, world!"},
		{"/healthz", http.StatusOK, `"status":"ok"`},
		{"/render/counter?start=5", http.StatusOK, "<span>5</span>"},
		{"/render/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, e.ts.URL+tt.path, nil)
			req.Header.Set("Origin", "http://example.com")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("GET %s error = %v", tt.path, err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", body, tt.wantBody)
			}
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
			}
		})
	}
}

func TestLiveCounter(t *testing.T) {
	e := newTestEnv(t, Config{})
	c := e.dial(t)

	sh := c.hello(protocol.NewClientHello("counter", map[string]any{"start": 10}))
	if sh.Status != protocol.HandshakeOK {
		t.Fatalf("Status = %v, want OK", sh.Status)
	}
	if sh.SessionID == "" || sh.ResumeToken == "" || sh.Resumed {
		t.Fatalf("ServerHello = %+v", sh)
	}
	if got := countText(t, sh.Snapshot); got != "10" {
		t.Fatalf("initial count = %q, want 10", got)
	}

	client := sh.Snapshot
	for i := 1; i <= 3; i++ {
		c.send(&protocol.Event{SessionID: sh.SessionID, Name: "increment"})
		pf := c.patches()
		if pf.Seq != uint64(i) {
			t.Errorf("Seq = %d, want %d", pf.Seq, i)
		}
		if len(pf.Ops) != 1 || pf.Ops[0].Op != vdom.PatchSetText {
			t.Fatalf("Ops = %+v, want one SetText", pf.Ops)
		}
		var err error
		if client, err = vdom.Apply(client, pf.Ops); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}
	if got := countText(t, client); got != "13" {
		t.Errorf("client count = %q, want 13", got)
	}
}

func TestLiveErrorsAreNotFatal(t *testing.T) {
	e := newTestEnv(t, Config{})
	c := e.dial(t)
	sh := c.hello(protocol.NewClientHello("counter", nil))

	c.send(&protocol.Event{SessionID: sh.SessionID, Name: "nope"})
	em, ok := c.recv().(*protocol.ErrorMessage)
	if !ok || em.Code != protocol.ErrHandlerNotFound || em.Fatal {
		t.Fatalf("got %+v, want non-fatal HandlerNotFound", em)
	}

	c.send(&protocol.Event{Name: "increment"})
	if pf := c.patches(); pf.Seq != 1 {
		t.Errorf("Seq = %d, want 1", pf.Seq)
	}
}

func TestLiveHandshakeErrors(t *testing.T) {
	tests := []struct {
		name  string
		hello *protocol.ClientHello
		want  protocol.HandshakeStatus
	}{
		{"unknown view", protocol.NewClientHello("nope", nil), protocol.HandshakeUnknownView},
		{"version mismatch", &protocol.ClientHello{Version: protocol.ProtocolVersion{Major: 9}, View: "counter"}, protocol.HandshakeVersionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, Config{})
			c := e.dial(t)
			if sh := c.hello(tt.hello); sh.Status != tt.want {
				t.Errorf("Status = %v, want %v", sh.Status, tt.want)
			}
			if n := e.store.Count(); n != 0 {
				t.Errorf("Count() = %d, want 0", n)
			}
		})
	}
}

func TestLiveHandshakeRequiresHello(t *testing.T) {
	e := newTestEnv(t, Config{})
	c := e.dial(t)
	c.send(&protocol.Event{Name: "increment"})
	sh, ok := c.recv().(*protocol.ServerHello)
	if !ok || sh.Status != protocol.HandshakeInvalidFormat {
		t.Fatalf("got %+v, want InvalidFormat", sh)
	}
}

func TestLiveResume(t *testing.T) {
	e := newTestEnv(t, Config{})
	c := e.dial(t)
	sh := c.hello(protocol.NewClientHello("counter", nil))
	c.send(&protocol.Event{Name: "increment"})
	c.patches()

	// Drop the transport without a ControlClose.
	c.ws.Close()
	waitFor(t, "session detach", func() bool {
		return e.srv.ConnCount() == 0 && e.store.Stats().Detached == 1
	})

	c2 := e.dial(t)
	hello := protocol.NewClientHello("counter", nil)
	hello.ResumeToken = sh.ResumeToken
	sh2 := c2.hello(hello)

	if sh2.Status != protocol.HandshakeOK || !sh2.Resumed {
		t.Fatalf("ServerHello = %+v, want resumed", sh2)
	}
	if sh2.SessionID != sh.SessionID {
		t.Errorf("SessionID = %q, want %q", sh2.SessionID, sh.SessionID)
	}
	if sh2.ResumeToken == sh.ResumeToken {
		t.Error("resume token was not rotated")
	}
	if sh2.Seq != 1 {
		t.Errorf("Seq = %d, want 1", sh2.Seq)
	}
	if got := countText(t, sh2.Snapshot); got != "1" {
		t.Errorf("resumed count = %q, want 1", got)
	}

	c2.send(&protocol.Event{Name: "increment"})
	if pf := c2.patches(); pf.Seq != 2 {
		t.Errorf("Seq = %d, want 2", pf.Seq)
	}
}

func TestLiveResumeMidBurst(t *testing.T) {
	e := newTestEnv(t, Config{})
	c := e.dial(t)
	sh := c.hello(protocol.NewClientHello("counter", nil))
	for i := 0; i < 3; i++ {
		c.send(&protocol.Event{Name: "increment"})
	}
	for want := uint64(1); want <= 2; want++ {
		if pf := c.patches(); pf.Seq != want {
			t.Fatalf("Seq = %d, want %d", pf.Seq, want)
		}
	}

	// The third patch is never read by this client.
	waitFor(t, "third event applied", func() bool {
		_, seq, err := e.srv.dispatcher.Snapshot(context.Background(), sh.SessionID)
		return err == nil && seq == 3
	})
	c.ws.Close()
	waitFor(t, "session detach", func() bool {
		return e.srv.ConnCount() == 0 && e.store.Stats().Detached == 1
	})

	c2 := e.dial(t)
	hello := protocol.NewClientHello("counter", nil)
	hello.ResumeToken = sh.ResumeToken
	sh2 := c2.hello(hello)

	if sh2.Status != protocol.HandshakeOK || !sh2.Resumed {
		t.Fatalf("ServerHello = %+v, want resumed", sh2)
	}
	if sh2.Seq != 3 {
		t.Errorf("Seq = %d, want 3", sh2.Seq)
	}
	if got := countText(t, sh2.Snapshot); got != "3" {
		t.Errorf("resumed count = %q, want 3", got)
	}

	c2.send(&protocol.Event{Name: "increment"})
	pf := c2.patches()
	if pf.Seq != 4 {
		t.Errorf("Seq = %d, want 4", pf.Seq)
	}
	if len(pf.Ops) != 1 || pf.Ops[0].Value != "4" {
		t.Errorf("Ops = %+v, want count 4", pf.Ops)
	}
}

func TestLiveResumeWithStaleTokenMounts(t *testing.T) {
	e := newTestEnv(t, Config{})
	c := e.dial(t)
	hello := protocol.NewClientHello("counter", map[string]any{"start": 4})
	hello.ResumeToken = "unknown.token"
	sh := c.hello(hello)

	if sh.Status != protocol.HandshakeOK || sh.Resumed {
		t.Fatalf("ServerHello = %+v, want fresh mount", sh)
	}
	if got := countText(t, sh.Snapshot); got != "4" {
		t.Errorf("count = %q, want 4", got)
	}
}

func TestLiveResumeReplacesConnection(t *testing.T) {
	e := newTestEnv(t, Config{})
	c1 := e.dial(t)
	sh := c1.hello(protocol.NewClientHello("counter", nil))

	c2 := e.dial(t)
	hello := protocol.NewClientHello("counter", nil)
	hello.ResumeToken = sh.ResumeToken
	if sh2 := c2.hello(hello); !sh2.Resumed {
		t.Fatalf("ServerHello = %+v, want resumed", sh2)
	}

	if got := c1.closeReason(); got != protocol.CloseReplaced {
		t.Errorf("close reason = %v, want Replaced", got)
	}

	c2.send(&protocol.Event{Name: "increment"})
	c2.patches()
	if s := e.store.Stats(); s.Total != 1 || s.Detached != 0 {
		t.Errorf("Stats() = %+v, want one connected session", s)
	}
}

func TestLiveMalformedFrame(t *testing.T) {
	e := newTestEnv(t, Config{})
	c := e.dial(t)
	c.hello(protocol.NewClientHello("counter", nil))

	if err := c.ws.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x09, 0x01}); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	em, ok := c.recv().(*protocol.ErrorMessage)
	if !ok || !em.Fatal || em.Code != protocol.ErrInvalidFrame {
		t.Fatalf("got %+v, want fatal InvalidFrame", em)
	}
	if got := c.closeReason(); got != protocol.CloseError {
		t.Errorf("close reason = %v, want Error", got)
	}
	waitFor(t, "session detach", func() bool {
		return e.store.Stats().Detached == 1
	})
}

func TestLiveSessionMismatch(t *testing.T) {
	e := newTestEnv(t, Config{})
	c := e.dial(t)
	c.hello(protocol.NewClientHello("counter", nil))

	c.send(&protocol.Event{SessionID: "someone-else", Name: "increment"})
	em, ok := c.recv().(*protocol.ErrorMessage)
	if !ok || !em.Fatal || em.Code != protocol.ErrSessionMismatch {
		t.Fatalf("got %+v, want fatal SessionMismatch", em)
	}
}

func TestLiveExplicitClose(t *testing.T) {
	e := newTestEnv(t, Config{})
	c := e.dial(t)
	c.hello(protocol.NewClientHello("counter", nil))

	ct, cm := protocol.NewClose(protocol.CloseNormal, "bye")
	c.send(&protocol.Control{Type: ct, Payload: cm})

	waitFor(t, "session destroy", func() bool {
		return e.store.Count() == 0 && e.srv.ConnCount() == 0
	})
}

func TestLiveHeartbeatTimeout(t *testing.T) {
	e := newTestEnv(t, Config{HeartbeatTimeout: 100 * time.Millisecond, HeartbeatInterval: time.Hour})
	c := e.dial(t)
	c.hello(protocol.NewClientHello("counter", nil))

	waitFor(t, "silent connection close", func() bool {
		return e.srv.ConnCount() == 0 && e.store.Stats().Detached == 1
	})
}

func TestLivePingPong(t *testing.T) {
	e := newTestEnv(t, Config{})
	c := e.dial(t)
	c.hello(protocol.NewClientHello("counter", nil))

	c.send(&protocol.Control{Type: protocol.ControlPing})
	ctl, ok := c.recv().(*protocol.Control)
	if !ok || ctl.Type != protocol.ControlPong {
		t.Fatalf("got %+v, want Pong", ctl)
	}
}

func TestLiveServerPings(t *testing.T) {
	e := newTestEnv(t, Config{HeartbeatInterval: 20 * time.Millisecond})
	c := e.dial(t)
	c.hello(protocol.NewClientHello("counter", nil))

	c.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}
	if ctl, ok := msg.(*protocol.Control); !ok || ctl.Type != protocol.ControlPing {
		t.Errorf("got %+v, want Ping", msg)
	}
}

func TestLiveResync(t *testing.T) {
	e := newTestEnv(t, Config{})
	c := e.dial(t)
	sh := c.hello(protocol.NewClientHello("counter", nil))
	c.send(&protocol.Event{Name: "increment"})
	c.patches()

	c.send(&protocol.Control{Type: protocol.ControlResyncRequest, Payload: &protocol.ResyncRequest{LastSeq: 0}})
	sf, ok := c.recv().(*protocol.SnapshotFrame)
	if !ok {
		t.Fatal("expected SnapshotFrame")
	}
	if sf.SessionID != sh.SessionID || sf.Seq != 1 {
		t.Errorf("SnapshotFrame = {%s %d}, want {%s 1}", sf.SessionID, sf.Seq, sh.SessionID)
	}
	if got := countText(t, sf.Snapshot); got != "1" {
		t.Errorf("count = %q, want 1", got)
	}
}

func TestLiveSubscription(t *testing.T) {
	e := newTestEnv(t, Config{})
	c := e.dial(t)
	c.hello(protocol.NewClientHello("ticker", nil))

	e.ticks <- func(a render.Assigns) error {
		a["count"] = 42
		return nil
	}
	pf := c.patches()
	if pf.Seq != 1 || len(pf.Ops) != 1 || pf.Ops[0].Value != "42" {
		t.Errorf("PatchesFrame = %+v", pf)
	}
}

func TestShutdownDetachesSessions(t *testing.T) {
	e := newTestEnv(t, Config{})
	c := e.dial(t)
	c.hello(protocol.NewClientHello("counter", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if got := c.closeReason(); got != protocol.CloseServerShutdown {
		t.Errorf("close reason = %v, want ServerShutdown", got)
	}
	if s := e.store.Stats(); s.Detached != 1 {
		t.Errorf("Stats() = %+v, want one detached session", s)
	}
}
