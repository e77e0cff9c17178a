package vtest

import (
	"context"
	"strings"
	"testing"

	"github.com/live-view/liveview-backend/pkg/dispatch"
	"github.com/live-view/liveview-backend/pkg/live"
	"github.com/live-view/liveview-backend/pkg/render"
	"github.com/live-view/liveview-backend/pkg/vdom"
)

// Client drives one session through a dispatcher the way a connected
// browser would.
type Client struct {
	t *testing.T
	d *dispatch.Dispatcher

	SessionID   string
	ResumeToken string
	Seq         uint64
	Snapshot    *vdom.Snapshot
}

// NewClient mounts view and returns a client holding its first render.
//
// Example:
//
//	c := vtest.NewClient(t, d, "todo", nil)
func NewClient(t *testing.T, d *dispatch.Dispatcher, view string, params live.Payload) *Client {
	t.Helper()
	m, err := d.Mount(context.Background(), view, params)
	if err != nil {
		t.Fatalf("Mount(%q) error = %v", view, err)
	}
	c := &Client{t: t, d: d}
	c.adopt(m)
	return c
}

func (c *Client) adopt(m *dispatch.Mounted) {
	c.SessionID = m.SessionID
	c.ResumeToken = m.ResumeToken
	c.Seq = m.Seq
	c.Snapshot = m.Snapshot
}

// Send dispatches an event and applies the resulting patch. It fails the
// test if the dispatch fails.
func (c *Client) Send(name string, payload live.Payload) *dispatch.Result {
	c.t.Helper()
	res, err := c.d.Dispatch(context.Background(), dispatch.Event{
		SessionID: c.SessionID,
		Name:      name,
		Payload:   payload,
	})
	if err != nil {
		c.t.Fatalf("Dispatch(%q) error = %v", name, err)
	}
	c.Apply(res)
	return res
}

// Push applies a server-side mutation the way a subscription would.
func (c *Client) Push(m live.Mutation) *dispatch.Result {
	c.t.Helper()
	res, err := c.d.Push(context.Background(), c.SessionID, m)
	if err != nil {
		c.t.Fatalf("Push() error = %v", err)
	}
	c.Apply(res)
	return res
}

// Apply applies res to the client's page. Empty results are ignored. The
// sequence number must follow the last one seen and the patched page must
// equal the session's current render.
func (c *Client) Apply(res *dispatch.Result) {
	c.t.Helper()
	if res.Empty() {
		return
	}
	if res.Seq != c.Seq+1 {
		c.t.Fatalf("Seq = %d, want %d", res.Seq, c.Seq+1)
	}

	next, err := vdom.Apply(c.Snapshot, res.Patch)
	if err != nil {
		c.t.Fatalf("Apply() error = %v", err)
	}
	c.Seq = res.Seq
	c.Snapshot = next

	want, _, err := c.d.Snapshot(context.Background(), c.SessionID)
	if err != nil {
		c.t.Fatalf("Snapshot() error = %v", err)
	}
	if got, want := RenderToString(next), RenderToString(want); got != want {
		c.t.Fatalf("patched page diverged from render\n got: %s\nwant: %s", truncate(got, 500), truncate(want, 500))
	}
}

// SimulateDisconnect drops the client without an explicit close, leaving
// the session detached and resumable.
func (c *Client) SimulateDisconnect() {
	c.d.Disconnect(c.SessionID, false)
}

// SimulateReconnect resumes the session with the last resume token and
// replaces the page with the full snapshot the server returns.
func (c *Client) SimulateReconnect() error {
	m, err := c.d.Resume(context.Background(), c.ResumeToken)
	if err != nil {
		return err
	}
	c.adopt(m)
	return nil
}

// Close disconnects explicitly, destroying the session.
func (c *Client) Close() {
	c.d.Disconnect(c.SessionID, true)
}

// HTML returns the client's page as markup.
func (c *Client) HTML() string {
	return RenderToString(c.Snapshot)
}

// RenderToString renders a snapshot and returns the HTML string, or an
// empty string if it cannot be rendered.
func RenderToString(s *vdom.Snapshot) string {
	html, err := render.HTML(s)
	if err != nil {
		return ""
	}
	return html
}

// ExpectContains asserts that the page contains expected.
func (c *Client) ExpectContains(expected string) {
	c.t.Helper()
	if html := c.HTML(); !strings.Contains(html, expected) {
		c.t.Errorf("expected rendered output to contain %q, got:\n%s", expected, truncate(html, 500))
	}
}

// ExpectNotContains asserts that the page does not contain unexpected.
func (c *Client) ExpectNotContains(unexpected string) {
	c.t.Helper()
	if html := c.HTML(); strings.Contains(html, unexpected) {
		c.t.Errorf("expected rendered output to NOT contain %q, got:\n%s", unexpected, truncate(html, 500))
	}
}

// ExpectElement asserts that the page contains a tag.
//
// Example:
//
//	c.ExpectElement("button")
func (c *Client) ExpectElement(tag string) {
	c.t.Helper()
	if html := c.HTML(); !strings.Contains(html, "<"+tag) {
		c.t.Errorf("expected rendered output to contain <%s> element, got:\n%s", tag, truncate(html, 500))
	}
}

// ExpectAttribute asserts that the page contains an attribute value.
//
// Example:
//
//	c.ExpectAttribute("class", "counter")
func (c *Client) ExpectAttribute(attr, value string) {
	c.t.Helper()
	needle := attr + `="` + value + `"`
	if html := c.HTML(); !strings.Contains(html, needle) {
		c.t.Errorf("expected attribute %s=%q not found, got:\n%s", attr, value, truncate(html, 500))
	}
}

// truncate truncates a string to max length with ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
