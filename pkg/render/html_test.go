package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/live-view/liveview-backend/pkg/vdom"
)

func TestHTML(t *testing.T) {
	snap := vdom.NewSnapshot(
		vdom.Div(vdom.ID("main"), vdom.Class("counter"),
			vdom.Span(&vdom.VNode{Kind: vdom.KindDynamic, Binding: "count", Text: "3"}),
		),
		vdom.Text("tail"),
	)

	got, err := HTML(snap)
	if err != nil {
		t.Fatalf("HTML() error = %v", err)
	}
	want := `<div class="counter" id="main"><span>3</span></div>tail`
	if got != want {
		t.Errorf("HTML() = %q, want %q", got, want)
	}
}

func TestHTMLEscaping(t *testing.T) {
	snap := vdom.NewSnapshot(vdom.P(vdom.A("title", `"x"`), "<script>alert('xss')</script>"))

	got, err := HTML(snap)
	if err != nil {
		t.Fatalf("HTML() error = %v", err)
	}
	if strings.Contains(got, "<script>") {
		t.Errorf("HTML should be escaped, got %q", got)
	}
	if !strings.Contains(got, "&lt;script&gt;") {
		t.Errorf("should contain escaped script tag, got %q", got)
	}
	if strings.Contains(got, `title=""x""`) {
		t.Errorf("attribute quotes not escaped, got %q", got)
	}
}

func TestHTMLNilSnapshot(t *testing.T) {
	got, err := HTML(nil)
	if err != nil || got != "" {
		t.Errorf("HTML(nil) = %q, %v; want empty", got, err)
	}
}

func TestHTMLRejectsComponentNodes(t *testing.T) {
	if _, err := HTML(vdom.NewSnapshot(vdom.Comp("x", nil))); err == nil {
		t.Error("Expected error for unresolved component node")
	}
}

func TestRenderPage(t *testing.T) {
	var buf bytes.Buffer
	err := RenderPage(&buf, PageData{
		Title:    "Counter",
		View:     "counter",
		Snapshot: vdom.NewSnapshot(vdom.Span("0")),
		Scripts:  []string{"/static/live.js"},
	})
	if err != nil {
		t.Fatalf("RenderPage() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"<!DOCTYPE html>",
		`<html lang="en">`,
		"<title>Counter</title>",
		`<div data-live-root="counter"><span>0</span></div>`,
		`<script src="/static/live.js"></script>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("page missing %q:\n%s", want, out)
		}
	}
}
