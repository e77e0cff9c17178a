package render

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/live-view/liveview-backend/pkg/vdom"
)

// RootAttr marks the element wrapping a live view's markup in a full page.
const RootAttr = "data-live-root"

// HTML renders a snapshot as an HTML fragment. Attributes are written in
// sorted order and text is escaped, so the output is deterministic.
func HTML(s *vdom.Snapshot) (string, error) {
	var buf bytes.Buffer
	if err := WriteHTML(&buf, s); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WriteHTML streams a snapshot as an HTML fragment to w.
func WriteHTML(w io.Writer, s *vdom.Snapshot) error {
	if s == nil {
		return nil
	}
	for _, root := range s.Roots {
		n, err := toHTMLNode(root)
		if err != nil {
			return err
		}
		if err := html.Render(w, n); err != nil {
			return err
		}
	}
	return nil
}

// PageData contains everything needed to render a complete document
// around a snapshot.
type PageData struct {
	Title     string
	Lang      string // Defaults to "en"
	View      string // Registered view name, written on the root element
	Snapshot  *vdom.Snapshot
	Scripts   []string // Script sources appended to the body
	LiveToken string   // Optional resume token exposed to the client script
}

// RenderPage writes a complete HTML document with the snapshot mounted under
// a root element carrying RootAttr.
func RenderPage(w io.Writer, page PageData) error {
	lang := page.Lang
	if lang == "" {
		lang = "en"
	}

	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})

	root := element(atom.Html, html.Attribute{Key: "lang", Val: lang})
	doc.AppendChild(root)

	head := element(atom.Head)
	head.AppendChild(element(atom.Meta, html.Attribute{Key: "charset", Val: "utf-8"}))
	title := element(atom.Title)
	title.AppendChild(&html.Node{Type: html.TextNode, Data: page.Title})
	head.AppendChild(title)
	root.AppendChild(head)

	body := element(atom.Body)
	mount := element(atom.Div, html.Attribute{Key: RootAttr, Val: page.View})
	if page.LiveToken != "" {
		mount.Attr = append(mount.Attr, html.Attribute{Key: "data-live-token", Val: page.LiveToken})
	}
	if page.Snapshot != nil {
		for _, r := range page.Snapshot.Roots {
			n, err := toHTMLNode(r)
			if err != nil {
				return err
			}
			mount.AppendChild(n)
		}
	}
	body.AppendChild(mount)
	for _, src := range page.Scripts {
		body.AppendChild(element(atom.Script, html.Attribute{Key: "src", Val: src}))
	}
	root.AppendChild(body)

	return html.Render(w, doc)
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: a,
		Data:     a.String(),
		Attr:     attrs,
	}
}

func toHTMLNode(v *vdom.VNode) (*html.Node, error) {
	switch v.Kind {
	case vdom.KindText, vdom.KindDynamic:
		return &html.Node{Type: html.TextNode, Data: v.Text}, nil

	case vdom.KindElement:
		n := &html.Node{
			Type:     html.ElementNode,
			Data:     v.Tag,
			DataAtom: atom.Lookup([]byte(v.Tag)),
		}
		keys := make([]string, 0, len(v.Attrs))
		for k := range v.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			n.Attr = append(n.Attr, html.Attribute{Key: k, Val: v.Attrs[k]})
		}
		for _, child := range v.Children {
			c, err := toHTMLNode(child)
			if err != nil {
				return nil, err
			}
			n.AppendChild(c)
		}
		return n, nil

	default:
		return nil, fmt.Errorf("render: cannot write %v node as HTML", v.Kind)
	}
}
