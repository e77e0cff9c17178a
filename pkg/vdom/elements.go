package vdom

import "fmt"

// voidElements are elements that cannot have children.
var voidElements = map[string]bool{
	"area":   true,
	"base":   true,
	"br":     true,
	"col":    true,
	"embed":  true,
	"hr":     true,
	"img":    true,
	"input":  true,
	"link":   true,
	"meta":   true,
	"param":  true,
	"source": true,
	"track":  true,
	"wbr":    true,
}

// IsVoidElement returns true if the tag is a void element.
func IsVoidElement(tag string) bool {
	return voidElements[tag]
}

// El creates an element node.
// Arguments can be: nil, Attr, []Attr, *VNode, []*VNode, string (text child).
func El(tag string, args ...any) *VNode {
	node := &VNode{
		Kind: KindElement,
		Tag:  tag,
	}

	for _, arg := range args {
		switch v := arg.(type) {
		case nil:
			// Ignore nil (allows conditional attributes)
			continue

		case Attr:
			node.setAttr(v)

		case []Attr:
			for _, a := range v {
				node.setAttr(a)
			}

		case *VNode:
			if v != nil {
				node.Children = append(node.Children, v)
			}

		case []*VNode:
			for _, child := range v {
				if child != nil {
					node.Children = append(node.Children, child)
				}
			}

		case string:
			node.Children = append(node.Children, Text(v))

		default:
			panic(fmt.Sprintf("vdom: unsupported element argument %T", arg))
		}
	}

	return node
}

func (v *VNode) setAttr(a Attr) {
	if a.IsEmpty() {
		return
	}
	if v.Attrs == nil {
		v.Attrs = make(map[string]string)
	}
	v.Attrs[a.Key] = a.Value
}

// Text creates a static text node.
func Text(s string) *VNode {
	return &VNode{Kind: KindText, Text: s}
}

// Textf creates a static text node using fmt.Sprintf.
func Textf(format string, args ...any) *VNode {
	return Text(fmt.Sprintf(format, args...))
}

// Dyn creates a placeholder bound to the assigns key binding.
// The renderer fills in Text from the current assigns.
func Dyn(binding string) *VNode {
	return &VNode{Kind: KindDynamic, Binding: binding}
}

// Comp creates a reference to a registered component type.
func Comp(name string, props map[string]any) *VNode {
	return &VNode{Kind: KindComponent, Component: name, Props: props}
}

// Nodes is a convenience for building a slice of sibling nodes.
func Nodes(nodes ...*VNode) []*VNode {
	return nodes
}

// Element helpers for the common tags.

func Div(args ...any) *VNode      { return El("div", args...) }
func Span(args ...any) *VNode     { return El("span", args...) }
func P(args ...any) *VNode        { return El("p", args...) }
func H1(args ...any) *VNode       { return El("h1", args...) }
func H2(args ...any) *VNode       { return El("h2", args...) }
func Button(args ...any) *VNode   { return El("button", args...) }
func Ul(args ...any) *VNode       { return El("ul", args...) }
func Li(args ...any) *VNode       { return El("li", args...) }
func Section(args ...any) *VNode  { return El("section", args...) }
func Input(args ...any) *VNode    { return El("input", args...) }
func Form(args ...any) *VNode     { return El("form", args...) }
func Strong(args ...any) *VNode   { return El("strong", args...) }
func Time(args ...any) *VNode     { return El("time", args...) }
func Footer(args ...any) *VNode   { return El("footer", args...) }
func Header(args ...any) *VNode   { return El("header", args...) }
func Main(args ...any) *VNode     { return El("main", args...) }
func Template(args ...any) *VNode { return El("template", args...) }
