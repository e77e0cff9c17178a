package vdom

import (
	"maps"
	"reflect"
)

// VKind is the node type discriminator.
type VKind uint8

const (
	KindElement   VKind = iota // <div>, <button>, etc.
	KindText                   // Static text leaf
	KindDynamic                // Placeholder bound to an assigns value
	KindComponent              // Reference to a registered component (templates only)
)

// String returns the string representation of the VKind.
func (k VKind) String() string {
	switch k {
	case KindElement:
		return "Element"
	case KindText:
		return "Text"
	case KindDynamic:
		return "Dynamic"
	case KindComponent:
		return "Component"
	default:
		return "Unknown"
	}
}

// VNode is a node in a rendered snapshot or in a component template.
type VNode struct {
	Kind     VKind             // Node type
	Tag      string            // Element tag name (e.g., "div")
	Attrs    map[string]string // Element attributes, unique keys, order irrelevant
	Children []*VNode          // Ordered child nodes
	Text     string            // Static text, or the resolved value of a Dynamic node
	Binding  string            // Assigns key a Dynamic node is bound to

	// Component references are resolved by the renderer and never appear
	// in a rendered snapshot.
	Component string
	Props     map[string]any
}

// Attr represents a single attribute.
type Attr struct {
	Key   string
	Value string
}

// IsEmpty returns true if this is an empty/nil attribute.
func (a Attr) IsEmpty() bool {
	return a.Key == ""
}

// Clone returns a deep copy of the node.
func (v *VNode) Clone() *VNode {
	if v == nil {
		return nil
	}
	c := &VNode{
		Kind:      v.Kind,
		Tag:       v.Tag,
		Text:      v.Text,
		Binding:   v.Binding,
		Component: v.Component,
	}
	if v.Attrs != nil {
		c.Attrs = maps.Clone(v.Attrs)
	}
	if v.Props != nil {
		c.Props = maps.Clone(v.Props)
	}
	if len(v.Children) > 0 {
		c.Children = make([]*VNode, len(v.Children))
		for i, child := range v.Children {
			c.Children[i] = child.Clone()
		}
	}
	return c
}

// SameType reports whether two nodes occupy the same structural slot, i.e.
// whether the diff engine may update a in place instead of replacing it.
func SameType(a, b *VNode) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindElement:
		return a.Tag == b.Tag
	case KindDynamic:
		return a.Binding == b.Binding
	case KindComponent:
		return a.Component == b.Component && reflect.DeepEqual(a.Props, b.Props)
	default:
		return true
	}
}

// Equal reports whether two nodes are structurally equal.
func Equal(a, b *VNode) bool {
	if !SameType(a, b) {
		return false
	}
	if a == nil {
		return true
	}
	if a.Text != b.Text {
		return false
	}
	if len(a.Attrs) != len(b.Attrs) {
		return false
	}
	for k, av := range a.Attrs {
		if bv, ok := b.Attrs[k]; !ok || av != bv {
			return false
		}
	}
	return equalChildren(a.Children, b.Children)
}

func equalChildren(a, b []*VNode) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Count returns the number of nodes in the subtree rooted at v.
func (v *VNode) Count() int {
	if v == nil {
		return 0
	}
	n := 1
	for _, child := range v.Children {
		n += child.Count()
	}
	return n
}
