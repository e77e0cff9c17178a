package vdom

import (
	"fmt"
	"strconv"
	"strings"
)

// PatchOp is the type of patch operation.
type PatchOp uint8

const (
	PatchSetText    PatchOp = 0x01 // Update text content
	PatchSetAttr    PatchOp = 0x02 // Set/update attribute
	PatchRemoveAttr PatchOp = 0x03 // Remove attribute
	PatchInsertNode PatchOp = 0x04 // Insert new node
	PatchRemoveNode PatchOp = 0x05 // Remove node
)

// String returns the string representation of the PatchOp.
func (op PatchOp) String() string {
	switch op {
	case PatchSetText:
		return "SetText"
	case PatchSetAttr:
		return "SetAttr"
	case PatchRemoveAttr:
		return "RemoveAttr"
	case PatchInsertNode:
		return "InsertNode"
	case PatchRemoveNode:
		return "RemoveNode"
	default:
		return "Unknown"
	}
}

// Path addresses a node by child indices, starting with the index into the
// snapshot's root list.
type Path []int

// String renders the path as slash separated indices, e.g. "0/2/1".
func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	parts := make([]string, len(p))
	for i, idx := range p {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, "/")
}

// Parent returns the path of the parent and the child index.
// For a root path the parent is empty.
func (p Path) Parent() (Path, int) {
	if len(p) == 0 {
		return nil, -1
	}
	return p[:len(p)-1], p[len(p)-1]
}

// Child returns a new path extending p by index i.
func (p Path) Child(i int) Path {
	c := make(Path, len(p)+1)
	copy(c, p)
	c[len(p)] = i
	return c
}

// Equal reports whether two paths address the same node.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// Patch represents a single operation to apply to a snapshot.
type Patch struct {
	Op    PatchOp // Operation type
	Path  Path    // Target node; for InsertNode, the position the node will occupy
	Key   string  // Attribute key (for SetAttr/RemoveAttr)
	Value string  // New text or attribute value
	Node  *VNode  // For InsertNode
}

// String returns a compact human readable form, useful in logs and tests.
func (p Patch) String() string {
	switch p.Op {
	case PatchSetText:
		return fmt.Sprintf("SetText(%s, %q)", p.Path, p.Value)
	case PatchSetAttr:
		return fmt.Sprintf("SetAttr(%s, %s=%q)", p.Path, p.Key, p.Value)
	case PatchRemoveAttr:
		return fmt.Sprintf("RemoveAttr(%s, %s)", p.Path, p.Key)
	case PatchInsertNode:
		return fmt.Sprintf("InsertNode(%s, %s)", p.Path, describe(p.Node))
	case PatchRemoveNode:
		return fmt.Sprintf("RemoveNode(%s)", p.Path)
	default:
		return "Unknown(" + p.Path.String() + ")"
	}
}

func describe(n *VNode) string {
	if n == nil {
		return "nil"
	}
	switch n.Kind {
	case KindElement:
		return "<" + n.Tag + ">"
	case KindDynamic:
		return "{" + n.Binding + "}"
	case KindComponent:
		return "[" + n.Component + "]"
	default:
		return strconv.Quote(n.Text)
	}
}
