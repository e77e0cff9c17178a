package render

import (
	"fmt"
	"maps"
	"slices"

	"github.com/live-view/liveview-backend/pkg/vdom"
)

// MaxDepth is the deepest component nesting Render will expand.
const MaxDepth = 64

// ViewState is the input to Render: the root component of a view and the
// session's current assigns.
type ViewState struct {
	Root    string
	Assigns Assigns
}

// Render expands the root component against the assigns and returns the
// resulting snapshot. Rendering is deterministic: the same registry and view
// state always produce an equal snapshot.
//
// Component references are replaced in place by the nodes their template
// produces, so a component contributes zero or more siblings at its position.
// Placeholders are resolved against the enclosing component's props overlaid
// on the assigns; a binding with no value renders as empty text.
func Render(reg *Registry, vs ViewState) (snap *vdom.Snapshot, err error) {
	r := &renderer{reg: reg, root: vs.Root}

	defer func() {
		if p := recover(); p != nil {
			snap = nil
			err = &RenderError{
				Root:      vs.Root,
				Component: r.current(),
				Err:       fmt.Errorf("%w: %v", ErrComponentPanic, p),
			}
		}
	}()

	roots, err := r.expand(
		[]*vdom.VNode{vdom.Comp(vs.Root, nil)},
		Scope{Assigns: vs.Assigns},
		nil, -1, nil,
	)
	if err != nil {
		return nil, err
	}
	return &vdom.Snapshot{Roots: roots, Instances: r.instances}, nil
}

type renderer struct {
	reg       *Registry
	root      string
	stack     []string
	instances []vdom.Instance
}

func (r *renderer) current() string {
	if len(r.stack) == 0 {
		return r.root
	}
	return r.stack[len(r.stack)-1]
}

// expand resolves the template nodes in and appends the results to out.
// parent is the path of the element that will hold out, inst the index of
// the enclosing component instance.
func (r *renderer) expand(in []*vdom.VNode, scope Scope, parent vdom.Path, inst int, out []*vdom.VNode) ([]*vdom.VNode, error) {
	for _, n := range in {
		if n == nil {
			continue
		}

		switch n.Kind {
		case vdom.KindText:
			out = append(out, vdom.Text(n.Text))

		case vdom.KindDynamic:
			v, _ := scope.Lookup(n.Binding)
			out = append(out, &vdom.VNode{
				Kind:    vdom.KindDynamic,
				Binding: n.Binding,
				Text:    Format(v),
			})

		case vdom.KindElement:
			el := &vdom.VNode{Kind: vdom.KindElement, Tag: n.Tag}
			if len(n.Attrs) > 0 {
				el.Attrs = maps.Clone(n.Attrs)
			}
			children, err := r.expand(n.Children, scope, parent.Child(len(out)), inst, nil)
			if err != nil {
				return nil, err
			}
			el.Children = children
			out = append(out, el)

		case vdom.KindComponent:
			var err error
			out, err = r.component(n, scope, parent, inst, out)
			if err != nil {
				return nil, err
			}

		default:
			return nil, &RenderError{Root: r.root, Component: r.current(), Err: fmt.Errorf("unknown node kind %v", n.Kind)}
		}
	}
	return out, nil
}

func (r *renderer) component(n *vdom.VNode, scope Scope, parent vdom.Path, inst int, out []*vdom.VNode) ([]*vdom.VNode, error) {
	name := n.Component

	c, ok := r.reg.Lookup(name)
	if !ok {
		return nil, &RenderError{Root: r.root, Component: name, Err: ErrUnregisteredComponent}
	}
	if slices.Contains(r.stack, name) {
		return nil, &RenderError{Root: r.root, Component: name, Err: ErrComponentCycle}
	}
	if len(r.stack) >= MaxDepth {
		return nil, &RenderError{Root: r.root, Component: name, Err: ErrMaxDepth}
	}

	id := len(r.instances)
	r.instances = append(r.instances, vdom.Instance{
		ID:     id,
		Type:   name,
		Parent: inst,
		Path:   parent.Child(len(out)),
	})

	r.stack = append(r.stack, name)
	tmpl := c.Render(Scope{Props: n.Props, Assigns: scope.Assigns})
	before := len(out)
	out, err := r.expand(tmpl, Scope{Props: n.Props, Assigns: scope.Assigns}, parent, id, out)
	r.stack = r.stack[:len(r.stack)-1]
	if err != nil {
		return nil, err
	}

	r.instances[id].Count = len(out) - before
	return out, nil
}
