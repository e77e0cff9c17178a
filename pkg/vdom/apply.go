package vdom

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrInvalidPath is returned when a patch addresses a node that does not exist.
	ErrInvalidPath = errors.New("vdom: invalid patch path")

	// ErrInvalidPatch is returned when a patch does not fit the node it targets.
	ErrInvalidPatch = errors.New("vdom: invalid patch")
)

// Apply applies patches in order to a copy of prev and returns the result.
// prev is never modified.
func Apply(prev *Snapshot, patches []Patch) (*Snapshot, error) {
	s := prev.Clone()
	if s == nil {
		s = &Snapshot{}
	}
	for i, p := range patches {
		if err := applyOne(s, p); err != nil {
			return nil, fmt.Errorf("patch %d %s: %w", i, p, err)
		}
	}
	return s, nil
}

func applyOne(s *Snapshot, p Patch) error {
	switch p.Op {
	case PatchInsertNode:
		if p.Node == nil {
			return ErrInvalidPatch
		}
		list, idx, err := container(s, p.Path)
		if err != nil {
			return err
		}
		if idx < 0 || idx > len(*list) {
			return ErrInvalidPath
		}
		*list = slices.Insert(*list, idx, p.Node.Clone())
		return nil

	case PatchRemoveNode:
		list, idx, err := container(s, p.Path)
		if err != nil {
			return err
		}
		if idx < 0 || idx >= len(*list) {
			return ErrInvalidPath
		}
		*list = slices.Delete(*list, idx, idx+1)
		return nil

	case PatchSetText:
		node, err := s.Node(p.Path)
		if err != nil {
			return err
		}
		if node.Kind != KindText && node.Kind != KindDynamic {
			return ErrInvalidPatch
		}
		node.Text = p.Value
		return nil

	case PatchSetAttr, PatchRemoveAttr:
		node, err := s.Node(p.Path)
		if err != nil {
			return err
		}
		if node.Kind != KindElement || p.Key == "" {
			return ErrInvalidPatch
		}
		if p.Op == PatchRemoveAttr {
			delete(node.Attrs, p.Key)
			return nil
		}
		if node.Attrs == nil {
			node.Attrs = make(map[string]string)
		}
		node.Attrs[p.Key] = p.Value
		return nil

	default:
		return ErrInvalidPatch
	}
}

// container resolves the child list holding the node at path, and the index
// of that node within it.
func container(s *Snapshot, path Path) (*[]*VNode, int, error) {
	parent, idx := path.Parent()
	if idx < 0 {
		return nil, 0, ErrInvalidPath
	}
	if len(parent) == 0 {
		return &s.Roots, idx, nil
	}
	node, err := s.Node(parent)
	if err != nil {
		return nil, 0, err
	}
	if node.Kind != KindElement {
		return nil, 0, ErrInvalidPath
	}
	return &node.Children, idx, nil
}
