package vdom

import "sort"

// Diff compares two snapshots and returns the patches needed to transform
// prev into next. A nil snapshot is treated as empty.
//
// Children are matched by position. Patches are ordered so that each path is
// valid at the moment its op is applied: nodes of a different type are
// replaced by a RemoveNode immediately followed by an InsertNode at the same
// path, surplus new children are inserted in ascending order, and surplus old
// children are removed in descending order.
func Diff(prev, next *Snapshot) []Patch {
	var patches []Patch
	diffChildren(roots(prev), roots(next), nil, &patches)
	return patches
}

// DiffNodes compares two single nodes located at path.
func DiffNodes(prev, next *VNode, path Path) []Patch {
	var patches []Patch
	diff(prev, next, path, &patches)
	return patches
}

// diff recursively compares nodes and appends patches.
func diff(prev, next *VNode, path Path, patches *[]Patch) {
	// Both nil - nothing to do
	if prev == nil && next == nil {
		return
	}

	if prev == nil {
		*patches = append(*patches, insert(path, next))
		return
	}

	if next == nil {
		*patches = append(*patches, Patch{Op: PatchRemoveNode, Path: path})
		return
	}

	// Different types - replace
	if !SameType(prev, next) {
		*patches = append(*patches,
			Patch{Op: PatchRemoveNode, Path: path},
			insert(path, next),
		)
		return
	}

	switch prev.Kind {
	case KindText, KindDynamic:
		diffText(prev, next, path, patches)
	case KindElement:
		diffAttrs(prev, next, path, patches)
		diffChildren(prev.Children, next.Children, path, patches)
	case KindComponent:
		// Same name and props; only the (normally empty) children can differ.
		diffChildren(prev.Children, next.Children, path, patches)
	}
}

// diffText compares text and placeholder nodes.
func diffText(prev, next *VNode, path Path, patches *[]Patch) {
	if prev.Text != next.Text {
		*patches = append(*patches, Patch{
			Op:    PatchSetText,
			Path:  path,
			Value: next.Text,
		})
	}
}

// diffAttrs compares element attributes in sorted key order.
func diffAttrs(prev, next *VNode, path Path, patches *[]Patch) {
	if len(prev.Attrs) == 0 && len(next.Attrs) == 0 {
		return
	}

	keys := make([]string, 0, len(prev.Attrs)+len(next.Attrs))
	for k := range prev.Attrs {
		keys = append(keys, k)
	}
	for k := range next.Attrs {
		if _, ok := prev.Attrs[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		nv, inNext := next.Attrs[k]
		pv, inPrev := prev.Attrs[k]
		switch {
		case !inNext:
			*patches = append(*patches, Patch{Op: PatchRemoveAttr, Path: path, Key: k})
		case !inPrev || pv != nv:
			*patches = append(*patches, Patch{Op: PatchSetAttr, Path: path, Key: k, Value: nv})
		}
	}
}

// diffChildren compares child lists positionally.
func diffChildren(prev, next []*VNode, parent Path, patches *[]Patch) {
	common := min(len(prev), len(next))

	for i := 0; i < common; i++ {
		diff(prev[i], next[i], parent.Child(i), patches)
	}

	// New children appended in order so each index is the current length.
	for i := common; i < len(next); i++ {
		*patches = append(*patches, insert(parent.Child(i), next[i]))
	}

	// Removed from the end so earlier indices stay valid.
	for i := len(prev) - 1; i >= common; i-- {
		*patches = append(*patches, Patch{Op: PatchRemoveNode, Path: parent.Child(i)})
	}
}

func insert(path Path, node *VNode) Patch {
	return Patch{Op: PatchInsertNode, Path: path, Node: node.Clone()}
}
