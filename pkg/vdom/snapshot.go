package vdom

// Snapshot is a fully rendered view: an ordered list of root nodes with every
// component reference resolved and every placeholder filled in.
type Snapshot struct {
	Roots []*VNode

	// Instances records the component instances the renderer expanded, in
	// render order. It is informational only and does not take part in
	// Equal or Diff.
	Instances []Instance
}

// Instance is one expanded component in a snapshot. Parent indexes into the
// same Instances table, -1 marks a top-level instance.
type Instance struct {
	ID     int    // Position in the Instances table
	Type   string // Registered component name
	Parent int    // Index of the enclosing instance, or -1
	Path   Path   // Position of the first spliced node
	Count  int    // Number of sibling nodes the component expanded to
}

// NewSnapshot creates a snapshot over the given root nodes.
func NewSnapshot(roots ...*VNode) *Snapshot {
	return &Snapshot{Roots: roots}
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := &Snapshot{}
	if len(s.Roots) > 0 {
		c.Roots = make([]*VNode, len(s.Roots))
		for i, r := range s.Roots {
			c.Roots[i] = r.Clone()
		}
	}
	if len(s.Instances) > 0 {
		c.Instances = make([]Instance, len(s.Instances))
		for i, inst := range s.Instances {
			inst.Path = append(Path(nil), inst.Path...)
			c.Instances[i] = inst
		}
	}
	return c
}

// Len returns the number of root nodes. A nil snapshot is empty.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Roots)
}

// Count returns the total number of nodes in the snapshot.
func (s *Snapshot) Count() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, r := range s.Roots {
		n += r.Count()
	}
	return n
}

// Node returns the node addressed by path.
func (s *Snapshot) Node(path Path) (*VNode, error) {
	if s == nil || len(path) == 0 {
		return nil, ErrInvalidPath
	}
	children := s.Roots
	var node *VNode
	for _, idx := range path {
		if idx < 0 || idx >= len(children) {
			return nil, ErrInvalidPath
		}
		node = children[idx]
		children = node.Children
	}
	return node, nil
}

// SnapshotEqual reports whether two snapshots have structurally equal roots.
// A nil snapshot equals an empty one.
func SnapshotEqual(a, b *Snapshot) bool {
	return equalChildren(roots(a), roots(b))
}

func roots(s *Snapshot) []*VNode {
	if s == nil {
		return nil
	}
	return s.Roots
}
