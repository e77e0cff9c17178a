package protocol

import (
	"errors"
	"fmt"
	"sort"

	"github.com/live-view/liveview-backend/pkg/vdom"
)

// MaxNodeDepth limits the nesting depth of decoded node trees.
const MaxNodeDepth = 256

// ErrInvalidNodeKind is returned for a node kind that cannot cross the wire.
var ErrInvalidNodeKind = errors.New("protocol: invalid node kind")

// EncodeNode encodes a rendered node tree.
//
// Layout by kind:
//
//	Element: [kind][tag][attr count]{[key][value]}[child count]{node}
//	Text:    [kind][text]
//	Dynamic: [kind][binding][text]
//
// Attributes are written in sorted key order. Component references never
// reach the wire; they are resolved by rendering first.
func EncodeNode(e *Encoder, n *vdom.VNode) {
	e.WriteByte(byte(n.Kind))

	switch n.Kind {
	case vdom.KindElement:
		e.WriteString(n.Tag)

		keys := make([]string, 0, len(n.Attrs))
		for k := range n.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.WriteUvarint(uint64(len(keys)))
		for _, k := range keys {
			e.WriteString(k)
			e.WriteString(n.Attrs[k])
		}

		e.WriteUvarint(uint64(len(n.Children)))
		for _, c := range n.Children {
			EncodeNode(e, c)
		}

	case vdom.KindText:
		e.WriteString(n.Text)

	case vdom.KindDynamic:
		e.WriteString(n.Binding)
		e.WriteString(n.Text)
	}
}

// EncodeNodes encodes a counted list of nodes.
func EncodeNodes(e *Encoder, nodes []*vdom.VNode) {
	e.WriteUvarint(uint64(len(nodes)))
	for _, n := range nodes {
		EncodeNode(e, n)
	}
}

// DecodeNode decodes a node tree, enforcing MaxNodeDepth.
func DecodeNode(d *Decoder) (*vdom.VNode, error) {
	return decodeNode(d, 0)
}

// DecodeNodes decodes a counted list of nodes.
func DecodeNodes(d *Decoder) ([]*vdom.VNode, error) {
	return decodeNodes(d, 0)
}

func decodeNodes(d *Decoder, depth int) ([]*vdom.VNode, error) {
	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	nodes := make([]*vdom.VNode, count)
	for i := range nodes {
		if nodes[i], err = decodeNode(d, depth); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

func decodeNode(d *Decoder, depth int) (*vdom.VNode, error) {
	if depth > MaxNodeDepth {
		return nil, ErrMaxDepthExceeded
	}

	kb, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	n := &vdom.VNode{Kind: vdom.VKind(kb)}

	switch n.Kind {
	case vdom.KindElement:
		if n.Tag, err = d.ReadString(); err != nil {
			return nil, err
		}

		attrCount, err := d.ReadCollectionCount()
		if err != nil {
			return nil, err
		}
		if attrCount > 0 {
			n.Attrs = make(map[string]string, attrCount)
			for i := 0; i < attrCount; i++ {
				key, err := d.ReadString()
				if err != nil {
					return nil, err
				}
				value, err := d.ReadString()
				if err != nil {
					return nil, err
				}
				n.Attrs[key] = value
			}
		}

		if n.Children, err = decodeNodes(d, depth+1); err != nil {
			return nil, err
		}

	case vdom.KindText:
		if n.Text, err = d.ReadString(); err != nil {
			return nil, err
		}

	case vdom.KindDynamic:
		if n.Binding, err = d.ReadString(); err != nil {
			return nil, err
		}
		if n.Text, err = d.ReadString(); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidNodeKind, kb)
	}

	return n, nil
}
