package protocol

import (
	"errors"
	"fmt"

	"github.com/live-view/liveview-backend/pkg/vdom"
)

// MaxPathDepth limits the length of a patch path.
const MaxPathDepth = MaxNodeDepth + 1

var (
	ErrInvalidPatchOp = errors.New("protocol: invalid patch op")
	ErrInvalidPath    = errors.New("protocol: invalid patch path")
)

// PatchesFrame carries the ordered ops produced by one handled event.
// Seq increases by one for every non-empty batch a session sends.
type PatchesFrame struct {
	SessionID string
	Seq       uint64
	Ops       []vdom.Patch
}

// EncodePatches encodes a patches frame to bytes.
func EncodePatches(pf *PatchesFrame) []byte {
	e := NewEncoder()
	EncodePatchesTo(e, pf)
	return e.Bytes()
}

// EncodePatchesTo encodes a patches frame using the provided encoder.
//
//	[session id][seq: uvarint][op count]{patch}
func EncodePatchesTo(e *Encoder, pf *PatchesFrame) {
	e.WriteString(pf.SessionID)
	e.WriteUvarint(pf.Seq)
	e.WriteUvarint(uint64(len(pf.Ops)))
	for i := range pf.Ops {
		encodePatch(e, &pf.Ops[i])
	}
}

// encodePatch encodes a single op.
//
//	SetText:    [op][path][value]
//	SetAttr:    [op][path][key][value]
//	RemoveAttr: [op][path][key]
//	InsertNode: [op][path][node]
//	RemoveNode: [op][path]
func encodePatch(e *Encoder, p *vdom.Patch) {
	e.WriteByte(byte(p.Op))
	encodePath(e, p.Path)

	switch p.Op {
	case vdom.PatchSetText:
		e.WriteString(p.Value)
	case vdom.PatchSetAttr:
		e.WriteString(p.Key)
		e.WriteString(p.Value)
	case vdom.PatchRemoveAttr:
		e.WriteString(p.Key)
	case vdom.PatchInsertNode:
		EncodeNode(e, p.Node)
	}
}

func encodePath(e *Encoder, path vdom.Path) {
	e.WriteUvarint(uint64(len(path)))
	for _, idx := range path {
		e.WriteUvarint(uint64(idx))
	}
}

// DecodePatches decodes a patches frame from bytes.
func DecodePatches(data []byte) (*PatchesFrame, error) {
	d := NewDecoder(data)
	pf, err := DecodePatchesFrom(d)
	if err != nil {
		return nil, err
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return pf, nil
}

// DecodePatchesFrom decodes a patches frame from a decoder.
func DecodePatchesFrom(d *Decoder) (*PatchesFrame, error) {
	pf := &PatchesFrame{}
	var err error

	if pf.SessionID, err = d.ReadString(); err != nil {
		return nil, err
	}
	if pf.Seq, err = d.ReadUvarint(); err != nil {
		return nil, err
	}

	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	if count > 0 {
		pf.Ops = make([]vdom.Patch, count)
		for i := range pf.Ops {
			if err := decodePatch(d, &pf.Ops[i]); err != nil {
				return nil, fmt.Errorf("op %d: %w", i, err)
			}
		}
	}
	return pf, nil
}

func decodePatch(d *Decoder, p *vdom.Patch) error {
	ob, err := d.ReadByte()
	if err != nil {
		return err
	}
	p.Op = vdom.PatchOp(ob)

	if p.Path, err = decodePath(d); err != nil {
		return err
	}

	switch p.Op {
	case vdom.PatchSetText:
		p.Value, err = d.ReadString()
	case vdom.PatchSetAttr:
		if p.Key, err = d.ReadString(); err != nil {
			return err
		}
		p.Value, err = d.ReadString()
	case vdom.PatchRemoveAttr:
		p.Key, err = d.ReadString()
	case vdom.PatchInsertNode:
		p.Node, err = decodeNode(d, len(p.Path))
	case vdom.PatchRemoveNode:
	default:
		return fmt.Errorf("%w: 0x%02x", ErrInvalidPatchOp, ob)
	}
	return err
}

func decodePath(d *Decoder) (vdom.Path, error) {
	n, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	if n == 0 || n > MaxPathDepth {
		return nil, ErrInvalidPath
	}
	path := make(vdom.Path, n)
	for i := range path {
		idx, err := d.ReadUvarint()
		if err != nil {
			return nil, err
		}
		if idx > MaxCollectionCount {
			return nil, ErrInvalidPath
		}
		path[i] = int(idx)
	}
	return path, nil
}
