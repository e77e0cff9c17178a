package protocol

import "github.com/live-view/liveview-backend/pkg/vdom"

// SnapshotFrame carries a session's full current render. It is sent on
// resume and in answer to a resync request; the client replaces its tree
// and continues from Seq.
type SnapshotFrame struct {
	SessionID string
	Seq       uint64
	Snapshot  *vdom.Snapshot
}

// EncodeSnapshot encodes a snapshot frame to bytes.
func EncodeSnapshot(sf *SnapshotFrame) []byte {
	e := NewEncoder()
	EncodeSnapshotTo(e, sf)
	return e.Bytes()
}

// EncodeSnapshotTo encodes a snapshot frame using the provided encoder.
//
//	[session id][seq: uvarint][root count]{node}
func EncodeSnapshotTo(e *Encoder, sf *SnapshotFrame) {
	e.WriteString(sf.SessionID)
	e.WriteUvarint(sf.Seq)
	encodeSnapshotRoots(e, sf.Snapshot)
}

func encodeSnapshotRoots(e *Encoder, s *vdom.Snapshot) {
	if s == nil {
		e.WriteUvarint(0)
		return
	}
	EncodeNodes(e, s.Roots)
}

// DecodeSnapshot decodes a snapshot frame from bytes.
func DecodeSnapshot(data []byte) (*SnapshotFrame, error) {
	d := NewDecoder(data)
	sf, err := DecodeSnapshotFrom(d)
	if err != nil {
		return nil, err
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return sf, nil
}

// DecodeSnapshotFrom decodes a snapshot frame from a decoder.
func DecodeSnapshotFrom(d *Decoder) (*SnapshotFrame, error) {
	sf := &SnapshotFrame{}
	var err error

	if sf.SessionID, err = d.ReadString(); err != nil {
		return nil, err
	}
	if sf.Seq, err = d.ReadUvarint(); err != nil {
		return nil, err
	}
	if sf.Snapshot, err = decodeSnapshotRoots(d); err != nil {
		return nil, err
	}
	return sf, nil
}

func decodeSnapshotRoots(d *Decoder) (*vdom.Snapshot, error) {
	roots, err := DecodeNodes(d)
	if err != nil {
		return nil, err
	}
	return vdom.NewSnapshot(roots...), nil
}
