package protocol

import "github.com/live-view/liveview-backend/pkg/vdom"

// HandshakeStatus represents the result of a handshake.
type HandshakeStatus uint8

const (
	HandshakeOK              HandshakeStatus = 0x00
	HandshakeVersionMismatch HandshakeStatus = 0x01
	HandshakeInvalidFormat   HandshakeStatus = 0x02 // Malformed ClientHello
	HandshakeUnknownView     HandshakeStatus = 0x03 // No view registered under the name
	HandshakeServerBusy      HandshakeStatus = 0x04 // Session limit reached
	HandshakeMountFailed     HandshakeStatus = 0x05 // Mount or initial render failed
	HandshakeInternalError   HandshakeStatus = 0x06
)

// String returns the string representation of the handshake status.
func (hs HandshakeStatus) String() string {
	switch hs {
	case HandshakeOK:
		return "OK"
	case HandshakeVersionMismatch:
		return "VersionMismatch"
	case HandshakeInvalidFormat:
		return "InvalidFormat"
	case HandshakeUnknownView:
		return "UnknownView"
	case HandshakeServerBusy:
		return "ServerBusy"
	case HandshakeMountFailed:
		return "MountFailed"
	case HandshakeInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// ProtocolVersion represents a protocol version as major.minor.
type ProtocolVersion struct {
	Major uint8
	Minor uint8
}

// CurrentVersion is the current protocol version.
var CurrentVersion = ProtocolVersion{Major: 1, Minor: 0}

// Compatible reports whether a client speaking v can talk to this server.
// Only the major version must match.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// ClientHello is the first frame a client sends after the WebSocket opens.
// A non-empty ResumeToken asks to reattach to an existing session; otherwise
// (or when the token is no longer valid) a new session of View is mounted
// with Params.
type ClientHello struct {
	Version     ProtocolVersion
	View        string
	ResumeToken string
	Params      map[string]any
}

// ServerHello is the server's response to ClientHello. On success it carries
// the session's full snapshot and the token to present on the next
// reconnect.
type ServerHello struct {
	Status      HandshakeStatus
	SessionID   string
	ResumeToken string
	Seq         uint64
	ServerTime  uint64 // Unix milliseconds
	Resumed     bool
	Snapshot    *vdom.Snapshot
}

// EncodeClientHello encodes a ClientHello to bytes.
func EncodeClientHello(ch *ClientHello) []byte {
	e := NewEncoder()
	EncodeClientHelloTo(e, ch)
	return e.Bytes()
}

// EncodeClientHelloTo encodes a ClientHello using the provided encoder.
func EncodeClientHelloTo(e *Encoder, ch *ClientHello) {
	e.WriteByte(ch.Version.Major)
	e.WriteByte(ch.Version.Minor)
	e.WriteString(ch.View)
	e.WriteString(ch.ResumeToken)
	EncodeMap(e, ch.Params)
}

// DecodeClientHello decodes a ClientHello from bytes.
func DecodeClientHello(data []byte) (*ClientHello, error) {
	d := NewDecoder(data)
	ch, err := DecodeClientHelloFrom(d)
	if err != nil {
		return nil, err
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return ch, nil
}

// DecodeClientHelloFrom decodes a ClientHello from a decoder.
func DecodeClientHelloFrom(d *Decoder) (*ClientHello, error) {
	ch := &ClientHello{}
	var err error

	if ch.Version.Major, err = d.ReadByte(); err != nil {
		return nil, err
	}
	if ch.Version.Minor, err = d.ReadByte(); err != nil {
		return nil, err
	}
	if ch.View, err = d.ReadString(); err != nil {
		return nil, err
	}
	if ch.ResumeToken, err = d.ReadString(); err != nil {
		return nil, err
	}
	if ch.Params, err = DecodeMap(d); err != nil {
		return nil, err
	}
	return ch, nil
}

// EncodeServerHello encodes a ServerHello to bytes.
func EncodeServerHello(sh *ServerHello) []byte {
	e := NewEncoder()
	EncodeServerHelloTo(e, sh)
	return e.Bytes()
}

// EncodeServerHelloTo encodes a ServerHello using the provided encoder.
func EncodeServerHelloTo(e *Encoder, sh *ServerHello) {
	e.WriteByte(byte(sh.Status))
	e.WriteString(sh.SessionID)
	e.WriteString(sh.ResumeToken)
	e.WriteUvarint(sh.Seq)
	e.WriteUint64(sh.ServerTime)
	e.WriteBool(sh.Resumed)
	encodeSnapshotRoots(e, sh.Snapshot)
}

// DecodeServerHello decodes a ServerHello from bytes.
func DecodeServerHello(data []byte) (*ServerHello, error) {
	d := NewDecoder(data)
	sh, err := DecodeServerHelloFrom(d)
	if err != nil {
		return nil, err
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return sh, nil
}

// DecodeServerHelloFrom decodes a ServerHello from a decoder.
func DecodeServerHelloFrom(d *Decoder) (*ServerHello, error) {
	sh := &ServerHello{}

	status, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	sh.Status = HandshakeStatus(status)

	if sh.SessionID, err = d.ReadString(); err != nil {
		return nil, err
	}
	if sh.ResumeToken, err = d.ReadString(); err != nil {
		return nil, err
	}
	if sh.Seq, err = d.ReadUvarint(); err != nil {
		return nil, err
	}
	if sh.ServerTime, err = d.ReadUint64(); err != nil {
		return nil, err
	}
	if sh.Resumed, err = d.ReadBool(); err != nil {
		return nil, err
	}
	if sh.Snapshot, err = decodeSnapshotRoots(d); err != nil {
		return nil, err
	}
	return sh, nil
}

// NewClientHello creates a ClientHello for mounting view.
func NewClientHello(view string, params map[string]any) *ClientHello {
	return &ClientHello{
		Version: CurrentVersion,
		View:    view,
		Params:  params,
	}
}

// NewServerHelloError creates a ServerHello with an error status.
func NewServerHelloError(status HandshakeStatus) *ServerHello {
	return &ServerHello{Status: status}
}
