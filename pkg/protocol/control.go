package protocol

import (
	"errors"
	"fmt"
)

// ControlType identifies the type of control message.
type ControlType uint8

const (
	ControlPing          ControlType = 0x01 // Heartbeat request, no payload
	ControlPong          ControlType = 0x02 // Response to ping, no payload
	ControlResyncRequest ControlType = 0x10 // Client asks for a full snapshot
	ControlClose         ControlType = 0x20 // Explicit session close
)

// String returns the string representation of the control type.
func (ct ControlType) String() string {
	switch ct {
	case ControlPing:
		return "Ping"
	case ControlPong:
		return "Pong"
	case ControlResyncRequest:
		return "ResyncRequest"
	case ControlClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// CloseReason indicates why a session is being closed.
type CloseReason uint8

const (
	CloseNormal         CloseReason = 0x00 // Normal closure
	CloseGoingAway      CloseReason = 0x01 // Client/server going away
	CloseSessionExpired CloseReason = 0x02 // Session expired
	CloseServerShutdown CloseReason = 0x03 // Server shutting down
	CloseError          CloseReason = 0x04 // Error occurred
	CloseReplaced       CloseReason = 0x05 // Another connection resumed the session
)

// String returns the string representation of the close reason.
func (cr CloseReason) String() string {
	switch cr {
	case CloseNormal:
		return "Normal"
	case CloseGoingAway:
		return "GoingAway"
	case CloseSessionExpired:
		return "SessionExpired"
	case CloseServerShutdown:
		return "ServerShutdown"
	case CloseError:
		return "Error"
	case CloseReplaced:
		return "Replaced"
	default:
		return "Unknown"
	}
}

// ErrInvalidControl is returned for an unknown control type.
var ErrInvalidControl = errors.New("protocol: invalid control type")

// ResyncRequest asks the server for a full snapshot. LastSeq is the last
// patch sequence the client applied.
type ResyncRequest struct {
	LastSeq uint64
}

// CloseMessage ends a session. From the client it is an explicit disconnect;
// from the server it explains why the connection is going away.
type CloseMessage struct {
	Reason  CloseReason
	Message string
}

// Control is a decoded control message. Payload is nil for Ping and Pong,
// *ResyncRequest or *CloseMessage otherwise.
type Control struct {
	Type    ControlType
	Payload any
}

// EncodeControl encodes a control message to bytes.
func EncodeControl(ct ControlType, payload any) []byte {
	e := NewEncoder()
	EncodeControlTo(e, ct, payload)
	return e.Bytes()
}

// EncodeControlTo encodes a control message using the provided encoder.
func EncodeControlTo(e *Encoder, ct ControlType, payload any) {
	e.WriteByte(byte(ct))

	switch ct {
	case ControlResyncRequest:
		if rr, ok := payload.(*ResyncRequest); ok {
			e.WriteUvarint(rr.LastSeq)
		} else {
			e.WriteUvarint(0)
		}

	case ControlClose:
		if cm, ok := payload.(*CloseMessage); ok {
			e.WriteByte(byte(cm.Reason))
			e.WriteString(cm.Message)
		} else {
			e.WriteByte(byte(CloseNormal))
			e.WriteString("")
		}
	}
}

// DecodeControl decodes a control message from bytes.
func DecodeControl(data []byte) (*Control, error) {
	d := NewDecoder(data)
	c, err := DecodeControlFrom(d)
	if err != nil {
		return nil, err
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return c, nil
}

// DecodeControlFrom decodes a control message from a decoder.
func DecodeControlFrom(d *Decoder) (*Control, error) {
	tb, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	c := &Control{Type: ControlType(tb)}

	switch c.Type {
	case ControlPing, ControlPong:

	case ControlResyncRequest:
		lastSeq, err := d.ReadUvarint()
		if err != nil {
			return nil, err
		}
		c.Payload = &ResyncRequest{LastSeq: lastSeq}

	case ControlClose:
		reason, err := d.ReadByte()
		if err != nil {
			return nil, err
		}
		message, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		c.Payload = &CloseMessage{Reason: CloseReason(reason), Message: message}

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidControl, tb)
	}
	return c, nil
}

// NewClose creates a Close message.
func NewClose(reason CloseReason, message string) (ControlType, *CloseMessage) {
	return ControlClose, &CloseMessage{Reason: reason, Message: message}
}
