package protocol

import (
	"fmt"
)

// Encode frames a message. Supported messages are *ClientHello,
// *ServerHello, *Event, *PatchesFrame, *SnapshotFrame, *Control and
// *ErrorMessage.
func Encode(msg any) ([]byte, error) {
	var f *Frame
	switch m := msg.(type) {
	case *ClientHello:
		f = NewFrame(FrameHandshake, EncodeClientHello(m))
	case *ServerHello:
		f = NewFrame(FrameHandshake, EncodeServerHello(m))
	case *Event:
		f = NewFrame(FrameEvent, EncodeEvent(m))
	case *PatchesFrame:
		f = &Frame{Type: FramePatches, Flags: FlagSequenced, Payload: EncodePatches(m)}
	case *SnapshotFrame:
		f = &Frame{Type: FrameSnapshot, Flags: FlagSequenced, Payload: EncodeSnapshot(m)}
	case *Control:
		f = NewFrame(FrameControl, EncodeControl(m.Type, m.Payload))
	case *ErrorMessage:
		f = NewFrame(FrameError, EncodeErrorMessage(m))
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", msg)
	}
	if len(f.Payload) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	return f.Encode(), nil
}

// DecodeClientMessage decodes one client → server frame into *ClientHello,
// *Event or *Control. Any violation is returned as a *ProtocolError.
func DecodeClientMessage(data []byte) (any, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return nil, &ProtocolError{Code: ErrInvalidFrame, Frame: frameTypeOf(data), Err: err}
	}

	var msg any
	code := ErrInvalidFrame
	switch f.Type {
	case FrameHandshake:
		msg, err = DecodeClientHello(f.Payload)
	case FrameEvent:
		code = ErrInvalidEvent
		msg, err = DecodeEvent(f.Payload)
	case FrameControl:
		msg, err = DecodeControl(f.Payload)
	default:
		err = fmt.Errorf("%w: %s not accepted from clients", ErrInvalidFrameType, f.Type)
	}
	if err != nil {
		return nil, &ProtocolError{Code: code, Frame: f.Type, Err: err}
	}
	return msg, nil
}

// DecodeServerMessage decodes one server → client frame into *ServerHello,
// *PatchesFrame, *SnapshotFrame, *Control or *ErrorMessage.
func DecodeServerMessage(data []byte) (any, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return nil, &ProtocolError{Code: ErrInvalidFrame, Frame: frameTypeOf(data), Err: err}
	}

	var msg any
	switch f.Type {
	case FrameHandshake:
		msg, err = DecodeServerHello(f.Payload)
	case FramePatches:
		msg, err = DecodePatches(f.Payload)
	case FrameSnapshot:
		msg, err = DecodeSnapshot(f.Payload)
	case FrameControl:
		msg, err = DecodeControl(f.Payload)
	case FrameError:
		msg, err = DecodeErrorMessage(f.Payload)
	default:
		err = fmt.Errorf("%w: %s not sent by servers", ErrInvalidFrameType, f.Type)
	}
	if err != nil {
		return nil, &ProtocolError{Code: ErrInvalidFrame, Frame: f.Type, Err: err}
	}
	return msg, nil
}

func frameTypeOf(data []byte) FrameType {
	if len(data) == 0 {
		return 0xFF
	}
	return FrameType(data[0])
}
