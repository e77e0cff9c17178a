package protocol

import "errors"

// ErrEmptyEventName is returned when decoding an event without a name.
var ErrEmptyEventName = errors.New("protocol: empty event name")

// Event is a client interaction addressed to a session's view handler.
//
//	[session id][name][payload map]
type Event struct {
	SessionID string
	Name      string
	Payload   map[string]any
}

// EncodeEvent encodes an event to bytes.
func EncodeEvent(ev *Event) []byte {
	e := NewEncoder()
	EncodeEventTo(e, ev)
	return e.Bytes()
}

// EncodeEventTo encodes an event using the provided encoder.
func EncodeEventTo(e *Encoder, ev *Event) {
	e.WriteString(ev.SessionID)
	e.WriteString(ev.Name)
	EncodeMap(e, ev.Payload)
}

// DecodeEvent decodes an event from bytes.
func DecodeEvent(data []byte) (*Event, error) {
	d := NewDecoder(data)
	ev, err := DecodeEventFrom(d)
	if err != nil {
		return nil, err
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return ev, nil
}

// DecodeEventFrom decodes an event from a decoder.
func DecodeEventFrom(d *Decoder) (*Event, error) {
	ev := &Event{}
	var err error

	if ev.SessionID, err = d.ReadString(); err != nil {
		return nil, err
	}
	if ev.Name, err = d.ReadString(); err != nil {
		return nil, err
	}
	if ev.Name == "" {
		return nil, ErrEmptyEventName
	}
	if ev.Payload, err = DecodeMap(d); err != nil {
		return nil, err
	}
	return ev, nil
}
