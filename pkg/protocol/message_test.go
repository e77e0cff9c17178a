package protocol

import (
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/live-view/liveview-backend/pkg/vdom"
)

// resolved returns a placeholder as it appears after rendering.
func resolved(binding, text string) *vdom.VNode {
	return &vdom.VNode{Kind: vdom.KindDynamic, Binding: binding, Text: text}
}

func testSnapshot() *vdom.Snapshot {
	return vdom.NewSnapshot(
		vdom.Div(vdom.Class("counter"), vdom.ID("c1"),
			vdom.Span(resolved("count", "3")),
			vdom.Button(vdom.OnClick("increment"), "+"),
		),
		vdom.Text("footer"),
	)
}

func mustEncode(t *testing.T, msg any) []byte {
	t.Helper()
	b, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode(%T) error = %v", msg, err)
	}
	return b
}

func TestClientHelloRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ch   *ClientHello
	}{
		{"new session", NewClientHello("counter", map[string]any{"start": 5})},
		{"resume", &ClientHello{Version: CurrentVersion, View: "counter", ResumeToken: "id.secret"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeClientMessage(mustEncode(t, tt.ch))
			if err != nil {
				t.Fatalf("DecodeClientMessage() error = %v", err)
			}
			got, ok := msg.(*ClientHello)
			if !ok {
				t.Fatalf("message type = %T, want *ClientHello", msg)
			}
			if got.Version != tt.ch.Version || got.View != tt.ch.View || got.ResumeToken != tt.ch.ResumeToken {
				t.Errorf("ClientHello = %+v, want %+v", got, tt.ch)
			}
			if len(got.Params) != len(tt.ch.Params) {
				t.Errorf("Params = %v, want %v", got.Params, tt.ch.Params)
			}
		})
	}
}

func TestServerHelloRoundTrip(t *testing.T) {
	sh := &ServerHello{
		Status:      HandshakeOK,
		SessionID:   "0190a8f0-0000-7000-8000-000000000001",
		ResumeToken: "0190a8f0-0000-7000-8000-000000000001.abc",
		Seq:         7,
		ServerTime:  1_700_000_000_000,
		Resumed:     true,
		Snapshot:    testSnapshot(),
	}

	msg, err := DecodeServerMessage(mustEncode(t, sh))
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}
	got := msg.(*ServerHello)
	if got.Status != sh.Status || got.SessionID != sh.SessionID || got.ResumeToken != sh.ResumeToken ||
		got.Seq != sh.Seq || got.ServerTime != sh.ServerTime || got.Resumed != sh.Resumed {
		t.Errorf("ServerHello = %+v, want %+v", got, sh)
	}
	if !vdom.SnapshotEqual(got.Snapshot, sh.Snapshot) {
		t.Error("snapshot mismatch")
	}
}

func TestServerHelloError(t *testing.T) {
	msg, err := DecodeServerMessage(mustEncode(t, NewServerHelloError(HandshakeUnknownView)))
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}
	got := msg.(*ServerHello)
	if got.Status != HandshakeUnknownView || got.SessionID != "" || got.Snapshot.Len() != 0 {
		t.Errorf("ServerHello = %+v", got)
	}
}

func TestEventRoundTrip(t *testing.T) {
	ev := &Event{
		SessionID: "s1",
		Name:      "increment",
		Payload:   map[string]any{"by": 2, "label": "x"},
	}
	msg, err := DecodeClientMessage(mustEncode(t, ev))
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	got := msg.(*Event)
	want := &Event{
		SessionID: "s1",
		Name:      "increment",
		Payload:   map[string]any{"by": int64(2), "label": "x"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Event = %+v, want %+v", got, want)
	}
}

func TestEventEmptyName(t *testing.T) {
	data := mustEncode(t, &Event{SessionID: "s1"})
	_, err := DecodeClientMessage(data)
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Code != ErrInvalidEvent || !errors.Is(err, ErrEmptyEventName) {
		t.Errorf("error = %v, want ProtocolError(InvalidEvent) wrapping ErrEmptyEventName", err)
	}
}

func TestPatchesRoundTrip(t *testing.T) {
	pf := &PatchesFrame{
		SessionID: "s1",
		Seq:       3,
		Ops: []vdom.Patch{
			{Op: vdom.PatchSetText, Path: vdom.Path{0, 0, 0}, Value: "4"},
			{Op: vdom.PatchSetAttr, Path: vdom.Path{0}, Key: "class", Value: "counter active"},
			{Op: vdom.PatchRemoveAttr, Path: vdom.Path{0}, Key: "id"},
			{Op: vdom.PatchInsertNode, Path: vdom.Path{0, 2}, Node: vdom.P("new")},
			{Op: vdom.PatchRemoveNode, Path: vdom.Path{1}},
		},
	}

	data := mustEncode(t, pf)
	f, _ := DecodeFrame(data)
	if !f.Flags.Has(FlagSequenced) {
		t.Error("patches frame should be flagged sequenced")
	}

	msg, err := DecodeServerMessage(data)
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}
	got := msg.(*PatchesFrame)
	if got.SessionID != pf.SessionID || got.Seq != pf.Seq || len(got.Ops) != len(pf.Ops) {
		t.Fatalf("PatchesFrame = %+v", got)
	}
	for i := range pf.Ops {
		w, g := pf.Ops[i], got.Ops[i]
		if g.Op != w.Op || !g.Path.Equal(w.Path) || g.Key != w.Key || g.Value != w.Value || !vdom.Equal(g.Node, w.Node) {
			t.Errorf("op %d = %v, want %v", i, g, w)
		}
	}
}

func TestPatchesApplyAfterDecode(t *testing.T) {
	prev := testSnapshot()
	next := vdom.NewSnapshot(
		vdom.Div(vdom.Class("counter big"),
			vdom.Span(resolved("count", "4")),
			vdom.Button(vdom.OnClick("increment"), "+"),
			vdom.P("extra"),
		),
	)

	data := mustEncode(t, &PatchesFrame{SessionID: "s", Seq: 1, Ops: vdom.Diff(prev, next)})
	msg, err := DecodeServerMessage(data)
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}

	got, err := vdom.Apply(prev, msg.(*PatchesFrame).Ops)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !vdom.SnapshotEqual(got, next) {
		t.Error("decoded patch did not reproduce the new snapshot")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	sf := &SnapshotFrame{SessionID: "s1", Seq: 9, Snapshot: testSnapshot()}
	msg, err := DecodeServerMessage(mustEncode(t, sf))
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}
	got := msg.(*SnapshotFrame)
	if got.SessionID != "s1" || got.Seq != 9 {
		t.Errorf("SnapshotFrame = %+v", got)
	}
	if !vdom.SnapshotEqual(got.Snapshot, sf.Snapshot) {
		t.Error("snapshot mismatch")
	}
}

func TestControlRoundTrip(t *testing.T) {
	closeType, closeMsg := NewClose(CloseGoingAway, "bye")
	tests := []struct {
		name string
		in   *Control
	}{
		{"ping", &Control{Type: ControlPing}},
		{"pong", &Control{Type: ControlPong}},
		{"resync", &Control{Type: ControlResyncRequest, Payload: &ResyncRequest{LastSeq: 12}}},
		{"close", &Control{Type: closeType, Payload: closeMsg}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeClientMessage(mustEncode(t, tt.in))
			if err != nil {
				t.Fatalf("DecodeClientMessage() error = %v", err)
			}
			if got := msg.(*Control); !reflect.DeepEqual(got, tt.in) {
				t.Errorf("Control = %+v, want %+v", got, tt.in)
			}
		})
	}
}

func TestPingHasNoPayload(t *testing.T) {
	data := mustEncode(t, &Control{Type: ControlPing})
	if len(data) != FrameHeaderSize+1 {
		t.Errorf("ping frame length = %d, want %d", len(data), FrameHeaderSize+1)
	}
}

func TestErrorMessageRoundTrip(t *testing.T) {
	for _, em := range []*ErrorMessage{
		NewError(ErrHandlerNotFound, `no handler for "x"`),
		NewFatalError(ErrInvalidFrame, "bad frame"),
	} {
		msg, err := DecodeServerMessage(mustEncode(t, em))
		if err != nil {
			t.Fatalf("DecodeServerMessage() error = %v", err)
		}
		if got := msg.(*ErrorMessage); !reflect.DeepEqual(got, em) {
			t.Errorf("ErrorMessage = %+v, want %+v", got, em)
		}
	}
}

func TestErrorMessageString(t *testing.T) {
	if got := NewFatalError(ErrInvalidFrame, "x").Error(); got != "fatal: InvalidFrame: x" {
		t.Errorf("Error() = %q", got)
	}
	if got := NewError(ErrRenderFailed, "y").Error(); got != "RenderFailed: y" {
		t.Errorf("Error() = %q", got)
	}
}

func TestDecodeClientMessageRejectsServerFrames(t *testing.T) {
	data := mustEncode(t, &PatchesFrame{SessionID: "s", Seq: 1})
	_, err := DecodeClientMessage(data)
	var pe *ProtocolError
	if !errors.As(err, &pe) || !errors.Is(err, ErrInvalidFrameType) {
		t.Fatalf("error = %v, want ProtocolError wrapping ErrInvalidFrameType", err)
	}
	if pe.Frame != FramePatches {
		t.Errorf("Frame = %v, want Patches", pe.Frame)
	}
	if m := pe.Message(); !m.Fatal || m.Code != ErrInvalidFrame {
		t.Errorf("Message() = %+v", m)
	}
}

func TestEncodeUnsupported(t *testing.T) {
	if _, err := Encode("nope"); err == nil {
		t.Error("Expected error for unsupported message")
	}
}

func TestTruncatedMessagesNeverPanic(t *testing.T) {
	messages := []any{
		NewClientHello("counter", map[string]any{"a": []any{1, 2}}),
		&Event{SessionID: "s", Name: "go", Payload: map[string]any{"k": "v"}},
		&Control{Type: ControlResyncRequest, Payload: &ResyncRequest{LastSeq: 1}},
	}
	for _, m := range messages {
		data := mustEncode(t, m)
		payload := data[FrameHeaderSize:]
		for cut := 0; cut < len(payload); cut++ {
			f := &Frame{Type: FrameType(data[0]), Payload: payload[:cut]}
			_, err := DecodeClientMessage(f.Encode())
			if err == nil {
				t.Errorf("%T cut at %d: expected error", m, cut)
				continue
			}
			var pe *ProtocolError
			if !errors.As(err, &pe) {
				t.Errorf("%T cut at %d: error %v is not a ProtocolError", m, cut, err)
			}
		}
	}
}

func TestNodeDepthLimit(t *testing.T) {
	e := NewEncoder()
	e.WriteString("s")
	e.WriteUvarint(0)
	e.WriteUvarint(1)
	for i := 0; i <= MaxNodeDepth+1; i++ {
		e.WriteByte(byte(vdom.KindElement))
		e.WriteString("div")
		e.WriteUvarint(0)
		e.WriteUvarint(1)
	}
	e.WriteByte(byte(vdom.KindText))
	e.WriteString("deep")

	if _, err := DecodeSnapshot(e.Bytes()); !errors.Is(err, ErrMaxDepthExceeded) {
		t.Errorf("DecodeSnapshot() error = %v, want ErrMaxDepthExceeded", err)
	}
}

func TestDecodeRejectsComponentNodes(t *testing.T) {
	e := NewEncoder()
	e.WriteString("s")
	e.WriteUvarint(0)
	e.WriteUvarint(1)
	e.WriteByte(byte(vdom.KindComponent))

	if _, err := DecodeSnapshot(e.Bytes()); !errors.Is(err, ErrInvalidNodeKind) {
		t.Errorf("DecodeSnapshot() error = %v, want ErrInvalidNodeKind", err)
	}
}

func TestDecodePatchErrors(t *testing.T) {
	tests := []struct {
		name    string
		build   func(e *Encoder)
		wantErr error
	}{
		{
			name: "unknown op",
			build: func(e *Encoder) {
				e.WriteByte(0x6F)
				e.WriteUvarint(1)
				e.WriteUvarint(0)
			},
			wantErr: ErrInvalidPatchOp,
		},
		{
			name: "empty path",
			build: func(e *Encoder) {
				e.WriteByte(byte(vdom.PatchRemoveNode))
				e.WriteUvarint(0)
			},
			wantErr: ErrInvalidPath,
		},
		{
			name: "truncated value",
			build: func(e *Encoder) {
				e.WriteByte(byte(vdom.PatchSetText))
				e.WriteUvarint(1)
				e.WriteUvarint(0)
			},
			wantErr: io.ErrUnexpectedEOF,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEncoder()
			e.WriteString("s")
			e.WriteUvarint(1)
			e.WriteUvarint(1)
			tt.build(e)
			if _, err := DecodePatches(e.Bytes()); !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodePatches() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
