// Package protocol implements the binary wire protocol spoken over the push
// channel between a browser client and the server.
//
// # Wire Format
//
// Every WebSocket binary message carries exactly one frame with a 6-byte
// header:
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Frame Type  │ Flags        │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (4 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//
// # Frame Types
//
//   - FrameHandshake (0x00): ClientHello in, ServerHello out
//   - FrameEvent (0x01): Client → Server events
//   - FramePatches (0x02): Server → Client patches
//   - FrameControl (0x03): Ping, Pong, ResyncRequest, Close
//   - FrameSnapshot (0x04): Server → Client full snapshot
//   - FrameError (0x05): Error message
//
// # Encoding
//
//   - Varint: Compact encoding for counts, indices and sequence numbers
//   - ZigZag: Signed integers encoded as unsigned varints
//   - Length-prefixed: Strings prefixed with varint length
//   - Big-endian: Fixed-width integers (uint16, uint64)
//
// Maps and attribute sets are written in sorted key order, so equal
// messages always encode to equal bytes.
//
// # Patches
//
// Patch ops address nodes by positional path: the index into the snapshot's
// root list followed by child indices. A SetText op for the first child of
// the second root encodes as
//
//	[Op: 0x01][Path: 0x02 0x01 0x00][Value: len-prefixed]
//
// # Limits
//
// Decoders reject length prefixes above DefaultMaxAllocation, collections
// above MaxCollectionCount and nesting beyond MaxNodeDepth or MaxValueDepth.
// Any violation surfaces as a *ProtocolError, which is fatal for the
// connection.
package protocol
