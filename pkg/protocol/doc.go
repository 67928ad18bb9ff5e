// Package protocol defines the host/native wire contract of the engine bridge.
//
// Two logical channels exist per embedded view:
//
//   - The command channel (host → native) carries method calls such as
//     "engine#create" or "engine#sendMessage" with a structured argument map.
//   - The event channel (native → host) carries tagged events such as
//     "onCreated", "onMessage" or "onBinaryChunk".
//
// # Requests
//
// Every command is modelled as a variant of the closed Request sum type. The
// native side decodes an incoming call with ParseRequest and hands it to
// Dispatch, which switches over every variant and calls the matching Handler
// method. Because Handler lists one method per variant, adding a request kind
// without implementing it is a compile error in every native handler.
//
// # Binary payloads
//
// Binary data travels inside the text-oriented argument maps as a
// BinaryEnvelope (base64 data plus size, compression and CRC32 metadata), or,
// above the single-message ceiling, as a sequence of Chunk maps tagged with
// "_chunk": true.
//
// # Frames
//
// When the channel crosses a process boundary (the websocket transport), each
// call, reply and event is framed with a 6-byte header:
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Frame Type  │ Flags        │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (4 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//
// Call and reply payloads carry a varint correlation id followed by a
// JSON-encoded body.
//
// # File Structure
//
//   - methods.go: channel method names
//   - request.go: Request variants and ParseRequest
//   - dispatch.go: Handler and the exhaustive Dispatch
//   - event.go: event discriminants and typed event accessors
//   - envelope.go: BinaryEnvelope and Chunk wire maps
//   - quality.go: quality settings map
//   - args.go: loose argument coercion
//   - frame.go, call.go: binary framing for the websocket transport
//   - encoder.go, decoder.go: primitive binary codec used by frames
package protocol
