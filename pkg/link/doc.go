// Package link provides the short-range transport between an Anchor and a
// Tag.
//
// A link carries opaque messages (command tokens) between exactly two
// endpoints. Connection lifecycle and inbound messages are reported as
// Event values on a channel owned by the consumer, so state changes happen
// on the consumer's own goroutine rather than in transport callbacks.
//
// # Implementations
//
//   - Pipe: in-memory connected pair, used by tests and single-process demos
//   - TCP: length-prefixed frames over TCP for the development setup
//
// # Framing
//
// TCP frames use a 4-byte big-endian length prefix:
//
//	┌──────────────┬────────────────────┐
//	│ length (4B)  │ payload (length B) │
//	└──────────────┴────────────────────┘
//
// Payloads are limited to DefaultMaxFrameSize unless configured otherwise.
package link
