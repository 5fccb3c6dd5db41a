// Package protocol defines the text command vocabulary exchanged between
// Anchor and Tag.
//
// A message is an ASCII command token, optionally followed by ':' and a
// payload, for example "UNLOCK_REQUEST" or "DIST:1.42". There is no length
// prefix, checksum or sequence number; framing and ordering come from the
// link.
package protocol
