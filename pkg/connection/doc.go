// Package connection keeps the Tag's link to its Anchor alive.
//
// When the link drops, the Tag keeps its pairing and session material and
// redials with exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Doubling: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds, repeated until a dial succeeds
//  4. Reset to 1s after a successful dial
//
// Each delay gets up to 25% random jitter:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// A dial counts as successful once the link reports the connection. The
// key exchange that follows is not part of the success criterion.
package connection
