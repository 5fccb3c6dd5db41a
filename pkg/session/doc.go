// Package session manages the short-lived session key each side holds after a
// successful key exchange.
//
// Anchor and Tag run independent Manager instances. Both derive the same
// session key from the shared pairing key and the nonces exchanged during
// key exchange (see DeriveSessionKey), so no key ever crosses the link.
//
// Validity is evaluated lazily: IsValid compares the establishment time with
// the current clock reading and clears an expired session as a side effect.
// There is no background expiry timer.
//
// # Lifecycle
//
// The Anchor clears its session whenever the link drops; a new key exchange
// is required after every reconnect. The Tag keeps its session across link
// drops so it can resume without re-pairing, and only discards it on expiry
// or explicit Clear.
package session
