// Package keystore provides durable, namespaced storage for key material.
//
// The Store interface is a minimal key-value abstraction (put, get, remove,
// exists) with in-memory and file-backed implementations. Vault layers typed
// records on top of a Store: the pairing key, the live session key and the
// vehicle key. Records are CBOR-encoded with integer keys.
//
// Read failures are reported as errors, and callers treat any error from a
// Vault load as "no data", which forces the pairing or session flow to run
// again. A vehicle key whose stored SHA-256 hash does not match is removed
// rather than returned.
package keystore
