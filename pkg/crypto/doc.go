// Package crypto provides the cryptographic primitives used by pairing,
// session establishment and the authority.
//
// Key agreement uses P-256 ECDH with public keys exchanged as DER-encoded
// SubjectPublicKeyInfo. Key derivation is HKDF-SHA256 (RFC 5869). Bulk
// encryption is AES-GCM with 12-byte nonces and 16-byte tags. All randomness
// comes from crypto/rand.
package crypto
