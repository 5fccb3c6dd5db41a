// Package pairing bootstraps the shared pairing key between a Tag and a
// vehicle through the backend authority.
//
// The Tag generates an ephemeral P-256 key pair and submits its public key.
// The authority answers with its own ephemeral public key and the pairing
// key sealed under a key-encryption key both sides derive:
//
//	shared = ECDH(tag private, authority public)
//	kek    = HKDF-SHA256(salt = empty, ikm = shared, info = "owner-pairing-kek", 16)
//	key    = AES-128-GCM-Open(kek, nonce, encrypted_pairing_key)
//
// Nothing is persisted unless every step succeeds. The authority stores the
// same pairing key for the vehicle, from where the Anchor is provisioned.
//
// The package also requests and verifies the 32-byte vehicle key issued per
// VIN and device.
package pairing
