package crypto

import "errors"

// Crypto errors.
var (
	// ErrAuthFailure indicates an AEAD tag mismatch. No plaintext is returned.
	ErrAuthFailure = errors.New("authentication failed")

	// ErrInvalidPublicKey indicates a malformed or non-P-256 public key.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidKeySize indicates a symmetric key of unsupported length.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidNonceSize indicates a nonce that is not NonceSize bytes.
	ErrInvalidNonceSize = errors.New("invalid nonce size")

	// ErrInvalidLength indicates an HKDF output length out of range.
	ErrInvalidLength = errors.New("invalid output length")
)
