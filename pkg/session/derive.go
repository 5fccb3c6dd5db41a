package session

import (
	"errors"

	"github.com/proxkey/proxkey-go/pkg/crypto"
	"github.com/proxkey/proxkey-go/pkg/keystore"
)

// Key exchange parameters.
const (
	// NonceSize is the size of the nonce each side contributes.
	NonceSize = 16

	// sessionKeyInfo is the HKDF info for session key derivation.
	sessionKeyInfo = "proxkey-session-key"

	// confirmLabel prefixes the key confirmation MAC input.
	confirmLabel = "proxkey-session-confirm"
)

// ErrInvalidNonce indicates a key exchange nonce of the wrong size.
var ErrInvalidNonce = errors.New("invalid nonce")

// NewNonce returns a fresh key exchange nonce.
func NewNonce() ([]byte, error) {
	return crypto.RandomBytes(NonceSize)
}

// DeriveSessionKey derives a session key from the pairing key and both
// sides' nonces: HKDF(salt = anchorNonce || tagNonce, ikm = pairingKey).
// A missing tag nonce is allowed for peers that send a bare
// KEY_EXCHANGE_INIT; the anchor nonce is always fresh.
func DeriveSessionKey(pairingKey, anchorNonce, tagNonce []byte) ([]byte, error) {
	if len(pairingKey) != keystore.PairingKeySize {
		return nil, crypto.ErrInvalidKeySize
	}
	if len(anchorNonce) != NonceSize {
		return nil, ErrInvalidNonce
	}
	if len(tagNonce) != 0 && len(tagNonce) != NonceSize {
		return nil, ErrInvalidNonce
	}

	salt := make([]byte, 0, len(anchorNonce)+len(tagNonce))
	salt = append(salt, anchorNonce...)
	salt = append(salt, tagNonce...)
	return crypto.HKDFSHA256(salt, pairingKey, []byte(sessionKeyInfo), keystore.SessionKeySize)
}

// ConfirmTag computes the key confirmation value the Tag sends with
// SESSION_ESTABLISHED.
func ConfirmTag(sessionKey, anchorNonce, tagNonce []byte) []byte {
	return crypto.HMACSHA256(sessionKey, []byte(confirmLabel), anchorNonce, tagNonce)
}

// VerifyConfirm checks a key confirmation value in constant time.
func VerifyConfirm(sessionKey, anchorNonce, tagNonce, tag []byte) bool {
	return crypto.Equal(ConfirmTag(sessionKey, anchorNonce, tagNonce), tag)
}
