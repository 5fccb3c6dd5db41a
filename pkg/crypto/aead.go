package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// AES-GCM parameters.
const (
	// NonceSize is the GCM nonce size in bytes.
	NonceSize = 12

	// TagSize is the GCM authentication tag size in bytes.
	TagSize = 16
)

func newGCM(key []byte) (cipher.AEAD, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// AESGCMSeal encrypts plaintext and returns ciphertext||tag.
func AESGCMSeal(key, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidNonceSize, len(nonce))
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// AESGCMOpen authenticates and decrypts ciphertext||tag.
// Any failure returns a nil plaintext.
func AESGCMOpen(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidNonceSize, len(nonce))
	}
	if len(ciphertext) < TagSize {
		return nil, ErrAuthFailure
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}
