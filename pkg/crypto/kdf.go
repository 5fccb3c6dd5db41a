package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MaxHKDFLength is the largest output HKDF-SHA256 can produce (255 * HashLen).
const MaxHKDFLength = 255 * sha256.Size

// HKDFSHA256 derives key material using HKDF-SHA256 (RFC 5869).
// An empty salt is treated as HashLen zero bytes.
func HKDFSHA256(salt, ikm, info []byte, length int) ([]byte, error) {
	if length <= 0 || length > MaxHKDFLength {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	reader := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}
