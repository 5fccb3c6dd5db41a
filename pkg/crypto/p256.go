package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/x509"
	"fmt"
)

// SharedSecretSize is the size of a P-256 ECDH shared secret.
const SharedSecretSize = 32

// KeyPair is an ephemeral P-256 key pair used for key agreement.
type KeyPair struct {
	private *ecdh.PrivateKey
}

// GenerateKeyPair generates a new P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDH key: %w", err)
	}
	return &KeyPair{private: priv}, nil
}

// PublicKeyDER exports the public key as DER-encoded SubjectPublicKeyInfo.
func (kp *KeyPair) PublicKeyDER() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(kp.private.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return der, nil
}

// PublicKeyBytes returns the uncompressed SEC1 public key (65 bytes).
func (kp *KeyPair) PublicKeyBytes() []byte {
	return kp.private.PublicKey().Bytes()
}

// ParsePublicKeyDER parses a DER SubjectPublicKeyInfo holding a P-256 key.
func ParsePublicKeyDER(der []byte) (*ecdh.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	var key *ecdh.PublicKey
	switch k := pub.(type) {
	case *ecdh.PublicKey:
		key = k
	case interface{ ECDH() (*ecdh.PublicKey, error) }:
		key, err = k.ECDH()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidPublicKey, pub)
	}

	if key.Curve() != ecdh.P256() {
		return nil, fmt.Errorf("%w: not a P-256 key", ErrInvalidPublicKey)
	}
	return key, nil
}

// ECDH computes the shared secret between the local key pair and a peer
// public key given as DER SubjectPublicKeyInfo.
func ECDH(own *KeyPair, peerPublicDER []byte) ([]byte, error) {
	peer, err := ParsePublicKeyDER(peerPublicDER)
	if err != nil {
		return nil, err
	}
	secret, err := own.private.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("ecdh failed: %w", err)
	}
	return secret, nil
}
