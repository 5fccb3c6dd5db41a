package session

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSessionKey(t *testing.T) {
	pairingKey := bytes.Repeat([]byte{0x42}, 16)
	anchorNonce := bytes.Repeat([]byte{0xA0}, NonceSize)
	tagNonce := bytes.Repeat([]byte{0x7A}, NonceSize)

	k1, err := DeriveSessionKey(pairingKey, anchorNonce, tagNonce)
	require.NoError(t, err)
	k2, err := DeriveSessionKey(pairingKey, anchorNonce, tagNonce)
	require.NoError(t, err)

	assert.Len(t, k1, 16)
	assert.Equal(t, k1, k2, "both sides derive identical keys")
	assert.NotEqual(t, pairingKey, k1, "session key must not be the raw pairing key")

	other, err := DeriveSessionKey(pairingKey, bytes.Repeat([]byte{0xA1}, NonceSize), tagNonce)
	require.NoError(t, err)
	assert.NotEqual(t, k1, other, "fresh nonce yields a fresh key")

	bare, err := DeriveSessionKey(pairingKey, anchorNonce, nil)
	require.NoError(t, err)
	assert.NotEqual(t, k1, bare)
}

func TestDeriveSessionKeyValidation(t *testing.T) {
	nonce := make([]byte, NonceSize)

	_, err := DeriveSessionKey(make([]byte, 32), nonce, nonce)
	assert.Error(t, err)

	_, err = DeriveSessionKey(make([]byte, 16), nil, nonce)
	assert.ErrorIs(t, err, ErrInvalidNonce)

	_, err = DeriveSessionKey(make([]byte, 16), nonce, make([]byte, 4))
	assert.ErrorIs(t, err, ErrInvalidNonce)
}

func TestConfirmTag(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 16)
	an := bytes.Repeat([]byte{2}, NonceSize)
	tn := bytes.Repeat([]byte{3}, NonceSize)

	tag := ConfirmTag(key, an, tn)
	assert.True(t, VerifyConfirm(key, an, tn, tag))

	wrongKey := bytes.Repeat([]byte{9}, 16)
	assert.False(t, VerifyConfirm(wrongKey, an, tn, tag))

	tag[0] ^= 1
	assert.False(t, VerifyConfirm(key, an, tn, tag))
}

func TestNewNonce(t *testing.T) {
	a, err := NewNonce()
	require.NoError(t, err)
	b, err := NewNonce()
	require.NoError(t, err)
	assert.Len(t, a, NonceSize)
	assert.NotEqual(t, a, b)
}
