package pairing

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/proxkey/proxkey-go/pkg/keystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	rec *PairingRecord
	err error
}

func (f fakeFetcher) FetchPairingRecord(ctx context.Context, vehicleID string) (*PairingRecord, error) {
	return f.rec, f.err
}

func testRecord() *PairingRecord {
	return &PairingRecord{
		VehicleID:     "VIN123456",
		PairingID:     "0011223344556677",
		PairingKeyB64: base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, keystore.PairingKeySize)),
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestProvisionAnchor(t *testing.T) {
	vault := keystore.NewVault(keystore.NewMemoryStore(), keystore.AnchorNamespaces)

	pk, err := ProvisionAnchor(context.Background(), fakeFetcher{rec: testRecord()}, vault, "VIN123456")
	require.NoError(t, err)
	assert.Equal(t, "0011223344556677", pk.PairingID)

	stored, err := vault.LoadPairing()
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x42}, 16), stored.PairingKey)
	assert.True(t, stored.CreatedAt.Equal(testRecord().CreatedAt))
}

func TestProvisionAnchorRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PairingRecord)
	}{
		{"other vehicle", func(r *PairingRecord) { r.VehicleID = "OTHER" }},
		{"no pairing id", func(r *PairingRecord) { r.PairingID = "" }},
		{"short key", func(r *PairingRecord) { r.PairingKeyB64 = base64.StdEncoding.EncodeToString(make([]byte, 8)) }},
		{"bad base64", func(r *PairingRecord) { r.PairingKeyB64 = "%%%" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testRecord()
			tt.mutate(rec)
			vault := keystore.NewVault(keystore.NewMemoryStore(), keystore.AnchorNamespaces)

			_, err := ProvisionAnchor(context.Background(), fakeFetcher{rec: rec}, vault, "VIN123456")
			assert.ErrorIs(t, err, ErrInvalidResponse)

			_, err = vault.LoadPairing()
			assert.ErrorIs(t, err, keystore.ErrNotFound)
		})
	}
}

func TestProvisionAnchorFetchError(t *testing.T) {
	vault := keystore.NewVault(keystore.NewMemoryStore(), keystore.AnchorNamespaces)
	notFound := &APIError{StatusCode: 404, Message: "Vehicle not found"}

	_, err := ProvisionAnchor(context.Background(), fakeFetcher{err: notFound}, vault, "VIN123456")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 404, apiErr.StatusCode)
}
