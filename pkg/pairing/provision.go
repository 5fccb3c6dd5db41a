package pairing

import (
	"context"
	"fmt"
	"time"

	"github.com/proxkey/proxkey-go/pkg/keystore"
)

// RecordFetcher returns the stored pairing of a vehicle.
// HTTPAuthority implements it.
type RecordFetcher interface {
	FetchPairingRecord(ctx context.Context, vehicleID string) (*PairingRecord, error)
}

// ProvisionAnchor fetches the pairing of vehicleID and stores it in the
// Anchor's vault.
func ProvisionAnchor(ctx context.Context, src RecordFetcher, vault *keystore.Vault, vehicleID string) (*keystore.PairingKeyMaterial, error) {
	rec, err := src.FetchPairingRecord(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("fetch pairing record: %w", err)
	}
	pk, err := PairingFromRecord(rec, vehicleID)
	if err != nil {
		return nil, err
	}
	if err := vault.SavePairing(pk); err != nil {
		return nil, fmt.Errorf("store pairing key: %w", err)
	}
	return pk, nil
}

// PairingFromRecord checks rec against vehicleID and decodes its key.
func PairingFromRecord(rec *PairingRecord, vehicleID string) (*keystore.PairingKeyMaterial, error) {
	if rec.VehicleID != vehicleID {
		return nil, fmt.Errorf("%w: record is for vehicle %q", ErrInvalidResponse, rec.VehicleID)
	}
	if rec.PairingID == "" {
		return nil, fmt.Errorf("%w: missing pairing_id", ErrInvalidResponse)
	}
	key, err := decodeField("pairing_key_b64", rec.PairingKeyB64)
	if err != nil {
		return nil, err
	}
	if len(key) != keystore.PairingKeySize {
		return nil, fmt.Errorf("%w: pairing key is %d bytes", ErrInvalidResponse, len(key))
	}

	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return &keystore.PairingKeyMaterial{
		PairingID:  rec.PairingID,
		PairingKey: key,
		CreatedAt:  created.UTC(),
	}, nil
}
