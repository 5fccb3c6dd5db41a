package authority

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a vehicle has no pairing.
var ErrNotFound = errors.New("vehicle not found")

// Pairing is the stored pairing of one vehicle.
type Pairing struct {
	VehicleID  string
	PairingID  string
	PairingKey []byte
	CreatedAt  time.Time
}

// VehicleKey is an issued vehicle key.
type VehicleKey struct {
	VIN       string
	DeviceID  string
	Key       []byte
	CreatedAt time.Time
}

// Store persists pairings and vehicle keys.
type Store interface {
	// SavePairing inserts or replaces the pairing of p.VehicleID.
	SavePairing(ctx context.Context, p *Pairing) error

	// GetPairing returns ErrNotFound if the vehicle is not paired.
	GetPairing(ctx context.Context, vehicleID string) (*Pairing, error)

	// ListPairings returns all pairings ordered by vehicle ID.
	ListPairings(ctx context.Context) ([]Pairing, error)

	// DeletePairing returns ErrNotFound if the vehicle is not paired.
	DeletePairing(ctx context.Context, vehicleID string) error

	// SaveVehicleKey inserts or replaces the key for a VIN and device.
	SaveVehicleKey(ctx context.Context, k *VehicleKey) error

	// GetVehicleKey returns ErrNotFound if no key was issued.
	GetVehicleKey(ctx context.Context, vin, deviceID string) (*VehicleKey, error)

	Close() error
}
