package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// KEKInfo is the HKDF info string for the key-encryption key.
const KEKInfo = "owner-pairing-kek"

// KEKSize is the key-encryption key size (AES-128).
const KEKSize = 16

// DefaultCheckInterval is how often WaitForPairing polls the authority.
const DefaultCheckInterval = 10 * time.Second

// Authority endpoints.
const (
	PathPairing        = "/pairing"
	PathPairingStatus  = "/pairing-status/"
	PathGenerateKey    = "/generate-key"
	PathVehicles       = "/vehicles"
	PathVehicle        = "/vehicle/"
	PathVehiclePairing = "/pairing-key"
)

// Pairing errors.
var (
	// ErrInvalidVIN indicates a VIN that is not 17 valid characters.
	ErrInvalidVIN = errors.New("invalid VIN")

	// ErrInvalidDeviceID indicates an empty device ID.
	ErrInvalidDeviceID = errors.New("invalid device ID")

	// ErrInvalidResponse indicates an authority response that cannot be used.
	ErrInvalidResponse = errors.New("invalid authority response")

	// ErrInProgress indicates another pairing is already running.
	ErrInProgress = errors.New("pairing already in progress")

	// ErrNotPaired indicates no pairing key is stored.
	ErrNotPaired = errors.New("not paired")
)

// PairingRequest is the body of POST /pairing.
type PairingRequest struct {
	VehicleID    string `json:"vehicle_id"`
	PublicKeyB64 string `json:"vehicle_public_key_b64"`
}

// PairingResponse is the authority's answer to a pairing request.
type PairingResponse struct {
	PairingID              string `json:"pairing_id"`
	ServerPublicKeyB64     string `json:"server_public_key_b64"`
	EncryptedPairingKeyB64 string `json:"encrypted_pairing_key_b64"`
	NonceB64               string `json:"nonce_b64"`
}

// Status is the answer to GET /pairing-status/{vehicle_id}.
type Status struct {
	Paired    bool   `json:"paired"`
	VehicleID string `json:"vehicle_id"`
	PairingID string `json:"pairing_id,omitempty"`
	PairedAt  string `json:"paired_at,omitempty"`
	Message   string `json:"message,omitempty"`
}

// VehicleKeyRequest is the body of POST /generate-key.
type VehicleKeyRequest struct {
	VIN      string `json:"vin"`
	DeviceID string `json:"device_id"`
}

// VehicleKeyResponse carries the issued vehicle key.
type VehicleKeyResponse struct {
	VehicleKeyB64 string `json:"vehicle_key"`
}

// PairingRecord is the stored pairing of one vehicle, as served to Anchor
// provisioning by GET /vehicle/{vehicle_id}/pairing-key.
type PairingRecord struct {
	VehicleID     string    `json:"vehicle_id"`
	PairingID     string    `json:"pairing_id"`
	PairingKeyB64 string    `json:"pairing_key_b64"`
	CreatedAt     time.Time `json:"created_at"`
}

// ErrorResponse is the JSON error body returned by the authority.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Authority is the backend the Tag pairs through.
type Authority interface {
	RequestPairing(ctx context.Context, req *PairingRequest) (*PairingResponse, error)
	PairingStatus(ctx context.Context, vehicleID string) (*Status, error)
	GenerateVehicleKey(ctx context.Context, req *VehicleKeyRequest) (*VehicleKeyResponse, error)
}

// APIError is a non-2xx authority response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authority: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("authority: HTTP %d: %s", e.StatusCode, e.Message)
}
