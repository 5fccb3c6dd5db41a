package keystore

import "time"

// Key sizes.
const (
	// PairingKeySize is the size of the long-lived pairing key.
	PairingKeySize = 16

	// SessionKeySize is the size of a session key.
	SessionKeySize = 16

	// VehicleKeySize is the size of the vehicle key.
	VehicleKeySize = 32
)

// Record keys within a namespace.
const (
	KeyPairingData = "pairing_data"
	KeySession     = "session"
	KeyVehicleKey  = "vehicle_key"
)

// Namespaces names the two namespaces a role keeps its records in.
type Namespaces struct {
	// Keys holds long-lived material (pairing data, vehicle key).
	Keys string

	// Session holds the live session key.
	Session string
}

// Namespace layouts for each role.
var (
	AnchorNamespaces = Namespaces{Keys: "anchor-keys", Session: "anchor-session"}
	TagNamespaces    = Namespaces{Keys: "car-keys", Session: "car-session"}
)

// PairingKeyMaterial is the shared secret established through the authority.
type PairingKeyMaterial struct {
	PairingID  string    `cbor:"1,keyasint"`
	PairingKey []byte    `cbor:"2,keyasint"`
	CreatedAt  time.Time `cbor:"3,keyasint"`
}

// SessionKey is a short-lived key derived after a key exchange.
type SessionKey struct {
	Key           []byte    `cbor:"1,keyasint"`
	EstablishedAt time.Time `cbor:"2,keyasint"`
	Active        bool      `cbor:"3,keyasint"`
}

// VehicleKey is a key issued by the authority for a VIN and device.
// Hash is the SHA-256 of Key, stored alongside it.
type VehicleKey struct {
	Key      []byte `cbor:"1,keyasint"`
	Hash     []byte `cbor:"2,keyasint"`
	VIN      string `cbor:"3,keyasint,omitempty"`
	DeviceID string `cbor:"4,keyasint,omitempty"`
}
