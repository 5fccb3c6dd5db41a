package keystore

import "errors"

// Store errors.
var (
	// ErrNotFound indicates no value exists for the namespace and key.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRecord indicates a stored record could not be decoded or has
	// an unexpected shape.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrIntegrity indicates a stored integrity hash did not match its key.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrInvalidName indicates an empty namespace or key.
	ErrInvalidName = errors.New("invalid namespace or key")
)

// Store is a durable namespaced key-value store.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put stores value under (namespace, key), replacing any previous value.
	Put(namespace, key string, value []byte) error

	// Get returns the value stored under (namespace, key).
	// Returns ErrNotFound if absent.
	Get(namespace, key string) ([]byte, error)

	// Remove deletes (namespace, key). Removing an absent key is not an error.
	Remove(namespace, key string) error

	// Exists reports whether (namespace, key) holds a value.
	Exists(namespace, key string) bool
}

func validName(namespace, key string) error {
	if namespace == "" || key == "" {
		return ErrInvalidName
	}
	return nil
}
