package keystore

import (
	"errors"
	"fmt"

	"github.com/proxkey/proxkey-go/pkg/crypto"
)

// Vault stores typed key records for one role on top of a Store.
type Vault struct {
	store Store
	ns    Namespaces
}

// NewVault creates a vault over store using the given namespace layout.
func NewVault(store Store, ns Namespaces) *Vault {
	return &Vault{store: store, ns: ns}
}

// Namespaces returns the vault's namespace layout.
func (v *Vault) Namespaces() Namespaces {
	return v.ns
}

func (v *Vault) put(namespace, key string, rec any) error {
	data, err := encMode.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := v.store.Put(namespace, key, data); err != nil {
		return fmt.Errorf("store %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (v *Vault) get(namespace, key string, rec any) error {
	data, err := v.store.Get(namespace, key)
	if err != nil {
		return err
	}
	if err := decMode.Unmarshal(data, rec); err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrInvalidRecord, namespace, key, err)
	}
	return nil
}

// SavePairing persists pairing material.
func (v *Vault) SavePairing(pk *PairingKeyMaterial) error {
	if pk == nil || pk.PairingID == "" || len(pk.PairingKey) != PairingKeySize {
		return ErrInvalidRecord
	}
	return v.put(v.ns.Keys, KeyPairingData, pk)
}

// LoadPairing loads pairing material. Returns ErrNotFound if none is stored.
func (v *Vault) LoadPairing() (*PairingKeyMaterial, error) {
	var pk PairingKeyMaterial
	if err := v.get(v.ns.Keys, KeyPairingData, &pk); err != nil {
		return nil, err
	}
	if pk.PairingID == "" || len(pk.PairingKey) != PairingKeySize {
		return nil, ErrInvalidRecord
	}
	return &pk, nil
}

// RemovePairing deletes pairing material.
func (v *Vault) RemovePairing() error {
	return v.store.Remove(v.ns.Keys, KeyPairingData)
}

// SaveSession persists a session key.
func (v *Vault) SaveSession(s *SessionKey) error {
	if s == nil || len(s.Key) != SessionKeySize {
		return ErrInvalidRecord
	}
	return v.put(v.ns.Session, KeySession, s)
}

// LoadSession loads the session key. Returns ErrNotFound if none is stored.
func (v *Vault) LoadSession() (*SessionKey, error) {
	var s SessionKey
	if err := v.get(v.ns.Session, KeySession, &s); err != nil {
		return nil, err
	}
	if len(s.Key) != SessionKeySize {
		return nil, ErrInvalidRecord
	}
	return &s, nil
}

// RemoveSession deletes the session key.
func (v *Vault) RemoveSession() error {
	return v.store.Remove(v.ns.Session, KeySession)
}

// SaveVehicleKey stores a vehicle key together with its SHA-256 hash.
func (v *Vault) SaveVehicleKey(vk *VehicleKey) error {
	if vk == nil || len(vk.Key) != VehicleKeySize {
		return ErrInvalidRecord
	}
	sum := crypto.SHA256(vk.Key)
	rec := *vk
	rec.Hash = sum[:]
	return v.put(v.ns.Keys, KeyVehicleKey, &rec)
}

// LoadVehicleKey loads the vehicle key and verifies its hash.
// A hash mismatch removes the stored key and returns ErrIntegrity.
func (v *Vault) LoadVehicleKey() (*VehicleKey, error) {
	var vk VehicleKey
	err := v.get(v.ns.Keys, KeyVehicleKey, &vk)
	if errors.Is(err, ErrInvalidRecord) {
		_ = v.RemoveVehicleKey()
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	sum := crypto.SHA256(vk.Key)
	if len(vk.Key) != VehicleKeySize || !crypto.Equal(sum[:], vk.Hash) {
		_ = v.RemoveVehicleKey()
		return nil, ErrIntegrity
	}
	return &vk, nil
}

// RemoveVehicleKey deletes the vehicle key.
func (v *Vault) RemoveVehicleKey() error {
	return v.store.Remove(v.ns.Keys, KeyVehicleKey)
}

// HasVehicleKey reports whether a vehicle key record exists.
// It does not verify the hash.
func (v *Vault) HasVehicleKey() bool {
	return v.store.Exists(v.ns.Keys, KeyVehicleKey)
}
