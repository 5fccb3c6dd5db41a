package pairing

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/proxkey/proxkey-go/pkg/crypto"
	"github.com/proxkey/proxkey-go/pkg/keystore"
	"github.com/proxkey/proxkey-go/pkg/log"
)

// Config configures a Pairer.
type Config struct {
	// Authority issues pairing and vehicle keys. Required.
	Authority Authority

	// Vault stores the resulting key material. Required.
	Vault *keystore.Vault

	// VehicleID is the vehicle this Tag pairs with.
	VehicleID string

	// Now returns the current time. Nil means time.Now.
	Now func() time.Time

	// Emitter captures pairing transitions (optional).
	Emitter *log.Emitter

	// Logger for operational messages. Nil uses slog.Default().
	Logger *slog.Logger
}

// Pairer runs the Tag side of pairing. One pairing runs at a time.
type Pairer struct {
	authority Authority
	vault     *keystore.Vault
	vehicleID string
	now       func() time.Time
	emitter   *log.Emitter
	logger    *slog.Logger

	pairing sync.Mutex
}

// NewPairer creates a Pairer.
func NewPairer(cfg Config) (*Pairer, error) {
	if cfg.Authority == nil {
		return nil, errors.New("pairing: authority is required")
	}
	if cfg.Vault == nil {
		return nil, errors.New("pairing: vault is required")
	}
	if cfg.VehicleID == "" {
		return nil, errors.New("pairing: vehicle ID is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pairer{
		authority: cfg.Authority,
		vault:     cfg.Vault,
		vehicleID: cfg.VehicleID,
		now:       cfg.Now,
		emitter:   cfg.Emitter,
		logger:    cfg.Logger,
	}, nil
}

// VehicleID returns the vehicle this Pairer pairs with.
func (p *Pairer) VehicleID() string {
	return p.vehicleID
}

// Pair runs the key agreement with the authority and stores the pairing
// key. On any failure nothing is stored.
func (p *Pairer) Pair(ctx context.Context) (*keystore.PairingKeyMaterial, error) {
	if !p.pairing.TryLock() {
		return nil, ErrInProgress
	}
	defer p.pairing.Unlock()

	pk, err := p.pair(ctx)
	if err != nil {
		p.logger.Warn("pairing: failed", "vehicle", p.vehicleID, "error", err)
		p.emitter.Error(log.LayerSession, err, "pairing")
		return nil, err
	}

	p.logger.Info("pairing: paired", "vehicle", p.vehicleID, "pairing_id", pk.PairingID)
	p.emitter.State(log.LayerSession, log.StateEntityPairing, "UNPAIRED", "PAIRED", pk.PairingID)
	return pk, nil
}

func (p *Pairer) pair(ctx context.Context) (*keystore.PairingKeyMaterial, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	pub, err := kp.PublicKeyDER()
	if err != nil {
		return nil, err
	}

	resp, err := p.authority.RequestPairing(ctx, &PairingRequest{
		VehicleID:    p.vehicleID,
		PublicKeyB64: base64.StdEncoding.EncodeToString(pub),
	})
	if err != nil {
		return nil, fmt.Errorf("request pairing: %w", err)
	}
	if resp.PairingID == "" {
		return nil, fmt.Errorf("%w: missing pairing_id", ErrInvalidResponse)
	}

	serverPub, err := decodeField("server_public_key_b64", resp.ServerPublicKeyB64)
	if err != nil {
		return nil, err
	}
	sealed, err := decodeField("encrypted_pairing_key_b64", resp.EncryptedPairingKeyB64)
	if err != nil {
		return nil, err
	}
	nonce, err := decodeField("nonce_b64", resp.NonceB64)
	if err != nil {
		return nil, err
	}
	if len(nonce) != crypto.NonceSize {
		return nil, fmt.Errorf("%w: nonce is %d bytes", ErrInvalidResponse, len(nonce))
	}

	shared, err := crypto.ECDH(kp, serverPub)
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}
	kek, err := crypto.HKDFSHA256(nil, shared, []byte(KEKInfo), KEKSize)
	if err != nil {
		return nil, fmt.Errorf("derive kek: %w", err)
	}
	key, err := crypto.AESGCMOpen(kek, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap pairing key: %w", err)
	}
	if len(key) != keystore.PairingKeySize {
		return nil, fmt.Errorf("%w: pairing key is %d bytes", ErrInvalidResponse, len(key))
	}

	pk := &keystore.PairingKeyMaterial{
		PairingID:  resp.PairingID,
		PairingKey: key,
		CreatedAt:  p.now().UTC(),
	}
	if err := p.vault.SavePairing(pk); err != nil {
		return nil, fmt.Errorf("store pairing key: %w", err)
	}
	return pk, nil
}

// CheckStatus asks the authority whether the vehicle is paired.
func (p *Pairer) CheckStatus(ctx context.Context) (*Status, error) {
	st, err := p.authority.PairingStatus(ctx, p.vehicleID)
	if err != nil {
		return nil, fmt.Errorf("pairing status: %w", err)
	}
	return st, nil
}

// WaitForPairing polls CheckStatus every interval until the authority
// reports the vehicle paired or ctx ends. Request errors are logged and
// retried.
func (p *Pairer) WaitForPairing(ctx context.Context, interval time.Duration) (*Status, error) {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := p.CheckStatus(ctx)
		switch {
		case err != nil:
			p.logger.Debug("pairing: status check failed", "error", err)
		case st.Paired:
			return st, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// RequestVehicleKey asks the authority for a vehicle key and stores it
// with its SHA-256 hash.
func (p *Pairer) RequestVehicleKey(ctx context.Context, vin, deviceID string) (*keystore.VehicleKey, error) {
	vin, err := NormalizeVIN(vin)
	if err != nil {
		return nil, err
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, ErrInvalidDeviceID
	}

	resp, err := p.authority.GenerateVehicleKey(ctx, &VehicleKeyRequest{VIN: vin, DeviceID: deviceID})
	if err != nil {
		return nil, fmt.Errorf("generate vehicle key: %w", err)
	}
	key, err := decodeField("vehicle_key", resp.VehicleKeyB64)
	if err != nil {
		return nil, err
	}
	if len(key) != keystore.VehicleKeySize {
		return nil, fmt.Errorf("%w: vehicle key is %d bytes", ErrInvalidResponse, len(key))
	}

	vk := &keystore.VehicleKey{Key: key, VIN: vin, DeviceID: deviceID}
	if err := p.vault.SaveVehicleKey(vk); err != nil {
		return nil, fmt.Errorf("store vehicle key: %w", err)
	}
	p.logger.Info("pairing: vehicle key stored", "vin", vin)
	return p.vault.LoadVehicleKey()
}

// LoadVehicleKey returns the stored vehicle key after checking its hash.
// A mismatch removes the key and returns keystore.ErrIntegrity.
func (p *Pairer) LoadVehicleKey() (*keystore.VehicleKey, error) {
	vk, err := p.vault.LoadVehicleKey()
	if errors.Is(err, keystore.ErrIntegrity) {
		p.logger.Warn("pairing: vehicle key failed integrity check and was removed")
	}
	return vk, err
}

// IsPaired reports whether a pairing key is stored.
func (p *Pairer) IsPaired() bool {
	_, err := p.vault.LoadPairing()
	return err == nil
}

// PairingKey returns the stored pairing key material.
func (p *Pairer) PairingKey() (*keystore.PairingKeyMaterial, error) {
	pk, err := p.vault.LoadPairing()
	if errors.Is(err, keystore.ErrNotFound) {
		return nil, ErrNotPaired
	}
	return pk, err
}

// Unpair removes the pairing key, the session and the vehicle key.
func (p *Pairer) Unpair() error {
	errs := []error{
		ignoreNotFound(p.vault.RemovePairing()),
		ignoreNotFound(p.vault.RemoveSession()),
		ignoreNotFound(p.vault.RemoveVehicleKey()),
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	p.emitter.State(log.LayerSession, log.StateEntityPairing, "PAIRED", "UNPAIRED", "unpair")
	p.logger.Info("pairing: unpaired", "vehicle", p.vehicleID)
	return nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, keystore.ErrNotFound) {
		return nil
	}
	return err
}

func decodeField(name, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidResponse, name)
	}
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidResponse, name, err)
	}
	return b, nil
}
