package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/proxkey/proxkey-go/pkg/keystore"
)

// DefaultTimeout is the session lifetime (300000 ms).
const DefaultTimeout = 300 * time.Second

// Config configures a Manager.
type Config struct {
	// Timeout is the session lifetime. Zero means DefaultTimeout.
	Timeout time.Duration

	// Now returns the current time. Nil means time.Now.
	Now func() time.Time

	// Logger for operational messages. Nil means slog.Default().
	Logger *slog.Logger
}

// Manager holds the pairing key and the live session key for one side.
// It never initiates network activity.
type Manager struct {
	mu      sync.Mutex
	vault   *keystore.Vault
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	pairing *keystore.PairingKeyMaterial
	current *keystore.SessionKey
}

// NewManager creates a session manager backed by vault.
func NewManager(vault *keystore.Vault, cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		vault:   vault,
		timeout: cfg.Timeout,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
}

// Timeout returns the configured session lifetime.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// HasPairingKey reports whether pairing material is available, loading it
// from the store on first use. Storage errors count as absent.
func (m *Manager) HasPairingKey() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadPairingLocked() != nil
}

// PairingKey returns a copy of the pairing material.
func (m *Manager) PairingKey() (*keystore.PairingKeyMaterial, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk := m.loadPairingLocked()
	if pk == nil {
		return nil, false
	}
	cp := *pk
	cp.PairingKey = append([]byte(nil), pk.PairingKey...)
	return &cp, true
}

// ReloadPairing drops the cached pairing material so the next access reads
// the store again. Used after re-pairing or provisioning.
func (m *Manager) ReloadPairing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairing = nil
}

func (m *Manager) loadPairingLocked() *keystore.PairingKeyMaterial {
	if m.pairing != nil {
		return m.pairing
	}
	pk, err := m.vault.LoadPairing()
	if err != nil {
		if !errors.Is(err, keystore.ErrNotFound) {
			m.logger.Warn("pairing data unreadable", "error", err)
		}
		return nil
	}
	m.pairing = pk
	return pk
}

// CreateSession activates a session with the given key. Returns false if the
// key is not SessionKeySize bytes.
func (m *Manager) CreateSession(key []byte) bool {
	if len(key) != keystore.SessionKeySize {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := &keystore.SessionKey{
		Key:           append([]byte(nil), key...),
		EstablishedAt: m.now(),
		Active:        true,
	}
	if err := m.vault.SaveSession(s); err != nil {
		// The in-memory session still authorizes this connection.
		m.logger.Warn("failed to persist session", "error", err)
	}
	m.current = s
	return true
}

// IsValid reports whether a session is active and younger than the timeout.
// An expired session is cleared from memory and from the store.
func (m *Manager) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validLocked()
}

func (m *Manager) validLocked() bool {
	if m.current == nil || !m.current.Active {
		return false
	}
	if m.now().Sub(m.current.EstablishedAt) < m.timeout {
		return true
	}
	m.logger.Info("session expired", "established_at", m.current.EstablishedAt)
	m.clearLocked()
	return false
}

// SessionKey returns a copy of the session key while the session is valid.
func (m *Manager) SessionKey() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.validLocked() {
		return nil, false
	}
	return append([]byte(nil), m.current.Key...), true
}

// EstablishedAt returns when the current session was established.
func (m *Manager) EstablishedAt() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return time.Time{}, false
	}
	return m.current.EstablishedAt, true
}

// Restore loads a persisted session and reports whether it is still valid.
func (m *Manager) Restore() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.vault.LoadSession()
	if err != nil {
		return false
	}
	m.current = s
	return m.validLocked()
}

// Clear destroys the session in memory and in the store.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

func (m *Manager) clearLocked() {
	m.current = nil
	if err := m.vault.RemoveSession(); err != nil {
		m.logger.Warn("failed to remove session", "error", err)
	}
}
