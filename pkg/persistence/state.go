package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// ErrUnsupportedVersion is returned when a state file is newer than this code.
var ErrUnsupportedVersion = errors.New("unsupported state version")

// AnchorState contains the runtime state of an Anchor.
type AnchorState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Lock is the lock state at the time of saving.
	Lock LockSnapshot `json:"lock"`

	// Counters accumulate across restarts.
	Counters AnchorCounters `json:"counters"`

	// LastDistanceM is the last distance reported by a Tag.
	LastDistanceM float64 `json:"last_distance_m,omitempty"`
}

// LockSnapshot captures the lock so an Anchor restarted while unlocked can
// relock immediately.
type LockSnapshot struct {
	Locked bool `json:"locked"`

	// UnlockedAt is when the last unlock was actuated.
	UnlockedAt time.Time `json:"unlocked_at,omitempty"`
}

// AnchorCounters counts protocol outcomes.
type AnchorCounters struct {
	Connections  uint64 `json:"connections"`
	KeyExchanges uint64 `json:"key_exchanges"`
	Unlocks      uint64 `json:"unlocks"`
	Denials      uint64 `json:"denials"`
}

// TagState contains the runtime state of a Tag.
type TagState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// VehicleID is the vehicle the cached addresses belong to.
	VehicleID string `json:"vehicle_id,omitempty"`

	// AnchorAddr is the last link address the Tag connected to.
	AnchorAddr string `json:"anchor_addr,omitempty"`

	// RangingAddr is the last Anchor radio address.
	RangingAddr string `json:"ranging_addr,omitempty"`

	// LastConnected is when the Tag last reached the Anchor.
	LastConnected time.Time `json:"last_connected,omitempty"`

	// LastDistanceM is the last smoothed distance.
	LastDistanceM float64 `json:"last_distance_m,omitempty"`
}

// AnchorStateStore manages persistence of Anchor state to a JSON file.
type AnchorStateStore struct {
	mu   sync.Mutex
	path string
}

// NewAnchorStateStore creates a new Anchor state store.
func NewAnchorStateStore(path string) *AnchorStateStore {
	return &AnchorStateStore{path: path}
}

// Save persists the Anchor state to disk.
func (s *AnchorStateStore) Save(state *AnchorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.Version = StateVersion
	state.SavedAt = time.Now()
	return writeJSON(s.path, state)
}

// Load reads the Anchor state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *AnchorStateStore) Load() (*AnchorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &AnchorState{}
	found, err := readJSON(s.path, state)
	if err != nil || !found {
		return nil, err
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, state.Version)
	}
	return state, nil
}

// Update loads the state (or an empty one), applies fn and saves the result.
func (s *AnchorStateStore) Update(fn func(*AnchorState)) error {
	state, err := s.Load()
	if err != nil {
		return err
	}
	if state == nil {
		state = &AnchorState{Lock: LockSnapshot{Locked: true}}
	}
	fn(state)
	return s.Save(state)
}

// Clear removes the state file.
func (s *AnchorStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.path)
}

// TagStateStore manages persistence of Tag state to a JSON file.
type TagStateStore struct {
	mu   sync.Mutex
	path string
}

// NewTagStateStore creates a new Tag state store.
func NewTagStateStore(path string) *TagStateStore {
	return &TagStateStore{path: path}
}

// Save persists the Tag state to disk.
func (s *TagStateStore) Save(state *TagState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.Version = StateVersion
	state.SavedAt = time.Now()
	return writeJSON(s.path, state)
}

// Load reads the Tag state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *TagStateStore) Load() (*TagState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &TagState{}
	found, err := readJSON(s.path, state)
	if err != nil || !found {
		return nil, err
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, state.Version)
	}
	return state, nil
}

// Update loads the state (or an empty one), applies fn and saves the result.
func (s *TagStateStore) Update(fn func(*TagState)) error {
	state, err := s.Load()
	if err != nil {
		return err
	}
	if state == nil {
		state = &TagState{}
	}
	fn(state)
	return s.Save(state)
}

// Clear removes the state file.
func (s *TagStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.path)
}

// writeJSON writes v next to path and renames it into place.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func removeFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
