package persistence

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAnchorStateStore(t *testing.T) {
	t.Run("LoadNonExistent", func(t *testing.T) {
		store := NewAnchorStateStore(filepath.Join(t.TempDir(), "nonexistent.json"))

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got != nil {
			t.Errorf("Load() = %v, want nil for non-existent file", got)
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		store := NewAnchorStateStore(filepath.Join(t.TempDir(), "nested", "anchor.json"))
		unlockedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		state := &AnchorState{
			Lock: LockSnapshot{
				Locked:     false,
				UnlockedAt: unlockedAt,
			},
			Counters:      AnchorCounters{Connections: 4, KeyExchanges: 3, Unlocks: 2, Denials: 1},
			LastDistanceM: 1.25,
		}
		if err := store.Save(state); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got.Version != StateVersion {
			t.Errorf("Version = %d, want %d", got.Version, StateVersion)
		}
		if got.SavedAt.IsZero() {
			t.Error("SavedAt not set")
		}
		if got.Lock.Locked || !got.Lock.UnlockedAt.Equal(unlockedAt) {
			t.Errorf("Lock = %+v", got.Lock)
		}
		if got.Counters != state.Counters {
			t.Errorf("Counters = %+v, want %+v", got.Counters, state.Counters)
		}
		if got.LastDistanceM != 1.25 {
			t.Errorf("LastDistanceM = %v, want 1.25", got.LastDistanceM)
		}
	})

	t.Run("Update", func(t *testing.T) {
		store := NewAnchorStateStore(filepath.Join(t.TempDir(), "anchor.json"))

		for i := 0; i < 3; i++ {
			if err := store.Update(func(s *AnchorState) { s.Counters.Unlocks++ }); err != nil {
				t.Fatalf("Update() error = %v", err)
			}
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got.Counters.Unlocks != 3 {
			t.Errorf("Unlocks = %d, want 3", got.Counters.Unlocks)
		}
		if !got.Lock.Locked {
			t.Error("a fresh state starts locked")
		}
	})

	t.Run("NewerVersion", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "anchor.json")
		if err := os.WriteFile(path, []byte(`{"version": 99}`), 0o644); err != nil {
			t.Fatal(err)
		}

		_, err := NewAnchorStateStore(path).Load()
		if !errors.Is(err, ErrUnsupportedVersion) {
			t.Errorf("Load() error = %v, want ErrUnsupportedVersion", err)
		}
	})

	t.Run("Corrupt", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "anchor.json")
		if err := os.WriteFile(path, []byte(`{`), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewAnchorStateStore(path).Load(); err == nil {
			t.Error("Load() should fail on a corrupt file")
		}
	})

	t.Run("Clear", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "anchor.json")
		store := NewAnchorStateStore(path)

		if err := store.Save(&AnchorState{}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if err := store.Clear(); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("state file still exists after Clear()")
		}
		if err := store.Clear(); err != nil {
			t.Errorf("second Clear() error = %v", err)
		}
	})
}

func TestTagStateStore(t *testing.T) {
	t.Run("SaveAndLoad", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tag.json")
		store := NewTagStateStore(path)
		seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		err := store.Update(func(s *TagState) {
			s.VehicleID = "VIN123456"
			s.AnchorAddr = "192.168.1.20:7400"
			s.RangingAddr = "192.168.1.20:7401"
			s.LastConnected = seen
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		got, err := NewTagStateStore(path).Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got.VehicleID != "VIN123456" || got.AnchorAddr != "192.168.1.20:7400" || got.RangingAddr != "192.168.1.20:7401" {
			t.Errorf("state = %+v", got)
		}
		if !got.LastConnected.Equal(seen) {
			t.Errorf("LastConnected = %v, want %v", got.LastConnected, seen)
		}

		if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
			t.Error("temporary file left behind")
		}
	})

	t.Run("LoadNonExistent", func(t *testing.T) {
		got, err := NewTagStateStore(filepath.Join(t.TempDir(), "tag.json")).Load()
		if err != nil || got != nil {
			t.Errorf("Load() = %v, %v; want nil, nil", got, err)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		store := NewTagStateStore(filepath.Join(t.TempDir(), "tag.json"))
		if err := store.Save(&TagState{AnchorAddr: "x:1"}); err != nil {
			t.Fatal(err)
		}
		if err := store.Clear(); err != nil {
			t.Fatal(err)
		}
		got, err := store.Load()
		if err != nil || got != nil {
			t.Errorf("Load() after Clear = %v, %v", got, err)
		}
	})
}
