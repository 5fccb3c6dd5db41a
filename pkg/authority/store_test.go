package authority

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreSaveAndGetPairing(t *testing.T) {
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &Pairing{
		VehicleID:  "VIN123456",
		PairingID:  "0011223344556677",
		PairingKey: bytes.Repeat([]byte{0xAB}, 16),
		CreatedAt:  created,
	}
	if err := store.SavePairing(ctx, p); err != nil {
		t.Fatalf("Failed to save pairing: %v", err)
	}

	got, err := store.GetPairing(ctx, "VIN123456")
	if err != nil {
		t.Fatalf("Failed to get pairing: %v", err)
	}
	if got.PairingID != p.PairingID {
		t.Errorf("Expected pairing ID %q, got %q", p.PairingID, got.PairingID)
	}
	if !bytes.Equal(got.PairingKey, p.PairingKey) {
		t.Errorf("Pairing key mismatch: %x", got.PairingKey)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("Expected created %v, got %v", created, got.CreatedAt)
	}
}

func TestStoreGetPairingNotFound(t *testing.T) {
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	_, err = store.GetPairing(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStoreSavePairingReplaces(t *testing.T) {
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for i, id := range []string{"aaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbb"} {
		err := store.SavePairing(ctx, &Pairing{
			VehicleID:  "VIN123456",
			PairingID:  id,
			PairingKey: bytes.Repeat([]byte{byte(i)}, 16),
			CreatedAt:  time.Now(),
		})
		if err != nil {
			t.Fatalf("Failed to save pairing: %v", err)
		}
	}

	list, err := store.ListPairings(ctx)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("Expected 1 pairing, got %d", len(list))
	}
	if list[0].PairingID != "bbbbbbbbbbbbbbbb" {
		t.Errorf("Expected the second pairing to win, got %q", list[0].PairingID)
	}
}

func TestStoreListAndDelete(t *testing.T) {
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, v := range []string{"VIN-B", "VIN-A", "VIN-C"} {
		err := store.SavePairing(ctx, &Pairing{
			VehicleID:  v,
			PairingID:  "0000000000000000",
			PairingKey: make([]byte, 16),
			CreatedAt:  time.Now(),
		})
		if err != nil {
			t.Fatalf("Failed to save pairing: %v", err)
		}
	}

	list, err := store.ListPairings(ctx)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(list) != 3 || list[0].VehicleID != "VIN-A" || list[2].VehicleID != "VIN-C" {
		t.Fatalf("Unexpected list order: %+v", list)
	}

	if err := store.DeletePairing(ctx, "VIN-B"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if err := store.DeletePairing(ctx, "VIN-B"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}

	list, _ = store.ListPairings(ctx)
	if len(list) != 2 {
		t.Errorf("Expected 2 pairings after delete, got %d", len(list))
	}
}

func TestStoreVehicleKeys(t *testing.T) {
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	key := bytes.Repeat([]byte{0x5A}, 32)
	if err := store.SaveVehicleKey(ctx, &VehicleKey{VIN: "1HGCM82633A004352", DeviceID: "tag-1", Key: key}); err != nil {
		t.Fatalf("Failed to save vehicle key: %v", err)
	}

	got, err := store.GetVehicleKey(ctx, "1HGCM82633A004352", "tag-1")
	if err != nil {
		t.Fatalf("Failed to get vehicle key: %v", err)
	}
	if !bytes.Equal(got.Key, key) {
		t.Errorf("Vehicle key mismatch")
	}

	if _, err := store.GetVehicleKey(ctx, "1HGCM82633A004352", "tag-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for another device, got %v", err)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authority.db")
	ctx := context.Background()

	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	err = store.SavePairing(ctx, &Pairing{
		VehicleID:  "VIN123456",
		PairingID:  "0123456789abcdef",
		PairingKey: bytes.Repeat([]byte{1}, 16),
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("Failed to save pairing: %v", err)
	}
	store.Close()

	store, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer store.Close()

	got, err := store.GetPairing(ctx, "VIN123456")
	if err != nil {
		t.Fatalf("Failed to get pairing after reopen: %v", err)
	}
	if got.PairingID != "0123456789abcdef" {
		t.Errorf("Unexpected pairing ID %q", got.PairingID)
	}
}
