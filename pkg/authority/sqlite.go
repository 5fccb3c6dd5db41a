package authority

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a Store backed by SQLite in WAL mode.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenSQLite opens or creates the database at path. Use ":memory:" for an
// in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vehicles (
		vehicle_id TEXT PRIMARY KEY,
		pairing_id TEXT NOT NULL,
		pairing_key BLOB NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vehicle_keys (
		vin TEXT NOT NULL,
		device_id TEXT NOT NULL,
		vehicle_key BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (vin, device_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SavePairing inserts or replaces a vehicle's pairing.
func (s *SQLiteStore) SavePairing(ctx context.Context, p *Pairing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO vehicles (vehicle_id, pairing_id, pairing_key, created_at)
		VALUES (?, ?, ?, ?)
	`, p.VehicleID, p.PairingID, p.PairingKey, p.CreatedAt.UTC())
	return err
}

// GetPairing returns a vehicle's pairing.
func (s *SQLiteStore) GetPairing(ctx context.Context, vehicleID string) (*Pairing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := Pairing{VehicleID: vehicleID}
	err := s.db.QueryRowContext(ctx, `
		SELECT pairing_id, pairing_key, created_at FROM vehicles WHERE vehicle_id = ?
	`, vehicleID).Scan(&p.PairingID, &p.PairingKey, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPairings returns all pairings.
func (s *SQLiteStore) ListPairings(ctx context.Context) ([]Pairing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT vehicle_id, pairing_id, pairing_key, created_at FROM vehicles ORDER BY vehicle_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Pairing
	for rows.Next() {
		var p Pairing
		if err := rows.Scan(&p.VehicleID, &p.PairingID, &p.PairingKey, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePairing removes a vehicle's pairing.
func (s *SQLiteStore) DeletePairing(ctx context.Context, vehicleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM vehicles WHERE vehicle_id = ?`, vehicleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveVehicleKey inserts or replaces a vehicle key.
func (s *SQLiteStore) SaveVehicleKey(ctx context.Context, k *VehicleKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := k.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO vehicle_keys (vin, device_id, vehicle_key, created_at)
		VALUES (?, ?, ?, ?)
	`, k.VIN, k.DeviceID, k.Key, created.UTC())
	return err
}

// GetVehicleKey returns the key issued for a VIN and device.
func (s *SQLiteStore) GetVehicleKey(ctx context.Context, vin, deviceID string) (*VehicleKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := VehicleKey{VIN: vin, DeviceID: deviceID}
	err := s.db.QueryRowContext(ctx, `
		SELECT vehicle_key, created_at FROM vehicle_keys WHERE vin = ? AND device_id = ?
	`, vin, deviceID).Scan(&k.Key, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

var _ Store = (*SQLiteStore)(nil)
