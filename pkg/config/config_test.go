package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "VIN123456", cfg.Anchor.VehicleID)
	assert.Equal(t, 300*time.Second, cfg.Anchor.SessionTimeout())
	assert.Equal(t, 5*time.Second, cfg.Anchor.AutoLock())
	assert.Equal(t, time.Second, cfg.Tag.RangingInterval())
	assert.Equal(t, time.Second, cfg.Tag.ReconnectInitial())
	assert.Equal(t, time.Minute, cfg.Tag.ReconnectMax())
	assert.Equal(t, 10*time.Second, cfg.Tag.PairingCheckInterval())
	assert.Equal(t, "http://127.0.0.1:8000", cfg.Authority.URL)
	assert.Equal(t, ":7400", cfg.Anchor.Listen)
	assert.Equal(t, "_proxkey._tcp", cfg.Anchor.ServiceType)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "proxkey.toml",
			content: `
[anchor]
vehicle_id = "WAUZZZ8V5KA000001"
auto_lock_ms = 8000

[tag]
vehicle_id = "WAUZZZ8V5KA000001"
anchor_addr = "192.168.1.20:7400"
`,
		},
		{
			name: "yaml",
			file: "proxkey.yaml",
			content: `
anchor:
  vehicle_id: WAUZZZ8V5KA000001
  auto_lock_ms: 8000
tag:
  vehicle_id: WAUZZZ8V5KA000001
  anchor_addr: 192.168.1.20:7400
`,
		},
		{
			name: "json",
			file: "proxkey.json",
			content: `{
  "anchor": {"vehicle_id": "WAUZZZ8V5KA000001", "auto_lock_ms": 8000},
  "tag": {"vehicle_id": "WAUZZZ8V5KA000001", "anchor_addr": "192.168.1.20:7400"}
}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "WAUZZZ8V5KA000001", cfg.Anchor.VehicleID)
			assert.Equal(t, 8*time.Second, cfg.Anchor.AutoLock())
			assert.Equal(t, "192.168.1.20:7400", cfg.Tag.AnchorAddr)

			// Unset fields keep their defaults.
			assert.Equal(t, DefaultServiceUUID, cfg.Anchor.ServiceUUID)
			assert.Equal(t, 300000, cfg.Tag.SessionTimeoutMs)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[anchor\n"), 0o600))
	_, err := Load(bad)
	assert.ErrorContains(t, err, "decode TOML")

	ext := filepath.Join(dir, "proxkey.ini")
	require.NoError(t, os.WriteFile(ext, []byte("x=1"), 0o600))
	_, err = Load(ext)
	assert.ErrorContains(t, err, "unsupported file type")
}

func TestSaveAndLoad(t *testing.T) {
	for _, name := range []string{"out.toml", "out.yaml", "out.json"} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Tag.DeviceID = "tag-7"
			cfg.Anchor.RadioListen = "127.0.0.1:7401"
			cfg.Tag.SimDistanceM = 2.25

			path := filepath.Join(t.TempDir(), "nested", name)
			require.NoError(t, Save(cfg, path))

			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, got)
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PROXKEY_VEHICLE_ID", "ENVVIN")
	t.Setenv("PROXKEY_SESSION_TIMEOUT_MS", "60000")
	t.Setenv("PROXKEY_AUTHORITY_URL", "https://authority.example:8443")
	t.Setenv("PROXKEY_TAG_ANCHOR_ADDR", "10.0.0.5:7400")
	t.Setenv("PROXKEY_AUTO_LOCK_MS", "not-a-number")
	t.Setenv("PROXKEY_SIM_DISTANCE_M", "4.5")
	t.Setenv("PROXKEY_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "ENVVIN", cfg.Anchor.VehicleID)
	assert.Equal(t, "ENVVIN", cfg.Tag.VehicleID)
	assert.Equal(t, time.Minute, cfg.Anchor.SessionTimeout())
	assert.Equal(t, time.Minute, cfg.Tag.SessionTimeout())
	assert.Equal(t, "https://authority.example:8443", cfg.Authority.URL)
	assert.Equal(t, "10.0.0.5:7400", cfg.Tag.AnchorAddr)
	assert.Equal(t, 5000, cfg.Anchor.AutoLockMs, "malformed numbers are ignored")
	assert.Equal(t, 4.5, cfg.Anchor.SimDistanceM)
	assert.Equal(t, slog.LevelDebug, cfg.Logging.SlogLevel())
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxkey.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"warn\"\n"), 0o600))
	t.Setenv("PROXKEY_LOG_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"version", func(c *Config) { c.Version = 2 }, "version"},
		{"empty vehicle", func(c *Config) { c.Anchor.VehicleID = " " }, "anchor.vehicle_id"},
		{"listen", func(c *Config) { c.Anchor.Listen = "7400" }, "anchor.listen"},
		{"service uuid", func(c *Config) { c.Anchor.ServiceUUID = "nope" }, "anchor.service_uuid"},
		{"session timeout", func(c *Config) { c.Anchor.SessionTimeoutMs = 0 }, "anchor.session_timeout_ms"},
		{"radio", func(c *Config) { c.Anchor.RadioListen = "localhost" }, "anchor.radio_listen"},
		{"distance", func(c *Config) { c.Tag.SimDistanceM = -1 }, "tag.sim_distance_m"},
		{"reconnect", func(c *Config) { c.Tag.ReconnectMaxMs = 500 }, "tag.reconnect_max_ms"},
		{"smoothing", func(c *Config) { c.Tag.SmoothingWindow = 0 }, "tag.smoothing_window"},
		{"authority url", func(c *Config) { c.Authority.URL = "ftp://x" }, "authority.url"},
		{"authority db", func(c *Config) { c.Authority.Database = "" }, "authority.database"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Anchor.VehicleID = ""
	cfg.Tag.VehicleID = ""

	var errs ValidationErrors
	require.True(t, errors.As(cfg.Validate(), &errs))
	assert.Len(t, errs, 2)
	assert.Contains(t, errs.Error(), "anchor.vehicle_id")
	assert.Contains(t, errs.Error(), "tag.vehicle_id")
}

func TestLoaderReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxkey.yaml")
	require.NoError(t, os.WriteFile(path, []byte("anchor:\n  auto_lock_ms: 5000\n"), 0o600))

	l := NewLoader(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	l.SetDebounce(20 * time.Millisecond)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Anchor.AutoLockMs)

	var calls atomic.Int32
	var lastOld atomic.Int32
	l.OnChange(func(old, new *Config) {
		lastOld.Store(int32(old.Anchor.AutoLockMs))
		calls.Add(1)
	})
	require.NoError(t, l.Watch())
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte("anchor:\n  auto_lock_ms: 9000\n"), 0o600))

	require.Eventually(t, func() bool {
		return l.Config().Anchor.AutoLockMs == 9000
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	assert.Equal(t, int32(5000), lastOld.Load())
}

func TestLoaderKeepsConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxkey.toml")
	require.NoError(t, os.WriteFile(path, []byte("[tag]\nsmoothing_window = 3\n"), 0o600))

	l := NewLoader(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	l.SetDebounce(20 * time.Millisecond)
	_, err := l.Load()
	require.NoError(t, err)
	require.NoError(t, l.Watch())
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte("[tag]\nsmoothing_window = 0\n"), 0o600))

	select {
	case err := <-l.Errors():
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr))
	case <-time.After(2 * time.Second):
		t.Fatal("no reload error reported")
	}
	assert.Equal(t, 3, l.Config().Tag.SmoothingWindow)
}

func TestNewLogger(t *testing.T) {
	cfg := LoggingConfig{Level: "warn", Format: "json"}
	logger := cfg.NewLogger(io.Discard)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
}
