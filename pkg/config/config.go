package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration file version.
const Version = 1

// Default values.
const (
	DefaultVehicleID          = "VIN123456"
	DefaultServiceUUID        = "12345678-1234-5678-1234-56789abcdef0"
	DefaultCharacteristicUUID = "abcdef12-3456-7890-abcd-ef1234567890"
	DefaultServiceType        = "_proxkey._tcp"
	DefaultAnchorListen       = ":7400"
	DefaultAuthorityURL       = "http://127.0.0.1:8000"
	DefaultAuthorityListen    = ":8000"
	DefaultAuthorityDB        = "authority.db"
)

// Config holds the configuration of every proxkey binary.
type Config struct {
	Version   int             `toml:"version" yaml:"version" json:"version"`
	Anchor    AnchorConfig    `toml:"anchor" yaml:"anchor" json:"anchor"`
	Tag       TagConfig       `toml:"tag" yaml:"tag" json:"tag"`
	Authority AuthorityConfig `toml:"authority" yaml:"authority" json:"authority"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging" json:"logging"`
}

// AnchorConfig configures the vehicle side.
type AnchorConfig struct {
	VehicleID string `toml:"vehicle_id" yaml:"vehicle_id" json:"vehicle_id"`
	DataDir   string `toml:"data_dir" yaml:"data_dir" json:"data_dir"`

	// Listen is the TCP link address.
	Listen string `toml:"listen" yaml:"listen" json:"listen"`

	// Advertise publishes the link over mDNS.
	Advertise          bool   `toml:"advertise" yaml:"advertise" json:"advertise"`
	ServiceType        string `toml:"service_type" yaml:"service_type" json:"service_type"`
	ServiceUUID        string `toml:"service_uuid" yaml:"service_uuid" json:"service_uuid"`
	CharacteristicUUID string `toml:"characteristic_uuid" yaml:"characteristic_uuid" json:"characteristic_uuid"`

	SessionTimeoutMs     int `toml:"session_timeout_ms" yaml:"session_timeout_ms" json:"session_timeout_ms"`
	KeyExchangeTimeoutMs int `toml:"key_exchange_timeout_ms" yaml:"key_exchange_timeout_ms" json:"key_exchange_timeout_ms"`
	AutoLockMs           int `toml:"auto_lock_ms" yaml:"auto_lock_ms" json:"auto_lock_ms"`

	// RadioListen is the UDP address of the simulated radio. Empty
	// disables ranging.
	RadioListen  string  `toml:"radio_listen" yaml:"radio_listen" json:"radio_listen"`
	SimDistanceM float64 `toml:"sim_distance_m" yaml:"sim_distance_m" json:"sim_distance_m"`
	SimDriftPPM  float64 `toml:"sim_drift_ppm" yaml:"sim_drift_ppm" json:"sim_drift_ppm"`
}

// TagConfig configures the owner side.
type TagConfig struct {
	VehicleID string `toml:"vehicle_id" yaml:"vehicle_id" json:"vehicle_id"`
	DeviceID  string `toml:"device_id" yaml:"device_id" json:"device_id"`
	DataDir   string `toml:"data_dir" yaml:"data_dir" json:"data_dir"`

	// AnchorAddr is the Anchor link address. Empty browses mDNS.
	AnchorAddr  string `toml:"anchor_addr" yaml:"anchor_addr" json:"anchor_addr"`
	ServiceType string `toml:"service_type" yaml:"service_type" json:"service_type"`
	ServiceUUID string `toml:"service_uuid" yaml:"service_uuid" json:"service_uuid"`

	SessionTimeoutMs       int  `toml:"session_timeout_ms" yaml:"session_timeout_ms" json:"session_timeout_ms"`
	ResponseTimeoutMs      int  `toml:"response_timeout_ms" yaml:"response_timeout_ms" json:"response_timeout_ms"`
	RangingIntervalMs      int  `toml:"ranging_interval_ms" yaml:"ranging_interval_ms" json:"ranging_interval_ms"`
	ReconnectInitialMs     int  `toml:"reconnect_initial_ms" yaml:"reconnect_initial_ms" json:"reconnect_initial_ms"`
	ReconnectMaxMs         int  `toml:"reconnect_max_ms" yaml:"reconnect_max_ms" json:"reconnect_max_ms"`
	PairingCheckIntervalMs int  `toml:"pairing_check_interval_ms" yaml:"pairing_check_interval_ms" json:"pairing_check_interval_ms"`
	AutoKeyExchange        bool `toml:"auto_key_exchange" yaml:"auto_key_exchange" json:"auto_key_exchange"`
	SmoothingWindow        int  `toml:"smoothing_window" yaml:"smoothing_window" json:"smoothing_window"`

	// RadioListen is the local UDP address of the simulated radio.
	// RadioPeer overrides the Anchor radio address found through mDNS.
	RadioListen  string  `toml:"radio_listen" yaml:"radio_listen" json:"radio_listen"`
	RadioPeer    string  `toml:"radio_peer" yaml:"radio_peer" json:"radio_peer"`
	SimDistanceM float64 `toml:"sim_distance_m" yaml:"sim_distance_m" json:"sim_distance_m"`
	SimDriftPPM  float64 `toml:"sim_drift_ppm" yaml:"sim_drift_ppm" json:"sim_drift_ppm"`
}

// AuthorityConfig configures the pairing authority and its clients.
type AuthorityConfig struct {
	// URL is where clients reach the authority.
	URL       string `toml:"url" yaml:"url" json:"url"`
	TimeoutMs int    `toml:"timeout_ms" yaml:"timeout_ms" json:"timeout_ms"`

	// Listen and Database configure proxkey-authority itself.
	Listen   string `toml:"listen" yaml:"listen" json:"listen"`
	Database string `toml:"database" yaml:"database" json:"database"`
}

// LoggingConfig configures operational logging and protocol capture.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level" yaml:"level" json:"level"`

	// Format is text or json.
	Format string `toml:"format" yaml:"format" json:"format"`

	// CaptureFile receives CBOR protocol events. Empty disables capture.
	CaptureFile string `toml:"capture_file" yaml:"capture_file" json:"capture_file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Anchor: AnchorConfig{
			VehicleID:            DefaultVehicleID,
			DataDir:              filepath.Join(DataDir(), "anchor"),
			Listen:               DefaultAnchorListen,
			Advertise:            true,
			ServiceType:          DefaultServiceType,
			ServiceUUID:          DefaultServiceUUID,
			CharacteristicUUID:   DefaultCharacteristicUUID,
			SessionTimeoutMs:     300000,
			KeyExchangeTimeoutMs: 5000,
			AutoLockMs:           5000,
			SimDistanceM:         1.5,
		},
		Tag: TagConfig{
			VehicleID:              DefaultVehicleID,
			DataDir:                filepath.Join(DataDir(), "tag"),
			ServiceType:            DefaultServiceType,
			ServiceUUID:            DefaultServiceUUID,
			SessionTimeoutMs:       300000,
			ResponseTimeoutMs:      5000,
			RangingIntervalMs:      1000,
			ReconnectInitialMs:     1000,
			ReconnectMaxMs:         60000,
			PairingCheckIntervalMs: 10000,
			AutoKeyExchange:        true,
			SmoothingWindow:        5,
			SimDistanceM:           1.5,
		},
		Authority: AuthorityConfig{
			URL:       DefaultAuthorityURL,
			TimeoutMs: 10000,
			Listen:    DefaultAuthorityListen,
			Database:  DefaultAuthorityDB,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DataDir returns the base directory for key stores.
// PROXKEY_DATA_DIR overrides it.
func DataDir() string {
	if dir := os.Getenv("PROXKEY_DATA_DIR"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "proxkey")
	}
	return ".proxkey"
}

// Load reads path, applies environment overrides and validates the result.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported file type %q", filepath.Ext(path))
	}
	return cfg, nil
}

// Save writes cfg to path in the format implied by its extension.
func Save(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var b strings.Builder
		err = toml.NewEncoder(&b).Encode(cfg)
		data = []byte(b.String())
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	default:
		return fmt.Errorf("config: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ApplyEnvOverrides applies PROXKEY_* environment variables.
// Malformed numbers are ignored and left to Validate.
func (c *Config) ApplyEnvOverrides() {
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(name string, dst *float64) {
		if v := os.Getenv(name); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	if v := os.Getenv("PROXKEY_VEHICLE_ID"); v != "" {
		c.Anchor.VehicleID = v
		c.Tag.VehicleID = v
	}
	if v := os.Getenv("PROXKEY_SESSION_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Anchor.SessionTimeoutMs = n
			c.Tag.SessionTimeoutMs = n
		}
	}

	setString("PROXKEY_ANCHOR_LISTEN", &c.Anchor.Listen)
	setString("PROXKEY_ANCHOR_DATA_DIR", &c.Anchor.DataDir)
	setString("PROXKEY_ANCHOR_RADIO", &c.Anchor.RadioListen)
	setInt("PROXKEY_AUTO_LOCK_MS", &c.Anchor.AutoLockMs)
	setFloat("PROXKEY_SIM_DISTANCE_M", &c.Anchor.SimDistanceM)

	setString("PROXKEY_TAG_DATA_DIR", &c.Tag.DataDir)
	setString("PROXKEY_TAG_DEVICE_ID", &c.Tag.DeviceID)
	setString("PROXKEY_TAG_ANCHOR_ADDR", &c.Tag.AnchorAddr)
	setString("PROXKEY_TAG_RADIO", &c.Tag.RadioListen)
	setString("PROXKEY_TAG_RADIO_PEER", &c.Tag.RadioPeer)
	setInt("PROXKEY_RANGING_INTERVAL_MS", &c.Tag.RangingIntervalMs)

	setString("PROXKEY_AUTHORITY_URL", &c.Authority.URL)
	setString("PROXKEY_AUTHORITY_LISTEN", &c.Authority.Listen)
	setString("PROXKEY_AUTHORITY_DB", &c.Authority.Database)

	setString("PROXKEY_LOG_LEVEL", &c.Logging.Level)
	setString("PROXKEY_LOG_FORMAT", &c.Logging.Format)
	setString("PROXKEY_CAPTURE_FILE", &c.Logging.CaptureFile)
}

// Clone returns a copy.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// SessionTimeout returns the Anchor session timeout.
func (a AnchorConfig) SessionTimeout() time.Duration { return ms(a.SessionTimeoutMs) }

// KeyExchangeTimeout returns how long an unfinished key exchange blocks a new one.
func (a AnchorConfig) KeyExchangeTimeout() time.Duration { return ms(a.KeyExchangeTimeoutMs) }

// AutoLock returns the relock delay after an unlock.
func (a AnchorConfig) AutoLock() time.Duration { return ms(a.AutoLockMs) }

// SessionTimeout returns the Tag session timeout.
func (t TagConfig) SessionTimeout() time.Duration { return ms(t.SessionTimeoutMs) }

// ResponseTimeout returns how long the Tag waits for an Anchor reply.
func (t TagConfig) ResponseTimeout() time.Duration { return ms(t.ResponseTimeoutMs) }

// RangingInterval returns the time between ranging exchanges.
func (t TagConfig) RangingInterval() time.Duration { return ms(t.RangingIntervalMs) }

// ReconnectInitial returns the first reconnect delay.
func (t TagConfig) ReconnectInitial() time.Duration { return ms(t.ReconnectInitialMs) }

// ReconnectMax returns the reconnect delay cap.
func (t TagConfig) ReconnectMax() time.Duration { return ms(t.ReconnectMaxMs) }

// PairingCheckInterval returns the pairing status poll interval.
func (t TagConfig) PairingCheckInterval() time.Duration { return ms(t.PairingCheckIntervalMs) }

// Timeout returns the authority request timeout.
func (a AuthorityConfig) Timeout() time.Duration { return ms(a.TimeoutMs) }
