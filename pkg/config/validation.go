package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid field of a configuration.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap lets errors.As find the individual errors.
func (e ValidationErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, err := range e {
		errs[i] = err
	}
	return errs
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) fail(field, format string, args ...any) {
	v.errs = append(v.errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) positive(field string, n int) {
	if n <= 0 {
		v.fail(field, "must be positive, got %d", n)
	}
}

func (v *validator) required(field, s string) {
	if strings.TrimSpace(s) == "" {
		v.fail(field, "is required")
	}
}

func (v *validator) uuid(field, s string) {
	if _, err := uuid.Parse(s); err != nil {
		v.fail(field, "invalid UUID %q", s)
	}
}

func (v *validator) hostPort(field, s string, optional bool) {
	if s == "" {
		if !optional {
			v.fail(field, "is required")
		}
		return
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		v.fail(field, "invalid address %q", s)
	}
}

func (v *validator) distance(field string, m float64) {
	if m < 0 || m > 1000 {
		v.fail(field, "must be between 0 and 1000, got %g", m)
	}
}

// Validate checks the configuration. The returned error is a
// ValidationErrors whose elements are *ValidationError.
func (c *Config) Validate() error {
	var v validator

	if c.Version < 1 || c.Version > Version {
		v.fail("version", "unsupported version %d (current: %d)", c.Version, Version)
	}

	a := &c.Anchor
	v.required("anchor.vehicle_id", a.VehicleID)
	v.required("anchor.data_dir", a.DataDir)
	v.hostPort("anchor.listen", a.Listen, false)
	v.required("anchor.service_type", a.ServiceType)
	v.uuid("anchor.service_uuid", a.ServiceUUID)
	v.uuid("anchor.characteristic_uuid", a.CharacteristicUUID)
	v.positive("anchor.session_timeout_ms", a.SessionTimeoutMs)
	v.positive("anchor.key_exchange_timeout_ms", a.KeyExchangeTimeoutMs)
	v.positive("anchor.auto_lock_ms", a.AutoLockMs)
	v.hostPort("anchor.radio_listen", a.RadioListen, true)
	v.distance("anchor.sim_distance_m", a.SimDistanceM)

	t := &c.Tag
	v.required("tag.vehicle_id", t.VehicleID)
	v.required("tag.data_dir", t.DataDir)
	v.hostPort("tag.anchor_addr", t.AnchorAddr, true)
	v.required("tag.service_type", t.ServiceType)
	v.uuid("tag.service_uuid", t.ServiceUUID)
	v.positive("tag.session_timeout_ms", t.SessionTimeoutMs)
	v.positive("tag.response_timeout_ms", t.ResponseTimeoutMs)
	v.positive("tag.ranging_interval_ms", t.RangingIntervalMs)
	v.positive("tag.reconnect_initial_ms", t.ReconnectInitialMs)
	v.positive("tag.reconnect_max_ms", t.ReconnectMaxMs)
	if t.ReconnectMaxMs > 0 && t.ReconnectMaxMs < t.ReconnectInitialMs {
		v.fail("tag.reconnect_max_ms", "must not be below reconnect_initial_ms")
	}
	v.positive("tag.pairing_check_interval_ms", t.PairingCheckIntervalMs)
	v.positive("tag.smoothing_window", t.SmoothingWindow)
	v.hostPort("tag.radio_listen", t.RadioListen, true)
	v.hostPort("tag.radio_peer", t.RadioPeer, true)
	v.distance("tag.sim_distance_m", t.SimDistanceM)

	au := &c.Authority
	if u, err := url.Parse(au.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.fail("authority.url", "must be an http or https URL, got %q", au.URL)
	}
	v.positive("authority.timeout_ms", au.TimeoutMs)
	v.hostPort("authority.listen", au.Listen, false)
	v.required("authority.database", au.Database)

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		v.fail("logging.level", "must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		v.fail("logging.format", "must be text or json, got %q", c.Logging.Format)
	}

	if len(v.errs) > 0 {
		return v.errs
	}
	return nil
}
