package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		cmd        string
		payload    string
		hasPayload bool
		known      bool
	}{
		{"bare token", "UNLOCK_REQUEST", CmdUnlockRequest, "", false, true},
		{"token with payload", "CHALLENGE:00ff", CmdChallenge, "00ff", true, true},
		{"denial reason", "UNLOCK_DENIED:NO_SESSION", CmdUnlockDenied, ReasonNoSession, true, true},
		{"distance", "DIST:1.25", CmdDistance, "1.25", true, true},
		{"empty payload", "DIST:", CmdDistance, "", true, true},
		{"payload containing separator", "DIST:a:b", CmdDistance, "a:b", true, true},
		{"unknown token", "FOO_BAR", "FOO_BAR", "", false, false},
		{"case sensitive", "unlock_request", "unlock_request", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(tt.in))
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.in, err)
			}
			if m.Command != tt.cmd {
				t.Errorf("Command = %q, want %q", m.Command, tt.cmd)
			}
			if m.Payload != tt.payload {
				t.Errorf("Payload = %q, want %q", m.Payload, tt.payload)
			}
			if m.HasPayload != tt.hasPayload {
				t.Errorf("HasPayload = %v, want %v", m.HasPayload, tt.hasPayload)
			}
			if m.Known() != tt.known {
				t.Errorf("Known() = %v, want %v", m.Known(), tt.known)
			}
			if m.String() != tt.in {
				t.Errorf("String() = %q, want %q", m.String(), tt.in)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, ErrEmpty},
		{"leading separator", []byte(":x"), ErrInvalid},
		{"newline", []byte("UNLOCK_REQUEST\n"), ErrInvalid},
		{"binary", []byte{0x00, 0x01}, ErrInvalid},
		{"too large", []byte(strings.Repeat("A", MaxMessageSize+1)), ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	if got := string(Format(CmdKeyVerifyOK)); got != "KEY_VERIFY_OK" {
		t.Errorf("Format() = %q", got)
	}
	if got := string(Format(CmdRangingDenied, ReasonNoSession)); got != "RANGING_DENIED:NO_SESSION" {
		t.Errorf("Format() = %q", got)
	}
	if got := WithPayload(CmdChallenge, "ab").String(); got != "CHALLENGE:ab" {
		t.Errorf("WithPayload().String() = %q", got)
	}
	if !New(CmdBusy).Is(CmdBusy) {
		t.Error("Is() = false")
	}
}
