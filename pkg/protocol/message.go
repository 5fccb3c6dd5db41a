package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Command tokens.
const (
	CmdAnchorReady        = "ANCHOR_READY"
	CmdKeyExchangeInit    = "KEY_EXCHANGE_INIT"
	CmdChallenge          = "CHALLENGE"
	CmdKeyVerifyOK        = "KEY_VERIFY_OK"
	CmdKeyVerifyFailed    = "KEY_VERIFY_FAILED"
	CmdSessionFailed      = "SESSION_FAILED"
	CmdSessionEstablished = "SESSION_ESTABLISHED"
	CmdSessionOK          = "SESSION_OK"
	CmdUnlockRequest      = "UNLOCK_REQUEST"
	CmdUnlockOK           = "UNLOCK_OK"
	CmdUnlockDenied       = "UNLOCK_DENIED"
	CmdStartRanging       = "START_RANGING"
	CmdRangingOK          = "RANGING_OK"
	CmdRangingDenied      = "RANGING_DENIED"
	CmdDistance           = "DIST"
	CmdBusy               = "BUSY"
)

// Denial reasons.
const (
	ReasonNoSession = "NO_SESSION"

	// ReasonUnavailable means the Anchor has no ranging radio.
	ReasonUnavailable = "UNAVAILABLE"
)

// Separator splits the command token from its payload.
const Separator = ":"

// MaxMessageSize bounds a single command message.
const MaxMessageSize = 512

// Protocol errors.
var (
	// ErrEmpty indicates an empty message.
	ErrEmpty = errors.New("empty message")

	// ErrInvalid indicates a message with non-printable bytes or an empty token.
	ErrInvalid = errors.New("invalid message")

	// ErrTooLarge indicates a message over MaxMessageSize.
	ErrTooLarge = errors.New("message too large")
)

var known = map[string]bool{
	CmdAnchorReady:        true,
	CmdKeyExchangeInit:    true,
	CmdChallenge:          true,
	CmdKeyVerifyOK:        true,
	CmdKeyVerifyFailed:    true,
	CmdSessionFailed:      true,
	CmdSessionEstablished: true,
	CmdSessionOK:          true,
	CmdUnlockRequest:      true,
	CmdUnlockOK:           true,
	CmdUnlockDenied:       true,
	CmdStartRanging:       true,
	CmdRangingOK:          true,
	CmdRangingDenied:      true,
	CmdDistance:           true,
	CmdBusy:               true,
}

// Message is a parsed command message.
type Message struct {
	Command    string
	Payload    string
	HasPayload bool
}

// New creates a message without payload.
func New(cmd string) Message {
	return Message{Command: cmd}
}

// WithPayload creates a message with payload.
func WithPayload(cmd, payload string) Message {
	return Message{Command: cmd, Payload: payload, HasPayload: true}
}

// Known reports whether the command is part of the vocabulary.
func (m Message) Known() bool {
	return known[m.Command]
}

// Is reports whether the message carries the given command token.
func (m Message) Is(cmd string) bool {
	return m.Command == cmd
}

// String returns the wire form.
func (m Message) String() string {
	if !m.HasPayload {
		return m.Command
	}
	return m.Command + Separator + m.Payload
}

// Bytes returns the wire form as bytes.
func (m Message) Bytes() []byte {
	return []byte(m.String())
}

// Parse decodes a wire message. The token is everything before the first
// ':', matched case-sensitively.
func Parse(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, ErrEmpty
	}
	if len(data) > MaxMessageSize {
		return Message{}, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(data), MaxMessageSize)
	}
	for _, b := range data {
		if b < 0x20 || b > 0x7e {
			return Message{}, fmt.Errorf("%w: byte 0x%02x", ErrInvalid, b)
		}
	}

	s := string(data)
	cmd, payload, found := strings.Cut(s, Separator)
	if cmd == "" {
		return Message{}, fmt.Errorf("%w: empty command", ErrInvalid)
	}
	return Message{Command: cmd, Payload: payload, HasPayload: found}, nil
}

// Format builds the wire form for cmd with an optional payload.
func Format(cmd string, payload ...string) []byte {
	if len(payload) == 0 {
		return []byte(cmd)
	}
	return []byte(cmd + Separator + strings.Join(payload, Separator))
}
