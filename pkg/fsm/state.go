package fsm

import (
	"errors"
	"time"
)

// State is the protocol state of one side.
type State uint8

const (
	// StateIdle means no link (advertising or scanning).
	StateIdle State = iota

	// StateConnected means a link without a session.
	StateConnected

	// StateKeyExchanging means a key exchange is in flight.
	StateKeyExchanging

	// StateSessionEstablished means a session key is in place.
	StateSessionEstablished

	// StateUnlockPending means an unlock was granted (Anchor) or requested (Tag).
	StateUnlockPending

	// StateRangingPending means ranging was armed (Anchor) or requested (Tag).
	StateRangingPending
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnected:
		return "CONNECTED"
	case StateKeyExchanging:
		return "KEY_EXCHANGING"
	case StateSessionEstablished:
		return "SESSION_ESTABLISHED"
	case StateUnlockPending:
		return "UNLOCK_PENDING"
	case StateRangingPending:
		return "RANGING_PENDING"
	default:
		return "UNKNOWN"
	}
}

// hasSession reports whether s is SessionEstablished or one of its
// sub-states.
func (s State) hasSession() bool {
	return s >= StateSessionEstablished
}

// Defaults.
const (
	// DefaultEventBuffer is the link event queue length.
	DefaultEventBuffer = 64

	// DefaultKeyExchangeTimeout bounds how long a key exchange may stay in
	// flight before a new one is accepted.
	DefaultKeyExchangeTimeout = 10 * time.Second

	// DefaultResponseTimeout bounds how long the Tag waits for a reply.
	DefaultResponseTimeout = 5 * time.Second

	// DefaultSmoothingWindow is the number of distances the Tag averages.
	DefaultSmoothingWindow = 5
)

// State machine errors.
var (
	// ErrNotConnected means there is no link.
	ErrNotConnected = errors.New("not connected")

	// ErrNoPairing means no pairing key is stored.
	ErrNoPairing = errors.New("no pairing key")

	// ErrNoSession means no valid session exists.
	ErrNoSession = errors.New("no valid session")

	// ErrDenied means the Anchor refused the request.
	ErrDenied = errors.New("request denied")

	// ErrKeyExchange means the Anchor rejected the key exchange.
	ErrKeyExchange = errors.New("key exchange failed")

	// ErrBusy means another request is in flight.
	ErrBusy = errors.New("request in flight")

	// ErrTimeout means no reply arrived in time.
	ErrTimeout = errors.New("no reply")

	// ErrDisconnected means the link dropped while waiting for a reply.
	ErrDisconnected = errors.New("disconnected")

	// ErrNoRadio means no ranging radio is configured.
	ErrNoRadio = errors.New("no ranging radio")

	// ErrRangingNotStarted means ranging was not granted by the Anchor.
	ErrRangingNotStarted = errors.New("ranging not started")
)
