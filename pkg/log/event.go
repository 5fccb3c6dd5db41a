package log

import "time"

// Event is a captured protocol event. CBOR encoding uses integer keys.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the link connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event.
	Category Category `cbor:"5,keyasint"`

	// LocalRole is the side that captured the event.
	LocalRole Role `cbor:"6,keyasint"`

	// RemoteAddr is the peer address, if known.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// VehicleID identifies the vehicle the Anchor serves or the Tag is paired with.
	VehicleID string `cbor:"8,keyasint,omitempty"`

	// One of these is set.
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Command     *CommandEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Ranging     *RangingEvent     `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
	// DirectionNone is used for local events.
	DirectionNone Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionNone:
		return "-"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates where an event was captured.
type Layer uint8

const (
	// LayerLink is the framed link (raw bytes).
	LayerLink Layer = 0
	// LayerCommand is the parsed command exchange.
	LayerCommand Layer = 1
	// LayerSession is key exchange and session lifecycle.
	LayerSession Layer = 2
	// LayerRanging is the UWB exchange.
	LayerRanging Layer = 3
	// LayerVehicle is lock actuation.
	LayerVehicle Layer = 4
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerLink:
		return "LINK"
	case LayerCommand:
		return "COMMAND"
	case LayerSession:
		return "SESSION"
	case LayerRanging:
		return "RANGING"
	case LayerVehicle:
		return "VEHICLE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage is a frame or command.
	CategoryMessage Category = 0
	// CategoryState is a state change.
	CategoryState Category = 1
	// CategoryError is an error.
	CategoryError Category = 2
	// CategoryMeasurement is a ranging result.
	CategoryMeasurement Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	case CategoryMeasurement:
		return "MEASUREMENT"
	default:
		return "UNKNOWN"
	}
}

// Role is the side that captured an event.
type Role uint8

const (
	// RoleAnchor is the vehicle side.
	RoleAnchor Role = 0
	// RoleTag is the owner-carried side.
	RoleTag Role = 1
	// RoleAuthority is the backend.
	RoleAuthority Role = 2
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleAnchor:
		return "ANCHOR"
	case RoleTag:
		return "TAG"
	case RoleAuthority:
		return "AUTHORITY"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw link frame data.
type FrameEvent struct {
	// Size is the frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the frame payload (may be truncated).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// CommandEvent captures a parsed command message.
type CommandEvent struct {
	// Token is the command token.
	Token string `cbor:"1,keyasint"`

	// Payload is the text after ':'. Secrets are never logged here.
	Payload string `cbor:"2,keyasint,omitempty"`

	// Known is false for tokens outside the vocabulary.
	Known bool `cbor:"3,keyasint"`
}

// StateChangeEvent captures lifecycle transitions.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change, if known.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	// StateEntityLink is the link connection.
	StateEntityLink StateEntity = 0
	// StateEntitySession is the session key.
	StateEntitySession StateEntity = 1
	// StateEntityProtocol is the command state machine.
	StateEntityProtocol StateEntity = 2
	// StateEntityLock is the vehicle lock.
	StateEntityLock StateEntity = 3
	// StateEntityPairing is the pairing record.
	StateEntityPairing StateEntity = 4
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityLink:
		return "LINK"
	case StateEntitySession:
		return "SESSION"
	case StateEntityProtocol:
		return "PROTOCOL"
	case StateEntityLock:
		return "LOCK"
	case StateEntityPairing:
		return "PAIRING"
	default:
		return "UNKNOWN"
	}
}

// RangingEvent captures one ranging attempt.
type RangingEvent struct {
	// Seq is the poll sequence number.
	Seq uint8 `cbor:"1,keyasint"`

	// Device timestamps (zero when not reached).
	PollTxTS uint64 `cbor:"2,keyasint,omitempty"`
	PollRxTS uint64 `cbor:"3,keyasint,omitempty"`
	RespTxTS uint64 `cbor:"4,keyasint,omitempty"`
	RespRxTS uint64 `cbor:"5,keyasint,omitempty"`

	// ClockOffsetRatio read by the initiator.
	ClockOffsetRatio float64 `cbor:"6,keyasint,omitempty"`

	// DistanceM is the computed or reported distance.
	DistanceM float64 `cbor:"7,keyasint,omitempty"`

	// Outcome is OK, TIMEOUT, RX_ERROR, MISMATCH or another failure label.
	Outcome string `cbor:"8,keyasint"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
