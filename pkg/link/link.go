package link

import (
	"context"
	"errors"
)

// Link errors.
var (
	// ErrClosed is returned when sending on a closed connection.
	ErrClosed = errors.New("link closed")

	// ErrNotConnected is returned when there is no connection to send on.
	ErrNotConnected = errors.New("link not connected")
)

// EventType identifies a link event.
type EventType uint8

const (
	// EventConnected reports a new connection.
	EventConnected EventType = iota

	// EventMessage carries one inbound message.
	EventMessage

	// EventDisconnected reports that a connection ended.
	EventDisconnected
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "CONNECTED"
	case EventMessage:
		return "MESSAGE"
	case EventDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Event is a transport notification.
type Event struct {
	Type EventType

	// Conn is the connection the event belongs to.
	Conn Conn

	// Data is the message payload for EventMessage.
	Data []byte

	// Err is the reason for EventDisconnected, if any.
	Err error
}

// Conn is one end of an established link.
type Conn interface {
	// ID returns a unique connection identifier.
	ID() string

	// RemoteAddr describes the peer.
	RemoteAddr() string

	// Send transmits one message.
	Send(data []byte) error

	// Close ends the connection. The owner of the events channel receives
	// EventDisconnected exactly once.
	Close() error
}

// Dialer establishes outbound connections. Events for the new connection
// are delivered on events, starting with EventConnected.
type Dialer interface {
	Dial(ctx context.Context, events chan<- Event) (Conn, error)
}

// deliver blocks until ev is queued or done is closed.
func deliver(events chan<- Event, done <-chan struct{}, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-done:
		return false
	}
}

// deliverFinal queues ev without blocking the caller. If the channel is
// full the send completes in the background.
func deliverFinal(events chan<- Event, ev Event) {
	select {
	case events <- ev:
	default:
		go func() { events <- ev }()
	}
}
