package link

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// pipeState is shared by both ends of a pipe.
type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipeConn struct {
	id     string
	name   string
	events chan<- Event
	peer   *pipeConn
	state  *pipeState
}

// Pipe creates a connected in-memory pair. Each end's events go to its own
// channel; both channels receive EventConnected before Pipe returns, so the
// channels must have room for at least one event or be drained concurrently.
func Pipe(aEvents, bEvents chan<- Event) (Conn, Conn) {
	state := &pipeState{done: make(chan struct{})}
	id := uuid.NewString()
	a := &pipeConn{id: id, name: "pipe-a", events: aEvents, state: state}
	b := &pipeConn{id: id, name: "pipe-b", events: bEvents, state: state}
	a.peer, b.peer = b, a

	aEvents <- Event{Type: EventConnected, Conn: a}
	bEvents <- Event{Type: EventConnected, Conn: b}
	return a, b
}

func (c *pipeConn) ID() string         { return c.id }
func (c *pipeConn) RemoteAddr() string { return c.peer.name }

func (c *pipeConn) Send(data []byte) error {
	select {
	case <-c.state.done:
		return ErrClosed
	default:
	}

	msg := append([]byte(nil), data...)
	if !deliver(c.peer.events, c.state.done, Event{Type: EventMessage, Conn: c.peer, Data: msg}) {
		return ErrClosed
	}
	return nil
}

func (c *pipeConn) Close() error {
	c.state.once.Do(func() {
		close(c.state.done)
		deliverFinal(c.events, Event{Type: EventDisconnected, Conn: c})
		deliverFinal(c.peer.events, Event{Type: EventDisconnected, Conn: c.peer})
	})
	return nil
}

// PipeDialer dials in-memory pipes to a peer that consumes Remote.
type PipeDialer struct {
	// Remote is the accepting side's event channel.
	Remote chan<- Event
}

// Dial creates a new pipe. The local end is returned; the remote end is
// announced on Remote.
func (d *PipeDialer) Dial(ctx context.Context, events chan<- Event) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Remote == nil {
		return nil, ErrNotConnected
	}
	local, _ := Pipe(events, d.Remote)
	return local, nil
}
