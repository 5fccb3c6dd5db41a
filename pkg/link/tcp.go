package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/proxkey/proxkey-go/pkg/log"
)

// DefaultDialTimeout bounds a TCP dial when the context has no deadline.
const DefaultDialTimeout = 5 * time.Second

// tcpConn is one framed TCP connection.
type tcpConn struct {
	id      string
	conn    net.Conn
	framer  *Framer
	events  chan<- Event
	done    chan struct{}
	once    sync.Once
	onClose func()
}

func newTCPConn(conn net.Conn, events chan<- Event, maxSize uint32, emitter *log.Emitter) *tcpConn {
	c := &tcpConn{
		id:     uuid.NewString(),
		conn:   conn,
		framer: NewFramer(conn, maxSize),
		events: events,
		done:   make(chan struct{}),
	}
	c.framer.SetEmitter(emitter.WithConnection(c.id, conn.RemoteAddr().String()))
	return c
}

func (c *tcpConn) ID() string         { return c.id }
func (c *tcpConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *tcpConn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.framer.WriteFrame(data); err != nil {
		return err
	}
	return nil
}

func (c *tcpConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// readLoop delivers inbound frames until the stream ends, then reports
// EventDisconnected.
func (c *tcpConn) readLoop() {
	var cause error
	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				cause = err
			}
			break
		}
		if !deliver(c.events, c.done, Event{Type: EventMessage, Conn: c, Data: data}) {
			break
		}
	}
	c.Close()
	if c.onClose != nil {
		c.onClose()
	}
	deliverFinal(c.events, Event{Type: EventDisconnected, Conn: c, Err: cause})
}

// ListenConfig configures a TCP listener.
type ListenConfig struct {
	// Address to listen on (e.g. ":7400").
	Address string

	// MaxFrameSize limits inbound and outbound payloads.
	MaxFrameSize uint32

	// MaxConns limits concurrent connections. Extra connections are closed
	// on accept. Default 1.
	MaxConns int

	// Emitter captures frames (optional).
	Emitter *log.Emitter

	// Logger for operational messages. Nil uses slog.Default().
	Logger *slog.Logger
}

// Listener accepts TCP connections and reports them as events.
type Listener struct {
	config   ListenConfig
	listener net.Listener
	events   chan<- Event
	logger   *slog.Logger

	active  atomic.Int32
	running atomic.Bool
	wg      sync.WaitGroup
}

// Listen starts accepting connections on config.Address.
func Listen(config ListenConfig, events chan<- Event) (*Listener, error) {
	if config.MaxConns <= 0 {
		config.MaxConns = 1
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	l := &Listener{
		config:   config,
		listener: ln,
		events:   events,
		logger:   logger,
	}
	l.running.Store(true)
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Port returns the bound TCP port.
func (l *Listener) Port() int {
	if addr, ok := l.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Close stops accepting. Established connections stay open.
func (l *Listener) Close() error {
	if !l.running.Swap(false) {
		return nil
	}
	err := l.listener.Close()
	l.wg.Wait()
	return err
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if !l.running.Load() {
				return
			}
			l.logger.Warn("link: accept failed", "error", err)
			continue
		}

		if int(l.active.Load()) >= l.config.MaxConns {
			l.logger.Info("link: rejecting connection, at capacity", "remote", conn.RemoteAddr())
			conn.Close()
			continue
		}

		l.active.Add(1)
		c := newTCPConn(conn, l.events, l.config.MaxFrameSize, l.config.Emitter)
		c.onClose = func() { l.active.Add(-1) }
		l.logger.Debug("link: accepted", "conn_id", c.id, "remote", c.RemoteAddr())

		l.events <- Event{Type: EventConnected, Conn: c}
		go c.readLoop()
	}
}

// TCPDialer dials a framed TCP link.
type TCPDialer struct {
	// Address of the Anchor. If empty, Resolve is called.
	Address string

	// Resolve finds the Anchor address, e.g. through mDNS (optional).
	Resolve func(ctx context.Context) (string, error)

	// MaxFrameSize limits payloads.
	MaxFrameSize uint32

	// Emitter captures frames (optional).
	Emitter *log.Emitter
}

// Dial connects and starts delivering events for the connection.
func (d *TCPDialer) Dial(ctx context.Context, events chan<- Event) (Conn, error) {
	addr := d.Address
	if addr == "" {
		if d.Resolve == nil {
			return nil, fmt.Errorf("%w: no address", ErrNotConnected)
		}
		resolved, err := d.Resolve(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve anchor: %w", err)
		}
		addr = resolved
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultDialTimeout)
		defer cancel()
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := newTCPConn(conn, events, d.MaxFrameSize, d.Emitter)
	events <- Event{Type: EventConnected, Conn: c}
	go c.readLoop()
	return c, nil
}
