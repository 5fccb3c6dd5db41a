package ranging

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"
)

// Packet is a frame travelling through a simulated medium.
type Packet struct {
	Frame []byte

	// EmitAt is the true emission time in seconds. Both radios of an
	// exchange interpret it in the initiator's time frame.
	EmitAt float64

	// SenderRate is the sender's clock rate (1 + drift).
	SenderRate float64

	// Corrupt marks a frame the receiver reports as an RX error.
	Corrupt bool
}

// Air carries packets between simulated radios.
type Air interface {
	Send(p Packet) error
	Recv(ctx context.Context) (Packet, error)
	Close() error
}

// ErrAirClosed indicates the medium was closed.
var ErrAirClosed = errors.New("air closed")

// chanAir is one end of an in-process medium.
type chanAir struct {
	out    chan Packet
	in     chan Packet
	done   chan struct{}
	closer *sync.Once
}

// NewChanAirPair returns two connected in-process ends.
func NewChanAirPair() (Air, Air) {
	ab := make(chan Packet, 8)
	ba := make(chan Packet, 8)
	done := make(chan struct{})
	once := &sync.Once{}
	return &chanAir{out: ab, in: ba, done: done, closer: once},
		&chanAir{out: ba, in: ab, done: done, closer: once}
}

func (a *chanAir) Send(p Packet) error {
	select {
	case <-a.done:
		return ErrAirClosed
	case a.out <- p:
		return nil
	default:
		// A full medium drops the frame, like a receiver that was not listening.
		return nil
	}
}

func (a *chanAir) Recv(ctx context.Context) (Packet, error) {
	select {
	case <-ctx.Done():
		return Packet{}, ctx.Err()
	case <-a.done:
		return Packet{}, ErrAirClosed
	case p := <-a.in:
		return p, nil
	}
}

func (a *chanAir) Close() error {
	a.closer.Do(func() { close(a.done) })
	return nil
}

// udpHeaderLen is EmitAt, SenderRate and a flags byte.
const udpHeaderLen = 17

// UDPAir carries packets over UDP so two processes can range against each
// other with simulated radios.
type UDPAir struct {
	conn net.PacketConn

	mu     sync.Mutex
	remote net.Addr
	follow bool
}

// ErrNoRemote indicates a send before any peer is known.
var ErrNoRemote = errors.New("no remote address")

// NewUDPAir listens on local and sends to remote. An empty remote makes
// the air reply to whoever sent the last packet.
func NewUDPAir(local, remote string) (*UDPAir, error) {
	var raddr net.Addr
	if remote != "" {
		addr, err := net.ResolveUDPAddr("udp", remote)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", remote, err)
		}
		raddr = addr
	}
	conn, err := net.ListenPacket("udp", local)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", local, err)
	}
	return &UDPAir{conn: conn, remote: raddr, follow: remote == ""}, nil
}

// SetRemote changes the destination address.
func (a *UDPAir) SetRemote(remote string) error {
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", remote, err)
	}
	a.mu.Lock()
	a.remote = raddr
	a.follow = false
	a.mu.Unlock()
	return nil
}

// LocalAddr returns the bound address.
func (a *UDPAir) LocalAddr() net.Addr {
	return a.conn.LocalAddr()
}

// Send writes one packet.
func (a *UDPAir) Send(p Packet) error {
	buf := make([]byte, udpHeaderLen+len(p.Frame))
	binary.BigEndian.PutUint64(buf[0:], math.Float64bits(p.EmitAt))
	binary.BigEndian.PutUint64(buf[8:], math.Float64bits(p.SenderRate))
	if p.Corrupt {
		buf[16] = 1
	}
	copy(buf[udpHeaderLen:], p.Frame)
	a.mu.Lock()
	remote := a.remote
	a.mu.Unlock()
	if remote == nil {
		return ErrNoRemote
	}
	_, err := a.conn.WriteTo(buf, remote)
	return err
}

// Recv reads one packet, honoring the context deadline and cancellation.
func (a *UDPAir) Recv(ctx context.Context) (Packet, error) {
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return Packet{}, err
		}
		deadline := time.Now().Add(100 * time.Millisecond)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := a.conn.SetReadDeadline(deadline); err != nil {
			return Packet{}, err
		}

		n, from, err := a.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return Packet{}, err
		}
		if n < udpHeaderLen {
			continue
		}
		a.mu.Lock()
		if a.follow {
			a.remote = from
		}
		a.mu.Unlock()
		return Packet{
			EmitAt:     math.Float64frombits(binary.BigEndian.Uint64(buf[0:])),
			SenderRate: math.Float64frombits(binary.BigEndian.Uint64(buf[8:])),
			Corrupt:    buf[16] != 0,
			Frame:      append([]byte(nil), buf[udpHeaderLen:n]...),
		}, nil
	}
}

// Close closes the socket.
func (a *UDPAir) Close() error {
	return a.conn.Close()
}
