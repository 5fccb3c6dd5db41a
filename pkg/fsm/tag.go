package fsm

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/proxkey/proxkey-go/pkg/connection"
	"github.com/proxkey/proxkey-go/pkg/link"
	"github.com/proxkey/proxkey-go/pkg/log"
	"github.com/proxkey/proxkey-go/pkg/protocol"
	"github.com/proxkey/proxkey-go/pkg/ranging"
	"github.com/proxkey/proxkey-go/pkg/session"
)

// TagConfig configures a Tag.
type TagConfig struct {
	// Session holds the pairing key and the live session. Required.
	Session *session.Manager

	// Dialer opens the link to the Anchor. Required.
	Dialer link.Dialer

	// Initiator sends ranging polls. Nil disables ranging.
	Initiator *ranging.Initiator

	// Reconnect controls redialing after the link drops.
	Reconnect connection.Config

	// AutoKeyExchange runs a key exchange whenever the Anchor greets with
	// ANCHOR_READY and a pairing key is present.
	AutoKeyExchange bool

	// ResponseTimeout bounds each wait for an Anchor reply.
	ResponseTimeout time.Duration

	// SmoothingWindow is the number of distances averaged by RangeOnce.
	SmoothingWindow int

	// EventBuffer is the link event queue length.
	EventBuffer int

	// Emitter captures protocol events (optional).
	Emitter *log.Emitter

	// Logger for operational messages. Nil uses slog.Default().
	Logger *slog.Logger
}

// Tag is the owner side of the command protocol. Run must be running for
// the request methods to receive replies.
type Tag struct {
	session         *session.Manager
	dialer          link.Dialer
	initiator       *ranging.Initiator
	reconnect       *connection.Manager
	autoKeyExchange bool
	responseTimeout time.Duration
	smoother        *ranging.Smoother
	emitter         *log.Emitter
	logger          *slog.Logger

	events chan link.Event

	mu            sync.Mutex
	state         State
	conn          link.Conn
	connEmitter   *log.Emitter
	pending       *waiter
	rangingActive bool
}

// waiter collects replies for the one request in flight.
type waiter struct {
	match   func(protocol.Message) bool
	replies chan protocol.Message
	gone    chan struct{}
}

// NewTag creates a Tag in StateIdle. It does not dial; call Connect.
func NewTag(cfg TagConfig) (*Tag, error) {
	if cfg.Session == nil {
		return nil, errors.New("fsm: session manager is required")
	}
	if cfg.Dialer == nil {
		return nil, errors.New("fsm: dialer is required")
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.SmoothingWindow <= 0 {
		cfg.SmoothingWindow = DefaultSmoothingWindow
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reconnect.Logger == nil {
		cfg.Reconnect.Logger = cfg.Logger
	}

	t := &Tag{
		session:         cfg.Session,
		dialer:          cfg.Dialer,
		initiator:       cfg.Initiator,
		autoKeyExchange: cfg.AutoKeyExchange,
		responseTimeout: cfg.ResponseTimeout,
		smoother:        ranging.NewSmoother(cfg.SmoothingWindow),
		emitter:         cfg.Emitter,
		logger:          cfg.Logger,
		events:          make(chan link.Event, cfg.EventBuffer),
		state:           StateIdle,
	}
	t.reconnect = connection.NewManager(t.dial, cfg.Reconnect)
	return t, nil
}

// Events returns the queue the link delivers to.
func (t *Tag) Events() chan<- link.Event {
	return t.events
}

// State returns the current state.
func (t *Tag) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsConnected reports whether the link is up.
func (t *Tag) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// ConnectionState returns the reconnect manager's state.
func (t *Tag) ConnectionState() connection.State {
	return t.reconnect.State()
}

// Distance returns the smoothed distance and the number of samples in it.
func (t *Tag) Distance() (float64, int) {
	return t.smoother.Value(), t.smoother.Count()
}

// Connect dials the Anchor. With reconnect enabled a failed dial keeps
// retrying in the background.
func (t *Tag) Connect(ctx context.Context) error {
	return t.reconnect.Connect(ctx)
}

func (t *Tag) dial(ctx context.Context) error {
	conn, err := t.dialer.Dial(ctx, t.events)
	if err != nil {
		return err
	}
	t.adopt(conn)
	return nil
}

// adopt makes conn the current link. The dial result and the link's
// EventConnected may arrive in either order.
func (t *Tag) adopt(conn link.Conn) {
	t.mu.Lock()
	if t.conn != nil && t.conn.ID() == conn.ID() {
		t.mu.Unlock()
		return
	}
	t.conn = conn
	t.connEmitter = t.emitter.WithConnection(conn.ID(), conn.RemoteAddr())
	t.rangingActive = false
	em := t.connEmitter
	t.mu.Unlock()

	em.State(log.LayerLink, log.StateEntityLink, "DISCONNECTED", "CONNECTED", "dial")
	t.logger.Info("fsm: connected to anchor", "remote", conn.RemoteAddr())
	t.setState(StateConnected, "connected")
}

// Close stops reconnecting and closes the link.
func (t *Tag) Close() error {
	t.reconnect.Close()

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Run processes link events until ctx ends.
func (t *Tag) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-t.events:
			t.handleEvent(ctx, ev)
		}
	}
}

func (t *Tag) handleEvent(ctx context.Context, ev link.Event) {
	switch ev.Type {
	case link.EventConnected:
		if t.reconnect.State() != connection.StateClosed {
			t.adopt(ev.Conn)
		}
	case link.EventDisconnected:
		t.onDisconnected(ev.Conn, ev.Err)
	case link.EventMessage:
		if !t.isCurrent(ev.Conn) {
			return
		}
		t.onMessage(ctx, ev.Data)
	}
}

func (t *Tag) isCurrent(conn link.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil && conn != nil && t.conn.ID() == conn.ID()
}

// onDisconnected drops the link handle only. Pairing and session material
// stay so the Tag can resume after reconnecting.
func (t *Tag) onDisconnected(conn link.Conn, cause error) {
	t.mu.Lock()
	if t.conn == nil || conn == nil || t.conn.ID() != conn.ID() {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.rangingActive = false
	em := t.connEmitter
	if t.pending != nil {
		close(t.pending.gone)
		t.pending = nil
	}
	t.mu.Unlock()

	em.State(log.LayerLink, log.StateEntityLink, "CONNECTED", "DISCONNECTED", "link lost")
	t.logger.Info("fsm: disconnected from anchor", "cause", cause)
	t.setState(StateIdle, "disconnected")
	t.reconnect.ConnectionLost()
}

func (t *Tag) onMessage(ctx context.Context, data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		t.logger.Warn("fsm: malformed message ignored", "error", err)
		return
	}
	t.emitterSnapshot().Command(log.DirectionIn, msg.Command, msg.Payload, msg.Known())

	t.mu.Lock()
	w := t.pending
	t.mu.Unlock()
	if w != nil && (w.match(msg) || msg.Is(protocol.CmdBusy)) {
		select {
		case w.replies <- msg:
		default:
			t.logger.Warn("fsm: reply dropped", "command", msg.Command)
		}
		return
	}

	switch msg.Command {
	case protocol.CmdAnchorReady:
		t.logger.Info("fsm: anchor ready")
		if t.autoKeyExchange && t.session.HasPairingKey() {
			go func() {
				if err := t.KeyExchange(ctx); err != nil {
					t.logger.Warn("fsm: automatic key exchange failed", "error", err)
				}
			}()
		}
	default:
		t.logger.Info("fsm: unsolicited message ignored", "command", msg.Command)
	}
}

// begin installs the waiter for a new request.
func (t *Tag) begin(match func(protocol.Message) bool) (*waiter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, ErrNotConnected
	}
	if t.pending != nil {
		return nil, ErrBusy
	}
	w := &waiter{
		match:   match,
		replies: make(chan protocol.Message, 4),
		gone:    make(chan struct{}),
	}
	t.pending = w
	return w, nil
}

func (t *Tag) end(w *waiter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == w {
		t.pending = nil
	}
}

// await returns the next reply for w.
func (t *Tag) await(ctx context.Context, w *waiter) (protocol.Message, error) {
	timer := time.NewTimer(t.responseTimeout)
	defer timer.Stop()

	select {
	case msg := <-w.replies:
		if msg.Is(protocol.CmdBusy) {
			return msg, ErrBusy
		}
		return msg, nil
	case <-w.gone:
		return protocol.Message{}, ErrDisconnected
	case <-timer.C:
		return protocol.Message{}, ErrTimeout
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

func (t *Tag) send(msg protocol.Message) error {
	t.mu.Lock()
	conn := t.conn
	em := t.connEmitter
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Send(msg.Bytes()); err != nil {
		em.Error(log.LayerLink, err, "send "+msg.Command)
		return fmt.Errorf("send %s: %w", msg.Command, err)
	}
	em.Command(log.DirectionOut, msg.Command, msg.Payload, true)
	return nil
}

func commands(cmds ...string) func(protocol.Message) bool {
	return func(m protocol.Message) bool {
		for _, c := range cmds {
			if m.Is(c) {
				return true
			}
		}
		return false
	}
}

// KeyExchange runs the nonce exchange with the Anchor and establishes a
// session on both sides.
func (t *Tag) KeyExchange(ctx context.Context) error {
	pk, ok := t.session.PairingKey()
	if !ok {
		return ErrNoPairing
	}

	w, err := t.begin(commands(
		protocol.CmdChallenge,
		protocol.CmdKeyVerifyOK,
		protocol.CmdKeyVerifyFailed,
		protocol.CmdSessionFailed,
		protocol.CmdSessionOK,
	))
	if err != nil {
		return err
	}
	defer t.end(w)

	tagNonce, err := session.NewNonce()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrKeyExchange, err)
	}
	if err := t.send(protocol.WithPayload(protocol.CmdKeyExchangeInit, hex.EncodeToString(tagNonce))); err != nil {
		return err
	}
	t.setState(StateKeyExchanging, "key exchange")

	// Until the Anchor answers, the previous session is left alone.
	msg, err := t.await(ctx, w)
	if err != nil {
		t.restoreSessionState()
		return err
	}

	// The Anchor dropped any earlier session when it accepted the exchange.
	fail := func(err error) error {
		t.session.Clear()
		t.mu.Lock()
		t.rangingActive = false
		t.mu.Unlock()
		t.restoreSessionState()
		t.logger.Warn("fsm: key exchange failed", "error", err)
		return err
	}
	t.session.Clear()

	var key, anchorNonce []byte
	switch msg.Command {
	case protocol.CmdChallenge:
		anchorNonce, err = hex.DecodeString(msg.Payload)
		if err == nil {
			key, err = session.DeriveSessionKey(pk.PairingKey, anchorNonce, tagNonce)
		}
		if err != nil {
			return fail(fmt.Errorf("%w: bad challenge: %w", ErrKeyExchange, err))
		}
	case protocol.CmdKeyVerifyFailed:
		return fail(fmt.Errorf("%w: anchor has no pairing key", ErrKeyExchange))
	default:
		return fail(fmt.Errorf("%w: anchor replied %s", ErrKeyExchange, msg.Command))
	}

	msg, err = t.await(ctx, w)
	if err != nil {
		return fail(err)
	}
	if !msg.Is(protocol.CmdKeyVerifyOK) {
		return fail(fmt.Errorf("%w: anchor replied %s", ErrKeyExchange, msg.Command))
	}
	if !t.session.CreateSession(key) {
		return fail(fmt.Errorf("%w: session not stored", ErrKeyExchange))
	}

	confirm := session.ConfirmTag(key, anchorNonce, tagNonce)
	if err := t.send(protocol.WithPayload(protocol.CmdSessionEstablished, hex.EncodeToString(confirm))); err != nil {
		return fail(err)
	}

	msg, err = t.await(ctx, w)
	if err != nil {
		return fail(err)
	}
	if !msg.Is(protocol.CmdSessionOK) {
		return fail(fmt.Errorf("%w: anchor replied %s", ErrKeyExchange, msg.Command))
	}

	t.end(w)
	t.emitterSnapshot().State(log.LayerSession, log.StateEntitySession, "NONE", "ACTIVE", "key exchange")
	t.setState(StateSessionEstablished, "session confirmed")
	t.logger.Info("fsm: session established")
	return nil
}

// RequestUnlock asks the Anchor to unlock the vehicle.
func (t *Tag) RequestUnlock(ctx context.Context) error {
	if !t.session.IsValid() {
		return ErrNoSession
	}

	w, err := t.begin(commands(protocol.CmdUnlockOK, protocol.CmdUnlockDenied))
	if err != nil {
		return err
	}
	defer t.end(w)

	if err := t.send(protocol.New(protocol.CmdUnlockRequest)); err != nil {
		return err
	}
	t.setState(StateUnlockPending, "unlock requested")

	msg, err := t.await(ctx, w)
	t.restoreSessionState()
	if err != nil {
		return err
	}
	if msg.Is(protocol.CmdUnlockDenied) {
		return denial(msg)
	}
	t.logger.Info("fsm: unlock granted")
	return nil
}

// StartRanging asks the Anchor to arm its responder.
func (t *Tag) StartRanging(ctx context.Context) error {
	if t.initiator == nil {
		return ErrNoRadio
	}
	if !t.session.IsValid() {
		return ErrNoSession
	}

	w, err := t.begin(commands(protocol.CmdRangingOK, protocol.CmdRangingDenied))
	if err != nil {
		return err
	}
	defer t.end(w)

	if err := t.send(protocol.New(protocol.CmdStartRanging)); err != nil {
		return err
	}

	msg, err := t.await(ctx, w)
	if err != nil {
		t.restoreSessionState()
		return err
	}
	if msg.Is(protocol.CmdRangingDenied) {
		t.restoreSessionState()
		return denial(msg)
	}

	t.mu.Lock()
	t.rangingActive = true
	t.mu.Unlock()
	t.smoother.Reset()
	t.setState(StateRangingPending, "ranging granted")
	return nil
}

// RangeOnce performs one exchange, reports the distance to the Anchor and
// returns the measurement with the smoothed distance.
func (t *Tag) RangeOnce(ctx context.Context) (*ranging.Measurement, float64, error) {
	if t.initiator == nil {
		return nil, 0, ErrNoRadio
	}
	t.mu.Lock()
	active := t.rangingActive
	t.mu.Unlock()
	if !active {
		return nil, 0, ErrRangingNotStarted
	}

	m, err := t.initiator.Range(ctx)
	em := t.emitterSnapshot()
	if err != nil {
		em.Ranging(log.RangingEvent{Outcome: outcome(err)})
		return nil, 0, fmt.Errorf("range: %w", err)
	}

	smoothed := t.smoother.Add(m.DistanceM)
	em.Ranging(log.RangingEvent{
		Seq:              m.Seq,
		PollTxTS:         m.PollTxTS,
		PollRxTS:         m.PollRxTS,
		RespTxTS:         m.RespTxTS,
		RespRxTS:         m.RespRxTS,
		ClockOffsetRatio: m.ClockOffsetRatio,
		DistanceM:        m.DistanceM,
		Outcome:          "OK",
	})

	report := strconv.FormatFloat(m.DistanceM, 'f', 2, 64)
	if err := t.send(protocol.WithPayload(protocol.CmdDistance, report)); err != nil {
		t.logger.Debug("fsm: distance report not sent", "error", err)
	}
	return m, smoothed, nil
}

// RangeLoop calls RangeOnce every interval until ctx ends or ranging stops.
// Failed attempts are passed to fn with a nil measurement.
func (t *Tag) RangeLoop(ctx context.Context, interval time.Duration, fn func(*ranging.Measurement, float64, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m, smoothed, err := t.RangeOnce(ctx)
		if errors.Is(err, ErrRangingNotStarted) || errors.Is(err, ErrNoRadio) {
			return err
		}
		if fn != nil {
			fn(m, smoothed, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// StopRanging stops local ranging. The Anchor disarms when its session
// expires or the link drops; a later StartRanging re-arms it.
func (t *Tag) StopRanging() {
	t.mu.Lock()
	t.rangingActive = false
	t.mu.Unlock()
	t.restoreSessionState()
}

func (t *Tag) restoreSessionState() {
	t.mu.Lock()
	connected := t.conn != nil
	armed := t.rangingActive
	t.mu.Unlock()

	switch {
	case !connected:
		t.setState(StateIdle, "disconnected")
	case armed && t.session.IsValid():
		t.setState(StateRangingPending, "request done")
	case t.session.IsValid():
		t.setState(StateSessionEstablished, "request done")
	default:
		t.setState(StateConnected, "session expired")
	}
}

func denial(msg protocol.Message) error {
	if msg.Payload == protocol.ReasonNoSession {
		return fmt.Errorf("%w: %w", ErrDenied, ErrNoSession)
	}
	if msg.Payload == protocol.ReasonUnavailable {
		return fmt.Errorf("%w: %w", ErrDenied, ErrNoRadio)
	}
	return fmt.Errorf("%w: %s", ErrDenied, msg.Payload)
}

func (t *Tag) setState(s State, reason string) {
	t.mu.Lock()
	old := t.state
	t.state = s
	em := t.connEmitter
	t.mu.Unlock()

	if old != s {
		em.State(log.LayerCommand, log.StateEntityProtocol, old.String(), s.String(), reason)
	}
}

func (t *Tag) emitterSnapshot() *log.Emitter {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connEmitter
}
