package fsm

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/proxkey/proxkey-go/pkg/link"
	"github.com/proxkey/proxkey-go/pkg/log"
	"github.com/proxkey/proxkey-go/pkg/protocol"
	"github.com/proxkey/proxkey-go/pkg/ranging"
	"github.com/proxkey/proxkey-go/pkg/session"
	"github.com/proxkey/proxkey-go/pkg/vehicle"
)

// AnchorConfig configures an Anchor.
type AnchorConfig struct {
	// Session holds the pairing key and the live session. Required.
	Session *session.Manager

	// Responder answers ranging polls. Nil denies START_RANGING.
	Responder *ranging.Responder

	// Lock is actuated when an unlock is granted (optional).
	Lock *vehicle.Lock

	// KeyExchangeTimeout bounds an unfinished key exchange.
	KeyExchangeTimeout time.Duration

	// EventBuffer is the link event queue length.
	EventBuffer int

	// OnIdle runs on the loop after a disconnect, e.g. to re-advertise.
	OnIdle func()

	// Now returns the current time. Nil means time.Now.
	Now func() time.Time

	// Emitter captures protocol events (optional).
	Emitter *log.Emitter

	// Logger for operational messages. Nil uses slog.Default().
	Logger *slog.Logger
}

// Anchor is the vehicle side of the command protocol.
type Anchor struct {
	session   *session.Manager
	responder *ranging.Responder
	lock      *vehicle.Lock
	kxTimeout time.Duration
	onIdle    func()
	now       func() time.Time
	emitter   *log.Emitter
	logger    *slog.Logger

	events chan link.Event

	mu          sync.Mutex
	state       State
	conn        link.Conn
	connEmitter *log.Emitter

	exchanging  bool
	kxStarted   time.Time
	anchorNonce []byte
	tagNonce    []byte

	// confirmPending holds privileged requests until a Tag that sent a
	// nonce proves the session key.
	confirmPending bool

	unlockPending bool
	rangingArmed  bool

	lastDistance float64
	haveDistance bool
}

// NewAnchor creates an Anchor in StateIdle.
func NewAnchor(cfg AnchorConfig) (*Anchor, error) {
	if cfg.Session == nil {
		return nil, errors.New("fsm: session manager is required")
	}
	if cfg.KeyExchangeTimeout <= 0 {
		cfg.KeyExchangeTimeout = DefaultKeyExchangeTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Anchor{
		session:   cfg.Session,
		responder: cfg.Responder,
		lock:      cfg.Lock,
		kxTimeout: cfg.KeyExchangeTimeout,
		onIdle:    cfg.OnIdle,
		now:       cfg.Now,
		emitter:   cfg.Emitter,
		logger:    cfg.Logger,
		events:    make(chan link.Event, cfg.EventBuffer),
		state:     StateIdle,
	}, nil
}

// Events returns the queue link implementations deliver to.
func (a *Anchor) Events() chan<- link.Event {
	return a.events
}

// State returns the current state.
func (a *Anchor) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Connected reports whether a Tag is connected.
func (a *Anchor) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

// UnlockPending reports whether a granted unlock awaits actuation.
func (a *Anchor) UnlockPending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unlockPending
}

// RangingArmed reports whether the responder is armed.
func (a *Anchor) RangingArmed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rangingArmed
}

// LastDistance returns the most recent distance the Tag reported.
func (a *Anchor) LastDistance() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastDistance, a.haveDistance
}

// Run processes events until ctx ends. While ranging is armed it alternates
// between draining events and answering one poll.
func (a *Anchor) Run(ctx context.Context) error {
	for {
		if a.RangingArmed() {
			if err := ctx.Err(); err != nil {
				return err
			}
			a.Tick(ctx)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.events:
			a.handleEvent(ev)
			a.Tick(ctx)
		}
	}
}

// Tick drains queued events, actuates a pending unlock and, while ranging
// is armed and the session valid, answers at most one poll. It reports
// whether any work was done.
func (a *Anchor) Tick(ctx context.Context) bool {
	worked := false
	for {
		select {
		case ev := <-a.events:
			a.handleEvent(ev)
			worked = true
			continue
		default:
		}
		break
	}

	if a.actuateUnlock() {
		worked = true
	}
	if a.respond(ctx) {
		worked = true
	}
	return worked
}

func (a *Anchor) handleEvent(ev link.Event) {
	switch ev.Type {
	case link.EventConnected:
		a.onConnected(ev.Conn)
	case link.EventDisconnected:
		a.onDisconnected(ev.Conn, ev.Err)
	case link.EventMessage:
		a.mu.Lock()
		current := a.conn != nil && ev.Conn != nil && a.conn.ID() == ev.Conn.ID()
		a.mu.Unlock()
		if !current {
			a.logger.Debug("fsm: message from stale connection dropped")
			return
		}
		a.onMessage(ev.Data)
	}
}

func (a *Anchor) onConnected(conn link.Conn) {
	a.mu.Lock()
	if a.conn != nil {
		a.mu.Unlock()
		a.logger.Warn("fsm: second connection refused", "remote", conn.RemoteAddr())
		conn.Close()
		return
	}
	a.conn = conn
	a.connEmitter = a.emitter.WithConnection(conn.ID(), conn.RemoteAddr())
	a.mu.Unlock()

	a.logger.Info("fsm: tag connected", "remote", conn.RemoteAddr())
	a.setState(StateConnected, "connected")
	a.send(protocol.New(protocol.CmdAnchorReady))
}

// onDisconnected is a hard reset: session, nonces and flags are dropped.
func (a *Anchor) onDisconnected(conn link.Conn, cause error) {
	a.mu.Lock()
	if a.conn == nil || conn == nil || a.conn.ID() != conn.ID() {
		a.mu.Unlock()
		return
	}
	a.conn = nil
	a.exchanging = false
	a.anchorNonce = nil
	a.tagNonce = nil
	a.confirmPending = false
	a.unlockPending = false
	a.rangingArmed = false
	em := a.connEmitter
	a.mu.Unlock()

	a.session.Clear()
	em.State(log.LayerSession, log.StateEntitySession, "", "CLEARED", "disconnect")
	a.logger.Info("fsm: tag disconnected, session cleared", "cause", cause)
	a.setState(StateIdle, "disconnected")

	if a.onIdle != nil {
		a.onIdle()
	}
}

func (a *Anchor) onMessage(data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		a.logger.Warn("fsm: malformed message ignored", "error", err)
		a.connEmitterSnapshot().Error(log.LayerCommand, err, "parse")
		return
	}
	a.connEmitterSnapshot().Command(log.DirectionIn, msg.Command, msg.Payload, msg.Known())

	switch msg.Command {
	case protocol.CmdKeyExchangeInit:
		a.handleKeyExchange(msg)
	case protocol.CmdSessionEstablished:
		a.handleSessionEstablished(msg)
	case protocol.CmdUnlockRequest:
		a.handleUnlock()
	case protocol.CmdStartRanging:
		a.handleStartRanging()
	case protocol.CmdDistance:
		a.handleDistance(msg)
	default:
		a.logger.Info("fsm: unknown command ignored", "command", msg.Command)
	}
}

func (a *Anchor) handleKeyExchange(msg protocol.Message) {
	a.mu.Lock()
	if a.exchanging && a.now().Sub(a.kxStarted) < a.kxTimeout {
		a.mu.Unlock()
		a.send(protocol.New(protocol.CmdBusy))
		return
	}
	a.exchanging = true
	a.kxStarted = a.now()
	a.confirmPending = false
	a.unlockPending = false
	a.rangingArmed = false
	a.mu.Unlock()

	// A new exchange replaces any previous session.
	a.session.Clear()
	a.setState(StateKeyExchanging, "key exchange")

	var tagNonce []byte
	if msg.HasPayload && msg.Payload != "" {
		n, err := hex.DecodeString(msg.Payload)
		if err != nil || len(n) != session.NonceSize {
			a.abortExchange(protocol.CmdSessionFailed, "malformed tag nonce")
			return
		}
		tagNonce = n
	}

	// Pick up material provisioned while the Anchor was running.
	a.session.ReloadPairing()
	pk, ok := a.session.PairingKey()
	if !ok {
		a.abortExchange(protocol.CmdKeyVerifyFailed, "no pairing key")
		return
	}

	anchorNonce, err := session.NewNonce()
	if err != nil {
		a.abortExchange(protocol.CmdSessionFailed, "nonce generation failed")
		return
	}
	a.send(protocol.WithPayload(protocol.CmdChallenge, hex.EncodeToString(anchorNonce)))

	key, err := session.DeriveSessionKey(pk.PairingKey, anchorNonce, tagNonce)
	if err != nil || !a.session.CreateSession(key) {
		a.abortExchange(protocol.CmdSessionFailed, "session creation failed")
		return
	}

	a.mu.Lock()
	a.anchorNonce = anchorNonce
	a.tagNonce = tagNonce
	a.confirmPending = len(tagNonce) > 0
	em := a.connEmitter
	a.mu.Unlock()

	em.State(log.LayerSession, log.StateEntitySession, "NONE", "ACTIVE", "key exchange")
	a.setState(StateSessionEstablished, "key verified")
	a.send(protocol.New(protocol.CmdKeyVerifyOK))
}

func (a *Anchor) abortExchange(reply, reason string) {
	a.mu.Lock()
	a.exchanging = false
	a.mu.Unlock()

	a.logger.Warn("fsm: key exchange failed", "reason", reason)
	a.connEmitterSnapshot().Error(log.LayerSession, errors.New(reason), "key exchange")
	a.setState(StateConnected, reason)
	a.send(protocol.New(reply))
}

func (a *Anchor) handleSessionEstablished(msg protocol.Message) {
	a.mu.Lock()
	pending := a.confirmPending
	anchorNonce, tagNonce := a.anchorNonce, a.tagNonce
	a.exchanging = false
	a.mu.Unlock()

	key, valid := a.session.SessionKey()
	if !valid {
		a.send(protocol.New(protocol.CmdSessionFailed))
		a.setState(StateConnected, "no session")
		return
	}

	if pending {
		confirm, err := hex.DecodeString(msg.Payload)
		if err != nil || !msg.HasPayload || !session.VerifyConfirm(key, anchorNonce, tagNonce, confirm) {
			a.mu.Lock()
			a.confirmPending = false
			a.mu.Unlock()
			a.session.Clear()
			a.connEmitterSnapshot().State(log.LayerSession, log.StateEntitySession, "ACTIVE", "CLEARED", "confirm mismatch")
			a.logger.Warn("fsm: session confirm mismatch, session cleared")
			a.setState(StateConnected, "confirm mismatch")
			a.send(protocol.New(protocol.CmdSessionFailed))
			return
		}
	}

	a.mu.Lock()
	a.confirmPending = false
	a.mu.Unlock()

	if !a.State().hasSession() {
		a.setState(StateSessionEstablished, "session confirmed")
	}
	a.logger.Info("fsm: session established with tag")
	a.send(protocol.New(protocol.CmdSessionOK))
}

func (a *Anchor) handleUnlock() {
	// Validity is evaluated now, never cached from the key exchange.
	if !a.authorized() {
		a.deny(protocol.CmdUnlockDenied, "unlock")
		return
	}

	a.mu.Lock()
	a.unlockPending = true
	a.mu.Unlock()

	a.setState(StateUnlockPending, "unlock granted")
	a.send(protocol.New(protocol.CmdUnlockOK))
}

func (a *Anchor) handleStartRanging() {
	if !a.authorized() {
		a.deny(protocol.CmdRangingDenied, "ranging")
		return
	}
	if a.responder == nil {
		a.send(protocol.WithPayload(protocol.CmdRangingDenied, protocol.ReasonUnavailable))
		return
	}

	// START_RANGING while armed re-arms and succeeds.
	a.mu.Lock()
	rearm := a.rangingArmed
	a.rangingArmed = true
	a.mu.Unlock()

	if rearm {
		a.logger.Debug("fsm: ranging re-armed")
	}
	a.setState(StateRangingPending, "ranging armed")
	a.send(protocol.New(protocol.CmdRangingOK))
}

// authorized reports whether a privileged request may proceed right now.
func (a *Anchor) authorized() bool {
	if !a.session.IsValid() {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.confirmPending
}

func (a *Anchor) deny(cmd, what string) {
	a.mu.Lock()
	a.exchanging = false
	a.mu.Unlock()

	a.logger.Info("fsm: request denied without session", "request", what)
	if a.State().hasSession() {
		a.setState(StateConnected, "session invalid")
	}
	a.send(protocol.WithPayload(cmd, protocol.ReasonNoSession))
}

func (a *Anchor) handleDistance(msg protocol.Message) {
	d, err := strconv.ParseFloat(msg.Payload, 64)
	if err != nil {
		a.logger.Info("fsm: unparsable distance report", "payload", msg.Payload)
		return
	}

	a.mu.Lock()
	a.lastDistance = d
	a.haveDistance = true
	a.mu.Unlock()

	a.logger.Info("fsm: distance reported", "meters", d)
}

// actuateUnlock consumes the unlock flag.
func (a *Anchor) actuateUnlock() bool {
	a.mu.Lock()
	if !a.unlockPending {
		a.mu.Unlock()
		return false
	}
	a.unlockPending = false
	a.mu.Unlock()

	if a.lock != nil {
		if err := a.lock.Unlock(); err != nil {
			a.logger.Error("fsm: unlock failed", "error", err)
			a.connEmitterSnapshot().Error(log.LayerVehicle, err, "unlock")
		}
	}
	if a.State() == StateUnlockPending {
		if a.RangingArmed() {
			a.setState(StateRangingPending, "unlock actuated")
		} else {
			a.setState(StateSessionEstablished, "unlock actuated")
		}
	}
	return true
}

// respond answers one poll while ranging is armed. The responder's own
// receive timeout bounds the call.
func (a *Anchor) respond(ctx context.Context) bool {
	a.mu.Lock()
	armed := a.rangingArmed
	em := a.connEmitter
	a.mu.Unlock()
	if !armed {
		return false
	}

	if !a.session.IsValid() {
		a.mu.Lock()
		a.rangingArmed = false
		a.mu.Unlock()
		a.logger.Info("fsm: session expired, ranging disarmed")
		a.setState(StateConnected, "session expired")
		return true
	}

	ex, err := a.responder.RespondOnce(ctx)
	switch {
	case err == nil:
		em.Ranging(log.RangingEvent{
			Seq:      ex.PollSeq,
			PollRxTS: ex.PollRxTS,
			RespTxTS: ex.RespTxTS,
			Outcome:  "OK",
		})
	case errors.Is(err, ranging.ErrRxTimeout):
		a.logger.Debug("fsm: no poll received")
	default:
		a.logger.Warn("fsm: ranging exchange failed", "error", err)
		em.Ranging(log.RangingEvent{Outcome: outcome(err)})
	}
	return true
}

func (a *Anchor) setState(s State, reason string) {
	a.mu.Lock()
	old := a.state
	a.state = s
	em := a.connEmitter
	a.mu.Unlock()

	if old != s {
		em.State(log.LayerCommand, log.StateEntityProtocol, old.String(), s.String(), reason)
	}
}

func (a *Anchor) connEmitterSnapshot() *log.Emitter {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connEmitter
}

func (a *Anchor) send(msg protocol.Message) {
	a.mu.Lock()
	conn := a.conn
	em := a.connEmitter
	a.mu.Unlock()

	if conn == nil {
		a.logger.Debug("fsm: cannot send, not connected", "command", msg.Command)
		return
	}
	if err := conn.Send(msg.Bytes()); err != nil {
		a.logger.Warn("fsm: send failed", "command", msg.Command, "error", err)
		em.Error(log.LayerLink, err, "send "+msg.Command)
		return
	}
	em.Command(log.DirectionOut, msg.Command, msg.Payload, true)
}

// outcome labels a ranging error for event capture.
func outcome(err error) string {
	switch {
	case errors.Is(err, ranging.ErrRxTimeout):
		return "TIMEOUT"
	case errors.Is(err, ranging.ErrRxError):
		return "RX_ERROR"
	case errors.Is(err, ranging.ErrFrameMismatch):
		return "MISMATCH"
	case errors.Is(err, ranging.ErrTxLate):
		return "TX_LATE"
	case errors.Is(err, ranging.ErrBusy):
		return "BUSY"
	default:
		return "ERROR"
	}
}
