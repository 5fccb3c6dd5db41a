package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Manager errors.
var (
	ErrClosed           = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
)

// DefaultAttemptTimeout bounds a single dial attempt.
const DefaultAttemptTimeout = 10 * time.Second

// State is the link state as seen by the Tag.
type State uint8

const (
	// StateDisconnected means no link and no reconnect pending.
	StateDisconnected State = iota

	// StateConnecting means a dial is in progress.
	StateConnecting

	// StateConnected means the link is up.
	StateConnected

	// StateReconnecting means the manager is waiting to redial.
	StateReconnecting

	// StateClosed means the manager was shut down.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DialFunc opens the link. It returns nil once the connection is up.
type DialFunc func(ctx context.Context) error

// Config configures a Manager.
type Config struct {
	// Backoff parameters for redials.
	Backoff BackoffConfig

	// AttemptTimeout bounds each dial. Default DefaultAttemptTimeout.
	AttemptTimeout time.Duration

	// AutoReconnect redials after a lost link or failed dial.
	AutoReconnect bool

	// Logger for reconnect progress. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns auto-reconnect with default backoff.
func DefaultConfig() Config {
	return Config{
		Backoff:        DefaultBackoffConfig(),
		AttemptTimeout: DefaultAttemptTimeout,
		AutoReconnect:  true,
	}
}

// Manager dials the link and redials it with backoff when it drops.
type Manager struct {
	mu sync.RWMutex

	state         State
	dial          DialFunc
	backoff       *Backoff
	autoReconnect bool
	timeout       time.Duration
	logger        *slog.Logger
	onStateChange func(oldState, newState State)

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	triggerCh chan struct{}
}

// NewManager creates a manager and starts its reconnect loop.
func NewManager(dial DialFunc, cfg Config) *Manager {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		state:         StateDisconnected,
		dial:          dial,
		backoff:       NewBackoffWithConfig(cfg.Backoff),
		autoReconnect: cfg.AutoReconnect,
		timeout:       cfg.AttemptTimeout,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		triggerCh:     make(chan struct{}, 1),
	}

	m.wg.Add(1)
	go m.loop()
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether the link is up.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Attempts returns the redial attempts since the last success.
func (m *Manager) Attempts() int {
	return m.backoff.Attempts()
}

// OnStateChange sets a callback for state transitions. It runs on the
// goroutine that caused the transition.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// Connect dials once. On failure with auto-reconnect enabled, redialing
// continues in the background and the dial error is still returned.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.transition(func(s State) bool { return s == StateDisconnected || s == StateReconnecting }, StateConnecting) {
		switch m.State() {
		case StateClosed:
			return ErrClosed
		default:
			return ErrAlreadyConnected
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.dial(attemptCtx)
	cancel()

	if err == nil {
		m.backoff.Reset()
		m.transition(isState(StateConnecting), StateConnected)
		return nil
	}

	m.logger.Warn("connection: dial failed", "error", err)
	m.lost()
	return err
}

// ConnectionLost reports that an established link dropped.
func (m *Manager) ConnectionLost() {
	if m.State() != StateConnected {
		return
	}
	m.lost()
}

// Close stops reconnecting. It does not close the link itself.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = StateClosed
	fn := m.onStateChange
	m.mu.Unlock()

	if fn != nil {
		fn(old, StateClosed)
	}
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) lost() {
	next := StateDisconnected
	if m.autoReconnect {
		next = StateReconnecting
	}
	if !m.transition(func(s State) bool { return s != StateClosed }, next) {
		return
	}
	if next == StateReconnecting {
		select {
		case m.triggerCh <- struct{}{}:
		default:
		}
	}
}

// transition moves to next if allowed(current) and fires the callback.
func (m *Manager) transition(allowed func(State) bool, next State) bool {
	m.mu.Lock()
	old := m.state
	if !allowed(old) {
		m.mu.Unlock()
		return false
	}
	m.state = next
	fn := m.onStateChange
	m.mu.Unlock()

	if fn != nil && old != next {
		fn(old, next)
	}
	return true
}

func isState(s State) func(State) bool {
	return func(cur State) bool { return cur == s }
}

func (m *Manager) loop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.triggerCh:
			m.redial()
		}
	}
}

// redial waits out the backoff and dials until one attempt succeeds, the
// state leaves Reconnecting, or the manager closes.
func (m *Manager) redial() {
	for m.State() == StateReconnecting {
		delay := m.backoff.Next()
		m.logger.Info("connection: reconnecting", "attempt", m.backoff.Attempts(), "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !m.transition(isState(StateReconnecting), StateConnecting) {
			return
		}

		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		err := m.dial(ctx)
		cancel()

		if err == nil {
			m.backoff.Reset()
			m.transition(isState(StateConnecting), StateConnected)
			m.logger.Info("connection: reconnected")
			return
		}

		m.logger.Debug("connection: redial failed", "error", err)
		m.transition(isState(StateConnecting), StateReconnecting)
	}
}
