package vehicle

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/proxkey/proxkey-go/pkg/log"
)

// DefaultAutoLock is the delay before an unlocked vehicle relocks.
const DefaultAutoLock = 5 * time.Second

// ErrActuator wraps actuator failures.
var ErrActuator = errors.New("lock actuator failed")

// State is the lock position.
type State uint8

const (
	// StateLocked is the resting state.
	StateLocked State = iota

	// StateUnlocked means the doors are open to the owner.
	StateUnlocked
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateLocked:
		return "LOCKED"
	case StateUnlocked:
		return "UNLOCKED"
	default:
		return "UNKNOWN"
	}
}

// Actuator drives the physical lock.
type Actuator interface {
	SetLocked(locked bool) error
}

// LogActuator is an Actuator that only logs.
type LogActuator struct {
	Logger *slog.Logger
}

// SetLocked logs the requested position.
func (a LogActuator) SetLocked(locked bool) error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if locked {
		logger.Info("vehicle: doors locked")
	} else {
		logger.Info("vehicle: doors unlocked")
	}
	return nil
}

// Config configures a Lock.
type Config struct {
	// AutoLock is the relock delay. Zero uses DefaultAutoLock.
	AutoLock time.Duration

	// Actuator drives the hardware. Nil uses LogActuator.
	Actuator Actuator

	// Emitter captures lock transitions (optional).
	Emitter *log.Emitter

	// Logger for operational messages. Nil uses slog.Default().
	Logger *slog.Logger
}

// Lock tracks the lock state and runs the auto-lock timer.
type Lock struct {
	mu sync.Mutex

	state    State
	autoLock time.Duration
	actuator Actuator
	emitter  *log.Emitter
	logger   *slog.Logger

	relockTimer *time.Timer
	relockGen   uint64
	unlockedAt  time.Time

	onChange func(oldState, newState State)
}

// NewLock creates a locked Lock.
func NewLock(cfg Config) *Lock {
	l := &Lock{
		state:    StateLocked,
		autoLock: cfg.AutoLock,
		actuator: cfg.Actuator,
		emitter:  cfg.Emitter,
		logger:   cfg.Logger,
	}
	if l.autoLock <= 0 {
		l.autoLock = DefaultAutoLock
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.actuator == nil {
		l.actuator = LogActuator{Logger: l.logger}
	}
	return l
}

// State returns the current state.
func (l *Lock) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// IsLocked reports whether the vehicle is locked.
func (l *Lock) IsLocked() bool {
	return l.State() == StateLocked
}

// AutoLock returns the relock delay.
func (l *Lock) AutoLock() time.Duration {
	return l.autoLock
}

// OnChange sets a callback for state changes.
func (l *Lock) OnChange(fn func(oldState, newState State)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = fn
}

// Unlock opens the vehicle and (re)starts the auto-lock timer.
func (l *Lock) Unlock() error {
	l.mu.Lock()

	if l.relockTimer != nil {
		l.relockTimer.Stop()
		l.relockTimer = nil
	}

	oldState := l.state
	if oldState != StateUnlocked {
		if err := l.actuator.SetLocked(false); err != nil {
			l.mu.Unlock()
			return errors.Join(ErrActuator, err)
		}
		l.state = StateUnlocked
	}
	l.unlockedAt = time.Now()

	// A fire from a superseded timer sees a newer generation and is ignored.
	l.relockGen++
	gen := l.relockGen
	l.relockTimer = time.AfterFunc(l.autoLock, func() {
		l.relock(gen)
	})

	fn := l.onChange
	l.mu.Unlock()

	if oldState != StateUnlocked {
		l.notify(fn, oldState, StateUnlocked, "unlock")
	}
	return nil
}

// Lock closes the vehicle immediately and cancels any pending auto-lock.
func (l *Lock) Lock() error {
	l.mu.Lock()
	if l.relockTimer != nil {
		l.relockTimer.Stop()
		l.relockTimer = nil
	}
	l.relockGen++
	if l.state == StateLocked {
		l.mu.Unlock()
		return nil
	}
	if err := l.actuator.SetLocked(true); err != nil {
		l.mu.Unlock()
		return errors.Join(ErrActuator, err)
	}
	l.state = StateLocked
	fn := l.onChange
	l.mu.Unlock()

	l.notify(fn, StateUnlocked, StateLocked, "lock")
	return nil
}

// RemainingUnlocked returns the time until auto-lock, or 0 when locked.
func (l *Lock) RemainingUnlocked() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateUnlocked {
		return 0
	}
	remaining := l.autoLock - time.Since(l.unlockedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Close cancels the auto-lock timer and locks the vehicle.
func (l *Lock) Close() error {
	return l.Lock()
}

func (l *Lock) relock(gen uint64) {
	l.mu.Lock()
	if gen != l.relockGen || l.state != StateUnlocked {
		l.mu.Unlock()
		return
	}
	l.relockTimer = nil

	if err := l.actuator.SetLocked(true); err != nil {
		l.mu.Unlock()
		l.logger.Error("vehicle: auto-lock failed", "error", err)
		l.emitter.Error(log.LayerVehicle, err, "auto-lock")
		return
	}
	l.state = StateLocked
	fn := l.onChange
	l.mu.Unlock()

	l.notify(fn, StateUnlocked, StateLocked, "auto-lock")
}

func (l *Lock) notify(fn func(oldState, newState State), oldState, newState State, reason string) {
	l.emitter.State(log.LayerVehicle, log.StateEntityLock, oldState.String(), newState.String(), reason)
	if fn != nil {
		fn(oldState, newState)
	}
}
