package main

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/proxkey/proxkey-go/pkg/fsm"
	pklog "github.com/proxkey/proxkey-go/pkg/log"
	"github.com/proxkey/proxkey-go/pkg/persistence"
	"github.com/proxkey/proxkey-go/pkg/protocol"
	"github.com/proxkey/proxkey-go/pkg/vehicle"
)

// anchorPollTimeout bounds one responder receive-wait so link events are
// not held up while ranging is armed.
const anchorPollTimeout = 200 * time.Millisecond

// stateRecorder folds protocol events into the persisted Anchor state.
type stateRecorder struct {
	store  *persistence.AnchorStateStore
	logger *slog.Logger
}

func newStateRecorder(store *persistence.AnchorStateStore, logger *slog.Logger) *stateRecorder {
	return &stateRecorder{store: store, logger: logger}
}

// Log implements log.Logger.
func (r *stateRecorder) Log(ev pklog.Event) {
	update := r.updateFor(ev)
	if update == nil {
		return
	}
	if err := r.store.Update(update); err != nil {
		r.logger.Warn("anchor: state not saved", "error", err)
	}
}

func (r *stateRecorder) updateFor(ev pklog.Event) func(*persistence.AnchorState) {
	switch {
	case ev.StateChange != nil:
		sc := ev.StateChange
		switch {
		case sc.Entity == pklog.StateEntityProtocol &&
			sc.OldState == fsm.StateIdle.String() && sc.NewState == fsm.StateConnected.String():
			return func(s *persistence.AnchorState) { s.Counters.Connections++ }

		case sc.Entity == pklog.StateEntityLock && sc.NewState == vehicle.StateUnlocked.String():
			at := ev.Timestamp
			return func(s *persistence.AnchorState) {
				s.Counters.Unlocks++
				s.Lock = persistence.LockSnapshot{Locked: false, UnlockedAt: at}
			}

		case sc.Entity == pklog.StateEntityLock && sc.NewState == vehicle.StateLocked.String():
			return func(s *persistence.AnchorState) {
				s.Lock = persistence.LockSnapshot{Locked: true, UnlockedAt: s.Lock.UnlockedAt}
			}
		}

	case ev.Command != nil && ev.Direction == pklog.DirectionOut:
		switch ev.Command.Token {
		case protocol.CmdKeyVerifyOK:
			return func(s *persistence.AnchorState) { s.Counters.KeyExchanges++ }
		case protocol.CmdKeyVerifyFailed, protocol.CmdUnlockDenied, protocol.CmdRangingDenied:
			return func(s *persistence.AnchorState) { s.Counters.Denials++ }
		}

	case ev.Command != nil && ev.Direction == pklog.DirectionIn && ev.Command.Token == protocol.CmdDistance:
		d, err := strconv.ParseFloat(ev.Command.Payload, 64)
		if err != nil {
			return nil
		}
		return func(s *persistence.AnchorState) { s.LastDistanceM = d }
	}
	return nil
}

// relockAfterRestart drives the actuator locked when the Anchor stopped
// while the vehicle was unlocked.
func relockAfterRestart(store *persistence.AnchorStateStore, actuator vehicle.Actuator) error {
	state, err := store.Load()
	if err != nil || state == nil || state.Lock.Locked {
		return err
	}
	if err := actuator.SetLocked(true); err != nil {
		return err
	}
	return store.Update(func(s *persistence.AnchorState) {
		s.Lock.Locked = true
	})
}
