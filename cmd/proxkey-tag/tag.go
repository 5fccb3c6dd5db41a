package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/proxkey/proxkey-go/pkg/config"
	"github.com/proxkey/proxkey-go/pkg/connection"
	"github.com/proxkey/proxkey-go/pkg/discovery"
	"github.com/proxkey/proxkey-go/pkg/fsm"
	"github.com/proxkey/proxkey-go/pkg/keystore"
	"github.com/proxkey/proxkey-go/pkg/link"
	pklog "github.com/proxkey/proxkey-go/pkg/log"
	"github.com/proxkey/proxkey-go/pkg/pairing"
	"github.com/proxkey/proxkey-go/pkg/persistence"
	"github.com/proxkey/proxkey-go/pkg/ranging"
	"github.com/proxkey/proxkey-go/pkg/session"
)

// tagWaitMargin covers the Anchor servicing its radio between link events.
const tagWaitMargin = 250 * time.Millisecond

// node holds everything a Tag process needs.
type node struct {
	cfg    config.TagConfig
	logger *slog.Logger

	vault   *keystore.Vault
	session *session.Manager
	pairer  *pairing.Pairer
	state   *persistence.TagStateStore
	tag     *fsm.Tag

	air   *ranging.UDPAir
	radio *ranging.SimRadio

	mu       sync.Mutex
	interval time.Duration

	closers []func() error
}

// newNode wires the key store, pairing, radio and state machine. The state
// machine is not started; call tag.Run.
func newNode(cfg *config.Config, logger *slog.Logger) (*node, error) {
	tc := cfg.Tag
	n := &node{cfg: tc, logger: logger, interval: tc.RangingInterval()}

	n.vault = keystore.NewVault(keystore.NewFileStore(keysDir(cfg)), keystore.TagNamespaces)
	n.session = session.NewManager(n.vault, session.Config{
		Timeout: tc.SessionTimeout(),
		Logger:  logger,
	})
	if n.session.Restore() {
		log.Printf("Restored session for %s", tc.VehicleID)
	}
	n.state = persistence.NewTagStateStore(statePath(cfg))

	emitter, err := n.newEmitter(cfg)
	if err != nil {
		n.Close()
		return nil, err
	}

	n.pairer, err = pairing.NewPairer(pairing.Config{
		Authority: pairing.NewHTTPAuthority(cfg.Authority.URL, cfg.Authority.Timeout()),
		Vault:     n.vault,
		VehicleID: tc.VehicleID,
		Emitter:   emitter,
		Logger:    logger,
	})
	if err != nil {
		n.Close()
		return nil, err
	}

	var initiator *ranging.Initiator
	if tc.RadioListen != "" {
		initiator, err = n.openRadio()
		if err != nil {
			n.Close()
			return nil, err
		}
	}

	dialer := &link.TCPDialer{
		Address: tc.AnchorAddr,
		Emitter: emitter,
	}
	if tc.AnchorAddr == "" {
		browser := discovery.NewBrowser(discovery.Config{
			ServiceType: tc.ServiceType,
			Logger:      logger,
		})
		find := func(ctx context.Context) (*discovery.AnchorService, error) {
			return browser.FindAnchor(ctx, tc.VehicleID, tc.ServiceUUID)
		}
		dialer.Resolve = resolveAnchor(find, n.state, tc.VehicleID, n.setRangingPeer, logger)
	}

	n.tag, err = fsm.NewTag(fsm.TagConfig{
		Session:   n.session,
		Dialer:    dialer,
		Initiator: initiator,
		Reconnect: connection.Config{
			Backoff: connection.BackoffConfig{
				Initial:    tc.ReconnectInitial(),
				Max:        tc.ReconnectMax(),
				Multiplier: connection.BackoffMultiplier,
				Jitter:     connection.JitterFactor,
			},
			AttemptTimeout: connection.DefaultAttemptTimeout,
			AutoReconnect:  true,
			Logger:         logger,
		},
		AutoKeyExchange: tc.AutoKeyExchange,
		ResponseTimeout: tc.ResponseTimeout(),
		SmoothingWindow: tc.SmoothingWindow,
		Emitter:         emitter,
		Logger:          logger,
	})
	if err != nil {
		n.Close()
		return nil, err
	}
	n.closers = append(n.closers, n.tag.Close)
	return n, nil
}

func (n *node) newEmitter(cfg *config.Config) (*pklog.Emitter, error) {
	if cfg.Logging.CaptureFile == "" {
		return nil, nil
	}
	fl, err := pklog.NewFileLogger(cfg.Logging.CaptureFile)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	n.closers = append(n.closers, fl.Close)
	log.Printf("Capturing protocol events to %s", fl.Path())
	return &pklog.Emitter{
		Logger:    fl,
		Role:      pklog.RoleTag,
		VehicleID: n.cfg.VehicleID,
	}, nil
}

func (n *node) openRadio() (*ranging.Initiator, error) {
	tc := n.cfg

	peer := tc.RadioPeer
	if peer == "" {
		if st, err := n.state.Load(); err == nil && st != nil && st.VehicleID == tc.VehicleID {
			peer = st.RangingAddr
		}
	}

	air, err := ranging.NewUDPAir(tc.RadioListen, peer)
	if err != nil {
		return nil, fmt.Errorf("open radio: %w", err)
	}
	n.air = air
	n.closers = append(n.closers, air.Close)

	n.radio = ranging.NewSimRadio(air, ranging.SimConfig{
		DistanceM: tc.SimDistanceM,
		DriftPPM:  tc.SimDriftPPM,
	})
	rcfg := ranging.DefaultConfig()
	rcfg.WaitMargin = tagWaitMargin
	initiator, err := ranging.NewInitiator(n.radio, rcfg)
	if err != nil {
		return nil, fmt.Errorf("radio init: %w", err)
	}
	log.Printf("Simulated radio on %s", air.LocalAddr())
	return initiator, nil
}

// setRangingPeer points the radio at a discovered Anchor radio unless a
// peer was configured.
func (n *node) setRangingPeer(addr string) error {
	if n.air == nil || n.cfg.RadioPeer != "" || addr == "" {
		return nil
	}
	return n.air.SetRemote(addr)
}

// applyConfig takes the settings that can change while running. The
// simulated distance applies at once, the interval to the next range loop.
func (n *node) applyConfig(tc config.TagConfig) {
	if n.radio != nil {
		n.radio.SetDistance(tc.SimDistanceM)
	}
	n.mu.Lock()
	n.interval = tc.RangingInterval()
	n.mu.Unlock()
	n.logger.Info("tag: settings reloaded", "distance_m", tc.SimDistanceM, "ranging_interval", tc.RangingInterval())
}

func (n *node) rangingInterval() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.interval
}

// recordConnected stamps the cached state with the connection time.
func (n *node) recordConnected() {
	err := n.state.Update(func(st *persistence.TagState) {
		if st.VehicleID != n.cfg.VehicleID {
			*st = persistence.TagState{}
		}
		st.VehicleID = n.cfg.VehicleID
		st.LastConnected = time.Now()
	})
	if err != nil {
		n.logger.Warn("tag: state not saved", "error", err)
	}
}

func (n *node) recordDistance(m float64) {
	err := n.state.Update(func(st *persistence.TagState) {
		st.VehicleID = n.cfg.VehicleID
		st.LastDistanceM = m
	})
	if err != nil {
		n.logger.Warn("tag: state not saved", "error", err)
	}
}

// Close releases the link, radio and capture file.
func (n *node) Close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	return errors.Join(errs...)
}

// resolveAnchor returns a link resolver that browses for the Anchor and
// caches what it finds. When browsing fails, the last cached address for
// the same vehicle is used.
func resolveAnchor(
	find func(ctx context.Context) (*discovery.AnchorService, error),
	store *persistence.TagStateStore,
	vehicleID string,
	setRangingPeer func(string) error,
	logger *slog.Logger,
) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		svc, err := find(ctx)
		if err == nil {
			addr, aerr := svc.Addr()
			if aerr == nil {
				rangingAddr := svc.RangingAddr()
				if perr := setRangingPeer(rangingAddr); perr != nil {
					logger.Warn("tag: ranging peer not set", "addr", rangingAddr, "error", perr)
				}
				uerr := store.Update(func(st *persistence.TagState) {
					st.VehicleID = vehicleID
					st.AnchorAddr = addr
					st.RangingAddr = rangingAddr
				})
				if uerr != nil {
					logger.Warn("tag: state not saved", "error", uerr)
				}
				return addr, nil
			}
			err = aerr
		}

		st, lerr := store.Load()
		if lerr != nil || st == nil || st.VehicleID != vehicleID || st.AnchorAddr == "" {
			return "", err
		}
		logger.Info("tag: discovery failed, using cached address", "addr", st.AnchorAddr, "error", err)
		if perr := setRangingPeer(st.RangingAddr); perr != nil {
			logger.Warn("tag: ranging peer not set", "addr", st.RangingAddr, "error", perr)
		}
		return st.AnchorAddr, nil
	}
}
