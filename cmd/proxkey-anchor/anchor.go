package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"strconv"

	"github.com/proxkey/proxkey-go/pkg/config"
	"github.com/proxkey/proxkey-go/pkg/discovery"
	"github.com/proxkey/proxkey-go/pkg/fsm"
	"github.com/proxkey/proxkey-go/pkg/keystore"
	"github.com/proxkey/proxkey-go/pkg/link"
	pklog "github.com/proxkey/proxkey-go/pkg/log"
	"github.com/proxkey/proxkey-go/pkg/persistence"
	"github.com/proxkey/proxkey-go/pkg/ranging"
	"github.com/proxkey/proxkey-go/pkg/session"
	"github.com/proxkey/proxkey-go/pkg/vehicle"
)

func runAnchor(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ac := cfg.Anchor

	vault := keystore.NewVault(keystore.NewFileStore(keysDir(cfg)), keystore.AnchorNamespaces)
	sess := session.NewManager(vault, session.Config{
		Timeout: ac.SessionTimeout(),
		Logger:  logger,
	})
	// An Anchor session never outlives its connection.
	sess.Clear()
	if !sess.HasPairingKey() {
		log.Printf("Warning: no pairing key for %s, run 'proxkey-anchor provision' first", ac.VehicleID)
	}

	store := persistence.NewAnchorStateStore(statePath(cfg))
	actuator := vehicle.LogActuator{Logger: logger}
	if err := relockAfterRestart(store, actuator); err != nil {
		return err
	}

	loggers := []pklog.Logger{}
	if cfg.Logging.CaptureFile != "" {
		fl, err := pklog.NewFileLogger(cfg.Logging.CaptureFile)
		if err != nil {
			return fmt.Errorf("open capture file: %w", err)
		}
		defer fl.Close()
		loggers = append(loggers, fl)
		log.Printf("Capturing protocol events to %s", fl.Path())
	}
	loggers = append(loggers, newStateRecorder(store, logger))
	emitter := &pklog.Emitter{
		Logger:    pklog.NewMultiLogger(loggers...),
		Role:      pklog.RoleAnchor,
		VehicleID: ac.VehicleID,
	}

	lock := vehicle.NewLock(vehicle.Config{
		AutoLock: ac.AutoLock(),
		Actuator: actuator,
		Emitter:  emitter,
		Logger:   logger,
	})
	defer lock.Close()

	var (
		responder   *ranging.Responder
		rangingPort uint16
	)
	if ac.RadioListen != "" {
		air, err := ranging.NewUDPAir(ac.RadioListen, "")
		if err != nil {
			return fmt.Errorf("open radio: %w", err)
		}
		defer air.Close()

		simRadio := ranging.NewSimRadio(air, ranging.SimConfig{
			DistanceM: ac.SimDistanceM,
			DriftPPM:  ac.SimDriftPPM,
		})
		rcfg := ranging.DefaultConfig()
		rcfg.PollRxTimeout = anchorPollTimeout
		responder, err = ranging.NewResponder(simRadio, rcfg)
		if err != nil {
			return fmt.Errorf("radio init: %w", err)
		}
		rangingPort = udpPort(air.LocalAddr())
		log.Printf("Simulated radio on %s (%.2f m)", air.LocalAddr(), ac.SimDistanceM)
	}

	var advertiser *discovery.Advertiser
	onIdle := func() {}
	if ac.Advertise {
		advertiser = discovery.NewAdvertiser(discovery.Config{
			ServiceType: ac.ServiceType,
			Logger:      logger,
		})
		defer advertiser.Stop()
		onIdle = func() {
			go func() {
				if err := advertiser.Readvertise(); err != nil && !errors.Is(err, discovery.ErrNotFound) {
					logger.Warn("anchor: re-advertise failed", "error", err)
				}
			}()
		}
	}

	anchor, err := fsm.NewAnchor(fsm.AnchorConfig{
		Session:            sess,
		Responder:          responder,
		Lock:               lock,
		KeyExchangeTimeout: ac.KeyExchangeTimeout(),
		OnIdle:             onIdle,
		Emitter:            emitter,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	listener, err := link.Listen(link.ListenConfig{
		Address: ac.Listen,
		Emitter: emitter,
		Logger:  logger,
	}, anchor.Events())
	if err != nil {
		return err
	}
	defer listener.Close()
	log.Printf("Anchor for %s listening on %s", ac.VehicleID, listener.Addr())

	if advertiser != nil {
		err := advertiser.Advertise(discovery.AnchorInfo{
			VehicleID:          ac.VehicleID,
			ServiceUUID:        ac.ServiceUUID,
			CharacteristicUUID: ac.CharacteristicUUID,
			Port:               uint16(listener.Port()),
			RangingPort:        rangingPort,
		})
		if err != nil {
			log.Printf("Warning: mDNS advertisement failed: %v", err)
		}
	}

	err = anchor.Run(ctx)
	log.Println("Shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func udpPort(addr net.Addr) uint16 {
	if ua, ok := addr.(*net.UDPAddr); ok {
		return uint16(ua.Port)
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	n, _ := strconv.ParseUint(port, 10, 16)
	return uint16(n)
}
