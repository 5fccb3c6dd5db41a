package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/proxkey/proxkey-go/pkg/config"
	"github.com/proxkey/proxkey-go/pkg/fsm"
	"github.com/proxkey/proxkey-go/pkg/keystore"
	"github.com/proxkey/proxkey-go/pkg/persistence"
	"github.com/proxkey/proxkey-go/pkg/session"
)

func pairOnce(ctx context.Context, cfg *config.Config) error {
	n, err := newNode(cfg, cfg.Logging.NewLogger(os.Stderr))
	if err != nil {
		return err
	}
	defer n.Close()

	pk, err := n.pairer.Pair(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Paired with %s (pairing %s)\n", cfg.Tag.VehicleID, pk.PairingID)
	return nil
}

// unlockOnce connects, runs a key exchange unless a session is still valid,
// and requests one unlock.
func unlockOnce(ctx context.Context, cfg *config.Config) error {
	n, err := newNode(cfg, cfg.Logging.NewLogger(os.Stderr))
	if err != nil {
		return err
	}
	defer n.Close()

	if !n.session.HasPairingKey() {
		return fmt.Errorf("not paired with %s, run 'proxkey-tag pair' first", cfg.Tag.VehicleID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go n.tag.Run(runCtx)

	if err := n.tag.Connect(ctx); err != nil {
		return err
	}
	n.recordConnected()

	if !n.session.IsValid() {
		err := n.tag.KeyExchange(ctx)
		if errors.Is(err, fsm.ErrBusy) {
			// The automatic exchange on ANCHOR_READY got there first.
			err = waitSession(ctx, n.session, n.cfg.ResponseTimeout())
		}
		if err != nil {
			return err
		}
	}
	if err := n.tag.RequestUnlock(ctx); err != nil {
		return err
	}
	log.Printf("Unlocked %s", cfg.Tag.VehicleID)
	return nil
}

func waitSession(ctx context.Context, sess *session.Manager, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !sess.IsValid() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", fsm.ErrNoSession, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func status(cfg *config.Config) error {
	vault := keystore.NewVault(keystore.NewFileStore(keysDir(cfg)), keystore.TagNamespaces)
	state, err := persistence.NewTagStateStore(statePath(cfg)).Load()
	if err != nil {
		return err
	}
	return printStatus(os.Stdout, cfg.Tag, vault, state)
}

func printStatus(out io.Writer, tc config.TagConfig, vault *keystore.Vault, state *persistence.TagState) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Vehicle:\t%s\n", tc.VehicleID)
	fmt.Fprintf(w, "Data dir:\t%s\n", tc.DataDir)

	pk, err := vault.LoadPairing()
	switch {
	case err == nil:
		fmt.Fprintf(w, "Pairing:\t%s (since %s)\n", pk.PairingID, pk.CreatedAt.Format(time.RFC3339))
	case errors.Is(err, keystore.ErrNotFound):
		fmt.Fprintf(w, "Pairing:\tnot paired\n")
	default:
		fmt.Fprintf(w, "Pairing:\tunreadable (%v)\n", err)
	}

	vk, err := vault.LoadVehicleKey()
	switch {
	case err == nil:
		fmt.Fprintf(w, "Vehicle key:\t%s (%s)\n", vk.VIN, vk.DeviceID)
	case errors.Is(err, keystore.ErrNotFound):
		fmt.Fprintf(w, "Vehicle key:\tnone\n")
	default:
		fmt.Fprintf(w, "Vehicle key:\tunreadable (%v)\n", err)
	}

	if state == nil || state.VehicleID != tc.VehicleID {
		fmt.Fprintf(w, "Anchor:\tnever connected\n")
		return nil
	}
	if state.AnchorAddr != "" {
		fmt.Fprintf(w, "Anchor:\t%s\n", state.AnchorAddr)
	}
	if state.RangingAddr != "" {
		fmt.Fprintf(w, "Radio:\t%s\n", state.RangingAddr)
	}
	if !state.LastConnected.IsZero() {
		fmt.Fprintf(w, "Last connected:\t%s\n", state.LastConnected.Format(time.RFC3339))
	}
	if state.LastDistanceM > 0 {
		fmt.Fprintf(w, "Last distance:\t%.2f m\n", state.LastDistanceM)
	}
	return nil
}
