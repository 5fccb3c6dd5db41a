package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/proxkey/proxkey-go/pkg/config"
	"github.com/proxkey/proxkey-go/pkg/keystore"
	"github.com/proxkey/proxkey-go/pkg/pairing"
	"github.com/proxkey/proxkey-go/pkg/persistence"
)

func anchorVault(cfg *config.Config) *keystore.Vault {
	return keystore.NewVault(keystore.NewFileStore(keysDir(cfg)), keystore.AnchorNamespaces)
}

func provision(ctx context.Context, cfg *config.Config) error {
	client := pairing.NewHTTPAuthority(cfg.Authority.URL, cfg.Authority.Timeout())
	pk, err := pairing.ProvisionAnchor(ctx, client, anchorVault(cfg), cfg.Anchor.VehicleID)
	if err != nil {
		return err
	}
	fmt.Printf("Provisioned %s (pairing %s, created %s)\n",
		cfg.Anchor.VehicleID, pk.PairingID, pk.CreatedAt.Format(time.RFC3339))
	return nil
}

func status(cfg *config.Config) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Vehicle:\t%s\n", cfg.Anchor.VehicleID)
	fmt.Fprintf(w, "Data dir:\t%s\n", cfg.Anchor.DataDir)

	pk, err := anchorVault(cfg).LoadPairing()
	switch {
	case err == nil:
		fmt.Fprintf(w, "Pairing:\t%s (since %s)\n", pk.PairingID, pk.CreatedAt.Format(time.RFC3339))
	case errors.Is(err, keystore.ErrNotFound):
		fmt.Fprintf(w, "Pairing:\tnot provisioned\n")
	default:
		fmt.Fprintf(w, "Pairing:\tunreadable (%v)\n", err)
	}

	state, err := persistence.NewAnchorStateStore(statePath(cfg)).Load()
	if err != nil {
		return err
	}
	if state == nil {
		fmt.Fprintf(w, "State:\tnone recorded\n")
		return nil
	}

	lock := "locked"
	if !state.Lock.Locked {
		lock = "unlocked"
	}
	fmt.Fprintf(w, "Lock:\t%s\n", lock)
	if !state.Lock.UnlockedAt.IsZero() {
		fmt.Fprintf(w, "Last unlock:\t%s\n", state.Lock.UnlockedAt.Format(time.RFC3339))
	}
	if state.LastDistanceM > 0 {
		fmt.Fprintf(w, "Last distance:\t%.2f m\n", state.LastDistanceM)
	}
	c := state.Counters
	fmt.Fprintf(w, "Connections:\t%d\n", c.Connections)
	fmt.Fprintf(w, "Key exchanges:\t%d\n", c.KeyExchanges)
	fmt.Fprintf(w, "Unlocks:\t%d\n", c.Unlocks)
	fmt.Fprintf(w, "Denials:\t%d\n", c.Denials)
	return nil
}

func reset(cfg *config.Config) error {
	vault := anchorVault(cfg)
	err := errors.Join(
		ignoreNotFound(vault.RemovePairing()),
		ignoreNotFound(vault.RemoveSession()),
		persistence.NewAnchorStateStore(statePath(cfg)).Clear(),
	)
	if err != nil {
		return err
	}
	fmt.Printf("Reset %s\n", cfg.Anchor.VehicleID)
	return nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, keystore.ErrNotFound) {
		return nil
	}
	return err
}
