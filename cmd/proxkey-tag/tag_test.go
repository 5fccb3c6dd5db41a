package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxkey/proxkey-go/pkg/config"
	"github.com/proxkey/proxkey-go/pkg/discovery"
	"github.com/proxkey/proxkey-go/pkg/fsm"
	"github.com/proxkey/proxkey-go/pkg/keystore"
	"github.com/proxkey/proxkey-go/pkg/persistence"
	"github.com/proxkey/proxkey-go/pkg/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testService() *discovery.AnchorService {
	return &discovery.AnchorService{
		AnchorInfo: discovery.AnchorInfo{
			VehicleID:   "VIN123456",
			Port:        7400,
			RangingPort: 7401,
		},
		InstanceName: "proxkey-VIN123456",
		Addresses:    []string{"192.168.1.20"},
	}
}

type peerRecorder struct {
	addrs []string
}

func (p *peerRecorder) set(addr string) error {
	p.addrs = append(p.addrs, addr)
	return nil
}

func TestResolveAnchorCachesDiscovery(t *testing.T) {
	store := persistence.NewTagStateStore(filepath.Join(t.TempDir(), "state.json"))
	peers := &peerRecorder{}
	find := func(context.Context) (*discovery.AnchorService, error) { return testService(), nil }

	resolve := resolveAnchor(find, store, "VIN123456", peers.set, discardLogger())
	addr, err := resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20:7400", addr)
	assert.Equal(t, []string{"192.168.1.20:7401"}, peers.addrs)

	st, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "VIN123456", st.VehicleID)
	assert.Equal(t, "192.168.1.20:7400", st.AnchorAddr)
	assert.Equal(t, "192.168.1.20:7401", st.RangingAddr)
}

func TestResolveAnchorFallsBackToCache(t *testing.T) {
	notFound := func(context.Context) (*discovery.AnchorService, error) {
		return nil, discovery.ErrNotFound
	}

	tests := []struct {
		name     string
		cached   *persistence.TagState
		wantAddr string
		wantErr  bool
	}{
		{
			name:     "same vehicle",
			cached:   &persistence.TagState{VehicleID: "VIN123456", AnchorAddr: "10.0.0.5:7400", RangingAddr: "10.0.0.5:7401"},
			wantAddr: "10.0.0.5:7400",
		},
		{
			name:    "other vehicle",
			cached:  &persistence.TagState{VehicleID: "VIN999999", AnchorAddr: "10.0.0.9:7400"},
			wantErr: true,
		},
		{
			name:    "no address",
			cached:  &persistence.TagState{VehicleID: "VIN123456"},
			wantErr: true,
		},
		{
			name:    "nothing cached",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := persistence.NewTagStateStore(filepath.Join(t.TempDir(), "state.json"))
			if tt.cached != nil {
				require.NoError(t, store.Save(tt.cached))
			}
			peers := &peerRecorder{}

			addr, err := resolveAnchor(notFound, store, "VIN123456", peers.set, discardLogger())(context.Background())
			if tt.wantErr {
				assert.ErrorIs(t, err, discovery.ErrNotFound)
				assert.Empty(t, peers.addrs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, addr)
			assert.Equal(t, []string{tt.cached.RangingAddr}, peers.addrs)
		})
	}
}

func TestResolveAnchorNoAddresses(t *testing.T) {
	store := persistence.NewTagStateStore(filepath.Join(t.TempDir(), "state.json"))
	find := func(context.Context) (*discovery.AnchorService, error) {
		svc := testService()
		svc.Addresses = nil
		return svc, nil
	}

	_, err := resolveAnchor(find, store, "VIN123456", (&peerRecorder{}).set, discardLogger())(context.Background())
	assert.ErrorIs(t, err, discovery.ErrNotFound)
}

func TestPrintStatus(t *testing.T) {
	vault := keystore.NewVault(keystore.NewMemoryStore(), keystore.TagNamespaces)
	require.NoError(t, vault.SavePairing(&keystore.PairingKeyMaterial{
		PairingID:  "pair-1",
		PairingKey: bytes.Repeat([]byte{0x42}, 16),
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}))
	tc := config.DefaultConfig().Tag

	t.Run("connected before", func(t *testing.T) {
		var out bytes.Buffer
		state := &persistence.TagState{
			VehicleID:     tc.VehicleID,
			AnchorAddr:    "192.168.1.20:7400",
			LastDistanceM: 1.25,
		}
		require.NoError(t, printStatus(&out, tc, vault, state))

		s := out.String()
		assert.Contains(t, s, "pair-1")
		assert.Contains(t, s, "2026-01-02T03:04:05Z")
		assert.Contains(t, s, "192.168.1.20:7400")
		assert.Contains(t, s, "1.25 m")
		assert.Contains(t, s, "none")
	})

	t.Run("never connected", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, printStatus(&out, tc, vault, nil))
		assert.Contains(t, out.String(), "never connected")
	})
}

func TestWaitSessionTimesOut(t *testing.T) {
	vault := keystore.NewVault(keystore.NewMemoryStore(), keystore.TagNamespaces)
	sess := session.NewManager(vault, session.Config{Timeout: time.Minute, Logger: discardLogger()})

	start := time.Now()
	err := waitSession(context.Background(), sess, 100*time.Millisecond)
	assert.True(t, errors.Is(err, fsm.ErrNoSession))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWaitSessionReturnsOnceValid(t *testing.T) {
	vault := keystore.NewVault(keystore.NewMemoryStore(), keystore.TagNamespaces)
	sess := session.NewManager(vault, session.Config{Timeout: time.Minute, Logger: discardLogger()})

	go func() {
		time.Sleep(50 * time.Millisecond)
		sess.CreateSession(bytes.Repeat([]byte{0x01}, 16))
	}()
	assert.NoError(t, waitSession(context.Background(), sess, 2*time.Second))
}
