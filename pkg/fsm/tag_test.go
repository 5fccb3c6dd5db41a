package fsm

import (
	"context"
	"testing"
	"time"

	"github.com/proxkey/proxkey-go/pkg/connection"
	"github.com/proxkey/proxkey-go/pkg/keystore"
	"github.com/proxkey/proxkey-go/pkg/link"
	"github.com/proxkey/proxkey-go/pkg/ranging"
	"github.com/proxkey/proxkey-go/pkg/session"
	"github.com/proxkey/proxkey-go/pkg/vehicle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type system struct {
	anchor        *Anchor
	tag           *Tag
	anchorSession *session.Manager
	tagSession    *session.Manager
	lock          *vehicle.Lock
}

func newSystem(t *testing.T, distance float64, tagPaired bool) *system {
	t.Helper()

	initRadio, respRadio := ranging.NewSimPair(distance, 0, 0)
	t.Cleanup(func() { initRadio.Close() })

	respCfg := ranging.DefaultConfig()
	respCfg.PollRxTimeout = 20 * time.Millisecond
	responder, err := ranging.NewResponder(respRadio, respCfg)
	require.NoError(t, err)

	initCfg := ranging.DefaultConfig()
	initCfg.WaitMargin = 2 * time.Second
	initiator, err := ranging.NewInitiator(initRadio, initCfg)
	require.NoError(t, err)

	s := &system{
		anchorSession: newSession(t, keystore.AnchorNamespaces, true, nil),
		tagSession:    newSession(t, keystore.TagNamespaces, tagPaired, nil),
		lock:          vehicle.NewLock(vehicle.Config{AutoLock: time.Hour, Logger: quietLogger()}),
	}
	t.Cleanup(func() { s.lock.Close() })

	s.anchor, err = NewAnchor(AnchorConfig{
		Session:   s.anchorSession,
		Responder: responder,
		Lock:      s.lock,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)

	reconnect := connection.DefaultConfig()
	reconnect.Backoff = connection.BackoffConfig{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond}

	s.tag, err = NewTag(TagConfig{
		Session:         s.tagSession,
		Dialer:          &link.PipeDialer{Remote: s.anchor.Events()},
		Initiator:       initiator,
		Reconnect:       reconnect,
		ResponseTimeout: 2 * time.Second,
		SmoothingWindow: 3,
		Logger:          quietLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { s.anchor.Run(ctx); done <- struct{}{} }()
	go func() { s.tag.Run(ctx); done <- struct{}{} }()
	t.Cleanup(func() {
		s.tag.Close()
		cancel()
		<-done
		<-done
	})
	return s
}

// dropLink closes the current link from the Tag's end.
func (s *system) dropLink(t *testing.T) {
	t.Helper()
	s.tag.mu.Lock()
	conn := s.tag.conn
	s.tag.mu.Unlock()
	require.NotNil(t, conn)
	require.NoError(t, conn.Close())
}

func TestNewTagValidates(t *testing.T) {
	_, err := NewTag(TagConfig{})
	assert.Error(t, err)

	sess := newSession(t, keystore.TagNamespaces, true, nil)
	_, err = NewTag(TagConfig{Session: sess})
	assert.Error(t, err)
}

func TestTagRequiresConnection(t *testing.T) {
	s := newSystem(t, 1, true)

	assert.ErrorIs(t, s.tag.KeyExchange(context.Background()), ErrNotConnected)
	assert.ErrorIs(t, s.tag.RequestUnlock(context.Background()), ErrNoSession)
}

func TestTagRequiresPairing(t *testing.T) {
	s := newSystem(t, 1, false)
	require.NoError(t, s.tag.Connect(context.Background()))

	assert.ErrorIs(t, s.tag.KeyExchange(context.Background()), ErrNoPairing)
}

func TestTagUnlockFlow(t *testing.T) {
	s := newSystem(t, 1, true)
	ctx := context.Background()

	require.NoError(t, s.tag.Connect(ctx))
	assert.True(t, s.tag.IsConnected())

	require.NoError(t, s.tag.KeyExchange(ctx))
	assert.Equal(t, StateSessionEstablished, s.tag.State())

	tagKey, ok := s.tagSession.SessionKey()
	require.True(t, ok)
	anchorKey, ok := s.anchorSession.SessionKey()
	require.True(t, ok)
	assert.Equal(t, anchorKey, tagKey)

	require.NoError(t, s.tag.RequestUnlock(ctx))
	assert.Equal(t, StateSessionEstablished, s.tag.State())
	require.Eventually(t, func() bool { return !s.lock.IsLocked() }, time.Second, 5*time.Millisecond)
}

func TestTagUnlockDeniedAfterAnchorLosesSession(t *testing.T) {
	s := newSystem(t, 1, true)
	ctx := context.Background()

	require.NoError(t, s.tag.Connect(ctx))
	require.NoError(t, s.tag.KeyExchange(ctx))

	s.anchorSession.Clear()

	err := s.tag.RequestUnlock(ctx)
	assert.ErrorIs(t, err, ErrDenied)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.True(t, s.lock.IsLocked())
}

func TestTagRanging(t *testing.T) {
	s := newSystem(t, 3, true)
	ctx := context.Background()

	require.NoError(t, s.tag.Connect(ctx))

	_, _, err := s.tag.RangeOnce(ctx)
	assert.ErrorIs(t, err, ErrRangingNotStarted)

	require.NoError(t, s.tag.KeyExchange(ctx))
	require.NoError(t, s.tag.StartRanging(ctx))
	assert.Equal(t, StateRangingPending, s.tag.State())
	require.Eventually(t, s.anchor.RangingArmed, time.Second, 5*time.Millisecond)

	for i := 0; i < 3; i++ {
		m, smoothed, err := s.tag.RangeOnce(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 3.0, m.DistanceM, 0.05)
		assert.InDelta(t, 3.0, smoothed, 0.05)
	}

	d, n := s.tag.Distance()
	assert.Equal(t, 3, n)
	assert.InDelta(t, 3.0, d, 0.05)

	require.Eventually(t, func() bool {
		d, ok := s.anchor.LastDistance()
		return ok && d > 2.9 && d < 3.1
	}, time.Second, 5*time.Millisecond)

	// A second START_RANGING while armed succeeds.
	require.NoError(t, s.tag.StartRanging(ctx))
	assert.True(t, s.anchor.RangingArmed())

	s.tag.StopRanging()
	assert.Equal(t, StateSessionEstablished, s.tag.State())
}

func TestTagRangingRestartAfterStop(t *testing.T) {
	s := newSystem(t, 4, true)
	ctx := context.Background()

	require.NoError(t, s.tag.Connect(ctx))
	require.NoError(t, s.tag.KeyExchange(ctx))
	require.NoError(t, s.tag.StartRanging(ctx))

	_, _, err := s.tag.RangeOnce(ctx)
	require.NoError(t, err)

	s.tag.StopRanging()
	_, _, err = s.tag.RangeOnce(ctx)
	assert.ErrorIs(t, err, ErrRangingNotStarted)

	// The Anchor is still armed from the first request.
	assert.True(t, s.anchor.RangingArmed())

	require.NoError(t, s.tag.StartRanging(ctx))
	assert.Equal(t, StateRangingPending, s.tag.State())

	m, _, err := s.tag.RangeOnce(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, m.DistanceM, 0.05)
}

func TestTagUnlockWhileRanging(t *testing.T) {
	s := newSystem(t, 1, true)
	ctx := context.Background()

	require.NoError(t, s.tag.Connect(ctx))
	require.NoError(t, s.tag.KeyExchange(ctx))
	require.NoError(t, s.tag.StartRanging(ctx))
	require.NoError(t, s.tag.RequestUnlock(ctx))

	require.Eventually(t, func() bool {
		return !s.lock.IsLocked() && s.anchor.State() == StateRangingPending
	}, time.Second, 5*time.Millisecond)
	assert.True(t, s.anchor.RangingArmed())
}

func TestTagRangeLoop(t *testing.T) {
	s := newSystem(t, 2, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.tag.Connect(ctx))
	require.NoError(t, s.tag.KeyExchange(ctx))
	require.NoError(t, s.tag.StartRanging(ctx))

	var got []float64
	err := s.tag.RangeLoop(ctx, 5*time.Millisecond, func(m *ranging.Measurement, smoothed float64, err error) {
		if err == nil {
			got = append(got, m.DistanceM)
		}
		if len(got) == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, got, 3)
	for _, d := range got {
		assert.InDelta(t, 2.0, d, 0.05)
	}
}

func TestDisconnectReconnectScenario(t *testing.T) {
	s := newSystem(t, 1, true)
	ctx := context.Background()

	require.NoError(t, s.tag.Connect(ctx))
	require.NoError(t, s.tag.KeyExchange(ctx))
	require.NoError(t, s.tag.RequestUnlock(ctx))

	s.dropLink(t)

	// The Anchor forgets the session; the Tag keeps it and redials.
	require.Eventually(t, func() bool { return s.anchor.State() == StateIdle }, time.Second, 5*time.Millisecond)
	assert.False(t, s.anchorSession.IsValid())
	assert.True(t, s.tagSession.IsValid())
	assert.True(t, s.tagSession.HasPairingKey())

	require.Eventually(t, func() bool {
		return s.tag.IsConnected() && s.anchor.Connected()
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, connection.StateConnected, s.tag.ConnectionState())

	err := s.tag.RequestUnlock(ctx)
	assert.ErrorIs(t, err, ErrDenied)
	assert.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, s.tag.KeyExchange(ctx))
	require.NoError(t, s.tag.RequestUnlock(ctx))
}

func TestTagAutoKeyExchange(t *testing.T) {
	s := newSystem(t, 1, true)
	s.tag.autoKeyExchange = true
	ctx := context.Background()

	require.NoError(t, s.tag.Connect(ctx))
	require.Eventually(t, func() bool {
		return s.tag.State() == StateSessionEstablished && s.anchorSession.IsValid()
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.tag.RequestUnlock(ctx))
}
