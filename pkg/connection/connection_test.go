package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() Config {
	return Config{
		Backoff: BackoffConfig{
			Initial:    20 * time.Millisecond,
			Max:        80 * time.Millisecond,
			Multiplier: 2.0,
		},
		AttemptTimeout: time.Second,
		AutoReconnect:  true,
		Logger:         quietLogger(),
	}
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("State() = %v, want %v", m.State(), want)
}

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		expected := []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			32 * time.Second,
			60 * time.Second,
			60 * time.Second,
		}

		for i, exp := range expected {
			base := b.Current()
			b.Next()
			if base != exp {
				t.Errorf("attempt %d: base = %v, want %v", i, base, exp)
			}
		}
	})

	t.Run("JitterBounds", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 20; i++ {
			b.Reset()
			d := b.Next()
			if d < time.Second || d > 1250*time.Millisecond {
				t.Errorf("sample %d: %v outside [1s, 1.25s]", i, d)
			}
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 5; i++ {
			b.Next()
		}
		if b.Attempts() != 5 {
			t.Errorf("Attempts() = %d, want 5", b.Attempts())
		}

		b.Reset()
		if b.Current() != InitialBackoff {
			t.Errorf("Current() = %v after reset, want %v", b.Current(), InitialBackoff)
		}
		if b.Attempts() != 0 {
			t.Errorf("Attempts() = %d after reset, want 0", b.Attempts())
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:    100 * time.Millisecond,
			Max:        500 * time.Millisecond,
			Multiplier: 2.0,
		})

		expected := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			500 * time.Millisecond,
			500 * time.Millisecond,
		}
		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("attempt %d: got %v, want %v", i, got, exp)
			}
		}
	})

	t.Run("MaxBelowInitial", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Max: time.Millisecond})
		b.Next()
		if b.Current() != time.Second {
			t.Errorf("Current() = %v, want 1s", b.Current())
		}
	})
}

func TestManagerConnect(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil }, fastConfig())
		defer m.Close()

		var mu sync.Mutex
		var transitions []State
		m.OnStateChange(func(_, newState State) {
			mu.Lock()
			transitions = append(transitions, newState)
			mu.Unlock()
		})

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		if !m.IsConnected() {
			t.Errorf("State() = %v, want CONNECTED", m.State())
		}
		if err := m.Connect(context.Background()); err != ErrAlreadyConnected {
			t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
		}

		mu.Lock()
		defer mu.Unlock()
		if len(transitions) != 2 || transitions[0] != StateConnecting || transitions[1] != StateConnected {
			t.Errorf("transitions = %v", transitions)
		}
	})

	t.Run("FailureWithoutReconnect", func(t *testing.T) {
		boom := errors.New("anchor out of range")
		cfg := fastConfig()
		cfg.AutoReconnect = false
		m := NewManager(func(ctx context.Context) error { return boom }, cfg)
		defer m.Close()

		if err := m.Connect(context.Background()); err != boom {
			t.Errorf("Connect() error = %v, want %v", err, boom)
		}
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want DISCONNECTED", m.State())
		}
	})

	t.Run("AfterClose", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil }, fastConfig())
		m.Close()
		if err := m.Connect(context.Background()); err != ErrClosed {
			t.Errorf("Connect() error = %v, want ErrClosed", err)
		}
		m.Close()
	})
}

func TestManagerReconnect(t *testing.T) {
	t.Run("AfterConnectionLost", func(t *testing.T) {
		var dials atomic.Int32
		m := NewManager(func(ctx context.Context) error {
			dials.Add(1)
			return nil
		}, fastConfig())
		defer m.Close()

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		m.ConnectionLost()

		waitForState(t, m, StateConnected)
		if dials.Load() != 2 {
			t.Errorf("dials = %d, want 2", dials.Load())
		}
		if m.Attempts() != 0 {
			t.Errorf("Attempts() = %d after success, want 0", m.Attempts())
		}
	})

	t.Run("RetriesUntilSuccess", func(t *testing.T) {
		var dials atomic.Int32
		m := NewManager(func(ctx context.Context) error {
			if dials.Add(1) < 4 {
				return errors.New("not yet")
			}
			return nil
		}, fastConfig())
		defer m.Close()

		if err := m.Connect(context.Background()); err == nil {
			t.Fatal("first Connect() should fail")
		}
		waitForState(t, m, StateConnected)
		if dials.Load() != 4 {
			t.Errorf("dials = %d, want 4", dials.Load())
		}
	})

	t.Run("LostWhileNotConnectedIsIgnored", func(t *testing.T) {
		var dials atomic.Int32
		m := NewManager(func(ctx context.Context) error {
			dials.Add(1)
			return nil
		}, fastConfig())
		defer m.Close()

		m.ConnectionLost()
		time.Sleep(60 * time.Millisecond)
		if dials.Load() != 0 || m.State() != StateDisconnected {
			t.Errorf("dials = %d, state = %v", dials.Load(), m.State())
		}
	})

	t.Run("CloseStopsRedial", func(t *testing.T) {
		var dials atomic.Int32
		m := NewManager(func(ctx context.Context) error {
			dials.Add(1)
			return errors.New("down")
		}, fastConfig())

		m.Connect(context.Background())
		m.Close()
		n := dials.Load()
		time.Sleep(150 * time.Millisecond)
		if dials.Load() != n {
			t.Errorf("dials continued after Close: %d -> %d", n, dials.Load())
		}
		if m.State() != StateClosed {
			t.Errorf("State() = %v, want CLOSED", m.State())
		}
	})
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
