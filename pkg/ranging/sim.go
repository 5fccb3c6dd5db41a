package ranging

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// SimConfig describes a simulated transceiver.
type SimConfig struct {
	// DistanceM is the simulated antenna separation.
	DistanceM float64

	// DriftPPM is the crystal error in parts per million.
	DriftPPM float64

	// ClockStart is the device clock value at true time zero.
	ClockStart uint64

	// Now returns the true time in seconds. Nil means elapsed wall time
	// since the radio was created.
	Now func() float64
}

// SimRadio is a simulated UWB transceiver with a drifting 40-bit clock.
type SimRadio struct {
	air  Air
	sim  SimConfig
	rate float64

	mu         sync.Mutex
	cfg        Config
	configured bool
	lastTx     uint64
	lastRx     uint64
	lastRxTrue float64
	haveRx     bool
	remoteRate float64
}

// NewSimRadio creates a simulated radio on air.
func NewSimRadio(air Air, sim SimConfig) *SimRadio {
	if sim.Now == nil {
		start := time.Now()
		sim.Now = func() float64 { return time.Since(start).Seconds() }
	}
	return &SimRadio{
		air:        air,
		sim:        sim,
		rate:       1 + sim.DriftPPM*1e-6,
		remoteRate: 1 + sim.DriftPPM*1e-6,
	}
}

// NewSimPair returns an initiator radio and a responder radio sharing an
// in-process medium and a true-time source.
func NewSimPair(distanceM, initDriftPPM, respDriftPPM float64) (initiator, responder *SimRadio) {
	a, b := NewChanAirPair()
	start := time.Now()
	now := func() float64 { return time.Since(start).Seconds() }
	initiator = NewSimRadio(a, SimConfig{DistanceM: distanceM, DriftPPM: initDriftPPM, Now: now})
	responder = NewSimRadio(b, SimConfig{DistanceM: distanceM, DriftPPM: respDriftPPM, ClockStart: 1 << 39, Now: now})
	return initiator, responder
}

// devTime maps a true time to the 40-bit device clock.
func (r *SimRadio) devTime(t float64) uint64 {
	ticks := uint64(math.Round(t * r.rate / TimeUnit))
	return (r.sim.ClockStart + ticks) & TimestampMask
}

// Configure applies the configuration.
func (r *SimRadio) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.configured = true
	return nil
}

// Transmit sends frame, immediately or at the delayed device time.
func (r *SimRadio) Transmit(frame []byte, delayed bool, txTime uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.configured {
		return errors.New("radio not configured")
	}

	var emit float64
	if !delayed {
		emit = r.sim.Now()
		r.lastTx = r.devTime(emit)
	} else {
		refDev, refTrue := r.lastRx, r.lastRxTrue
		if !r.haveRx {
			refTrue = r.sim.Now()
			refDev = r.devTime(refTrue)
		}
		target := ((uint64(txTime&0xFFFFFFFE) << 8) + uint64(r.cfg.TxAntennaDelay)) & TimestampMask
		delta := (target - refDev) & TimestampMask
		if delta >= 1<<39 {
			return ErrTxLate
		}
		emit = refTrue + float64(delta)*TimeUnit/r.rate
		r.lastTx = target
	}

	p := Packet{
		Frame:      append([]byte(nil), frame...),
		EmitAt:     emit,
		SenderRate: r.rate,
	}
	if err := r.air.Send(p); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Receive waits for one frame for at most timeout.
func (r *SimRadio) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p, err := r.air.Recv(rctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrRxTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrRxError, err)
	}
	if p.Corrupt {
		return nil, ErrRxError
	}

	r.mu.Lock()
	arrival := p.EmitAt + r.sim.DistanceM/SpeedOfLight
	r.lastRx = r.devTime(arrival)
	r.lastRxTrue = arrival
	r.haveRx = true
	if p.SenderRate > 0 {
		r.remoteRate = p.SenderRate
	}
	r.mu.Unlock()

	return p.Frame, nil
}

// TxTimestamp returns the last transmit timestamp.
func (r *SimRadio) TxTimestamp() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTx
}

// RxTimestamp returns the last receive timestamp.
func (r *SimRadio) RxTimestamp() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRx
}

// ClockOffsetRatio returns the last sender's clock offset relative to ours.
func (r *SimRadio) ClockOffsetRatio() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remoteRate/r.rate - 1
}

// SetDistance changes the simulated separation.
func (r *SimRadio) SetDistance(m float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sim.DistanceM = m
}

// Close closes the underlying medium.
func (r *SimRadio) Close() error {
	return r.air.Close()
}

// Compile-time interface satisfaction check.
var _ Radio = (*SimRadio)(nil)
