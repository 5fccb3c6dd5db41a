package ranging

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollRxTimeout = 2 * time.Second
	cfg.WaitMargin = 2 * time.Second
	return cfg
}

func TestComputeDistanceVector(t *testing.T) {
	m := ComputeDistance(1000, 3200, 1500, 2500, 0)

	assert.Equal(t, uint32(2200), m.RoundTripInit)
	assert.Equal(t, uint32(1000), m.ReplyResp)
	assert.InDelta(t, 600*TimeUnit, m.TimeOfFlight, 1e-18)
	assert.InDelta(t, 600.0, m.DistanceM/(TimeUnit*SpeedOfLight), 1e-9)
	assert.InDelta(t, 600*TimeUnit*SpeedOfLight, m.DistanceM, 1e-12)
}

func TestComputeDistanceClockOffset(t *testing.T) {
	base := ComputeDistance(1000, 3200, 1500, 2500, 0)

	for _, cor := range []float64{1e-6, 20e-6, 1e-3, -1e-3} {
		m := ComputeDistance(1000, 3200, 1500, 2500, cor)
		// Each unit of ratio adds rtd_resp/2 ticks of flight time.
		wantTicks := 600 + 1000*cor/2
		assert.InDelta(t, wantTicks*TimeUnit, m.TimeOfFlight, 1e-18, "cor=%g", cor)
		assert.InDelta(t, base.DistanceM+1000*cor/2*TimeUnit*SpeedOfLight, m.DistanceM, 1e-9)
	}
}

func TestComputeDistanceWraparound(t *testing.T) {
	pollTx := uint32(0xFFFFFF00)
	pollRx := uint32(0xFFFFFFF0)
	m := ComputeDistance(pollTx, pollTx+2200, pollRx, pollRx+1000, 0)

	assert.Equal(t, uint32(2200), m.RoundTripInit)
	assert.Equal(t, uint32(1000), m.ReplyResp)
	assert.InDelta(t, 600*TimeUnit, m.TimeOfFlight, 1e-18)
}

func TestResponseTiming(t *testing.T) {
	txTime := ResponseTxTime(65536, 1)
	assert.Equal(t, uint32(505), txTime)
	assert.Equal(t, uint64(504<<8+16385), ResponseTxTimestamp(txTime, DefaultAntennaDelay))

	// Turnaround lands within one 512-tick quantum of the requested delay.
	pollRx := uint64(0x12_3456_7890)
	ts := ResponseTxTimestamp(ResponseTxTime(pollRx, DefaultPollRxToRespTxDelayUUS), 0)
	want := pollRx + DefaultPollRxToRespTxDelayUUS*UUSToDWTTime
	assert.LessOrEqual(t, want-ts, uint64(512))
}

func TestFrames(t *testing.T) {
	poll := PollFrame(7)
	assert.Len(t, poll, PollLen)
	assert.Equal(t, uint8(7), Seq(poll))
	assert.True(t, IsPoll(poll))
	assert.False(t, IsResponse(poll))

	// Sequence number is masked.
	assert.True(t, IsPoll(PollFrame(200)))

	resp := ResponseFrame(3, 0xAABBCCDD, 0x01020304)
	assert.Len(t, resp, ResponseLen)
	assert.True(t, IsResponse(resp))
	assert.Equal(t, []byte{0xDD, 0xCC, 0xBB, 0xAA}, resp[PollRxTSIndex:PollRxTSIndex+TSLen])
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, resp[RespTxTSIndex:RespTxTSIndex+TSLen])

	pollRx, respTx, err := ParseResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xAABBCCDD), pollRx)
	assert.Equal(t, uint32(0x01020304), respTx)

	_, _, err = ParseResponse(poll)
	assert.ErrorIs(t, err, ErrFrameMismatch)

	_, _, err = ParseResponse(resp[:CommonLen+2])
	assert.ErrorIs(t, err, ErrFrameMismatch)

	bad := PollFrame(0)
	bad[5] = 'X'
	assert.False(t, IsPoll(bad))
	assert.False(t, IsPoll(poll[:CommonLen-1]))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"channel", func(c *Config) { c.Channel = 3 }},
		{"preamble length", func(c *Config) { c.PreambleLength = 100 }},
		{"preamble code", func(c *Config) { c.PreambleCode = 1 }},
		{"zero rx timeout", func(c *Config) { c.RespRxTimeoutUUS = 0 }},
		{"turnaround too short", func(c *Config) { c.PollRxToRespTxDelayUUS = 400 }},
		{"turnaround too long", func(c *Config) { c.PollRxToRespTxDelayUUS = 2000 }},
		{"no poll timeout", func(c *Config) { c.PollRxTimeout = 0 }},
		{"negative margin", func(c *Config) { c.WaitMargin = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func rangeOnce(t *testing.T, initiator *Initiator, resp *Responder) (*Measurement, *Exchange) {
	t.Helper()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		ex      *Exchange
		respErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ex, respErr = resp.RespondOnce(ctx)
	}()

	m, err := initiator.Range(ctx)
	wg.Wait()
	require.NoError(t, respErr)
	require.NoError(t, err)
	return m, ex
}

func TestSimulatedExchange(t *testing.T) {
	tests := []struct {
		name      string
		distance  float64
		initDrift float64
		respDrift float64
	}{
		{"no drift", 3.0, 0, 0},
		{"responder fast", 5.0, 0, 20},
		{"responder slow", 1.5, 10, -15},
		{"long range", 40.0, -5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ir, rr := NewSimPair(tt.distance, tt.initDrift, tt.respDrift)
			defer ir.Close()

			initiator, err := NewInitiator(ir, testConfig())
			require.NoError(t, err)
			resp, err := NewResponder(rr, testConfig())
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				m, ex := rangeOnce(t, initiator, resp)
				assert.InDelta(t, tt.distance, m.DistanceM, 0.05, "attempt %d", i)
				assert.Equal(t, uint8(i), m.Seq)
				assert.Equal(t, uint8(i), ex.PollSeq)
				assert.Equal(t, uint32(ex.RespTxTS), uint32(m.RespTxTS))
			}
		})
	}
}

func TestClockOffsetCorrectionMatters(t *testing.T) {
	ir, rr := NewSimPair(2.0, 0, 20)
	defer ir.Close()

	initiator, err := NewInitiator(ir, testConfig())
	require.NoError(t, err)
	resp, err := NewResponder(rr, testConfig())
	require.NoError(t, err)

	m, _ := rangeOnce(t, initiator, resp)
	assert.InDelta(t, 20e-6, m.ClockOffsetRatio, 1e-9)
	assert.InDelta(t, 2.0, m.DistanceM, 0.05)

	raw := ComputeDistance(uint32(m.PollTxTS), uint32(m.RespRxTS), uint32(m.PollRxTS), uint32(m.RespTxTS), 0)
	assert.Greater(t, math.Abs(raw.DistanceM-2.0), 1.0, "uncorrected drift must bias the estimate")
}

func TestResponderTimeout(t *testing.T) {
	_, rr := NewSimPair(1, 0, 0)
	cfg := testConfig()
	cfg.PollRxTimeout = 20 * time.Millisecond

	resp, err := NewResponder(rr, cfg)
	require.NoError(t, err)

	start := time.Now()
	_, err = resp.RespondOnce(context.Background())
	assert.ErrorIs(t, err, ErrRxTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInitiatorTimeout(t *testing.T) {
	ir, _ := NewSimPair(1, 0, 0)
	cfg := DefaultConfig()
	cfg.WaitMargin = 10 * time.Millisecond

	initiator, err := NewInitiator(ir, cfg)
	require.NoError(t, err)

	_, err = initiator.Range(context.Background())
	assert.ErrorIs(t, err, ErrRxTimeout)

	// The sequence number still advances.
	assert.Equal(t, uint8(1), initiator.seq)
}

func TestResponderDiscardsMismatchedFrame(t *testing.T) {
	ir, rr := NewSimPair(1, 0, 0)
	require.NoError(t, ir.Configure(testConfig()))
	resp, err := NewResponder(rr, testConfig())
	require.NoError(t, err)

	require.NoError(t, ir.Transmit(ResponseFrame(0, 1, 2), false, 0))
	_, err = resp.RespondOnce(context.Background())
	assert.ErrorIs(t, err, ErrFrameMismatch)
}

func TestInitiatorRejectsMismatchedFrame(t *testing.T) {
	ir, rr := NewSimPair(1, 0, 0)
	require.NoError(t, rr.Configure(testConfig()))
	initiator, err := NewInitiator(ir, testConfig())
	require.NoError(t, err)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, err := rr.Receive(ctx, time.Second); err == nil {
			_ = rr.Transmit(PollFrame(9), false, 0)
		}
	}()

	_, err = initiator.Range(context.Background())
	assert.ErrorIs(t, err, ErrFrameMismatch)
}

func TestCorruptFrameIsRxError(t *testing.T) {
	a, b := NewChanAirPair()
	r := NewSimRadio(b, SimConfig{})
	require.NoError(t, a.Send(Packet{Frame: PollFrame(0), Corrupt: true}))

	_, err := r.Receive(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrRxError)
}

// blockingRadio blocks in Receive until released.
type blockingRadio struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRadio) Configure(Config) error { return nil }
func (b *blockingRadio) Transmit([]byte, bool, uint32) error { return nil }
func (b *blockingRadio) TxTimestamp() uint64 { return 0 }
func (b *blockingRadio) RxTimestamp() uint64 { return 0 }
func (b *blockingRadio) ClockOffsetRatio() float64 { return 0 }
func (b *blockingRadio) Receive(ctx context.Context, _ time.Duration) ([]byte, error) {
	close(b.entered)
	select {
	case <-b.release:
		return nil, ErrRxTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestResponderRejectsConcurrentExchange(t *testing.T) {
	radio := &blockingRadio{entered: make(chan struct{}), release: make(chan struct{})}
	resp, err := NewResponder(radio, DefaultConfig())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := resp.RespondOnce(context.Background())
		done <- err
	}()
	<-radio.entered

	_, err = resp.RespondOnce(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(radio.release)
	assert.ErrorIs(t, <-done, ErrRxTimeout)
}

func TestRespondOnceHonorsContext(t *testing.T) {
	_, rr := NewSimPair(1, 0, 0)
	resp, err := NewResponder(rr, testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = resp.RespondOnce(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDelayedTransmitTooLate(t *testing.T) {
	ir, rr := NewSimPair(1, 0, 0)
	require.NoError(t, ir.Configure(testConfig()))
	require.NoError(t, rr.Configure(testConfig()))

	require.NoError(t, ir.Transmit(PollFrame(0), false, 0))
	_, err := rr.Receive(context.Background(), time.Second)
	require.NoError(t, err)

	// A transmit time just before the receive timestamp is in the past.
	past := uint32((rr.RxTimestamp() - 1<<20) >> 8)
	assert.ErrorIs(t, rr.Transmit(ResponseFrame(0, 0, 0), true, past), ErrTxLate)
}

func TestUDPAirExchange(t *testing.T) {
	a, err := NewUDPAir("127.0.0.1:0", "127.0.0.1:9")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewUDPAir("127.0.0.1:0", a.LocalAddr().String())
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, a.SetRemote(b.LocalAddr().String()))

	ir := NewSimRadio(a, SimConfig{DistanceM: 4})
	rr := NewSimRadio(b, SimConfig{DistanceM: 4, DriftPPM: 8, ClockStart: 1 << 38})

	initiator, err := NewInitiator(ir, testConfig())
	require.NoError(t, err)
	resp, err := NewResponder(rr, testConfig())
	require.NoError(t, err)

	m, _ := rangeOnce(t, initiator, resp)
	assert.InDelta(t, 4.0, m.DistanceM, 0.05)
}

func TestUDPAirFollowsSender(t *testing.T) {
	anchor, err := NewUDPAir("127.0.0.1:0", "")
	require.NoError(t, err)
	defer anchor.Close()

	assert.ErrorIs(t, anchor.Send(Packet{Frame: []byte{1}}), ErrNoRemote)

	tag, err := NewUDPAir("127.0.0.1:0", anchor.LocalAddr().String())
	require.NoError(t, err)
	defer tag.Close()

	ir := NewSimRadio(tag, SimConfig{DistanceM: 2.5})
	rr := NewSimRadio(anchor, SimConfig{DistanceM: 2.5, DriftPPM: -5})

	initiator, err := NewInitiator(ir, testConfig())
	require.NoError(t, err)
	resp, err := NewResponder(rr, testConfig())
	require.NoError(t, err)

	m, _ := rangeOnce(t, initiator, resp)
	assert.InDelta(t, 2.5, m.DistanceM, 0.05)
}

func TestSmoother(t *testing.T) {
	s := NewSmoother(3)
	assert.Equal(t, 0.0, s.Value())

	assert.Equal(t, 1.0, s.Add(1))
	assert.Equal(t, 1.5, s.Add(2))
	assert.Equal(t, 2.0, s.Add(3))
	assert.Equal(t, 3.0, s.Add(4))
	assert.Equal(t, 3, s.Count())

	s.Reset()
	assert.Equal(t, 0, s.Count())
	assert.Equal(t, 10.0, s.Add(10))

	assert.Equal(t, 5.0, NewSmoother(0).Add(5))
}
