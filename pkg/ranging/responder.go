package ranging

import (
	"context"
	"fmt"
	"sync"
)

// Exchange describes one response sent by the responder.
type Exchange struct {
	PollSeq  uint8
	RespSeq  uint8
	PollRxTS uint64
	RespTxTS uint64
}

// Responder is the Anchor side of SS-TWR.
type Responder struct {
	radio Radio
	cfg   Config

	mu  sync.Mutex
	seq uint8
}

// NewResponder validates cfg, applies it to radio and returns a responder.
func NewResponder(radio Radio, cfg Config) (*Responder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := radio.Configure(cfg); err != nil {
		return nil, fmt.Errorf("configure radio: %w", err)
	}
	return &Responder{radio: radio, cfg: cfg}, nil
}

// Config returns the responder configuration.
func (r *Responder) Config() Config {
	return r.cfg
}

// RespondOnce waits for one poll, bounded by Config.PollRxTimeout, and sends
// the timed response. Non-poll frames are discarded with ErrFrameMismatch.
// Only one call may be in flight; a concurrent call returns ErrBusy.
func (r *Responder) RespondOnce(ctx context.Context) (*Exchange, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()

	frame, err := r.radio.Receive(ctx, r.cfg.PollRxTimeout)
	if err != nil {
		return nil, err
	}
	if !IsPoll(frame) {
		return nil, ErrFrameMismatch
	}

	pollRxTS := r.radio.RxTimestamp()

	respTxTime := ResponseTxTime(pollRxTS, r.cfg.PollRxToRespTxDelayUUS)
	respTxTS := ResponseTxTimestamp(respTxTime, r.cfg.TxAntennaDelay)

	resp := ResponseFrame(r.seq, uint32(pollRxTS), uint32(respTxTS))
	if err := r.radio.Transmit(resp, true, respTxTime); err != nil {
		return nil, fmt.Errorf("transmit response: %w", err)
	}

	ex := &Exchange{
		PollSeq:  Seq(frame),
		RespSeq:  r.seq,
		PollRxTS: pollRxTS,
		RespTxTS: respTxTS,
	}
	r.seq++
	return ex, nil
}

// ResponseTxTime computes the delayed transmit time register value: the
// high 32 bits of poll_rx_ts plus the turnaround.
func ResponseTxTime(pollRxTS uint64, delayUUS uint32) uint32 {
	return uint32((pollRxTS + uint64(delayUUS)*UUSToDWTTime) >> 8)
}

// ResponseTxTimestamp computes the timestamp the radio will assign to a
// delayed transmission at txTime: the low bit of txTime is ignored by the
// hardware and the antenna delay is added.
func ResponseTxTimestamp(txTime uint32, txAntennaDelay uint16) uint64 {
	return (uint64(txTime&0xFFFFFFFE) << 8) + uint64(txAntennaDelay)
}
