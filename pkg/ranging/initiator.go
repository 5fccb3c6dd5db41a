package ranging

import (
	"context"
	"fmt"
	"sync"
)

// Initiator is the Tag side of SS-TWR.
type Initiator struct {
	radio Radio
	cfg   Config

	mu  sync.Mutex
	seq uint8
}

// NewInitiator validates cfg, applies it to radio and returns an initiator.
func NewInitiator(radio Radio, cfg Config) (*Initiator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := radio.Configure(cfg); err != nil {
		return nil, fmt.Errorf("configure radio: %w", err)
	}
	return &Initiator{radio: radio, cfg: cfg}, nil
}

// Config returns the initiator configuration.
func (i *Initiator) Config() Config {
	return i.cfg
}

// Range performs one poll/response exchange and returns the measurement.
// A timeout, receiver error or unexpected frame ends the attempt; there is
// no retry. Only one call may be in flight; a concurrent call returns ErrBusy.
func (i *Initiator) Range(ctx context.Context) (*Measurement, error) {
	if !i.mu.TryLock() {
		return nil, ErrBusy
	}
	defer i.mu.Unlock()

	seq := i.seq
	if err := i.radio.Transmit(PollFrame(seq), false, 0); err != nil {
		return nil, fmt.Errorf("transmit poll: %w", err)
	}
	i.seq++
	pollTxTS := i.radio.TxTimestamp()

	frame, err := i.radio.Receive(ctx, i.cfg.responseWait())
	if err != nil {
		return nil, err
	}
	if !IsResponse(frame) {
		return nil, ErrFrameMismatch
	}

	respRxTS := i.radio.RxTimestamp()
	clockOffsetRatio := i.radio.ClockOffsetRatio()

	pollRxTS, respTxTS, err := ParseResponse(frame)
	if err != nil {
		return nil, err
	}

	m := ComputeDistance(uint32(pollTxTS), uint32(respRxTS), pollRxTS, respTxTS, clockOffsetRatio)
	m.Seq = seq
	m.PollTxTS = pollTxTS
	m.RespRxTS = respRxTS
	return &m, nil
}
