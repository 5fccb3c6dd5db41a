package ranging

import (
	"context"
	"time"
)

// Radio is the UWB transceiver used by the engine.
type Radio interface {
	// Configure applies channel, PHY and antenna delay settings.
	// An error here is a hardware initialization failure.
	Configure(cfg Config) error

	// Transmit sends frame. If delayed is true the transmission starts at
	// device time txTime<<8 (the high 32 bits of a 40-bit timestamp, low bit
	// ignored); a time already in the past yields ErrTxLate.
	Transmit(frame []byte, delayed bool, txTime uint32) error

	// Receive waits for one frame. It returns ErrRxTimeout when nothing
	// arrives within timeout, ErrRxError on a receiver error, or the
	// context error if ctx ends first.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)

	// TxTimestamp returns the 40-bit timestamp of the last transmitted frame.
	TxTimestamp() uint64

	// RxTimestamp returns the 40-bit timestamp of the last received frame.
	RxTimestamp() uint64

	// ClockOffsetRatio returns the remote clock's fractional offset relative
	// to the local clock, estimated from the last received frame. Positive
	// means the remote clock runs fast.
	ClockOffsetRatio() float64
}
