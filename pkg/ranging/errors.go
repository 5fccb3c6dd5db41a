package ranging

import "errors"

// Ranging errors. Each aborts a single exchange.
var (
	// ErrRxTimeout indicates no frame arrived within the receive-wait bound.
	ErrRxTimeout = errors.New("rx timeout")

	// ErrRxError indicates the receiver reported a frame error.
	ErrRxError = errors.New("rx error")

	// ErrFrameMismatch indicates a frame whose header is not the expected one.
	ErrFrameMismatch = errors.New("unexpected frame")

	// ErrTxLate indicates a delayed transmission scheduled in the past.
	ErrTxLate = errors.New("delayed tx too late")

	// ErrBusy indicates an exchange is already in flight on this engine.
	ErrBusy = errors.New("ranging exchange in progress")
)
