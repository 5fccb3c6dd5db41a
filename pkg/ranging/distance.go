package ranging

// Measurement is the result of one successful exchange.
type Measurement struct {
	Seq uint8

	// Device timestamps. PollTxTS and RespRxTS are on the initiator's clock;
	// PollRxTS and RespTxTS are the low 32 bits of the responder's clock.
	PollTxTS uint64
	RespRxTS uint64
	PollRxTS uint64
	RespTxTS uint64

	ClockOffsetRatio float64

	// RoundTripInit is resp_rx_ts - poll_tx_ts (mod 2^32).
	RoundTripInit uint32

	// ReplyResp is resp_tx_ts - poll_rx_ts (mod 2^32).
	ReplyResp uint32

	// TimeOfFlight in seconds.
	TimeOfFlight float64

	// DistanceM in meters.
	DistanceM float64
}

// ComputeDistance applies the SS-TWR formula to the four timestamps.
// Differences are taken modulo 2^32.
func ComputeDistance(pollTx, respRx, pollRx, respTx uint32, clockOffsetRatio float64) Measurement {
	rtdInit := respRx - pollTx
	rtdResp := respTx - pollRx

	tof := ((float64(rtdInit) - float64(rtdResp)*(1-clockOffsetRatio)) / 2.0) * TimeUnit

	return Measurement{
		PollTxTS:         uint64(pollTx),
		RespRxTS:         uint64(respRx),
		PollRxTS:         uint64(pollRx),
		RespTxTS:         uint64(respTx),
		ClockOffsetRatio: clockOffsetRatio,
		RoundTripInit:    rtdInit,
		ReplyResp:        rtdResp,
		TimeOfFlight:     tof,
		DistanceM:        tof * SpeedOfLight,
	}
}
