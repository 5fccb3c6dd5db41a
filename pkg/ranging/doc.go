// Package ranging implements single-sided two-way ranging (SS-TWR) between a
// Tag (initiator) and an Anchor (responder).
//
// The initiator transmits a poll frame and records its transmit timestamp.
// The responder timestamps the poll on arrival, schedules a delayed response
// at a fixed turnaround, and embeds both its receive and its exact transmit
// timestamp in the response. The initiator timestamps the response and
// computes
//
//	rtd_init = resp_rx_ts - poll_tx_ts
//	rtd_resp = resp_tx_ts - poll_rx_ts
//	tof      = ((rtd_init - rtd_resp*(1-clock_offset_ratio)) / 2) * TimeUnit
//	distance = tof * SpeedOfLight
//
// All timestamp differences are taken modulo 2^32. The clock offset ratio,
// read from the initiator's receiver, corrects rtd_resp for the drift
// between the two crystals.
//
// Every receive-wait is bounded: the responder by Config.PollRxTimeout and
// the initiator by the hardware response timeout plus Config.WaitMargin.
// Each call performs exactly one exchange; the engine never retries or
// averages. Callers wanting a stable estimate repeat the exchange and smooth
// the results themselves, for example with Smoother.
//
// Radio abstracts the UWB transceiver. SimRadio is a simulated transceiver
// with its own drifting 40-bit device clock, used in tests and in the
// command-line tools.
package ranging
