package ranging

import (
	"errors"
	"fmt"
	"time"
)

// Physical and device constants.
const (
	// TimeUnit is the duration of one device time unit in seconds
	// (1 / (499.2 MHz * 128), about 15.65 ps).
	TimeUnit = 1.0 / 499.2e6 / 128.0

	// SpeedOfLight is the speed of light in air in m/s.
	SpeedOfLight = 299702547.0

	// UUSToDWTTime converts microseconds (UWB microseconds) to device time units.
	UUSToDWTTime = 63898

	// TimestampMask masks a 40-bit device timestamp.
	TimestampMask = (uint64(1) << 40) - 1

	// DefaultAntennaDelay is the default TX and RX antenna delay in device time units.
	DefaultAntennaDelay = 16385
)

// Default exchange timing.
const (
	// DefaultPollRxToRespTxDelayUUS is the responder turnaround from poll RX to response TX.
	DefaultPollRxToRespTxDelayUUS = 650

	// DefaultPollTxToRespRxDelayUUS is the initiator delay from poll TX to enabling RX.
	DefaultPollTxToRespRxDelayUUS = 500

	// DefaultRespRxTimeoutUUS is the initiator hardware RX timeout.
	DefaultRespRxTimeoutUUS = 1000

	// DefaultPollRxTimeout bounds the responder's wait for a poll.
	DefaultPollRxTimeout = 1500 * time.Millisecond

	// DefaultWaitMargin is added to the initiator's hardware RX timeout to
	// cover host-side latency.
	DefaultWaitMargin = 5 * time.Millisecond

	// DefaultInterval is the pause between ranging attempts on the Tag.
	DefaultInterval = 1000 * time.Millisecond
)

// DataRate is the UWB PHY data rate.
type DataRate uint8

const (
	// DataRate850K is 850 kb/s.
	DataRate850K DataRate = iota
	// DataRate6M8 is 6.8 Mb/s.
	DataRate6M8
)

// String returns the data rate name.
func (d DataRate) String() string {
	switch d {
	case DataRate850K:
		return "850K"
	case DataRate6M8:
		return "6M8"
	default:
		return "UNKNOWN"
	}
}

// TxPower holds the transmit spectrum tuning for a channel.
type TxPower struct {
	// PGDelay is the pulse generator delay.
	PGDelay uint8

	// Power is the packed per-segment TX power register value.
	Power uint32

	// PGCount is the pulse generator calibration count.
	PGCount uint16
}

// DefaultTxPower returns the reference TX tuning for a channel.
func DefaultTxPower(channel uint8) TxPower {
	if channel == 9 {
		return TxPower{PGDelay: 0x34, Power: 0xfefefefe, PGCount: 0}
	}
	return TxPower{PGDelay: 0x34, Power: 0xfdfdfdfd, PGCount: 0}
}

// Config is the radio and exchange configuration. It is passed explicitly
// to NewResponder and NewInitiator and applied to the radio at construction.
type Config struct {
	Channel        uint8
	PreambleLength uint16
	PreambleCode   uint8
	PAC            uint8
	DataRate       DataRate
	TxPower        TxPower

	// Antenna delays in device time units.
	TxAntennaDelay uint16
	RxAntennaDelay uint16

	PollRxToRespTxDelayUUS uint32
	PollTxToRespRxDelayUUS uint32
	RespRxTimeoutUUS       uint32

	// PollRxTimeout bounds the responder's receive-wait.
	PollRxTimeout time.Duration

	// WaitMargin extends the initiator's receive-wait beyond the hardware timeout.
	WaitMargin time.Duration
}

// DefaultConfig returns the reference configuration (channel 5, 128-symbol
// preamble, 6.8 Mb/s).
func DefaultConfig() Config {
	return Config{
		Channel:                5,
		PreambleLength:         128,
		PreambleCode:           9,
		PAC:                    8,
		DataRate:               DataRate6M8,
		TxPower:                DefaultTxPower(5),
		TxAntennaDelay:         DefaultAntennaDelay,
		RxAntennaDelay:         DefaultAntennaDelay,
		PollRxToRespTxDelayUUS: DefaultPollRxToRespTxDelayUUS,
		PollTxToRespRxDelayUUS: DefaultPollTxToRespRxDelayUUS,
		RespRxTimeoutUUS:       DefaultRespRxTimeoutUUS,
		PollRxTimeout:          DefaultPollRxTimeout,
		WaitMargin:             DefaultWaitMargin,
	}
}

// ErrInvalidConfig indicates an invalid ranging configuration.
var ErrInvalidConfig = errors.New("invalid ranging config")

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Channel {
	case 5, 9:
	default:
		return fmt.Errorf("%w: channel %d", ErrInvalidConfig, c.Channel)
	}
	switch c.PreambleLength {
	case 32, 64, 72, 128, 256, 512, 1024, 1536, 2048, 4096:
	default:
		return fmt.Errorf("%w: preamble length %d", ErrInvalidConfig, c.PreambleLength)
	}
	if c.PreambleCode < 9 || c.PreambleCode > 12 {
		return fmt.Errorf("%w: preamble code %d", ErrInvalidConfig, c.PreambleCode)
	}
	if c.RespRxTimeoutUUS == 0 {
		return fmt.Errorf("%w: response RX timeout is zero", ErrInvalidConfig)
	}
	if c.PollRxToRespTxDelayUUS <= c.PollTxToRespRxDelayUUS {
		return fmt.Errorf("%w: responder turnaround %d must exceed initiator RX delay %d",
			ErrInvalidConfig, c.PollRxToRespTxDelayUUS, c.PollTxToRespRxDelayUUS)
	}
	if c.PollRxToRespTxDelayUUS >= c.PollTxToRespRxDelayUUS+c.RespRxTimeoutUUS {
		return fmt.Errorf("%w: response would arrive after the initiator RX timeout", ErrInvalidConfig)
	}
	if c.PollRxTimeout <= 0 {
		return fmt.Errorf("%w: poll RX timeout must be positive", ErrInvalidConfig)
	}
	if c.WaitMargin < 0 {
		return fmt.Errorf("%w: negative wait margin", ErrInvalidConfig)
	}
	return nil
}

// responseWait is the initiator's bounded wait for a response.
func (c Config) responseWait() time.Duration {
	hw := time.Duration(c.PollTxToRespRxDelayUUS+c.RespRxTimeoutUUS) * time.Microsecond
	return hw + c.WaitMargin
}
