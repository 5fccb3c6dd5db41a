package ranging

import (
	"encoding/binary"
	"fmt"
)

// Frame layout.
const (
	// CommonLen is the length of the header shared by all frames.
	CommonLen = 10

	// SeqIndex is the offset of the sequence number.
	SeqIndex = 2

	// PollRxTSIndex is the offset of the embedded poll RX timestamp.
	PollRxTSIndex = 10

	// RespTxTSIndex is the offset of the embedded response TX timestamp.
	RespTxTSIndex = 14

	// TSLen is the length of an embedded timestamp.
	TSLen = 4

	// FCSLen is the length of the frame check sequence appended by the radio.
	FCSLen = 2

	// PollLen is the poll frame length including FCS.
	PollLen = CommonLen + FCSLen

	// ResponseLen is the response frame length including FCS.
	ResponseLen = RespTxTSIndex + TSLen + FCSLen
)

// Frame headers: 802.15.4 data frame control (0x8841), sequence number,
// PAN ID 0xDECA, destination and source addresses, function code.
var (
	pollHeader = [CommonLen]byte{0x41, 0x88, 0, 0xCA, 0xDE, 'W', 'A', 'V', 'E', 0xE0}
	respHeader = [CommonLen]byte{0x41, 0x88, 0, 0xCA, 0xDE, 'V', 'E', 'W', 'A', 0xE1}
)

// PollFrame builds a poll frame with the given sequence number.
func PollFrame(seq uint8) []byte {
	f := make([]byte, PollLen)
	copy(f, pollHeader[:])
	f[SeqIndex] = seq
	return f
}

// ResponseFrame builds a response frame embedding the low 32 bits of the
// poll RX and response TX timestamps, little-endian.
func ResponseFrame(seq uint8, pollRxTS, respTxTS uint32) []byte {
	f := make([]byte, ResponseLen)
	copy(f, respHeader[:])
	f[SeqIndex] = seq
	binary.LittleEndian.PutUint32(f[PollRxTSIndex:], pollRxTS)
	binary.LittleEndian.PutUint32(f[RespTxTSIndex:], respTxTS)
	return f
}

// matchHeader compares the first CommonLen bytes with the sequence number masked.
func matchHeader(frame []byte, header *[CommonLen]byte) bool {
	if len(frame) < CommonLen {
		return false
	}
	for i := 0; i < CommonLen; i++ {
		if i == SeqIndex {
			continue
		}
		if frame[i] != header[i] {
			return false
		}
	}
	return true
}

// IsPoll reports whether frame carries the poll header.
func IsPoll(frame []byte) bool {
	return matchHeader(frame, &pollHeader)
}

// IsResponse reports whether frame carries the response header.
func IsResponse(frame []byte) bool {
	return matchHeader(frame, &respHeader)
}

// ParseResponse extracts the embedded timestamps from a response frame.
func ParseResponse(frame []byte) (pollRxTS, respTxTS uint32, err error) {
	if !IsResponse(frame) {
		return 0, 0, ErrFrameMismatch
	}
	if len(frame) < RespTxTSIndex+TSLen {
		return 0, 0, fmt.Errorf("%w: response too short (%d bytes)", ErrFrameMismatch, len(frame))
	}
	pollRxTS = binary.LittleEndian.Uint32(frame[PollRxTSIndex:])
	respTxTS = binary.LittleEndian.Uint32(frame[RespTxTSIndex:])
	return pollRxTS, respTxTS, nil
}

// Seq returns the frame sequence number, or 0 for short frames.
func Seq(frame []byte) uint8 {
	if len(frame) <= SeqIndex {
		return 0
	}
	return frame[SeqIndex]
}
