package link

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/proxkey/proxkey-go/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxFrameSize is the default maximum payload size.
	DefaultMaxFrameSize = 512
)

// Framing errors.
var (
	// ErrFrameTooLarge indicates the payload exceeds the maximum size.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrFrameEmpty indicates an empty payload.
	ErrFrameEmpty = errors.New("frame is empty")

	// ErrFrameTruncated indicates the stream ended inside a frame.
	ErrFrameTruncated = errors.New("frame truncated")
)

// Framer reads and writes length-prefixed frames.
// WriteFrame is safe for concurrent use; ReadFrame is not.
type Framer struct {
	r       io.Reader
	w       io.Writer
	maxSize uint32
	wmu     sync.Mutex
	lenBuf  [LengthPrefixSize]byte
	emitter *log.Emitter
}

// NewFramer creates a framer over rw. maxSize 0 means DefaultMaxFrameSize.
func NewFramer(rw io.ReadWriter, maxSize uint32) *Framer {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Framer{r: rw, w: rw, maxSize: maxSize}
}

// SetEmitter enables frame capture. Pass nil to disable it.
func (f *Framer) SetEmitter(e *log.Emitter) {
	f.emitter = e
}

// WriteFrame writes one frame.
func (f *Framer) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrFrameEmpty
	}
	if uint32(len(data)) > f.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(data), f.maxSize)
	}

	buf := make([]byte, LengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[LengthPrefixSize:], data)

	f.wmu.Lock()
	_, err := f.w.Write(buf)
	f.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	f.emitter.Frame(log.DirectionOut, data)
	return nil
}

// ReadFrame reads one frame and returns its payload. A clean end of stream
// before any prefix byte returns io.EOF.
func (f *Framer) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(f.r, f.lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(f.lenBuf[:])
	if length == 0 {
		return nil, ErrFrameEmpty
	}
	if length > f.maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, f.maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}

	f.emitter.Frame(log.DirectionIn, payload)
	return payload, nil
}
