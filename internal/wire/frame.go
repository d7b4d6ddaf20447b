package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	FlagCompressed byte = 1 << 0
	FlagSealed     byte = 1 << 1

	// MaxFrameSize bounds flags+payload of a single frame.
	MaxFrameSize = 1 << 20

	compressThreshold = 1024
)

var (
	ErrFrameTooLarge = errors.New("wire: frame too large")
	ErrEmptyFrame    = errors.New("wire: empty frame")
)

var (
	zenc *zstd.Encoder
	zdec *zstd.Decoder
)

func init() {
	var err error
	zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("wire: zstd encoder initialization failed: " + err.Error())
	}
	zdec, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(4*MaxFrameSize))
	if err != nil {
		panic("wire: zstd decoder initialization failed: " + err.Error())
	}
}

// compress returns the zstd form of payload when it is worth it.
func compress(payload []byte) ([]byte, bool) {
	if len(payload) <= compressThreshold {
		return payload, false
	}
	out := zenc.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	if len(out) >= len(payload) {
		return payload, false
	}
	return out, true
}

func decompress(payload []byte) ([]byte, error) {
	out, err := zdec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: decompress: %w", err)
	}
	return out, nil
}

// FrameConn reads and writes length-prefixed frames over a byte stream.
// One goroutine may read while others write.
type FrameConn struct {
	r   *bufio.Reader
	w   io.Writer
	wmu sync.Mutex
}

func NewFrameConn(rw io.ReadWriter) *FrameConn {
	return &FrameConn{r: bufio.NewReader(rw), w: rw}
}

func (c *FrameConn) WriteFrame(flags byte, payload []byte) error {
	n := len(payload) + 1
	if n > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	buf := make([]byte, 4+n)
	binary.BigEndian.PutUint32(buf[:4], uint32(n))
	buf[4] = flags
	copy(buf[5:], payload)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(buf); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// ReadFrame returns io.EOF only when the stream ends on a frame boundary.
func (c *FrameConn) ReadFrame() (byte, []byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return 0, nil, err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	switch {
	case n == 0:
		return 0, nil, ErrEmptyFrame
	case n > MaxFrameSize:
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, fmt.Errorf("wire: read frame: %w", err)
	}
	return buf[0], buf[1:], nil
}
