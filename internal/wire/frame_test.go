package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameConn_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fc := NewFrameConn(&buf)

	require.NoError(t, fc.WriteFrame(0, []byte("hello")))
	require.NoError(t, fc.WriteFrame(FlagSealed, nil))

	flags, payload, err := fc.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, byte(0), flags)
	assert.Equal(t, []byte("hello"), payload)

	flags, payload, err = fc.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, FlagSealed, flags)
	assert.Empty(t, payload)

	_, _, err = fc.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameConn_RejectsOversizedFrames(t *testing.T) {
	var buf bytes.Buffer
	fc := NewFrameConn(&buf)

	err := fc.WriteFrame(0, make([]byte, MaxFrameSize))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Zero(t, buf.Len())

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)
	buf.Write(hdr[:])
	_, _, err = fc.ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrameConn_EmptyAndTruncated(t *testing.T) {
	fc := NewFrameConn(bytes.NewBuffer([]byte{0, 0, 0, 0}))
	_, _, err := fc.ReadFrame()
	assert.ErrorIs(t, err, ErrEmptyFrame)

	fc = NewFrameConn(bytes.NewBuffer([]byte{0, 0, 0, 9, 0, 'a'}))
	_, _, err = fc.ReadFrame()
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "got %v", err)
}

func TestCompress(t *testing.T) {
	small := []byte("short payload")
	out, ok := compress(small)
	assert.False(t, ok)
	assert.Equal(t, small, out)

	large := []byte(strings.Repeat("phone_code_hash ", 512))
	packed, ok := compress(large)
	require.True(t, ok)
	assert.Less(t, len(packed), len(large))

	unpacked, err := decompress(packed)
	require.NoError(t, err)
	assert.Equal(t, large, unpacked)
}
