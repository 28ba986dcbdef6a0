package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	body := []byte("hello world")

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, body, DefaultMaxFrameSize))
	assert.Equal(t, HeaderSize+len(body), buf.Len())
	assert.Equal(t, uint32(len(body)), binary.BigEndian.Uint32(buf.Bytes()[:HeaderSize]))

	decoded, err := Decode(&buf, DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.Equal(t, body, decoded)
}

func TestDecodeEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, nil, DefaultMaxFrameSize))
	assert.Equal(t, []byte{0, 0, 0, 0}, buf.Bytes())

	decoded, err := Decode(&buf, DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodeLargeBody(t *testing.T) {
	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, largeBody, DefaultMaxFrameSize))

	decoded, err := Decode(&buf, DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(largeBody, decoded), "large body mismatch")
}

func TestDecodeOneByteAtATime(t *testing.T) {
	payloads := [][]byte{
		[]byte("a"),
		{},
		bytes.Repeat([]byte{0xAB, 0x00, 0xFF}, 1000),
		[]byte("trailing frame"),
	}

	var buf bytes.Buffer
	for _, p := range payloads {
		require.NoError(t, Encode(&buf, p, DefaultMaxFrameSize))
	}

	r := iotest.OneByteReader(&buf)
	for i, want := range payloads {
		got, err := Decode(r, DefaultMaxFrameSize)
		require.NoError(t, err, "frame %d", i)
		assert.True(t, bytes.Equal(want, got), "frame %d mismatch", i)
	}

	_, err := Decode(r, DefaultMaxFrameSize)
	assert.ErrorIs(t, err, io.EOF)
}

// prefixOnlyReader yields a length prefix and fails the test if anything reads past it.
type prefixOnlyReader struct {
	t      *testing.T
	prefix []byte
}

func (r *prefixOnlyReader) Read(p []byte) (int, error) {
	if len(r.prefix) == 0 {
		r.t.Fatalf("payload read attempted after oversized prefix")
	}
	n := copy(p, r.prefix)
	r.prefix = r.prefix[n:]
	return n, nil
}

func TestDecodeOversizedFrame(t *testing.T) {
	prefix := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(prefix, 0xFFFFFFFF)

	_, err := Decode(&prefixOnlyReader{t: t, prefix: prefix}, 1024)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.ErrorIs(t, err, ErrFraming)
}

func TestEncodeOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, make([]byte, 17), 16)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Zero(t, buf.Len(), "nothing may be written for a rejected frame")
}

func TestDecodeAtLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, make([]byte, 16), 16))

	got, err := Decode(&buf, 16)
	require.NoError(t, err)
	assert.Len(t, got, 16)
}

func TestDecodeCleanEOF(t *testing.T) {
	_, err := Decode(bytes.NewReader(nil), DefaultMaxFrameSize)
	assert.True(t, errors.Is(err, io.EOF))
	assert.False(t, errors.Is(err, ErrFraming), "clean EOF is not a framing error")
}

func TestDecodeTruncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "short prefix", data: []byte{0, 0}},
		{name: "short payload", data: []byte{0, 0, 0, 10, 'a', 'b', 'c'}},
		{name: "missing payload", data: []byte{0, 0, 0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(tt.data), DefaultMaxFrameSize)
			assert.ErrorIs(t, err, ErrTruncatedFrame)
			assert.NotErrorIs(t, err, io.EOF)
		})
	}
}

func TestFramerOverFragmentedStream(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := bytes.Repeat([]byte("fragment"), 512)

	var encoded bytes.Buffer
	require.NoError(t, Encode(&encoded, payload, DefaultMaxFrameSize))

	// deliver the frame one byte per write
	go func() {
		for _, b := range encoded.Bytes() {
			if _, err := client.Write([]byte{b}); err != nil {
				return
			}
		}
		client.Close()
	}()

	f := NewFramer(server, 0)
	assert.Equal(t, DefaultMaxFrameSize, f.MaxFrameSize())

	got, err := f.ReadFrame()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))

	_, err = f.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFramerWriteFlushes(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = NewFramer(client, 64).WriteFrame([]byte("ping"))
	}()

	got, err := Decode(server, 64)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), got)
}
