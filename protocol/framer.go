package protocol

import (
	"bufio"
	"io"
)

// Framer reads and writes frames on one stream. It buffers both directions:
// partial reads accumulate in the reader until a full frame is present, and each
// WriteFrame flushes so a frame never sits half-written in the buffer.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	r            *bufio.Reader
	w            *bufio.Writer
	maxFrameSize uint32
}

// NewFramer wraps rw. A zero maxFrameSize selects DefaultMaxFrameSize.
func NewFramer(rw io.ReadWriter, maxFrameSize uint32) *Framer {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Framer{
		r:            bufio.NewReader(rw),
		w:            bufio.NewWriter(rw),
		maxFrameSize: maxFrameSize,
	}
}

// ReadFrame returns the next payload, io.EOF on clean closure, or a framing/transport error.
func (f *Framer) ReadFrame() ([]byte, error) {
	return Decode(f.r, f.maxFrameSize)
}

// WriteFrame writes and flushes one frame.
func (f *Framer) WriteFrame(payload []byte) error {
	if err := Encode(f.w, payload, f.maxFrameSize); err != nil {
		return err
	}
	return f.w.Flush()
}

// Flush writes any buffered bytes to the underlying stream.
func (f *Framer) Flush() error {
	return f.w.Flush()
}

// MaxFrameSize reports the configured payload limit.
func (f *Framer) MaxFrameSize() uint32 {
	return f.maxFrameSize
}
