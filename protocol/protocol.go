// Package protocol implements the length-prefixed frame layer for wirerpc.
//
// TCP is a byte stream with no message boundaries. Every frame carries a fixed 4-byte
// big-endian length followed by exactly that many payload bytes, so the receiver reads
// the prefix first and then the body.
//
// Frame format:
//
//	0         4
//	┌─────────┬───────────────┐
//	│ length  │  payload ...  │
//	│ uint32  │ length bytes  │
//	└─────────┴───────────────┘
//
// The payload is opaque to this package; the codec package gives it meaning.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the width of the length prefix.
	HeaderSize = 4
	// DefaultMaxFrameSize bounds a single payload (8 MiB).
	DefaultMaxFrameSize uint32 = 8 * 1024 * 1024
)

var (
	// ErrFraming is wrapped by every framing error.
	ErrFraming = errors.New("protocol: framing error")
	// ErrFrameTooLarge is returned when a declared or written length exceeds the maximum.
	ErrFrameTooLarge = fmt.Errorf("%w: frame too large", ErrFraming)
	// ErrTruncatedFrame is returned when the stream ends inside a frame.
	ErrTruncatedFrame = fmt.Errorf("%w: stream ended mid-frame", ErrFraming)
)

// Encode writes one frame (length prefix + payload) to w.
// The caller must serialize writes if several goroutines share w.
func Encode(w io.Writer, payload []byte, maxFrameSize uint32) error {
	if uint64(len(payload)) > uint64(maxFrameSize) {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFrameTooLarge, len(payload), maxFrameSize)
	}

	var prefix [HeaderSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))

	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// Decode reads one complete frame from r.
//
// io.EOF is returned only when the stream ends cleanly on a frame boundary. A length
// above maxFrameSize is rejected before the payload is allocated or read.
func Decode(r io.Reader, maxFrameSize uint32) ([]byte, error) {
	var prefix [HeaderSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short length prefix", ErrTruncatedFrame)
		}
		// io.EOF with zero bytes read: the peer closed between frames
		return nil, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("%w: declared %d bytes exceeds limit of %d", ErrFrameTooLarge, length, maxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: want %d payload bytes", ErrTruncatedFrame, length)
		}
		return nil, err
	}
	return payload, nil
}
