// Package codec turns message values into frame payloads and back.
//
// Both peers must agree on the codec out of band; the frame carries no codec marker.
package codec

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"wirerpc/message"
)

type CodecType byte

const (
	CodecTypeBinary CodecType = 0
	CodecTypeJSON   CodecType = 1
)

var (
	// ErrDecode is wrapped by every decode failure: unknown tag, truncation, malformed fields.
	ErrDecode = errors.New("codec: decode failed")
	// ErrEncode is wrapped by every encode failure: a value outside the message set, or
	// a string field that is not valid UTF-8 and so could not be decoded again.
	ErrEncode = errors.New("codec: encode failed")
)

type Codec interface {
	EncodeRequest(req message.Request) ([]byte, error)
	DecodeRequest(data []byte) (message.Request, error)
	EncodeResponse(resp message.Response) ([]byte, error)
	DecodeResponse(data []byte) (message.Response, error)
	Type() CodecType
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeBinary:
		return "binary"
	case CodecTypeJSON:
		return "json"
	}
	return fmt.Sprintf("CodecType(%d)", byte(t))
}

// ParseCodecType accepts "binary" or "json", case-insensitively.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "binary", "":
		return CodecTypeBinary, nil
	case "json":
		return CodecTypeJSON, nil
	}
	return 0, fmt.Errorf("codec: unknown codec %q", name)
}

func checkText(field, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrEncode, field)
	}
	return nil
}
