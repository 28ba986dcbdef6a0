package codec

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"wirerpc/message"
)

// BinaryCodec is the default fixed-layout encoding. All integers are big-endian.
//
//	tag     uint32
//	fields  in declaration order
//	          int32   4 bytes, two's complement
//	          string  uint32 length + UTF-8 bytes
//
// The layout is not self-describing beyond the tag; a payload must be consumed exactly.
type BinaryCodec struct{}

func (c *BinaryCodec) EncodeRequest(req message.Request) ([]byte, error) {
	var e encoder
	switch v := req.(type) {
	case message.Ping, message.Pong:
		e.tag(v.Tag())
	case message.Add:
		e.tag(v.Tag())
		e.int32(v.Lhs)
		e.int32(v.Rhs)
	case message.Echo:
		e.tag(v.Tag())
		e.string("text", v.Text)
	default:
		return nil, fmt.Errorf("%w: unsupported request %T", ErrEncode, req)
	}
	return e.finish()
}

func (c *BinaryCodec) DecodeRequest(data []byte) (message.Request, error) {
	d := decoder{buf: data}
	tag := d.tag()

	var req message.Request
	switch tag {
	case message.TagPing:
		req = message.Ping{}
	case message.TagPong:
		req = message.Pong{}
	case message.TagAdd:
		req = message.Add{Lhs: d.int32(), Rhs: d.int32()}
	case message.TagEcho:
		req = message.Echo{Text: d.string()}
	default:
		if d.err == nil {
			d.err = fmt.Errorf("%w: unknown request tag %d", ErrDecode, uint32(tag))
		}
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *BinaryCodec) EncodeResponse(resp message.Response) ([]byte, error) {
	var e encoder
	switch v := resp.(type) {
	case message.PingReply:
		e.tag(v.Tag())
		e.string("message", v.Message)
	case message.PongReply:
		e.tag(v.Tag())
		e.string("message", v.Message)
	case message.AddReply:
		e.tag(v.Tag())
		e.int32(v.Sum)
	case message.EchoReply:
		e.tag(v.Tag())
		e.string("text", v.Text)
	default:
		return nil, fmt.Errorf("%w: unsupported response %T", ErrEncode, resp)
	}
	return e.finish()
}

func (c *BinaryCodec) DecodeResponse(data []byte) (message.Response, error) {
	d := decoder{buf: data}
	tag := d.tag()

	var resp message.Response
	switch tag {
	case message.TagPing:
		resp = message.PingReply{Message: d.string()}
	case message.TagPong:
		resp = message.PongReply{Message: d.string()}
	case message.TagAdd:
		resp = message.AddReply{Sum: d.int32()}
	case message.TagEcho:
		resp = message.EchoReply{Text: d.string()}
	default:
		if d.err == nil {
			d.err = fmt.Errorf("%w: unknown response tag %d", ErrDecode, uint32(tag))
		}
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// encoder keeps the first error, like decoder.
type encoder struct {
	buf []byte
	err error
}

func (e *encoder) tag(t message.Tag) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(t))
}

func (e *encoder) int32(v int32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(v))
}

func (e *encoder) string(field, s string) {
	if e.err != nil {
		return
	}
	if e.err = checkText(field, s); e.err != nil {
		return
	}
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) finish() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

// decoder records the first error and turns every later read into a no-op,
// so field decoding reads straight through without per-field checks.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) take(n int, what string) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf)-d.off < n {
		d.err = fmt.Errorf("%w: truncated %s: need %d bytes at offset %d, have %d",
			ErrDecode, what, n, d.off, len(d.buf)-d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) tag() message.Tag {
	b := d.take(4, "tag")
	if b == nil {
		return 0
	}
	return message.Tag(binary.BigEndian.Uint32(b))
}

func (d *decoder) int32() int32 {
	b := d.take(4, "int32")
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (d *decoder) string() string {
	lb := d.take(4, "string length")
	if lb == nil {
		return ""
	}
	n := binary.BigEndian.Uint32(lb)
	if uint64(n) > uint64(len(d.buf)-d.off) {
		d.err = fmt.Errorf("%w: truncated string: declared %d bytes, have %d", ErrDecode, n, len(d.buf)-d.off)
		return ""
	}
	b := d.take(int(n), "string")
	if !utf8.Valid(b) {
		d.err = fmt.Errorf("%w: string is not valid UTF-8", ErrDecode)
		return ""
	}
	return string(b)
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrDecode, len(d.buf)-d.off)
	}
	return nil
}
