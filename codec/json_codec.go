package codec

import (
	"fmt"

	"github.com/goccy/go-json"

	"wirerpc/message"
)

// JSONCodec encodes values as internally tagged JSON objects:
//
//	{"type":"Add","lhs":2,"rhs":3}  →  {"type":"Add","sum":5}
//
// It is the textual form used by the CLI and an alternative wire encoding for debugging.
// Pros: human-readable, easy to type by hand.
// Cons: larger payloads, field names repeated in every message.
type JSONCodec struct{}

type typeHeader struct {
	Type string `json:"type"`
}

func (c *JSONCodec) EncodeRequest(req message.Request) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch v := req.(type) {
	case message.Ping:
		data, err = json.Marshal(typeHeader{Type: v.Tag().String()})
	case message.Pong:
		data, err = json.Marshal(typeHeader{Type: v.Tag().String()})
	case message.Add:
		data, err = json.Marshal(struct {
			Type string `json:"type"`
			message.Add
		}{v.Tag().String(), v})
	case message.Echo:
		if err := checkText("text", v.Text); err != nil {
			return nil, err
		}
		data, err = json.Marshal(struct {
			Type string `json:"type"`
			message.Echo
		}{v.Tag().String(), v})
	default:
		return nil, fmt.Errorf("%w: unsupported request %T", ErrEncode, req)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return data, nil
}

func (c *JSONCodec) DecodeRequest(data []byte) (message.Request, error) {
	tag, err := decodeTag(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case message.TagPing:
		return message.Ping{}, nil
	case message.TagPong:
		return message.Pong{}, nil
	case message.TagAdd:
		return decodeAs[message.Add](data, "lhs", "rhs")
	case message.TagEcho:
		return decodeAs[message.Echo](data, "text")
	}
	return nil, fmt.Errorf("%w: unknown request tag %s", ErrDecode, tag)
}

func (c *JSONCodec) EncodeResponse(resp message.Response) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch v := resp.(type) {
	case message.PingReply:
		if err := checkText("message", v.Message); err != nil {
			return nil, err
		}
		data, err = json.Marshal(struct {
			Type string `json:"type"`
			message.PingReply
		}{v.Tag().String(), v})
	case message.PongReply:
		if err := checkText("message", v.Message); err != nil {
			return nil, err
		}
		data, err = json.Marshal(struct {
			Type string `json:"type"`
			message.PongReply
		}{v.Tag().String(), v})
	case message.AddReply:
		data, err = json.Marshal(struct {
			Type string `json:"type"`
			message.AddReply
		}{v.Tag().String(), v})
	case message.EchoReply:
		if err := checkText("text", v.Text); err != nil {
			return nil, err
		}
		data, err = json.Marshal(struct {
			Type string `json:"type"`
			message.EchoReply
		}{v.Tag().String(), v})
	default:
		return nil, fmt.Errorf("%w: unsupported response %T", ErrEncode, resp)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return data, nil
}

func (c *JSONCodec) DecodeResponse(data []byte) (message.Response, error) {
	tag, err := decodeTag(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case message.TagPing:
		return decodeAs[message.PingReply](data, "message")
	case message.TagPong:
		return decodeAs[message.PongReply](data, "message")
	case message.TagAdd:
		return decodeAs[message.AddReply](data, "sum")
	case message.TagEcho:
		return decodeAs[message.EchoReply](data, "text")
	}
	return nil, fmt.Errorf("%w: unknown response tag %s", ErrDecode, tag)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

func decodeTag(data []byte) (message.Tag, error) {
	var h typeHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if h.Type == "" {
		return 0, fmt.Errorf("%w: missing \"type\"", ErrDecode)
	}
	tag, ok := message.ParseTag(h.Type)
	if !ok {
		return 0, fmt.Errorf("%w: unknown type %q", ErrDecode, h.Type)
	}
	return tag, nil
}

// decodeAs decodes data into T. Every listed field must be present and not null,
// as the binary form has no way to leave a field out either.
func decodeAs[T any](data []byte, fields ...string) (T, error) {
	var zero T
	var present map[string]json.RawMessage
	if err := json.Unmarshal(data, &present); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	for _, f := range fields {
		raw, ok := present[f]
		if !ok || string(raw) == "null" {
			return zero, fmt.Errorf("%w: missing %q", ErrDecode, f)
		}
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v, nil
}
