package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wirerpc/message"
)

var sampleRequests = []message.Request{
	message.Ping{},
	message.Pong{},
	message.Add{Lhs: 2, Rhs: 3},
	message.Add{Lhs: math.MinInt32, Rhs: math.MaxInt32},
	message.Add{Lhs: -1, Rhs: 0},
	message.Echo{Text: ""},
	message.Echo{Text: "hello, wire"},
	message.Echo{Text: "ünïcødé ✓"},
}

var sampleResponses = []message.Response{
	message.PingReply{Message: "You have been pinged"},
	message.PongReply{Message: "The pong has been sent"},
	message.PongReply{},
	message.AddReply{Sum: 5},
	message.AddReply{Sum: math.MinInt32},
	message.EchoReply{Text: ""},
	message.EchoReply{Text: "ünïcødé ✓"},
}

func TestRoundTrip(t *testing.T) {
	for _, ct := range []CodecType{CodecTypeBinary, CodecTypeJSON} {
		cdc := GetCodec(ct)
		t.Run(ct.String(), func(t *testing.T) {
			assert.Equal(t, ct, cdc.Type())

			for _, req := range sampleRequests {
				data, err := cdc.EncodeRequest(req)
				require.NoError(t, err, "encode %#v", req)
				got, err := cdc.DecodeRequest(data)
				require.NoError(t, err, "decode %#v", req)
				assert.Equal(t, req, got)
			}

			for _, resp := range sampleResponses {
				data, err := cdc.EncodeResponse(resp)
				require.NoError(t, err, "encode %#v", resp)
				got, err := cdc.DecodeResponse(data)
				require.NoError(t, err, "decode %#v", resp)
				assert.Equal(t, resp, got)
			}
		})
	}
}

func TestBinaryLayout(t *testing.T) {
	cdc := &BinaryCodec{}

	data, err := cdc.EncodeRequest(message.Add{Lhs: 2, Rhs: 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0, 0, 0, 2, // tag Add
		0, 0, 0, 2, // lhs
		0, 0, 0, 3, // rhs
	}, data)

	data, err = cdc.EncodeResponse(message.AddReply{Sum: -1})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 2, 0xFF, 0xFF, 0xFF, 0xFF}, data)

	data, err = cdc.EncodeRequest(message.Echo{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 3, 0, 0, 0, 2, 'h', 'i'}, data)

	data, err = cdc.EncodeRequest(message.Ping{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, data)
}

func TestBinaryEncodingIsDeterministic(t *testing.T) {
	cdc := &BinaryCodec{}
	for _, req := range sampleRequests {
		a, err := cdc.EncodeRequest(req)
		require.NoError(t, err)
		b, err := cdc.EncodeRequest(req)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestBinaryDecodeErrors(t *testing.T) {
	cdc := &BinaryCodec{}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: []byte{}},
		{name: "short tag", data: []byte{0, 0}},
		{name: "unknown tag", data: []byte{0, 0, 0, 99}},
		{name: "truncated add", data: []byte{0, 0, 0, 2, 0, 0, 0, 2, 0}},
		{name: "trailing bytes", data: []byte{0, 0, 0, 0, 1}},
		{name: "string longer than payload", data: []byte{0, 0, 0, 3, 0, 0, 0, 9, 'h', 'i'}},
		{name: "huge string length", data: []byte{0, 0, 0, 3, 0xFF, 0xFF, 0xFF, 0xFF}},
		{name: "invalid utf8", data: []byte{0, 0, 0, 3, 0, 0, 0, 1, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cdc.DecodeRequest(tt.data)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}

	_, err := cdc.DecodeResponse([]byte{0, 0, 0, 7, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestJSONForm(t *testing.T) {
	cdc := &JSONCodec{}

	req, err := cdc.DecodeRequest([]byte(`{"type":"Add","lhs":2,"rhs":3}`))
	require.NoError(t, err)
	assert.Equal(t, message.Add{Lhs: 2, Rhs: 3}, req)

	data, err := cdc.EncodeResponse(message.AddReply{Sum: 5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Add","sum":5}`, string(data))

	data, err = cdc.EncodeRequest(message.Ping{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Ping"}`, string(data))
}

func TestJSONDecodeErrors(t *testing.T) {
	cdc := &JSONCodec{}

	for _, input := range []string{
		`not json`,
		`{}`,
		`{"type":"Multiply","lhs":2,"rhs":3}`,
		`{"type":"Add","lhs":"two","rhs":3}`,
		`{"type":"Add","lhs":2}`,
		`{"type":"Add","lhs":2,"rhs":null}`,
		`{"type":"Echo"}`,
	} {
		_, err := cdc.DecodeRequest([]byte(input))
		assert.ErrorIs(t, err, ErrDecode, input)
	}

	for _, input := range []string{
		`{"type":"Add"}`,
		`{"type":"Ping"}`,
		`{"type":"Echo","text":null}`,
	} {
		_, err := cdc.DecodeResponse([]byte(input))
		assert.ErrorIs(t, err, ErrDecode, input)
	}
}

func TestEncodeForeignValue(t *testing.T) {
	for _, ct := range []CodecType{CodecTypeBinary, CodecTypeJSON} {
		cdc := GetCodec(ct)

		_, err := cdc.EncodeRequest(nil)
		assert.ErrorIs(t, err, ErrEncode)
		_, err = cdc.EncodeResponse(nil)
		assert.ErrorIs(t, err, ErrEncode)
		_, err = cdc.EncodeRequest(&message.Add{})
		assert.ErrorIs(t, err, ErrEncode)
	}
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	const bad = "a\xffb"
	for _, ct := range []CodecType{CodecTypeBinary, CodecTypeJSON} {
		cdc := GetCodec(ct)
		t.Run(ct.String(), func(t *testing.T) {
			data, err := cdc.EncodeRequest(message.Echo{Text: bad})
			assert.ErrorIs(t, err, ErrEncode)
			assert.Nil(t, data)

			for _, resp := range []message.Response{
				message.PingReply{Message: bad},
				message.PongReply{Message: bad},
				message.EchoReply{Text: bad},
			} {
				data, err := cdc.EncodeResponse(resp)
				assert.ErrorIs(t, err, ErrEncode, "%#v", resp)
				assert.Nil(t, data)
			}

			// A valid value still encodes after a rejected one.
			data, err = cdc.EncodeRequest(message.Echo{Text: "ab"})
			require.NoError(t, err)
			got, err := cdc.DecodeRequest(data)
			require.NoError(t, err)
			assert.Equal(t, message.Echo{Text: "ab"}, got)
		})
	}
}

func TestParseCodecType(t *testing.T) {
	ct, err := ParseCodecType("JSON")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeJSON, ct)

	ct, err = ParseCodecType("binary")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeBinary, ct)

	_, err = ParseCodecType("gob")
	assert.Error(t, err)
}
