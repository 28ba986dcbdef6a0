package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestAndResponseShareTag(t *testing.T) {
	for _, tag := range Tags() {
		req, ok := NewRequest(tag)
		require.True(t, ok, "no request for %s", tag)
		resp, ok := NewResponse(tag)
		require.True(t, ok, "no response for %s", tag)

		assert.Equal(t, tag, req.Tag())
		assert.Equal(t, tag, resp.Tag())
	}
}

func TestUnknownTag(t *testing.T) {
	unknown := Tag(len(Tags()))
	assert.False(t, unknown.Valid())
	assert.Equal(t, "Tag(4)", unknown.String())

	_, ok := NewRequest(unknown)
	assert.False(t, ok)
	_, ok = NewResponse(unknown)
	assert.False(t, ok)
}

func TestParseTag(t *testing.T) {
	for _, tag := range Tags() {
		got, ok := ParseTag(tag.String())
		require.True(t, ok)
		assert.Equal(t, tag, got)
	}

	_, ok := ParseTag("Multiply")
	assert.False(t, ok)
}
