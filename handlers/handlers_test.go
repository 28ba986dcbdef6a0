package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wirerpc/dispatch"
	"wirerpc/message"
)

func TestHandlers(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, message.PingReply{Message: "You have been pinged"}, Ping(ctx, message.Ping{}))
	assert.Equal(t, message.PongReply{Message: "The pong has been sent"}, Pong(ctx, message.Pong{}))
	assert.Equal(t, message.AddReply{Sum: 5}, Add(ctx, message.Add{Lhs: 2, Rhs: 3}))
	assert.Equal(t, message.AddReply{Sum: -1}, Add(ctx, message.Add{Lhs: 2, Rhs: -3}))
	assert.Equal(t, message.EchoReply{Text: ""}, Echo(ctx, message.Echo{}))
}

func TestRegisterCoversEveryOperation(t *testing.T) {
	b := dispatch.NewBuilder()
	require.NoError(t, Register(b))
	reg, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, message.Tags(), reg.Tags())
}
