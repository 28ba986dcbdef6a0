// Package handlers implements the server side of every operation in package message.
package handlers

import (
	"context"

	"wirerpc/dispatch"
	"wirerpc/message"
)

const (
	PingMessage = "You have been pinged"
	PongMessage = "The pong has been sent"
)

func Ping(ctx context.Context, _ message.Ping) message.PingReply {
	return message.PingReply{Message: PingMessage}
}

func Pong(ctx context.Context, _ message.Pong) message.PongReply {
	return message.PongReply{Message: PongMessage}
}

// Add wraps on overflow, as int32 arithmetic does.
func Add(ctx context.Context, req message.Add) message.AddReply {
	return message.AddReply{Sum: req.Lhs + req.Rhs}
}

func Echo(ctx context.Context, req message.Echo) message.EchoReply {
	return message.EchoReply{Text: req.Text}
}

// Register binds every operation to its handler.
func Register(b *dispatch.Builder) error {
	if err := dispatch.Register(b, Ping); err != nil {
		return err
	}
	if err := dispatch.Register(b, Pong); err != nil {
		return err
	}
	if err := dispatch.Register(b, Add); err != nil {
		return err
	}
	return dispatch.Register(b, Echo)
}
