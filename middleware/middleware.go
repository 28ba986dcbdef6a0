// Package middleware wraps dispatch handlers with cross-cutting behavior.
//
// Middlewares never replace a response with one of another operation: whatever they do,
// the wrapped handler's reply for the request's tag is what leaves the chain.
package middleware

import (
	"context"

	"wirerpc/message"
)

type HandlerFunc func(ctx context.Context, req message.Request) message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one is the outermost:
// Chain(A, B, C)(h) == A(B(C(h))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
