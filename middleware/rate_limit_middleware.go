package middleware

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"wirerpc/message"
)

// RateLimitMiddleware applies a token bucket shared by all connections.
// The protocol has no rejection reply, so a request over the limit waits for a token
// instead of being refused.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Request) message.Response {
			if err := limiter.Wait(ctx); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Stringer("op", req.Tag()).Msg("rate limiter wait failed")
			}
			return next(ctx, req)
		}
	}
}
