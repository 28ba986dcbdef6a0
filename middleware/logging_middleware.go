package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"wirerpc/message"
)

// LoggingMiddleware logs every request and its response at debug level using the
// logger carried by ctx, so connection fields (conn_id, peer) come along.
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Request) message.Response {
			logger := zerolog.Ctx(ctx)
			logger.Debug().
				Stringer("op", req.Tag()).
				Interface("request", req).
				Msg("received request")

			start := time.Now()
			resp := next(ctx, req)

			logger.Debug().
				Stringer("op", req.Tag()).
				Interface("response", resp).
				Dur("duration", time.Since(start)).
				Msg("sending response")
			return resp
		}
	}
}
