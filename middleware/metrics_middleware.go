package middleware

import (
	"context"
	"time"

	"wirerpc/message"
	"wirerpc/metrics"
)

// MetricsMiddleware records a request count and handler duration per operation.
func MetricsMiddleware(m *metrics.Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Request) message.Response {
			start := time.Now()
			resp := next(ctx, req)
			m.RecordRequest(req.Tag().String(), time.Since(start))
			return resp
		}
	}
}
