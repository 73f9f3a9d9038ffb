package middleware

import (
	"context"

	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"userdir/message"
)

var errRateLimited = status.Error(codes.ResourceExhausted, "rate limit exceeded")

// RateLimitMiddleware rejects calls beyond a token bucket of r calls per second
// with the given burst. A non-positive r disables limiting.
func RateLimitMiddleware(r float64, burst int) Middleware {
	if r <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return message.ErrorReply(req.ServiceMethod, errRateLimited)
			}
			return next(ctx, req)
		}
	}
}
