package middleware

import (
	"context"
	"time"

	"userdir/message"
)

// TimeOutMiddleware bounds each call with a deadline. The handler runs on the
// calling goroutine and is expected to observe ctx; whatever it returns is the
// response, so a mutation that committed before the deadline still reports
// success.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			if err := ctx.Err(); err != nil {
				return message.ErrorReply(req.ServiceMethod, err)
			}
			return next(ctx, req)
		}
	}
}
