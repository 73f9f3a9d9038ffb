package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"userdir/message"
)

// LoggingMiddleware logs every call with its duration. Failed calls are logged
// at warn level together with their status code.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.L()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)

			fields := []zap.Field{
				zap.String("service_method", req.ServiceMethod),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Failed() {
				fields = append(fields,
					zap.Stringer("code", codes.Code(resp.Code)),
					zap.String("error", resp.Error))
				logger.Warn("rpc failed", fields...)
			} else {
				logger.Debug("rpc served", fields...)
			}
			return resp
		}
	}
}
