package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"userdir/message"
)

// RecoveryMiddleware turns a panicking handler into an Internal error reply
// so one bad call cannot take the connection down.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.L()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) (resp *message.RPCMessage) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("rpc handler panicked",
						zap.String("service_method", req.ServiceMethod),
						zap.String("panic", fmt.Sprint(r)),
						zap.Stack("stack"))
					resp = message.ErrorReply(req.ServiceMethod,
						status.Errorf(codes.Internal, "internal error in %s", req.ServiceMethod))
				}
			}()
			return next(ctx, req)
		}
	}
}
