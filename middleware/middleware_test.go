package middleware

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"

	"userdir/message"
)

func echoHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	return &message.RPCMessage{
		ServiceMethod: req.ServiceMethod,
		Payload:       []byte("ok"),
	}
}

// ctxHandler waits up to 200ms but gives up as soon as ctx is done.
func ctxHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	select {
	case <-time.After(200 * time.Millisecond):
		return echoHandler(ctx, req)
	case <-ctx.Done():
		return message.ErrorReply(req.ServiceMethod, ctx.Err())
	}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	resp := handler(context.Background(), &message.RPCMessage{ServiceMethod: "UserService.ListUsers"})
	if string(resp.Payload) != "ok" {
		t.Fatalf("expect payload 'ok', got '%s'", resp.Payload)
	}

	entries := logs.FilterMessage("rpc served").All()
	if len(entries) != 1 {
		t.Fatalf("expect 1 log entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["service_method"]; got != "UserService.ListUsers" {
		t.Fatalf("expect service_method field, got %v", got)
	}
}

func TestLoggingFailure(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	failing := func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		return &message.RPCMessage{Code: uint32(codes.NotFound), Error: "User with ID 9 not found"}
	}
	LoggingMiddleware(zap.New(core))(failing)(context.Background(), &message.RPCMessage{ServiceMethod: "UserService.GetUser"})

	entries := logs.FilterMessage("rpc failed").All()
	if len(entries) != 1 {
		t.Fatalf("expect 1 warn entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["code"]; got != "NotFound" {
		t.Fatalf("expect code NotFound, got %v", got)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), &message.RPCMessage{ServiceMethod: "DataService.GetData"})
	if resp.Error != "" {
		t.Fatalf("expect no error, got '%s'", resp.Error)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(ctxHandler)

	start := time.Now()
	resp := handler(context.Background(), &message.RPCMessage{ServiceMethod: "DataService.GetData"})
	if codes.Code(resp.Code) != codes.DeadlineExceeded {
		t.Fatalf("expect DeadlineExceeded, got %v (%s)", codes.Code(resp.Code), resp.Error)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("handler should have stopped near the deadline, took %v", elapsed)
	}
}

func TestTimeoutKeepsCommittedResult(t *testing.T) {
	// A handler that ignores ctx and finishes after the deadline still
	// reports its own result.
	slow := func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		time.Sleep(80 * time.Millisecond)
		return echoHandler(ctx, req)
	}
	resp := TimeOutMiddleware(20 * time.Millisecond)(slow)(context.Background(), &message.RPCMessage{})
	if resp.Failed() {
		t.Fatalf("expect success, got %s", resp.Error)
	}
}

func TestTimeoutDisabled(t *testing.T) {
	handler := TimeOutMiddleware(0)(func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		if _, ok := ctx.Deadline(); ok {
			t.Error("expect no deadline when the timeout is disabled")
		}
		return echoHandler(ctx, req)
	})
	handler(context.Background(), &message.RPCMessage{})
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first two pass, the third is rejected.
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	req := &message.RPCMessage{ServiceMethod: "UserService.CreateUser"}

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), req)
		if resp.Error != "" {
			t.Fatalf("request %d should pass, got error: %s", i, resp.Error)
		}
	}

	resp := handler(context.Background(), req)
	if resp.Error != "rate limit exceeded" || codes.Code(resp.Code) != codes.ResourceExhausted {
		t.Fatalf("request 3 should be rate limited, got: %v '%s'", codes.Code(resp.Code), resp.Error)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	handler := RateLimitMiddleware(0, 0)(echoHandler)
	for i := 0; i < 100; i++ {
		if resp := handler(context.Background(), &message.RPCMessage{}); resp.Failed() {
			t.Fatalf("request %d rejected: %s", i, resp.Error)
		}
	}
}

func TestRecovery(t *testing.T) {
	panicking := func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		panic("boom")
	}
	resp := RecoveryMiddleware(zap.NewNop())(panicking)(context.Background(), &message.RPCMessage{ServiceMethod: "UserService.GetUser"})
	if codes.Code(resp.Code) != codes.Internal {
		t.Fatalf("expect Internal, got %v", codes.Code(resp.Code))
	}
	if resp.ServiceMethod != "UserService.GetUser" {
		t.Fatalf("expect service method to be kept, got %q", resp.ServiceMethod)
	}
}

func TestChain(t *testing.T) {
	var order []string
	trace := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	chained := Chain(trace("a"), LoggingMiddleware(zap.NewNop()), TimeOutMiddleware(500*time.Millisecond), trace("b"))
	resp := chained(echoHandler)(context.Background(), &message.RPCMessage{ServiceMethod: "DataService.GetData"})

	if resp.Error != "" {
		t.Fatalf("expect no error, got '%s'", resp.Error)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expect a before b, got %v", order)
	}
}
