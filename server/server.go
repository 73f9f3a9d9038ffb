// Package server implements the RPC server: service registration, middleware
// chain, bounded parallel request processing and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: workerPool.Submit (at most maxWorkers run at once)
//	    → Codec.Decode → Middleware Chain → businessHandler (reflect.Call) → Codec.Encode → write response
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"userdir/codec"
	"userdir/message"
	"userdir/middleware"
	"userdir/protocol"
)

// DefaultMaxWorkers is the number of calls a server executes at once unless
// WithMaxWorkers says otherwise.
const DefaultMaxWorkers = 10

var ErrServerStarted = errors.New("server: already serving")

type Server struct {
	servicesMu sync.RWMutex
	serviceMap map[string]*service // "UserService" → *service

	mu       sync.Mutex // guards listener, conns, pool and the shutdown transition
	listener net.Listener
	conns    map[net.Conn]struct{}
	pool     *workerPool
	wg       sync.WaitGroup // in-flight and queued requests
	shutdown atomic.Bool

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	maxWorkers int
	logger     *zap.Logger

	baseCtx context.Context // parent of every request context, cancelled on forced shutdown
	cancel  context.CancelFunc
}

type Option func(*Server)

// WithLogger sets the server's logger. The global zap logger is used otherwise.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxWorkers bounds the number of calls executing at the same time.
func WithMaxWorkers(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxWorkers = n
		}
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		serviceMap: make(map[string]*service),
		conns:      make(map[net.Conn]struct{}),
		maxWorkers: DefaultMaxWorkers,
		logger:     zap.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Register publishes rcvr's suitable methods under its struct type name.
func (svr *Server) Register(rcvr any) error {
	svc, err := NewService(rcvr)
	if err != nil {
		return err
	}
	return svr.addService(svc)
}

// RegisterName is like Register but publishes the methods under name.
func (svr *Server) RegisterName(name string, rcvr any) error {
	svc, err := newService(name, rcvr)
	if err != nil {
		return err
	}
	return svr.addService(svc)
}

func (svr *Server) addService(svc *service) error {
	svr.servicesMu.Lock()
	defer svr.servicesMu.Unlock()
	if _, dup := svr.serviceMap[svc.name]; dup {
		return fmt.Errorf("rpc: service already defined: %s", svc.name)
	}
	svr.serviceMap[svc.name] = svc
	return nil
}

// Use registers a middleware. Middlewares apply in the order they are added
// and must be registered before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// ListenAndServe listens on address and calls Serve.
func (svr *Server) ListenAndServe(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.Serve(listener)
}

// Serve accepts connections on listener until Shutdown. It returns nil after
// a Shutdown and the Accept error otherwise.
func (svr *Server) Serve(listener net.Listener) error {
	svr.mu.Lock()
	if svr.listener != nil {
		svr.mu.Unlock()
		return ErrServerStarted
	}
	if svr.shutdown.Load() {
		svr.mu.Unlock()
		listener.Close()
		return nil
	}
	svr.listener = listener
	// Chain(A, B, C)(h) → A(B(C(h))); built once, not per request.
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)
	svr.pool = newWorkerPool(svr.maxWorkers)
	svr.mu.Unlock()

	svr.logger.Info("rpc server listening",
		zap.Stringer("addr", listener.Addr()),
		zap.Int("max_workers", svr.maxWorkers))

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		if !svr.trackConn(conn) {
			conn.Close()
			continue
		}
		go svr.handleConn(conn)
	}
}

// Addr returns the listener's address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

func (svr *Server) trackConn(conn net.Conn) bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.conns[conn] = struct{}{}
	return true
}

func (svr *Server) untrackConn(conn net.Conn) {
	svr.mu.Lock()
	delete(svr.conns, conn)
	svr.mu.Unlock()
}

// beginRequest registers one more in-flight request unless shutdown has begun.
// Sharing mu with Shutdown keeps wg.Add from racing wg.Wait.
func (svr *Server) beginRequest() bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.wg.Add(1)
	return true
}

// handleConn reads frames from one connection sequentially and hands each
// request to the worker pool. The per-connection write mutex keeps concurrent
// responses from interleaving on the wire. Requests still queued when the
// peer goes away see a cancelled context.
func (svr *Server) handleConn(conn net.Conn) {
	defer svr.untrackConn(conn)
	defer conn.Close()

	ctx, cancel := context.WithCancel(svr.baseCtx)
	defer cancel()

	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !svr.shutdown.Load() {
				svr.logger.Debug("closing connection",
					zap.Stringer("remote", conn.RemoteAddr()),
					zap.Error(err))
			}
			return
		}

		if header.MsgType != protocol.MsgTypeRequest {
			continue // heartbeats only keep the connection alive
		}

		if !svr.beginRequest() {
			return
		}
		submitted := svr.pool.Submit(func() {
			defer svr.wg.Done()
			svr.handleRequest(ctx, header, body, conn, writeMu)
		})
		if !submitted {
			svr.wg.Done()
			return
		}
	}
}

// handleRequest decodes one request, runs it through the handler chain and
// writes the response with the request's sequence number.
func (svr *Server) handleRequest(ctx context.Context, header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	c := codec.GetCodec(codec.CodecType(header.CodecType))

	var resp *message.RPCMessage
	msg := message.RPCMessage{}
	if err := c.Decode(body, &msg); err != nil {
		resp = message.ErrorReply("", status.Errorf(codes.InvalidArgument, "decode request: %v", err))
	} else {
		if deadline, ok := msg.DeadlineTime(); ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithDeadline(ctx, deadline)
			defer cancel()
		}
		resp = svr.handler(ctx, &msg)
	}

	result, err := svr.encodeReply(c, msg.ServiceMethod, resp)
	if err != nil {
		// The caller would wait forever for this seq; drop the connection so it fails fast.
		svr.logger.Error("failed to encode response",
			zap.String("service_method", msg.ServiceMethod),
			zap.Error(err))
		conn.Close()
		return
	}

	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
		BodyLen:   uint32(len(result)),
	}

	writeMu.Lock()
	err = protocol.Encode(conn, &replyHeader, result)
	writeMu.Unlock()
	if err != nil {
		svr.logger.Debug("failed to write response",
			zap.String("service_method", msg.ServiceMethod),
			zap.Error(err))
		conn.Close()
	}
}

// encodeReply encodes resp for the wire. A reply that cannot be encoded, or
// that exceeds protocol.MaxBodyLen, is replaced by an error reply so the
// caller still gets an answer for its seq.
func (svr *Server) encodeReply(c codec.Codec, serviceMethod string, resp *message.RPCMessage) ([]byte, error) {
	result, err := c.Encode(resp)
	if err == nil && uint64(len(result)) > uint64(protocol.MaxBodyLen) {
		err = fmt.Errorf("%w: %d bytes", protocol.ErrBodyTooLarge, len(result))
	}
	if err == nil {
		return result, nil
	}

	code := codes.Internal
	if errors.Is(err, protocol.ErrBodyTooLarge) {
		code = codes.ResourceExhausted
	}
	svr.logger.Warn("reply replaced by error",
		zap.String("service_method", serviceMethod),
		zap.Stringer("code", code),
		zap.Error(err))
	return c.Encode(message.ErrorReply(serviceMethod, status.Errorf(code, "reply not sent: %v", err)))
}

// Shutdown stops the server:
//  1. mark shutdown so no new connection or request is admitted
//  2. close the listener
//  3. wait up to timeout for in-flight and queued requests
//  4. close remaining connections and release the workers
//
// If the timeout expires, request contexts are cancelled and an error is returned.
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.Lock()
	svr.shutdown.Store(true)
	listener := svr.listener
	svr.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
	svr.cancel()

	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	pool := svr.pool
	svr.mu.Unlock()

	if pool != nil {
		pool.Stop()
		// After a timeout a worker may still be stuck in a handler; only join
		// them once every request has finished.
		if err == nil {
			pool.Wait()
		}
	}
	return err
}

// businessHandler dispatches a request to the registered service method. It
// is wrapped by the middleware chain.
//
// Flow: parse "Service.Method" → find service → find method → reflect.New(args) →
// json.Unmarshal(payload, args) → reflect.Call → json.Marshal(reply)
func (svr *Server) businessHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	serviceName, methodName, ok := strings.Cut(req.ServiceMethod, ".")
	if !ok || serviceName == "" || methodName == "" {
		return message.ErrorReply(req.ServiceMethod,
			status.Errorf(codes.InvalidArgument, "invalid service method format: %q", req.ServiceMethod))
	}

	svr.servicesMu.RLock()
	svc := svr.serviceMap[serviceName]
	svr.servicesMu.RUnlock()
	if svc == nil {
		return message.ErrorReply(req.ServiceMethod,
			status.Errorf(codes.Unimplemented, "unknown service %s", serviceName))
	}
	method := svc.method[methodName]
	if method == nil {
		return message.ErrorReply(req.ServiceMethod,
			status.Errorf(codes.Unimplemented, "unknown method %s.%s", serviceName, methodName))
	}

	argv := reflect.New(method.ArgType)
	replyv := reflect.New(method.ReplyType)

	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, argv.Interface()); err != nil {
			return message.ErrorReply(req.ServiceMethod,
				status.Errorf(codes.InvalidArgument, "decode args: %v", err))
		}
	}

	// A caller that has already gone away or run out of time gets nothing executed.
	if err := ctx.Err(); err != nil {
		return message.ErrorReply(req.ServiceMethod, err)
	}

	if err := svc.Call(ctx, method, argv, replyv); err != nil {
		return message.ErrorReply(req.ServiceMethod, err)
	}

	payload, err := json.Marshal(replyv.Interface())
	if err != nil {
		return message.ErrorReply(req.ServiceMethod,
			status.Errorf(codes.Internal, "encode reply: %v", err))
	}

	return &message.RPCMessage{
		ServiceMethod: req.ServiceMethod,
		Payload:       payload,
	}
}
