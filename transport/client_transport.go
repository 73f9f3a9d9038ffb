// Package transport implements the client side of the wire: a multiplexed
// connection with heartbeats, and a pool of such connections per address.
//
// Each request gets a unique sequence number and a background goroutine
// (recvLoop) routes every response to the caller waiting on that number.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan → goroutine-2 wakes up
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"userdir/codec"
	"userdir/message"
	"userdir/protocol"
)

// DefaultHeartbeatInterval is how often an idle transport probes its connection.
const DefaultHeartbeatInterval = 30 * time.Second

var ErrClosed = errors.New("transport: connection closed")

type ClientTransport struct {
	conn    net.Conn
	codec   codec.CodecType
	pending sync.Map // map[uint32]chan *message.RPCMessage

	sending sync.Mutex // serializes frame writes, seq allocation and closing
	seq     uint32
	closed  bool
	err     error

	done      chan struct{} // closed once the connection is unusable
	closeOnce sync.Once
}

type TransportOption func(*transportConfig)

type transportConfig struct {
	heartbeat time.Duration
}

// WithHeartbeat overrides the heartbeat interval; zero disables heartbeats.
func WithHeartbeat(interval time.Duration) TransportOption {
	return func(c *transportConfig) { c.heartbeat = interval }
}

// NewClientTransport wraps conn and starts its receive loop and, unless
// disabled, its heartbeat loop.
func NewClientTransport(conn net.Conn, codecType codec.CodecType, opts ...TransportOption) *ClientTransport {
	cfg := transportConfig{heartbeat: DefaultHeartbeatInterval}
	for _, opt := range opts {
		opt(&cfg)
	}

	t := &ClientTransport{
		conn:  conn,
		codec: codecType,
		done:  make(chan struct{}),
	}
	go t.recvLoop()
	if cfg.heartbeat > 0 {
		go t.heartbeatLoop(cfg.heartbeat)
	}
	return t
}

// Send serializes args and writes one request frame. The returned channel
// receives exactly one response: the server's reply, or a failure if the
// connection breaks first. A deadline on ctx travels with the request.
func (t *ClientTransport) Send(ctx context.Context, serviceMethod string, args any) (uint32, <-chan *message.RPCMessage, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return 0, nil, err
	}
	rpcMessage := message.RPCMessage{
		ServiceMethod: serviceMethod,
		Payload:       payload,
	}
	if deadline, ok := ctx.Deadline(); ok {
		rpcMessage.Deadline = deadline.UnixNano()
	}
	body, err := codec.GetCodec(t.codec).Encode(&rpcMessage)
	if err != nil {
		return 0, nil, err
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	if t.closed {
		return 0, nil, t.closedErr()
	}

	t.seq++
	seq := t.seq

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}

	// Register before writing so recvLoop can never see an unknown seq.
	respChan := make(chan *message.RPCMessage, 1)
	t.pending.Store(seq, respChan)

	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq)
		return 0, nil, err
	}

	return seq, respChan, nil
}

// Cancel forgets a pending request; a late response for seq is dropped.
func (t *ClientTransport) Cancel(seq uint32) {
	t.pending.Delete(seq)
}

// recvLoop is the only reader of the connection: frame boundaries can only be
// parsed sequentially. Responses may arrive in any order.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.fail(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		responseRPC := &message.RPCMessage{}
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, responseRPC); err != nil {
			responseRPC = message.ErrorReply("", status.Errorf(codes.Internal, "decode response: %v", err))
		}

		if channel, ok := t.pending.LoadAndDelete(header.Seq); ok {
			channel.(chan *message.RPCMessage) <- responseRPC
		}
	}
}

// fail marks the transport unusable and answers every pending caller with
// an Unavailable error so nobody waits forever.
func (t *ClientTransport) fail(err error) {
	t.sending.Lock()
	if !t.closed {
		t.closed = true
		t.err = err
	}
	t.sending.Unlock()

	t.closeOnce.Do(func() {
		close(t.done)
		t.conn.Close()
	})

	reason := message.ErrorReply("", status.Errorf(codes.Unavailable, "connection lost: %v", err))
	t.pending.Range(func(key, value any) bool {
		if _, ok := t.pending.LoadAndDelete(key); ok {
			value.(chan *message.RPCMessage) <- reason
		}
		return true
	})
}

func (t *ClientTransport) closedErr() error {
	if t.err != nil && !errors.Is(t.err, ErrClosed) {
		return errors.Join(ErrClosed, t.err)
	}
	return ErrClosed
}

// Close shuts the connection; pending callers receive an Unavailable reply.
func (t *ClientTransport) Close() error {
	t.sending.Lock()
	already := t.closed
	if !already {
		t.closed = true
		t.err = ErrClosed
	}
	t.sending.Unlock()

	if already {
		return nil
	}
	// recvLoop observes the closed conn and drains pending callers.
	return t.conn.Close()
}

// Done is closed once the transport can no longer carry requests.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}

// Broken reports whether the transport can no longer carry requests.
func (t *ClientTransport) Broken() bool {
	t.sending.Lock()
	defer t.sending.Unlock()
	return t.closed
}

// heartbeatLoop writes an empty heartbeat frame every interval so an idle
// connection is noticed as dead on the next failed write.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	header := &protocol.Header{CodecType: byte(t.codec), MsgType: protocol.MsgTypeHeartbeat}
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}

		t.sending.Lock()
		if t.closed {
			t.sending.Unlock()
			return
		}
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.conn.Close() // recvLoop takes it from here
			return
		}
	}
}
