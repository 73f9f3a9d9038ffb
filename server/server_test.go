package server

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"userdir/codec"
	"userdir/message"
	"userdir/protocol"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

// Gauge records how many Hold calls run at the same time.
type Gauge struct {
	running atomic.Int32
	peak    atomic.Int32
	hold    time.Duration
}

func (g *Gauge) Hold(ctx context.Context, args *Args, reply *Reply) error {
	n := g.running.Add(1)
	defer g.running.Add(-1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	select {
	case <-time.After(g.hold):
	case <-ctx.Done():
		return ctx.Err()
	}
	reply.Result = args.A
	return nil
}

// Bulk produces replies the wire cannot carry.
type Bulk struct{}

// Huge replies with more than protocol.MaxBodyLen bytes.
func (b *Bulk) Huge(args *Args, reply *Text) error {
	reply.Body = strings.Repeat("x", int(protocol.MaxBodyLen)+1)
	return nil
}

// Verbose fails with a message too long for the binary codec.
func (b *Bulk) Verbose(args *Args, reply *Text) error {
	return status.Error(codes.Internal, strings.Repeat("e", math.MaxUint16+1))
}

type Text struct {
	Body string
}

type testServer struct {
	*Server
	lis net.Listener
}

func startServer(t *testing.T, opts ...Option) (*testServer, string) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	svr := &testServer{Server: NewServer(opts...), lis: lis}
	t.Cleanup(func() {
		svr.Shutdown(time.Second)
		lis.Close()
	})
	return svr, lis.Addr().String()
}

// serve starts the accept loop once services are registered.
func serve(t *testing.T, svr *testServer, addr string) {
	t.Helper()
	if svr.lis.Addr().String() != addr {
		t.Fatalf("listener mismatch: %s != %s", svr.lis.Addr(), addr)
	}
	go svr.Serve(svr.lis)
}

// rawCall sends one JSON request frame on conn and waits for its response.
func rawCall(t *testing.T, conn net.Conn, seq uint32, msg *message.RPCMessage) *message.RPCMessage {
	t.Helper()
	return rawCallWith(t, conn, codec.CodecTypeJSON, seq, msg)
}

func rawCallWith(t *testing.T, conn net.Conn, codecType codec.CodecType, seq uint32, msg *message.RPCMessage) *message.RPCMessage {
	t.Helper()
	cdc := codec.GetCodec(codecType)

	body, err := cdc.Encode(msg)
	if err != nil {
		t.Error(err)
		return nil
	}
	header := protocol.Header{
		CodecType: byte(codecType),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
	}
	if err := protocol.Encode(conn, &header, body); err != nil {
		t.Error(err)
		return nil
	}

	replyHeader, responseBody, err := protocol.Decode(conn)
	if err != nil {
		t.Error(err)
		return nil
	}
	if replyHeader.Seq != seq {
		t.Errorf("expect reply seq %v, got %v", seq, replyHeader.Seq)
	}
	if replyHeader.MsgType != protocol.MsgTypeResponse {
		t.Errorf("expect response frame, got %v", replyHeader.MsgType)
	}

	resp := &message.RPCMessage{}
	if err := cdc.Decode(responseBody, resp); err != nil {
		t.Error(err)
		return nil
	}
	return resp
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			t.Cleanup(func() { conn.Close() })
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(err)
	return nil
}

func TestServer(t *testing.T) {
	svr, addr := startServer(t)
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	serve(t, svr, addr)

	conn := dial(t, addr)
	payload, _ := json.Marshal(&Args{1, 2})
	resp := rawCall(t, conn, 123, &message.RPCMessage{ServiceMethod: "Arith.Add", Payload: payload})
	if resp.Failed() {
		t.Fatalf("unexpected error: %s", resp.Error)
	}

	var reply Reply
	if err := json.Unmarshal(resp.Payload, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 3 {
		t.Fatalf("expect result 3, got %v", reply.Result)
	}
}

func TestServerUnknownTargets(t *testing.T) {
	svr, addr := startServer(t)
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	serve(t, svr, addr)
	conn := dial(t, addr)

	cases := []struct {
		method string
		want   codes.Code
	}{
		{"Arith", codes.InvalidArgument},
		{"Nope.Add", codes.Unimplemented},
		{"Arith.Divide", codes.Unimplemented},
	}
	for i, tc := range cases {
		resp := rawCall(t, conn, uint32(i+1), &message.RPCMessage{ServiceMethod: tc.method})
		if codes.Code(resp.Code) != tc.want {
			t.Fatalf("%s: expect %v, got %v (%s)", tc.method, tc.want, codes.Code(resp.Code), resp.Error)
		}
	}

	resp := rawCall(t, conn, 9, &message.RPCMessage{ServiceMethod: "Arith.Add", Payload: []byte("{not json")})
	if codes.Code(resp.Code) != codes.InvalidArgument {
		t.Fatalf("expect InvalidArgument for bad payload, got %v", codes.Code(resp.Code))
	}
}

func TestServerExpiredDeadline(t *testing.T) {
	gauge := &Gauge{hold: time.Millisecond}
	svr, addr := startServer(t)
	if err := svr.Register(gauge); err != nil {
		t.Fatal(err)
	}
	serve(t, svr, addr)
	conn := dial(t, addr)

	resp := rawCall(t, conn, 1, &message.RPCMessage{
		ServiceMethod: "Gauge.Hold",
		Payload:       []byte(`{"A":1}`),
		Deadline:      time.Now().Add(-time.Second).UnixNano(),
	})
	if codes.Code(resp.Code) != codes.DeadlineExceeded {
		t.Fatalf("expect DeadlineExceeded, got %v", codes.Code(resp.Code))
	}
	if gauge.peak.Load() != 0 {
		t.Fatal("method must not run once the deadline has passed")
	}
}

func TestServerBoundsConcurrency(t *testing.T) {
	const workers, calls = 3, 12
	gauge := &Gauge{hold: 30 * time.Millisecond}
	svr, addr := startServer(t, WithMaxWorkers(workers))
	if err := svr.Register(gauge); err != nil {
		t.Fatal(err)
	}
	serve(t, svr, addr)

	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		conn := dial(t, addr)
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			payload, _ := json.Marshal(&Args{A: n})
			resp := rawCall(t, conn, uint32(n+1), &message.RPCMessage{ServiceMethod: "Gauge.Hold", Payload: payload})
			if resp == nil || resp.Failed() {
				t.Errorf("call %d failed: %+v", n, resp)
				return
			}
			var reply Reply
			json.Unmarshal(resp.Payload, &reply)
			if reply.Result != n {
				t.Errorf("expect %d, got %d", n, reply.Result)
			}
		}(i)
	}
	wg.Wait()

	if peak := gauge.peak.Load(); peak > workers {
		t.Fatalf("expect at most %d concurrent calls, saw %d", workers, peak)
	}
	if peak := gauge.peak.Load(); peak < 2 {
		t.Fatalf("expect calls to run in parallel, peak was %d", peak)
	}
}

func TestServerIgnoresHeartbeat(t *testing.T) {
	svr, addr := startServer(t)
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	serve(t, svr, addr)
	conn := dial(t, addr)

	if err := protocol.Encode(conn, &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}, nil); err != nil {
		t.Fatal(err)
	}
	resp := rawCall(t, conn, 7, &message.RPCMessage{ServiceMethod: "Arith.Add", Payload: []byte(`{"A":2,"B":2}`)})
	if resp.Failed() {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	gauge := &Gauge{hold: 100 * time.Millisecond}
	svr, addr := startServer(t)
	if err := svr.Register(gauge); err != nil {
		t.Fatal(err)
	}
	serve(t, svr, addr)
	conn := dial(t, addr)

	done := make(chan *message.RPCMessage, 1)
	go func() {
		done <- rawCall(t, conn, 1, &message.RPCMessage{ServiceMethod: "Gauge.Hold", Payload: []byte(`{"A":5}`)})
	}()
	for gauge.running.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	resp := <-done
	if resp == nil || resp.Failed() {
		t.Fatalf("in-flight call should complete, got %+v", resp)
	}
	if _, err := net.DialTimeout("tcp", addr, 100*time.Millisecond); err == nil {
		t.Fatal("expect listener to be closed after shutdown")
	}
}

func TestRegisterRejectsBadReceivers(t *testing.T) {
	svr := NewServer()
	if err := svr.Register(Arith{}); err == nil {
		t.Fatal("expect error for non-pointer receiver")
	}
	type hidden struct{}
	if err := svr.Register(&hidden{}); err == nil {
		t.Fatal("expect error for unexported service")
	}
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	if err := svr.Register(&Arith{}); err == nil {
		t.Fatal("expect error for duplicate service")
	}
	if err := svr.RegisterName("Math", &Arith{}); err != nil {
		t.Fatalf("RegisterName: %v", err)
	}
}

func TestRegisterMethods(t *testing.T) {
	svc, err := NewService(&Gauge{})
	if err != nil {
		t.Fatal(err)
	}
	m, ok := svc.method["Hold"]
	if !ok {
		t.Fatal("expect Hold to be registered")
	}
	if !m.withContext {
		t.Fatal("expect Hold to take a context")
	}
	if m.ArgType.Name() != "Args" || m.ReplyType.Name() != "Reply" {
		t.Fatalf("unexpected types %v %v", m.ArgType, m.ReplyType)
	}
}

func TestServerRepliesWhenReplyCannotBeSent(t *testing.T) {
	svr, addr := startServer(t)
	if err := svr.Register(&Bulk{}); err != nil {
		t.Fatal(err)
	}
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	serve(t, svr, addr)

	conn := dial(t, addr)
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	payload, _ := json.Marshal(&Args{})

	resp := rawCall(t, conn, 1, &message.RPCMessage{ServiceMethod: "Bulk.Huge", Payload: payload})
	if resp == nil {
		t.FailNow()
	}
	if code := codes.Code(resp.Code); code != codes.ResourceExhausted {
		t.Fatalf("expect ResourceExhausted for an oversized reply, got %v: %s", code, resp.Error)
	}

	resp = rawCallWith(t, conn, codec.CodecTypeBinary, 2, &message.RPCMessage{ServiceMethod: "Bulk.Verbose", Payload: payload})
	if resp == nil {
		t.FailNow()
	}
	if code := codes.Code(resp.Code); code != codes.Internal {
		t.Fatalf("expect Internal for an unencodable reply, got %v: %s", code, resp.Error)
	}

	// the connection keeps serving
	payload, _ = json.Marshal(&Args{2, 3})
	resp = rawCall(t, conn, 3, &message.RPCMessage{ServiceMethod: "Arith.Add", Payload: payload})
	if resp == nil || resp.Failed() {
		t.Fatalf("expect a normal reply after the failures, got %+v", resp)
	}
}
