package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"userdir/codec"
)

var ErrPoolClosed = errors.New("transport: pool closed")

// DialFunc opens a new connection to the pool's address.
type DialFunc func(ctx context.Context) (net.Conn, error)

// Pool hands out ClientTransports to a single address with borrow/return
// discipline. Transports are dialed lazily, at most size of them exist at
// once, and broken ones are discarded on return so the next Get redials.
type Pool struct {
	mu     sync.Mutex // guards closed and sends on idle
	closed bool
	idle   chan *ClientTransport // buffered to size, so Put never blocks
	slots  chan struct{}         // one token per existing transport

	dial  DialFunc
	codec codec.CodecType
	opts  []TransportOption
}

// NewPool creates an empty pool of at most size transports.
func NewPool(size int, dial DialFunc, codecType codec.CodecType, opts ...TransportOption) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		idle:  make(chan *ClientTransport, size),
		slots: make(chan struct{}, size),
		dial:  dial,
		codec: codecType,
		opts:  opts,
	}
}

// TCPDialer returns a DialFunc for a TCP address.
func TCPDialer(addr string) DialFunc {
	var d net.Dialer
	return func(ctx context.Context) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}
}

// Get borrows a transport:
//  1. reuse an idle one if there is one
//  2. dial a new one while under the size limit
//  3. otherwise wait for a Put, a discarded slot, or for ctx to end
func (p *Pool) Get(ctx context.Context) (*ClientTransport, error) {
	for {
		if p.isClosed() {
			return nil, ErrPoolClosed
		}

		select {
		case t := <-p.idle:
			if t.Broken() {
				p.discard(t)
				continue
			}
			return t, nil
		default:
		}

		select {
		case t := <-p.idle:
			if t.Broken() {
				p.discard(t)
				continue
			}
			return t, nil
		case p.slots <- struct{}{}:
			conn, err := p.dial(ctx)
			if err != nil {
				<-p.slots
				return nil, err
			}
			return NewClientTransport(conn, p.codec, p.opts...), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Put returns a borrowed transport.
func (p *Pool) Put(t *ClientTransport) {
	if t.Broken() {
		p.discard(t)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.discard(t)
		return
	}
	p.idle <- t
	p.mu.Unlock()
}

func (p *Pool) discard(t *ClientTransport) {
	t.Close()
	<-p.slots
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Len reports how many transports currently exist, idle or borrowed.
func (p *Pool) Len() int {
	return len(p.slots)
}

// Close closes idle transports; borrowed ones are closed when returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case t := <-p.idle:
			p.discard(t)
		default:
			return nil
		}
	}
}
