// Package client issues RPC calls: it resolves the target through a registry,
// picks an instance with a balancer and borrows a pooled transport to it.
//
// Every error returned by Call carries a grpc status code; inspect it with
// status.Code. Transport-level failures are reported as codes.Unavailable.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"userdir/codec"
	"userdir/loadbalance"
	"userdir/registry"
	"userdir/transport"
)

const (
	DefaultPoolSize    = 4
	DefaultDialTimeout = 3 * time.Second
)

var ErrClientClosed = errors.New("client: closed")

type Client struct {
	registry registry.Registry
	balancer loadbalance.Balancer

	mu     sync.Mutex
	pools  map[string]*transport.Pool // one pool per instance address
	closed bool

	codecType   codec.CodecType
	poolSize    int
	dialTimeout time.Duration
	heartbeat   time.Duration
}

type Option func(*Client)

func WithCodec(codecType codec.CodecType) Option {
	return func(c *Client) { c.codecType = codecType }
}

// WithPoolSize bounds the connections kept per address.
func WithPoolSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.poolSize = n
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithHeartbeat sets the idle heartbeat interval of new connections; zero disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

func NewClient(reg registry.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	c := &Client{
		registry:    reg,
		balancer:    bal,
		pools:       make(map[string]*transport.Pool),
		codecType:   codec.CodecTypeJSON,
		poolSize:    DefaultPoolSize,
		dialTimeout: DefaultDialTimeout,
		heartbeat:   transport.DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial returns a client that sends every call to addr. Nothing is dialed
// until the first call.
func Dial(addr string, opts ...Option) *Client {
	return NewClient(registry.NewStaticRegistry(addr), &loadbalance.RoundRobinBalancer{}, opts...)
}

func (c *Client) pool(addr string) (*transport.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if p, ok := c.pools[addr]; ok {
		return p, nil
	}

	var d net.Dialer
	dialTimeout := c.dialTimeout
	dial := func(ctx context.Context) (net.Conn, error) {
		if dialTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, dialTimeout)
			defer cancel()
		}
		return d.DialContext(ctx, "tcp", addr)
	}

	p := transport.NewPool(c.poolSize, dial, c.codecType, transport.WithHeartbeat(c.heartbeat))
	c.pools[addr] = p
	return p, nil
}

// Call invokes serviceMethod ("Service.Method") with args and decodes the
// result into reply. It gives up when ctx ends; a request already delivered
// may still complete on the server.
func (c *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	serviceName, _, ok := strings.Cut(serviceMethod, ".")
	if !ok {
		return status.Errorf(codes.InvalidArgument, "invalid serviceMethod format: %v", serviceMethod)
	}

	instances, err := c.registry.Discover(serviceName)
	if err != nil {
		return status.Errorf(codes.Unavailable, "discover %s: %v", serviceName, err)
	}
	instance, err := c.balancer.Pick(instances)
	if err != nil {
		return status.Errorf(codes.Unavailable, "pick %s instance with %s: %v", serviceName, c.balancer.Name(), err)
	}

	pool, err := c.pool(instance.Addr)
	if err != nil {
		return status.Error(codes.Canceled, err.Error())
	}
	t, err := pool.Get(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return status.FromContextError(ctxErr).Err()
		}
		return status.Errorf(codes.Unavailable, "connect %s: %v", instance.Addr, err)
	}
	defer pool.Put(t)

	seq, ch, err := t.Send(ctx, serviceMethod, args)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return status.FromContextError(ctx.Err()).Err()
		case errors.Is(err, transport.ErrClosed):
			return status.Errorf(codes.Unavailable, "send to %s: %v", instance.Addr, err)
		default:
			var netErr net.Error
			if errors.As(err, &netErr) {
				return status.Errorf(codes.Unavailable, "send to %s: %v", instance.Addr, err)
			}
			return status.Errorf(codes.Internal, "encode %s request: %v", serviceMethod, err)
		}
	}

	select {
	case resp := <-ch:
		if err := resp.Err(); err != nil {
			return err
		}
		if reply == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Payload, reply); err != nil {
			return status.Errorf(codes.Internal, "decode %s reply: %v", serviceMethod, err)
		}
		return nil
	case <-ctx.Done():
		t.Cancel(seq)
		return status.FromContextError(ctx.Err()).Err()
	}
}

// Close closes every pool. Calls in progress finish on their borrowed transports.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for addr, p := range c.pools {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pool %s: %w", addr, err))
		}
	}
	return errors.Join(errs...)
}
