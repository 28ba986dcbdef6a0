// Package client is the typed caller side of wirerpc.
//
// A Client owns a pool of connections to one server. Each call borrows a connection,
// runs a single request/response exchange on it and returns it, so concurrent calls
// proceed on separate connections while every connection stays strictly sequential.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wirerpc/codec"
	"wirerpc/message"
	"wirerpc/registry"
	"wirerpc/transport"
)

const (
	DefaultPoolSize    = 4
	DefaultDialTimeout = 5 * time.Second
)

type Client struct {
	codec codec.Codec
	pool  *transport.Pool

	mu        sync.Mutex
	addr      string
	stopWatch context.CancelFunc // set by Discover
}

type options struct {
	codec         codec.Codec
	poolSize      int
	dialTimeout   time.Duration
	transportOpts []transport.Option
}

type Option func(*options)

// WithCodec must match the server's codec. The default is binary.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithPoolSize caps the connections opened to the server.
func WithPoolSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithTransportOptions applies opts to every connection the client opens.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *options) { o.transportOpts = append(o.transportOpts, opts...) }
}

func buildOptions(opts []Option) options {
	o := options{
		codec:       codec.GetCodec(codec.CodecTypeBinary),
		poolSize:    DefaultPoolSize,
		dialTimeout: DefaultDialTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Dial opens the first connection to addr so an unreachable server fails here rather
// than on the first call.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	c := &Client{addr: addr, codec: o.codec}
	c.pool = transport.NewPool(o.poolSize, func(ctx context.Context) (*transport.ClientTransport, error) {
		dialCtx, cancel := context.WithTimeout(ctx, o.dialTimeout)
		defer cancel()
		return transport.Dial(dialCtx, c.Addr(), o.codec, o.transportOpts...)
	})

	t, err := c.pool.Get(ctx)
	if err != nil {
		c.pool.Close()
		return nil, err
	}
	c.pool.Put(t)
	return c, nil
}

// Discover looks serviceName up in reg and dials the first instance speaking the
// client's codec. There is no balancing: one client talks to one server. The client
// keeps watching the service and moves to another instance once its own leaves the
// registry.
func Discover(ctx context.Context, reg registry.Registry, serviceName string, opts ...Option) (*Client, error) {
	instances, err := reg.Discover(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("client: discover %s: %w", serviceName, err)
	}

	want := buildOptions(opts).codec.Type().String()
	for _, inst := range usable(instances, want) {
		c, err := Dial(ctx, inst.Addr, opts...)
		if err != nil {
			log.Warn().Err(err).Str("instance", inst.ID).Str("addr", inst.Addr).Msg("instance unreachable")
			continue
		}
		watchCtx, cancel := context.WithCancel(context.Background())
		c.stopWatch = cancel
		go c.follow(serviceName, want, reg.Watch(watchCtx, serviceName))
		return c, nil
	}
	return nil, fmt.Errorf("client: %s: %w", serviceName, registry.ErrNoInstances)
}

// usable drops instances that speak another codec.
func usable(instances []registry.ServiceInstance, codecName string) []registry.ServiceInstance {
	out := make([]registry.ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.Codec != "" && inst.Codec != codecName {
			log.Debug().Str("instance", inst.ID).Str("codec", inst.Codec).Msg("skipping instance with other codec")
			continue
		}
		out = append(out, inst)
	}
	return out
}

// follow re-resolves the server address from registry updates until the watch ends.
// While the current address is still registered nothing changes. An empty list keeps
// the old address, since the server may only be restarting.
func (c *Client) follow(serviceName, codecName string, updates <-chan []registry.ServiceInstance) {
	for instances := range updates {
		candidates := usable(instances, codecName)
		if len(candidates) == 0 {
			log.Warn().Str("service", serviceName).Msg("no registered instances, keeping current address")
			continue
		}

		c.mu.Lock()
		current := c.addr
		stillThere := false
		for _, inst := range candidates {
			if inst.Addr == current {
				stillThere = true
				break
			}
		}
		if !stillThere {
			c.addr = candidates[0].Addr
			// Idle connections point at the old server; new ones dial the new address.
			c.pool.Drain()
			log.Info().Str("service", serviceName).Str("from", current).Str("to", c.addr).Msg("server address changed")
		}
		c.mu.Unlock()
	}
}

// Call sends req and returns the server's response, whose tag always matches req's.
func (c *Client) Call(ctx context.Context, req message.Request) (message.Response, error) {
	t, err := c.pool.Get(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Put(t)
	return t.RoundTrip(ctx, req)
}

// Invoke is Call with the response asserted to Resp.
func Invoke[Resp message.Response](ctx context.Context, c *Client, req message.Request) (Resp, error) {
	var zero Resp
	resp, err := c.Call(ctx, req)
	if err != nil {
		return zero, err
	}
	typed, ok := resp.(Resp)
	if !ok {
		return zero, fmt.Errorf("%w: want %T, got %T", transport.ErrTagMismatch, zero, resp)
	}
	return typed, nil
}

func (c *Client) Add(ctx context.Context, lhs, rhs int32) (int32, error) {
	resp, err := Invoke[message.AddReply](ctx, c, message.Add{Lhs: lhs, Rhs: rhs})
	return resp.Sum, err
}

func (c *Client) Ping(ctx context.Context) (string, error) {
	resp, err := Invoke[message.PingReply](ctx, c, message.Ping{})
	return resp.Message, err
}

func (c *Client) Pong(ctx context.Context) (string, error) {
	resp, err := Invoke[message.PongReply](ctx, c, message.Pong{})
	return resp.Message, err
}

func (c *Client) Echo(ctx context.Context, text string) (string, error) {
	resp, err := Invoke[message.EchoReply](ctx, c, message.Echo{Text: text})
	return resp.Text, err
}

// Addr is the server address the client dials.
func (c *Client) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

func (c *Client) Codec() codec.Codec {
	return c.codec
}

func (c *Client) Close() error {
	if c.stopWatch != nil {
		c.stopWatch()
	}
	return c.pool.Close()
}
