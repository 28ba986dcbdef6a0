// Package transport implements the client side of a wirerpc connection.
//
// The server answers one request at a time per connection, in order, so a
// ClientTransport keeps exactly one request in flight:
//
//	goroutine-1 ──RoundTrip──┐
//	goroutine-2 ──RoundTrip──┼──→ mutex ──→ write frame, read frame ──→ Server
//	goroutine-3 ──RoundTrip──┘
//
// Concurrency across connections comes from Pool, which hands each caller its own
// transport.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wirerpc/codec"
	"wirerpc/message"
	"wirerpc/protocol"
)

var (
	// ErrTagMismatch means the server answered with another operation's response.
	// The stream can no longer be trusted, so the transport is marked broken.
	ErrTagMismatch = errors.New("transport: response tag does not match request")
	ErrClosed      = errors.New("transport: closed")
	// ErrBroken is returned once an earlier call left the stream in an unknown position.
	ErrBroken = errors.New("transport: connection broken")
)

// ClientTransport runs sequential request/response exchanges over one connection.
// It is safe for concurrent use; calls queue on an internal mutex.
type ClientTransport struct {
	conn   net.Conn
	framer *protocol.Framer
	codec  codec.Codec

	mu     sync.Mutex // held for a whole exchange
	err    error      // first failure; sticky
	closed bool

	stopHeartbeat chan struct{}
	closeOnce     sync.Once
}

type options struct {
	maxFrameSize      uint32
	heartbeatInterval time.Duration
}

type Option func(*options)

// WithMaxFrameSize bounds request and response payloads.
func WithMaxFrameSize(n uint32) Option {
	return func(o *options) { o.maxFrameSize = n }
}

// WithHeartbeat sends a Ping every interval while the transport is idle. The protocol
// has no dedicated heartbeat frame; Ping is the cheapest request there is.
func WithHeartbeat(interval time.Duration) Option {
	return func(o *options) { o.heartbeatInterval = interval }
}

// Dial connects to addr and wraps the connection.
func Dial(ctx context.Context, addr string, c codec.Codec, opts ...Option) (*ClientTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return NewClientTransport(conn, c, opts...), nil
}

// NewClientTransport takes ownership of conn.
func NewClientTransport(conn net.Conn, c codec.Codec, opts ...Option) *ClientTransport {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	t := &ClientTransport{
		conn:          conn,
		framer:        protocol.NewFramer(conn, o.maxFrameSize),
		codec:         c,
		stopHeartbeat: make(chan struct{}),
	}
	if o.heartbeatInterval > 0 {
		go t.heartbeatLoop(o.heartbeatInterval)
	}
	return t
}

// RoundTrip sends req and waits for its response. The context bounds the whole
// exchange; if it ends midway the transport is broken, because the response may
// still arrive and would be read as the answer to the next request.
func (t *ClientTransport) RoundTrip(ctx context.Context, req message.Request) (message.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if t.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBroken, t.err)
	}

	resp, err := t.exchange(ctx, req)
	if err != nil {
		// A request that fails to encode never reaches the stream.
		if !errors.Is(err, codec.ErrEncode) {
			t.err = err
		}
		return nil, fmt.Errorf("transport: %s: %w", req.Tag(), err)
	}
	return resp, nil
}

func (t *ClientTransport) exchange(ctx context.Context, req message.Request) (message.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, err := t.codec.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	deadline, _ := ctx.Deadline() // zero clears any earlier deadline
	if err := t.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := t.framer.WriteFrame(payload); err != nil {
		return nil, contextError(ctx, err)
	}
	frame, err := t.framer.ReadFrame()
	if err != nil {
		return nil, contextError(ctx, err)
	}

	resp, err := t.codec.DecodeResponse(frame)
	if err != nil {
		return nil, err
	}
	if resp.Tag() != req.Tag() {
		return nil, fmt.Errorf("%w: sent %s, got %s", ErrTagMismatch, req.Tag(), resp.Tag())
	}
	return resp, nil
}

// contextError reports the context's error in place of the I/O timeout it caused.
func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var ne net.Error
	if dl, ok := ctx.Deadline(); ok && errors.As(err, &ne) && ne.Timeout() && !time.Now().Before(dl) {
		return context.DeadlineExceeded
	}
	return err
}

// Broken reports whether an earlier call failed. A broken transport must be discarded.
func (t *ClientTransport) Broken() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err != nil || t.closed
}

// Close closes the connection. Calls in progress fail.
func (t *ClientTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopHeartbeat)
		// Close first so a call blocked on I/O returns and releases the mutex.
		err = t.conn.Close()
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
	})
	return err
}

// RemoteAddr returns the server address.
func (t *ClientTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopHeartbeat:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		_, err := t.RoundTrip(ctx, message.Ping{})
		cancel()
		if err != nil {
			if !errors.Is(err, ErrClosed) {
				log.Debug().Err(err).Stringer("peer", t.conn.RemoteAddr()).Msg("heartbeat failed")
			}
			return
		}
	}
}
