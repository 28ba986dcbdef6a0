// Package server accepts connections and serves each one on its own goroutine.
//
// Request processing pipeline:
//
//	Accept conn → session.run (one goroutine per connection)
//	  → ReadFrame → Codec.DecodeRequest → Registry.Dispatch → Codec.EncodeResponse → WriteFrame
//	  → next frame, only after the response is written
//
// Connections never share mutable state; the dispatch registry and codec are read-only
// and the shutdown coordinator is the only thing they observe in common.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"wirerpc/codec"
	"wirerpc/dispatch"
	"wirerpc/metrics"
	"wirerpc/protocol"
	"wirerpc/registry"
	"wirerpc/shutdown"
)

const (
	// DefaultRegistryTTL is the lease length, in seconds, of a registry entry.
	DefaultRegistryTTL = 10

	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Server is the listener: it owns the accept loop, hands out connection ids and
// tracks live sessions so Shutdown can wait for them.
type Server struct {
	dispatcher   *dispatch.Registry
	codec        codec.Codec
	maxFrameSize uint32
	shutdown     *shutdown.Coordinator
	metrics      *metrics.Metrics
	logger       zerolog.Logger

	registry      registry.Registry // nil when discovery is off
	serviceName   string
	advertiseAddr string // address published in the registry; defaults to the listener address
	registryTTL   int64
	instanceID    string
	version       string

	nextConnID atomic.Uint64
	openConns  atomic.Int64
	sessions   sync.WaitGroup

	mu           sync.Mutex
	listener     net.Listener
	serveDone    chan struct{} // closed when Serve returns; no session starts after that
	deregistered sync.Once
}

type Option func(*Server)

// WithCodec selects the payload codec. The default is the binary codec.
func WithCodec(c codec.Codec) Option {
	return func(s *Server) { s.codec = c }
}

// WithMaxFrameSize bounds incoming and outgoing payloads.
func WithMaxFrameSize(n uint32) Option {
	return func(s *Server) { s.maxFrameSize = n }
}

// WithShutdown shares an existing coordinator, e.g. one wired to OS signals.
func WithShutdown(c *shutdown.Coordinator) Option {
	return func(s *Server) { s.shutdown = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRegistry publishes the server under serviceName while it serves. An empty
// advertiseAddr publishes the listener address; ttl <= 0 selects DefaultRegistryTTL.
func WithRegistry(reg registry.Registry, serviceName, advertiseAddr string, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.serviceName = serviceName
		s.advertiseAddr = advertiseAddr
		s.registryTTL = ttl
	}
}

// WithVersion is published with the registry entry.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a server dispatching through d.
func NewServer(d *dispatch.Registry, opts ...Option) *Server {
	s := &Server{
		dispatcher:   d,
		codec:        codec.GetCodec(codec.CodecTypeBinary),
		maxFrameSize: protocol.DefaultMaxFrameSize,
		logger:       log.Logger,
		registryTTL:  DefaultRegistryTTL,
		instanceID:   uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shutdown == nil {
		s.shutdown = shutdown.New()
	}
	if s.registryTTL <= 0 {
		s.registryTTL = DefaultRegistryTTL
	}
	return s
}

// ListenAndServe binds address and serves on it. A bind failure is returned as is
// and nothing else starts.
func (s *Server) ListenAndServe(network, address string) error {
	l, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", address, err)
	}
	return s.Serve(l)
}

// Serve accepts connections on l until shutdown fires, then returns nil. Transient
// accept failures are logged and retried with backoff; a listener closed by someone
// other than Shutdown ends Serve with that error.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return ErrServerStarted
	}
	s.listener = l
	s.serveDone = make(chan struct{})
	s.mu.Unlock()
	defer close(s.serveDone)
	defer l.Close()

	stop := context.AfterFunc(s.shutdown.Context(), func() { _ = l.Close() })
	defer stop()

	logger := s.logger.With().Str("addr", l.Addr().String()).Logger()
	s.register(l.Addr().String())
	defer s.deregister(context.Background())
	logger.Info().Str("codec", s.codec.Type().String()).Msg("server listening")

	var delay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.shutdown.Fired() {
				logger.Info().Msg("listener stopped")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			if delay == 0 {
				delay = minAcceptDelay
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			logger.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")
			select {
			case <-time.After(delay):
			case <-s.shutdown.Done():
			}
			continue
		}
		delay = 0

		id := s.nextConnID.Add(1)
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			s.serveConn(id, conn)
		}()
	}
}

func (s *Server) serveConn(id uint64, conn net.Conn) {
	logger := s.logger.With().
		Uint64("conn_id", id).
		Str("peer", conn.RemoteAddr().String()).
		Logger()

	s.openConns.Add(1)
	s.metrics.ConnectionOpened()
	logger.Info().Msg("connection opened")

	err := newSession(id, conn, s, logger).run()

	kind := ErrorKind(err)
	if err != nil {
		logger.Error().Err(err).Str("kind", kind).Msg("connection failed")
	}
	s.metrics.ConnectionClosed(kind)
	s.openConns.Add(-1)
	logger.Info().Msg("connection closed")
}

// Shutdown deregisters the server, fires the shutdown signal and waits for the accept
// loop and every session to finish. Idle connections close promptly; a connection in
// the middle of a request writes its response first. If ctx ends before that, Shutdown
// returns the context error and the sessions keep draining in the background.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deregister(ctx)
	s.shutdown.Fire()

	s.mu.Lock()
	serveDone := s.serveDone
	s.mu.Unlock()
	if serveDone == nil {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		<-serveDone
		s.sessions.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("server: waiting for connections: %w", ctx.Err())
	}
}

// Addr is the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// OpenConnections reports the sessions currently running.
func (s *Server) OpenConnections() int64 {
	return s.openConns.Load()
}

// InstanceID identifies this server in the registry.
func (s *Server) InstanceID() string {
	return s.instanceID
}

func (s *Server) register(listenAddr string) {
	if s.registry == nil {
		return
	}
	addr := s.advertiseAddr
	if addr == "" {
		addr = listenAddr
	}
	inst := registry.ServiceInstance{
		ID:      s.instanceID,
		Addr:    addr,
		Codec:   s.codec.Type().String(),
		Version: s.version,
	}
	// Discovery is optional: a registry outage must not stop the server from serving.
	if err := s.registry.Register(s.shutdown.Context(), s.serviceName, inst, s.registryTTL); err != nil {
		s.logger.Error().Err(err).Str("service", s.serviceName).Msg("registry registration failed")
		return
	}
	s.logger.Info().Str("service", s.serviceName).Str("instance", s.instanceID).Str("advertise", addr).Msg("registered")
}

// deregister runs at most once, whichever of Shutdown and Serve's exit comes first.
func (s *Server) deregister(ctx context.Context) {
	if s.registry == nil {
		return
	}
	s.deregistered.Do(func() {
		if err := s.registry.Deregister(ctx, s.serviceName, s.instanceID); err != nil {
			s.logger.Warn().Err(err).Str("service", s.serviceName).Msg("registry deregistration failed")
		}
	})
}
