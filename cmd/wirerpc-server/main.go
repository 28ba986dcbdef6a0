package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"wirerpc/admin"
	"wirerpc/codec"
	"wirerpc/config"
	"wirerpc/dispatch"
	"wirerpc/handlers"
	"wirerpc/logging"
	"wirerpc/metrics"
	"wirerpc/middleware"
	"wirerpc/registry"
	"wirerpc/server"
	"wirerpc/shutdown"
)

var version = "dev"

const etcdDialTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Error().Err(err).Msg("wirerpc-server failed")
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := config.NewFlagSet("wirerpc-server")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, v, err := config.Load(fs)
	if err != nil {
		return err
	}
	if _, err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	config.Watch(v, func(c *config.Config) {
		if err := logging.SetLevel(c.LogLevel); err != nil {
			log.Warn().Err(err).Msg("keeping previous log level")
		}
	})

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New()
	if err := m.Register(promReg); err != nil {
		return err
	}

	b := dispatch.NewBuilder()
	b.Use(middleware.LoggingMiddleware(), middleware.MetricsMiddleware(m))
	if cfg.RateLimit > 0 {
		b.Use(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	if err := handlers.Register(b); err != nil {
		return err
	}
	d, err := b.Build()
	if err != nil {
		return err
	}

	coord := shutdown.New()
	stopSignals := coord.NotifyOnSignal()
	defer stopSignals()

	opts := []server.Option{
		server.WithCodec(codec.GetCodec(cfg.CodecType())),
		server.WithMaxFrameSize(cfg.MaxFrameSize),
		server.WithShutdown(coord),
		server.WithMetrics(m),
		server.WithLogger(log.Logger),
		server.WithVersion(version),
	}
	if len(cfg.EtcdEndpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints, etcdDialTimeout, nil)
		if err != nil {
			return fmt.Errorf("connect etcd: %w", err)
		}
		defer reg.Close()
		opts = append(opts, server.WithRegistry(reg, cfg.ServiceName, cfg.AdvertiseAddr, cfg.RegistryTTL))
	}
	srv := server.NewServer(d, opts...)

	// Binding is the only fatal step; nothing runs if it fails.
	l, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	var adminListener net.Listener
	if cfg.AdminAddr != "" {
		adminListener, err = net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			l.Close()
			return fmt.Errorf("listen admin %s: %w", cfg.AdminAddr, err)
		}
	}

	g, ctx := errgroup.WithContext(coord.Context())
	g.Go(func() error {
		return srv.Serve(l)
	})
	if adminListener != nil {
		router := admin.NewRouter(admin.Info{
			Service:         cfg.ServiceName,
			Instance:        srv.InstanceID(),
			Codec:           cfg.Codec,
			OpenConnections: srv.OpenConnections,
			Ready:           func() bool { return !coord.Fired() },
		}, promReg, log.Logger)
		g.Go(func() error {
			log.Info().Str("addr", adminListener.Addr().String()).Msg("admin listening")
			return admin.Serve(ctx, adminListener, router)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Dur("grace", cfg.ShutdownGrace).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Int64("open_connections", srv.OpenConnections()).Msg("grace period elapsed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server exited")
	return nil
}
