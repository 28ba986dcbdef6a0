// wirerpc-client sends each positional JSON request to a server, in order, and prints
// the responses as JSON lines:
//
//	wirerpc-client --addr 127.0.0.1:7878 '{"type":"Add","lhs":2,"rhs":3}' '{"type":"Ping"}'
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"wirerpc/client"
	"wirerpc/codec"
	"wirerpc/logging"
	"wirerpc/message"
	"wirerpc/registry"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Error().Err(err).Msg("wirerpc-client failed")
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("wirerpc-client", pflag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:7878", "server address")
	codecName := fs.String("codec", "binary", "payload codec: binary or json")
	timeout := fs.Duration("timeout", 5*time.Second, "deadline for the whole run")
	etcdEndpoints := fs.StringSlice("etcd-endpoints", nil, "discover the server through etcd instead of --addr")
	serviceName := fs.String("service-name", "wirerpc", "service name to discover")
	logLevel := fs.String("log-level", "warn", "log level")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: wirerpc-client [flags] REQUEST...\n\nREQUEST is JSON, e.g. '{\"type\":\"Add\",\"lhs\":2,\"rhs\":3}'\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no requests given")
	}

	if _, err := logging.Setup(*logLevel, logging.FormatConsole); err != nil {
		return err
	}
	codecType, err := codec.ParseCodecType(*codecName)
	if err != nil {
		return err
	}

	// Requests are read and printed as JSON whatever the wire codec is.
	display := codec.GetCodec(codec.CodecTypeJSON)
	reqs := make([]message.Request, 0, fs.NArg())
	for _, arg := range fs.Args() {
		req, err := display.DecodeRequest([]byte(arg))
		if err != nil {
			return fmt.Errorf("request %s: %w", arg, err)
		}
		reqs = append(reqs, req)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// One connection keeps the requests in order.
	opts := []client.Option{client.WithCodec(codec.GetCodec(codecType)), client.WithPoolSize(1)}
	var c *client.Client
	if len(*etcdEndpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(*etcdEndpoints, *timeout, nil)
		if err != nil {
			return err
		}
		defer reg.Close()
		c, err = client.Discover(ctx, reg, *serviceName, opts...)
		if err != nil {
			return err
		}
	} else {
		c, err = client.Dial(ctx, *addr, opts...)
		if err != nil {
			return err
		}
	}
	defer c.Close()

	return send(ctx, c, display, reqs, out)
}

func send(ctx context.Context, c *client.Client, display codec.Codec, reqs []message.Request, out io.Writer) error {
	for _, req := range reqs {
		resp, err := c.Call(ctx, req)
		if err != nil {
			return err
		}
		line, err := display.EncodeResponse(resp)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(out, "%s\n", line); err != nil {
			return err
		}
	}
	return nil
}
