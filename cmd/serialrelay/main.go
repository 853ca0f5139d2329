package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/serialrelay/internal/config"
	"github.com/danmuck/serialrelay/internal/hub"
	"github.com/danmuck/serialrelay/internal/observability"
	"github.com/danmuck/serialrelay/internal/relay"
	"github.com/danmuck/serialrelay/internal/sinks"
	"github.com/danmuck/serialrelay/internal/transport"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "serialrelay: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("serialrelay", flag.ContinueOnError)
	path := fs.String("config", "serialrelay.toml", "config path")
	printConfig := fs.Bool("print-config", false, "print a starter config and exit")
	writeConfig := fs.String("write-config", "", "write a starter config to this path and exit")
	force := fs.Bool("force", false, "overwrite an existing file with -write-config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case *printConfig:
		tmpl, err := config.Template()
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, tmpl)
		return err
	case *writeConfig != "":
		return config.WriteTemplate(*writeConfig, *force)
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	logger := observability.InitLogger(cfg.Name)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg config.RelayConfig, logger zerolog.Logger) error {
	relayCfg, err := cfg.Relay()
	if err != nil {
		return err
	}
	r := relay.New(relayCfg,
		relay.WithLogger(logger.With().Str("component", "relay").Logger()),
		relay.WithResolver(cfg.Resolver()),
		relay.WithObserver(observability.NewLinkMetrics(cfg.Name)),
	)

	if cfg.RedisAddr != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		sink, err := sinks.NewRedisSink(connectCtx, sinks.RedisConfig{
			Addr:          cfg.RedisAddr,
			ChannelPrefix: cfg.RedisChannelPrefix,
		}, logger)
		cancel()
		if err != nil {
			return err
		}
		defer sink.Close()
		r.AddSink(sink)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	workers := 1
	if cfg.Listen != "" {
		h := hub.New(cfg.Name, cfg.Listen, r, cfg.CorsOrigins)
		r.AddSink(h)
		workers++
		go func() { errCh <- h.Serve(ctx) }()
	}
	go func() { errCh <- r.Supervise(ctx, cfg.Dialer(), transport.DefaultBackoff()) }()

	var firstErr error
	for i := 0; i < workers; i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	logger.Info().Msg("serialrelay stopped")
	return firstErr
}
