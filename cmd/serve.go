package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"chatrelay/internal/catalog"
	"chatrelay/internal/config"
	"chatrelay/internal/health"
	"chatrelay/internal/metrics"
	"chatrelay/internal/server"
	"chatrelay/internal/upstream"
)

const serveUsage = `Usage:
  chatrelay serve --config <path> [--port <port>]

Flags:
  --config string   Path to YAML configuration file (required)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("serve command requires --config <path>")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	logger := slog.Default()
	tracker := health.NewTracker()
	m := metrics.New()

	client := upstream.NewClient(cfg.Vendor, upstream.NewHTTPClient(), tracker, logger)

	cat := catalog.New(client, catalog.Options{
		ShowAdvanced:   cfg.Models.ShowAdvanced,
		ShowDeprecated: cfg.Models.ShowDeprecated,
	})
	// Best effort: chat requests degrade to the default identity until a
	// refresh succeeds.
	if err := cat.Refresh(ctx); err != nil {
		logger.Warn("initial model catalog refresh failed", "error", err)
	}

	srv, err := server.New(cfg, client, cat, tracker, m, logger)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
