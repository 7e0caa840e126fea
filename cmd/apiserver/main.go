// Command apiserver exposes the case lifecycle and risk engine over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/karin-compliance/internal/config"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: environment only)")
	port := flag.Int("port", 0, "HTTP port (overrides server.port)")
	flag.Parse()

	cfg, err := config.LoadOrEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logger)
	logger.Info("starting karin API server",
		logging.String("version", version),
		logging.String("commit", commit),
		logging.String("build_date", buildDate),
		logging.String("addr", cfg.Server.Addr()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("initialization failed", logging.Err(err))
		os.Exit(1)
	}
	defer app.close()

	if *configPath != "" {
		if err := config.Watch(*configPath, app.reload, func(err error) {
			logger.Warn("ignoring invalid configuration change", logging.Err(err))
		}); err != nil {
			logger.Warn("config watch disabled", logging.Err(err))
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- app.server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server stopped", logging.Err(err))
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	if err := app.server.Shutdown(context.Background()); err != nil {
		logger.Error("HTTP server shutdown error", logging.Err(err))
	}
	logger.Info("API server stopped")
}
