// Command worker runs the scheduled deadline scan and rescans cases as their
// events arrive on Kafka.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/karin-compliance/internal/config"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
)

const (
	defaultHealthPort = 8081
	stopTimeout       = 30 * time.Second
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: environment only)")
	healthPort := flag.Int("health-port", defaultHealthPort, "port of the health and metrics endpoint; 0 disables it")
	noConsumer := flag.Bool("no-consumer", false, "run only the scheduled scan")
	flag.Parse()

	cfg, err := config.LoadOrEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logger)
	logger.Info("starting karin worker",
		logging.String("version", version),
		logging.String("commit", commit),
		logging.String("build_date", buildDate),
		logging.String("schedule", cfg.Engine.ScanSchedule),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := newWorker(ctx, cfg, *healthPort, !*noConsumer, logger)
	if err != nil {
		logger.Error("initialization failed", logging.Err(err))
		os.Exit(1)
	}
	defer w.close()

	if *configPath != "" {
		if err := config.Watch(*configPath, w.reload, func(err error) {
			logger.Warn("ignoring invalid configuration change", logging.Err(err))
		}); err != nil {
			logger.Warn("config watch disabled", logging.Err(err))
		}
	}

	if err := w.run(ctx); err != nil {
		logger.Error("worker stopped", logging.Err(err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
