package main

import (
	"context"

	"golang.org/x/sync/errgroup"

	applifecycle "github.com/turtacn/karin-compliance/internal/application/lifecycle"
	"github.com/turtacn/karin-compliance/internal/config"
	"github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/internal/infrastructure/database/postgres"
	"github.com/turtacn/karin-compliance/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/karin-compliance/internal/infrastructure/database/redis"
	"github.com/turtacn/karin-compliance/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/karin-compliance/internal/infrastructure/scheduler"
	httpserver "github.com/turtacn/karin-compliance/internal/interfaces/http"
	"github.com/turtacn/karin-compliance/internal/interfaces/http/handlers"
)

const scanTask = "deadline-scan"

type worker struct {
	calc      *lifecycle.DeadlineCalculator
	scheduler *scheduler.Scheduler
	consumer  *kafka.Consumer
	health    *httpserver.Server
	logger    logging.Logger
	closers   []func()
}

func (w *worker) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
}

func (w *worker) reload(cfg *config.Config) {
	opts, err := cfg.Engine.CalculatorOptions()
	if err != nil {
		w.logger.Warn("ignoring engine settings", logging.Err(err))
		return
	}
	w.calc.Reconfigure(opts...)
	w.logger.Info("configuration reloaded", logging.Int("holidays", len(cfg.Engine.Holidays)))
}

func newWorker(ctx context.Context, cfg *config.Config, healthPort int, consume bool, logger logging.Logger) (w *worker, err error) {
	w = &worker{logger: logger}
	defer func() {
		if err != nil {
			w.close()
		}
	}()

	var engineMetrics *prometheus.EngineMetrics
	var collector prometheus.MetricsCollector
	if cfg.Metrics.Enabled {
		collector, err = prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			Subsystem:            "worker",
			EnableProcessMetrics: true,
			EnableGoMetrics:      true,
		}, logger)
		if err != nil {
			return nil, err
		}
		engineMetrics = prometheus.NewEngineMetrics(collector)
	}

	pool, err := postgres.NewConnectionPool(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	w.closers = append(w.closers, func() { postgres.Close(pool) })
	store := repositories.NewCaseRepository(pool, logger)

	rc, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	w.closers = append(w.closers, func() { _ = rc.Close() })

	producer, err := kafka.NewProducer(cfg.Kafka, logger)
	if err != nil {
		return nil, err
	}
	w.closers = append(w.closers, func() { _ = producer.Close() })

	calcOpts, err := cfg.Engine.CalculatorOptions()
	if err != nil {
		return nil, err
	}
	w.calc = lifecycle.NewDeadlineCalculator(lifecycle.DefaultRuleTable(), calcOpts...)

	opts := []applifecycle.Option{applifecycle.WithEventPublisher(kafka.NewEventPublisher(producer, cfg.Kafka.Topics, logger))}
	if engineMetrics != nil {
		opts = append(opts, applifecycle.WithMetrics(engineMetrics))
	}
	gen := applifecycle.NewAlertGenerator(
		store, w.calc,
		redis.NewAlertStateStore(rc, cfg.Redis.AlertStateTTL),
		kafka.NewNotificationDispatcher(producer, cfg.Kafka.Topics.Notifications, logger),
		redis.NewLease(rc, scanTask, logger),
		applifecycle.AlertGeneratorConfig{Concurrency: cfg.Engine.ScanConcurrency, LeaseTTL: cfg.Engine.ScanLeaseTTL},
		logger, opts...)

	loc, err := cfg.Engine.Location()
	if err != nil {
		return nil, err
	}
	w.scheduler = scheduler.New(loc, logger)
	if err := w.scheduler.AddTask(scanTask, cfg.Engine.ScanSchedule, cfg.Engine.ScanLeaseTTL, gen.ScheduledScan); err != nil {
		return nil, err
	}

	if consume {
		w.consumer, err = kafka.NewConsumer(cfg.Kafka, []string{cfg.Kafka.Topics.CaseEvents}, producer, logger)
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, func() { _ = w.consumer.Close() })
		w.consumer.Subscribe(cfg.Kafka.Topics.CaseEvents, kafka.NewCaseEventHandler(gen, logger))
	}

	if healthPort > 0 {
		checks := []handlers.HealthChecker{
			handlers.CheckFunc{Component: "postgres", Fn: func(ctx context.Context) error { return pool.Ping(ctx) }},
			handlers.CheckFunc{Component: "redis", Fn: rc.HealthCheck},
		}
		rcfg := httpserver.RouterConfig{Logger: logger}
		if engineMetrics != nil {
			rcfg.HealthHandler = handlers.NewHealthHandler(version, engineMetrics, checks...)
			rcfg.MetricsHandler = collector.Handler()
			rcfg.MetricsPath = cfg.Metrics.Path
		} else {
			rcfg.HealthHandler = handlers.NewHealthHandler(version, nil, checks...)
		}
		srvCfg := cfg.Server
		srvCfg.Port = healthPort
		w.health = httpserver.NewServer(srvCfg, httpserver.NewRouter(rcfg), logger)
	}
	return w, nil
}

// run starts the scheduler, the consumer and the health endpoint and blocks
// until ctx ends or one of them fails.
func (w *worker) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if w.consumer != nil {
		if err := w.consumer.Start(gctx); err != nil {
			return err
		}
	}

	w.scheduler.Start()
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return w.scheduler.Stop(stopCtx)
	})

	if w.health != nil {
		g.Go(w.health.ListenAndServe)
		g.Go(func() error {
			<-gctx.Done()
			return w.health.Shutdown(context.Background())
		})
	}

	<-gctx.Done()
	if ctx.Err() != nil {
		w.logger.Info("shutdown signal received")
	}
	return g.Wait()
}
