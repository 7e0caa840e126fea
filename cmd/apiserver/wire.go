package main

import (
	"context"
	"time"

	applifecycle "github.com/turtacn/karin-compliance/internal/application/lifecycle"
	"github.com/turtacn/karin-compliance/internal/application/risk"
	"github.com/turtacn/karin-compliance/internal/config"
	"github.com/turtacn/karin-compliance/internal/domain/compliance"
	"github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/internal/infrastructure/aisignal"
	"github.com/turtacn/karin-compliance/internal/infrastructure/auth/rbac"
	"github.com/turtacn/karin-compliance/internal/infrastructure/database/postgres"
	"github.com/turtacn/karin-compliance/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/karin-compliance/internal/infrastructure/database/redis"
	"github.com/turtacn/karin-compliance/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/karin-compliance/internal/infrastructure/storage/minio"
	httpserver "github.com/turtacn/karin-compliance/internal/interfaces/http"
	"github.com/turtacn/karin-compliance/internal/interfaces/http/handlers"
	"github.com/turtacn/karin-compliance/internal/interfaces/http/middleware"
)

// app holds the API server's wired components.
type app struct {
	server  *httpserver.Server
	calc    *lifecycle.DeadlineCalculator
	roles   *rbac.Directory
	logger  logging.Logger
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// reload applies the runtime-safe part of a changed configuration.
func (a *app) reload(cfg *config.Config) {
	opts, err := cfg.Engine.CalculatorOptions()
	if err != nil {
		a.logger.Warn("ignoring engine settings", logging.Err(err))
	} else {
		a.calc.Reconfigure(opts...)
	}
	a.roles.Update(cfg.Roles)
	a.logger.Info("configuration reloaded",
		logging.Int("holidays", len(cfg.Engine.Holidays)),
		logging.Int("admins", len(cfg.Roles.Admins)+len(cfg.Roles.SuperAdmins)),
	)
}

func newApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (a *app, err error) {
	a = &app{logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	// Metrics
	var engineMetrics *prometheus.EngineMetrics
	var collector prometheus.MetricsCollector
	if cfg.Metrics.Enabled {
		collector, err = prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			EnableProcessMetrics: true,
			EnableGoMetrics:      true,
		}, logger)
		if err != nil {
			return nil, err
		}
		engineMetrics = prometheus.NewEngineMetrics(collector)
	}

	// Storage
	if cfg.Database.AutoMigrate {
		if err := migrate(cfg.Database, logger); err != nil {
			return nil, err
		}
	}
	pool, err := postgres.NewConnectionPool(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { postgres.Close(pool) })
	store := repositories.NewCaseRepository(pool, logger)

	rc, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = rc.Close() })
	alertState := redis.NewAlertStateStore(rc, cfg.Redis.AlertStateTTL)

	// Messaging
	producer, err := kafka.NewProducer(cfg.Kafka, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = producer.Close() })
	events := kafka.NewEventPublisher(producer, cfg.Kafka.Topics, logger)
	dispatcher := kafka.NewNotificationDispatcher(producer, cfg.Kafka.Topics.Notifications, logger)

	// Lifecycle
	calcOpts, err := cfg.Engine.CalculatorOptions()
	if err != nil {
		return nil, err
	}
	a.calc = lifecycle.NewDeadlineCalculator(lifecycle.DefaultRuleTable(), calcOpts...)
	a.roles = rbac.NewDirectory(cfg.Roles, logger)

	lcOpts := []applifecycle.Option{applifecycle.WithEventPublisher(events)}
	if engineMetrics != nil {
		lcOpts = append(lcOpts, applifecycle.WithMetrics(engineMetrics))
	}
	cases := applifecycle.NewCaseService(store, lifecycle.NewTransitionEngine(nil), a.calc, alertState, logger, lcOpts...)
	extensions := applifecycle.NewExtensionWorkflow(store, a.calc, a.roles, alertState, logger, lcOpts...)
	alerts := applifecycle.NewAlertGenerator(store, a.calc, alertState, dispatcher, nil, applifecycle.AlertGeneratorConfig{
		Concurrency: cfg.Engine.ScanConcurrency,
		LeaseTTL:    cfg.Engine.ScanLeaseTTL,
	}, logger, lcOpts...)

	// Risk
	analyzer, archiveCheck, err := newAnalyzer(ctx, cfg, rc, events, engineMetrics, logger)
	if err != nil {
		return nil, err
	}

	// HTTP
	checks := []handlers.HealthChecker{
		handlers.CheckFunc{Component: "postgres", Fn: func(ctx context.Context) error { return pool.Ping(ctx) }},
		handlers.CheckFunc{Component: "redis", Fn: rc.HealthCheck},
	}
	if archiveCheck != nil {
		checks = append(checks, *archiveCheck)
	}
	routerCfg := httpserver.RouterConfig{
		CaseHandler:  handlers.NewCaseHandler(cases, extensions, cfg.Server.MaxBodySize, logger),
		AlertHandler: handlers.NewAlertHandler(alerts, logger),
		RiskHandler:  handlers.NewRiskHandler(analyzer, cfg.Server.MaxBodySize, logger),
		Permissions:  a.roles,
		Logger:       logger,
	}
	if engineMetrics != nil {
		routerCfg.HealthHandler = handlers.NewHealthHandler(version, engineMetrics, checks...)
		routerCfg.RequestMetrics = engineMetrics
		routerCfg.MetricsHandler = collector.Handler()
		routerCfg.MetricsPath = cfg.Metrics.Path
	} else {
		routerCfg.HealthHandler = handlers.NewHealthHandler(version, nil, checks...)
	}
	if cfg.Server.RateLimitRPS > 0 {
		limiter := middleware.NewTokenBucketLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, time.Minute)
		a.closers = append(a.closers, limiter.Stop)
		routerCfg.RateLimiter = limiter
	}

	a.server = httpserver.NewServer(cfg.Server, httpserver.NewRouter(routerCfg), logger)
	return a, nil
}

// newAnalyzer builds the risk service with whichever of the AI source, the
// evaluation archive and metrics are configured.  The returned check probes
// the archive when it is enabled.
func newAnalyzer(
	ctx context.Context,
	cfg *config.Config,
	rc *redis.Client,
	events *kafka.EventPublisher,
	metrics *prometheus.EngineMetrics,
	logger logging.Logger,
) (*risk.Service, *handlers.CheckFunc, error) {
	cat, err := compliance.LoadCatalog(cfg.Engine.CataloguePath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("offense catalogue loaded",
		logging.String("version", cat.Version()),
		logging.Int("entries", len(cat.Entries())),
	)

	opts := []risk.Option{risk.WithEventPublisher(events)}
	if metrics != nil {
		opts = append(opts, risk.WithMetrics(metrics))
	}
	if cfg.AISignal.Enabled {
		ai, err := aisignal.NewClient(cfg.AISignal, logger)
		if err != nil {
			return nil, nil, err
		}
		var src risk.SignalSource = ai
		if cfg.AISignal.CacheTTL > 0 {
			src = redis.NewCachedSignalSource(ai, redis.NewCache(rc, "aisignal", logger), cfg.AISignal.CacheTTL)
		}
		opts = append(opts, risk.WithSignalSource(src))
	}

	var check *handlers.CheckFunc
	if cfg.MinIO.Enabled {
		mc, err := minio.NewClient(cfg.MinIO, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := mc.EnsureBucket(ctx); err != nil {
			return nil, nil, err
		}
		opts = append(opts, risk.WithAuditArchive(minio.NewEvaluationArchive(mc)))
		check = &handlers.CheckFunc{Component: "minio", Fn: mc.HealthCheck}
	}

	svc, err := risk.NewService(
		compliance.NewMatcher(cat, compliance.WithRelevanceFloor(cfg.Engine.RelevanceFloor)),
		risk.Config{
			Weights:         cfg.Engine.RiskWeights,
			MinAIConfidence: cfg.Engine.MinAIConfidence,
			AITimeout:       cfg.Engine.AITimeout,
		},
		logger, opts...)
	if err != nil {
		return nil, nil, err
	}
	return svc, check, nil
}

// migrate applies pending schema migrations over a short-lived connection.
func migrate(cfg config.DatabaseConfig, logger logging.Logger) error {
	conn, err := postgres.NewConnection(cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.RunMigrations(cfg.MigrationPath)
}
