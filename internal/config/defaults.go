package config

import (
	"time"

	"github.com/turtacn/karin-compliance/internal/domain/compliance"
	"github.com/turtacn/karin-compliance/internal/domain/lifecycle"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerHost = "0.0.0.0"
	DefaultServerPort = 8080

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBName     = "karin"
	DefaultDBMaxConns = 25

	DefaultRedisMode = "standalone"
	DefaultRedisAddr = "localhost:6379"

	DefaultKafkaBroker  = "localhost:9092"
	DefaultKafkaGroupID = "karin-worker"

	DefaultTopicCaseEvents    = "karin.case-events"
	DefaultTopicNotifications = "karin.notifications"
	DefaultTopicRiskEvents    = "karin.risk-events"
	DefaultTopicDeadLetter    = "karin.dead-letter"

	DefaultMinIOBucket = "karin-risk-evaluations"

	DefaultTimezone        = "America/Santiago"
	DefaultScanSchedule    = "0 */15 * * * *"
	DefaultScanConcurrency = 8
	DefaultMinAIConfidence = 0.3

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsPath = "/metrics"
)

// ApplyDefaults fills every zero-value field in cfg with its default.  Values
// already set are left unchanged so that explicit configuration always wins.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultServerHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 20 * time.Second
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = 1 << 20
	}
	if cfg.Server.RateLimitRPS > 0 && cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = int(2 * cfg.Server.RateLimitRPS)
		if cfg.Server.RateLimitBurst < 1 {
			cfg.Server.RateLimitBurst = 1
		}
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = "migrations"
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Mode == "" {
		cfg.Redis.Mode = DefaultRedisMode
	}
	if cfg.Redis.Addr == "" && cfg.Redis.Mode == DefaultRedisMode {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "karin:"
	}
	if cfg.Redis.AlertStateTTL == 0 {
		cfg.Redis.AlertStateTTL = 90 * 24 * time.Hour
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "karin-compliance"
	}
	if cfg.Kafka.Topics.CaseEvents == "" {
		cfg.Kafka.Topics.CaseEvents = DefaultTopicCaseEvents
	}
	if cfg.Kafka.Topics.Notifications == "" {
		cfg.Kafka.Topics.Notifications = DefaultTopicNotifications
	}
	if cfg.Kafka.Topics.RiskEvents == "" {
		cfg.Kafka.Topics.RiskEvents = DefaultTopicRiskEvents
	}
	if cfg.Kafka.Topics.DeadLetter == "" {
		cfg.Kafka.Topics.DeadLetter = DefaultTopicDeadLetter
	}
	if cfg.Kafka.BatchSize == 0 {
		cfg.Kafka.BatchSize = 100
	}
	if cfg.Kafka.BatchTimeout == 0 {
		cfg.Kafka.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.Kafka.WriteTimeout == 0 {
		cfg.Kafka.WriteTimeout = 10 * time.Second
	}
	if cfg.Kafka.MaxAttempts == 0 {
		cfg.Kafka.MaxAttempts = 3
	}
	if cfg.Kafka.RequiredAcks == 0 {
		cfg.Kafka.RequiredAcks = -1
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	if cfg.Engine.Timezone == "" {
		cfg.Engine.Timezone = DefaultTimezone
	}
	if cfg.Engine.AlertThresholds == (lifecycle.AlertThresholds{}) {
		cfg.Engine.AlertThresholds = lifecycle.DefaultAlertThresholds()
	}
	if cfg.Engine.ScanSchedule == "" {
		cfg.Engine.ScanSchedule = DefaultScanSchedule
	}
	if cfg.Engine.ScanConcurrency == 0 {
		cfg.Engine.ScanConcurrency = DefaultScanConcurrency
	}
	if cfg.Engine.ScanLeaseTTL == 0 {
		cfg.Engine.ScanLeaseTTL = 5 * time.Minute
	}
	if cfg.Engine.RiskWeights == (compliance.Weights{}) {
		cfg.Engine.RiskWeights = compliance.DefaultWeights()
	}
	if cfg.Engine.AITimeout == 0 {
		cfg.Engine.AITimeout = 3 * time.Second
	}
	if cfg.Engine.MinAIConfidence == 0 {
		cfg.Engine.MinAIConfidence = DefaultMinAIConfidence
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "karin"
	}
}

// Default returns a Config holding only defaults.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
