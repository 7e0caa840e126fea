// Package config defines the configuration of the compliance engine
// processes.  No I/O lives here, only data types and validation.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/karin-compliance/internal/domain/compliance"
	"github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	// RateLimitRPS is the sustained request rate per actor; zero disables
	// rate limiting.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	// Server-side limits appended to the DSN; zero selects the defaults.
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
	MigrationPath    string        `mapstructure:"migration_path"`
	AutoMigrate      bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Mode         string        `mapstructure:"mode"` // "standalone" | "sentinel" | "cluster"
	Addr         string        `mapstructure:"addr"`
	Addrs        []string      `mapstructure:"addrs"`
	MasterName   string        `mapstructure:"master_name"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	// AlertStateTTL bounds how long remembered alert levels survive for a
	// case nobody touches.
	AlertStateTTL time.Duration `mapstructure:"alert_state_ttl"`
}

// KafkaTopics names the topics the engine writes and reads.
type KafkaTopics struct {
	CaseEvents    string `mapstructure:"case_events"`
	Notifications string `mapstructure:"notifications"`
	RiskEvents    string `mapstructure:"risk_events"`
	DeadLetter    string `mapstructure:"dead_letter"`
}

// KafkaConfig holds producer and consumer parameters.
type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	GroupID       string        `mapstructure:"group_id"`
	ClientID      string        `mapstructure:"client_id"`
	Topics        KafkaTopics   `mapstructure:"topics"`
	BatchSize     int           `mapstructure:"batch_size"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RequiredAcks  int           `mapstructure:"required_acks"`
	SASLEnabled   bool          `mapstructure:"sasl_enabled"`
	SASLMechanism string        `mapstructure:"sasl_mechanism"` // "PLAIN" | "SCRAM-SHA-256" | "SCRAM-SHA-512"
	SASLUsername  string        `mapstructure:"sasl_username"`
	SASLPassword  string        `mapstructure:"sasl_password"`
	TLSEnabled    bool          `mapstructure:"tls_enabled"`
}

// MinIOConfig holds object-storage parameters for the evaluation archive.
type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	// RetentionDays expires archived evaluations; zero keeps them.
	RetentionDays int `mapstructure:"retention_days"`
}

// AISignalConfig points at the external AI scorer.  Disabled means every
// analysis is compliance-only.
type AISignalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	// CacheTTL keeps scores for identical requests in Redis; zero disables
	// the cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// EngineConfig holds the lifecycle and risk engine tunables.
type EngineConfig struct {
	// Timezone is the IANA zone deadlines are computed in.
	Timezone string `mapstructure:"timezone"`
	// Holidays are ISO dates skipped by business-day arithmetic.  Empty means
	// weekends only.
	Holidays        []string                  `mapstructure:"holidays"`
	AlertThresholds lifecycle.AlertThresholds `mapstructure:"alert_thresholds"`
	// ScanSchedule is a six-field cron spec (seconds first).
	ScanSchedule    string             `mapstructure:"scan_schedule"`
	ScanConcurrency int                `mapstructure:"scan_concurrency"`
	ScanLeaseTTL    time.Duration      `mapstructure:"scan_lease_ttl"`
	RiskWeights     compliance.Weights `mapstructure:"risk_weights"`
	AITimeout       time.Duration      `mapstructure:"ai_timeout"`
	MinAIConfidence float64            `mapstructure:"min_ai_confidence"`
	RelevanceFloor  float64            `mapstructure:"relevance_floor"`
	// CataloguePath overrides the embedded offense catalogue when set.
	CataloguePath string `mapstructure:"catalogue_path"`
}

// Location resolves Timezone.
func (e EngineConfig) Location() (*time.Location, error) {
	return time.LoadLocation(e.Timezone)
}

// CalculatorOptions turns the zone, holiday and threshold settings into
// DeadlineCalculator options.
func (e EngineConfig) CalculatorOptions() ([]lifecycle.CalculatorOption, error) {
	loc, err := e.Location()
	if err != nil {
		return nil, fmt.Errorf("engine.timezone: %w", err)
	}
	cal, err := lifecycle.CalendarFor(e.Holidays)
	if err != nil {
		return nil, fmt.Errorf("engine.holidays: %w", err)
	}
	return []lifecycle.CalculatorOption{
		lifecycle.WithLocation(loc),
		lifecycle.WithCalendar(cal),
		lifecycle.WithThresholds(e.AlertThresholds),
	}, nil
}

// RolesConfig lists the actors allowed to decide extension requests beyond
// the case's assigned investigator.
type RolesConfig struct {
	Admins      []string `mapstructure:"admins"`
	SuperAdmins []string `mapstructure:"super_admins"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration shared by the API server, the worker and
// the operator CLI.
type Config struct {
	Server   ServerConfig      `mapstructure:"server"`
	Database DatabaseConfig    `mapstructure:"database"`
	Redis    RedisConfig       `mapstructure:"redis"`
	Kafka    KafkaConfig       `mapstructure:"kafka"`
	MinIO    MinIOConfig       `mapstructure:"minio"`
	AISignal AISignalConfig    `mapstructure:"ai_signal"`
	Engine   EngineConfig      `mapstructure:"engine"`
	Roles    RolesConfig       `mapstructure:"roles"`
	Log      logging.LogConfig `mapstructure:"log"`
	Metrics  MetricsConfig     `mapstructure:"metrics"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of a fully-populated Config and
// returns the first problem found.
func (c *Config) Validate() error {
	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range [1, 65535]", c.Server.Port)
	}

	// Database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port %d is out of range [1, 65535]", c.Database.Port)
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database.db_name is required")
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("database.max_conns must be >= 1, got %d", c.Database.MaxConns)
	}

	// Redis
	switch c.Redis.Mode {
	case "standalone":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required")
		}
	case "sentinel":
		if c.Redis.MasterName == "" || len(c.Redis.Addrs) == 0 {
			return fmt.Errorf("redis sentinel mode needs master_name and addrs")
		}
	case "cluster":
		if len(c.Redis.Addrs) == 0 {
			return fmt.Errorf("redis cluster mode needs addrs")
		}
	default:
		return fmt.Errorf("redis.mode %q is invalid; expected standalone|sentinel|cluster", c.Redis.Mode)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0, got %d", c.Redis.DB)
	}

	// Kafka
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must contain at least one broker address")
	}
	if c.Kafka.GroupID == "" {
		return fmt.Errorf("kafka.group_id is required")
	}
	if c.Kafka.SASLEnabled {
		switch c.Kafka.SASLMechanism {
		case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			return fmt.Errorf("kafka.sasl_mechanism %q is unsupported", c.Kafka.SASLMechanism)
		}
	}

	// MinIO
	if c.MinIO.Enabled && (c.MinIO.Endpoint == "" || c.MinIO.Bucket == "") {
		return fmt.Errorf("minio.endpoint and minio.bucket are required when minio is enabled")
	}

	// AI signal
	if c.AISignal.Enabled && c.AISignal.BaseURL == "" {
		return fmt.Errorf("ai_signal.base_url is required when ai_signal is enabled")
	}

	// Engine
	if _, err := c.Engine.Location(); err != nil {
		return fmt.Errorf("engine.timezone %q: %w", c.Engine.Timezone, err)
	}
	if _, err := lifecycle.NewHolidayCalendar(c.Engine.Holidays); err != nil {
		return fmt.Errorf("engine.holidays: %w", err)
	}
	if err := c.Engine.AlertThresholds.Validate(); err != nil {
		return fmt.Errorf("engine.alert_thresholds: %w", err)
	}
	if err := c.Engine.RiskWeights.Validate(); err != nil {
		return fmt.Errorf("engine.risk_weights: %w", err)
	}
	if c.Engine.MinAIConfidence < 0 || c.Engine.MinAIConfidence > 1 {
		return fmt.Errorf("engine.min_ai_confidence must be within [0,1], got %v", c.Engine.MinAIConfidence)
	}
	if c.Engine.ScanConcurrency < 1 {
		return fmt.Errorf("engine.scan_concurrency must be >= 1, got %d", c.Engine.ScanConcurrency)
	}
	if c.Engine.ScanSchedule == "" {
		return fmt.Errorf("engine.scan_schedule is required")
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}
