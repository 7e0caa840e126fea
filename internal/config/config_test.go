package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "America/Santiago", cfg.Engine.Timezone)
	assert.Equal(t, 2, cfg.Engine.AlertThresholds.UrgentDays)
	assert.InDelta(t, 0.6, cfg.Engine.RiskWeights.Compliance, 1e-9)
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 9999
	cfg.Engine.AlertThresholds.UrgentDays = 4
	cfg.Redis.Mode = "cluster"
	ApplyDefaults(cfg)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Engine.AlertThresholds.UrgentDays)
	assert.Zero(t, cfg.Engine.AlertThresholds.ApproachingDays)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"db name", func(c *Config) { c.Database.DBName = "" }, "database.db_name"},
		{"redis mode", func(c *Config) { c.Redis.Mode = "mesh" }, "redis.mode"},
		{"sentinel", func(c *Config) { c.Redis.Mode = "sentinel" }, "sentinel"},
		{"sasl", func(c *Config) { c.Kafka.SASLEnabled = true; c.Kafka.SASLMechanism = "GSSAPI" }, "sasl_mechanism"},
		{"minio", func(c *Config) { c.MinIO.Enabled = true }, "minio.endpoint"},
		{"ai", func(c *Config) { c.AISignal.Enabled = true }, "ai_signal.base_url"},
		{"timezone", func(c *Config) { c.Engine.Timezone = "Mars/Olympus" }, "engine.timezone"},
		{"holiday", func(c *Config) { c.Engine.Holidays = []string{"2025-02-30"} }, "engine.holidays"},
		{"thresholds", func(c *Config) { c.Engine.AlertThresholds.UrgentFraction = 2 }, "alert_thresholds"},
		{"weights", func(c *Config) { c.Engine.RiskWeights.AI = 0.9 }, "risk_weights"},
		{"confidence", func(c *Config) { c.Engine.MinAIConfidence = 1.5 }, "min_ai_confidence"},
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEngineLocation(t *testing.T) {
	loc, err := Default().Engine.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Santiago", loc.String())
}

func TestEngineCalculatorOptions(t *testing.T) {
	e := Default().Engine
	opts, err := e.CalculatorOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 3)

	e.Holidays = []string{"2026-09-18"}
	_, err = e.CalculatorOptions()
	require.NoError(t, err)

	e.Holidays = []string{"18/09/2026"}
	_, err = e.CalculatorOptions()
	assert.Error(t, err)

	e.Holidays = nil
	e.Timezone = "Mars/Olympus"
	_, err = e.CalculatorOptions()
	assert.Error(t, err)
}

func TestConfigKeys(t *testing.T) {
	keys := configKeys(reflectConfigType(), "")
	assert.Contains(t, keys, "engine.alert_thresholds.urgent_days")
	assert.Contains(t, keys, "engine.risk_weights.ai")
	assert.Contains(t, keys, "kafka.topics.notifications")
	assert.Contains(t, keys, "log.output_paths")
	assert.Contains(t, keys, "server.read_timeout")
	assert.NotContains(t, keys, "engine")
}
