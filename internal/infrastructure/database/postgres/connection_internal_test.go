package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/karin-compliance/internal/config"
)

func TestBuildConnString_ParsesAsPoolConfig(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "db.prod.internal",
		Port:     5432,
		User:     "admin",
		Password: "complex!password",
		DBName:   "karin",
		SSLMode:  "disable",
	}

	poolCfg, err := pgxpool.ParseConfig(buildConnString(cfg))
	require.NoError(t, err)
	assert.Equal(t, "db.prod.internal", poolCfg.ConnConfig.Host)
	assert.Equal(t, "admin", poolCfg.ConnConfig.User)
	assert.Equal(t, "complex!password", poolCfg.ConnConfig.Password)
	assert.Equal(t, "karin", poolCfg.ConnConfig.Database)
	assert.Equal(t, "30000", poolCfg.ConnConfig.RuntimeParams["statement_timeout"])
	assert.Equal(t, "10000", poolCfg.ConnConfig.RuntimeParams["lock_timeout"])
}

func TestConfigurePool(t *testing.T) {
	t.Run("applies custom settings", func(t *testing.T) {
		cfg := config.DatabaseConfig{
			MaxConns:        50,
			MinConns:        10,
			ConnMaxLifetime: 2 * time.Hour,
			ConnMaxIdleTime: 45 * time.Minute,
		}
		poolCfg := &pgxpool.Config{}
		configurePool(poolCfg, cfg)

		assert.Equal(t, int32(50), poolCfg.MaxConns)
		assert.Equal(t, int32(10), poolCfg.MinConns)
		assert.Equal(t, 2*time.Hour, poolCfg.MaxConnLifetime)
		assert.Equal(t, 45*time.Minute, poolCfg.MaxConnIdleTime)
		assert.Equal(t, defaultHealthCheckPeriod, poolCfg.HealthCheckPeriod)
	})

	t.Run("falls back to defaults", func(t *testing.T) {
		poolCfg := &pgxpool.Config{MaxConns: 4}
		configurePool(poolCfg, config.DatabaseConfig{})

		assert.Equal(t, int32(4), poolCfg.MaxConns)
		assert.Equal(t, defaultConnMaxLifetime, poolCfg.MaxConnLifetime)
		assert.Equal(t, defaultConnMaxIdleTime, poolCfg.MaxConnIdleTime)
	})

	t.Run("caps min conns at max conns", func(t *testing.T) {
		poolCfg := &pgxpool.Config{}
		configurePool(poolCfg, config.DatabaseConfig{MaxConns: 3, MinConns: 8})
		assert.Equal(t, int32(3), poolCfg.MinConns)
	})
}

func TestSourceURL(t *testing.T) {
	assert.Equal(t, "file://migrations", sourceURL("migrations"))
	assert.Equal(t, "file:///srv/karin/migrations", sourceURL("/srv/karin/migrations"))
	assert.Equal(t, "file://./migrations", sourceURL("file://./migrations"))
}

func TestMigrator_DownRejectsNonPositiveSteps(t *testing.T) {
	m := NewMigrator("postgres://u:p@localhost:5432/db?sslmode=disable", "migrations")
	err := m.Down(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps must be greater than 0")
}

func TestSourceURL_PrefixesBarePaths(t *testing.T) {
	assert.Equal(t, "file://migrations", sourceURL("migrations"))
	assert.Equal(t, "file:///srv/karin/migrations", sourceURL("/srv/karin/migrations"))
	assert.Equal(t, "file://already", sourceURL("file://already"))
}
