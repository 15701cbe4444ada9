package app

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GATEWAY_MODE", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, GatewayREST, cfg.GatewayMode)
	require.Equal(t, 5*time.Minute, cfg.VehicleCacheTTL)
	require.Equal(t, 60, cfg.RateLimitPerMinute)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigPostgresMode(t *testing.T) {
	t.Setenv("GATEWAY_MODE", " Postgres ")
	t.Setenv("PG_DSN", "postgres://u:p@db:5432/w")
	t.Setenv("STOCK_LOCK_TTL", "45s")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, GatewayPostgres, cfg.GatewayMode)
	require.Equal(t, 45*time.Second, cfg.StockLockTTL)
}

func TestLoadConfigRejectsUnknownMode(t *testing.T) {
	t.Setenv("GATEWAY_MODE", "soap")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "unknown gateway mode")
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workshop.env")
	require.NoError(t, os.WriteFile(path, []byte("IDEMPOTENCY_TTL=2h\nKAFKA_BROKERS=k1:9092,k2:9092\n"), 0o600))
	t.Setenv(envFileVar, path)
	// Registered so the values loaded from the file are removed afterwards.
	t.Setenv("IDEMPOTENCY_TTL", "")
	t.Setenv("KAFKA_BROKERS", "")
	require.NoError(t, os.Unsetenv("IDEMPOTENCY_TTL"))
	require.NoError(t, os.Unsetenv("KAFKA_BROKERS"))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 2*time.Hour, cfg.IdempotencyTTL)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestLoadConfigIgnoresMissingEnvFile(t *testing.T) {
	t.Setenv(envFileVar, filepath.Join(t.TempDir(), "absent.env"))
	_, err := LoadConfig()
	require.NoError(t, err)
}

func TestValidateRequiresGatewayURL(t *testing.T) {
	cfg := Config{GatewayMode: GatewayREST, StockLockTTL: time.Second, RateLimitPerMinute: 1}
	require.Error(t, cfg.Validate())
	cfg.GatewayURL = "http://backend/api"
	require.NoError(t, cfg.Validate())
}

func TestLoggerHonoursLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})
	logger.Info("hidden")
	logger.Warn("shown", slog.Int64("work_order_id", 9))

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"shown"`)
	require.Contains(t, out, `"work_order_id":9`)
	require.Equal(t, 1, strings.Count(strings.TrimSpace(out), "\n")+1)
}

func TestLoggerFallsBackToInfo(t *testing.T) {
	require.Equal(t, slog.LevelInfo, logLevel(nil))
	require.Equal(t, slog.LevelInfo, logLevel(&Config{LogLevel: "loud"}))
	require.Equal(t, slog.LevelDebug, logLevel(&Config{LogLevel: "debug"}))
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}
