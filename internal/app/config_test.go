package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencatalog/catalog/internal/access"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, time.Duration(0), cfg.GrantCacheTTL)
	require.Equal(t, "@every 1m", cfg.ExpirySweepCron)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigClampsGrantCacheTTL(t *testing.T) {
	t.Setenv("GRANT_CACHE_TTL", "10m")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, access.MaxGrantCacheTTL, cfg.GrantCacheTTL)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	for key, value := range map[string]string{
		"GRANT_CACHE_TTL":   "-1s",
		"PROBE_CONCURRENCY": "0",
		"LOG_LEVEL":         "loud",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestLoggerHonoursLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{AppEnv: "staging", LogFormat: "json", LogLevel: "WARN"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "shown", entry["msg"])
	require.Equal(t, "catalog", entry["service"])
	require.Equal(t, "staging", entry["env"])
	require.Equal(t, "v", entry["k"])
}
