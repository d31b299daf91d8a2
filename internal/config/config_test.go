package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "outreach.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15, cfg.Scheduler.PollIntervalSecs)
	assert.Equal(t, 50, cfg.Scheduler.BatchSize)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, []string{"replied", "unsubscribed"}, cfg.Scheduler.StopFields)
	assert.Equal(t, 5, cfg.Backoff.MaxAttempts)
	assert.Equal(t, 60, cfg.Backoff.InitialBackoffSecs)
	assert.Equal(t, 21600, cfg.Backoff.MaxBackoffSecs)
	assert.InDelta(t, 2.0, cfg.Backoff.Multiplier, 0.001)
	assert.InDelta(t, 0.25, cfg.Backoff.JitterFraction, 0.001)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 120, cfg.Circuit.ResetTimeoutSecs)
	assert.Equal(t, 180, cfg.Score.HalfLifeDays)
	assert.InDelta(t, 0.1, cfg.Score.DecayFloor, 0.001)
	assert.Equal(t, []string{"manual", "import", "hunter", "scrape"}, cfg.Sources.Priority)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "https://api.hunter.io/v2", cfg.Hunter.BaseURL)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/outreach
log:
  level: debug
  format: console
scheduler:
  workers: 8
  poll_interval_secs: 5
channels:
  email:
    per_minute: 10
    burst: 2
  linkedin:
    per_minute: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/outreach", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, 5, cfg.Scheduler.PollIntervalSecs)

	rates := cfg.RateConfigs()
	require.Len(t, rates, 2)
	assert.InDelta(t, 10.0, rates["email"].PerMinute, 0.001)
	assert.Equal(t, 2, rates["email"].Burst)
	assert.InDelta(t, 2.0, rates["linkedin"].PerMinute, 0.001)
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })

	t.Setenv("OUTREACH_STORE_DRIVER", "postgres")
	t.Setenv("OUTREACH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "not-a-level", Format: "json"})
	assert.Error(t, err)
}
