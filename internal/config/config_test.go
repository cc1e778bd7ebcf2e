package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/marketdata-hub/internal/model"
	"github.com/yourorg/marketdata-hub/internal/reliability"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.Delay)
	assert.Equal(t, 2.0, cfg.Retry.BackoffMultiplier)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 4, cfg.WorkerPoolSize)
	assert.Equal(t, 3, cfg.Calendar.SensitiveWindowDays)

	base, sensitive := cfg.TTLs()
	assert.Equal(t, 7*24*time.Hour, base[model.CategoryFinancial])
	assert.Equal(t, time.Hour, sensitive[model.CategoryFinancial])
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
fetch_timeout: 3s
retry:
  max_retries: 1
cache:
  base_ttl:
    quote: 30s
providers:
  - id: tushare
    kind: tushare
    tier: trusted
    token_env: TEST_TUSHARE_TOKEN
    rate_limit: 3
  - id: local
    kind: static
provider_priority:
  tushare: 0
  local: 1
`)
	t.Setenv("TEST_TUSHARE_TOKEN", "abc")
	t.Setenv("MDH_WORKER_POOL_SIZE", "8")
	t.Setenv("MDH_RETRY_MAX_RETRIES", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 8, cfg.WorkerPoolSize)
	assert.Equal(t, 2, cfg.Retry.MaxRetries, "environment wins over the file")
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.Delay, "untouched defaults survive")

	base, _ := cfg.TTLs()
	assert.Equal(t, 30*time.Second, base[model.CategoryQuote])
	assert.Equal(t, 7*24*time.Hour, base[model.CategoryFinancial], "file maps merge into defaults")

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "abc", cfg.Providers[0].Token)
	assert.Equal(t, 1, cfg.ProviderPriority["local"])
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown category", "cache:\n  base_ttl:\n    news: 1m\n"},
		{"unknown provider kind", "providers:\n  - id: x\n    kind: bloomberg\n"},
		{"unknown tier", "providers:\n  - id: x\n    kind: static\n    tier: gold\n"},
		{"duplicate provider", "providers:\n  - id: x\n    kind: static\n  - id: x\n    kind: static\n"},
		{"priority for unknown provider", "provider_priority:\n  ghost: 1\n"},
		{"zero pool", "worker_pool_size: 0\n"},
		{"bad multiplier", "retry:\n  backoff_multiplier: 0.5\n"},
		{"bad timezone", "calendar:\n  timezone: Mars/Olympus\n"},
		{"bad cron", "scheduler:\n  enabled: true\n  warmup_cron: every tuesday\n"},
		{"bad log format", "log_format: xml\n"},
		{"negative ttl", "cache:\n  sensitive_ttl:\n    financial: -1h\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Reliability.TrustedScore = 95

	opts := cfg.ReliabilityOptions()
	assert.Equal(t, 95.0, opts.DefaultScores[reliability.TierTrusted])
	assert.Equal(t, 3, opts.FailureThreshold)
	assert.Equal(t, time.Minute, opts.ProbeInterval)

	policy := cfg.RetryPolicy()
	assert.Equal(t, 3, policy.MaxRetries)
	assert.Equal(t, 5*time.Second, policy.MaxDelay)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Shanghai", loc.String())

	cats, err := cfg.WarmupCategories()
	require.NoError(t, err)
	assert.Equal(t, []model.Category{model.CategoryQuote}, cats)
}
