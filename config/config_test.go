package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/voiceflow.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, int64(10000), cfg.Admission.DailyTokenLimitsByTier["business"])
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voiceflow.yaml")
	data := `
server:
  http_port: 9000
  read_timeout: 5s
pipeline:
  stage_latency_budgets_ms:
    vad: 30
    asr: 100
    orchestration: 40
    llm: 250
    tts: 90
  interrupt_poll_interval_ms: 10
admission:
  daily_token_limits_by_tier:
    starter: 500
    business: 5000
    enterprise: 50000
safety:
  injection_patterns:
    - "transfer\\s+all\\s+funds"
  min_response_confidence: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 250, cfg.Pipeline.StageLatencyBudgetsMs["llm"])
	assert.Equal(t, 10, cfg.Pipeline.InterruptPollIntervalMs)
	assert.Equal(t, int64(500), cfg.Admission.DailyTokenLimitsByTier["starter"])
	assert.Equal(t, []string{`transfer\s+all\s+funds`}, cfg.Safety.InjectionPatterns)
	assert.InDelta(t, 0.9, cfg.Safety.MinResponseConfidence, 1e-9)

	// Untouched sections keep defaults.
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	t.Setenv("VOICEFLOW_SERVER_HTTP_PORT", "7070")
	t.Setenv("VOICEFLOW_SAFETY_MIN_RESPONSE_CONFIDENCE", "0.95")
	t.Setenv("VOICEFLOW_LOG_LEVEL", "debug")
	t.Setenv("VOICEFLOW_REDIS_ENABLED", "true")
	t.Setenv("VOICEFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/voiceflow.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.InDelta(t, 0.95, cfg.Safety.MinResponseConfidence, 1e-9)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"stdout", "/var/log/voiceflow.log"}, cfg.Log.OutputPaths)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad http port", func(c *Config) { c.Server.HTTPPort = -1 }},
		{"zero stage budget", func(c *Config) { c.Pipeline.StageLatencyBudgetsMs["llm"] = 0 }},
		{"unknown tier", func(c *Config) { c.Admission.DailyTokenLimitsByTier["platinum"] = 100 }},
		{"negative token limit", func(c *Config) { c.Admission.DailyTokenLimitsByTier["starter"] = -5 }},
		{"confidence out of range", func(c *Config) { c.Safety.MinResponseConfidence = 1.5 }},
		{"redis enabled without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsInvalidPatternDownstream(t *testing.T) {
	// Loader-level validators run after the built-in validation.
	cfg, err := NewLoader().
		WithValidator(func(c *Config) error {
			c.Pipeline.HistoryLimit = 4
			return nil
		}).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Pipeline.HistoryLimit)
}
