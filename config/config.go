// Copyright (c) VoiceFlow Authors.
// Licensed under the MIT License.

// Package config defines the orchestration core's configuration bundle
// and its loader. Priority: defaults → YAML file → environment.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete VoiceFlow configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Pipeline  PipelineConfig  `yaml:"pipeline" env:"PIPELINE"`
	Admission AdmissionConfig `yaml:"admission" env:"ADMISSION"`
	Safety    SafetyConfig    `yaml:"safety" env:"SAFETY"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Audit     AuditConfig     `yaml:"audit" env:"AUDIT"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the session endpoint.
type ServerConfig struct {
	// HTTPPort serves the websocket session endpoint and health checks.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// MetricsPort serves /metrics.
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// FramesPerSecond rate-limits inbound frames per session.
	FramesPerSecond int `yaml:"frames_per_second" env:"FRAMES_PER_SECOND"`
	// FrameBurst is the rate limiter burst size.
	FrameBurst      int           `yaml:"frame_burst" env:"FRAME_BURST"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// PipelineConfig configures the streaming pipeline.
type PipelineConfig struct {
	// StageLatencyBudgetsMs holds per-stage advisory latency ceilings,
	// keyed vad/asr/orchestration/llm/tts (and combined_vad_asr).
	StageLatencyBudgetsMs map[string]int `yaml:"stage_latency_budgets_ms"`
	// InterruptPollIntervalMs is how often the interrupt signal is
	// checked while waiting on synthesis.
	InterruptPollIntervalMs int `yaml:"interrupt_poll_interval_ms" env:"INTERRUPT_POLL_INTERVAL_MS"`
	// RetryBackoffMs is the pause before the single upstream retry.
	RetryBackoffMs int `yaml:"retry_backoff_ms" env:"RETRY_BACKOFF_MS"`
	// VADEnergyThreshold is the RMS speech threshold for the default
	// energy detector.
	VADEnergyThreshold float64 `yaml:"vad_energy_threshold" env:"VAD_ENERGY_THRESHOLD"`
	// HistoryLimit caps the conversation context per session.
	HistoryLimit int `yaml:"history_limit" env:"HISTORY_LIMIT"`
}

// AdmissionConfig configures the admission controller.
type AdmissionConfig struct {
	// DailyTokenLimitsByTier keys starter/business/enterprise.
	DailyTokenLimitsByTier map[string]int64 `yaml:"daily_token_limits_by_tier"`
	// ComplexityThreshold is the cheap/expensive model routing cut-off.
	ComplexityThreshold float64 `yaml:"complexity_threshold" env:"COMPLEXITY_THRESHOLD"`
	// TokenEncoding is the tiktoken encoding for estimation.
	TokenEncoding string `yaml:"token_encoding" env:"TOKEN_ENCODING"`
}

// SafetyConfig configures the safety filter.
type SafetyConfig struct {
	MaxInputLength int `yaml:"max_input_length" env:"MAX_INPUT_LENGTH"`
	// InjectionPatterns extends the built-in high-risk pattern set.
	InjectionPatterns []string `yaml:"injection_patterns" env:"INJECTION_PATTERNS"`
	// MinSafetyScore blocks inputs the anomaly scorer rates below it.
	MinSafetyScore float64 `yaml:"min_safety_score" env:"MIN_SAFETY_SCORE"`
	// MinResponseConfidence is the default output confidence floor.
	MinResponseConfidence float64 `yaml:"min_response_confidence" env:"MIN_RESPONSE_CONFIDENCE"`
}

// RedisConfig configures the optional shared Redis backend. When
// disabled, budget counters and the audit trail stay in-process.
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// KeyPrefix namespaces budget and kill-switch keys.
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// MemorySize bounds the in-memory sink.
	MemorySize int `yaml:"memory_size" env:"MEMORY_SIZE"`
	// StreamKey is the Redis stream key when Redis is enabled.
	StreamKey string `yaml:"stream_key" env:"STREAM_KEY"`
	// StreamMaxLen caps the Redis stream (approximate).
	StreamMaxLen int64 `yaml:"stream_max_len" env:"STREAM_MAX_LEN"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console.
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DefaultConfig returns the defaults every deployment starts from.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			FramesPerSecond: 200,
			FrameBurst:      50,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Pipeline: PipelineConfig{
			StageLatencyBudgetsMs: map[string]int{
				"vad":           30,
				"asr":           100,
				"orchestration": 40,
				"llm":           180,
				"tts":           90,
			},
			InterruptPollIntervalMs: 20,
			RetryBackoffMs:          50,
			VADEnergyThreshold:      500,
			HistoryLimit:            8,
		},
		Admission: AdmissionConfig{
			DailyTokenLimitsByTier: map[string]int64{
				"starter":    1000,
				"business":   10000,
				"enterprise": 100000,
			},
			ComplexityThreshold: 50,
			TokenEncoding:       "cl100k_base",
		},
		Safety: SafetyConfig{
			MaxInputLength:        2048,
			MinSafetyScore:        0.5,
			MinResponseConfidence: 0.8,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "voiceflow",
		},
		Audit: AuditConfig{
			MemorySize:   10000,
			StreamKey:    "voiceflow:audit",
			StreamMaxLen: 100000,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "voiceflow",
			SampleRate:  1.0,
		},
	}
}

// Validate checks the configuration. Failures here are fatal at startup,
// before any turn is accepted.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	for stage, ms := range c.Pipeline.StageLatencyBudgetsMs {
		if ms <= 0 {
			errs = append(errs, fmt.Sprintf("stage budget %s must be positive", stage))
		}
	}
	if c.Pipeline.InterruptPollIntervalMs <= 0 {
		errs = append(errs, "interrupt_poll_interval_ms must be positive")
	}
	for tier, limit := range c.Admission.DailyTokenLimitsByTier {
		switch tier {
		case "starter", "business", "enterprise":
		default:
			errs = append(errs, "unknown tier "+tier)
		}
		if limit <= 0 {
			errs = append(errs, "token limit for "+tier+" must be positive")
		}
	}
	if c.Safety.MaxInputLength <= 0 {
		errs = append(errs, "max_input_length must be positive")
	}
	if c.Safety.MinResponseConfidence < 0 || c.Safety.MinResponseConfidence > 1 {
		errs = append(errs, "min_response_confidence must be in [0,1]")
	}
	if c.Safety.MinSafetyScore < 0 || c.Safety.MinSafetyScore > 1 {
		errs = append(errs, "min_safety_score must be in [0,1]")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis enabled without addr")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "unknown log level "+c.Log.Level)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
