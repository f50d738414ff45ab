// Copyright (c) VoiceFlow Authors.
// Licensed under the MIT License.

/*
Package voiceflow assembles the orchestration core: turn state machine,
admission control, safety filtering, the streaming pipeline and the
orchestrator, wired from one configuration bundle.

Callers supply the external service ports (recognizer, generator,
synthesizer, optional anomaly scorer and policy provider) and receive an
orchestrator ready to open sessions.
*/
package voiceflow

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/admission"
	"github.com/BaSui01/voiceflow/audit"
	"github.com/BaSui01/voiceflow/config"
	"github.com/BaSui01/voiceflow/internal/metrics"
	"github.com/BaSui01/voiceflow/orchestrator"
	"github.com/BaSui01/voiceflow/pipeline"
	"github.com/BaSui01/voiceflow/safety"
	"github.com/BaSui01/voiceflow/types"
)

// Ports are the abstract external services the core consumes.
// Recognizer, Generator and Synthesizer are required.
type Ports struct {
	Recognizer  pipeline.Recognizer
	Generator   pipeline.Generator
	Synthesizer pipeline.Synthesizer
	// Scorer is the optional anomaly scorer.
	Scorer safety.Scorer
	// Policies resolves per-tenant policy; nil means empty policies.
	Policies types.PolicyProvider
}

// Option customizes assembly.
type Option func(*builder)

type builder struct {
	logger   *zap.Logger
	registry prometheus.Registerer
	redis    redis.UniversalClient
}

// WithLogger sets the logger for every component.
func WithLogger(logger *zap.Logger) Option {
	return func(b *builder) { b.logger = logger }
}

// WithMetricsRegistry sets the Prometheus registerer. Defaults to the
// global one.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(b *builder) { b.registry = reg }
}

// WithRedisClient supplies an existing Redis client instead of dialing
// from configuration.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(b *builder) { b.redis = client }
}

// Core is the assembled orchestration core.
type Core struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Admission    *admission.Controller
	Filter       *safety.Filter
	// Trail is the queryable in-memory audit sink; entries also go to
	// the log and, when Redis is enabled, to a Redis stream.
	Trail *audit.MemorySink

	logger     *zap.Logger
	redis      redis.UniversalClient
	ownsRedis  bool
	streamSink *audit.RedisStreamSink
}

// New validates cfg and wires the core. Configuration or wiring
// problems fail here, before any turn is accepted.
func New(cfg *config.Config, ports Ports, opts ...Option) (*Core, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.NewError(types.ErrConfigInvalid, err.Error())
	}

	b := &builder{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	logger := b.logger

	core := &Core{Config: cfg, logger: logger}

	rdb := b.redis
	if rdb == nil && cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		core.ownsRedis = true
	}
	core.redis = rdb

	// Admission over the shared store when Redis is available.
	var store admission.Store
	if rdb != nil {
		store = admission.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
	}
	limits := make(map[types.TenantTier]int64, len(cfg.Admission.DailyTokenLimitsByTier))
	for tier, limit := range cfg.Admission.DailyTokenLimitsByTier {
		limits[types.TenantTier(tier)] = limit
	}
	// A policy provider is authoritative for tier limits when it carries
	// them; configuration is the fallback.
	if ports.Policies != nil {
		for tier := range limits {
			if limit, err := ports.Policies.GetBudgetLimits(tier); err == nil && limit > 0 {
				limits[tier] = limit
			}
		}
	}
	core.Admission = admission.NewController(admission.Config{
		Limits:              limits,
		ComplexityThreshold: cfg.Admission.ComplexityThreshold,
	}, store, logger)

	var err error
	core.Filter, err = safety.NewFilter(safety.Config{
		MaxInputLength:        cfg.Safety.MaxInputLength,
		InjectionPatterns:     cfg.Safety.InjectionPatterns,
		MinSafetyScore:        cfg.Safety.MinSafetyScore,
		MinResponseConfidence: cfg.Safety.MinResponseConfidence,
	}, ports.Scorer, logger)
	if err != nil {
		return nil, err
	}

	core.Trail = audit.NewMemorySink(cfg.Audit.MemorySize)
	sinks := []audit.Sink{core.Trail, audit.NewZapSink(logger)}
	if rdb != nil {
		core.streamSink = audit.NewRedisStreamSink(rdb, logger,
			audit.WithStreamKey(cfg.Audit.StreamKey),
			audit.WithStreamMaxLen(cfg.Audit.StreamMaxLen))
		sinks = append(sinks, core.streamSink)
	}
	sink := audit.NewMultiSink(sinks...)

	collector := metrics.NewCollector("voiceflow", b.registry, logger)

	pl, err := pipeline.New(pipeline.Config{
		Budgets:               pipeline.StageBudgetsFromMillis(cfg.Pipeline.StageLatencyBudgetsMs),
		InterruptPollInterval: millis(cfg.Pipeline.InterruptPollIntervalMs),
		RetryBackoff:          millis(cfg.Pipeline.RetryBackoffMs),
	}, pipeline.Deps{
		VAD:         pipeline.NewEnergyVAD(cfg.Pipeline.VADEnergyThreshold),
		Recognizer:  ports.Recognizer,
		Generator:   ports.Generator,
		Synthesizer: ports.Synthesizer,
		Admission:   core.Admission,
		Estimator:   admission.NewEstimator(cfg.Admission.TokenEncoding),
		Filter:      core.Filter,
		Audit:       sink,
		Metrics:     collector,
	}, logger)
	if err != nil {
		return nil, err
	}

	core.Orchestrator, err = orchestrator.New(orchestrator.Config{
		HistoryLimit: cfg.Pipeline.HistoryLimit,
	}, orchestrator.Deps{
		Pipeline: pl,
		Policies: ports.Policies,
		Audit:    sink,
		Metrics:  collector,
	}, logger)
	if err != nil {
		return nil, err
	}

	return core, nil
}

// Close releases owned resources: flushes the audit stream and closes
// the Redis client if the core dialed it.
func (c *Core) Close(ctx context.Context) error {
	if c.streamSink != nil {
		c.streamSink.Close()
	}
	if c.ownsRedis && c.redis != nil {
		return c.redis.Close()
	}
	_ = ctx
	return nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
