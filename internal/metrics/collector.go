// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records the orchestration core's operational metrics.
// A nil *Collector is a no-op, so instrumented code never has to guard.
type Collector struct {
	stageLatency     *prometheus.HistogramVec
	sloBreaches      *prometheus.CounterVec
	turnsTotal       *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec
	admissionDenials *prometheus.CounterVec
	safetyBlocks     *prometheus.CounterVec
	interrupts       prometheus.Counter
	tokensConsumed   *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the collectors on reg. A nil reg uses the
// default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.stageLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Pipeline stage latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.15, 0.25, 0.5, 1, 2},
		},
		[]string{"stage"},
	)

	c.sloBreaches = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slo_breaches_total",
			Help:      "Total number of advisory stage latency budget breaches",
		},
		[]string{"stage"},
	)

	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of processed turns",
		},
		[]string{"outcome"},
	)

	c.stateTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of turn state machine transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.admissionDenials = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_denials_total",
			Help:      "Total number of admission denials",
		},
		[]string{"reason", "tier"},
	)

	c.safetyBlocks = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_blocks_total",
			Help:      "Total number of safety filter blocks",
		},
		[]string{"checker", "rule"},
	)

	c.interrupts = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Total number of caller barge-ins during playback",
		},
	)

	c.tokensConsumed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_consumed_total",
			Help:      "Total number of admitted tokens by tier",
		},
		[]string{"tier"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordStageLatency records one stage completion.
func (c *Collector) RecordStageLatency(stage string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.stageLatency.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordSLOBreach records an advisory latency budget breach.
func (c *Collector) RecordSLOBreach(stage string) {
	if c == nil {
		return
	}
	c.sloBreaches.WithLabelValues(stage).Inc()
}

// RecordTurn records a finished turn by outcome.
func (c *Collector) RecordTurn(outcome string) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(outcome).Inc()
}

// RecordStateTransition records one state machine transition.
func (c *Collector) RecordStateTransition(from, to string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordAdmissionDenial records a denied admission check.
func (c *Collector) RecordAdmissionDenial(reason, tier string) {
	if c == nil {
		return
	}
	c.admissionDenials.WithLabelValues(reason, tier).Inc()
}

// RecordSafetyBlock records a safety filter block.
func (c *Collector) RecordSafetyBlock(checker, rule string) {
	if c == nil {
		return
	}
	c.safetyBlocks.WithLabelValues(checker, rule).Inc()
}

// RecordInterrupt records a caller barge-in.
func (c *Collector) RecordInterrupt() {
	if c == nil {
		return
	}
	c.interrupts.Inc()
}

// RecordTokens records admitted token consumption.
func (c *Collector) RecordTokens(tier string, tokens int64) {
	if c == nil {
		return
	}
	c.tokensConsumed.WithLabelValues(tier).Add(float64(tokens))
}
