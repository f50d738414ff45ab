package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/audit"
	"github.com/BaSui01/voiceflow/internal/metrics"
	"github.com/BaSui01/voiceflow/pipeline"
	"github.com/BaSui01/voiceflow/types"
)

const tracerName = "github.com/BaSui01/voiceflow/orchestrator"

// DefaultHistoryLimit caps the conversation context fed to generation.
const DefaultHistoryLimit = 8

// Config configures an Orchestrator.
type Config struct {
	// HistoryLimit is the number of recent exchanges kept per session.
	HistoryLimit int
}

// Deps are the orchestrator's collaborators. Pipeline is required.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Policies types.PolicyProvider
	Audit    audit.Sink
	Metrics  *metrics.Collector
}

// Orchestrator creates sessions and drives turns through the pipeline.
type Orchestrator struct {
	config Config
	deps   Deps
	logger *zap.Logger
	tracer trace.Tracer
}

// New validates the wiring and creates an Orchestrator. Configuration
// problems surface here, before any turn is accepted.
func New(config Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Pipeline == nil {
		return nil, types.NewError(types.ErrConfigInvalid, "orchestrator requires a pipeline")
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		config: config,
		deps:   deps,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// ProcessTurn runs a single turn for a tenant without session reuse: it
// opens a one-shot session, processes the frame stream and returns the
// chunk stream. Callers holding a conversation should use NewSession.
func (o *Orchestrator) ProcessTurn(ctx context.Context, frames <-chan types.AudioFrame, tenantID string, tier types.TenantTier) (<-chan types.AudioChunk, error) {
	session, err := o.NewSession(tenantID, tier)
	if err != nil {
		return nil, err
	}
	return session.ProcessTurn(ctx, frames)
}

func (o *Orchestrator) policyFor(tenantID string) *types.PolicyContext {
	if o.deps.Policies == nil {
		return &types.PolicyContext{TenantID: tenantID}
	}
	policy, err := o.deps.Policies.GetPolicy(tenantID)
	if err != nil || policy == nil {
		o.logger.Warn("policy lookup failed, using empty policy",
			zap.String("tenant_id", tenantID), zap.Error(err))
		return &types.PolicyContext{TenantID: tenantID}
	}
	return policy
}

func (o *Orchestrator) appendAudit(ctx context.Context, entry *audit.Entry) {
	if o.deps.Audit != nil {
		o.deps.Audit.Append(ctx, entry)
	}
}

func (o *Orchestrator) startSpan(ctx context.Context, t *types.Turn) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "orchestrator.process_turn",
		trace.WithAttributes(
			attribute.String("turn.id", t.ID),
			attribute.String("tenant.id", t.TenantID),
			attribute.String("tenant.tier", string(t.Tier)),
		))
}

func (o *Orchestrator) transitionEntry(tenantID, turnID, from, event, to string) *audit.Entry {
	return &audit.Entry{
		Timestamp: time.Now(),
		EventType: audit.EventTransition,
		TenantID:  tenantID,
		TurnID:    turnID,
		Detail:    map[string]any{"from": from, "event": event, "to": to},
	}
}
