package types

import (
	"time"

	"github.com/google/uuid"
)

// TenantTier is the coarse billing tier of a tenant.
type TenantTier string

const (
	TierStarter    TenantTier = "starter"
	TierBusiness   TenantTier = "business"
	TierEnterprise TenantTier = "enterprise"
)

// Valid reports whether the tier is one of the known tiers.
func (t TenantTier) Valid() bool {
	switch t {
	case TierStarter, TierBusiness, TierEnterprise:
		return true
	}
	return false
}

// AudioFrame is one inbound audio frame from the caller.
// Samples are 16 kHz mono PCM16 unless the surrounding transport says
// otherwise; the core never decodes them, it only forwards bytes.
type AudioFrame struct {
	Data      []byte    `json:"data"`
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioChunk is one outbound synthesized audio chunk.
type AudioChunk struct {
	Data      []byte    `json:"data"`
	Seq       int       `json:"seq"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}

// StageKind identifies a pipeline stage.
type StageKind string

const (
	StageVAD           StageKind = "vad"
	StageASR           StageKind = "asr"
	StageOrchestration StageKind = "orchestration"
	StageLLM           StageKind = "llm"
	StageTTS           StageKind = "tts"
)

// StageResult is the output of one pipeline stage. It is immutable once
// produced; ownership passes from the producing stage to the single
// downstream consumer.
type StageResult struct {
	Stage    StageKind     `json:"stage"`
	Text     string        `json:"text,omitempty"`
	Audio    []byte        `json:"audio,omitempty"`
	Speech   bool          `json:"speech,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	Produced time.Time     `json:"produced"`
}

// Turn is one listening→processing→responding cycle within a call session.
// A Turn owns its ordered, append-only stage results; only the state
// machine mutates its state.
type Turn struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenant_id"`
	Tier        TenantTier    `json:"tier"`
	StartedAt   time.Time     `json:"started_at"`
	Stages      []StageResult `json:"stages"`
	Interrupted bool          `json:"interrupted"`
}

// NewTurn creates a Turn for the given tenant. Turns are created when
// voice activity is first detected.
func NewTurn(tenantID string, tier TenantTier) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Tier:      tier,
		StartedAt: time.Now(),
	}
}

// AppendStage records a completed stage result. Results are ordered by
// append time and never rewritten.
func (t *Turn) AppendStage(r StageResult) {
	t.Stages = append(t.Stages, r)
}

// LastStage returns the most recent stage result, if any.
func (t *Turn) LastStage() (StageResult, bool) {
	if len(t.Stages) == 0 {
		return StageResult{}, false
	}
	return t.Stages[len(t.Stages)-1], true
}

// TotalElapsed sums the recorded elapsed time of every stage.
func (t *Turn) TotalElapsed() time.Duration {
	var total time.Duration
	for _, s := range t.Stages {
		total += s.Elapsed
	}
	return total
}
