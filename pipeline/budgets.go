package pipeline

import (
	"time"

	"github.com/BaSui01/voiceflow/types"
)

// Default per-stage latency budgets. All advisory.
const (
	DefaultVADBudget           = 30 * time.Millisecond
	DefaultASRBudget           = 100 * time.Millisecond
	DefaultOrchestrationBudget = 40 * time.Millisecond
	DefaultLLMBudget           = 180 * time.Millisecond
	DefaultTTSBudget           = 90 * time.Millisecond

	// DefaultCombinedVADASRBudget bounds the elapsed time from frame
	// arrival to transcript availability.
	DefaultCombinedVADASRBudget = 150 * time.Millisecond
)

// StageBudgets holds the per-stage latency ceilings. Exceeding one is an
// SLO breach event, never an abort.
type StageBudgets struct {
	VAD           time.Duration `json:"vad"`
	ASR           time.Duration `json:"asr"`
	Orchestration time.Duration `json:"orchestration"`
	LLM           time.Duration `json:"llm"`
	TTS           time.Duration `json:"tts"`

	// CombinedVADASR bounds frame arrival → transcript.
	CombinedVADASR time.Duration `json:"combined_vad_asr"`
}

// DefaultStageBudgets returns the default budgets.
func DefaultStageBudgets() StageBudgets {
	return StageBudgets{
		VAD:            DefaultVADBudget,
		ASR:            DefaultASRBudget,
		Orchestration:  DefaultOrchestrationBudget,
		LLM:            DefaultLLMBudget,
		TTS:            DefaultTTSBudget,
		CombinedVADASR: DefaultCombinedVADASRBudget,
	}
}

// StageBudgetsFromMillis builds budgets from a millisecond map, filling
// missing or non-positive stages with defaults.
func StageBudgetsFromMillis(ms map[string]int) StageBudgets {
	b := DefaultStageBudgets()
	set := func(dst *time.Duration, key string) {
		if v, ok := ms[key]; ok && v > 0 {
			*dst = time.Duration(v) * time.Millisecond
		}
	}
	set(&b.VAD, "vad")
	set(&b.ASR, "asr")
	set(&b.Orchestration, "orchestration")
	set(&b.LLM, "llm")
	set(&b.TTS, "tts")
	set(&b.CombinedVADASR, "combined_vad_asr")
	return b
}

// For returns the budget for a stage.
func (b StageBudgets) For(stage types.StageKind) time.Duration {
	switch stage {
	case types.StageVAD:
		return b.VAD
	case types.StageASR:
		return b.ASR
	case types.StageOrchestration:
		return b.Orchestration
	case types.StageLLM:
		return b.LLM
	case types.StageTTS:
		return b.TTS
	}
	return 0
}

// Sum returns the whole-turn latency target.
func (b StageBudgets) Sum() time.Duration {
	return b.VAD + b.ASR + b.Orchestration + b.LLM + b.TTS
}
