package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/admission"
	"github.com/BaSui01/voiceflow/audit"
	"github.com/BaSui01/voiceflow/internal/metrics"
	"github.com/BaSui01/voiceflow/safety"
	"github.com/BaSui01/voiceflow/types"
)

// EventKind identifies a pipeline event.
type EventKind string

const (
	EventSpeechDetected EventKind = "speech_detected"
	EventNoSpeech       EventKind = "no_speech"
	EventTranscript     EventKind = "transcript"
	EventSafetyBlocked  EventKind = "safety_blocked"
	EventBudgetDenied   EventKind = "budget_denied"
	EventOutputRejected EventKind = "output_rejected"
	EventResponseReady  EventKind = "response_ready"
	EventSLOBreach      EventKind = "slo_breach"
	EventInterrupted    EventKind = "interrupted"
	EventUpstreamFailed EventKind = "upstream_failed"
	EventCompleted      EventKind = "completed"
)

// Event is one stage completion or termination signal. The orchestrator
// consumes these to drive the turn state machine.
type Event struct {
	Kind       EventKind
	Stage      types.StageKind
	Transcript string
	Response   string
	Verdict    *safety.Verdict
	Denial     admission.DenialReason
	Err        error
}

// DefaultInterruptPollInterval is how often the interrupt signal is
// checked while waiting on a synthesis chunk.
const DefaultInterruptPollInterval = 20 * time.Millisecond

// DefaultRetryBackoff is the pause before the single upstream retry.
const DefaultRetryBackoff = 50 * time.Millisecond

// Config configures a Pipeline.
type Config struct {
	Budgets               StageBudgets
	InterruptPollInterval time.Duration
	RetryBackoff          time.Duration
}

// DefaultPipelineConfig returns the default pipeline configuration.
func DefaultPipelineConfig() Config {
	return Config{
		Budgets:               DefaultStageBudgets(),
		InterruptPollInterval: DefaultInterruptPollInterval,
		RetryBackoff:          DefaultRetryBackoff,
	}
}

// Deps are the pipeline's collaborators. Recognizer, Generator,
// Synthesizer, Admission and Filter are required.
type Deps struct {
	VAD         VAD
	Recognizer  Recognizer
	Generator   Generator
	Synthesizer Synthesizer
	Admission   *admission.Controller
	Estimator   *admission.Estimator
	Filter      *safety.Filter
	Audit       audit.Sink
	Metrics     *metrics.Collector
}

// Pipeline runs one turn at a time through the five stages.
type Pipeline struct {
	config Config
	deps   Deps
	logger *zap.Logger
}

// New creates a Pipeline.
func New(config Config, deps Deps, logger *zap.Logger) (*Pipeline, error) {
	if deps.Recognizer == nil || deps.Generator == nil || deps.Synthesizer == nil {
		return nil, types.NewError(types.ErrConfigInvalid, "pipeline requires recognizer, generator and synthesizer")
	}
	if deps.Admission == nil || deps.Filter == nil {
		return nil, types.NewError(types.ErrConfigInvalid, "pipeline requires admission controller and safety filter")
	}
	if deps.VAD == nil {
		deps.VAD = NewEnergyVAD(0)
	}
	if deps.Estimator == nil {
		deps.Estimator = admission.NewEstimator("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Budgets == (StageBudgets{}) {
		config.Budgets = DefaultStageBudgets()
	}
	if config.InterruptPollInterval <= 0 {
		config.InterruptPollInterval = DefaultInterruptPollInterval
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}
	return &Pipeline{config: config, deps: deps, logger: logger}, nil
}

// Request is one turn's input.
type Request struct {
	Turn   *types.Turn
	Frames <-chan types.AudioFrame
	Policy *types.PolicyContext
	// History holds the session's recent final transcripts, oldest first.
	History []string
	// Interrupts is polled between emitted chunks; nil never interrupts.
	Interrupts InterruptSource
}

// Run processes one turn. Both returned channels are closed when the
// turn terminates (completion, interrupt, denial, block or failure); the
// run is not restartable.
func (p *Pipeline) Run(ctx context.Context, req Request) (<-chan types.AudioChunk, <-chan Event) {
	chunks := make(chan types.AudioChunk, 8)
	events := make(chan Event, 16)
	go p.run(ctx, req, chunks, events)
	return chunks, events
}

func (p *Pipeline) run(ctx context.Context, req Request, chunks chan<- types.AudioChunk, events chan<- Event) {
	defer close(chunks)
	defer close(events)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Stage 1: voice-activity detection. Silence costs nothing downstream.
	speech, firstSpeechAt, ok := p.detectSpeech(ctx, req, events)
	if !ok {
		return
	}

	// Stage 2: partial recognition.
	transcript, ok := p.recognize(ctx, req, speech, firstSpeechAt, events)
	if !ok {
		return
	}

	// Stage 3: admission and safety gate.
	modelTier, ok := p.gate(ctx, req, transcript, events)
	if !ok {
		return
	}

	// Stage 4: response generation.
	response, confidence, ok := p.generate(ctx, req, transcript, modelTier, events)
	if !ok {
		return
	}

	// Output validation runs before response_ready so a reject can still
	// take the error path out of Processing.
	if v := p.deps.Filter.ValidateOutput(ctx, response, confidence, req.Policy); !v.Allowed {
		p.deps.Metrics.RecordSafetyBlock(v.Checker, v.Rule)
		p.appendAudit(ctx, &audit.Entry{
			Timestamp:   time.Now(),
			EventType:   audit.EventOutputRejected,
			TenantID:    req.Turn.TenantID,
			TurnID:      req.Turn.ID,
			Rule:        v.Rule,
			ContentHash: audit.HashContent(response),
		})
		p.emit(ctx, events, Event{Kind: EventOutputRejected, Stage: types.StageLLM, Verdict: v})
		return
	}

	// Stage 5: synthesis, chunk by chunk, interrupt polled between chunks.
	// response_ready is emitted in there once synthesis is live, so a dead
	// synthesizer still takes the error path out of Processing.
	if !p.synthesize(ctx, req, response, chunks, events) {
		return
	}

	if total := req.Turn.TotalElapsed(); total > p.config.Budgets.Sum() {
		p.sloBreach(ctx, req.Turn, "turn", total, p.config.Budgets.Sum(), events)
	}
	p.emit(ctx, events, Event{Kind: EventCompleted, Transcript: transcript, Response: response})
}

// detectSpeech consumes frames until the utterance ends: it accumulates
// speech frames and stops at the first silence frame after speech, or
// when the frame stream closes.
func (p *Pipeline) detectSpeech(ctx context.Context, req Request, events chan<- Event) ([]types.AudioFrame, time.Time, bool) {
	var (
		speech       []types.AudioFrame
		firstSpeech  time.Time
		vadElapsed   time.Duration
		speechActive bool
	)

	for {
		select {
		case <-ctx.Done():
			return nil, time.Time{}, false
		case frame, open := <-req.Frames:
			if !open {
				if !speechActive {
					req.Turn.AppendStage(types.StageResult{
						Stage:    types.StageVAD,
						Elapsed:  vadElapsed,
						Produced: time.Now(),
					})
					p.emit(ctx, events, Event{Kind: EventNoSpeech, Stage: types.StageVAD})
					return nil, time.Time{}, false
				}
				return p.finishVAD(ctx, req, speech, firstSpeech, vadElapsed, events)
			}

			start := time.Now()
			isSpeech := p.deps.VAD.Detect(frame)
			vadElapsed += time.Since(start)

			if isSpeech {
				if !speechActive {
					speechActive = true
					firstSpeech = frame.Timestamp
					if firstSpeech.IsZero() {
						firstSpeech = time.Now()
					}
					p.emit(ctx, events, Event{Kind: EventSpeechDetected, Stage: types.StageVAD})
				}
				speech = append(speech, frame)
				continue
			}
			if speechActive {
				// Silence after speech ends the utterance.
				return p.finishVAD(ctx, req, speech, firstSpeech, vadElapsed, events)
			}
		}
	}
}

func (p *Pipeline) finishVAD(ctx context.Context, req Request, speech []types.AudioFrame, firstSpeech time.Time, elapsed time.Duration, events chan<- Event) ([]types.AudioFrame, time.Time, bool) {
	req.Turn.AppendStage(types.StageResult{
		Stage:    types.StageVAD,
		Speech:   true,
		Elapsed:  elapsed,
		Produced: time.Now(),
	})
	p.deps.Metrics.RecordStageLatency(string(types.StageVAD), elapsed)
	if elapsed > p.config.Budgets.VAD {
		p.sloBreach(ctx, req.Turn, string(types.StageVAD), elapsed, p.config.Budgets.VAD, events)
	}
	return speech, firstSpeech, true
}

func (p *Pipeline) recognize(ctx context.Context, req Request, speech []types.AudioFrame, firstSpeechAt time.Time, events chan<- Event) (string, bool) {
	start := time.Now()
	var transcript string
	err := p.retryOnce(ctx, func() error {
		var terr error
		transcript, terr = p.deps.Recognizer.TranscribePartial(ctx, speech)
		return terr
	})
	elapsed := time.Since(start)

	if err != nil {
		p.upstreamFailure(ctx, req.Turn, types.StageASR, err, events)
		return "", false
	}

	req.Turn.AppendStage(types.StageResult{
		Stage:    types.StageASR,
		Text:     transcript,
		Elapsed:  elapsed,
		Produced: time.Now(),
	})
	p.deps.Metrics.RecordStageLatency(string(types.StageASR), elapsed)
	if elapsed > p.config.Budgets.ASR {
		p.sloBreach(ctx, req.Turn, string(types.StageASR), elapsed, p.config.Budgets.ASR, events)
	}
	if sinceArrival := time.Since(firstSpeechAt); sinceArrival > p.config.Budgets.CombinedVADASR {
		p.sloBreach(ctx, req.Turn, "vad_asr", sinceArrival, p.config.Budgets.CombinedVADASR, events)
	}

	p.emit(ctx, events, Event{Kind: EventTranscript, Stage: types.StageASR, Transcript: transcript})
	return transcript, true
}

// gate screens the transcript and admits its token cost before any
// generation work is scheduled.
func (p *Pipeline) gate(ctx context.Context, req Request, transcript string, events chan<- Event) (admission.ModelTier, bool) {
	start := time.Now()
	t := req.Turn

	if v := p.deps.Filter.ScreenInput(ctx, transcript, req.Policy); !v.Allowed {
		p.deps.Metrics.RecordSafetyBlock(v.Checker, v.Rule)
		p.appendAudit(ctx, &audit.Entry{
			Timestamp:   time.Now(),
			EventType:   audit.EventSafetyBlocked,
			TenantID:    t.TenantID,
			TurnID:      t.ID,
			Rule:        v.Rule,
			ContentHash: audit.HashContent(transcript),
		})
		p.emit(ctx, events, Event{Kind: EventSafetyBlocked, Stage: types.StageOrchestration, Verdict: v})
		return "", false
	}

	tokens := p.deps.Estimator.EstimateTokens(transcript)
	allowed, reason, err := p.deps.Admission.TryConsume(ctx, t.TenantID, t.Tier, tokens)
	if err != nil {
		p.upstreamFailure(ctx, t, types.StageOrchestration, err, events)
		return "", false
	}
	if !allowed {
		if reason == admission.DenialBudgetExceeded {
			if kerr := p.deps.Admission.KillSwitch(ctx, t.TenantID); kerr != nil {
				p.logger.Error("kill switch activation failed",
					zap.String("tenant_id", t.TenantID), zap.Error(kerr))
			}
		}
		p.deps.Metrics.RecordAdmissionDenial(string(reason), string(t.Tier))
		p.appendAudit(ctx, &audit.Entry{
			Timestamp: time.Now(),
			EventType: audit.EventBudgetDenied,
			TenantID:  t.TenantID,
			TurnID:    t.ID,
			Detail:    map[string]any{"reason": string(reason), "tokens": tokens},
		})
		p.emit(ctx, events, Event{Kind: EventBudgetDenied, Stage: types.StageOrchestration, Denial: reason})
		return "", false
	}
	p.deps.Metrics.RecordTokens(string(t.Tier), int64(tokens))

	modelTier := p.deps.Admission.SelectModelTier(float64(tokens))

	elapsed := time.Since(start)
	t.AppendStage(types.StageResult{
		Stage:    types.StageOrchestration,
		Elapsed:  elapsed,
		Produced: time.Now(),
	})
	p.deps.Metrics.RecordStageLatency(string(types.StageOrchestration), elapsed)
	if elapsed > p.config.Budgets.Orchestration {
		p.sloBreach(ctx, t, string(types.StageOrchestration), elapsed, p.config.Budgets.Orchestration, events)
	}
	return modelTier, true
}

func (p *Pipeline) generate(ctx context.Context, req Request, transcript string, modelTier admission.ModelTier, events chan<- Event) (string, float64, bool) {
	start := time.Now()

	var tokenCh <-chan Token
	err := p.retryOnce(ctx, func() error {
		var gerr error
		tokenCh, gerr = p.deps.Generator.Generate(ctx, GenerateRequest{
			Transcript: transcript,
			History:    req.History,
			ModelTier:  modelTier,
		})
		return gerr
	})
	if err != nil {
		p.upstreamFailure(ctx, req.Turn, types.StageLLM, err, events)
		return "", 0, false
	}

	var sb strings.Builder
	confidence := 1.0
	for {
		select {
		case <-ctx.Done():
			return "", 0, false
		case token, open := <-tokenCh:
			if !open {
				goto done
			}
			if token.Err != nil {
				p.upstreamFailure(ctx, req.Turn, types.StageLLM, token.Err, events)
				return "", 0, false
			}
			sb.WriteString(token.Text)
			if token.Confidence > 0 && token.Confidence < confidence {
				confidence = token.Confidence
			}
			if p.interrupted(req) {
				p.recordInterrupt(ctx, req.Turn, events)
				return "", 0, false
			}
		}
	}

done:
	response := sb.String()
	elapsed := time.Since(start)
	req.Turn.AppendStage(types.StageResult{
		Stage:    types.StageLLM,
		Text:     response,
		Elapsed:  elapsed,
		Produced: time.Now(),
	})
	p.deps.Metrics.RecordStageLatency(string(types.StageLLM), elapsed)
	if elapsed > p.config.Budgets.LLM {
		p.sloBreach(ctx, req.Turn, string(types.StageLLM), elapsed, p.config.Budgets.LLM, events)
	}
	return response, confidence, true
}

func (p *Pipeline) synthesize(ctx context.Context, req Request, response string, chunks chan<- types.AudioChunk, events chan<- Event) bool {
	start := time.Now()

	var chunkCh <-chan types.AudioChunk
	err := p.retryOnce(ctx, func() error {
		var serr error
		chunkCh, serr = p.deps.Synthesizer.Synthesize(ctx, response)
		return serr
	})
	if err != nil {
		p.upstreamFailure(ctx, req.Turn, types.StageTTS, err, events)
		return false
	}

	p.emit(ctx, events, Event{Kind: EventResponseReady, Response: response})

	ticker := time.NewTicker(p.config.InterruptPollInterval)
	defer ticker.Stop()

	var audioBytes int
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if p.interrupted(req) {
				p.recordInterrupt(ctx, req.Turn, events)
				return false
			}
		case chunk, open := <-chunkCh:
			if !open {
				elapsed := time.Since(start)
				req.Turn.AppendStage(types.StageResult{
					Stage:    types.StageTTS,
					Elapsed:  elapsed,
					Produced: time.Now(),
				})
				p.deps.Metrics.RecordStageLatency(string(types.StageTTS), elapsed)
				if elapsed > p.config.Budgets.TTS {
					p.sloBreach(ctx, req.Turn, string(types.StageTTS), elapsed, p.config.Budgets.TTS, events)
				}
				p.logger.Debug("synthesis complete",
					zap.String("turn_id", req.Turn.ID),
					zap.Int("audio_bytes", audioBytes))
				return true
			}
			if p.interrupted(req) {
				p.recordInterrupt(ctx, req.Turn, events)
				return false
			}
			audioBytes += len(chunk.Data)
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return false
			}
		}
	}
}

func (p *Pipeline) interrupted(req Request) bool {
	return req.Interrupts != nil && req.Interrupts.Interrupted()
}

func (p *Pipeline) recordInterrupt(ctx context.Context, t *types.Turn, events chan<- Event) {
	t.Interrupted = true
	p.deps.Metrics.RecordInterrupt()
	p.appendAudit(ctx, &audit.Entry{
		Timestamp: time.Now(),
		EventType: audit.EventInterrupt,
		TenantID:  t.TenantID,
		TurnID:    t.ID,
	})
	p.logger.Info("turn interrupted", zap.String("turn_id", t.ID))
	p.emit(ctx, events, Event{Kind: EventInterrupted})
}

func (p *Pipeline) upstreamFailure(ctx context.Context, t *types.Turn, stage types.StageKind, err error, events chan<- Event) {
	werr := types.NewUpstreamFailureError(string(stage), err)
	p.logger.Error("upstream stage failed",
		zap.String("turn_id", t.ID),
		zap.String("stage", string(stage)),
		zap.Error(err))
	p.emit(ctx, events, Event{Kind: EventUpstreamFailed, Stage: stage, Err: werr})
}

func (p *Pipeline) sloBreach(ctx context.Context, t *types.Turn, stage string, elapsed, budget time.Duration, events chan<- Event) {
	p.deps.Metrics.RecordSLOBreach(stage)
	p.logger.Warn("latency budget breached",
		zap.String("turn_id", t.ID),
		zap.String("stage", stage),
		zap.Duration("elapsed", elapsed),
		zap.Duration("budget", budget))
	p.appendAudit(ctx, &audit.Entry{
		Timestamp: time.Now(),
		EventType: audit.EventSLOBreach,
		TenantID:  t.TenantID,
		TurnID:    t.ID,
		Detail: map[string]any{
			"stage":      stage,
			"elapsed_ms": elapsed.Milliseconds(),
			"budget_ms":  budget.Milliseconds(),
		},
	})
	p.emit(ctx, events, Event{Kind: EventSLOBreach})
}

func (p *Pipeline) appendAudit(ctx context.Context, entry *audit.Entry) {
	if p.deps.Audit != nil {
		p.deps.Audit.Append(ctx, entry)
	}
}

func (p *Pipeline) emit(ctx context.Context, events chan<- Event, e Event) {
	select {
	case events <- e:
	case <-ctx.Done():
	}
}

// retryOnce runs fn, and on failure retries exactly once after a short
// backoff.
func (p *Pipeline) retryOnce(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return err
	case <-time.After(p.config.RetryBackoff):
	}
	return fn()
}
