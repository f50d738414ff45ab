package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/pipeline"
	"github.com/BaSui01/voiceflow/turn"
	"github.com/BaSui01/voiceflow/types"
)

// sessionInterrupt merges the two barge-in sources: speech energy on
// inbound frames during playback, and an explicit trigger from the
// transport. Sticky until the next turn resets it.
type sessionInterrupt struct {
	vad    *pipeline.VADInterrupt
	manual atomic.Bool
}

func (i *sessionInterrupt) Interrupted() bool {
	return i.manual.Load() || i.vad.Interrupted()
}

func (i *sessionInterrupt) reset() {
	i.manual.Store(false)
	i.vad.Reset()
}

// Session is one call: a dedicated state machine, conversation history
// and interrupt signal. Turns are processed strictly in arrival order;
// an interrupt cancels only the in-flight turn, never the session.
type Session struct {
	ID       string
	tenantID string
	tier     types.TenantTier

	orch      *Orchestrator
	machine   *turn.Machine
	interrupt *sessionInterrupt

	// turnMu serializes turns; held for the whole life of a turn.
	turnMu sync.Mutex

	mu          sync.Mutex
	history     []string
	currentTurn string
	closed      bool
}

// NewSession opens a session for a tenant and starts the call: the
// machine moves Idle→Listening.
func (o *Orchestrator) NewSession(tenantID string, tier types.TenantTier) (*Session, error) {
	if !tier.Valid() {
		return nil, types.NewError(types.ErrConfigInvalid, "unknown tenant tier "+string(tier))
	}

	s := &Session{
		ID:        uuid.NewString(),
		tenantID:  tenantID,
		tier:      tier,
		orch:      o,
		interrupt: &sessionInterrupt{vad: pipeline.NewVADInterrupt(nil)},
	}
	s.machine = turn.NewMachine(
		turn.WithLogger(o.logger.With(zap.String("session_id", s.ID))),
		turn.WithHook(func(from turn.State, event turn.Event, to turn.State) {
			o.deps.Metrics.RecordStateTransition(string(from), string(to))
			o.appendAudit(context.Background(), o.transitionEntry(
				tenantID, s.turnID(), string(from), string(event), string(to)))
		}),
	)

	if _, err := s.machine.Transition(turn.EventStartCall); err != nil {
		return nil, err
	}
	o.logger.Info("session opened",
		zap.String("session_id", s.ID),
		zap.String("tenant_id", tenantID),
		zap.String("tier", string(tier)))
	return s, nil
}

// State returns the session's current turn state.
func (s *Session) State() turn.State {
	return s.machine.State()
}

// History returns a copy of the conversation context.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

// Verify replays the session's transition history from Idle and reports
// any divergence. Audit tooling calls this; a divergence must reach an
// operator.
func (s *Session) Verify() error {
	return turn.Replay(s.machine.History())
}

// Interrupt trips the barge-in signal for the in-flight turn.
func (s *Session) Interrupt() {
	s.interrupt.manual.Store(true)
}

// FeedPlayback observes one inbound frame while a response is playing;
// speech energy in it interrupts the in-flight turn.
func (s *Session) FeedPlayback(frame types.AudioFrame) {
	s.interrupt.vad.Feed(frame)
}

// Close marks the session unusable for further turns.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Handle acknowledges an escalation and reopens the session for turns:
// Escalating→Idle→Listening. Fails if the session is not escalating.
func (s *Session) Handle() error {
	if _, err := s.machine.Transition(turn.EventHandled); err != nil {
		return err
	}
	_, err := s.machine.Transition(turn.EventStartCall)
	return err
}

// ProcessTurn runs one turn over the frame stream. It blocks until
// earlier turns of the session finish, then returns the chunk stream.
// The returned channel closes only after the turn has fully settled, so
// observing the close means the session state is final for this turn.
func (s *Session) ProcessTurn(ctx context.Context, frames <-chan types.AudioFrame) (<-chan types.AudioChunk, error) {
	s.turnMu.Lock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.turnMu.Unlock()
		return nil, types.NewError(types.ErrSessionClosed, "session is closed")
	}
	if state := s.machine.State(); state != turn.StateListening {
		s.turnMu.Unlock()
		return nil, types.NewError(types.ErrInvalidTransition,
			"session cannot accept a turn in state "+string(state))
	}

	t := types.NewTurn(s.tenantID, s.tier)
	s.setTurnID(t.ID)
	s.interrupt.reset()

	ctx, cancel := context.WithCancel(ctx)
	ctx, span := s.orch.startSpan(ctx, t)

	chunks, events := s.orch.deps.Pipeline.Run(ctx, pipeline.Request{
		Turn:       t,
		Frames:     frames,
		Policy:     s.orch.policyFor(s.tenantID),
		History:    s.History(),
		Interrupts: s.interrupt,
	})

	out := make(chan types.AudioChunk, 8)
	go func() {
		defer s.turnMu.Unlock()
		defer cancel()
		defer span.End()
		defer close(out)
		s.drive(ctx, t, chunks, events, out)
	}()
	return out, nil
}

// drive forwards chunks and converts pipeline events into machine
// transitions until both streams end.
func (s *Session) drive(ctx context.Context, t *types.Turn, chunks <-chan types.AudioChunk, events <-chan pipeline.Event, out chan<- types.AudioChunk) {
	var transcript, response string
	outcome := "incomplete"

	for chunks != nil || events != nil {
		select {
		case chunk, open := <-chunks:
			if !open {
				chunks = nil
				continue
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				chunks = nil
			}
		case event, open := <-events:
			if !open {
				events = nil
				continue
			}
			switch event.Kind {
			case pipeline.EventSpeechDetected:
				s.transition(turn.EventSpeechDetected)
			case pipeline.EventTranscript:
				transcript = event.Transcript
			case pipeline.EventResponseReady:
				response = event.Response
				s.transition(turn.EventResponseReady)
			case pipeline.EventSafetyBlocked, pipeline.EventOutputRejected:
				s.transition(turn.EventError)
				outcome = "safety_blocked"
			case pipeline.EventBudgetDenied:
				s.transition(turn.EventError)
				outcome = "budget_denied"
			case pipeline.EventUpstreamFailed:
				s.transition(turn.EventError)
				outcome = "upstream_failed"
			case pipeline.EventInterrupted:
				// Close out the cycle so the next turn starts from
				// Listening.
				if s.machine.State() == turn.StateProcessing {
					s.transition(turn.EventResponseReady)
				}
				s.transition(turn.EventDone)
				outcome = "interrupted"
			case pipeline.EventCompleted:
				s.transition(turn.EventDone)
				outcome = "completed"
			case pipeline.EventNoSpeech:
				outcome = "no_speech"
			}
		}
	}

	if outcome == "completed" {
		s.appendHistory("caller: "+transcript, "agent: "+response)
	}
	s.orch.deps.Metrics.RecordTurn(outcome)
	s.orch.logger.Info("turn finished",
		zap.String("session_id", s.ID),
		zap.String("turn_id", t.ID),
		zap.String("outcome", outcome),
		zap.Duration("elapsed", t.TotalElapsed()),
		zap.String("state", string(s.machine.State())))
}

func (s *Session) transition(event turn.Event) {
	if _, err := s.machine.Transition(event); err != nil {
		s.orch.logger.Warn("transition rejected",
			zap.String("session_id", s.ID),
			zap.String("event", string(event)),
			zap.Error(err))
	}
}

func (s *Session) appendHistory(entries ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entries...)
	if limit := s.orch.config.HistoryLimit; len(s.history) > limit {
		s.history = append([]string(nil), s.history[len(s.history)-limit:]...)
	}
}

func (s *Session) setTurnID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTurn = id
}

func (s *Session) turnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTurn
}
