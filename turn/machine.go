package turn

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/types"
)

// State is one of the five turn lifecycle states.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateResponding State = "responding"
	StateEscalating State = "escalating"
)

// Event drives a state transition.
type Event string

const (
	EventStartCall      Event = "start_call"
	EventSpeechDetected Event = "speech_detected"
	EventResponseReady  Event = "response_ready"
	EventError          Event = "error"
	EventDone           Event = "done"
	EventHandled        Event = "handled"
)

// transitions is the fixed transition table. It is total only for valid
// (state, event) pairs; everything else is an invalid transition.
var transitions = map[State]map[Event]State{
	StateIdle:       {EventStartCall: StateListening},
	StateListening:  {EventSpeechDetected: StateProcessing},
	StateProcessing: {EventResponseReady: StateResponding, EventError: StateEscalating},
	StateResponding: {EventDone: StateListening},
	StateEscalating: {EventHandled: StateIdle},
}

// CanTransition reports whether event is valid in the given state.
func CanTransition(from State, event Event) bool {
	_, ok := transitions[from][event]
	return ok
}

// Next returns the tabulated next state for a valid (state, event) pair.
func Next(from State, event Event) (State, bool) {
	next, ok := transitions[from][event]
	return next, ok
}

// HistoryEntry records one accepted transition.
type HistoryEntry struct {
	Event     Event     `json:"event"`
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultHistoryTTL is how long history entries are kept before an
// explicit Prune call may drop them.
const DefaultHistoryTTL = time.Hour

// TransitionHook observes accepted transitions. Used to feed metrics and
// the audit sink without coupling the machine to either.
type TransitionHook func(from State, event Event, to State)

// Machine is the per-session turn state machine. All methods are safe for
// concurrent use, though a machine is intended to serve a single call.
type Machine struct {
	mu      sync.RWMutex
	state   State
	history []HistoryEntry
	hooks   []TransitionHook
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the machine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

// WithHook registers a transition observer.
func WithHook(h TransitionHook) Option {
	return func(m *Machine) { m.hooks = append(m.hooks, h) }
}

// WithClock overrides the time source. Tests use this to make history
// timestamps deterministic.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a Machine in the Idle state.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		state:  StateIdle,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition applies event to the current state. On a valid pair it
// advances the state, appends to history and returns the new state. On an
// invalid pair the state is unchanged and an INVALID_TRANSITION error is
// returned; the caller decides how to surface it.
func (m *Machine) Transition(event Event) (State, error) {
	m.mu.Lock()
	from := m.state
	next, ok := transitions[from][event]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("invalid transition",
			zap.String("state", string(from)),
			zap.String("event", string(event)))
		return from, types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("event %q not valid in state %q", event, from))
	}

	m.state = next
	m.history = append(m.history, HistoryEntry{
		Event:     event,
		State:     next,
		Timestamp: m.now(),
	})
	hooks := m.hooks
	m.mu.Unlock()

	m.logger.Debug("transition accepted",
		zap.String("from", string(from)),
		zap.String("event", string(event)),
		zap.String("to", string(next)))

	for _, h := range hooks {
		h(from, event, next)
	}
	return next, nil
}

// History returns a copy of the accepted-transition history.
func (m *Machine) History() []HistoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// Prune drops history entries older than ttl. It is an explicit
// maintenance call and is never invoked inside Transition. A non-positive
// ttl falls back to DefaultHistoryTTL. Returns the number of entries
// removed.
func (m *Machine) Prune(ttl time.Duration) int {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	cutoff := m.now().Add(-ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	keep := 0
	for keep < len(m.history) && m.history[keep].Timestamp.Before(cutoff) {
		keep++
	}
	if keep == 0 {
		return 0
	}
	removed := keep
	m.history = append([]HistoryEntry(nil), m.history[keep:]...)
	return removed
}

// Replay feeds the recorded events into a fresh Idle machine and checks
// that every resulting state matches the recorded one. A mismatch returns
// a REPLAY_DIVERGENCE error naming the offending entry; it signals either
// a tampered log or a state-machine bug and must reach an operator.
func Replay(history []HistoryEntry) error {
	state := StateIdle
	for i, entry := range history {
		next, ok := transitions[state][entry.Event]
		if !ok {
			return types.NewError(types.ErrReplayDivergence,
				fmt.Sprintf("entry %d: event %q not valid in state %q", i, entry.Event, state))
		}
		if next != entry.State {
			return types.NewError(types.ErrReplayDivergence,
				fmt.Sprintf("entry %d: replayed state %q does not match recorded %q", i, next, entry.State))
		}
		state = next
	}
	return nil
}
