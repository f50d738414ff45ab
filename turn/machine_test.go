package turn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/voiceflow/types"
)

func TestMachine_ValidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		event Event
		want  State
	}{
		{"idle start_call", StateIdle, EventStartCall, StateListening},
		{"listening speech_detected", StateListening, EventSpeechDetected, StateProcessing},
		{"processing response_ready", StateProcessing, EventResponseReady, StateResponding},
		{"processing error", StateProcessing, EventError, StateEscalating},
		{"responding done", StateResponding, EventDone, StateListening},
		{"escalating handled", StateEscalating, EventHandled, StateIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			m.state = tt.from

			next, err := m.Transition(tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, next)
			assert.Equal(t, tt.want, m.State())
		})
	}
}

func TestMachine_InvalidTransitionLeavesStateUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		event Event
	}{
		{"idle done", StateIdle, EventDone},
		{"idle handled", StateIdle, EventHandled},
		{"listening start_call", StateListening, EventStartCall},
		{"responding error", StateResponding, EventError},
		{"escalating done", StateEscalating, EventDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			m.state = tt.from

			got, err := m.Transition(tt.event)
			require.Error(t, err)
			assert.True(t, types.IsErrorCode(err, types.ErrInvalidTransition))
			assert.Equal(t, tt.from, got)
			assert.Equal(t, tt.from, m.State())
			assert.Empty(t, m.History(), "rejected transition must not touch history")
		})
	}
}

func TestMachine_FullCycle(t *testing.T) {
	m := NewMachine()

	for _, event := range []Event{
		EventStartCall,
		EventSpeechDetected,
		EventResponseReady,
		EventDone,
		EventSpeechDetected, // second turn within the same session
		EventError,
		EventHandled,
	} {
		_, err := m.Transition(event)
		require.NoError(t, err, "event %s", event)
	}

	assert.Equal(t, StateIdle, m.State())
	assert.Len(t, m.History(), 7)
}

func TestMachine_HooksObserveAcceptedTransitions(t *testing.T) {
	var seen []State
	m := NewMachine(WithHook(func(from State, event Event, to State) {
		seen = append(seen, to)
	}))

	_, err := m.Transition(EventStartCall)
	require.NoError(t, err)
	_, _ = m.Transition(EventDone) // invalid, hook must not fire

	assert.Equal(t, []State{StateListening}, seen)
}

func TestReplay(t *testing.T) {
	t.Run("clean history replays true", func(t *testing.T) {
		m := NewMachine()
		for _, event := range []Event{EventStartCall, EventSpeechDetected, EventResponseReady, EventDone} {
			_, err := m.Transition(event)
			require.NoError(t, err)
		}
		assert.NoError(t, Replay(m.History()))
	})

	t.Run("tampered state is divergence", func(t *testing.T) {
		m := NewMachine()
		for _, event := range []Event{EventStartCall, EventSpeechDetected} {
			_, err := m.Transition(event)
			require.NoError(t, err)
		}
		history := m.History()
		history[1].State = StateEscalating

		err := Replay(history)
		require.Error(t, err)
		assert.True(t, types.IsErrorCode(err, types.ErrReplayDivergence))
	})

	t.Run("tampered event is divergence", func(t *testing.T) {
		m := NewMachine()
		_, err := m.Transition(EventStartCall)
		require.NoError(t, err)
		history := m.History()
		history[0].Event = EventDone

		err = Replay(history)
		require.Error(t, err)
		assert.True(t, types.IsErrorCode(err, types.ErrReplayDivergence))
	})

	t.Run("empty history replays true", func(t *testing.T) {
		assert.NoError(t, Replay(nil))
	})
}

func TestMachine_Prune(t *testing.T) {
	now := time.Now()
	clock := now
	m := NewMachine(WithClock(func() time.Time { return clock }))

	_, err := m.Transition(EventStartCall)
	require.NoError(t, err)

	clock = now.Add(2 * time.Hour)
	_, err = m.Transition(EventSpeechDetected)
	require.NoError(t, err)

	removed := m.Prune(DefaultHistoryTTL)
	assert.Equal(t, 1, removed)

	history := m.History()
	require.Len(t, history, 1)
	assert.Equal(t, EventSpeechDetected, history[0].Event)

	// Pruning never changes current state.
	assert.Equal(t, StateProcessing, m.State())
}

func TestMachine_PruneZeroTTLUsesDefault(t *testing.T) {
	m := NewMachine()
	_, err := m.Transition(EventStartCall)
	require.NoError(t, err)

	// Entries are fresh, nothing should go regardless of ttl fallback.
	assert.Equal(t, 0, m.Prune(0))
	assert.Len(t, m.History(), 1)
}
