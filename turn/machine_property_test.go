package turn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var allStates = []State{StateIdle, StateListening, StateProcessing, StateResponding, StateEscalating}

var allEvents = []Event{
	EventStartCall, EventSpeechDetected, EventResponseReady,
	EventError, EventDone, EventHandled,
}

// Property: Transition agrees with the transition table for every
// (state, event) pair — valid pairs advance exactly as tabulated, invalid
// pairs leave the state untouched and report InvalidTransition.
func TestProperty_Machine_TransitionMatchesTable(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		from := rapid.SampledFrom(allStates).Draw(rt, "state")
		event := rapid.SampledFrom(allEvents).Draw(rt, "event")

		m := NewMachine()
		m.state = from

		got, err := m.Transition(event)
		want, valid := Next(from, event)
		if valid {
			require.NoError(rt, err)
			assert.Equal(rt, want, got)
			assert.Len(rt, m.History(), 1)
		} else {
			require.Error(rt, err)
			assert.Equal(rt, from, got)
			assert.Empty(rt, m.History())
		}
	})
}

// Property: any event sequence produces a history that replays cleanly,
// no matter how many invalid events were interleaved.
func TestProperty_Machine_HistoryAlwaysReplays(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		events := rapid.SliceOfN(rapid.SampledFrom(allEvents), 0, 50).Draw(rt, "events")

		m := NewMachine()
		for _, event := range events {
			_, _ = m.Transition(event) // invalid events are allowed and ignored
		}

		assert.NoError(rt, Replay(m.History()))
	})
}

// Property: corrupting any single recorded state to a different value
// makes Replay report divergence.
func TestProperty_Machine_TamperedHistoryDiverges(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		// Drive enough valid transitions to get a non-trivial history.
		m := NewMachine()
		cycles := rapid.IntRange(1, 5).Draw(rt, "cycles")
		for i := 0; i < cycles; i++ {
			for _, event := range []Event{EventStartCall, EventSpeechDetected, EventResponseReady, EventDone} {
				_, err := m.Transition(event)
				require.NoError(rt, err)
			}
			// Close the loop back to idle so the next cycle restarts cleanly.
			_, _ = m.Transition(EventSpeechDetected)
			_, err := m.Transition(EventError)
			require.NoError(rt, err)
			_, err = m.Transition(EventHandled)
			require.NoError(rt, err)
		}

		history := m.History()
		idx := rapid.IntRange(0, len(history)-1).Draw(rt, "idx")
		tampered := rapid.SampledFrom(allStates).
			Filter(func(s State) bool { return s != history[idx].State }).
			Draw(rt, "tampered")
		history[idx].State = tampered

		assert.Error(rt, Replay(history))
	})
}
