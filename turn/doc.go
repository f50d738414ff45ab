// Copyright (c) VoiceFlow Authors.
// Licensed under the MIT License.

/*
Package turn implements the deterministic finite-state tracker for one
conversational turn.

A Machine is owned by exactly one call session and is never shared across
concurrent calls. Transition is a pure function of (current state, event):
valid pairs advance the state and append to an append-only history, invalid
pairs leave the state unchanged and report INVALID_TRANSITION. Replay
rebuilds state from a recorded history and flags any divergence, which is
what makes the audit log trustworthy.
*/
package turn
