// Copyright (c) VoiceFlow Authors.
// Licensed under the MIT License.

/*
Package orchestrator is the top-level driver: it feeds inbound audio
frames into the streaming pipeline, converts pipeline stage events into
turn state-machine transitions, and exposes turn processing to the call
or session handler.

Safety blocks, budget denials and upstream failures all take the error
transition into Escalating; the session stays usable and a later Handle
call returns it to Listening. Stage failures terminate only the current
turn, never the session.
*/
package orchestrator
