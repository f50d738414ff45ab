// Copyright (c) VoiceFlow Authors.
// Licensed under the MIT License.

/*
Package pipeline implements the staged voice turn pipeline:
voice-activity detection → partial recognition → admission and safety
gating → response generation → synthesis.

One Run processes one turn over one inbound frame sequence. Silence
schedules no downstream work. Synthesized chunks are emitted as they are
produced, and an interrupt signal is polled between chunks; on interrupt
the chunk stream ends but session state stays consistent for the next
turn. Stage latency budgets are advisory: a breach is logged and counted,
only an admission denial terminates the turn early.

The produced chunk sequence is finite and a Run is not restartable; a
new turn requires a fresh Run.
*/
package pipeline
