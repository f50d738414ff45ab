// Copyright (c) VoiceFlow Authors.
// Licensed under the MIT License.

/*
Package audit records the compliance trail of the orchestration core:
state transitions, budget denials, safety blocks, and interrupts.

Sinks are best-effort. Appending never blocks the turn path and a sink
failure never fails a turn; transcript text is tracked by content hash
only, raw text is never persisted.
*/
package audit
