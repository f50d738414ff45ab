// Copyright (c) VoiceFlow Authors.
// Licensed under the MIT License.

/*
Package safety screens transcript fragments before generation and
validates generated responses against tenant policy.

The input side is an ordered chain of independent checkers
(length → injection patterns → optional anomaly scorer). Evaluation is
short-circuit: the first blocking rule determines the verdict. All rules
are deterministic pattern checks except the optional external scorer.

A blocked payload never raises an error up the call stack — it yields a
typed Verdict that the orchestrator turns into an error transition on the
turn state machine.
*/
package safety
