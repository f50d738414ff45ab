// Copyright (c) VoiceFlow Authors.
// Licensed under the MIT License.

/*
Package admission enforces per-tenant token budgets and the cost
kill-switch.

The Controller gates response generation: before the pipeline may run the
LLM stage it must obtain an admission via TryConsume, which atomically
checks and commits token consumption against the tier's daily limit. A
denial has no side effect — budgets are never retroactively corrected.

Counters live behind the Store interface so that concurrent turns of the
same tenant observe one consistent counter: MemoryStore for a single
process, RedisStore when several instances share a budget. The kill-switch
is sticky; once tripped for a tenant it denies everything until an
explicit Reset.
*/
package admission
