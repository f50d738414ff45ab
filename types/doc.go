// Copyright (c) VoiceFlow Authors.
// Licensed under the MIT License.

/*
Package types provides the shared type definitions for the VoiceFlow core.

types is the lowest-level public package. It depends on nothing inside the
module and supplies the type contracts used by turn, admission, safety,
pipeline and orchestrator, so that no two of those packages ever need to
import each other.

Core types:

  - AudioFrame / AudioChunk — raw audio units crossing the core boundary
  - Turn / StageResult      — one listen→process→respond cycle and its
    per-stage outputs (append-only, ordered)
  - TenantTier              — coarse billing tier (starter/business/enterprise)
  - PolicyContext           — per-tenant compliance flags and thresholds
  - Error / ErrorCode       — structured error taxonomy (invalid transition,
    replay divergence, budget denied, safety blocked, upstream failure)
*/
package types
