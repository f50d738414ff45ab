package pipeline

import (
	"context"

	"github.com/BaSui01/voiceflow/admission"
	"github.com/BaSui01/voiceflow/types"
)

// Recognizer converts accumulated speech frames into an incremental
// transcript fragment. Implementations live outside the core.
type Recognizer interface {
	TranscribePartial(ctx context.Context, frames []types.AudioFrame) (string, error)
}

// GenerateRequest carries one generation pass.
type GenerateRequest struct {
	// Transcript is the recognized caller utterance.
	Transcript string
	// History holds recent final transcripts of the session, oldest first.
	History []string
	// ModelTier is the routing decision from the admission controller.
	ModelTier admission.ModelTier
}

// Token is one generated response token. A non-nil Err ends the stream
// as an upstream failure.
type Token struct {
	Text       string
	Confidence float64
	Err        error
}

// Generator produces a lazy, cancellable token stream. The returned
// channel is closed when generation completes or ctx is cancelled.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (<-chan Token, error)
}

// Synthesizer produces a lazy audio chunk stream for a response text.
// The returned channel is closed when synthesis completes or ctx is
// cancelled.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (<-chan types.AudioChunk, error)
}
