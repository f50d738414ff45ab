// Copyright (c) VoiceFlow Authors.
// Licensed under the MIT License.

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/voiceflow"
	"github.com/BaSui01/voiceflow/pipeline"
	"github.com/BaSui01/voiceflow/types"
)

// Loopback media ports let `voiceflow serve` run a full turn loop with
// no external ASR/LLM/TTS providers attached: recognition reports the
// utterance length, generation echoes it back, synthesis plays the
// response text bytes. Useful for smoke tests and protocol work only.

func loopbackPorts() voiceflow.Ports {
	return voiceflow.Ports{
		Recognizer:  loopbackRecognizer{},
		Generator:   loopbackGenerator{},
		Synthesizer: loopbackSynthesizer{},
	}
}

type loopbackRecognizer struct{}

func (loopbackRecognizer) TranscribePartial(ctx context.Context, frames []types.AudioFrame) (string, error) {
	var bytes int
	for _, f := range frames {
		bytes += len(f.Data)
	}
	return fmt.Sprintf("caller audio: %d frames, %d bytes", len(frames), bytes), nil
}

type loopbackGenerator struct{}

func (loopbackGenerator) Generate(ctx context.Context, req pipeline.GenerateRequest) (<-chan pipeline.Token, error) {
	reply := fmt.Sprintf("loopback reply on %s tier to: %s", req.ModelTier, req.Transcript)
	out := make(chan pipeline.Token, 16)
	go func() {
		defer close(out)
		for _, word := range strings.Fields(reply) {
			select {
			case out <- pipeline.Token{Text: word + " ", Confidence: 0.99}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type loopbackSynthesizer struct{}

const loopbackChunkBytes = 320

func (loopbackSynthesizer) Synthesize(ctx context.Context, text string) (<-chan types.AudioChunk, error) {
	data := []byte(text)
	out := make(chan types.AudioChunk, 8)
	go func() {
		defer close(out)
		seq := 0
		for len(data) > 0 {
			n := loopbackChunkBytes
			if n > len(data) {
				n = len(data)
			}
			seq++
			chunk := types.AudioChunk{
				Data:      data[:n],
				Seq:       seq,
				Final:     n == len(data),
				Timestamp: time.Now(),
			}
			data = data[n:]
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
