// Copyright (c) VoiceFlow Authors.
// Licensed under the MIT License.

// Package testutil provides scripted port implementations and audio
// fixtures for tests. Not for production use.
package testutil

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/voiceflow/pipeline"
	"github.com/BaSui01/voiceflow/types"
)

const frameSamples = 160 // 10ms at 16kHz

func pcmFrame(amplitude int16, seq int) types.AudioFrame {
	data := make([]byte, frameSamples*2)
	for i := 0; i < frameSamples; i++ {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(amplitude))
	}
	return types.AudioFrame{Data: data, Seq: seq, Timestamp: time.Now()}
}

// SpeechFrame returns a frame with speech-level energy.
func SpeechFrame(seq int) types.AudioFrame {
	return pcmFrame(8000, seq)
}

// SilenceFrame returns a frame with no energy.
func SilenceFrame(seq int) types.AudioFrame {
	return pcmFrame(0, seq)
}

// FrameStream returns a closed-when-drained channel over the frames.
func FrameStream(frames ...types.AudioFrame) <-chan types.AudioFrame {
	ch := make(chan types.AudioFrame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	return ch
}

// SpeechThenSilence returns n speech frames followed by one silence
// frame, which ends the utterance.
func SpeechThenSilence(n int) <-chan types.AudioFrame {
	frames := make([]types.AudioFrame, 0, n+1)
	for i := 0; i < n; i++ {
		frames = append(frames, SpeechFrame(i))
	}
	frames = append(frames, SilenceFrame(n))
	return FrameStream(frames...)
}

// FakeRecognizer returns a fixed transcript. Err makes every call fail;
// TransientErr makes only the first TransientFailures calls fail, for
// exercising retry behavior.
type FakeRecognizer struct {
	Transcript        string
	Err               error
	TransientErr      error
	TransientFailures int32
	Delay             time.Duration

	calls atomic.Int32
}

// Calls returns how many times TranscribePartial ran.
func (r *FakeRecognizer) Calls() int { return int(r.calls.Load()) }

func (r *FakeRecognizer) TranscribePartial(ctx context.Context, _ []types.AudioFrame) (string, error) {
	n := r.calls.Add(1)
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if r.Err != nil {
		return "", r.Err
	}
	if r.TransientErr != nil && n <= r.TransientFailures {
		return "", r.TransientErr
	}
	return r.Transcript, nil
}

// FakeGenerator streams a scripted token sequence.
type FakeGenerator struct {
	Tokens     []pipeline.Token
	Err        error
	TokenDelay time.Duration

	mu       sync.Mutex
	requests []pipeline.GenerateRequest
}

// LastRequest returns the most recent request, if any.
func (g *FakeGenerator) LastRequest() (pipeline.GenerateRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		return pipeline.GenerateRequest{}, false
	}
	return g.requests[len(g.requests)-1], true
}

func (g *FakeGenerator) Generate(ctx context.Context, req pipeline.GenerateRequest) (<-chan pipeline.Token, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}

	out := make(chan pipeline.Token)
	go func() {
		defer close(out)
		for _, token := range g.Tokens {
			if g.TokenDelay > 0 {
				select {
				case <-time.After(g.TokenDelay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- token:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// FakeSynthesizer streams one chunk per scripted payload.
type FakeSynthesizer struct {
	Chunks     [][]byte
	Err        error
	ChunkDelay time.Duration
}

func (s *FakeSynthesizer) Synthesize(ctx context.Context, _ string) (<-chan types.AudioChunk, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	out := make(chan types.AudioChunk)
	go func() {
		defer close(out)
		for i, data := range s.Chunks {
			if s.ChunkDelay > 0 {
				select {
				case <-time.After(s.ChunkDelay):
				case <-ctx.Done():
					return
				}
			}
			chunk := types.AudioChunk{
				Data:      data,
				Seq:       i,
				Final:     i == len(s.Chunks)-1,
				Timestamp: time.Now(),
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// FakeScorer returns a fixed anomaly score.
type FakeScorer struct {
	Value float64
	Err   error
}

func (s *FakeScorer) Score(context.Context, string) (float64, error) {
	return s.Value, s.Err
}

// StaticPolicies is an in-memory policy provider.
type StaticPolicies struct {
	Policies map[string]*types.PolicyContext
	Limits   map[types.TenantTier]int64
}

func (p *StaticPolicies) GetPolicy(tenantID string) (*types.PolicyContext, error) {
	if policy, ok := p.Policies[tenantID]; ok {
		return policy, nil
	}
	return &types.PolicyContext{TenantID: tenantID}, nil
}

func (p *StaticPolicies) GetBudgetLimits(tier types.TenantTier) (int64, error) {
	return p.Limits[tier], nil
}

// ManualInterrupt is an interrupt source tests trip by hand.
type ManualInterrupt struct {
	fired atomic.Bool
}

// Trigger trips the signal.
func (m *ManualInterrupt) Trigger() { m.fired.Store(true) }

// Reset clears the signal.
func (m *ManualInterrupt) Reset() { m.fired.Store(false) }

// Interrupted implements pipeline.InterruptSource.
func (m *ManualInterrupt) Interrupted() bool { return m.fired.Load() }

// TriggerAfter trips the signal once n chunks have been observed via
// Observe. Useful for mid-synthesis interrupts.
type TriggerAfter struct {
	N     int
	count atomic.Int32
	fired atomic.Bool
}

// Observe counts one emitted chunk.
func (m *TriggerAfter) Observe() {
	if int(m.count.Add(1)) >= m.N {
		m.fired.Store(true)
	}
}

// Interrupted implements pipeline.InterruptSource.
func (m *TriggerAfter) Interrupted() bool { return m.fired.Load() }
