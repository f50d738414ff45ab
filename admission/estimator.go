package admission

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts the tokens a transcript fragment will cost before the
// generation stage is admitted. It wraps tiktoken lazily (the encoding
// data may be downloaded on first use) and falls back to a length
// heuristic when the encoding is unavailable, because admission must not
// fail open or block on tokenizer setup.
type Estimator struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// DefaultEncoding is the tiktoken encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// heuristicBytesPerToken approximates English text at ~4 bytes per token.
const heuristicBytesPerToken = 4

// NewEstimator creates an Estimator for the given tiktoken encoding.
func NewEstimator(encoding string) *Estimator {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Estimator{encoding: encoding}
}

func (e *Estimator) init() error {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(e.encoding)
		if err != nil {
			e.initErr = fmt.Errorf("init tiktoken encoding %s: %w", e.encoding, err)
			return
		}
		e.enc = enc
	})
	return e.initErr
}

// EstimateTokens returns the token count for text. Never returns zero for
// non-empty text.
func (e *Estimator) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if err := e.init(); err == nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return heuristicTokens(text)
}

// heuristicTokens is the fallback: byte length over four, at least one
// token per rune-bearing string.
func heuristicTokens(text string) int {
	n := len(text) / heuristicBytesPerToken
	if n == 0 && utf8.RuneCountInString(text) > 0 {
		n = 1
	}
	return n
}
