package safety

import "context"

// Verdict is the outcome of filtering one text payload. Produced once,
// never mutated.
type Verdict struct {
	Allowed bool    `json:"allowed"`
	Rule    string  `json:"rule,omitempty"`    // first matching rule identifier
	Reason  string  `json:"reason,omitempty"`  // human-readable block reason
	Score   float64 `json:"score"`             // anomaly score, 1.0 when unscored
	Checker string  `json:"checker,omitempty"` // checker that produced the block
}

// Allow returns the allowing verdict.
func Allow() *Verdict {
	return &Verdict{Allowed: true, Score: 1.0}
}

// Block returns a blocking verdict for the given rule.
func Block(checker, rule, reason string) *Verdict {
	return &Verdict{Allowed: false, Rule: rule, Reason: reason, Checker: checker, Score: 0}
}

// Checker is one independent safety layer. Checkers are composed into a
// fixed-order Chain; new layers are added by appending, not by modifying
// existing ones.
type Checker interface {
	// Evaluate screens text. It returns a verdict, or an error only for
	// operational failures (the chain fails closed on those).
	Evaluate(ctx context.Context, text string) (*Verdict, error)
	// Name identifies the checker in verdicts and logs.
	Name() string
	// Priority orders the chain; lower runs earlier.
	Priority() int
}

// Scorer is the optional external anomaly-scoring collaborator. Scores
// are in [0,1]; higher means safer.
type Scorer interface {
	Score(ctx context.Context, text string) (float64, error)
}
