package safety

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"
)

// DefaultMaxInputLength is the input length ceiling in bytes.
const DefaultMaxInputLength = 2048

// LengthChecker rejects oversized inputs before any pattern work runs.
type LengthChecker struct {
	maxLength int
	priority  int
}

// NewLengthChecker creates a LengthChecker. A non-positive max falls back
// to DefaultMaxInputLength.
func NewLengthChecker(maxLength int) *LengthChecker {
	if maxLength <= 0 {
		maxLength = DefaultMaxInputLength
	}
	return &LengthChecker{maxLength: maxLength, priority: 10}
}

// Name implements Checker.
func (c *LengthChecker) Name() string { return "length" }

// Priority implements Checker.
func (c *LengthChecker) Priority() int { return c.priority }

// Evaluate implements Checker.
func (c *LengthChecker) Evaluate(_ context.Context, text string) (*Verdict, error) {
	if len(text) > c.maxLength {
		return Block(c.Name(), "max_length",
			fmt.Sprintf("input length %d exceeds limit %d", len(text), c.maxLength)), nil
	}
	return Allow(), nil
}

// InjectionRule is one compiled high-risk pattern.
type InjectionRule struct {
	ID      string
	Pattern *regexp.Regexp
	Reason  string
}

// defaultInjectionRules is the fixed ordered rule set: instruction
// override, role reassignment, credential/secret extraction. Order
// matters — the first match determines the block reason.
func defaultInjectionRules() []InjectionRule {
	return []InjectionRule{
		{
			ID:      "instruction_override",
			Pattern: regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier)\s*(instructions?|prompts?|rules?|guidelines?|context)?`),
			Reason:  "attempt to override prior instructions",
		},
		{
			ID:      "instruction_injection",
			Pattern: regexp.MustCompile(`(?i)(new|different|updated|override)\s+instructions?`),
			Reason:  "attempt to inject replacement instructions",
		},
		{
			ID:      "role_reassignment",
			Pattern: regexp.MustCompile(`(?i)(you\s+are\s+now|act\s+as\s+if\s+you\s+are|pretend\s+(to\s+be|you\s+are)|from\s+now\s+on\s+you)`),
			Reason:  "attempt to reassign the agent role",
		},
		{
			ID:      "role_marker",
			Pattern: regexp.MustCompile(`(?i)(^\s*(system|assistant)\s*:|<\s*system\s*>|\[\s*INST\s*\])`),
			Reason:  "role marker injection",
		},
		{
			ID:      "secret_extraction",
			Pattern: regexp.MustCompile(`(?i)(reveal|show|print|tell\s+me|what\s+is)\s+(your\s+)?(system\s+prompt|secret|credentials?|api\s*key|password|token)`),
			Reason:  "attempt to extract credentials or system prompt",
		},
		{
			ID:      "jailbreak",
			Pattern: regexp.MustCompile(`(?i)(jailbreak|do\s+anything\s+now|bypass\s+(all\s+)?(safety|restrictions?|filters?))`),
			Reason:  "explicit jailbreak attempt",
		},
	}
}

// InjectionChecker matches the ordered high-risk pattern set. Matching is
// case-insensitive and short-circuit: the first matching rule is the
// block reason.
type InjectionChecker struct {
	rules    []InjectionRule
	priority int
}

// NewInjectionChecker creates an InjectionChecker with the built-in rules
// plus any extra patterns from configuration. Invalid extra patterns are
// rejected at construction so bad config fails at startup, not mid-turn.
func NewInjectionChecker(extraPatterns []string) (*InjectionChecker, error) {
	rules := defaultInjectionRules()
	for i, p := range extraPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("safety: invalid injection pattern %q: %w", p, err)
		}
		rules = append(rules, InjectionRule{
			ID:      fmt.Sprintf("custom_%d", i),
			Pattern: re,
			Reason:  "matched configured injection pattern",
		})
	}
	return &InjectionChecker{rules: rules, priority: 20}, nil
}

// Name implements Checker.
func (c *InjectionChecker) Name() string { return "injection" }

// Priority implements Checker.
func (c *InjectionChecker) Priority() int { return c.priority }

// Evaluate implements Checker.
func (c *InjectionChecker) Evaluate(_ context.Context, text string) (*Verdict, error) {
	for _, rule := range c.rules {
		if rule.Pattern.MatchString(text) {
			return Block(c.Name(), rule.ID, rule.Reason), nil
		}
	}
	return Allow(), nil
}

// Rules exposes the active rule identifiers, in evaluation order.
func (c *InjectionChecker) Rules() []string {
	ids := make([]string, len(c.rules))
	for i, r := range c.rules {
		ids[i] = r.ID
	}
	return ids
}

// DefaultMinSafetyScore blocks inputs the external scorer rates below it.
const DefaultMinSafetyScore = 0.5

// AnomalyChecker consults an external anomaly scorer for a soft score.
// It is the one non-deterministic layer and is optional: a nil scorer
// allows everything. Scorer failures allow the input (the deterministic
// layers already ran) but are logged.
type AnomalyChecker struct {
	scorer    Scorer
	threshold float64
	logger    *zap.Logger
	priority  int
}

// NewAnomalyChecker creates an AnomalyChecker. A non-positive threshold
// falls back to DefaultMinSafetyScore.
func NewAnomalyChecker(scorer Scorer, threshold float64, logger *zap.Logger) *AnomalyChecker {
	if threshold <= 0 {
		threshold = DefaultMinSafetyScore
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnomalyChecker{scorer: scorer, threshold: threshold, logger: logger, priority: 90}
}

// Name implements Checker.
func (c *AnomalyChecker) Name() string { return "anomaly" }

// Priority implements Checker.
func (c *AnomalyChecker) Priority() int { return c.priority }

// Evaluate implements Checker.
func (c *AnomalyChecker) Evaluate(ctx context.Context, text string) (*Verdict, error) {
	if c.scorer == nil {
		return Allow(), nil
	}
	score, err := c.scorer.Score(ctx, text)
	if err != nil {
		c.logger.Warn("anomaly scorer unavailable, skipping soft score", zap.Error(err))
		return Allow(), nil
	}
	if score < c.threshold {
		v := Block(c.Name(), "anomaly_score",
			fmt.Sprintf("anomaly score %.2f below threshold %.2f", score, c.threshold))
		v.Score = score
		return v, nil
	}
	v := Allow()
	v.Score = score
	return v, nil
}
