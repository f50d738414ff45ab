package safety

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/types"
)

// piiShapes are the structured-PII patterns consulted by output
// validation when a tenant policy requires a class to be absent.
var piiShapes = map[types.PIIClass]*regexp.Regexp{
	types.PIIClassSSN:        regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	types.PIIClassCreditCard: regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
	types.PIIClassEmail:      regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
	types.PIIClassPhone:      regexp.MustCompile(`\b\+?\d{1,3}[ -]?\(?\d{3}\)?[ -]?\d{3}[ -]?\d{4}\b`),
}

// Config configures a Filter.
type Config struct {
	// MaxInputLength is the input length ceiling in bytes.
	MaxInputLength int `json:"max_input_length"`

	// InjectionPatterns extends the built-in high-risk pattern set.
	InjectionPatterns []string `json:"injection_patterns,omitempty"`

	// MinSafetyScore blocks inputs the anomaly scorer rates below it.
	MinSafetyScore float64 `json:"min_safety_score"`

	// MinResponseConfidence is the fallback used when a tenant policy
	// does not set its own minimum.
	MinResponseConfidence float64 `json:"min_response_confidence"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxInputLength:        DefaultMaxInputLength,
		MinSafetyScore:        DefaultMinSafetyScore,
		MinResponseConfidence: 0.8,
	}
}

// Filter is the two-sided safety contract: ScreenInput gates transcript
// fragments before generation, ValidateOutput gates generated responses.
type Filter struct {
	config Config
	chain  *Chain
	logger *zap.Logger
}

// NewFilter builds the input chain: length → injection → optional anomaly
// scorer. scorer may be nil. Construction fails only on invalid
// configured patterns, which must surface before any turn is accepted.
func NewFilter(config Config, scorer Scorer, logger *zap.Logger) (*Filter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxInputLength <= 0 {
		config.MaxInputLength = DefaultMaxInputLength
	}
	if config.MinSafetyScore <= 0 {
		config.MinSafetyScore = DefaultMinSafetyScore
	}
	if config.MinResponseConfidence <= 0 {
		config.MinResponseConfidence = 0.8
	}

	injection, err := NewInjectionChecker(config.InjectionPatterns)
	if err != nil {
		return nil, err
	}

	chain := NewChain(
		NewLengthChecker(config.MaxInputLength),
		injection,
		NewAnomalyChecker(scorer, config.MinSafetyScore, logger),
	)

	return &Filter{config: config, chain: chain, logger: logger}, nil
}

// AppendChecker adds a custom layer to the input chain.
func (f *Filter) AppendChecker(c Checker) {
	f.chain.Append(c)
}

// ScreenInput screens one transcript fragment against the chain and the
// tenant policy. It always returns a verdict; a block is a result, not
// an error.
func (f *Filter) ScreenInput(ctx context.Context, text string, policy *types.PolicyContext) *Verdict {
	v, err := f.chain.Evaluate(ctx, text)
	if err != nil {
		// Chain already failed closed; keep the verdict.
		f.logger.Warn("input screening error", zap.Error(err))
	}
	if !v.Allowed {
		f.logger.Info("input blocked",
			zap.String("checker", v.Checker),
			zap.String("rule", v.Rule),
			zap.String("tenant_id", tenantID(policy)))
	}
	return v
}

// ValidateOutput checks a generated response against the tenant policy:
// the confidence floor and the required-absent PII shapes. It returns a
// verdict; rejects yield the first offending rule.
func (f *Filter) ValidateOutput(_ context.Context, text string, confidence float64, policy *types.PolicyContext) *Verdict {
	minConfidence := f.config.MinResponseConfidence
	if policy != nil && policy.MinConfidence > 0 {
		minConfidence = policy.MinConfidence
	}
	if confidence < minConfidence {
		return Block("output", "low_confidence",
			fmt.Sprintf("confidence %.2f below minimum %.2f", confidence, minConfidence))
	}

	if policy != nil {
		for _, class := range policy.RedactPII {
			shape, ok := piiShapes[class]
			if !ok {
				continue
			}
			if shape.MatchString(text) {
				return Block("output", "pii_"+string(class),
					fmt.Sprintf("response contains %s-shaped token required absent by policy", class))
			}
		}
	}
	return Allow()
}

// IsToolAllowed checks tenant-tier allowlist membership for a tool. A
// tier whose allowlist contains "*" may invoke every tool. A missing
// allowlist permits nothing.
func (f *Filter) IsToolAllowed(policy *types.PolicyContext, tier types.TenantTier, toolName string) bool {
	if policy == nil || policy.ToolAllowlist == nil {
		return false
	}
	allowed, ok := policy.ToolAllowlist[tier]
	if !ok {
		return false
	}
	for _, name := range allowed {
		if name == "*" || name == toolName {
			return true
		}
	}
	return false
}

func tenantID(policy *types.PolicyContext) string {
	if policy == nil {
		return ""
	}
	return policy.TenantID
}
