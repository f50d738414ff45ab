package types

// PIIClass names a structured-PII shape a tenant policy may require to be
// absent from generated responses.
type PIIClass string

const (
	PIIClassSSN        PIIClass = "ssn"
	PIIClassCreditCard PIIClass = "credit_card"
	PIIClassEmail      PIIClass = "email"
	PIIClassPhone      PIIClass = "phone"
)

// PolicyContext carries the per-tenant compliance flags consulted by the
// safety filter. It is supplied once per turn by configuration and never
// mutated by the core.
type PolicyContext struct {
	TenantID string `json:"tenant_id"`

	// MinConfidence is the minimum acceptable response confidence.
	// Responses below it are rejected by output validation.
	MinConfidence float64 `json:"min_confidence"`

	// RedactPII lists the structured-PII shapes that must not appear in
	// generated output. Empty means no PII screening.
	RedactPII []PIIClass `json:"redact_pii,omitempty"`

	// ToolAllowlist maps tenant tiers to the tools they may invoke.
	// A list containing "*" permits every tool.
	ToolAllowlist map[TenantTier][]string `json:"tool_allowlist,omitempty"`
}

// RequiresRedaction reports whether the policy forbids the given PII class.
func (p *PolicyContext) RequiresRedaction(class PIIClass) bool {
	for _, c := range p.RedactPII {
		if c == class {
			return true
		}
	}
	return false
}

// PolicyProvider resolves tenant policy and budget limits. Implementations
// live outside the core (tenant service, config store).
type PolicyProvider interface {
	GetPolicy(tenantID string) (*PolicyContext, error)
	GetBudgetLimits(tier TenantTier) (int64, error)
}
