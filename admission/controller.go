package admission

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/types"
)

// DefaultLimits is the static daily token limit table. Overridable via
// configuration.
var DefaultLimits = map[types.TenantTier]int64{
	types.TierStarter:    1000,
	types.TierBusiness:   10000,
	types.TierEnterprise: 100000,
}

// ModelTier is the coarse model-class routing decision.
type ModelTier string

const (
	ModelTierCheap     ModelTier = "cheap"
	ModelTierExpensive ModelTier = "expensive"
)

// DefaultComplexityThreshold routes complexity scores below it to the
// cheap model tier.
const DefaultComplexityThreshold = 50.0

// Config configures a Controller.
type Config struct {
	// Limits maps tiers to daily token limits. Missing tiers fall back
	// to the starter limit.
	Limits map[types.TenantTier]int64 `json:"limits"`

	// ComplexityThreshold is the cheap/expensive routing cut-off.
	ComplexityThreshold float64 `json:"complexity_threshold"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	limits := make(map[types.TenantTier]int64, len(DefaultLimits))
	for tier, limit := range DefaultLimits {
		limits[tier] = limit
	}
	return Config{
		Limits:              limits,
		ComplexityThreshold: DefaultComplexityThreshold,
	}
}

// DenialReason explains a TryConsume denial.
type DenialReason string

const (
	DenialNone           DenialReason = ""
	DenialKillSwitch     DenialReason = "kill_switch"
	DenialBudgetExceeded DenialReason = "budget_exceeded"
)

// Controller enforces daily token budgets per tenant tier and the
// per-tenant kill-switch. All state lives in the Store so concurrent
// turns — and, with RedisStore, concurrent processes — share it.
type Controller struct {
	config Config
	store  Store
	logger *zap.Logger
}

// NewController creates a Controller over the given store. A nil store
// gets an in-process MemoryStore; a nil logger is replaced with a nop.
func NewController(config Config, store Store, logger *zap.Logger) *Controller {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Limits == nil {
		config.Limits = DefaultConfig().Limits
	}
	if config.ComplexityThreshold == 0 {
		config.ComplexityThreshold = DefaultComplexityThreshold
	}
	return &Controller{config: config, store: store, logger: logger}
}

// Limit returns the daily token limit for a tier.
func (c *Controller) Limit(tier types.TenantTier) int64 {
	if limit, ok := c.config.Limits[tier]; ok {
		return limit
	}
	return c.config.Limits[types.TierStarter]
}

// TryConsume atomically admits tokenCount tokens against the tier's daily
// limit. Denied admissions commit nothing. The returned reason is
// DenialNone when admitted. The error is non-nil only for store failures,
// never for a plain denial.
func (c *Controller) TryConsume(ctx context.Context, tenantID string, tier types.TenantTier, tokenCount int) (bool, DenialReason, error) {
	disabled, err := c.store.Disabled(ctx, tenantID)
	if err != nil {
		return false, DenialNone, err
	}
	if disabled {
		c.logger.Warn("admission denied: tenant disabled",
			zap.String("tenant_id", tenantID))
		return false, DenialKillSwitch, nil
	}

	limit := c.Limit(tier)
	allowed, err := c.store.TryConsume(ctx, string(tier), tokenCount, limit)
	if err != nil {
		return false, DenialNone, err
	}
	if !allowed {
		c.logger.Warn("admission denied: budget exceeded",
			zap.String("tenant_id", tenantID),
			zap.String("tier", string(tier)),
			zap.Int("tokens", tokenCount),
			zap.Int64("limit", limit))
		return false, DenialBudgetExceeded, nil
	}

	c.logger.Debug("admission granted",
		zap.String("tenant_id", tenantID),
		zap.String("tier", string(tier)),
		zap.Int("tokens", tokenCount))
	return true, DenialNone, nil
}

// Usage returns the tokens committed today for a tier.
func (c *Controller) Usage(ctx context.Context, tier types.TenantTier) (int64, error) {
	return c.store.Usage(ctx, string(tier))
}

// KillSwitch trips the process-wide disabled flag for a tenant. Once set,
// every subsequent TryConsume for that tenant is denied until Reset.
func (c *Controller) KillSwitch(ctx context.Context, tenantID string) error {
	c.logger.Warn("kill switch activated", zap.String("tenant_id", tenantID))
	return c.store.Disable(ctx, tenantID)
}

// Disabled reports the tenant kill-switch state.
func (c *Controller) Disabled(ctx context.Context, tenantID string) (bool, error) {
	return c.store.Disabled(ctx, tenantID)
}

// Reset clears the tenant kill-switch. This is the explicit external
// reset; the switch never clears itself.
func (c *Controller) Reset(ctx context.Context, tenantID string) error {
	c.logger.Info("kill switch reset", zap.String("tenant_id", tenantID))
	return c.store.Reset(ctx, tenantID)
}

// SelectModelTier maps a complexity estimate to a model class. Purely a
// routing decision, no side effects.
func (c *Controller) SelectModelTier(complexityScore float64) ModelTier {
	if complexityScore < c.config.ComplexityThreshold {
		return ModelTierCheap
	}
	return ModelTierExpensive
}
