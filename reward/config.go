/*
config.go - Reward configuration document and ConfigStore interface

PURPOSE:
  Defines the versioned, hot-reloadable configuration that drives reward
  calculation: per-action base rewards and daily caps, the global rebalance
  coefficient, auto-rebalance settings, security toggles, and anti-fraud
  thresholds.

LIFECYCLE:
  Loaded at process start and re-read by the engine before processing.
  Written back only by the rebalancer (new coefficient). The engine treats
  it as read-only shared state behind the ConfigStore interface, so tests
  can substitute an in-memory store without file I/O.

SEE ALSO:
  - config/config.go: YAML file + memory implementations
  - rebalance.go: The only writer
  - engine.go: The reader
*/
package reward

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIG DOCUMENT
// =============================================================================

// RewardRule configures one action kind. A nil DailyCap means uncapped.
type RewardRule struct {
	ActionID   ActionID `yaml:"action_id"`
	BaseReward float64  `yaml:"base_reward"`
	DailyCap   *float64 `yaml:"daily_cap"`
	Notes      string   `yaml:"notes,omitempty"`
}

// Base returns the base reward as a decimal.
func (r RewardRule) Base() decimal.Decimal {
	return decimal.NewFromFloat(r.BaseReward)
}

// Cap returns the daily cap as a decimal and whether one is configured.
func (r RewardRule) Cap() (decimal.Decimal, bool) {
	if r.DailyCap == nil {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(*r.DailyCap), true
}

// AutoRebalanceConfig controls the monthly emission controller.
// Schedule is descriptive only (documents the external cron), never parsed.
type AutoRebalanceConfig struct {
	Enabled             bool    `yaml:"enabled"`
	Schedule            string  `yaml:"schedule,omitempty"`
	Strategy            string  `yaml:"strategy,omitempty"` // "conservative" (default) or "symmetric"
	TotalPool           float64 `yaml:"total_pool"`
	RemainingPoolMonths int     `yaml:"remaining_pool_months"`
}

// SecurityConfig toggles the processing guards.
type SecurityConfig struct {
	IdempotencyEnabled     bool `yaml:"idempotency_enabled"`
	ServerSideVerification bool `yaml:"server_side_verification"`
	DuplicatePrevention    bool `yaml:"duplicate_prevention"`
}

// AntiFraudConfig holds the deterministic gating thresholds.
// A zero cooldown disables the cooldown check; a zero daily limit disables
// the platform-wide ceiling.
type AntiFraudConfig struct {
	ActionCooldownSeconds       int     `yaml:"action_cooldown_seconds"`
	UserDailyLimit              float64 `yaml:"user_daily_limit"`
	FreshAccountAgeMinutes      int     `yaml:"fresh_account_age_minutes"`
	FreshAccountActionThreshold int     `yaml:"fresh_account_action_threshold"`
}

// Config is the full reward configuration document.
type Config struct {
	RebalanceCoefficient float64                 `yaml:"rebalance_coefficient"`
	Rewards              map[ActionID]RewardRule `yaml:"rewards"`
	AutoRebalance        AutoRebalanceConfig     `yaml:"auto_rebalance"`
	Security             SecurityConfig          `yaml:"security"`
	AntiFraud            AntiFraudConfig         `yaml:"anti_fraud"`
}

// Coefficient returns the rebalance coefficient as a decimal.
func (c *Config) Coefficient() decimal.Decimal {
	return decimal.NewFromFloat(c.RebalanceCoefficient)
}

// Rule looks up the rule for an action.
func (c *Config) Rule(id ActionID) (RewardRule, bool) {
	r, ok := c.Rewards[id]
	return r, ok
}

// CategoryCap returns the tightest configured daily cap among the rules in a
// category, used by the stats projection. The clamp at processing time uses
// the triggering rule's own cap against the shared category counter.
func (c *Config) CategoryCap(cat Category) (decimal.Decimal, bool) {
	var tightest decimal.Decimal
	found := false
	for _, r := range c.Rewards {
		if r.ActionID.Category() != cat {
			continue
		}
		rc, ok := r.Cap()
		if !ok {
			continue
		}
		if !found || rc.LessThan(tightest) {
			tightest = rc
			found = true
		}
	}
	return tightest, found
}

// Validate checks the invariants the engine depends on. A config that fails
// validation must not serve reward traffic.
func (c *Config) Validate() error {
	if c.RebalanceCoefficient <= 0 || c.RebalanceCoefficient > 1 {
		return fmt.Errorf("%w: rebalance_coefficient %v out of (0, 1]",
			ErrConfigInvalid, c.RebalanceCoefficient)
	}
	if len(c.Rewards) == 0 {
		return fmt.Errorf("%w: no reward rules", ErrConfigInvalid)
	}
	for id, r := range c.Rewards {
		if r.ActionID == "" {
			r.ActionID = id
		}
		if r.ActionID != id {
			return fmt.Errorf("%w: rule %q declares action_id %q", ErrConfigInvalid, id, r.ActionID)
		}
		if r.BaseReward < 0 {
			return fmt.Errorf("%w: rule %q has negative base_reward", ErrConfigInvalid, id)
		}
		if r.DailyCap != nil && *r.DailyCap < 0 {
			return fmt.Errorf("%w: rule %q has negative daily_cap", ErrConfigInvalid, id)
		}
	}
	if c.AutoRebalance.Enabled && c.AutoRebalance.RemainingPoolMonths <= 0 {
		return fmt.Errorf("%w: remaining_pool_months must be > 0 when auto_rebalance is enabled",
			ErrConfigInvalid)
	}
	switch c.AutoRebalance.Strategy {
	case "", StrategyConservative, StrategySymmetric:
	default:
		return fmt.Errorf("%w: unknown rebalance strategy %q", ErrConfigInvalid, c.AutoRebalance.Strategy)
	}
	if c.AntiFraud.ActionCooldownSeconds < 0 || c.AntiFraud.UserDailyLimit < 0 {
		return fmt.Errorf("%w: negative anti_fraud threshold", ErrConfigInvalid)
	}
	return nil
}

// =============================================================================
// CONFIG STORE - Injected load/save capability
// =============================================================================

// ConfigStore abstracts where the configuration document lives. The engine
// only loads; the rebalancer loads and saves.
type ConfigStore interface {
	Load(ctx context.Context) (*Config, error)
	Save(ctx context.Context, cfg *Config) error
}
