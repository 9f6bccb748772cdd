package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindleap/reward-engine/config"
	"github.com/mindleap/reward-engine/reward"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const sampleYAML = `
rebalance_coefficient: 0.75
rewards:
  steps:
    base_reward: 1
    daily_cap: 10
  book_completion:
    base_reward: 10
    daily_cap: 30
    notes: Requires at least 80% completion
  referral_bonus:
    base_reward: 20
    daily_cap: null
auto_rebalance:
  enabled: true
  strategy: conservative
  total_pool: 10000000
  remaining_pool_months: 12
security:
  idempotency_enabled: true
  server_side_verification: true
  duplicate_prevention: true
anti_fraud:
  action_cooldown_seconds: 30
  user_daily_limit: 500
`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reward-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func fp(v float64) *float64 { return &v }

func validConfig() *reward.Config {
	return &reward.Config{
		RebalanceCoefficient: 1.0,
		Rewards: map[reward.ActionID]reward.RewardRule{
			reward.ActionSteps: {ActionID: reward.ActionSteps, BaseReward: 1, DailyCap: fp(10)},
		},
	}
}

// =============================================================================
// FILE STORE
// =============================================================================

func TestFileStore_Load(t *testing.T) {
	// GIVEN: A well-formed configuration document on disk
	// WHEN: Loading it
	// THEN: Rules, coefficient, and sections are parsed; rule action ids
	//       omitted in the document are filled from the map key

	path := writeConfigFile(t, sampleYAML)
	store := config.NewFileStore(path)

	cfg, err := store.Load(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 0.75, cfg.RebalanceCoefficient, 1e-9)
	assert.Len(t, cfg.Rewards, 3)

	steps, ok := cfg.Rule(reward.ActionSteps)
	require.True(t, ok)
	assert.Equal(t, reward.ActionSteps, steps.ActionID, "action id normalized from map key")
	require.NotNil(t, steps.DailyCap)
	assert.Equal(t, 10.0, *steps.DailyCap)

	referral, ok := cfg.Rule(reward.ActionReferralBonus)
	require.True(t, ok)
	assert.Nil(t, referral.DailyCap, "explicit null means uncapped")

	assert.True(t, cfg.AutoRebalance.Enabled)
	assert.Equal(t, 12, cfg.AutoRebalance.RemainingPoolMonths)
	assert.Equal(t, 30, cfg.AntiFraud.ActionCooldownSeconds)
}

func TestFileStore_Load_MissingFile(t *testing.T) {
	store := config.NewFileStore(filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := store.Load(context.Background())
	assert.Error(t, err, "a missing config must refuse to serve")
}

func TestFileStore_Load_Unparsable(t *testing.T) {
	path := writeConfigFile(t, "rewards: [not: a: map")
	store := config.NewFileStore(path)
	_, err := store.Load(context.Background())
	assert.Error(t, err)
}

func TestFileStore_SaveLoad_RoundTrip(t *testing.T) {
	// GIVEN: A loaded document with the coefficient rewritten (what the
	//        rebalancer does)
	// WHEN: Saving and loading again
	// THEN: The edit survives and everything else is preserved

	path := writeConfigFile(t, sampleYAML)
	store := config.NewFileStore(path)
	ctx := context.Background()

	cfg, err := store.Load(ctx)
	require.NoError(t, err)

	cfg.RebalanceCoefficient = 0.5
	require.NoError(t, store.Save(ctx, cfg))

	reloaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, reloaded.RebalanceCoefficient, 1e-9)
	assert.Len(t, reloaded.Rewards, 3)

	book, ok := reloaded.Rule(reward.ActionBookCompletion)
	require.True(t, ok)
	assert.Equal(t, "Requires at least 80% completion", book.Notes)
}

func TestFileStore_Save_RejectsInvalid(t *testing.T) {
	path := writeConfigFile(t, sampleYAML)
	store := config.NewFileStore(path)
	ctx := context.Background()

	cfg, err := store.Load(ctx)
	require.NoError(t, err)

	cfg.RebalanceCoefficient = 0
	err = store.Save(ctx, cfg)
	assert.ErrorIs(t, err, reward.ErrConfigInvalid)

	// The file on disk must be untouched by the rejected save.
	reloaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, reloaded.RebalanceCoefficient, 1e-9)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestConfigValidate(t *testing.T) {
	// GIVEN: Documents each breaking one invariant
	// WHEN: Validating
	// THEN: Each is rejected with ErrConfigInvalid

	cases := []struct {
		name   string
		mutate func(*reward.Config)
	}{
		{"zero coefficient", func(c *reward.Config) { c.RebalanceCoefficient = 0 }},
		{"coefficient above one", func(c *reward.Config) { c.RebalanceCoefficient = 1.5 }},
		{"negative coefficient", func(c *reward.Config) { c.RebalanceCoefficient = -0.1 }},
		{"no rules", func(c *reward.Config) { c.Rewards = nil }},
		{"negative base reward", func(c *reward.Config) {
			c.Rewards[reward.ActionSteps] = reward.RewardRule{ActionID: reward.ActionSteps, BaseReward: -1}
		}},
		{"negative daily cap", func(c *reward.Config) {
			c.Rewards[reward.ActionSteps] = reward.RewardRule{ActionID: reward.ActionSteps, BaseReward: 1, DailyCap: fp(-5)}
		}},
		{"mismatched action id", func(c *reward.Config) {
			c.Rewards[reward.ActionSteps] = reward.RewardRule{ActionID: "other", BaseReward: 1}
		}},
		{"rebalance enabled without months", func(c *reward.Config) {
			c.AutoRebalance = reward.AutoRebalanceConfig{Enabled: true, RemainingPoolMonths: 0}
		}},
		{"unknown strategy", func(c *reward.Config) {
			c.AutoRebalance = reward.AutoRebalanceConfig{
				Enabled: true, Strategy: "aggressive", RemainingPoolMonths: 12,
			}
		}},
		{"negative cooldown", func(c *reward.Config) { c.AntiFraud.ActionCooldownSeconds = -1 }},
		{"negative daily limit", func(c *reward.Config) { c.AntiFraud.UserDailyLimit = -100 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), reward.ErrConfigInvalid)
		})
	}
}

func TestConfigValidate_AcceptsValid(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

// =============================================================================
// MEMORY STORE
// =============================================================================

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	// GIVEN: A memory store with a valid document
	// WHEN: Mutating the struct returned by Load
	// THEN: The stored document is unaffected

	store := config.NewMemoryStore(validConfig())
	ctx := context.Background()

	cfg, err := store.Load(ctx)
	require.NoError(t, err)

	cfg.RebalanceCoefficient = 0.1
	*cfg.Rewards[reward.ActionSteps].DailyCap = 999

	fresh, err := store.Load(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, fresh.RebalanceCoefficient, 1e-9)
	assert.Equal(t, 10.0, *fresh.Rewards[reward.ActionSteps].DailyCap)
}

func TestMemoryStore_SaveThenLoad(t *testing.T) {
	store := config.NewMemoryStore(validConfig())
	ctx := context.Background()

	cfg, err := store.Load(ctx)
	require.NoError(t, err)
	cfg.RebalanceCoefficient = 0.25
	require.NoError(t, store.Save(ctx, cfg))

	reloaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, reloaded.RebalanceCoefficient, 1e-9)
}

func TestMemoryStore_SaveRejectsInvalid(t *testing.T) {
	store := config.NewMemoryStore(validConfig())
	ctx := context.Background()

	bad := validConfig()
	bad.RebalanceCoefficient = 2.0
	assert.ErrorIs(t, store.Save(ctx, bad), reward.ErrConfigInvalid)
}
