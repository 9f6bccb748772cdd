package reward_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mindleap/reward-engine/reward"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func fp(v float64) *float64 { return &v }

func ruleWith(id reward.ActionID, base float64, dailyCap *float64) reward.RewardRule {
	return reward.RewardRule{ActionID: id, BaseReward: base, DailyCap: dailyCap}
}

// =============================================================================
// STEPS FORMULA
// =============================================================================

func TestBaseAmount_Steps_WholeThousandsOnly(t *testing.T) {
	// GIVEN: The steps rule pays 1 MIND per 1000 steps
	// WHEN: Computing base amounts for various step counts
	// THEN: Only whole thousands count; partial thousands earn nothing

	rule := ruleWith(reward.ActionSteps, 1, fp(10))

	cases := []struct {
		steps float64
		want  int64
	}{
		{5000, 5},
		{4999, 4},
		{1000, 1},
		{999, 0},
		{0, 0},
	}
	for _, tc := range cases {
		got := reward.BaseAmount(reward.ActionSteps, fp(tc.steps), rule)
		if !got.Equal(decimal.NewFromInt(tc.want)) {
			t.Errorf("steps=%v: got %s, want %d", tc.steps, got, tc.want)
		}
	}
}

func TestBaseAmount_Steps_NilValue(t *testing.T) {
	// GIVEN: A steps event with no value at all
	// WHEN: Computing the base amount
	// THEN: The reward is zero, not an error

	rule := ruleWith(reward.ActionSteps, 1, fp(10))
	got := reward.BaseAmount(reward.ActionSteps, nil, rule)
	if !got.IsZero() {
		t.Errorf("nil value: got %s, want 0", got)
	}
}

// =============================================================================
// BOOK COMPLETION THRESHOLD
// =============================================================================

func TestBaseAmount_BookCompletion_Threshold(t *testing.T) {
	// GIVEN: Books pay a flat 10 MIND at 80% completion or more
	// WHEN: Computing base amounts around the threshold
	// THEN: 0.80 earns the reward, 0.79 earns nothing

	rule := ruleWith(reward.ActionBookCompletion, 10, fp(30))

	if got := reward.BaseAmount(reward.ActionBookCompletion, fp(0.80), rule); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("completion 0.80: got %s, want 10", got)
	}
	if got := reward.BaseAmount(reward.ActionBookCompletion, fp(0.79), rule); !got.IsZero() {
		t.Errorf("completion 0.79: got %s, want 0", got)
	}
	if got := reward.BaseAmount(reward.ActionBookCompletion, nil, rule); !got.IsZero() {
		t.Errorf("nil completion: got %s, want 0", got)
	}
}

// =============================================================================
// FLAT REWARDS
// =============================================================================

func TestBaseAmount_FlatActions_IgnoreValue(t *testing.T) {
	// GIVEN: Course, subscription, and referral rules with flat base rewards
	// WHEN: Computing base amounts with and without a value
	// THEN: The flat base is paid regardless of value

	cases := []struct {
		action reward.ActionID
		base   float64
	}{
		{reward.ActionCourseBasic, 25},
		{reward.ActionCourseIntermediate, 50},
		{reward.ActionCourseAdvanced, 100},
		{reward.ActionPartnerSubscription, 15},
		{reward.ActionReferralBonus, 20},
	}
	for _, tc := range cases {
		rule := ruleWith(tc.action, tc.base, nil)
		want := decimal.NewFromFloat(tc.base)
		if got := reward.BaseAmount(tc.action, nil, rule); !got.Equal(want) {
			t.Errorf("%s (nil value): got %s, want %s", tc.action, got, want)
		}
		if got := reward.BaseAmount(tc.action, fp(42), rule); !got.Equal(want) {
			t.Errorf("%s (value 42): got %s, want %s", tc.action, got, want)
		}
	}
}

func TestBaseAmount_UnknownAction_Zero(t *testing.T) {
	rule := ruleWith("mystery", 100, nil)
	if got := reward.BaseAmount("mystery", fp(1), rule); !got.IsZero() {
		t.Errorf("unknown action: got %s, want 0", got)
	}
}

// =============================================================================
// COEFFICIENT SCALING
// =============================================================================

func TestScale_FloorsTowardZero(t *testing.T) {
	// GIVEN: Base amounts and rebalance coefficients
	// WHEN: Scaling
	// THEN: reward = floor(base * coefficient), never rounded up

	cases := []struct {
		base, coef float64
		want       int64
	}{
		{10, 0.5, 5},
		{10, 0.33, 3},  // 3.3 floors to 3
		{25, 0.33, 8},  // 8.25 floors to 8
		{10, 1.0, 10},  // coefficient 1.0 is a no-op
		{1, 0.5, 0},    // small rewards can floor to zero
		{100, 0.75, 75},
	}
	for _, tc := range cases {
		got := reward.Scale(decimal.NewFromFloat(tc.base), decimal.NewFromFloat(tc.coef))
		if !got.Equal(decimal.NewFromInt(tc.want)) {
			t.Errorf("scale(%v, %v): got %s, want %d", tc.base, tc.coef, got, tc.want)
		}
	}
}

// =============================================================================
// DAILY CAP CLAMP
// =============================================================================

func TestClampToCap(t *testing.T) {
	// GIVEN: A daily cap with some spend already accumulated
	// WHEN: Clamping a proposed reward
	// THEN: The reward is limited to the remaining headroom, never negative

	d := decimal.NewFromInt

	cases := []struct {
		name                      string
		proposed, spent, dailyCap int64
		want                      int64
	}{
		{"fits entirely", 5, 2, 10, 5},
		{"partial headroom", 5, 9, 10, 1},
		{"exactly at cap", 5, 10, 10, 0},
		{"spent over cap", 5, 12, 10, 0},
		{"untouched cap", 10, 0, 10, 10},
	}
	for _, tc := range cases {
		got := reward.ClampToCap(d(tc.proposed), d(tc.spent), d(tc.dailyCap))
		if !got.Equal(d(tc.want)) {
			t.Errorf("%s: got %s, want %d", tc.name, got, tc.want)
		}
	}
}
