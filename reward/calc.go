/*
calc.go - Base reward calculation rules

PURPOSE:
  Pure functions mapping (action, value, rule) to a base MIND amount, and
  the coefficient scaling applied on top. Kept separate from the engine so
  the formulas are testable without any store.

RULES:
  steps:            floor(value / 1000) * base  (whole thousands only)
  book_completion:  base if value >= 0.8, else 0 (binary threshold)
  course_*, partner_subscription, referral_bonus: flat base, value ignored
  anything else:    0

SCALING:
  reward = floor(base * coefficient). The coefficient is applied even when
  it equals 1.0, so behavior is continuous as the rebalancer moves it.
*/
package reward

import (
	"math"

	"github.com/shopspring/decimal"
)

// BookCompletionThreshold is the minimum completion fraction that earns the
// book reward.
const BookCompletionThreshold = 0.8

// stepsPerUnit is the step count worth one base reward unit.
const stepsPerUnit = 1000

// BaseAmount computes the unscaled reward for an event under a rule.
func BaseAmount(action ActionID, value *float64, rule RewardRule) decimal.Decimal {
	switch action {
	case ActionSteps:
		if value == nil || *value <= 0 {
			return decimal.Zero
		}
		thousands := math.Floor(*value / stepsPerUnit)
		return rule.Base().Mul(decimal.NewFromFloat(thousands))

	case ActionBookCompletion:
		if value == nil || *value < BookCompletionThreshold {
			return decimal.Zero
		}
		return rule.Base()

	case ActionCourseBasic, ActionCourseIntermediate, ActionCourseAdvanced,
		ActionPartnerSubscription, ActionReferralBonus:
		// Flat reward. Value and metadata are accepted but never influence
		// the amount.
		return rule.Base()

	default:
		return decimal.Zero
	}
}

// Scale applies the rebalance coefficient and floors toward zero.
func Scale(base, coefficient decimal.Decimal) decimal.Decimal {
	return base.Mul(coefficient).Floor()
}

// ClampToCap limits a reward to the remaining headroom under a daily cap.
// remaining = max(0, cap - spent); the result is min(reward, remaining).
func ClampToCap(reward, spent, dailyCap decimal.Decimal) decimal.Decimal {
	remaining := dailyCap.Sub(spent)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	if reward.GreaterThan(remaining) {
		return remaining
	}
	return reward
}
