/*
Package reward implements the MIND token reward engine: event processing,
emission control, and exactly-once accounting.

PURPOSE:
  Converts user activity (step counts, course/book completions, channel
  subscriptions, referrals) into bounded token awards while keeping
  cumulative emission on a fixed budget. The engine guarantees exactly-once
  payout per logical event under retries and bounds daily payout per user
  and per category.

KEY CONCEPTS IN THIS FILE (types.go):
  - ActionID: The fixed enum of rewardable activities
  - Category: Grouping of actions for daily cap accounting
  - ActionEvent: One activity report, keyed by an idempotency key
  - LedgerEntry: An immutable record of one granted reward
  - DailyCounter: Per-user per-day spend accumulators per category

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never updated or deleted
  2. Precision: Uses decimal.Decimal for all token amounts
  3. Exactly-once: The UNIQUE idempotency key is the sole dedup mechanism
  4. Auditability: Every payout carries its event metadata and timestamp

SEE ALSO:
  - engine.go: The processing pipeline
  - store.go: Persistence interfaces
  - config.go: Reward rules and the rebalance coefficient
*/
package reward

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACTIONS - Fixed enum of rewardable activities
// =============================================================================

// ActionID identifies a rewardable activity kind.
type ActionID string

const (
	ActionSteps               ActionID = "steps"
	ActionBookCompletion      ActionID = "book_completion"
	ActionCourseBasic         ActionID = "course_completion_basic"
	ActionCourseIntermediate  ActionID = "course_completion_intermediate"
	ActionCourseAdvanced      ActionID = "course_completion_advanced"
	ActionPartnerSubscription ActionID = "partner_subscription"
	ActionReferralBonus       ActionID = "referral_bonus"
)

// Actions lists every supported action. API validation rejects anything else
// before it reaches the engine.
var Actions = []ActionID{
	ActionSteps,
	ActionBookCompletion,
	ActionCourseBasic,
	ActionCourseIntermediate,
	ActionCourseAdvanced,
	ActionPartnerSubscription,
	ActionReferralBonus,
}

// KnownAction reports whether id is one of the supported actions.
func KnownAction(id ActionID) bool {
	for _, a := range Actions {
		if a == id {
			return true
		}
	}
	return false
}

// =============================================================================
// CATEGORIES - Daily cap accounting buckets (several actions share one)
// =============================================================================

// Category groups actions for daily cap accounting. All three course
// completion tiers share the courses bucket, so their caps are enforced
// against one running total.
type Category string

const (
	CategorySteps         Category = "steps"
	CategoryBooks         Category = "books"
	CategoryCourses       Category = "courses"
	CategorySubscriptions Category = "subscriptions"
	CategoryReferrals     Category = "referrals"
)

// Categories lists every counter bucket in stats projection order.
var Categories = []Category{
	CategorySteps,
	CategoryBooks,
	CategoryCourses,
	CategorySubscriptions,
	CategoryReferrals,
}

// Category returns the counter bucket for an action. Unknown actions map to
// an empty category; the engine never reaches accounting for those.
func (a ActionID) Category() Category {
	switch a {
	case ActionSteps:
		return CategorySteps
	case ActionBookCompletion:
		return CategoryBooks
	case ActionCourseBasic, ActionCourseIntermediate, ActionCourseAdvanced:
		return CategoryCourses
	case ActionPartnerSubscription:
		return CategorySubscriptions
	case ActionReferralBonus:
		return CategoryReferrals
	default:
		return ""
	}
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type EntryID string

// =============================================================================
// ACTION EVENT - One activity report (ephemeral)
// =============================================================================

// ActionEvent is a single activity report submitted for reward processing.
//
// Value is interpreted per action: a step count for steps, a completion
// fraction in [0,1] for book_completion, and ignored for the flat-reward
// actions. Nil means the caller supplied no value.
//
// IdempotencyKey must be globally unique per logical event. Retries of the
// same logical event reuse the key and become no-ops.
type ActionEvent struct {
	UserID         UserID
	ActionID       ActionID
	Value          *float64
	IdempotencyKey string
	Timestamp      time.Time
	Metadata       map[string]string
}

// =============================================================================
// LEDGER ENTRY - Immutable record of one granted reward
// =============================================================================

// LedgerEntry records one actual payout. Zero-value rewards are never
// recorded; the ledger only holds rewards that were granted.
type LedgerEntry struct {
	ID             EntryID
	UserID         UserID
	ActionID       ActionID
	MindAmount     decimal.Decimal
	IdempotencyKey string
	Metadata       map[string]string
	Timestamp      time.Time
	CreatedAt      time.Time
}

// =============================================================================
// DAILY COUNTER - Per-user per-day category accumulators
// =============================================================================

// DailyCounter holds one running total per category for a (user, UTC day)
// pair. Created lazily on the first granted reward of the day, never deleted
// from the current day. Totals are monotonically non-decreasing within a day.
type DailyCounter struct {
	UserID UserID
	Day    string // UTC day key, "2006-01-02"
	Totals map[Category]decimal.Decimal
}

// Total returns the accumulated spend for a category (zero if untouched).
func (c DailyCounter) Total(cat Category) decimal.Decimal {
	if c.Totals == nil {
		return decimal.Zero
	}
	if v, ok := c.Totals[cat]; ok {
		return v
	}
	return decimal.Zero
}

// DayOf returns the UTC day key for a timestamp. All daily accounting
// (counters, caps, the guard's daily limit) keys on UTC days.
func DayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// =============================================================================
// DAILY STATS - Read-only projection for callers
// =============================================================================

// UncappedRemaining is the sentinel reported for categories without a
// configured daily cap.
const UncappedRemaining = -1

// DailyStats is the projection returned by Engine.UserDailyStats.
type DailyStats struct {
	UserID    UserID
	Day       string
	Totals    map[Category]decimal.Decimal
	Remaining map[Category]decimal.Decimal // UncappedRemaining (-1) when no cap applies
}
