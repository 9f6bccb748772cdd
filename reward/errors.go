/*
errors.go - Centralized error types for the reward engine

PURPOSE:
  All error types in one place. The API layer and the batch processor use
  the classification helpers to decide what is a client error, what is an
  expected business outcome, and what must surface as a failure.

ERROR CATEGORIES:
  1. Idempotent replay  - duplicate idempotency key (expected, never fatal)
  2. Policy rejections  - cooldown, daily limit (expected business outcomes)
  3. Validation errors  - malformed events, unknown actions, oversized batches
  4. Persistence errors - store failures, retryable by the caller

SEE ALSO:
  - engine.go: Maps rejections to Outcome values instead of errors
  - guard.go: Produces the policy rejection errors
*/
package reward

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned by stores when a ledger entry
	// with the same idempotency key already exists. Expected under retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrCooldownViolation is returned when an action repeats faster than the
	// configured per-action cooldown allows.
	ErrCooldownViolation = errors.New("action cooldown violation")

	// ErrDailyLimitExceeded is returned when a proposed reward would push the
	// user past the platform-wide daily MIND ceiling.
	ErrDailyLimitExceeded = errors.New("daily reward limit exceeded")

	// ErrUnknownAction is returned for action ids outside the supported enum.
	ErrUnknownAction = errors.New("unknown action")

	// ErrBatchTooLarge is returned when a batch exceeds the maximum size.
	ErrBatchTooLarge = errors.New("batch too large")

	// ErrInvalidEvent is returned for structurally invalid events
	// (missing user, missing idempotency key).
	ErrInvalidEvent = errors.New("invalid event")

	// ErrConfigInvalid is returned when a loaded configuration fails
	// validation. Fatal at startup.
	ErrConfigInvalid = errors.New("invalid reward configuration")
)

// =============================================================================
// STRUCTURED ERRORS - Carry rejection context for logs
// =============================================================================

// CooldownViolationError reports how recently the same (user, action) paid out.
type CooldownViolationError struct {
	UserID   UserID
	ActionID ActionID
	Last     time.Time
	Cooldown time.Duration
}

func (e *CooldownViolationError) Error() string {
	return fmt.Sprintf("cooldown violation: %s/%s last rewarded at %s (cooldown %s)",
		e.UserID, e.ActionID, e.Last.Format(time.RFC3339), e.Cooldown)
}

func (e *CooldownViolationError) Unwrap() error { return ErrCooldownViolation }

// DailyLimitError reports the ceiling breach that blocked a payout.
type DailyLimitError struct {
	UserID     UserID
	SpentSoFar decimal.Decimal
	Proposed   decimal.Decimal
	Limit      decimal.Decimal
}

func (e *DailyLimitError) Error() string {
	return fmt.Sprintf("daily limit exceeded: %s spent %s, proposed %s, limit %s",
		e.UserID, e.SpentSoFar, e.Proposed, e.Limit)
}

func (e *DailyLimitError) Unwrap() error { return ErrDailyLimitExceeded }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsPolicyRejection reports whether err is an expected business outcome
// (reward withheld by rule, not a system failure).
func IsPolicyRejection(err error) bool {
	return errors.Is(err, ErrCooldownViolation) ||
		errors.Is(err, ErrDailyLimitExceeded)
}

// IsClientError reports whether err is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, ErrBatchTooLarge) ||
		errors.Is(err, ErrInvalidEvent)
}
