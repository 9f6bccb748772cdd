/*
guard.go - Deterministic anti-fraud gating

PURPOSE:
  Stateless policy checks consulted by the engine after the reward amount is
  finalized and before anything is persisted:

    CheckCooldown:   per-action cooldown against the most recent ledger entry
    CheckDailyLimit: platform-wide per-user daily MIND ceiling (distinct from
                     the per-category caps in the reward rules)
    LogSuspiciousIfNeeded: fresh-account velocity heuristic, advisory only

  These are rule-based gates, not fraud detection. Rejections are expected
  business outcomes: logged with a reason, no side effects, not surfaced to
  the end user as failures.

SEE ALSO:
  - engine.go:  Invokes the checks at step 7 of processing
  - errors.go:  CooldownViolationError, DailyLimitError
*/
package reward

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// ACCOUNT DIRECTORY - External collaborator for account age
// =============================================================================

// AccountDirectory answers when a user account was created. Registration and
// profiles live outside this subsystem; a nil directory disables the
// fresh-account heuristic.
type AccountDirectory interface {
	// AccountCreatedAt returns the creation time for a user, with ok=false
	// when the user is unknown to the directory.
	AccountCreatedAt(ctx context.Context, userID UserID) (time.Time, bool, error)
}

// =============================================================================
// GUARD
// =============================================================================

// Guard runs the anti-fraud checks against ledger state.
type Guard struct {
	Ledger   LedgerStore
	Accounts AccountDirectory
	Logger   *zap.Logger
}

// NewGuard creates a guard. Accounts may be nil.
func NewGuard(ledger LedgerStore, accounts AccountDirectory, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{Ledger: ledger, Accounts: accounts, Logger: logger}
}

// CheckCooldown fails with a CooldownViolationError when the most recent
// ledger entry for (user, action) is newer than now - cooldown. A zero
// cooldown disables the check.
func (g *Guard) CheckCooldown(ctx context.Context, cfg AntiFraudConfig, userID UserID, actionID ActionID, now time.Time) error {
	if cfg.ActionCooldownSeconds <= 0 {
		return nil
	}
	cooldown := time.Duration(cfg.ActionCooldownSeconds) * time.Second

	last, ok, err := g.Ledger.LastEntryTime(ctx, userID, actionID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if last.After(now.Add(-cooldown)) {
		return &CooldownViolationError{
			UserID:   userID,
			ActionID: actionID,
			Last:     last,
			Cooldown: cooldown,
		}
	}
	return nil
}

// CheckDailyLimit fails with a DailyLimitError when today's ledger total plus
// the proposed reward exceeds the platform-wide daily ceiling. A zero limit
// disables the check.
func (g *Guard) CheckDailyLimit(ctx context.Context, cfg AntiFraudConfig, userID UserID, proposed decimal.Decimal, now time.Time) error {
	if cfg.UserDailyLimit <= 0 {
		return nil
	}
	limit := decimal.NewFromFloat(cfg.UserDailyLimit)

	spent, err := g.Ledger.SumForUserOnDay(ctx, userID, DayOf(now))
	if err != nil {
		return err
	}
	if spent.Add(proposed).GreaterThan(limit) {
		return &DailyLimitError{
			UserID:     userID,
			SpentSoFar: spent,
			Proposed:   proposed,
			Limit:      limit,
		}
	}
	return nil
}

// LogSuspiciousIfNeeded emits a warning when a fresh account shows an
// unusually high action count today. Advisory only: it never blocks
// processing and never returns an error.
func (g *Guard) LogSuspiciousIfNeeded(ctx context.Context, cfg AntiFraudConfig, userID UserID, now time.Time) {
	if g.Accounts == nil || cfg.FreshAccountAgeMinutes <= 0 || cfg.FreshAccountActionThreshold <= 0 {
		return
	}

	createdAt, ok, err := g.Accounts.AccountCreatedAt(ctx, userID)
	if err != nil || !ok {
		return
	}
	age := now.Sub(createdAt)
	if age >= time.Duration(cfg.FreshAccountAgeMinutes)*time.Minute {
		return
	}

	count, err := g.Ledger.CountForUserOnDay(ctx, userID, DayOf(now))
	if err != nil {
		return
	}
	if count >= cfg.FreshAccountActionThreshold {
		g.Logger.Warn("suspicious activity on fresh account",
			zap.String("user_id", string(userID)),
			zap.Duration("account_age", age),
			zap.Int("actions_today", count),
			zap.Int("threshold", cfg.FreshAccountActionThreshold),
		)
	}
}
