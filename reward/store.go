/*
store.go - Persistence interfaces for the ledger and daily counters

PURPOSE:
  Defines the interface between the engine and the database. The ledger is
  append-only; the UNIQUE idempotency key constraint is the final arbiter
  for exactly-once payout. Counters are incremental aggregates over the
  ledger, maintained in the same transactional scope as the append so the
  two can never diverge.

APPEND-ONLY CONTRACT:
  - Append() is the only ledger write. No Update, no Delete.
  - A duplicate idempotency key returns ErrDuplicateIdempotencyKey; callers
    treat it as "already processed", never as a failure.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - reward/store:  in-memory store for tests and dev

SEE ALSO:
  - engine.go: Uses WithTx to pair the append with the counter increment
  - guard.go:  Reads ledger aggregates for cooldown and daily limit checks
*/
package reward

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER STORE - Append-only reward record
// =============================================================================

// LedgerStore persists granted rewards and answers the aggregate queries the
// guards and the rebalancer need.
type LedgerStore interface {
	// Append adds a ledger entry. Returns ErrDuplicateIdempotencyKey if the
	// idempotency key already exists. This is the ONLY write operation.
	Append(ctx context.Context, entry LedgerEntry) error

	// Exists reports whether an idempotency key has already been paid.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)

	// LastEntryTime returns the timestamp of the most recent entry for
	// (user, action), with ok=false when none exists. Cooldowns only consult
	// the single most recent prior entry.
	LastEntryTime(ctx context.Context, userID UserID, actionID ActionID) (time.Time, bool, error)

	// SumForUserOnDay totals all MIND granted to a user on a UTC day,
	// across every category. Feeds the platform-wide daily ceiling.
	SumForUserOnDay(ctx context.Context, userID UserID, day string) (decimal.Decimal, error)

	// CountForUserOnDay counts a user's ledger entries on a UTC day.
	// Feeds the fresh-account velocity heuristic.
	CountForUserOnDay(ctx context.Context, userID UserID, day string) (int, error)

	// SumSince totals emission with Timestamp >= since, across all users.
	SumSince(ctx context.Context, since time.Time) (decimal.Decimal, error)

	// SumAll totals all-time emission.
	SumAll(ctx context.Context) (decimal.Decimal, error)

	// EntriesForUser returns a user's ledger entries, newest first,
	// limited to at most limit rows (0 = no limit).
	EntriesForUser(ctx context.Context, userID UserID, limit int) ([]LedgerEntry, error)
}

// =============================================================================
// COUNTER STORE - Per-user per-day category accumulators
// =============================================================================

// CounterStore maintains the daily spend accumulators. Counters for past
// days are historical records; only archival cleanup may remove them.
type CounterStore interface {
	// Counter returns the accumulator row for (user, day). A user with no
	// activity yet gets a zero counter, not an error.
	Counter(ctx context.Context, userID UserID, day string) (DailyCounter, error)

	// Increment adds delta to one category total. Deltas are always
	// positive; totals never decrease within a day.
	Increment(ctx context.Context, userID UserID, day string, cat Category, delta decimal.Decimal) error

	// PurgeCountersBefore removes counter rows for days strictly before the
	// given UTC day key. The archival hook behind resetDailyCounters; must
	// never touch current-day rows.
	PurgeCountersBefore(ctx context.Context, day string) (int, error)
}

// =============================================================================
// STORE - Combined interface with transactional scope
// =============================================================================

// Store combines ledger and counters with a transactional scope. The engine
// performs the counter increment and the ledger append inside one WithTx call
// so both happen or neither does.
type Store interface {
	LedgerStore
	CounterStore

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
