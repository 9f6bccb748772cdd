/*
Package sqlite provides the SQLite-backed reward.Store implementation.

PURPOSE:
  Production persistence for the reward ledger and the daily counters. The
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements touch ledger_entries. The UNIQUE
  constraint on idempotency_key is the final arbiter for exactly-once
  payout: a duplicate insert maps to reward.ErrDuplicateIdempotencyKey and
  callers treat it as "already processed".

KEY TABLES:
  ledger_entries:  Immutable record of every granted reward
  daily_counters:  Per-(user, day, category) spend accumulators

AMOUNTS:
  MIND amounts are stored as decimal strings and aggregated in Go to avoid
  floating-point drift in SUM().

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers don't
  block and crash recovery is cleaner.

SEE ALSO:
  - reward/store.go: Interface definitions
  - reward/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/mindleap/reward-engine/reward"
)

// timeFormat is a fixed-width RFC 3339 layout with full nanosecond padding.
// RFC3339Nano drops trailing zeros, and a whole-second timestamp ("...:00Z")
// would sort after a sub-second one in the same second ('Z' > '.'), breaking
// the lexicographic MAX/range/ORDER BY queries on effective_at.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements reward.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Ledger (append-only record of granted rewards)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		action_id TEXT NOT NULL,
		mind_amount TEXT NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		metadata_json TEXT,
		effective_at TEXT NOT NULL,
		effective_day TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Cooldown lookups (single most recent entry per user+action)
	CREATE INDEX IF NOT EXISTS idx_ledger_user_action_at
		ON ledger_entries(user_id, action_id, effective_at DESC);

	-- Daily ceiling and velocity checks
	CREATE INDEX IF NOT EXISTS idx_ledger_user_day
		ON ledger_entries(user_id, effective_day);

	-- Trailing emission window for the rebalancer
	CREATE INDEX IF NOT EXISTS idx_ledger_effective_at
		ON ledger_entries(effective_at);

	-- Daily counters (per-user per-day category accumulators)
	CREATE TABLE IF NOT EXISTS daily_counters (
		user_id TEXT NOT NULL,
		day TEXT NOT NULL,
		category TEXT NOT NULL,
		total TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, day, category)
	);

	CREATE INDEX IF NOT EXISTS idx_counters_day
		ON daily_counters(day);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LEDGER STORE (reward.LedgerStore interface)
// =============================================================================

// Append adds a ledger entry.
func (s *Store) Append(ctx context.Context, entry reward.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, entry)
}

func appendEntry(ctx context.Context, db dbtx, entry reward.LedgerEntry) error {
	metadataJSON, _ := json.Marshal(entry.Metadata)
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO ledger_entries
		(id, user_id, action_id, mind_amount, idempotency_key, metadata_json,
		 effective_at, effective_day, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.ActionID,
		entry.MindAmount.String(),
		entry.IdempotencyKey,
		string(metadataJSON),
		entry.Timestamp.UTC().Format(timeFormat),
		reward.DayOf(entry.Timestamp),
		createdAt.Format(timeFormat),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return reward.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// Exists checks if an idempotency key has already been paid.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return existsKey(ctx, s.db, idempotencyKey)
}

func existsKey(ctx context.Context, db dbtx, idempotencyKey string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

// LastEntryTime returns the most recent entry timestamp for (user, action).
func (s *Store) LastEntryTime(ctx context.Context, userID reward.UserID, actionID reward.ActionID) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastEntryTime(ctx, s.db, userID, actionID)
}

func lastEntryTime(ctx context.Context, db dbtx, userID reward.UserID, actionID reward.ActionID) (time.Time, bool, error) {
	var at sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT MAX(effective_at) FROM ledger_entries
		WHERE user_id = ? AND action_id = ?`,
		userID, actionID,
	).Scan(&at)
	if err != nil {
		return time.Time{}, false, err
	}
	if !at.Valid || at.String == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(timeFormat, at.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse ledger timestamp: %w", err)
	}
	return t, true, nil
}

// SumForUserOnDay totals a user's emission for one UTC day.
func (s *Store) SumForUserOnDay(ctx context.Context, userID reward.UserID, day string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumAmounts(ctx, s.db,
		"SELECT mind_amount FROM ledger_entries WHERE user_id = ? AND effective_day = ?",
		userID, day)
}

// CountForUserOnDay counts a user's entries for one UTC day.
func (s *Store) CountForUserOnDay(ctx context.Context, userID reward.UserID, day string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE user_id = ? AND effective_day = ?",
		userID, day,
	).Scan(&count)
	return count, err
}

// SumSince totals emission with effective_at >= since.
func (s *Store) SumSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumAmounts(ctx, s.db,
		"SELECT mind_amount FROM ledger_entries WHERE effective_at >= ?",
		since.UTC().Format(timeFormat))
}

// SumAll totals all-time emission.
func (s *Store) SumAll(ctx context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumAmounts(ctx, s.db, "SELECT mind_amount FROM ledger_entries")
}

// sumAmounts aggregates decimal strings in Go; SUM() on REAL columns would
// reintroduce float drift.
func sumAmounts(ctx context.Context, db dbtx, query string, args ...any) (decimal.Decimal, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query amounts: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt amount %q: %w", raw, err)
		}
		sum = sum.Add(amount)
	}
	return sum, rows.Err()
}

// EntriesForUser returns a user's entries, newest first.
func (s *Store) EntriesForUser(ctx context.Context, userID reward.UserID, limit int) ([]reward.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, user_id, action_id, mind_amount, idempotency_key,
		       metadata_json, effective_at, created_at
		FROM ledger_entries
		WHERE user_id = ?
		ORDER BY effective_at DESC, created_at DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []reward.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (reward.LedgerEntry, error) {
	var (
		entry        reward.LedgerEntry
		amount       string
		metadataJSON sql.NullString
		effectiveAt  string
		createdAt    string
	)

	err := rows.Scan(
		&entry.ID, &entry.UserID, &entry.ActionID, &amount,
		&entry.IdempotencyKey, &metadataJSON, &effectiveAt, &createdAt,
	)
	if err != nil {
		return entry, fmt.Errorf("failed to scan ledger entry: %w", err)
	}

	entry.MindAmount, err = decimal.NewFromString(amount)
	if err != nil {
		return entry, fmt.Errorf("corrupt amount %q: %w", amount, err)
	}
	entry.Timestamp, _ = time.Parse(timeFormat, effectiveAt)
	entry.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		json.Unmarshal([]byte(metadataJSON.String), &entry.Metadata)
	}
	return entry, nil
}

// =============================================================================
// COUNTER STORE (reward.CounterStore interface)
// =============================================================================

// Counter returns the accumulator row for (user, day); zero totals if none.
func (s *Store) Counter(ctx context.Context, userID reward.UserID, day string) (reward.DailyCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadCounter(ctx, s.db, userID, day)
}

func loadCounter(ctx context.Context, db dbtx, userID reward.UserID, day string) (reward.DailyCounter, error) {
	counter := reward.DailyCounter{
		UserID: userID,
		Day:    day,
		Totals: make(map[reward.Category]decimal.Decimal),
	}

	rows, err := db.QueryContext(ctx,
		"SELECT category, total FROM daily_counters WHERE user_id = ? AND day = ?",
		userID, day)
	if err != nil {
		return counter, fmt.Errorf("failed to query daily counter: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cat, raw string
		if err := rows.Scan(&cat, &raw); err != nil {
			return counter, err
		}
		total, err := decimal.NewFromString(raw)
		if err != nil {
			return counter, fmt.Errorf("corrupt counter total %q: %w", raw, err)
		}
		counter.Totals[reward.Category(cat)] = total
	}
	return counter, rows.Err()
}

// Increment adds delta to one category total. Decimal arithmetic happens in
// Go; the engine's per-user serialization prevents lost updates.
func (s *Store) Increment(ctx context.Context, userID reward.UserID, day string, cat reward.Category, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return incrementCounter(ctx, s.db, userID, day, cat, delta)
}

func incrementCounter(ctx context.Context, db dbtx, userID reward.UserID, day string, cat reward.Category, delta decimal.Decimal) error {
	var raw sql.NullString
	err := db.QueryRowContext(ctx,
		"SELECT total FROM daily_counters WHERE user_id = ? AND day = ? AND category = ?",
		userID, day, cat,
	).Scan(&raw)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read daily counter: %w", err)
	}

	total := delta
	if raw.Valid {
		current, err := decimal.NewFromString(raw.String)
		if err != nil {
			return fmt.Errorf("corrupt counter total %q: %w", raw.String, err)
		}
		total = current.Add(delta)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO daily_counters (user_id, day, category, total, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, day, category) DO UPDATE SET
			total = excluded.total,
			updated_at = excluded.updated_at`,
		userID, day, cat, total.String(), time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to increment daily counter: %w", err)
	}
	return nil
}

// PurgeCountersBefore removes counter rows for days strictly before day.
func (s *Store) PurgeCountersBefore(ctx context.Context, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM daily_counters WHERE day < ?", day)
	if err != nil {
		return 0, fmt.Errorf("failed to purge daily counters: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store reward.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every operation through the open transaction so reads see
// the transaction's own writes.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Append(ctx context.Context, entry reward.LedgerEntry) error {
	return appendEntry(ctx, ts.tx, entry)
}

func (ts *txStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return existsKey(ctx, ts.tx, idempotencyKey)
}

func (ts *txStore) LastEntryTime(ctx context.Context, userID reward.UserID, actionID reward.ActionID) (time.Time, bool, error) {
	return lastEntryTime(ctx, ts.tx, userID, actionID)
}

func (ts *txStore) SumForUserOnDay(ctx context.Context, userID reward.UserID, day string) (decimal.Decimal, error) {
	return sumAmounts(ctx, ts.tx,
		"SELECT mind_amount FROM ledger_entries WHERE user_id = ? AND effective_day = ?",
		userID, day)
}

func (ts *txStore) CountForUserOnDay(ctx context.Context, userID reward.UserID, day string) (int, error) {
	var count int
	err := ts.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE user_id = ? AND effective_day = ?",
		userID, day,
	).Scan(&count)
	return count, err
}

func (ts *txStore) SumSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	return sumAmounts(ctx, ts.tx,
		"SELECT mind_amount FROM ledger_entries WHERE effective_at >= ?",
		since.UTC().Format(timeFormat))
}

func (ts *txStore) SumAll(ctx context.Context) (decimal.Decimal, error) {
	return sumAmounts(ctx, ts.tx, "SELECT mind_amount FROM ledger_entries")
}

func (ts *txStore) EntriesForUser(ctx context.Context, userID reward.UserID, limit int) ([]reward.LedgerEntry, error) {
	// Not needed inside a transaction; read through a fresh query anyway.
	query := `
		SELECT id, user_id, action_id, mind_amount, idempotency_key,
		       metadata_json, effective_at, created_at
		FROM ledger_entries WHERE user_id = ?
		ORDER BY effective_at DESC, created_at DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := ts.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []reward.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (ts *txStore) Counter(ctx context.Context, userID reward.UserID, day string) (reward.DailyCounter, error) {
	return loadCounter(ctx, ts.tx, userID, day)
}

func (ts *txStore) Increment(ctx context.Context, userID reward.UserID, day string, cat reward.Category, delta decimal.Decimal) error {
	return incrementCounter(ctx, ts.tx, userID, day, cat, delta)
}

func (ts *txStore) PurgeCountersBefore(ctx context.Context, day string) (int, error) {
	res, err := ts.tx.ExecContext(ctx, "DELETE FROM daily_counters WHERE day < ?", day)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (ts *txStore) WithTx(ctx context.Context, fn func(reward.Store) error) error {
	// Already inside a transaction; run in the same scope.
	return fn(ts)
}

var _ reward.Store = (*Store)(nil)
var _ reward.Store = (*txStore)(nil)

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
