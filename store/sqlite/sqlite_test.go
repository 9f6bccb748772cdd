package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindleap/reward-engine/reward"
	"github.com/mindleap/reward-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func entry(userID, action, key string, amount int64, at time.Time) reward.LedgerEntry {
	return reward.LedgerEntry{
		ID:             reward.EntryID("e-" + key),
		UserID:         reward.UserID(userID),
		ActionID:       reward.ActionID(action),
		MindAmount:     decimal.NewFromInt(amount),
		IdempotencyKey: key,
		Timestamp:      at,
	}
}

var baseTime = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

// =============================================================================
// LEDGER - APPEND AND IDEMPOTENCY
// =============================================================================

func TestStore_Append_DuplicateKeyRejected(t *testing.T) {
	// GIVEN: A ledger entry already committed under an idempotency key
	// WHEN: Appending a second entry with the same key
	// THEN: The UNIQUE constraint surfaces as ErrDuplicateIdempotencyKey

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, entry("u-1", "steps", "k-1", 5, baseTime)))

	err := store.Append(ctx, entry("u-2", "book_completion", "k-1", 10, baseTime))
	assert.ErrorIs(t, err, reward.ErrDuplicateIdempotencyKey)

	// The first entry is untouched.
	sum, err := store.SumAll(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(5)), "got %s", sum)
}

func TestStore_Exists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "k-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Append(ctx, entry("u-1", "steps", "k-1", 5, baseTime)))

	exists, err = store.Exists(ctx, "k-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStore_Append_PreservesMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := entry("u-1", "referral_bonus", "k-1", 20, baseTime)
	e.Metadata = map[string]string{"referred_user": "u-99", "source": "invite_link"}
	require.NoError(t, store.Append(ctx, e))

	entries, err := store.EntriesForUser(ctx, "u-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "u-99", entries[0].Metadata["referred_user"])
	assert.Equal(t, "invite_link", entries[0].Metadata["source"])
}

// =============================================================================
// LEDGER - QUERIES
// =============================================================================

func TestStore_LastEntryTime(t *testing.T) {
	// GIVEN: Two steps entries and one book entry for a user
	// WHEN: Querying the last entry time per action
	// THEN: The newest timestamp per (user, action) is returned

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, entry("u-1", "steps", "k-1", 5, baseTime)))
	require.NoError(t, store.Append(ctx, entry("u-1", "steps", "k-2", 3, baseTime.Add(time.Hour))))
	require.NoError(t, store.Append(ctx, entry("u-1", "book_completion", "k-3", 10, baseTime.Add(2*time.Hour))))

	last, ok, err := store.LastEntryTime(ctx, "u-1", "steps")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(baseTime.Add(time.Hour)), "got %s", last)

	_, ok, err = store.LastEntryTime(ctx, "u-1", "referral_bonus")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_TimestampOrdering_MixedPrecision(t *testing.T) {
	// GIVEN: A whole-second entry and a sub-second entry later in the same
	//        second (stored timestamps must sort by time, not by string quirks)
	// WHEN: Querying last entry time, a window sum, and history
	// THEN: The sub-second entry is the most recent and both fall inside the
	//       window

	store := newTestStore(t)
	ctx := context.Background()

	wholeSecond := baseTime
	subSecond := baseTime.Add(500 * time.Millisecond)
	require.NoError(t, store.Append(ctx, entry("u-1", "steps", "k-1", 1, wholeSecond)))
	require.NoError(t, store.Append(ctx, entry("u-1", "steps", "k-2", 2, subSecond)))

	last, ok, err := store.LastEntryTime(ctx, "u-1", "steps")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(subSecond), "got %s, want %s", last, subSecond)

	sum, err := store.SumSince(ctx, wholeSecond)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(3)), "both entries in window: got %s", sum)

	entries, err := store.EntriesForUser(ctx, "u-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].MindAmount.Equal(decimal.NewFromInt(2)), "sub-second entry first")
	assert.True(t, entries[0].Timestamp.Equal(subSecond), "timestamp round-trips: got %s", entries[0].Timestamp)
}

func TestStore_DailySums(t *testing.T) {
	// GIVEN: Entries spread across two UTC days and two users
	// WHEN: Summing and counting per (user, day)
	// THEN: Only the matching day and user contribute

	store := newTestStore(t)
	ctx := context.Background()

	day1 := baseTime
	day2 := baseTime.AddDate(0, 0, 1)
	require.NoError(t, store.Append(ctx, entry("u-1", "steps", "k-1", 5, day1)))
	require.NoError(t, store.Append(ctx, entry("u-1", "book_completion", "k-2", 10, day1.Add(time.Hour))))
	require.NoError(t, store.Append(ctx, entry("u-1", "steps", "k-3", 7, day2)))
	require.NoError(t, store.Append(ctx, entry("u-2", "steps", "k-4", 9, day1)))

	sum, err := store.SumForUserOnDay(ctx, "u-1", reward.DayOf(day1))
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(15)), "got %s", sum)

	count, err := store.CountForUserOnDay(ctx, "u-1", reward.DayOf(day1))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	sum, err = store.SumForUserOnDay(ctx, "u-1", reward.DayOf(day2))
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(7)), "got %s", sum)
}

func TestStore_EmissionWindows(t *testing.T) {
	// GIVEN: Entries inside and outside a trailing window
	// WHEN: Summing since a cutoff and summing all-time
	// THEN: SumSince honors the cutoff; SumAll does not

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, entry("u-1", "steps", "k-old", 100, baseTime.AddDate(0, 0, -40))))
	require.NoError(t, store.Append(ctx, entry("u-1", "steps", "k-new", 25, baseTime.AddDate(0, 0, -5))))

	since, err := store.SumSince(ctx, baseTime.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.True(t, since.Equal(decimal.NewFromInt(25)), "got %s", since)

	all, err := store.SumAll(ctx)
	require.NoError(t, err)
	assert.True(t, all.Equal(decimal.NewFromInt(125)), "got %s", all)
}

func TestStore_EntriesForUser_NewestFirstWithLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := entry("u-1", "steps", "k-"+string(rune('a'+i)), int64(i+1), baseTime.Add(time.Duration(i)*time.Hour))
		require.NoError(t, store.Append(ctx, e))
	}
	require.NoError(t, store.Append(ctx, entry("u-2", "steps", "k-other", 99, baseTime)))

	entries, err := store.EntriesForUser(ctx, "u-1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].MindAmount.Equal(decimal.NewFromInt(5)), "newest first")
	assert.True(t, entries[2].MindAmount.Equal(decimal.NewFromInt(3)))
}

// =============================================================================
// DAILY COUNTERS
// =============================================================================

func TestStore_Counters_IncrementAndLoad(t *testing.T) {
	// GIVEN: Increments to two categories on one day
	// WHEN: Loading the counter row
	// THEN: Totals accumulate per category; untouched categories read zero

	store := newTestStore(t)
	ctx := context.Background()
	day := reward.DayOf(baseTime)

	require.NoError(t, store.Increment(ctx, "u-1", day, reward.CategorySteps, decimal.NewFromInt(5)))
	require.NoError(t, store.Increment(ctx, "u-1", day, reward.CategorySteps, decimal.NewFromInt(3)))
	require.NoError(t, store.Increment(ctx, "u-1", day, reward.CategoryBooks, decimal.NewFromInt(10)))

	counter, err := store.Counter(ctx, "u-1", day)
	require.NoError(t, err)
	assert.True(t, counter.Total(reward.CategorySteps).Equal(decimal.NewFromInt(8)))
	assert.True(t, counter.Total(reward.CategoryBooks).Equal(decimal.NewFromInt(10)))
	assert.True(t, counter.Total(reward.CategoryCourses).IsZero())
}

func TestStore_Counters_MissingRowReadsZero(t *testing.T) {
	store := newTestStore(t)

	counter, err := store.Counter(context.Background(), "u-ghost", reward.DayOf(baseTime))
	require.NoError(t, err)
	assert.True(t, counter.Total(reward.CategorySteps).IsZero())
}

func TestStore_PurgeCountersBefore(t *testing.T) {
	// GIVEN: Counter rows across three days
	// WHEN: Purging rows before the middle day
	// THEN: Only the older rows go; the cutoff day itself survives

	store := newTestStore(t)
	ctx := context.Background()

	days := []string{"2026-03-08", "2026-03-09", "2026-03-10"}
	for _, day := range days {
		require.NoError(t, store.Increment(ctx, "u-1", day, reward.CategorySteps, decimal.NewFromInt(1)))
	}

	purged, err := store.PurgeCountersBefore(ctx, "2026-03-09")
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	counter, err := store.Counter(ctx, "u-1", "2026-03-09")
	require.NoError(t, err)
	assert.True(t, counter.Total(reward.CategorySteps).Equal(decimal.NewFromInt(1)))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTx_CommitsTogether(t *testing.T) {
	// GIVEN: A counter increment and a ledger append in one scope
	// WHEN: The scope succeeds
	// THEN: Both are visible afterwards

	store := newTestStore(t)
	ctx := context.Background()
	day := reward.DayOf(baseTime)

	err := store.WithTx(ctx, func(s reward.Store) error {
		if err := s.Increment(ctx, "u-1", day, reward.CategorySteps, decimal.NewFromInt(5)); err != nil {
			return err
		}
		return s.Append(ctx, entry("u-1", "steps", "k-1", 5, baseTime))
	})
	require.NoError(t, err)

	counter, err := store.Counter(ctx, "u-1", day)
	require.NoError(t, err)
	assert.True(t, counter.Total(reward.CategorySteps).Equal(decimal.NewFromInt(5)))

	exists, err := store.Exists(ctx, "k-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStore_WithTx_RollsBackTogether(t *testing.T) {
	// GIVEN: A counter increment followed by a failing append (duplicate key)
	// WHEN: The scope fails
	// THEN: The increment is rolled back; nothing half-commits

	store := newTestStore(t)
	ctx := context.Background()
	day := reward.DayOf(baseTime)

	require.NoError(t, store.Append(ctx, entry("u-1", "steps", "k-taken", 5, baseTime)))

	err := store.WithTx(ctx, func(s reward.Store) error {
		if err := s.Increment(ctx, "u-1", day, reward.CategorySteps, decimal.NewFromInt(7)); err != nil {
			return err
		}
		return s.Append(ctx, entry("u-1", "steps", "k-taken", 7, baseTime.Add(time.Hour)))
	})
	assert.ErrorIs(t, err, reward.ErrDuplicateIdempotencyKey)

	counter, err := store.Counter(ctx, "u-1", day)
	require.NoError(t, err)
	assert.True(t, counter.Total(reward.CategorySteps).IsZero(), "increment rolled back")
}

func TestStore_WithTx_RollsBackOnArbitraryError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	day := reward.DayOf(baseTime)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s reward.Store) error {
		if err := s.Append(ctx, entry("u-1", "steps", "k-1", 5, baseTime)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	exists, err := store.Exists(ctx, "k-1")
	require.NoError(t, err)
	assert.False(t, exists, "append rolled back")

	counter, err := store.Counter(ctx, "u-1", day)
	require.NoError(t, err)
	assert.True(t, counter.Total(reward.CategorySteps).IsZero())
}

func TestStore_WithTx_ReadsSeeOwnWrites(t *testing.T) {
	// GIVEN: An append inside an open transaction
	// WHEN: Reading through the same transactional store
	// THEN: The uncommitted write is visible to the scope

	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(s reward.Store) error {
		if err := s.Append(ctx, entry("u-1", "steps", "k-1", 5, baseTime)); err != nil {
			return err
		}
		exists, err := s.Exists(ctx, "k-1")
		if err != nil {
			return err
		}
		assert.True(t, exists, "transaction sees its own write")
		return nil
	})
	require.NoError(t, err)
}
