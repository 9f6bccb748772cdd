// Package store provides reward.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mindleap/reward-engine/reward"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	entries     []reward.LedgerEntry
	idempotency map[string]bool
	counters    map[counterKey]decimal.Decimal
}

type counterKey struct {
	UserID   reward.UserID
	Day      string
	Category reward.Category
}

func NewMemory() *Memory {
	return &Memory{
		idempotency: make(map[string]bool),
		counters:    make(map[counterKey]decimal.Decimal),
	}
}

// Append adds a ledger entry. Append-only.
func (m *Memory) Append(_ context.Context, entry reward.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(entry)
}

func (m *Memory) appendLocked(entry reward.LedgerEntry) error {
	if entry.IdempotencyKey != "" && m.idempotency[entry.IdempotencyKey] {
		return reward.ErrDuplicateIdempotencyKey
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, entry)
	if entry.IdempotencyKey != "" {
		m.idempotency[entry.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Memory) LastEntryTime(_ context.Context, userID reward.UserID, actionID reward.ActionID) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last time.Time
	found := false
	for _, e := range m.entries {
		if e.UserID != userID || e.ActionID != actionID {
			continue
		}
		if !found || e.Timestamp.After(last) {
			last = e.Timestamp
			found = true
		}
	}
	return last, found, nil
}

func (m *Memory) SumForUserOnDay(_ context.Context, userID reward.UserID, day string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := decimal.Zero
	for _, e := range m.entries {
		if e.UserID == userID && reward.DayOf(e.Timestamp) == day {
			sum = sum.Add(e.MindAmount)
		}
	}
	return sum, nil
}

func (m *Memory) CountForUserOnDay(_ context.Context, userID reward.UserID, day string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, e := range m.entries {
		if e.UserID == userID && reward.DayOf(e.Timestamp) == day {
			count++
		}
	}
	return count, nil
}

func (m *Memory) SumSince(_ context.Context, since time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := decimal.Zero
	for _, e := range m.entries {
		if !e.Timestamp.Before(since) {
			sum = sum.Add(e.MindAmount)
		}
	}
	return sum, nil
}

func (m *Memory) SumAll(_ context.Context) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := decimal.Zero
	for _, e := range m.entries {
		sum = sum.Add(e.MindAmount)
	}
	return sum, nil
}

func (m *Memory) EntriesForUser(_ context.Context, userID reward.UserID, limit int) ([]reward.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []reward.LedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// =============================================================================
// COUNTER STORE
// =============================================================================

func (m *Memory) Counter(_ context.Context, userID reward.UserID, day string) (reward.DailyCounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counter := reward.DailyCounter{
		UserID: userID,
		Day:    day,
		Totals: make(map[reward.Category]decimal.Decimal),
	}
	for k, v := range m.counters {
		if k.UserID == userID && k.Day == day {
			counter.Totals[k.Category] = v
		}
	}
	return counter, nil
}

func (m *Memory) Increment(_ context.Context, userID reward.UserID, day string, cat reward.Category, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incrementLocked(userID, day, cat, delta)
	return nil
}

func (m *Memory) incrementLocked(userID reward.UserID, day string, cat reward.Category, delta decimal.Decimal) {
	k := counterKey{UserID: userID, Day: day, Category: cat}
	m.counters[k] = m.counters[k].Add(delta)
}

func (m *Memory) PurgeCountersBefore(_ context.Context, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for k := range m.counters {
		if k.Day < day {
			delete(m.counters, k)
			purged++
		}
	}
	return purged, nil
}

// =============================================================================
// TRANSACTIONAL SCOPE
// =============================================================================

// WithTx executes fn within a transaction, simulated with a snapshot and
// rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(reward.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	view := &txView{parent: m}
	if err := fn(view); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	entries     []reward.LedgerEntry
	idempotency map[string]bool
	counters    map[counterKey]decimal.Decimal
}

func (m *Memory) snapshot() memorySnapshot {
	entries := append([]reward.LedgerEntry{}, m.entries...)
	idem := make(map[string]bool, len(m.idempotency))
	for k, v := range m.idempotency {
		idem[k] = v
	}
	counters := make(map[counterKey]decimal.Decimal, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v
	}
	return memorySnapshot{entries: entries, idempotency: idem, counters: counters}
}

func (m *Memory) restore(s memorySnapshot) {
	m.entries = s.entries
	m.idempotency = s.idempotency
	m.counters = s.counters
}

// txView reuses the parent's locked internals; the parent holds the lock for
// the duration of WithTx.
type txView struct {
	parent *Memory
}

func (tv *txView) Append(_ context.Context, entry reward.LedgerEntry) error {
	return tv.parent.appendLocked(entry)
}

func (tv *txView) Exists(_ context.Context, key string) (bool, error) {
	return tv.parent.idempotency[key], nil
}

func (tv *txView) LastEntryTime(ctx context.Context, userID reward.UserID, actionID reward.ActionID) (time.Time, bool, error) {
	var last time.Time
	found := false
	for _, e := range tv.parent.entries {
		if e.UserID != userID || e.ActionID != actionID {
			continue
		}
		if !found || e.Timestamp.After(last) {
			last = e.Timestamp
			found = true
		}
	}
	return last, found, nil
}

func (tv *txView) SumForUserOnDay(_ context.Context, userID reward.UserID, day string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range tv.parent.entries {
		if e.UserID == userID && reward.DayOf(e.Timestamp) == day {
			sum = sum.Add(e.MindAmount)
		}
	}
	return sum, nil
}

func (tv *txView) CountForUserOnDay(_ context.Context, userID reward.UserID, day string) (int, error) {
	count := 0
	for _, e := range tv.parent.entries {
		if e.UserID == userID && reward.DayOf(e.Timestamp) == day {
			count++
		}
	}
	return count, nil
}

func (tv *txView) SumSince(_ context.Context, since time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range tv.parent.entries {
		if !e.Timestamp.Before(since) {
			sum = sum.Add(e.MindAmount)
		}
	}
	return sum, nil
}

func (tv *txView) SumAll(_ context.Context) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range tv.parent.entries {
		sum = sum.Add(e.MindAmount)
	}
	return sum, nil
}

func (tv *txView) EntriesForUser(_ context.Context, userID reward.UserID, limit int) ([]reward.LedgerEntry, error) {
	var result []reward.LedgerEntry
	for _, e := range tv.parent.entries {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (tv *txView) Counter(_ context.Context, userID reward.UserID, day string) (reward.DailyCounter, error) {
	counter := reward.DailyCounter{
		UserID: userID,
		Day:    day,
		Totals: make(map[reward.Category]decimal.Decimal),
	}
	for k, v := range tv.parent.counters {
		if k.UserID == userID && k.Day == day {
			counter.Totals[k.Category] = v
		}
	}
	return counter, nil
}

func (tv *txView) Increment(_ context.Context, userID reward.UserID, day string, cat reward.Category, delta decimal.Decimal) error {
	tv.parent.incrementLocked(userID, day, cat, delta)
	return nil
}

func (tv *txView) PurgeCountersBefore(_ context.Context, day string) (int, error) {
	purged := 0
	for k := range tv.parent.counters {
		if k.Day < day {
			delete(tv.parent.counters, k)
			purged++
		}
	}
	return purged, nil
}

func (tv *txView) WithTx(ctx context.Context, fn func(reward.Store) error) error {
	// Already inside a transaction; run in the same scope.
	return fn(tv)
}

var _ reward.Store = (*Memory)(nil)
var _ reward.Store = (*txView)(nil)
