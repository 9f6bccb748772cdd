/*
engine.go - Reward processing pipeline

PURPOSE:
  Orchestrates one activity event from report to payout:

    1. idempotency check        (silent no-op on replay)
    2. rule lookup              (unknown action: logged, not rewarded)
    3. base amount calculation  (calc.go)
    4. coefficient scaling      (floor toward zero)
    5. daily category cap clamp
    6. zero-reward short-circuit (nothing recorded)
    7. anti-fraud checks        (cooldown, daily MIND ceiling)
    8. atomic counter increment + ledger append (one WithTx scope)
    9. token transfer           (fire-and-forget, never rolled back)
   10. fresh-account advisory log

CONCURRENCY:
  Event-parallel across users, serialized within a user. Processing for a
  given userId runs under one of 64 striped mutexes (FNV-1a of the id), so
  two concurrent events for the same user cannot both clamp against a stale
  counter or race the cooldown check. The ledger's UNIQUE idempotency key
  remains the final arbiter: a duplicate insert that slips past the
  check-then-act gap is treated as "already processed", not as a failure.

ERROR CONTRACT:
  Policy rejections, replays, zero rewards, and unknown actions are
  successful Outcomes with a nil error. Only persistence failures surface
  as errors; the batch processor logs them and continues with siblings.

SEE ALSO:
  - guard.go:     The step 7 checks
  - rebalance.go: The writer of the coefficient read at step 4
*/
package reward

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MaxBatchSize is the largest batch ProcessBatch accepts.
const MaxBatchSize = 100

const userLockStripes = 64

// =============================================================================
// OUTCOME - Per-event processing result
// =============================================================================

type OutcomeStatus string

const (
	OutcomeGranted       OutcomeStatus = "granted"
	OutcomeDuplicate     OutcomeStatus = "duplicate"
	OutcomeZeroReward    OutcomeStatus = "zero_reward"
	OutcomeRejected      OutcomeStatus = "rejected"
	OutcomeUnknownAction OutcomeStatus = "unknown_action"
)

// Outcome describes what happened to one event. Amount is zero unless the
// status is OutcomeGranted.
type Outcome struct {
	Status OutcomeStatus
	Amount decimal.Decimal
	Reason string
}

// BatchResult summarizes one ProcessBatch call. Processed counts every event
// that ran to a business outcome; Failed counts events that hit a system
// error (and may be retried by the caller).
type BatchResult struct {
	Processed int
	Granted   int
	Failed    int
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine processes activity events into bounded token awards.
type Engine struct {
	store   Store
	config  ConfigStore
	guard   *Guard
	sink    TransferSink
	logger  *zap.Logger
	metrics *Metrics

	// RetentionDays controls how many days of counter rows the archival
	// hook keeps. Zero keeps everything (ResetDailyCounters is a no-op).
	RetentionDays int

	userLocks [userLockStripes]sync.Mutex
}

// NewEngine creates an engine. logger, metrics, and sink may be nil; a nil
// sink falls back to a silent LogSink.
func NewEngine(store Store, config ConfigStore, guard *Guard, sink TransferSink, logger *zap.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NewLogSink(nil)
	}
	return &Engine{
		store:   store,
		config:  config,
		guard:   guard,
		sink:    sink,
		logger:  logger,
		metrics: metrics,
	}
}

func (e *Engine) lockUser(id UserID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &e.userLocks[h.Sum32()%userLockStripes]
}

// =============================================================================
// EVENT PROCESSING
// =============================================================================

// ProcessEvent runs one event through the full pipeline. The caller-supplied
// timestamp is authoritative; wall-clock time is used only to stamp the
// event when the caller omits it.
func (e *Engine) ProcessEvent(ctx context.Context, event ActionEvent) (Outcome, error) {
	if event.UserID == "" || event.IdempotencyKey == "" {
		return Outcome{}, ErrInvalidEvent
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	mu := e.lockUser(event.UserID)
	mu.Lock()
	defer mu.Unlock()

	cfg, err := e.config.Load(ctx)
	if err != nil {
		return Outcome{}, err
	}

	// Step 1: idempotent replay is a silent no-op, never an error.
	if cfg.Security.IdempotencyEnabled {
		exists, err := e.store.Exists(ctx, event.IdempotencyKey)
		if err != nil {
			return Outcome{}, err
		}
		if exists {
			e.logger.Debug("duplicate event ignored",
				zap.String("idempotency_key", event.IdempotencyKey))
			return Outcome{Status: OutcomeDuplicate}, nil
		}
	}

	// Step 2: unknown actions are not rewarded but are not caller errors.
	rule, ok := cfg.Rule(event.ActionID)
	if !ok {
		e.logger.Info("no reward rule for action",
			zap.String("action", string(event.ActionID)),
			zap.String("user_id", string(event.UserID)))
		e.metrics.ObserveRejection("unknown_action")
		return Outcome{Status: OutcomeUnknownAction}, nil
	}

	// Steps 3-4: base amount, then coefficient scaling with floor.
	base := BaseAmount(event.ActionID, event.Value, rule)
	amount := Scale(base, cfg.Coefficient())

	// Step 5: clamp to the category's remaining daily headroom. The counter
	// read is safe against concurrent same-user events because of the
	// per-user lock held above.
	day := DayOf(event.Timestamp)
	cat := event.ActionID.Category()
	if dailyCap, capped := rule.Cap(); capped {
		counter, err := e.store.Counter(ctx, event.UserID, day)
		if err != nil {
			return Outcome{}, err
		}
		amount = ClampToCap(amount, counter.Total(cat), dailyCap)
	}

	// Step 6: zero-value rewards are not recorded; the ledger only holds
	// actual payouts.
	if !amount.IsPositive() {
		e.metrics.ObserveRejection("zero_reward")
		return Outcome{Status: OutcomeZeroReward}, nil
	}

	// Step 7: anti-fraud gates see the proposed state, before any write.
	if err := e.guard.CheckCooldown(ctx, cfg.AntiFraud, event.UserID, event.ActionID, event.Timestamp); err != nil {
		if IsPolicyRejection(err) {
			e.logger.Info("reward withheld",
				zap.String("user_id", string(event.UserID)),
				zap.String("action", string(event.ActionID)),
				zap.String("reason", err.Error()))
			e.metrics.ObserveRejection("cooldown")
			return Outcome{Status: OutcomeRejected, Reason: err.Error()}, nil
		}
		return Outcome{}, err
	}
	if err := e.guard.CheckDailyLimit(ctx, cfg.AntiFraud, event.UserID, amount, event.Timestamp); err != nil {
		if IsPolicyRejection(err) {
			e.logger.Info("reward withheld",
				zap.String("user_id", string(event.UserID)),
				zap.String("action", string(event.ActionID)),
				zap.String("reason", err.Error()))
			e.metrics.ObserveRejection("daily_limit")
			return Outcome{Status: OutcomeRejected, Reason: err.Error()}, nil
		}
		return Outcome{}, err
	}

	// Step 8: counter increment and ledger append in one transactional
	// scope. A crash between the two would break the idempotency guarantee,
	// so they commit together or not at all.
	entry := LedgerEntry{
		ID:             EntryID(uuid.NewString()),
		UserID:         event.UserID,
		ActionID:       event.ActionID,
		MindAmount:     amount,
		IdempotencyKey: event.IdempotencyKey,
		Metadata:       event.Metadata,
		Timestamp:      event.Timestamp,
	}
	err = e.store.WithTx(ctx, func(s Store) error {
		if err := s.Increment(ctx, event.UserID, day, cat, amount); err != nil {
			return err
		}
		return s.Append(ctx, entry)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			// Lost a race with a concurrent retry; the other writer paid.
			return Outcome{Status: OutcomeDuplicate}, nil
		}
		return Outcome{}, err
	}

	// Step 9: the transfer is decoupled from accounting. Its failure is
	// logged for manual reconciliation and never rolls back the ledger.
	if err := e.sink.Transfer(ctx, event.UserID, amount); err != nil {
		e.logger.Error("token transfer failed",
			zap.String("user_id", string(event.UserID)),
			zap.String("amount", amount.String()),
			zap.Error(err))
		e.metrics.IncTransferFailure()
	}

	// Step 10: advisory only.
	e.guard.LogSuspiciousIfNeeded(ctx, cfg.AntiFraud, event.UserID, event.Timestamp)

	amt, _ := amount.Float64()
	e.metrics.ObserveGranted(event.ActionID, amt)
	e.logger.Info("reward granted",
		zap.String("user_id", string(event.UserID)),
		zap.String("action", string(event.ActionID)),
		zap.String("amount", amount.String()))

	return Outcome{Status: OutcomeGranted, Amount: amount}, nil
}

// ProcessBatch processes events independently; one event's failure never
// aborts its siblings. Events for distinct users are safe to submit from
// concurrent batches; within one call they run sequentially.
func (e *Engine) ProcessBatch(ctx context.Context, events []ActionEvent) (BatchResult, error) {
	if len(events) > MaxBatchSize {
		return BatchResult{}, ErrBatchTooLarge
	}

	var result BatchResult
	for i, event := range events {
		outcome, err := e.ProcessEvent(ctx, event)
		if err != nil {
			result.Failed++
			e.logger.Error("event processing failed",
				zap.Int("index", i),
				zap.String("user_id", string(event.UserID)),
				zap.String("idempotency_key", event.IdempotencyKey),
				zap.Error(err))
			continue
		}
		result.Processed++
		if outcome.Status == OutcomeGranted {
			result.Granted++
		}
	}
	return result, nil
}

// =============================================================================
// PROJECTIONS AND MAINTENANCE
// =============================================================================

// UserDailyStats returns the current day's counter totals and the remaining
// headroom per category. Uncapped categories report UncappedRemaining (-1).
func (e *Engine) UserDailyStats(ctx context.Context, userID UserID, now time.Time) (DailyStats, error) {
	cfg, err := e.config.Load(ctx)
	if err != nil {
		return DailyStats{}, err
	}
	day := DayOf(now)
	counter, err := e.store.Counter(ctx, userID, day)
	if err != nil {
		return DailyStats{}, err
	}

	stats := DailyStats{
		UserID:    userID,
		Day:       day,
		Totals:    make(map[Category]decimal.Decimal, len(Categories)),
		Remaining: make(map[Category]decimal.Decimal, len(Categories)),
	}
	for _, cat := range Categories {
		total := counter.Total(cat)
		stats.Totals[cat] = total
		if dailyCap, capped := cfg.CategoryCap(cat); capped {
			remaining := dailyCap.Sub(total)
			if remaining.IsNegative() {
				remaining = decimal.Zero
			}
			stats.Remaining[cat] = remaining
		} else {
			stats.Remaining[cat] = decimal.NewFromInt(UncappedRemaining)
		}
	}
	return stats, nil
}

// ResetDailyCounters is the archival hook behind the reset endpoint. A new
// date naturally starts fresh (user, day) counter rows, so there is nothing
// to reset; with a positive RetentionDays this purges rows older than the
// retention horizon. Current-day rows are never touched.
func (e *Engine) ResetDailyCounters(ctx context.Context, now time.Time) (int, error) {
	if e.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := DayOf(now.AddDate(0, 0, -e.RetentionDays))
	purged, err := e.store.PurgeCountersBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		e.logger.Info("archived old daily counters",
			zap.String("before", cutoff),
			zap.Int("rows", purged))
	}
	return purged, nil
}

// UserHistory returns a user's most recent ledger entries.
func (e *Engine) UserHistory(ctx context.Context, userID UserID, limit int) ([]LedgerEntry, error) {
	return e.store.EntriesForUser(ctx, userID, limit)
}
