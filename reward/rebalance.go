/*
rebalance.go - Monthly emission controller

PURPOSE:
  A negative-feedback control loop over a monthly horizon. Invoked by an
  external scheduler (cron hits the rebalance endpoint); never a hot path.
  Measures trailing 30-day emission from the ledger, derives the target
  monthly run rate from the remaining pool budget, and writes a new global
  coefficient back through the ConfigStore.

STRATEGIES:
  conservative (default):
    actual > target  -> coefficient = target / actual
    otherwise        -> coefficient = 1.0
    Never raises the coefficient above 1.0; at or under target it releases
    all throttling at once.

  symmetric:
    Holds the current coefficient inside a +/-10% band around target.
    Above the band it shrinks to target / actual; below the band it grows by
    current * target / actual, capped at 1.0 (converges toward 1.0 from
    below instead of snapping).

EDGE CASES:
  actualEmission == 0 is "within target" and resolves to 1.0, never a
  division by zero. An exhausted pool (remaining == 0) drives the target to
  zero and the conservative strategy throttles toward zero.

SEE ALSO:
  - config.go: AutoRebalanceConfig (strategy selection, pool budget)
  - engine.go: Reads the coefficient on its next config load
*/
package reward

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Strategy names accepted in auto_rebalance.strategy.
const (
	StrategyConservative = "conservative"
	StrategySymmetric    = "symmetric"
)

// trailingWindow is the emission measurement window.
const trailingWindow = 30 * 24 * time.Hour

// coefficientPrecision is the number of decimal places the persisted
// coefficient is rounded to.
const coefficientPrecision = 4

// =============================================================================
// STRATEGIES
// =============================================================================

// Strategy maps measured and target emission to the next coefficient.
// Implementations must never return a value outside (0, 1] and must not
// divide by a zero actual.
type Strategy interface {
	Name() string
	Next(current, actual, target decimal.Decimal) decimal.Decimal
}

// ConservativeStrategy only ever throttles: it shrinks rewards proportionally
// when emission runs hot and releases to 1.0 as soon as it does not.
type ConservativeStrategy struct{}

func (ConservativeStrategy) Name() string { return StrategyConservative }

func (ConservativeStrategy) Next(_, actual, target decimal.Decimal) decimal.Decimal {
	if actual.IsZero() || !actual.GreaterThan(target) {
		return decimal.NewFromInt(1)
	}
	return target.Div(actual)
}

// SymmetricStrategy keeps the coefficient steady within a +/-10% band of the
// target and converges it back toward 1.0 from below when emission runs cold.
type SymmetricStrategy struct{}

func (SymmetricStrategy) Name() string { return StrategySymmetric }

func (SymmetricStrategy) Next(current, actual, target decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if actual.IsZero() {
		return one
	}
	band := decimal.NewFromFloat(0.1).Mul(target)
	switch {
	case actual.GreaterThan(target.Add(band)):
		return target.Div(actual)
	case actual.LessThan(target.Sub(band)):
		grown := current.Mul(target.Div(actual))
		if grown.GreaterThan(one) {
			return one
		}
		return grown
	default:
		return current
	}
}

func strategyFor(name string) Strategy {
	if name == StrategySymmetric {
		return SymmetricStrategy{}
	}
	return ConservativeStrategy{}
}

// =============================================================================
// REBALANCER
// =============================================================================

// RebalanceResult is the audit record of one controller run.
type RebalanceResult struct {
	Skipped        bool
	Strategy       string
	ActualEmission decimal.Decimal
	TargetEmission decimal.Decimal
	RemainingPool  decimal.Decimal
	OldCoefficient decimal.Decimal
	NewCoefficient decimal.Decimal
	ExecutedAt     time.Time
}

// Rebalancer adjusts the global coefficient so cumulative emission tracks
// the fixed pool budget over the remaining horizon. It is the only writer
// of the configuration document.
type Rebalancer struct {
	Config  ConfigStore
	Ledger  LedgerStore
	Logger  *zap.Logger
	Metrics *Metrics
}

func NewRebalancer(config ConfigStore, ledger LedgerStore, logger *zap.Logger, metrics *Metrics) *Rebalancer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rebalancer{Config: config, Ledger: ledger, Logger: logger, Metrics: metrics}
}

// Execute runs one rebalance pass as of now. Disabled configs skip without
// touching anything.
func (r *Rebalancer) Execute(ctx context.Context, now time.Time) (RebalanceResult, error) {
	cfg, err := r.Config.Load(ctx)
	if err != nil {
		return RebalanceResult{}, err
	}
	if !cfg.AutoRebalance.Enabled {
		return RebalanceResult{Skipped: true, ExecutedAt: now}, nil
	}
	if cfg.AutoRebalance.RemainingPoolMonths <= 0 {
		return RebalanceResult{}, fmt.Errorf("%w: remaining_pool_months must be > 0", ErrConfigInvalid)
	}

	actual, err := r.Ledger.SumSince(ctx, now.Add(-trailingWindow))
	if err != nil {
		return RebalanceResult{}, err
	}
	allTime, err := r.Ledger.SumAll(ctx)
	if err != nil {
		return RebalanceResult{}, err
	}

	remaining := decimal.NewFromFloat(cfg.AutoRebalance.TotalPool).Sub(allTime)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	target := remaining.Div(decimal.NewFromInt(int64(cfg.AutoRebalance.RemainingPoolMonths)))

	strategy := strategyFor(cfg.AutoRebalance.Strategy)
	old := cfg.Coefficient()
	next := strategy.Next(old, actual, target).Round(coefficientPrecision)

	// The coefficient invariant is > 0; a fully exhausted pool still leaves
	// a minimal emission rate rather than a zero multiplier.
	if !next.IsPositive() {
		next = decimal.New(1, -coefficientPrecision)
	}

	coef, _ := next.Float64()
	cfg.RebalanceCoefficient = coef
	if err := r.Config.Save(ctx, cfg); err != nil {
		return RebalanceResult{}, err
	}
	r.Metrics.SetCoefficient(coef)

	result := RebalanceResult{
		Strategy:       strategy.Name(),
		ActualEmission: actual,
		TargetEmission: target,
		RemainingPool:  remaining,
		OldCoefficient: old,
		NewCoefficient: next,
		ExecutedAt:     now,
	}
	r.Logger.Info("rebalance executed",
		zap.String("strategy", result.Strategy),
		zap.String("actual_emission", actual.String()),
		zap.String("target_emission", target.String()),
		zap.String("remaining_pool", remaining.String()),
		zap.String("old_coefficient", old.String()),
		zap.String("new_coefficient", next.String()),
		zap.Time("executed_at", now),
	)
	return result, nil
}
