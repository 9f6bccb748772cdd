/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  internal domain model from the external contract. Validation is done in
  handlers; DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/mindleap/reward-engine/reward"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// EventRequest is one activity report. The server stamps the timestamp.
type EventRequest struct {
	UserID         string            `json:"user_id"`
	ActionID       string            `json:"action_id"`
	Value          *float64          `json:"value,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ProcessResponse reports the outcome of a single event.
type ProcessResponse struct {
	Status string  `json:"status"`
	Reward float64 `json:"reward"`
	Reason string  `json:"reason,omitempty"`
}

// BatchRequest wraps up to 100 events.
type BatchRequest struct {
	Events []EventRequest `json:"events"`
}

// BatchResponse reports aggregate counts, not per-event detail. Zero-value
// and rejected events still count as processed.
type BatchResponse struct {
	Processed int `json:"processed"`
	Granted   int `json:"granted"`
	Failed    int `json:"failed"`
}

// DailyStatsDTO is the per-user daily projection. Remaining is -1 for
// uncapped categories.
type DailyStatsDTO struct {
	UserID    string             `json:"user_id"`
	Date      string             `json:"date"`
	Totals    map[string]float64 `json:"per_category_totals"`
	Remaining map[string]float64 `json:"remaining_caps"`
}

// LedgerEntryDTO is one granted reward in history responses.
type LedgerEntryDTO struct {
	ID         string            `json:"id"`
	ActionID   string            `json:"action_id"`
	MindAmount float64           `json:"mind_amount"`
	Timestamp  string            `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RebalanceResponse echoes the controller run for the admin/cron caller.
type RebalanceResponse struct {
	Skipped        bool    `json:"skipped"`
	Strategy       string  `json:"strategy,omitempty"`
	ActualEmission float64 `json:"actual_emission"`
	TargetEmission float64 `json:"target_emission"`
	RemainingPool  float64 `json:"remaining_pool"`
	OldCoefficient float64 `json:"old_coefficient"`
	NewCoefficient float64 `json:"new_coefficient"`
	ExecutedAt     string  `json:"executed_at"`
}

// ResetResponse reports the archival hook result.
type ResetResponse struct {
	PurgedCounters int `json:"purged_counters"`
}

// HealthResponse is the liveness probe payload.
type HealthResponse struct {
	Status string `json:"status"`
}

// ConfigDTO is the read-only admin view of the active configuration.
type ConfigDTO struct {
	RebalanceCoefficient float64                  `json:"rebalance_coefficient"`
	Rewards              map[string]RewardRuleDTO `json:"rewards"`
	AutoRebalance        AutoRebalanceDTO         `json:"auto_rebalance"`
	Security             SecurityDTO              `json:"security"`
}

type RewardRuleDTO struct {
	ActionID   string   `json:"action_id"`
	BaseReward float64  `json:"base_reward"`
	DailyCap   *float64 `json:"daily_cap"`
	Notes      string   `json:"notes,omitempty"`
}

type AutoRebalanceDTO struct {
	Enabled             bool   `json:"enabled"`
	Schedule            string `json:"schedule,omitempty"`
	Strategy            string `json:"strategy,omitempty"`
	RemainingPoolMonths int    `json:"remaining_pool_months"`
}

type SecurityDTO struct {
	IdempotencyEnabled     bool `json:"idempotency_enabled"`
	ServerSideVerification bool `json:"server_side_verification"`
	DuplicatePrevention    bool `json:"duplicate_prevention"`
}

// ErrorResponse is the standard error payload. It carries only the
// caller-facing message; internal error detail stays in the logs.
type ErrorResponse struct {
	Error string `json:"error"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func (r EventRequest) toEvent(timestamp time.Time) reward.ActionEvent {
	return reward.ActionEvent{
		UserID:         reward.UserID(r.UserID),
		ActionID:       reward.ActionID(r.ActionID),
		Value:          r.Value,
		IdempotencyKey: r.IdempotencyKey,
		Timestamp:      timestamp,
		Metadata:       r.Metadata,
	}
}

func toStatsDTO(stats reward.DailyStats) DailyStatsDTO {
	dto := DailyStatsDTO{
		UserID:    string(stats.UserID),
		Date:      stats.Day,
		Totals:    make(map[string]float64, len(stats.Totals)),
		Remaining: make(map[string]float64, len(stats.Remaining)),
	}
	for cat, total := range stats.Totals {
		v, _ := total.Float64()
		dto.Totals[string(cat)] = v
	}
	for cat, remaining := range stats.Remaining {
		v, _ := remaining.Float64()
		dto.Remaining[string(cat)] = v
	}
	return dto
}

func toEntryDTOs(entries []reward.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		amount, _ := e.MindAmount.Float64()
		dtos[i] = LedgerEntryDTO{
			ID:         string(e.ID),
			ActionID:   string(e.ActionID),
			MindAmount: amount,
			Timestamp:  e.Timestamp.Format(time.RFC3339),
			Metadata:   e.Metadata,
		}
	}
	return dtos
}

func toRebalanceDTO(result reward.RebalanceResult) RebalanceResponse {
	actual, _ := result.ActualEmission.Float64()
	target, _ := result.TargetEmission.Float64()
	pool, _ := result.RemainingPool.Float64()
	oldC, _ := result.OldCoefficient.Float64()
	newC, _ := result.NewCoefficient.Float64()
	return RebalanceResponse{
		Skipped:        result.Skipped,
		Strategy:       result.Strategy,
		ActualEmission: actual,
		TargetEmission: target,
		RemainingPool:  pool,
		OldCoefficient: oldC,
		NewCoefficient: newC,
		ExecutedAt:     result.ExecutedAt.Format(time.RFC3339),
	}
}

func toConfigDTO(cfg *reward.Config) ConfigDTO {
	dto := ConfigDTO{
		RebalanceCoefficient: cfg.RebalanceCoefficient,
		Rewards:              make(map[string]RewardRuleDTO, len(cfg.Rewards)),
		AutoRebalance: AutoRebalanceDTO{
			Enabled:             cfg.AutoRebalance.Enabled,
			Schedule:            cfg.AutoRebalance.Schedule,
			Strategy:            cfg.AutoRebalance.Strategy,
			RemainingPoolMonths: cfg.AutoRebalance.RemainingPoolMonths,
		},
		Security: SecurityDTO{
			IdempotencyEnabled:     cfg.Security.IdempotencyEnabled,
			ServerSideVerification: cfg.Security.ServerSideVerification,
			DuplicatePrevention:    cfg.Security.DuplicatePrevention,
		},
	}
	for id, rule := range cfg.Rewards {
		dto.Rewards[string(id)] = RewardRuleDTO{
			ActionID:   string(rule.ActionID),
			BaseReward: rule.BaseReward,
			DailyCap:   rule.DailyCap,
			Notes:      rule.Notes,
		}
	}
	return dto
}
