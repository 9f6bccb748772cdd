/*
handlers.go - HTTP handlers for the reward engine

PURPOSE:
  Exposes reward processing and emission control over REST. Handlers parse
  and validate input, delegate to the engine/rebalancer, and serialize
  responses.

ENDPOINTS:
  POST /rewards/process              Process one activity event
  POST /rewards/batch                Process up to 100 events
  GET  /rewards/user/{id}/stats      Current-day counter projection
  GET  /rewards/user/{id}/history    Recent ledger entries
  GET  /rewards/config               Active configuration (read-only)
  POST /rewards/reset-daily          Counter archival hook
  POST /rewards/rebalance            Run the emission controller (admin/cron)
  GET  /rewards/health               Liveness probe via the stats path

VALIDATION:
  Every event's action id is checked against the fixed enum before it
  reaches the engine; unknown actions, oversized batches, and malformed
  payloads are 400s. Policy rejections and replays are NOT errors: the
  endpoints report coarse aggregate outcomes, and a withheld reward is a
  business result, not a failure.

ERROR HANDLING:
  - 400: validation errors, invalid input
  - 500: persistence failures, config load failures
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mindleap/reward-engine/reward"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine     *reward.Engine
	Rebalancer *reward.Rebalancer
	Config     reward.ConfigStore
	Logger     *zap.Logger
}

// NewHandler creates a handler.
func NewHandler(engine *reward.Engine, rebalancer *reward.Rebalancer, config reward.ConfigStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: engine, Rebalancer: rebalancer, Config: config, Logger: logger}
}

// healthProbeUser is the synthetic user the liveness probe reads stats for.
const healthProbeUser = reward.UserID("health-probe")

// =============================================================================
// EVENT PROCESSING
// =============================================================================

// ProcessEvent handles POST /rewards/process.
func (h *Handler) ProcessEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateEvent(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	outcome, err := h.Engine.ProcessEvent(r.Context(), req.toEvent(time.Now().UTC()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to process event", err)
		return
	}

	amount, _ := outcome.Amount.Float64()
	writeJSON(w, http.StatusOK, ProcessResponse{
		Status: string(outcome.Status),
		Reward: amount,
		Reason: outcome.Reason,
	})
}

// ProcessBatch handles POST /rewards/batch.
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Events) == 0 {
		h.writeError(w, http.StatusBadRequest, "Batch is empty", nil)
		return
	}
	if len(req.Events) > reward.MaxBatchSize {
		h.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Batch exceeds maximum size of %d", reward.MaxBatchSize), nil)
		return
	}
	for i, e := range req.Events {
		if err := validateEvent(e); err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Event %d: %s", i, err.Error()), nil)
			return
		}
	}

	now := time.Now().UTC()
	events := make([]reward.ActionEvent, len(req.Events))
	for i, e := range req.Events {
		events[i] = e.toEvent(now)
	}

	result, err := h.Engine.ProcessBatch(r.Context(), events)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to process batch", err)
		return
	}

	writeJSON(w, http.StatusOK, BatchResponse{
		Processed: result.Processed,
		Granted:   result.Granted,
		Failed:    result.Failed,
	})
}

func validateEvent(req EventRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if req.IdempotencyKey == "" {
		return fmt.Errorf("idempotency_key is required")
	}
	if !reward.KnownAction(reward.ActionID(req.ActionID)) {
		return fmt.Errorf("unsupported action_id %q", req.ActionID)
	}
	return nil
}

// =============================================================================
// PROJECTIONS
// =============================================================================

// GetUserStats handles GET /rewards/user/{userID}/stats.
func (h *Handler) GetUserStats(w http.ResponseWriter, r *http.Request) {
	userID := reward.UserID(chi.URLParam(r, "userID"))
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "userID is required", nil)
		return
	}

	stats, err := h.Engine.UserDailyStats(r.Context(), userID, time.Now().UTC())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load daily stats", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

// GetUserHistory handles GET /rewards/user/{userID}/history.
func (h *Handler) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	userID := reward.UserID(chi.URLParam(r, "userID"))
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "userID is required", nil)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			h.writeError(w, http.StatusBadRequest, "limit must be an integer in [1, 500]", nil)
			return
		}
		limit = n
	}

	entries, err := h.Engine.UserHistory(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// GetConfig handles GET /rewards/config.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Config.Load(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load configuration", err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigDTO(cfg))
}

// =============================================================================
// ADMIN OPERATIONS
// =============================================================================

// ResetDaily handles POST /rewards/reset-daily. A new date naturally starts
// fresh counters, so this is an archival hook, not a reset of live data.
func (h *Handler) ResetDaily(w http.ResponseWriter, r *http.Request) {
	purged, err := h.Engine.ResetDailyCounters(r.Context(), time.Now().UTC())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to archive daily counters", err)
		return
	}
	writeJSON(w, http.StatusOK, ResetResponse{PurgedCounters: purged})
}

// Rebalance handles POST /rewards/rebalance. Intended for admin/cron use.
func (h *Handler) Rebalance(w http.ResponseWriter, r *http.Request) {
	result, err := h.Rebalancer.Execute(r.Context(), time.Now().UTC())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Rebalance failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRebalanceDTO(result))
}

// Health handles GET /rewards/health. Exercises the stats path for a
// synthetic user so a broken store or config surfaces as 500.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Engine.UserDailyStats(r.Context(), healthProbeUser, time.Now().UTC()); err != nil {
		h.Logger.Error("health probe failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, HealthResponse{Status: "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError sends the caller-facing message only; the underlying error is
// logged, never serialized into the response.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		h.Logger.Error(message,
			zap.Int("status", status),
			zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: message})
}
