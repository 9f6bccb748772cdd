/*
sink.go - External token transfer sink

PURPOSE:
  The actual on-chain payout lives outside this subsystem. The engine hands
  (userId, amount) to a TransferSink after the ledger commit and moves on:
  sink failures are logged and counted but never roll back the ledger entry.
  "Ledger says paid, transfer may have failed" is a known, bounded
  inconsistency reconciled out-of-band.

IMPLEMENTATIONS:
  LogSink:  development sink that only logs the payout
  HTTPSink: fire-and-forget POST to an external payout service
*/
package reward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransferSink performs the actual token payout. Retries, if desired, are
// the sink's responsibility; the engine never retries.
type TransferSink interface {
	Transfer(ctx context.Context, userID UserID, amount decimal.Decimal) error
}

// =============================================================================
// LOG SINK
// =============================================================================

// LogSink records payouts in the log without moving tokens. Used in
// development and as the default when no payout service is configured.
type LogSink struct {
	Logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{Logger: logger}
}

func (s *LogSink) Transfer(_ context.Context, userID UserID, amount decimal.Decimal) error {
	s.Logger.Info("token transfer",
		zap.String("user_id", string(userID)),
		zap.String("amount", amount.String()),
	)
	return nil
}

// =============================================================================
// HTTP SINK
// =============================================================================

// HTTPSink posts payouts to an external payout service. The response body is
// discarded; a non-2xx status is reported as an error for the engine to log.
type HTTPSink struct {
	URL    string
	Client *http.Client
}

func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

type transferPayload struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

func (s *HTTPSink) Transfer(ctx context.Context, userID UserID, amount decimal.Decimal) error {
	body, err := json.Marshal(transferPayload{
		UserID: string(userID),
		Amount: amount.String(),
	})
	if err != nil {
		return fmt.Errorf("encoding transfer payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("transfer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("transfer service returned %d", resp.StatusCode)
	}
	return nil
}
