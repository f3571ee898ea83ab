package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tanklink/tanklink/internal/dal"
	"github.com/tanklink/tanklink/internal/store"
)

// Scanner reports vehicles whose insurance lapses within a window.
type Scanner struct {
	dal    *dal.DAL
	logger *slog.Logger
}

// NewScanner constructs a Scanner over the data access layer.
func NewScanner(d *dal.DAL, logger *slog.Logger) *Scanner {
	return &Scanner{dal: d, logger: logger}
}

// HandleInsuranceScan processes TaskTypeInsuranceScan tasks.
func (s *Scanner) HandleInsuranceScan(ctx context.Context, t *asynq.Task) error {
	var payload InsuranceScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Within <= 0 {
		return asynq.SkipRetry
	}
	deadline := time.Now().Add(payload.Within)

	vehicles, err := s.dal.ListVehicles(ctx, store.Query{})
	if err != nil {
		return err
	}

	flagged := 0
	for _, v := range vehicles {
		if v.InsuranceExpiry == nil || v.InsuranceExpiry.After(deadline) {
			continue
		}
		flagged++
		s.logger.Warn("vehicle insurance expiring",
			slog.String("vehicle_id", v.ID),
			slog.String("plate", v.PlateNumber),
			slog.String("dispatcher_id", v.DispatcherID),
			slog.Time("expires", *v.InsuranceExpiry))
	}
	s.logger.Info("insurance scan finished",
		slog.Int("checked", len(vehicles)),
		slog.Int("flagged", flagged))
	return nil
}
