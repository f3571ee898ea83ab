package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tanklink/tanklink/internal/dal"
	"github.com/tanklink/tanklink/internal/entity"
	"github.com/tanklink/tanklink/internal/store"
)

// sweepCancelReason is recorded on bookings the sweep cancels.
const sweepCancelReason = "expired: no driver accepted in time"

// Sweeper cancels bookings that stayed pending past their deadline.
type Sweeper struct {
	dal    *dal.DAL
	logger *slog.Logger
}

// NewSweeper constructs a Sweeper over the data access layer.
func NewSweeper(d *dal.DAL, logger *slog.Logger) *Sweeper {
	return &Sweeper{dal: d, logger: logger}
}

// HandleBookingSweep processes TaskTypeBookingSweep tasks. Each stale pending
// booking is cancelled through the regular lifecycle, so subscribers see the
// change like any other.
func (s *Sweeper) HandleBookingSweep(ctx context.Context, t *asynq.Task) error {
	var payload BookingSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.OlderThan <= 0 {
		return asynq.SkipRetry
	}
	cutoff := time.Now().Add(-payload.OlderThan)

	pending := entity.BookingPending
	bookings, err := s.dal.ListBookings(ctx, store.Query{
		Filter: &store.Filter{Column: "status", Value: string(pending)},
	})
	if err != nil {
		return err
	}

	cancelled := entity.BookingCancelled
	reason := sweepCancelReason
	swept := 0
	for _, b := range bookings {
		if !b.CreatedAt.Before(cutoff) {
			continue
		}
		_, err := s.dal.UpdateBooking(ctx, b.ID, dal.BookingPatch{
			Status:         &cancelled,
			CancelReason:   &reason,
			ExpectedStatus: &pending,
		})
		if err != nil {
			// A concurrent accept between list and update loses the race
			// in the booking's favor.
			if errors.Is(err, dal.ErrValidation) || errors.Is(err, dal.ErrNotFound) {
				continue
			}
			return err
		}
		swept++
	}
	s.logger.Info("booking sweep finished",
		slog.Int("swept", swept),
		slog.Time("cutoff", cutoff))
	return nil
}
