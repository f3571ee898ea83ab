package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanklink/tanklink/internal/dal"
	"github.com/tanklink/tanklink/internal/entity"
	"github.com/tanklink/tanklink/internal/store/memstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedBooking(t *testing.T, d *dal.DAL, createdAt time.Time) entity.Booking {
	t.Helper()
	b, err := d.CreateBooking(context.Background(), entity.Booking{
		CustomerID:     "cust-1",
		TankerSize:     8000,
		PickupAddr:     "Depot 4",
		DropoffAddr:    "Site 12",
		BasePrice:      60,
		DistanceCharge: 140,
		TotalPrice:     200,
		CreatedAt:      createdAt,
	})
	require.NoError(t, err)
	return b
}

func TestBookingSweepCancelsStalePending(t *testing.T) {
	ctx := context.Background()
	d := dal.New(memstore.New(), nil)
	sweeper := NewSweeper(d, testLogger())

	stale := seedBooking(t, d, time.Now().Add(-48*time.Hour))
	fresh := seedBooking(t, d, time.Now().Add(-time.Hour))

	// An accepted booking older than the cutoff must survive the sweep.
	old := seedBooking(t, d, time.Now().Add(-48*time.Hour))
	accepted := entity.BookingAccepted
	driver := "driver-1"
	_, err := d.UpdateBooking(ctx, old.ID, dal.BookingPatch{
		Status:   &accepted,
		DriverID: &driver,
	})
	require.NoError(t, err)

	task, err := NewBookingSweepTask(24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, sweeper.HandleBookingSweep(ctx, task))

	got, err := d.GetBooking(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BookingCancelled, got.Status)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, "expired: no driver accepted in time", *got.CancelReason)
	assert.False(t, got.CanCancel)

	got, err = d.GetBooking(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BookingPending, got.Status)

	got, err = d.GetBooking(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BookingAccepted, got.Status)
}

func TestBookingSweepRejectsBadPayload(t *testing.T) {
	ctx := context.Background()
	sweeper := NewSweeper(dal.New(memstore.New(), nil), testLogger())

	err := sweeper.HandleBookingSweep(ctx, asynq.NewTask(TaskTypeBookingSweep, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewBookingSweepTask(0)
	require.NoError(t, err)
	err = sweeper.HandleBookingSweep(ctx, task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestInsuranceScanFlagsExpiring(t *testing.T) {
	ctx := context.Background()
	d := dal.New(memstore.New(), nil)
	scanner := NewScanner(d, testLogger())

	soon := time.Now().Add(10 * 24 * time.Hour)
	far := time.Now().Add(365 * 24 * time.Hour)
	_, err := d.SaveVehicle(ctx, entity.Vehicle{
		DispatcherID: "disp-1", PlateNumber: "TKR-001", Capacity: 8000, InsuranceExpiry: &soon,
	})
	require.NoError(t, err)
	_, err = d.SaveVehicle(ctx, entity.Vehicle{
		DispatcherID: "disp-1", PlateNumber: "TKR-002", Capacity: 8000, InsuranceExpiry: &far,
	})
	require.NoError(t, err)

	task, err := NewInsuranceScanTask(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.NoError(t, scanner.HandleInsuranceScan(ctx, task))

	err = scanner.HandleInsuranceScan(ctx, asynq.NewTask(TaskTypeInsuranceScan, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
