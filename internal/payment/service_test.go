package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanklink/tanklink/internal/dal"
	"github.com/tanklink/tanklink/internal/entity"
	"github.com/tanklink/tanklink/internal/store/memstore"
)

func newFixture(t *testing.T) (*Service, *dal.DAL) {
	t.Helper()
	d := dal.New(memstore.New(), nil)
	return NewService(d), d
}

// deliveredBooking walks a booking through the lifecycle to delivered with
// drv-1 assigned.
func deliveredBooking(t *testing.T, d *dal.DAL) entity.Booking {
	t.Helper()
	ctx := context.Background()
	created, err := d.CreateBooking(ctx, entity.Booking{
		CustomerID: "cust-1", BasePrice: 100, DistanceCharge: 40, TotalPrice: 140,
	})
	require.NoError(t, err)
	driver := "drv-1"
	for _, status := range []entity.BookingStatus{entity.BookingAccepted, entity.BookingInTransit, entity.BookingDelivered} {
		s := status
		_, err = d.UpdateBooking(ctx, created.ID, dal.BookingPatch{Status: &s, DriverID: &driver})
		require.NoError(t, err)
	}
	got, err := d.GetBooking(ctx, created.ID)
	require.NoError(t, err)
	return got
}

func saveDriver(t *testing.T, d *dal.DAL, id string, earnings float64) {
	t.Helper()
	require.NoError(t, d.SaveUser(context.Background(), entity.User{
		Identity: entity.Identity{ID: id, Email: id + "@example.com", Name: "Sam"},
		Role:     entity.RoleDriver,
		Driver:   &entity.DriverProfile{LicenseNumber: "DL-1", TotalEarnings: earnings},
	}))
}

func TestCollectCashOnlyAfterDelivery(t *testing.T) {
	ctx := context.Background()
	s, d := newFixture(t)

	created, err := d.CreateBooking(ctx, entity.Booking{CustomerID: "cust-1"})
	require.NoError(t, err)

	_, err = s.CollectCash(ctx, created.ID)
	assert.True(t, errors.Is(err, dal.ErrValidation), "pending booking has no cash to collect")

	delivered := deliveredBooking(t, d)
	collected, err := s.CollectCash(ctx, delivered.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentCollected, collected.PaymentStatus)

	_, err = s.CollectCash(ctx, delivered.ID)
	assert.True(t, errors.Is(err, dal.ErrValidation), "double collection")
}

func TestSettleCreditsDriver(t *testing.T) {
	ctx := context.Background()
	s, d := newFixture(t)
	saveDriver(t, d, "drv-1", 60)

	delivered := deliveredBooking(t, d)

	_, err := s.Settle(ctx, delivered.ID)
	assert.True(t, errors.Is(err, dal.ErrValidation), "uncollected cash cannot settle")

	_, err = s.CollectCash(ctx, delivered.ID)
	require.NoError(t, err)

	settled, err := s.Settle(ctx, delivered.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentSettled, settled.PaymentStatus)

	driver, err := d.GetUser(ctx, "drv-1", entity.RoleDriver)
	require.NoError(t, err)
	assert.Equal(t, 200.0, driver.Driver.TotalEarnings, "booking total credited on top of prior earnings")

	_, err = s.Settle(ctx, delivered.ID)
	assert.True(t, errors.Is(err, dal.ErrValidation), "double settlement")
}

func TestRecordExpense(t *testing.T) {
	ctx := context.Background()
	s, d := newFixture(t)

	delivered := deliveredBooking(t, d)

	expense, err := s.RecordExpense(ctx, "drv-1", &delivered.ID, 45.60, "fuel")
	require.NoError(t, err)
	assert.NotEmpty(t, expense.ID)
	assert.False(t, expense.IncurredAt.IsZero())

	_, err = s.RecordExpense(ctx, "drv-1", nil, 0, "free lunch")
	assert.True(t, errors.Is(err, dal.ErrValidation), "amounts must be positive")

	ghost := "no-such-booking"
	_, err = s.RecordExpense(ctx, "drv-1", &ghost, 10, "misc")
	assert.True(t, errors.Is(err, dal.ErrNotFound))

	listed, err := s.Expenses(ctx, "drv-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "fuel", listed[0].Description)
}
