package dal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanklink/tanklink/internal/entity"
	"github.com/tanklink/tanklink/internal/store"
)

func pendingBooking() entity.Booking {
	return entity.Booking{
		CustomerID:     "cust-1",
		TankerSize:     5000,
		PickupAddr:     "Depot 4",
		DropoffAddr:    "Site 12",
		BasePrice:      100,
		DistanceCharge: 40,
		TotalPrice:     140,
	}
}

func statusPtr(s entity.BookingStatus) *entity.BookingStatus { return &s }
func strPtr(s string) *string                                { return &s }

func TestCreateBookingDefaults(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)

	created, err := d.CreateBooking(ctx, pendingBooking())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, entity.BookingPending, created.Status)
	assert.Equal(t, entity.PaymentUnpaid, created.PaymentStatus)
	assert.True(t, created.CanCancel)
	assert.Nil(t, created.AcceptedAt)
	assert.Nil(t, created.DeliveredAt)
	assert.False(t, created.CreatedAt.IsZero())
}

func TestCreateBookingValidation(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)

	b := pendingBooking()
	b.CustomerID = ""
	_, err := d.CreateBooking(ctx, b)
	assert.True(t, errors.Is(err, ErrValidation), "missing customer")

	b = pendingBooking()
	b.Status = entity.BookingAccepted
	_, err = d.CreateBooking(ctx, b)
	assert.True(t, errors.Is(err, ErrValidation), "must start pending")

	b = pendingBooking()
	b.TotalPrice = 200
	_, err = d.CreateBooking(ctx, b)
	assert.True(t, errors.Is(err, ErrValidation), "price invariant")
}

// Full lifecycle: pending → accepted → in_transit → delivered, with skip
// attempts rejected along the way.
func TestBookingLifecycle(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)

	created, err := d.CreateBooking(ctx, pendingBooking())
	require.NoError(t, err)
	id := created.ID

	// Skipping straight to delivered is illegal.
	_, err = d.UpdateBooking(ctx, id, BookingPatch{Status: statusPtr(entity.BookingDelivered)})
	assert.True(t, errors.Is(err, ErrValidation))

	// Accepting without a driver is illegal.
	_, err = d.UpdateBooking(ctx, id, BookingPatch{Status: statusPtr(entity.BookingAccepted)})
	assert.True(t, errors.Is(err, ErrValidation))

	accepted, err := d.UpdateBooking(ctx, id, BookingPatch{
		Status:   statusPtr(entity.BookingAccepted),
		DriverID: strPtr("drv-1"),
	})
	require.NoError(t, err)
	require.NotNil(t, accepted.AcceptedAt)
	// Storage truncates timestamps to milliseconds; compare at that grain.
	firstAccepted := accepted.AcceptedAt.Truncate(time.Millisecond)
	assert.True(t, accepted.CanCancel)

	inTransit, err := d.UpdateBooking(ctx, id, BookingPatch{Status: statusPtr(entity.BookingInTransit)})
	require.NoError(t, err)
	assert.False(t, inTransit.CanCancel)
	require.NotNil(t, inTransit.AcceptedAt)
	assert.True(t, inTransit.AcceptedAt.Equal(firstAccepted), "acceptedAt must be set exactly once")

	// Cancelling mid-transit is illegal.
	_, err = d.UpdateBooking(ctx, id, BookingPatch{
		Status:       statusPtr(entity.BookingCancelled),
		CancelReason: strPtr("too late"),
	})
	assert.True(t, errors.Is(err, ErrValidation))

	delivered, err := d.UpdateBooking(ctx, id, BookingPatch{Status: statusPtr(entity.BookingDelivered)})
	require.NoError(t, err)
	require.NotNil(t, delivered.DeliveredAt)
	assert.False(t, delivered.CanCancel)
	assert.True(t, delivered.AcceptedAt.Equal(firstAccepted))

	// Terminal: nothing leaves delivered.
	_, err = d.UpdateBooking(ctx, id, BookingPatch{Status: statusPtr(entity.BookingPending)})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestCancelRequiresReason(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)

	created, err := d.CreateBooking(ctx, pendingBooking())
	require.NoError(t, err)

	_, err = d.UpdateBooking(ctx, created.ID, BookingPatch{Status: statusPtr(entity.BookingCancelled)})
	assert.True(t, errors.Is(err, ErrValidation))

	cancelled, err := d.UpdateBooking(ctx, created.ID, BookingPatch{
		Status:       statusPtr(entity.BookingCancelled),
		CancelReason: strPtr("customer changed mind"),
	})
	require.NoError(t, err)
	assert.Equal(t, entity.BookingCancelled, cancelled.Status)
	assert.False(t, cancelled.CanCancel)
	require.NotNil(t, cancelled.CancelReason)
}

func TestUpdateBookingMergePreservesUnnamedFields(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)

	created, err := d.CreateBooking(ctx, pendingBooking())
	require.NoError(t, err)

	updated, err := d.UpdateBooking(ctx, created.ID, BookingPatch{
		PickupAddr: strPtr("Depot 9"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Depot 9", updated.PickupAddr)
	assert.Equal(t, "Site 12", updated.DropoffAddr)
	assert.Equal(t, 140.0, updated.TotalPrice)
	assert.Equal(t, entity.BookingPending, updated.Status)
}

func TestUpdateBookingPriceInvariant(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)

	created, err := d.CreateBooking(ctx, pendingBooking())
	require.NoError(t, err)

	// Patching one price component alone breaks the invariant.
	base := 120.0
	_, err = d.UpdateBooking(ctx, created.ID, BookingPatch{BasePrice: &base})
	assert.True(t, errors.Is(err, ErrValidation))

	// A consistent triple passes.
	total := 160.0
	updated, err := d.UpdateBooking(ctx, created.ID, BookingPatch{BasePrice: &base, TotalPrice: &total})
	require.NoError(t, err)
	assert.Equal(t, 160.0, updated.TotalPrice)
}

func TestUpdateBookingExpectedStatus(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)

	created, err := d.CreateBooking(ctx, pendingBooking())
	require.NoError(t, err)

	// First accept wins.
	_, err = d.UpdateBooking(ctx, created.ID, BookingPatch{
		Status:         statusPtr(entity.BookingAccepted),
		DriverID:       strPtr("drv-1"),
		ExpectedStatus: statusPtr(entity.BookingPending),
	})
	require.NoError(t, err)

	// Second accept observes the stale pending status and loses.
	_, err = d.UpdateBooking(ctx, created.ID, BookingPatch{
		Status:         statusPtr(entity.BookingAccepted),
		DriverID:       strPtr("drv-2"),
		ExpectedStatus: statusPtr(entity.BookingPending),
	})
	assert.True(t, errors.Is(err, ErrValidation))

	got, err := d.GetBooking(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "drv-1", *got.DriverID)
}

func TestListBookingsNewestFirst(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)

	old := pendingBooking()
	old.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older, err := d.CreateBooking(ctx, old)
	require.NoError(t, err)

	recent := pendingBooking()
	recent.CreatedAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	newer, err := d.CreateBooking(ctx, recent)
	require.NoError(t, err)

	listed, err := d.ListBookings(ctx, store.Query{})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, newer.ID, listed[0].ID)
	assert.Equal(t, older.ID, listed[1].ID)

	byCustomer, err := d.ListBookings(ctx, store.Query{
		Filter: &store.Filter{Column: "customer_id", Value: "cust-1"},
	})
	require.NoError(t, err)
	assert.Len(t, byCustomer, 2)
}

func TestDeleteBooking(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)

	created, err := d.CreateBooking(ctx, pendingBooking())
	require.NoError(t, err)

	require.NoError(t, d.DeleteBooking(ctx, created.ID))
	_, err = d.GetBooking(ctx, created.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	err = d.DeleteBooking(ctx, created.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetBookingNotFound(t *testing.T) {
	d := newTestDAL(t)
	_, err := d.GetBooking(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
}
