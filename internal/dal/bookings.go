package dal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tanklink/tanklink/internal/entity"
	"github.com/tanklink/tanklink/internal/mapper"
	"github.com/tanklink/tanklink/internal/store"
)

// BookingPatch is a partial booking update. Nil fields are left untouched;
// the patch is merged over the full current entity before anything is
// persisted, so a write never clobbers fields it did not name.
type BookingPatch struct {
	Status         *entity.BookingStatus
	DriverID       *string
	DispatcherID   *string
	CancelReason   *string
	BasePrice      *float64
	DistanceCharge *float64
	TotalPrice     *float64
	PaymentStatus  *entity.PaymentStatus
	PickupAddr     *string
	DropoffAddr    *string

	// ExpectedStatus, when set, makes the update conditional: it fails
	// Validation unless the current status matches. This is the optimistic
	// check for concurrent same-id updates, which otherwise race
	// last-write-wins.
	ExpectedStatus *entity.BookingStatus
}

// CreateBooking persists a new booking. Status defaults to pending, payment
// status to unpaid, and the monetary invariant basePrice + distanceCharge ==
// totalPrice is enforced.
func (d *DAL) CreateBooking(ctx context.Context, b entity.Booking) (entity.Booking, error) {
	const op = "CreateBooking"
	if b.CustomerID == "" {
		return entity.Booking{}, validationErr(op, "missing customer id")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = entity.BookingPending
	}
	if b.Status != entity.BookingPending {
		return entity.Booking{}, validationErr(op, "new booking must start pending, got %q", b.Status)
	}
	if b.PaymentStatus == "" {
		b.PaymentStatus = entity.PaymentUnpaid
	}
	if !b.PriceConsistent() {
		return entity.Booking{}, validationErr(op, "base price %.2f + distance charge %.2f does not equal total price %.2f",
			b.BasePrice, b.DistanceCharge, b.TotalPrice)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.CanCancel = b.Status.CanCancel()
	b.AcceptedAt = nil
	b.DeliveredAt = nil

	if err := d.store.Upsert(ctx, TableBookings, b.ID, mapper.RowFromBooking(b)); err != nil {
		return entity.Booking{}, dataAccessErr(op, "booking", b.ID, err)
	}
	return b, nil
}

// GetBooking returns one booking by id.
func (d *DAL) GetBooking(ctx context.Context, id string) (entity.Booking, error) {
	const op = "GetBooking"
	row, err := d.store.Get(ctx, TableBookings, id)
	if err != nil {
		if errors.Is(err, store.ErrNoRow) {
			return entity.Booking{}, notFoundErr(op, "booking", id)
		}
		return entity.Booking{}, dataAccessErr(op, "booking", id, err)
	}
	return mapper.BookingFromRow(row), nil
}

// ListBookings returns bookings matching the query, newest first unless the
// query names its own sort.
func (d *DAL) ListBookings(ctx context.Context, q store.Query) ([]entity.Booking, error) {
	const op = "ListBookings"
	if q.Sort == nil {
		q.Sort = &store.Sort{Column: "created_at", Desc: true}
	}
	rows, err := d.store.Select(ctx, TableBookings, q)
	if err != nil {
		return nil, dataAccessErr(op, "bookings", "", err)
	}
	out := make([]entity.Booking, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapper.BookingFromRow(row))
	}
	return out, nil
}

// UpdateBooking merges the patch over the current booking, validates the
// lifecycle and monetary invariants against the merged result, and persists
// the whole merged entity. Status transitions outside the five legal pairs
// fail Validation naming the attempted and current status.
func (d *DAL) UpdateBooking(ctx context.Context, id string, patch BookingPatch) (entity.Booking, error) {
	const op = "UpdateBooking"
	current, err := d.GetBooking(ctx, id)
	if err != nil {
		return entity.Booking{}, err
	}
	if patch.ExpectedStatus != nil && current.Status != *patch.ExpectedStatus {
		return entity.Booking{}, validationErr(op, "booking %s is %q, expected %q", id, current.Status, *patch.ExpectedStatus)
	}

	merged := current
	if patch.DriverID != nil {
		merged.DriverID = patch.DriverID
	}
	if patch.DispatcherID != nil {
		merged.DispatcherID = patch.DispatcherID
	}
	if patch.CancelReason != nil {
		merged.CancelReason = patch.CancelReason
	}
	if patch.PickupAddr != nil {
		merged.PickupAddr = *patch.PickupAddr
	}
	if patch.DropoffAddr != nil {
		merged.DropoffAddr = *patch.DropoffAddr
	}
	if patch.BasePrice != nil {
		merged.BasePrice = *patch.BasePrice
	}
	if patch.DistanceCharge != nil {
		merged.DistanceCharge = *patch.DistanceCharge
	}
	if patch.TotalPrice != nil {
		merged.TotalPrice = *patch.TotalPrice
	}
	if patch.BasePrice != nil || patch.DistanceCharge != nil || patch.TotalPrice != nil {
		if !merged.PriceConsistent() {
			return entity.Booking{}, validationErr(op, "base price %.2f + distance charge %.2f does not equal total price %.2f",
				merged.BasePrice, merged.DistanceCharge, merged.TotalPrice)
		}
	}
	if patch.PaymentStatus != nil {
		if !patch.PaymentStatus.IsValid() {
			return entity.Booking{}, validationErr(op, "unknown payment status %q", *patch.PaymentStatus)
		}
		merged.PaymentStatus = *patch.PaymentStatus
	}

	if patch.Status != nil && *patch.Status != current.Status {
		if err := current.ValidateTransition(*patch.Status, merged.DriverID, merged.CancelReason); err != nil {
			return entity.Booking{}, validationErr(op, "%v", err)
		}
		merged.ApplyTransition(*patch.Status, time.Now())
	} else {
		merged.CanCancel = merged.Status.CanCancel()
	}

	if err := d.store.Upsert(ctx, TableBookings, id, mapper.RowFromBooking(merged)); err != nil {
		return entity.Booking{}, dataAccessErr(op, "booking", id, err)
	}
	return merged, nil
}

// DeleteBooking removes a booking outright. Lifecycle-respecting callers
// cancel instead; this exists for administrative cleanup.
func (d *DAL) DeleteBooking(ctx context.Context, id string) error {
	const op = "DeleteBooking"
	if _, err := d.GetBooking(ctx, id); err != nil {
		return err
	}
	if err := d.store.Delete(ctx, TableBookings, id); err != nil {
		return dataAccessErr(op, "booking", id, err)
	}
	return nil
}
