// Package payment models cash-on-delivery bookkeeping: payment status moves
// unpaid → collected → settled, and drivers record expenses against their
// deliveries. No payment gateway is involved.
package payment

import (
	"context"
	"fmt"

	"github.com/tanklink/tanklink/internal/dal"
	"github.com/tanklink/tanklink/internal/entity"
)

// Service provides payment bookkeeping over the data access layer.
type Service struct {
	dal *dal.DAL
}

// NewService constructs a payment service.
func NewService(d *dal.DAL) *Service {
	return &Service{dal: d}
}

// CollectCash marks a delivered booking's cash as collected by the driver.
func (s *Service) CollectCash(ctx context.Context, bookingID string) (entity.Booking, error) {
	b, err := s.dal.GetBooking(ctx, bookingID)
	if err != nil {
		return entity.Booking{}, err
	}
	if b.Status != entity.BookingDelivered {
		return entity.Booking{}, fmt.Errorf("collect cash: %w: booking is %q, cash is collected on delivery",
			dal.ErrValidation, b.Status)
	}
	if b.PaymentStatus != entity.PaymentUnpaid {
		return entity.Booking{}, fmt.Errorf("collect cash: %w: payment already %q",
			dal.ErrValidation, b.PaymentStatus)
	}
	status := entity.PaymentCollected
	return s.dal.UpdateBooking(ctx, bookingID, dal.BookingPatch{PaymentStatus: &status})
}

// Settle marks collected cash as settled with the dispatcher and credits the
// booking total to the driver's earnings.
func (s *Service) Settle(ctx context.Context, bookingID string) (entity.Booking, error) {
	b, err := s.dal.GetBooking(ctx, bookingID)
	if err != nil {
		return entity.Booking{}, err
	}
	if b.PaymentStatus != entity.PaymentCollected {
		return entity.Booking{}, fmt.Errorf("settle: %w: payment is %q, only collected cash settles",
			dal.ErrValidation, b.PaymentStatus)
	}
	status := entity.PaymentSettled
	updated, err := s.dal.UpdateBooking(ctx, bookingID, dal.BookingPatch{PaymentStatus: &status})
	if err != nil {
		return entity.Booking{}, err
	}
	if b.DriverID != nil {
		if err := s.creditDriver(ctx, *b.DriverID, b.TotalPrice); err != nil {
			return entity.Booking{}, err
		}
	}
	return updated, nil
}

// RecordExpense stores a driver expense, optionally tied to a booking.
func (s *Service) RecordExpense(ctx context.Context, driverID string, bookingID *string, amount float64, description string) (entity.Expense, error) {
	if bookingID != nil {
		if _, err := s.dal.GetBooking(ctx, *bookingID); err != nil {
			return entity.Expense{}, err
		}
	}
	return s.dal.SaveExpense(ctx, entity.Expense{
		DriverID:    driverID,
		BookingID:   bookingID,
		Amount:      amount,
		Description: description,
	})
}

// Expenses lists a driver's recorded expenses.
func (s *Service) Expenses(ctx context.Context, driverID string) ([]entity.Expense, error) {
	return s.dal.ListExpenses(ctx, driverID)
}

// creditDriver adds the settled amount to the driver's running earnings by
// re-saving the driver projection with the bumped total.
func (s *Service) creditDriver(ctx context.Context, driverID string, amount float64) error {
	driver, err := s.dal.GetUser(ctx, driverID, entity.RoleDriver)
	if err != nil {
		return err
	}
	driver.Driver.TotalEarnings += amount
	return s.dal.SaveUser(ctx, driver)
}
