// Package booking is the consumer-facing service for the booking lifecycle.
// It validates request DTOs and drives the data access layer; lifecycle
// rules themselves live below it and cannot be bypassed here.
package booking

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/tanklink/tanklink/internal/dal"
	"github.com/tanklink/tanklink/internal/entity"
	"github.com/tanklink/tanklink/internal/store"
)

// Service provides booking operations for customers, drivers and admins.
type Service struct {
	dal      *dal.DAL
	validate *validator.Validate
}

// NewService constructs a booking service.
func NewService(d *dal.DAL) *Service {
	return &Service{dal: d, validate: validator.New()}
}

// CreateRequest describes a new booking.
type CreateRequest struct {
	CustomerID     string  `json:"customer_id" validate:"required"`
	TankerSize     int     `json:"tanker_size" validate:"required,gt=0"`
	PickupAddr     string  `json:"pickup_addr" validate:"required"`
	DropoffAddr    string  `json:"dropoff_addr" validate:"required"`
	BasePrice      float64 `json:"base_price" validate:"gte=0"`
	DistanceCharge float64 `json:"distance_charge" validate:"gte=0"`
	TotalPrice     float64 `json:"total_price" validate:"gte=0"`
}

// ListRequest narrows a booking listing.
type ListRequest struct {
	Status     *entity.BookingStatus `json:"status,omitempty"`
	CustomerID *string               `json:"customer_id,omitempty"`
	DriverID   *string               `json:"driver_id,omitempty"`
	Limit      int                   `json:"limit" validate:"gte=0,lte=1000"`
	Offset     int                   `json:"offset" validate:"gte=0"`
}

// Create validates and persists a new pending booking.
func (s *Service) Create(ctx context.Context, req CreateRequest) (entity.Booking, error) {
	if err := s.validate.Struct(req); err != nil {
		return entity.Booking{}, invalid(err)
	}
	return s.dal.CreateBooking(ctx, entity.Booking{
		CustomerID:     req.CustomerID,
		TankerSize:     req.TankerSize,
		PickupAddr:     req.PickupAddr,
		DropoffAddr:    req.DropoffAddr,
		BasePrice:      req.BasePrice,
		DistanceCharge: req.DistanceCharge,
		TotalPrice:     req.TotalPrice,
	})
}

// Get returns one booking.
func (s *Service) Get(ctx context.Context, id string) (entity.Booking, error) {
	return s.dal.GetBooking(ctx, id)
}

// List returns bookings matching the filters, newest first.
func (s *Service) List(ctx context.Context, req ListRequest) ([]entity.Booking, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, invalid(err)
	}
	q := store.Query{Limit: req.Limit, Offset: req.Offset}
	switch {
	case req.Status != nil:
		q.Filter = &store.Filter{Column: "status", Value: string(*req.Status)}
	case req.CustomerID != nil:
		q.Filter = &store.Filter{Column: "customer_id", Value: *req.CustomerID}
	case req.DriverID != nil:
		q.Filter = &store.Filter{Column: "driver_id", Value: *req.DriverID}
	}
	return s.dal.ListBookings(ctx, q)
}

// Accept moves a pending booking to accepted, assigning the driver.
func (s *Service) Accept(ctx context.Context, id, driverID string) (entity.Booking, error) {
	status := entity.BookingAccepted
	expected := entity.BookingPending
	return s.dal.UpdateBooking(ctx, id, dal.BookingPatch{
		Status:         &status,
		DriverID:       &driverID,
		ExpectedStatus: &expected,
	})
}

// Start moves an accepted booking to in_transit.
func (s *Service) Start(ctx context.Context, id string) (entity.Booking, error) {
	status := entity.BookingInTransit
	return s.dal.UpdateBooking(ctx, id, dal.BookingPatch{Status: &status})
}

// Deliver completes an in-transit booking.
func (s *Service) Deliver(ctx context.Context, id string) (entity.Booking, error) {
	status := entity.BookingDelivered
	return s.dal.UpdateBooking(ctx, id, dal.BookingPatch{Status: &status})
}

// Cancel cancels a booking with a required reason.
func (s *Service) Cancel(ctx context.Context, id, reason string) (entity.Booking, error) {
	status := entity.BookingCancelled
	return s.dal.UpdateBooking(ctx, id, dal.BookingPatch{
		Status:       &status,
		CancelReason: &reason,
	})
}

// Reprice updates the monetary fields together so the price invariant can be
// checked against the merged values.
func (s *Service) Reprice(ctx context.Context, id string, basePrice, distanceCharge, totalPrice float64) (entity.Booking, error) {
	return s.dal.UpdateBooking(ctx, id, dal.BookingPatch{
		BasePrice:      &basePrice,
		DistanceCharge: &distanceCharge,
		TotalPrice:     &totalPrice,
	})
}

// invalid folds a validator error into the shared Validation kind.
func invalid(err error) error {
	return fmt.Errorf("booking request: %w: %v", dal.ErrValidation, err)
}
