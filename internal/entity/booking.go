package entity

import (
	"fmt"
	"time"
)

// BookingStatus represents the lifecycle of a delivery booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingAccepted  BookingStatus = "accepted"
	BookingInTransit BookingStatus = "in_transit"
	BookingDelivered BookingStatus = "delivered"
	BookingCancelled BookingStatus = "cancelled"
)

// IsValid checks if the status is valid.
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingPending, BookingAccepted, BookingInTransit, BookingDelivered, BookingCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition can leave this status.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingDelivered || s == BookingCancelled
}

// CanCancel checks if a booking can be cancelled in this status.
func (s BookingStatus) CanCancel() bool {
	return s == BookingPending || s == BookingAccepted
}

// legalTransitions enumerates the five permitted status pairs.
var legalTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingAccepted, BookingCancelled},
	BookingAccepted:  {BookingInTransit, BookingCancelled},
	BookingInTransit: {BookingDelivered},
}

// CanTransitionTo reports whether from→to is a legal status transition.
func (s BookingStatus) CanTransitionTo(to BookingStatus) bool {
	for _, next := range legalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentStatus tracks cash-on-delivery bookkeeping for a booking.
type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "unpaid"
	PaymentCollected PaymentStatus = "collected"
	PaymentSettled   PaymentStatus = "settled"
)

// IsValid checks if the payment status is valid.
func (p PaymentStatus) IsValid() bool {
	switch p {
	case PaymentUnpaid, PaymentCollected, PaymentSettled:
		return true
	default:
		return false
	}
}

// Booking represents one tanker delivery order.
type Booking struct {
	ID             string
	CustomerID     string
	DispatcherID   *string
	DriverID       *string
	TankerSize     int
	PickupAddr     string
	DropoffAddr    string
	BasePrice      float64
	DistanceCharge float64
	TotalPrice     float64
	Status         BookingStatus
	PaymentStatus  PaymentStatus
	CancelReason   *string
	CanCancel      bool
	AcceptedAt     *time.Time
	DeliveredAt    *time.Time
	CreatedAt      time.Time
}

// PriceConsistent reports whether basePrice + distanceCharge equals
// totalPrice within half a cent.
func (b *Booking) PriceConsistent() bool {
	diff := b.BasePrice + b.DistanceCharge - b.TotalPrice
	return diff < 0.005 && diff > -0.005
}

// ValidateTransition checks one status change against the lifecycle rules
// and the companion-field requirements. driverID and cancelReason are the
// values the booking would carry after the update is merged.
func (b *Booking) ValidateTransition(to BookingStatus, driverID *string, cancelReason *string) error {
	if !to.IsValid() {
		return fmt.Errorf("unknown status %q", to)
	}
	if !b.Status.CanTransitionTo(to) {
		return fmt.Errorf("illegal transition from %q to %q", b.Status, to)
	}
	switch to {
	case BookingAccepted:
		if driverID == nil || *driverID == "" {
			return fmt.Errorf("transition to %q requires a driver id", to)
		}
	case BookingCancelled:
		if !b.Status.CanCancel() || b.DeliveredAt != nil {
			return fmt.Errorf("booking in status %q can no longer be cancelled", b.Status)
		}
		if cancelReason == nil || *cancelReason == "" {
			return fmt.Errorf("transition to %q requires a cancellation reason", to)
		}
	}
	return nil
}

// ApplyTransition mutates the booking for a validated status change:
// timestamps are set exactly once and CanCancel is recomputed from the new
// status.
func (b *Booking) ApplyTransition(to BookingStatus, now time.Time) {
	b.Status = to
	switch to {
	case BookingAccepted:
		if b.AcceptedAt == nil {
			t := now
			b.AcceptedAt = &t
		}
	case BookingDelivered:
		if b.DeliveredAt == nil {
			t := now
			b.DeliveredAt = &t
		}
	}
	b.CanCancel = to.CanCancel()
}
