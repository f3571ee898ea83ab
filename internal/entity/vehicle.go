package entity

import "time"

// Vehicle belongs to exactly one dispatcher identity.
type Vehicle struct {
	ID              string
	DispatcherID    string
	PlateNumber     string
	Capacity        int
	InsuranceExpiry *time.Time
	Value           float64
	CreatedAt       time.Time
}

// BankAccount holds payout details for one identity.
type BankAccount struct {
	ID            string
	IdentityID    string
	BankName      string
	AccountName   string
	AccountNumber string
	CreatedAt     time.Time
}

// Expense is a driver-incurred cost, optionally tied to a booking.
type Expense struct {
	ID          string
	DriverID    string
	BookingID   *string
	Amount      float64
	Description string
	IncurredAt  time.Time
}
