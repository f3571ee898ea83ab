// Package entity holds the domain model: identities with role-specific
// projections, bookings with their lifecycle rules, vehicles, bank accounts
// and driver expenses.
package entity

import "time"

// Role names one capacity an identity can act in. An identity may hold
// several roles at once.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
)

// IsValid reports whether the role is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleCustomer, RoleDriver, RoleAdmin:
		return true
	default:
		return false
	}
}

// Roles lists every known role in a stable order.
func Roles() []Role {
	return []Role{RoleCustomer, RoleDriver, RoleAdmin}
}

// Identity is the role-independent core account record.
type Identity struct {
	ID           string
	Email        string
	Name         string
	Phone        string
	PasswordHash string
	CreatedAt    time.Time
}

// RoleAssignment grants one role to one identity. One row exists per
// (identity, role) pair.
type RoleAssignment struct {
	IdentityID string
	Role       Role
	GrantedAt  time.Time
}

// CustomerProfile is the attribute set attached to a customer role.
type CustomerProfile struct {
	SavedAddresses []string
}

// DriverProfile is the attribute set attached to a driver role.
type DriverProfile struct {
	VehicleID     string
	LicenseNumber string
	TotalEarnings float64
}

// AdminProfile is the attribute set attached to a dispatch admin role.
type AdminProfile struct {
	BusinessName string
}

// User is a materialized projection: Identity joined with one selected role
// assignment and its matching attribute set. It is never stored directly.
// Exactly one of Customer/Driver/Admin is non-nil and matches Role.
type User struct {
	Identity
	Role     Role
	Customer *CustomerProfile
	Driver   *DriverProfile
	Admin    *AdminProfile
}

// Profile returns the attribute set matching the projection's role, or nil
// when it is missing.
func (u *User) Profile() any {
	switch u.Role {
	case RoleCustomer:
		if u.Customer != nil {
			return u.Customer
		}
	case RoleDriver:
		if u.Driver != nil {
			return u.Driver
		}
	case RoleAdmin:
		if u.Admin != nil {
			return u.Admin
		}
	}
	return nil
}
