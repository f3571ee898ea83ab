// Package dal is the sole path for reading and writing persisted entities.
// It reconciles one logical user identity against several normalized tables,
// enforces the booking lifecycle, and wraps every backend failure into a
// small typed error taxonomy.
package dal

import (
	"context"
	"log/slog"

	"github.com/tanklink/tanklink/internal/entity"
	"github.com/tanklink/tanklink/internal/store"
)

// Normalized table names shared by the data access layer, the subscription
// manager and the Postgres schema/trigger setup.
const (
	TableIdentities       = "identities"
	TableRoleAssignments  = "role_assignments"
	TableCustomerProfiles = "customer_profiles"
	TableDriverProfiles   = "driver_profiles"
	TableAdminProfiles    = "admin_profiles"
	TableBookings         = "bookings"
	TableVehicles         = "vehicles"
	TableBankAccounts     = "bank_accounts"
	TableExpenses         = "expenses"
)

// Tables lists every normalized table in a stable order.
func Tables() []string {
	return []string{
		TableIdentities,
		TableRoleAssignments,
		TableCustomerProfiles,
		TableDriverProfiles,
		TableAdminProfiles,
		TableBookings,
		TableVehicles,
		TableBankAccounts,
		TableExpenses,
	}
}

// UserTables lists the tables a single User projection can span. A change to
// any of them may alter a materialized user.
func UserTables() []string {
	return []string{
		TableIdentities,
		TableRoleAssignments,
		TableCustomerProfiles,
		TableDriverProfiles,
		TableAdminProfiles,
	}
}

// ProfileTable returns the attribute-set table for one role.
func ProfileTable(role entity.Role) (string, bool) {
	switch role {
	case entity.RoleCustomer:
		return TableCustomerProfiles, true
	case entity.RoleDriver:
		return TableDriverProfiles, true
	case entity.RoleAdmin:
		return TableAdminProfiles, true
	default:
		return "", false
	}
}

// DAL provides entity operations over a backend store.
type DAL struct {
	store  store.Store
	logger *slog.Logger
}

// New constructs a DAL over the given backend.
func New(st store.Store, logger *slog.Logger) *DAL {
	if logger == nil {
		logger = slog.Default()
	}
	return &DAL{store: st, logger: logger}
}

// Store exposes the underlying backend for the subscription manager.
func (d *DAL) Store() store.Store {
	return d.store
}

// runAtomic groups writes in one backend transaction when the backend
// supports it, and falls back to sequential writes when it does not.
func (d *DAL) runAtomic(ctx context.Context, fn func(store.Store) error) error {
	if a, ok := d.store.(store.Atomic); ok {
		return a.RunAtomic(ctx, fn)
	}
	return fn(d.store)
}
