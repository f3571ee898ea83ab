// Package mapper converts between storage rows and domain entities. Every
// conversion is total: a missing or malformed backend field degrades to its
// explicit unset value instead of failing the read, and no conversion ever
// returns an error.
package mapper

import (
	"time"

	"github.com/tanklink/tanklink/internal/entity"
	"github.com/tanklink/tanklink/internal/store"
)

// timeLayout is the ISO-8601 boundary format. Millisecond precision is the
// round-trip contract; finer precision is truncated at the boundary.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders a timestamp for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime reads a stored timestamp. The zero time and false signal an
// absent or malformed value.
func ParseTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func str(row store.Row, key string) string {
	s, _ := row[key].(string)
	return s
}

func optStr(row store.Row, key string) *string {
	s, ok := row[key].(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func f64(row store.Row, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func integer(row store.Row, key string) int {
	return int(f64(row, key))
}

func boolean(row store.Row, key string) bool {
	b, _ := row[key].(bool)
	return b
}

func ts(row store.Row, key string) time.Time {
	t, _ := ParseTime(row[key])
	return t
}

func optTs(row store.Row, key string) *time.Time {
	t, ok := ParseTime(row[key])
	if !ok {
		return nil
	}
	return &t
}

func putOptStr(row store.Row, key string, v *string) {
	if v != nil {
		row[key] = *v
	}
}

func putOptTs(row store.Row, key string, v *time.Time) {
	if v != nil {
		row[key] = FormatTime(*v)
	}
}

func strSlice(row store.Row, key string) []string {
	raw, ok := row[key].([]any)
	if !ok {
		if typed, ok := row[key].([]string); ok {
			out := make([]string, len(typed))
			copy(out, typed)
			return out
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// RowFromIdentity converts an identity to its storage row.
func RowFromIdentity(id entity.Identity) store.Row {
	row := store.Row{
		"id":    id.ID,
		"email": id.Email,
		"name":  id.Name,
		"phone": id.Phone,
	}
	if id.PasswordHash != "" {
		row["password_hash"] = id.PasswordHash
	}
	if !id.CreatedAt.IsZero() {
		row["created_at"] = FormatTime(id.CreatedAt)
	}
	return row
}

// IdentityFromRow converts a storage row to an identity.
func IdentityFromRow(row store.Row) entity.Identity {
	return entity.Identity{
		ID:           str(row, "id"),
		Email:        str(row, "email"),
		Name:         str(row, "name"),
		Phone:        str(row, "phone"),
		PasswordHash: str(row, "password_hash"),
		CreatedAt:    ts(row, "created_at"),
	}
}

// RowFromRoleAssignment converts a role assignment to its storage row. The
// row id is the (identity, role) pair joined with a colon.
func RowFromRoleAssignment(ra entity.RoleAssignment) store.Row {
	row := store.Row{
		"id":          AssignmentID(ra.IdentityID, ra.Role),
		"identity_id": ra.IdentityID,
		"role":        string(ra.Role),
	}
	if !ra.GrantedAt.IsZero() {
		row["granted_at"] = FormatTime(ra.GrantedAt)
	}
	return row
}

// RoleAssignmentFromRow converts a storage row to a role assignment.
func RoleAssignmentFromRow(row store.Row) entity.RoleAssignment {
	return entity.RoleAssignment{
		IdentityID: str(row, "identity_id"),
		Role:       entity.Role(str(row, "role")),
		GrantedAt:  ts(row, "granted_at"),
	}
}

// AssignmentID builds the row id for one (identity, role) pair.
func AssignmentID(identityID string, role entity.Role) string {
	return identityID + ":" + string(role)
}

// RowFromCustomerProfile converts a customer attribute set to its storage
// row, keyed by the owning identity id.
func RowFromCustomerProfile(identityID string, p entity.CustomerProfile) store.Row {
	row := store.Row{"id": identityID}
	if p.SavedAddresses != nil {
		addrs := make([]any, len(p.SavedAddresses))
		for i, a := range p.SavedAddresses {
			addrs[i] = a
		}
		row["saved_addresses"] = addrs
	}
	return row
}

// CustomerProfileFromRow converts a storage row to a customer attribute set.
func CustomerProfileFromRow(row store.Row) entity.CustomerProfile {
	return entity.CustomerProfile{SavedAddresses: strSlice(row, "saved_addresses")}
}

// RowFromDriverProfile converts a driver attribute set to its storage row.
func RowFromDriverProfile(identityID string, p entity.DriverProfile) store.Row {
	return store.Row{
		"id":             identityID,
		"vehicle_id":     p.VehicleID,
		"license_number": p.LicenseNumber,
		"total_earnings": p.TotalEarnings,
	}
}

// DriverProfileFromRow converts a storage row to a driver attribute set.
func DriverProfileFromRow(row store.Row) entity.DriverProfile {
	return entity.DriverProfile{
		VehicleID:     str(row, "vehicle_id"),
		LicenseNumber: str(row, "license_number"),
		TotalEarnings: f64(row, "total_earnings"),
	}
}

// RowFromAdminProfile converts an admin attribute set to its storage row.
func RowFromAdminProfile(identityID string, p entity.AdminProfile) store.Row {
	return store.Row{
		"id":            identityID,
		"business_name": p.BusinessName,
	}
}

// AdminProfileFromRow converts a storage row to an admin attribute set.
func AdminProfileFromRow(row store.Row) entity.AdminProfile {
	return entity.AdminProfile{BusinessName: str(row, "business_name")}
}

// RowFromBooking converts a booking to its storage row.
func RowFromBooking(b entity.Booking) store.Row {
	row := store.Row{
		"id":              b.ID,
		"customer_id":     b.CustomerID,
		"tanker_size":     float64(b.TankerSize),
		"pickup_addr":     b.PickupAddr,
		"dropoff_addr":    b.DropoffAddr,
		"base_price":      b.BasePrice,
		"distance_charge": b.DistanceCharge,
		"total_price":     b.TotalPrice,
		"status":          string(b.Status),
		"payment_status":  string(b.PaymentStatus),
		"can_cancel":      b.CanCancel,
	}
	putOptStr(row, "dispatcher_id", b.DispatcherID)
	putOptStr(row, "driver_id", b.DriverID)
	putOptStr(row, "cancel_reason", b.CancelReason)
	putOptTs(row, "accepted_at", b.AcceptedAt)
	putOptTs(row, "delivered_at", b.DeliveredAt)
	if !b.CreatedAt.IsZero() {
		row["created_at"] = FormatTime(b.CreatedAt)
	}
	return row
}

// BookingFromRow converts a storage row to a booking.
func BookingFromRow(row store.Row) entity.Booking {
	return entity.Booking{
		ID:             str(row, "id"),
		CustomerID:     str(row, "customer_id"),
		DispatcherID:   optStr(row, "dispatcher_id"),
		DriverID:       optStr(row, "driver_id"),
		TankerSize:     integer(row, "tanker_size"),
		PickupAddr:     str(row, "pickup_addr"),
		DropoffAddr:    str(row, "dropoff_addr"),
		BasePrice:      f64(row, "base_price"),
		DistanceCharge: f64(row, "distance_charge"),
		TotalPrice:     f64(row, "total_price"),
		Status:         entity.BookingStatus(str(row, "status")),
		PaymentStatus:  entity.PaymentStatus(str(row, "payment_status")),
		CancelReason:   optStr(row, "cancel_reason"),
		CanCancel:      boolean(row, "can_cancel"),
		AcceptedAt:     optTs(row, "accepted_at"),
		DeliveredAt:    optTs(row, "delivered_at"),
		CreatedAt:      ts(row, "created_at"),
	}
}

// RowFromVehicle converts a vehicle to its storage row.
func RowFromVehicle(v entity.Vehicle) store.Row {
	row := store.Row{
		"id":            v.ID,
		"dispatcher_id": v.DispatcherID,
		"plate_number":  v.PlateNumber,
		"capacity":      float64(v.Capacity),
		"value":         v.Value,
	}
	putOptTs(row, "insurance_expiry", v.InsuranceExpiry)
	if !v.CreatedAt.IsZero() {
		row["created_at"] = FormatTime(v.CreatedAt)
	}
	return row
}

// VehicleFromRow converts a storage row to a vehicle.
func VehicleFromRow(row store.Row) entity.Vehicle {
	return entity.Vehicle{
		ID:              str(row, "id"),
		DispatcherID:    str(row, "dispatcher_id"),
		PlateNumber:     str(row, "plate_number"),
		Capacity:        integer(row, "capacity"),
		InsuranceExpiry: optTs(row, "insurance_expiry"),
		Value:           f64(row, "value"),
		CreatedAt:       ts(row, "created_at"),
	}
}

// RowFromBankAccount converts a bank account to its storage row.
func RowFromBankAccount(a entity.BankAccount) store.Row {
	row := store.Row{
		"id":             a.ID,
		"identity_id":    a.IdentityID,
		"bank_name":      a.BankName,
		"account_name":   a.AccountName,
		"account_number": a.AccountNumber,
	}
	if !a.CreatedAt.IsZero() {
		row["created_at"] = FormatTime(a.CreatedAt)
	}
	return row
}

// BankAccountFromRow converts a storage row to a bank account.
func BankAccountFromRow(row store.Row) entity.BankAccount {
	return entity.BankAccount{
		ID:            str(row, "id"),
		IdentityID:    str(row, "identity_id"),
		BankName:      str(row, "bank_name"),
		AccountName:   str(row, "account_name"),
		AccountNumber: str(row, "account_number"),
		CreatedAt:     ts(row, "created_at"),
	}
}

// RowFromExpense converts an expense to its storage row.
func RowFromExpense(e entity.Expense) store.Row {
	row := store.Row{
		"id":          e.ID,
		"driver_id":   e.DriverID,
		"amount":      e.Amount,
		"description": e.Description,
	}
	putOptStr(row, "booking_id", e.BookingID)
	if !e.IncurredAt.IsZero() {
		row["incurred_at"] = FormatTime(e.IncurredAt)
	}
	return row
}

// ExpenseFromRow converts a storage row to an expense.
func ExpenseFromRow(row store.Row) entity.Expense {
	return entity.Expense{
		ID:          str(row, "id"),
		DriverID:    str(row, "driver_id"),
		BookingID:   optStr(row, "booking_id"),
		Amount:      f64(row, "amount"),
		Description: str(row, "description"),
		IncurredAt:  ts(row, "incurred_at"),
	}
}
