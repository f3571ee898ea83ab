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

// VehiclePatch is a partial vehicle update, merged over the full entity.
type VehiclePatch struct {
	PlateNumber     *string
	Capacity        *int
	InsuranceExpiry *time.Time
	Value           *float64
}

// SaveVehicle creates or replaces a vehicle.
func (d *DAL) SaveVehicle(ctx context.Context, v entity.Vehicle) (entity.Vehicle, error) {
	const op = "SaveVehicle"
	if v.DispatcherID == "" {
		return entity.Vehicle{}, validationErr(op, "vehicle must belong to a dispatcher")
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	if err := d.store.Upsert(ctx, TableVehicles, v.ID, mapper.RowFromVehicle(v)); err != nil {
		return entity.Vehicle{}, dataAccessErr(op, "vehicle", v.ID, err)
	}
	return v, nil
}

// GetVehicle returns one vehicle by id.
func (d *DAL) GetVehicle(ctx context.Context, id string) (entity.Vehicle, error) {
	const op = "GetVehicle"
	row, err := d.store.Get(ctx, TableVehicles, id)
	if err != nil {
		if errors.Is(err, store.ErrNoRow) {
			return entity.Vehicle{}, notFoundErr(op, "vehicle", id)
		}
		return entity.Vehicle{}, dataAccessErr(op, "vehicle", id, err)
	}
	return mapper.VehicleFromRow(row), nil
}

// ListVehicles returns vehicles matching the query.
func (d *DAL) ListVehicles(ctx context.Context, q store.Query) ([]entity.Vehicle, error) {
	const op = "ListVehicles"
	if q.Sort == nil {
		q.Sort = &store.Sort{Column: "created_at", Desc: true}
	}
	rows, err := d.store.Select(ctx, TableVehicles, q)
	if err != nil {
		return nil, dataAccessErr(op, "vehicles", "", err)
	}
	out := make([]entity.Vehicle, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapper.VehicleFromRow(row))
	}
	return out, nil
}

// UpdateVehicle merges the patch over the current vehicle and persists the
// merged whole.
func (d *DAL) UpdateVehicle(ctx context.Context, id string, patch VehiclePatch) (entity.Vehicle, error) {
	const op = "UpdateVehicle"
	merged, err := d.GetVehicle(ctx, id)
	if err != nil {
		return entity.Vehicle{}, err
	}
	if patch.PlateNumber != nil {
		merged.PlateNumber = *patch.PlateNumber
	}
	if patch.Capacity != nil {
		merged.Capacity = *patch.Capacity
	}
	if patch.InsuranceExpiry != nil {
		merged.InsuranceExpiry = patch.InsuranceExpiry
	}
	if patch.Value != nil {
		merged.Value = *patch.Value
	}
	if err := d.store.Upsert(ctx, TableVehicles, id, mapper.RowFromVehicle(merged)); err != nil {
		return entity.Vehicle{}, dataAccessErr(op, "vehicle", id, err)
	}
	return merged, nil
}

// DeleteVehicle removes a vehicle.
func (d *DAL) DeleteVehicle(ctx context.Context, id string) error {
	const op = "DeleteVehicle"
	if _, err := d.GetVehicle(ctx, id); err != nil {
		return err
	}
	if err := d.store.Delete(ctx, TableVehicles, id); err != nil {
		return dataAccessErr(op, "vehicle", id, err)
	}
	return nil
}

// SaveBankAccount creates or replaces payout details for an identity.
func (d *DAL) SaveBankAccount(ctx context.Context, a entity.BankAccount) (entity.BankAccount, error) {
	const op = "SaveBankAccount"
	if a.IdentityID == "" {
		return entity.BankAccount{}, validationErr(op, "bank account must belong to an identity")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if err := d.store.Upsert(ctx, TableBankAccounts, a.ID, mapper.RowFromBankAccount(a)); err != nil {
		return entity.BankAccount{}, dataAccessErr(op, "bank account", a.ID, err)
	}
	return a, nil
}

// GetBankAccount returns one bank account by id.
func (d *DAL) GetBankAccount(ctx context.Context, id string) (entity.BankAccount, error) {
	const op = "GetBankAccount"
	row, err := d.store.Get(ctx, TableBankAccounts, id)
	if err != nil {
		if errors.Is(err, store.ErrNoRow) {
			return entity.BankAccount{}, notFoundErr(op, "bank account", id)
		}
		return entity.BankAccount{}, dataAccessErr(op, "bank account", id, err)
	}
	return mapper.BankAccountFromRow(row), nil
}

// ListBankAccounts returns every bank account owned by one identity.
func (d *DAL) ListBankAccounts(ctx context.Context, identityID string) ([]entity.BankAccount, error) {
	const op = "ListBankAccounts"
	rows, err := d.store.Select(ctx, TableBankAccounts, store.Query{
		Filter: &store.Filter{Column: "identity_id", Value: identityID},
		Sort:   &store.Sort{Column: "created_at"},
	})
	if err != nil {
		return nil, dataAccessErr(op, "bank accounts", identityID, err)
	}
	out := make([]entity.BankAccount, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapper.BankAccountFromRow(row))
	}
	return out, nil
}

// DeleteBankAccount removes a bank account.
func (d *DAL) DeleteBankAccount(ctx context.Context, id string) error {
	const op = "DeleteBankAccount"
	if _, err := d.GetBankAccount(ctx, id); err != nil {
		return err
	}
	if err := d.store.Delete(ctx, TableBankAccounts, id); err != nil {
		return dataAccessErr(op, "bank account", id, err)
	}
	return nil
}

// SaveExpense records a driver expense.
func (d *DAL) SaveExpense(ctx context.Context, e entity.Expense) (entity.Expense, error) {
	const op = "SaveExpense"
	if e.DriverID == "" {
		return entity.Expense{}, validationErr(op, "expense must belong to a driver")
	}
	if e.Amount <= 0 {
		return entity.Expense{}, validationErr(op, "expense amount must be positive, got %.2f", e.Amount)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.IncurredAt.IsZero() {
		e.IncurredAt = time.Now()
	}
	if err := d.store.Upsert(ctx, TableExpenses, e.ID, mapper.RowFromExpense(e)); err != nil {
		return entity.Expense{}, dataAccessErr(op, "expense", e.ID, err)
	}
	return e, nil
}

// ListExpenses returns every expense recorded by one driver, oldest first.
func (d *DAL) ListExpenses(ctx context.Context, driverID string) ([]entity.Expense, error) {
	const op = "ListExpenses"
	rows, err := d.store.Select(ctx, TableExpenses, store.Query{
		Filter: &store.Filter{Column: "driver_id", Value: driverID},
		Sort:   &store.Sort{Column: "incurred_at"},
	})
	if err != nil {
		return nil, dataAccessErr(op, "expenses", driverID, err)
	}
	out := make([]entity.Expense, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapper.ExpenseFromRow(row))
	}
	return out, nil
}
