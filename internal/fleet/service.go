// Package fleet manages dispatcher vehicles and payout bank accounts.
package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tanklink/tanklink/internal/dal"
	"github.com/tanklink/tanklink/internal/entity"
	"github.com/tanklink/tanklink/internal/store"
)

// Service provides fleet operations for dispatch admins.
type Service struct {
	dal      *dal.DAL
	validate *validator.Validate
}

// NewService constructs a fleet service.
func NewService(d *dal.DAL) *Service {
	return &Service{dal: d, validate: validator.New()}
}

// RegisterVehicleRequest describes a new vehicle.
type RegisterVehicleRequest struct {
	DispatcherID    string     `json:"dispatcher_id" validate:"required"`
	PlateNumber     string     `json:"plate_number" validate:"required,max=20"`
	Capacity        int        `json:"capacity" validate:"required,gt=0"`
	InsuranceExpiry *time.Time `json:"insurance_expiry,omitempty"`
	Value           float64    `json:"value" validate:"gte=0"`
}

// RegisterVehicle validates and persists a new vehicle.
func (s *Service) RegisterVehicle(ctx context.Context, req RegisterVehicleRequest) (entity.Vehicle, error) {
	if err := s.validate.Struct(req); err != nil {
		return entity.Vehicle{}, fmt.Errorf("fleet request: %w: %v", dal.ErrValidation, err)
	}
	return s.dal.SaveVehicle(ctx, entity.Vehicle{
		DispatcherID:    req.DispatcherID,
		PlateNumber:     req.PlateNumber,
		Capacity:        req.Capacity,
		InsuranceExpiry: req.InsuranceExpiry,
		Value:           req.Value,
	})
}

// Vehicle returns one vehicle.
func (s *Service) Vehicle(ctx context.Context, id string) (entity.Vehicle, error) {
	return s.dal.GetVehicle(ctx, id)
}

// VehiclesByDispatcher lists a dispatcher's vehicles.
func (s *Service) VehiclesByDispatcher(ctx context.Context, dispatcherID string) ([]entity.Vehicle, error) {
	return s.dal.ListVehicles(ctx, store.Query{
		Filter: &store.Filter{Column: "dispatcher_id", Value: dispatcherID},
	})
}

// UpdateVehicle applies a partial update.
func (s *Service) UpdateVehicle(ctx context.Context, id string, patch dal.VehiclePatch) (entity.Vehicle, error) {
	return s.dal.UpdateVehicle(ctx, id, patch)
}

// RemoveVehicle deletes a vehicle.
func (s *Service) RemoveVehicle(ctx context.Context, id string) error {
	return s.dal.DeleteVehicle(ctx, id)
}

// AddBankAccount stores payout details for an identity.
func (s *Service) AddBankAccount(ctx context.Context, a entity.BankAccount) (entity.BankAccount, error) {
	return s.dal.SaveBankAccount(ctx, a)
}

// BankAccounts lists an identity's payout accounts.
func (s *Service) BankAccounts(ctx context.Context, identityID string) ([]entity.BankAccount, error) {
	return s.dal.ListBankAccounts(ctx, identityID)
}

// RemoveBankAccount deletes payout details.
func (s *Service) RemoveBankAccount(ctx context.Context, id string) error {
	return s.dal.DeleteBankAccount(ctx, id)
}
