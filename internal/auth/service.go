package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tanklink/tanklink/internal/dal"
	"github.com/tanklink/tanklink/internal/entity"
)

// ErrInvalidCredentials indicates login failure. Deliberately identical for
// an unknown email and a wrong password.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Service wraps authentication business rules over the data access layer.
type Service struct {
	dal      *dal.DAL
	sessions *SessionManager
}

// NewService constructs a Service.
func NewService(d *dal.DAL, sessions *SessionManager) *Service {
	return &Service{dal: d, sessions: sessions}
}

// RegisterInput carries a new account or a new role for an existing one.
type RegisterInput struct {
	Email    string
	Name     string
	Phone    string
	Password string
	Role     entity.Role

	// Role attribute sets; exactly the one matching Role must be set.
	Customer *entity.CustomerProfile
	Driver   *entity.DriverProfile
	Admin    *entity.AdminProfile
}

// Register creates an identity with its first role. When the email already
// exists the call is a role grant on that account: it requires the account's
// own password and leaves the stored identity fields untouched, so knowing an
// email alone never gives anyone a role or lets them rewrite the profile.
func (s *Service) Register(ctx context.Context, in RegisterInput) (entity.User, error) {
	existing, err := s.dal.FindIdentityByEmail(ctx, in.Email)
	switch {
	case err == nil:
		if bcrypt.CompareHashAndPassword([]byte(existing.PasswordHash), []byte(in.Password)) != nil {
			return entity.User{}, ErrInvalidCredentials
		}
		return s.saveRole(ctx, existing, in)
	case errors.Is(err, dal.ErrNotFound):
		hash, hashErr := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if hashErr != nil {
			return entity.User{}, fmt.Errorf("auth: hash password: %w", hashErr)
		}
		identity := entity.Identity{
			ID:           uuid.NewString(),
			Email:        in.Email,
			Name:         in.Name,
			Phone:        in.Phone,
			PasswordHash: string(hash),
		}
		return s.saveRole(ctx, identity, in)
	default:
		return entity.User{}, err
	}
}

func (s *Service) saveRole(ctx context.Context, identity entity.Identity, in RegisterInput) (entity.User, error) {
	user := entity.User{
		Identity: identity,
		Role:     in.Role,
		Customer: in.Customer,
		Driver:   in.Driver,
		Admin:    in.Admin,
	}
	if err := s.dal.SaveUser(ctx, user); err != nil {
		return entity.User{}, err
	}
	return s.dal.GetUser(ctx, identity.ID, in.Role)
}

// Login checks credentials and the requested role, opens a session and
// returns its token with the role's projection.
func (s *Service) Login(ctx context.Context, email, password string, role entity.Role) (string, entity.User, error) {
	identity, err := s.dal.FindIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, dal.ErrNotFound) {
			return "", entity.User{}, ErrInvalidCredentials
		}
		return "", entity.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)) != nil {
		return "", entity.User{}, ErrInvalidCredentials
	}
	user, err := s.dal.GetUser(ctx, identity.ID, role)
	if err != nil {
		if errors.Is(err, dal.ErrNotFound) {
			return "", entity.User{}, fmt.Errorf("%w: account holds no %s role", ErrInvalidCredentials, role)
		}
		return "", entity.User{}, err
	}
	token, err := s.sessions.Create(ctx, identity.ID)
	if err != nil {
		return "", entity.User{}, err
	}
	return token, user, nil
}

// Logout destroys the session behind the token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Destroy(ctx, token)
}

// GetCurrentUser materializes the session identity's projections.
func (s *Service) GetCurrentUser(ctx context.Context, token string) ([]entity.User, error) {
	id, err := s.CurrentIdentityID(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.dal.GetUserProjections(ctx, id)
}

// RemoveUser deletes the session identity's account, including every role
// assignment and attribute set, and ends the session.
func (s *Service) RemoveUser(ctx context.Context, token string) error {
	id, err := s.CurrentIdentityID(ctx, token)
	if err != nil {
		return err
	}
	if err := s.dal.RemoveUser(ctx, id); err != nil {
		return err
	}
	return s.sessions.Destroy(ctx, token)
}

// CurrentIdentityID resolves the session token to an identity id, failing
// Unauthorized when no live session exists.
func (s *Service) CurrentIdentityID(ctx context.Context, token string) (string, error) {
	id, err := s.sessions.IdentityID(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return "", fmt.Errorf("auth: %w", dal.ErrUnauthorized)
		}
		return "", err
	}
	return id, nil
}
