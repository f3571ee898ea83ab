package dal

import (
	"context"
	"errors"
	"time"

	"github.com/tanklink/tanklink/internal/entity"
	"github.com/tanklink/tanklink/internal/mapper"
	"github.com/tanklink/tanklink/internal/store"
)

// SaveUser persists one User projection: the Identity row is created or
// merged, the (identity, role) assignment is upserted, and the role's
// attribute set is upserted. Saving the same id again with a different role
// adds that role instead of overwriting: multi-role accounts are built
// incrementally through repeated saves.
func (d *DAL) SaveUser(ctx context.Context, u entity.User) error {
	const op = "SaveUser"
	if u.ID == "" {
		return validationErr(op, "missing identity id")
	}
	if !u.Role.IsValid() {
		return validationErr(op, "unknown role %q", u.Role)
	}
	profileRow, err := profileRowFor(u)
	if err != nil {
		return validationErr(op, "%v", err)
	}

	identity := u.Identity
	existing, err := d.store.Get(ctx, TableIdentities, u.ID)
	switch {
	case err == nil:
		prev := mapper.IdentityFromRow(existing)
		if identity.CreatedAt.IsZero() {
			identity.CreatedAt = prev.CreatedAt
		}
		if identity.PasswordHash == "" {
			identity.PasswordHash = prev.PasswordHash
		}
	case errors.Is(err, store.ErrNoRow):
		if identity.CreatedAt.IsZero() {
			identity.CreatedAt = time.Now()
		}
	default:
		return dataAccessErr(op, "identity", u.ID, err)
	}

	profileTable, _ := ProfileTable(u.Role)
	assignment := entity.RoleAssignment{
		IdentityID: u.ID,
		Role:       u.Role,
		GrantedAt:  time.Now(),
	}

	err = d.runAtomic(ctx, func(st store.Store) error {
		if err := st.Upsert(ctx, TableIdentities, u.ID, mapper.RowFromIdentity(identity)); err != nil {
			return err
		}
		assignmentID := mapper.AssignmentID(u.ID, u.Role)
		if err := st.Upsert(ctx, TableRoleAssignments, assignmentID, mapper.RowFromRoleAssignment(assignment)); err != nil {
			return err
		}
		return st.Upsert(ctx, profileTable, u.ID, profileRow)
	})
	if err != nil {
		return dataAccessErr(op, "user", u.ID, err)
	}
	return nil
}

// GetUser materializes the projection for one caller-specified role, used
// for login-time role disambiguation. The projection is undefined (NotFound)
// when the identity, the role assignment, or the attribute set is absent.
func (d *DAL) GetUser(ctx context.Context, id string, role entity.Role) (entity.User, error) {
	const op = "GetUser"
	if !role.IsValid() {
		return entity.User{}, validationErr(op, "unknown role %q", role)
	}
	identity, err := d.getIdentity(ctx, op, id)
	if err != nil {
		return entity.User{}, err
	}
	if _, err := d.store.Get(ctx, TableRoleAssignments, mapper.AssignmentID(id, role)); err != nil {
		if errors.Is(err, store.ErrNoRow) {
			return entity.User{}, notFoundErr(op, "role assignment", mapper.AssignmentID(id, role))
		}
		return entity.User{}, dataAccessErr(op, "role assignment", id, err)
	}
	user, ok, err := d.materialize(ctx, op, identity, role)
	if err != nil {
		return entity.User{}, err
	}
	if !ok {
		return entity.User{}, notFoundErr(op, "attribute set", mapper.AssignmentID(id, role))
	}
	return user, nil
}

// GetUserProjections materializes one projection per role the identity
// holds. Roles whose attribute set is missing are skipped. NotFound when the
// identity does not exist or holds no roles.
func (d *DAL) GetUserProjections(ctx context.Context, id string) ([]entity.User, error) {
	const op = "GetUserProjections"
	identity, err := d.getIdentity(ctx, op, id)
	if err != nil {
		return nil, err
	}
	assignments, err := d.roleAssignments(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, notFoundErr(op, "role assignments", id)
	}
	users := make([]entity.User, 0, len(assignments))
	for _, ra := range assignments {
		user, ok, err := d.materialize(ctx, op, identity, ra.Role)
		if err != nil {
			return nil, err
		}
		if ok {
			users = append(users, user)
		}
	}
	return users, nil
}

// GetUsers materializes every projection of every identity, ordered by
// identity id then role.
func (d *DAL) GetUsers(ctx context.Context) ([]entity.User, error) {
	const op = "GetUsers"
	rows, err := d.store.Select(ctx, TableIdentities, store.Query{
		Sort: &store.Sort{Column: "id"},
	})
	if err != nil {
		return nil, dataAccessErr(op, "identities", "", err)
	}
	var users []entity.User
	for _, row := range rows {
		identity := mapper.IdentityFromRow(row)
		assignments, err := d.roleAssignments(ctx, op, identity.ID)
		if err != nil {
			return nil, err
		}
		for _, ra := range assignments {
			user, ok, err := d.materialize(ctx, op, identity, ra.Role)
			if err != nil {
				return nil, err
			}
			if ok {
				users = append(users, user)
			}
		}
	}
	return users, nil
}

// FindIdentityByEmail resolves an identity by email for login.
func (d *DAL) FindIdentityByEmail(ctx context.Context, email string) (entity.Identity, error) {
	const op = "FindIdentityByEmail"
	rows, err := d.store.Select(ctx, TableIdentities, store.Query{
		Filter: &store.Filter{Column: "email", Value: email},
		Limit:  1,
	})
	if err != nil {
		return entity.Identity{}, dataAccessErr(op, "identity", email, err)
	}
	if len(rows) == 0 {
		return entity.Identity{}, notFoundErr(op, "identity", email)
	}
	return mapper.IdentityFromRow(rows[0]), nil
}

// RemoveRole revokes one role: the assignment and its attribute set are
// deleted. Revoking the last remaining role removes the identity as well, so
// an active identity never holds an empty role set.
func (d *DAL) RemoveRole(ctx context.Context, id string, role entity.Role) error {
	const op = "RemoveRole"
	if !role.IsValid() {
		return validationErr(op, "unknown role %q", role)
	}
	assignments, err := d.roleAssignments(ctx, op, id)
	if err != nil {
		return err
	}
	held := false
	for _, ra := range assignments {
		if ra.Role == role {
			held = true
			break
		}
	}
	if !held {
		return notFoundErr(op, "role assignment", mapper.AssignmentID(id, role))
	}
	profileTable, _ := ProfileTable(role)
	err = d.runAtomic(ctx, func(st store.Store) error {
		if err := st.Delete(ctx, TableRoleAssignments, mapper.AssignmentID(id, role)); err != nil {
			return err
		}
		if err := st.Delete(ctx, profileTable, id); err != nil {
			return err
		}
		if len(assignments) == 1 {
			return st.Delete(ctx, TableIdentities, id)
		}
		return nil
	})
	if err != nil {
		return dataAccessErr(op, "user", id, err)
	}
	return nil
}

// RemoveUser deletes the identity together with every role assignment and
// attribute set it owns.
func (d *DAL) RemoveUser(ctx context.Context, id string) error {
	const op = "RemoveUser"
	if _, err := d.getIdentity(ctx, op, id); err != nil {
		return err
	}
	assignments, err := d.roleAssignments(ctx, op, id)
	if err != nil {
		return err
	}
	err = d.runAtomic(ctx, func(st store.Store) error {
		for _, ra := range assignments {
			if err := st.Delete(ctx, TableRoleAssignments, mapper.AssignmentID(id, ra.Role)); err != nil {
				return err
			}
			if table, ok := ProfileTable(ra.Role); ok {
				if err := st.Delete(ctx, table, id); err != nil {
					return err
				}
			}
		}
		return st.Delete(ctx, TableIdentities, id)
	})
	if err != nil {
		return dataAccessErr(op, "user", id, err)
	}
	return nil
}

func (d *DAL) getIdentity(ctx context.Context, op, id string) (entity.Identity, error) {
	row, err := d.store.Get(ctx, TableIdentities, id)
	if err != nil {
		if errors.Is(err, store.ErrNoRow) {
			return entity.Identity{}, notFoundErr(op, "identity", id)
		}
		return entity.Identity{}, dataAccessErr(op, "identity", id, err)
	}
	return mapper.IdentityFromRow(row), nil
}

func (d *DAL) roleAssignments(ctx context.Context, op, id string) ([]entity.RoleAssignment, error) {
	rows, err := d.store.Select(ctx, TableRoleAssignments, store.Query{
		Filter: &store.Filter{Column: "identity_id", Value: id},
		Sort:   &store.Sort{Column: "role"},
	})
	if err != nil {
		return nil, dataAccessErr(op, "role assignments", id, err)
	}
	out := make([]entity.RoleAssignment, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapper.RoleAssignmentFromRow(row))
	}
	return out, nil
}

// materialize joins the identity with one role's attribute set. ok=false
// when the attribute set is absent, leaving that projection undefined.
func (d *DAL) materialize(ctx context.Context, op string, identity entity.Identity, role entity.Role) (entity.User, bool, error) {
	table, ok := ProfileTable(role)
	if !ok {
		return entity.User{}, false, nil
	}
	row, err := d.store.Get(ctx, table, identity.ID)
	if err != nil {
		if errors.Is(err, store.ErrNoRow) {
			return entity.User{}, false, nil
		}
		return entity.User{}, false, dataAccessErr(op, "attribute set", identity.ID, err)
	}
	user := entity.User{Identity: identity, Role: role}
	switch role {
	case entity.RoleCustomer:
		p := mapper.CustomerProfileFromRow(row)
		user.Customer = &p
	case entity.RoleDriver:
		p := mapper.DriverProfileFromRow(row)
		user.Driver = &p
	case entity.RoleAdmin:
		p := mapper.AdminProfileFromRow(row)
		user.Admin = &p
	}
	return user, true, nil
}

func profileRowFor(u entity.User) (store.Row, error) {
	switch u.Role {
	case entity.RoleCustomer:
		if u.Customer == nil {
			return nil, errors.New("customer projection missing customer attributes")
		}
		return mapper.RowFromCustomerProfile(u.ID, *u.Customer), nil
	case entity.RoleDriver:
		if u.Driver == nil {
			return nil, errors.New("driver projection missing driver attributes")
		}
		return mapper.RowFromDriverProfile(u.ID, *u.Driver), nil
	case entity.RoleAdmin:
		if u.Admin == nil {
			return nil, errors.New("admin projection missing admin attributes")
		}
		return mapper.RowFromAdminProfile(u.ID, *u.Admin), nil
	default:
		return nil, errors.New("unknown role")
	}
}
