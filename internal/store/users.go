package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sanamente-ai/sanamente-platform/internal/tenancy"
)

// User is a clinician or admin account.
type User struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Email    string
	Role     string
}

type UserStore struct {
	db Querier
}

// Get loads a user within the tenant.
func (s *UserStore) Get(ctx context.Context, tenantID, userID uuid.UUID) (User, error) {
	if err := tenancy.RequireTenant("user", tenancy.OpFind, tenantID); err != nil {
		return User{}, err
	}

	query := `SELECT id, tenant_id, email, role FROM users WHERE tenant_id = $1 AND id = $2`
	var u User
	if err := s.db.QueryRow(ctx, query, tenantID, userID).Scan(&u.ID, &u.TenantID, &u.Email, &u.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("store: get user: %w", err)
	}
	return u, nil
}

// FindUserByEmailForLogin is the one legitimate cross-tenant lookup in the
// whole codebase: login resolves a user by globally-unique email before any
// tenant context exists. It exists as a distinct method, not an opt-out flag,
// so nothing else can reach unscoped access by accident. Do not add callers
// outside the authentication flow.
func (s *UserStore) FindUserByEmailForLogin(ctx context.Context, email string) (User, error) {
	query := `SELECT id, tenant_id, email, role FROM users WHERE email = $1`
	var u User
	if err := s.db.QueryRow(ctx, query, email).Scan(&u.ID, &u.TenantID, &u.Email, &u.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("store: find user by email: %w", err)
	}
	return u, nil
}
