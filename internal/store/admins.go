package store

import (
	"context"
	"time"

	"github.com/faucetdb/latch/internal/model"
)

const adminColumns = `email, password_hash, name, is_active, last_login_at, created_at, updated_at`

// CreateAdmin inserts a new admin account. CreatedAt and UpdatedAt are set
// on admin. A duplicate email returns ErrConflict.
func (s *Store) CreateAdmin(ctx context.Context, admin *model.Admin) error {
	now := time.Now().UTC()
	admin.CreatedAt = now
	admin.UpdatedAt = now

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const q = `INSERT INTO admins
		(email, password_hash, name, is_active, last_login_at, created_at, updated_at)
		VALUES
		(:email, :password_hash, :name, :is_active, :last_login_at, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, admin); err != nil {
		return classify("insert admin", err)
	}
	return nil
}

// GetAdminByEmail returns an admin by email address.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var admin model.Admin
	q := s.db.Rebind("SELECT " + adminColumns + " FROM admins WHERE email = ?")
	if err := s.db.GetContext(ctx, &admin, q, email); err != nil {
		return nil, classify("get admin by email", err)
	}
	return &admin, nil
}

// ListAdmins returns all admin accounts.
func (s *Store) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	admins := []model.Admin{}
	if err := s.db.SelectContext(ctx, &admins, "SELECT "+adminColumns+" FROM admins ORDER BY email"); err != nil {
		return nil, classify("list admins", err)
	}
	return admins, nil
}

// HasAnyAdmin reports whether at least one admin account exists.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM admins"); err != nil {
		return false, classify("count admins", err)
	}
	return count > 0, nil
}

// UpdateAdminLastLogin sets the last_login_at timestamp for an admin.
func (s *Store) UpdateAdminLastLogin(ctx context.Context, email string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE admins SET last_login_at = ?, updated_at = ? WHERE email = ?"), now, now, email)
	if err != nil {
		return classify("update admin last login", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return classify("update admin last login rows affected", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
