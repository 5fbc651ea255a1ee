package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateAdminUser inserts an operator account
func (r *Repository) CreateAdminUser(ctx context.Context, user *AdminUser) error {
	err := r.db.Pool.QueryRow(ctx, `
	INSERT INTO admin_users (email, password_hash, name, role)
	VALUES ($1, $2, $3, $4)
	RETURNING id, created_at, updated_at
	`, user.Email, user.PasswordHash, user.Name, user.Role).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	return nil
}

// GetAdminUserByEmail fetches an operator account, nil when not found
func (r *Repository) GetAdminUserByEmail(ctx context.Context, email string) (*AdminUser, error) {
	var user AdminUser
	err := r.db.Pool.QueryRow(ctx, `
	SELECT id, email, password_hash, COALESCE(name, ''), role, last_login_at, created_at, updated_at
	FROM admin_users
	WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Name,
		&user.Role, &user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get admin user: %w", err)
	}
	return &user, nil
}

// GetAdminUserByID fetches an operator account by ID, nil when not found
func (r *Repository) GetAdminUserByID(ctx context.Context, id string) (*AdminUser, error) {
	var user AdminUser
	err := r.db.Pool.QueryRow(ctx, `
	SELECT id, email, password_hash, COALESCE(name, ''), role, last_login_at, created_at, updated_at
	FROM admin_users
	WHERE id = $1
	`, id).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Name,
		&user.Role, &user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get admin user: %w", err)
	}
	return &user, nil
}

// UpdateAdminPassword replaces an operator's password hash
func (r *Repository) UpdateAdminPassword(ctx context.Context, id, passwordHash string) error {
	_, err := r.db.Pool.Exec(ctx, `
	UPDATE admin_users SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update admin password: %w", err)
	}
	return nil
}

// TouchAdminLogin stamps a successful operator login
func (r *Repository) TouchAdminLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
	UPDATE admin_users SET last_login_at = $2, updated_at = NOW() WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update admin login time: %w", err)
	}
	return nil
}

// CountAdminUsers returns how many operator accounts exist, used by
// the startup seeder
func (r *Repository) CountAdminUsers(ctx context.Context) (int, error) {
	var count int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM admin_users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count admin users: %w", err)
	}
	return count, nil
}
