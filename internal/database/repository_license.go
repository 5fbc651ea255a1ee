package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const licenseSelectColumns = `
	l.id, l.license_key, COALESCE(l.user_email, ''), l.plan_id, l.status,
	l.issued_at, l.expires_at, COALESCE(l.mt5_account, ''), COALESCE(l.hardware_id, ''),
	l.last_verified, l.verification_count, COALESCE(l.notes, ''), l.created_at, l.updated_at,
	p.name, p.duration_days, p.max_accounts`

func scanLicense(row pgx.Row) (*License, error) {
	var license License
	err := row.Scan(
		&license.ID,
		&license.Key,
		&license.UserEmail,
		&license.PlanID,
		&license.Status,
		&license.IssuedAt,
		&license.ExpiresAt,
		&license.MT5Account,
		&license.HardwareID,
		&license.LastVerified,
		&license.VerificationCount,
		&license.Notes,
		&license.CreatedAt,
		&license.UpdatedAt,
		&license.PlanName,
		&license.PlanDuration,
		&license.PlanMaxAccounts,
	)
	if err != nil {
		return nil, err
	}
	return &license, nil
}

// CreateLicense creates a new license
func (r *Repository) CreateLicense(ctx context.Context, license *License) error {
	if license.ID == "" {
		license.ID = uuid.New().String()
	}
	now := time.Now()
	if license.IssuedAt.IsZero() {
		license.IssuedAt = now
	}
	license.CreatedAt = now
	license.UpdatedAt = now

	query := `
	INSERT INTO licenses (id, license_key, user_email, plan_id, status, issued_at, expires_at, mt5_account, hardware_id, notes, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		license.ID,
		license.Key,
		license.UserEmail,
		license.PlanID,
		license.Status,
		license.IssuedAt,
		license.ExpiresAt,
		license.MT5Account,
		license.HardwareID,
		license.Notes,
		license.CreatedAt,
		license.UpdatedAt,
	)

	return err
}

// GetLicenseByKey retrieves a license by its key, joined with its plan
func (r *Repository) GetLicenseByKey(ctx context.Context, key string) (*License, error) {
	query := fmt.Sprintf(`
	SELECT %s
	FROM licenses l
	JOIN subscription_plans p ON p.id = l.plan_id
	WHERE l.license_key = $1
	`, licenseSelectColumns)

	license, err := scanLicense(r.db.Pool.QueryRow(ctx, query, key))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license by key: %w", err)
	}
	return license, nil
}

// GetLicenseByID retrieves a license by ID, joined with its plan
func (r *Repository) GetLicenseByID(ctx context.Context, id string) (*License, error) {
	query := fmt.Sprintf(`
	SELECT %s
	FROM licenses l
	JOIN subscription_plans p ON p.id = l.plan_id
	WHERE l.id = $1
	`, licenseSelectColumns)

	license, err := scanLicense(r.db.Pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license by id: %w", err)
	}
	return license, nil
}

// ListLicenses retrieves licenses with optional status filtering
func (r *Repository) ListLicenses(ctx context.Context, status string, limit, offset int) ([]License, int, error) {
	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argNum := 1

	if status != "" {
		whereClause += fmt.Sprintf(" AND l.status = $%d", argNum)
		args = append(args, status)
		argNum++
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM licenses l %s", whereClause)
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count licenses: %w", err)
	}

	query := fmt.Sprintf(`
	SELECT %s
	FROM licenses l
	JOIN subscription_plans p ON p.id = l.plan_id
	%s
	ORDER BY l.created_at DESC
	LIMIT $%d OFFSET $%d
	`, licenseSelectColumns, whereClause, argNum, argNum+1)

	args = append(args, limit, offset)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []License
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan license: %w", err)
		}
		licenses = append(licenses, *license)
	}

	return licenses, total, nil
}

// ListExpiringLicenses returns active licenses expiring within the given window
func (r *Repository) ListExpiringLicenses(ctx context.Context, within time.Duration) ([]License, error) {
	query := fmt.Sprintf(`
	SELECT %s
	FROM licenses l
	JOIN subscription_plans p ON p.id = l.plan_id
	WHERE l.status = 'active' AND l.expires_at > NOW() AND l.expires_at <= NOW() + $1::interval
	ORDER BY l.expires_at ASC
	`, licenseSelectColumns)

	rows, err := r.db.Pool.Query(ctx, query, fmt.Sprintf("%d seconds", int(within.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring licenses: %w", err)
	}
	defer rows.Close()

	var licenses []License
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license: %w", err)
		}
		licenses = append(licenses, *license)
	}
	return licenses, nil
}

// MarkLicenseExpired lazily persists the active -> expired transition.
// The status guard keeps repeated calls idempotent.
func (r *Repository) MarkLicenseExpired(ctx context.Context, id string) error {
	query := `
	UPDATE licenses
	SET status = 'expired', updated_at = NOW()
	WHERE id = $1 AND status = 'active'
	`
	_, err := r.db.Pool.Exec(ctx, query, id)
	return err
}

// SetLicenseStatus applies an administrative status change
func (r *Repository) SetLicenseStatus(ctx context.Context, id, status string) error {
	query := `UPDATE licenses SET status = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Pool.Exec(ctx, query, id, status)
	return err
}

// ExtendLicense moves the expiry forward and reactivates the license
func (r *Repository) ExtendLicense(ctx context.Context, id string, newExpiry time.Time) error {
	query := `
	UPDATE licenses
	SET expires_at = $2, status = 'active', updated_at = NOW()
	WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, id, newExpiry)
	return err
}

// RecordVerification bumps the verification counter atomically and
// stamps last_verified. The in-database increment avoids lost updates
// from concurrent heartbeats.
func (r *Repository) RecordVerification(ctx context.Context, id string) error {
	query := `
	UPDATE licenses
	SET verification_count = verification_count + 1, last_verified = NOW(), updated_at = NOW()
	WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, id)
	return err
}

// UpdateLicense updates mutable administrative fields
func (r *Repository) UpdateLicense(ctx context.Context, license *License) error {
	query := `
	UPDATE licenses
	SET user_email = $2, notes = $3, updated_at = NOW()
	WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, license.ID, license.UserEmail, license.Notes)
	return err
}

// DeleteLicense deletes a license and everything hanging off it
func (r *Repository) DeleteLicense(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM licenses WHERE id = $1`, id)
	return err
}
