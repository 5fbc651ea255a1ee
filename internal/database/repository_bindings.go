package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrMaxAccountsReached is returned when a bind attempt would exceed
// the plan's account quota.
var ErrMaxAccountsReached = errors.New("maximum accounts reached for license")

// BindAccount binds a trading account to a license, enforcing the plan
// quota. The whole operation runs in one transaction:
//
//  1. the licenses row is locked, serializing all binds for one
//     license so concurrent first-time binds cannot both pass the
//     re-count below;
//  2. the legacy single-account field on the license is materialized
//     as a binding row if it never was, so old licenses are neither
//     double-counted nor handed a free extra slot;
//  3. an existing binding just refreshes last_seen (hardware id is
//     backfilled only when previously empty, first seen wins);
//  4. a new binding is inserted with ON CONFLICT DO NOTHING and the
//     bindings are re-counted; if the insert pushed the license over
//     quota the transaction rolls back.
func (r *Repository) BindAccount(ctx context.Context, licenseID, accountID, hardwareID string, maxAccounts int) (*AccountBinding, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin bind transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Binds for the same license queue up behind this lock, so the
	// re-count always sees the competing transaction's insert
	var lockedID string
	if err := tx.QueryRow(ctx, `
	SELECT id FROM licenses WHERE id = $1 FOR UPDATE
	`, licenseID).Scan(&lockedID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("license %s not found for binding", licenseID)
		}
		return nil, fmt.Errorf("failed to lock license row: %w", err)
	}

	// Materialize the legacy binding before any quota decision
	_, err = tx.Exec(ctx, `
	INSERT INTO account_bindings (id, license_id, account_id, hardware_id, first_seen, last_seen)
	SELECT gen_random_uuid(), l.id, l.mt5_account, COALESCE(l.hardware_id, ''), NOW(), NOW()
	FROM licenses l
	WHERE l.id = $1 AND l.mt5_account IS NOT NULL AND l.mt5_account <> ''
	ON CONFLICT (license_id, account_id) DO NOTHING
	`, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize legacy binding: %w", err)
	}

	// Refresh path for an already-bound account
	var binding AccountBinding
	err = tx.QueryRow(ctx, `
	SELECT id, license_id, account_id, COALESCE(hardware_id, ''), first_seen, last_seen
	FROM account_bindings
	WHERE license_id = $1 AND account_id = $2
	FOR UPDATE
	`, licenseID, accountID).Scan(
		&binding.ID, &binding.LicenseID, &binding.AccountID,
		&binding.HardwareID, &binding.FirstSeen, &binding.LastSeen,
	)
	if err == nil {
		now := time.Now()
		if binding.HardwareID == "" && hardwareID != "" {
			binding.HardwareID = hardwareID
		}
		_, err = tx.Exec(ctx, `
		UPDATE account_bindings SET last_seen = $2, hardware_id = $3 WHERE id = $1
		`, binding.ID, now, binding.HardwareID)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh binding: %w", err)
		}
		binding.LastSeen = now
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit bind transaction: %w", err)
		}
		return &binding, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to look up binding: %w", err)
	}

	// First-time bind: insert, then re-count under the same transaction
	now := time.Now()
	binding = AccountBinding{
		ID:         uuid.New().String(),
		LicenseID:  licenseID,
		AccountID:  accountID,
		HardwareID: hardwareID,
		FirstSeen:  now,
		LastSeen:   now,
	}

	_, err = tx.Exec(ctx, `
	INSERT INTO account_bindings (id, license_id, account_id, hardware_id, first_seen, last_seen)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (license_id, account_id) DO NOTHING
	`, binding.ID, binding.LicenseID, binding.AccountID, binding.HardwareID, binding.FirstSeen, binding.LastSeen)
	if err != nil {
		return nil, fmt.Errorf("failed to insert binding: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx, `
	SELECT COUNT(*) FROM account_bindings WHERE license_id = $1
	`, licenseID).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count bindings: %w", err)
	}

	if count > maxAccounts {
		// Rolling back discards the insert that broke the quota
		return nil, ErrMaxAccountsReached
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit bind transaction: %w", err)
	}

	return &binding, nil
}

// ListBindings returns all bindings for a license, oldest first
func (r *Repository) ListBindings(ctx context.Context, licenseID string) ([]AccountBinding, error) {
	rows, err := r.db.Pool.Query(ctx, `
	SELECT id, license_id, account_id, COALESCE(hardware_id, ''), first_seen, last_seen
	FROM account_bindings
	WHERE license_id = $1
	ORDER BY first_seen ASC
	`, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	defer rows.Close()

	var bindings []AccountBinding
	for rows.Next() {
		var b AccountBinding
		if err := rows.Scan(&b.ID, &b.LicenseID, &b.AccountID, &b.HardwareID, &b.FirstSeen, &b.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

// CountBindings returns the number of accounts bound to a license
func (r *Repository) CountBindings(ctx context.Context, licenseID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `
	SELECT COUNT(*) FROM account_bindings WHERE license_id = $1
	`, licenseID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bindings: %w", err)
	}
	return count, nil
}

// DeleteBinding removes a single account binding
func (r *Repository) DeleteBinding(ctx context.Context, licenseID, accountID string) error {
	_, err := r.db.Pool.Exec(ctx, `
	DELETE FROM account_bindings WHERE license_id = $1 AND account_id = $2
	`, licenseID, accountID)
	return err
}
