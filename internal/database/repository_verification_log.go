package database

import (
	"context"
	"fmt"
)

// AppendVerificationLog records one verification attempt. Rows are
// append-only; the license reference is nil for unknown keys.
func (r *Repository) AppendVerificationLog(ctx context.Context, entry *VerificationLog) error {
	err := r.db.Pool.QueryRow(ctx, `
	INSERT INTO verification_logs (license_id, license_key, account_id, hardware_id, ip_address, is_valid, message, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id
	`, entry.LicenseID, entry.LicenseKey, entry.AccountID, entry.HardwareID,
		entry.IPAddress, entry.IsValid, entry.Message, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append verification log: %w", err)
	}
	return nil
}

// ListVerificationLogs returns recent verification attempts, newest
// first, optionally filtered to a single license
func (r *Repository) ListVerificationLogs(ctx context.Context, licenseID string, limit int) ([]VerificationLog, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
	SELECT id, license_id, license_key, account_id, COALESCE(hardware_id, ''),
	       COALESCE(ip_address, ''), is_valid, message, created_at
	FROM verification_logs`
	args := []interface{}{}
	if licenseID != "" {
		query += ` WHERE license_id = $1`
		args = append(args, licenseID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list verification logs: %w", err)
	}
	defer rows.Close()

	var logs []VerificationLog
	for rows.Next() {
		var l VerificationLog
		if err := rows.Scan(&l.ID, &l.LicenseID, &l.LicenseKey, &l.AccountID,
			&l.HardwareID, &l.IPAddress, &l.IsValid, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verification log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, nil
}

// CountFailedVerifications counts failed attempts from one IP since a
// cutoff, used to spot key-guessing
func (r *Repository) CountFailedVerifications(ctx context.Context, ipAddress string, sinceHours int) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `
	SELECT COUNT(*) FROM verification_logs
	WHERE ip_address = $1 AND is_valid = false AND created_at > NOW() - ($2 * INTERVAL '1 hour')
	`, ipAddress, sinceHours).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed verifications: %w", err)
	}
	return count, nil
}
