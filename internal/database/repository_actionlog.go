package database

import (
	"context"
	"fmt"
)

// actionLogCap bounds the per-license action log. Older rows beyond
// the cap are pruned in the same transaction as the insert.
const actionLogCap = 200

// AppendActionLogs inserts a batch of agent log entries and prunes
// the license's history down to the cap, atomically
func (r *Repository) AppendActionLogs(ctx context.Context, licenseID string, entries []ActionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin action log transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		details := e.Details
		if len(details) == 0 {
			details = []byte(`{}`)
		}
		_, err = tx.Exec(ctx, `
		INSERT INTO action_logs (license_id, log_type, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
		`, licenseID, e.LogType, e.Message, details, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert action log: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
	DELETE FROM action_logs
	WHERE license_id = $1 AND id NOT IN (
		SELECT id FROM action_logs
		WHERE license_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	)
	`, licenseID, actionLogCap)
	if err != nil {
		return fmt.Errorf("failed to prune action logs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit action log transaction: %w", err)
	}
	return nil
}

// ListActionLogs returns the newest action log entries for a license
func (r *Repository) ListActionLogs(ctx context.Context, licenseID, logType string, limit int) ([]ActionLogEntry, error) {
	if limit <= 0 || limit > actionLogCap {
		limit = actionLogCap
	}

	query := `
	SELECT id, license_id, log_type, message, COALESCE(details, '{}'), created_at
	FROM action_logs
	WHERE license_id = $1`
	args := []interface{}{licenseID}
	if logType != "" {
		query += ` AND log_type = $2`
		args = append(args, logType)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list action logs: %w", err)
	}
	defer rows.Close()

	var entries []ActionLogEntry
	for rows.Next() {
		var e ActionLogEntry
		if err := rows.Scan(&e.ID, &e.LicenseID, &e.LogType, &e.Message, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
