package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetSetting returns a single system setting value, empty when unset
func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.Pool.QueryRow(ctx, `
	SELECT value FROM system_settings WHERE key = $1
	`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// GetSettings returns all settings with the given key prefix as a map
func (r *Repository) GetSettings(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
	SELECT key, value FROM system_settings WHERE key LIKE $1 || '%'
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings[k] = v
	}
	return settings, nil
}

// SetSetting upserts a single system setting
func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.Pool.Exec(ctx, `
	INSERT INTO system_settings (key, value, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}
