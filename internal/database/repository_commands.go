package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const commandSelectColumns = `
	id, license_id, command_type, COALESCE(parameters, '{}'), status,
	created_at, expires_at, executed_at, COALESCE(result_message, ''),
	COALESCE(result_data, '{}')`

func scanCommand(row pgx.Row) (*TradeCommand, error) {
	var cmd TradeCommand
	err := row.Scan(
		&cmd.ID, &cmd.LicenseID, &cmd.CommandType, &cmd.Parameters,
		&cmd.Status, &cmd.CreatedAt, &cmd.ExpiresAt, &cmd.ExecutedAt,
		&cmd.ResultMessage, &cmd.ResultData,
	)
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

// CreateCommand enqueues a command for the agent bound to a license
func (r *Repository) CreateCommand(ctx context.Context, cmd *TradeCommand) error {
	err := r.db.Pool.QueryRow(ctx, `
	INSERT INTO trade_commands (license_id, command_type, parameters, status, created_at, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id
	`, cmd.LicenseID, cmd.CommandType, cmd.Parameters, cmd.Status,
		cmd.CreatedAt, cmd.ExpiresAt).Scan(&cmd.ID)
	if err != nil {
		return fmt.Errorf("failed to create command: %w", err)
	}
	return nil
}

// GetCommand fetches a command scoped to a license, so one licensee
// can never report on another's commands. Returns nil when not found.
func (r *Repository) GetCommand(ctx context.Context, licenseID, commandID string) (*TradeCommand, error) {
	cmd, err := scanCommand(r.db.Pool.QueryRow(ctx, `
	SELECT`+commandSelectColumns+`
	FROM trade_commands
	WHERE id = $1 AND license_id = $2
	`, commandID, licenseID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get command: %w", err)
	}
	return cmd, nil
}

// ExpireOverdueCommands marks pending commands past their TTL as
// expired and returns how many it touched. Called lazily on every
// poll rather than from a background sweeper.
func (r *Repository) ExpireOverdueCommands(ctx context.Context, licenseID string, now time.Time) (int, error) {
	tag, err := r.db.Pool.Exec(ctx, `
	UPDATE trade_commands
	SET status = $3
	WHERE license_id = $1 AND status = $2 AND expires_at <= $4
	`, licenseID, CommandStatusPending, CommandStatusExpired, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire commands: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListPendingCommands returns the live pending commands for a license,
// oldest first so the agent executes in issue order
func (r *Repository) ListPendingCommands(ctx context.Context, licenseID string) ([]TradeCommand, error) {
	rows, err := r.db.Pool.Query(ctx, `
	SELECT`+commandSelectColumns+`
	FROM trade_commands
	WHERE license_id = $1 AND status = $2
	ORDER BY created_at ASC
	`, licenseID, CommandStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending commands: %w", err)
	}
	defer rows.Close()

	var cmds []TradeCommand
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		cmds = append(cmds, *cmd)
	}
	return cmds, nil
}

// MarkCommandResult moves a pending command to a terminal status. The
// status guard makes the transition first-report-wins; it returns
// false when the command was already terminal.
func (r *Repository) MarkCommandResult(ctx context.Context, licenseID, commandID, status, message string, resultData []byte, executedAt time.Time) (bool, error) {
	if len(resultData) == 0 {
		resultData = []byte(`{}`)
	}
	tag, err := r.db.Pool.Exec(ctx, `
	UPDATE trade_commands
	SET status = $3, result_message = $4, result_data = $5, executed_at = $6
	WHERE id = $1 AND license_id = $2 AND status = $7
	`, commandID, licenseID, status, message, resultData, executedAt, CommandStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to record command result: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListCommands returns the most recent commands for a license in any
// status, for the operator's command history view
func (r *Repository) ListCommands(ctx context.Context, licenseID string, limit int) ([]TradeCommand, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx, `
	SELECT`+commandSelectColumns+`
	FROM trade_commands
	WHERE license_id = $1
	ORDER BY created_at DESC
	LIMIT $2
	`, licenseID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list commands: %w", err)
	}
	defer rows.Close()

	var cmds []TradeCommand
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		cmds = append(cmds, *cmd)
	}
	return cmds, nil
}
