package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const telemetrySnapshotColumns = `
	SELECT license_id, account_balance, account_equity, account_profit,
	       account_margin, account_free_margin, symbol, current_price,
	       trading_mode, open_positions, pending_orders, closed_positions,
	       last_update, created_at
	FROM telemetry_snapshots
	WHERE license_id = $1
	`

// scanTelemetrySnapshot decodes one full snapshot row, nil on no row
func scanTelemetrySnapshot(row pgx.Row) (*TelemetrySnapshot, error) {
	var snap TelemetrySnapshot
	var openJSON, pendingJSON, closedJSON []byte

	err := row.Scan(
		&snap.LicenseID, &snap.AccountBalance, &snap.AccountEquity,
		&snap.AccountProfit, &snap.AccountMargin, &snap.AccountFreeMargin,
		&snap.Symbol, &snap.CurrentPrice, &snap.TradingMode,
		&openJSON, &pendingJSON, &closedJSON, &snap.LastUpdate, &snap.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get telemetry snapshot: %w", err)
	}

	if err := json.Unmarshal(openJSON, &snap.OpenPositions); err != nil {
		return nil, fmt.Errorf("failed to decode open positions: %w", err)
	}
	if err := json.Unmarshal(pendingJSON, &snap.PendingOrders); err != nil {
		return nil, fmt.Errorf("failed to decode pending orders: %w", err)
	}
	if err := json.Unmarshal(closedJSON, &snap.ClosedPositions); err != nil {
		return nil, fmt.Errorf("failed to decode closed positions: %w", err)
	}
	return &snap, nil
}

// GetTelemetrySnapshot returns the latest snapshot for a license, or
// nil if the agent never reported
func (r *Repository) GetTelemetrySnapshot(ctx context.Context, licenseID string) (*TelemetrySnapshot, error) {
	return scanTelemetrySnapshot(r.db.Pool.QueryRow(ctx, telemetrySnapshotColumns, licenseID))
}

// MutateTelemetrySnapshot applies mutate to the stored snapshot under
// a row lock and writes the result back in the same transaction. Two
// agents reporting for the same license serialize here instead of
// overwriting each other's merged history.
func (r *Repository) MutateTelemetrySnapshot(ctx context.Context, licenseID string, mutate func(existing *TelemetrySnapshot) (*TelemetrySnapshot, error)) (*TelemetrySnapshot, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := scanTelemetrySnapshot(tx.QueryRow(ctx, telemetrySnapshotColumns+` FOR UPDATE`, licenseID))
	if err != nil {
		return nil, err
	}

	snap, err := mutate(existing)
	if err != nil {
		return nil, err
	}

	if err := upsertTelemetrySnapshot(ctx, tx, snap); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot transaction: %w", err)
	}
	return snap, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// upsertTelemetrySnapshot stores the per-license snapshot. The caller
// has already merged closed positions into the snapshot, so all three
// lists replace the stored state wholesale.
func upsertTelemetrySnapshot(ctx context.Context, q execer, snap *TelemetrySnapshot) error {
	openJSON, err := json.Marshal(snap.OpenPositions)
	if err != nil {
		return fmt.Errorf("failed to encode open positions: %w", err)
	}
	pendingJSON, err := json.Marshal(snap.PendingOrders)
	if err != nil {
		return fmt.Errorf("failed to encode pending orders: %w", err)
	}
	closedJSON, err := json.Marshal(snap.ClosedPositions)
	if err != nil {
		return fmt.Errorf("failed to encode closed positions: %w", err)
	}

	_, err = q.Exec(ctx, `
	INSERT INTO telemetry_snapshots (
		license_id, account_balance, account_equity, account_profit,
		account_margin, account_free_margin, symbol, current_price,
		trading_mode, open_positions, pending_orders, closed_positions,
		last_update
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (license_id) DO UPDATE SET
		account_balance = EXCLUDED.account_balance,
		account_equity = EXCLUDED.account_equity,
		account_profit = EXCLUDED.account_profit,
		account_margin = EXCLUDED.account_margin,
		account_free_margin = EXCLUDED.account_free_margin,
		symbol = EXCLUDED.symbol,
		current_price = EXCLUDED.current_price,
		trading_mode = EXCLUDED.trading_mode,
		open_positions = EXCLUDED.open_positions,
		pending_orders = EXCLUDED.pending_orders,
		closed_positions = EXCLUDED.closed_positions,
		last_update = EXCLUDED.last_update
	`, snap.LicenseID, snap.AccountBalance, snap.AccountEquity,
		snap.AccountProfit, snap.AccountMargin, snap.AccountFreeMargin,
		snap.Symbol, snap.CurrentPrice, snap.TradingMode,
		openJSON, pendingJSON, closedJSON, snap.LastUpdate)
	if err != nil {
		return fmt.Errorf("failed to upsert telemetry snapshot: %w", err)
	}
	return nil
}

// ListStaleSnapshots returns snapshots whose last report is older than
// the cutoff, for the operator's stale-agent view
func (r *Repository) ListStaleSnapshots(ctx context.Context, olderThan time.Time) ([]TelemetrySnapshot, error) {
	rows, err := r.db.Pool.Query(ctx, `
	SELECT license_id, account_balance, account_equity, account_profit,
	       symbol, trading_mode, last_update
	FROM telemetry_snapshots
	WHERE last_update < $1
	ORDER BY last_update ASC
	`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []TelemetrySnapshot
	for rows.Next() {
		var s TelemetrySnapshot
		if err := rows.Scan(&s.LicenseID, &s.AccountBalance, &s.AccountEquity,
			&s.AccountProfit, &s.Symbol, &s.TradingMode, &s.LastUpdate); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, s)
	}
	return snaps, nil
}
