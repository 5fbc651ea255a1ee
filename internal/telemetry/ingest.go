// Package telemetry ingests periodic state reports from connected
// trading agents and maintains one snapshot per license.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ea-license-server/internal/database"
	"ea-license-server/internal/events"
)

// Store defines the snapshot persistence the ingester needs.
// MutateTelemetrySnapshot must run the whole read-mutate-write cycle
// atomically per license; the repository takes a row lock for it.
type Store interface {
	GetTelemetrySnapshot(ctx context.Context, licenseID string) (*database.TelemetrySnapshot, error)
	MutateTelemetrySnapshot(ctx context.Context, licenseID string, mutate func(existing *database.TelemetrySnapshot) (*database.TelemetrySnapshot, error)) (*database.TelemetrySnapshot, error)
	ListStaleSnapshots(ctx context.Context, olderThan time.Time) ([]database.TelemetrySnapshot, error)
}

// Report is one inbound telemetry payload from an agent
type Report struct {
	AccountBalance    float64                   `json:"account_balance"`
	AccountEquity     float64                   `json:"account_equity"`
	AccountProfit     float64                   `json:"account_profit"`
	AccountMargin     float64                   `json:"account_margin"`
	AccountFreeMargin float64                   `json:"account_free_margin"`
	Symbol            string                    `json:"symbol"`
	CurrentPrice      float64                   `json:"current_price"`
	TradingMode       string                    `json:"trading_mode"`
	OpenPositions     []database.OpenPosition   `json:"open_positions"`
	PendingOrders     []database.PendingOrder   `json:"pending_orders"`
	ClosedPositions   []database.ClosedPosition `json:"closed_positions"`
}

// Ingester applies agent reports to the stored per-license snapshot
type Ingester struct {
	store  Store
	bus    *events.EventBus
	logger zerolog.Logger
	now    func() time.Time
}

// NewIngester creates a telemetry ingester
func NewIngester(store Store, bus *events.EventBus, logger zerolog.Logger) *Ingester {
	return &Ingester{
		store:  store,
		bus:    bus,
		logger: logger.With().Str("component", "TelemetryIngester").Logger(),
		now:    time.Now,
	}
}

// Ingest merges a report into the license's snapshot. Scalars and the
// open and pending lists are replaced wholesale; closed positions are
// merged by ticket and capped. Reports never fail on business
// grounds, only on storage errors.
func (in *Ingester) Ingest(ctx context.Context, licenseID string, report *Report) (*database.TelemetrySnapshot, error) {
	snap, err := in.store.MutateTelemetrySnapshot(ctx, licenseID, func(existing *database.TelemetrySnapshot) (*database.TelemetrySnapshot, error) {
		var existingClosed []database.ClosedPosition
		if existing != nil {
			existingClosed = existing.ClosedPositions
		}

		snap := &database.TelemetrySnapshot{
			LicenseID:         licenseID,
			AccountBalance:    report.AccountBalance,
			AccountEquity:     report.AccountEquity,
			AccountProfit:     report.AccountProfit,
			AccountMargin:     report.AccountMargin,
			AccountFreeMargin: report.AccountFreeMargin,
			Symbol:            report.Symbol,
			CurrentPrice:      report.CurrentPrice,
			TradingMode:       report.TradingMode,
			OpenPositions:     report.OpenPositions,
			PendingOrders:     report.PendingOrders,
			ClosedPositions:   MergeClosedPositions(existingClosed, report.ClosedPositions),
			LastUpdate:        in.now(),
		}
		if snap.OpenPositions == nil {
			snap.OpenPositions = []database.OpenPosition{}
		}
		if snap.PendingOrders == nil {
			snap.PendingOrders = []database.PendingOrder{}
		}
		if snap.ClosedPositions == nil {
			snap.ClosedPositions = []database.ClosedPosition{}
		}
		return snap, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	in.logger.Debug().
		Str("license_id", licenseID).
		Float64("equity", snap.AccountEquity).
		Int("open_positions", len(snap.OpenPositions)).
		Int("closed_history", len(snap.ClosedPositions)).
		Msg("Telemetry snapshot updated")

	if in.bus != nil {
		in.bus.PublishTelemetryUpdate(licenseID, snap.AccountEquity, snap.AccountProfit, len(snap.OpenPositions))
	}
	return snap, nil
}

// Snapshot returns the current snapshot for a license, nil when the
// agent has never reported
func (in *Ingester) Snapshot(ctx context.Context, licenseID string) (*database.TelemetrySnapshot, error) {
	return in.store.GetTelemetrySnapshot(ctx, licenseID)
}

// StaleAgents lists licenses whose agent has gone quiet for longer
// than the threshold
func (in *Ingester) StaleAgents(ctx context.Context, threshold time.Duration) ([]database.TelemetrySnapshot, error) {
	return in.store.ListStaleSnapshots(ctx, in.now().Add(-threshold))
}
