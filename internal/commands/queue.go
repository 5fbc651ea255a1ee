// Package commands implements the remote-control command queue
// between operators and connected trading agents.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ea-license-server/internal/database"
	"ea-license-server/internal/events"
)

// CommandTTL is how long a queued command waits for the agent before
// it lapses. Agents poll on a short interval; a command the agent has
// not collected within the TTL refers to market state too old to act
// on.
const CommandTTL = 5 * time.Minute

var (
	ErrCommandNotFound        = errors.New("command not found")
	ErrCommandAlreadyTerminal = errors.New("command already in a terminal state")
	ErrUnknownCommandType     = errors.New("unknown command type")
	ErrNoOpenPositions        = errors.New("no open positions to close")
)

// Store defines the persistence the queue needs
type Store interface {
	CreateCommand(ctx context.Context, cmd *database.TradeCommand) error
	GetCommand(ctx context.Context, licenseID, commandID string) (*database.TradeCommand, error)
	ExpireOverdueCommands(ctx context.Context, licenseID string, now time.Time) (int, error)
	ListPendingCommands(ctx context.Context, licenseID string) ([]database.TradeCommand, error)
	MarkCommandResult(ctx context.Context, licenseID, commandID, status, message string, resultData []byte, executedAt time.Time) (bool, error)
	ListCommands(ctx context.Context, licenseID string, limit int) ([]database.TradeCommand, error)
	GetTelemetrySnapshot(ctx context.Context, licenseID string) (*database.TelemetrySnapshot, error)
}

var validCommandTypes = map[string]bool{
	database.CommandClosePosition: true,
	database.CommandCloseBulk:     true,
	database.CommandCloseAllBuy:   true,
	database.CommandCloseAllSell:  true,
	database.CommandCloseAll:      true,
}

// Queue manages the per-license command lifecycle: enqueue by the
// operator, collection by the agent, result reporting, lazy expiry.
type Queue struct {
	store  Store
	bus    *events.EventBus
	logger zerolog.Logger
	now    func() time.Time
}

// NewQueue creates a command queue
func NewQueue(store Store, bus *events.EventBus, logger zerolog.Logger) *Queue {
	return &Queue{
		store:  store,
		bus:    bus,
		logger: logger.With().Str("component", "CommandQueue").Logger(),
		now:    time.Now,
	}
}

// Enqueue queues a command for the agent on a license. Parameters are
// type-specific: CLOSE_POSITION takes a ticket, CLOSE_BULK a ticket
// list, the broadcast types take none.
func (q *Queue) Enqueue(ctx context.Context, licenseID, commandType string, parameters interface{}) (*database.TradeCommand, error) {
	if !validCommandTypes[commandType] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommandType, commandType)
	}

	paramsJSON := []byte(`{}`)
	if parameters != nil {
		var err error
		paramsJSON, err = json.Marshal(parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to encode command parameters: %w", err)
		}
	}

	now := q.now()
	cmd := &database.TradeCommand{
		LicenseID:   licenseID,
		CommandType: commandType,
		Parameters:  paramsJSON,
		Status:      database.CommandStatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(CommandTTL),
	}
	if err := q.store.CreateCommand(ctx, cmd); err != nil {
		return nil, err
	}

	q.logger.Info().
		Str("license_id", licenseID).
		Str("command_id", cmd.ID).
		Str("command_type", commandType).
		Time("expires_at", cmd.ExpiresAt).
		Msg("Command queued")

	if q.bus != nil {
		q.bus.PublishCommandQueued(licenseID, cmd.ID, commandType)
	}
	return cmd, nil
}

// ClosePosition queues a close for one ticket
func (q *Queue) ClosePosition(ctx context.Context, licenseID string, ticket int64) (*database.TradeCommand, error) {
	return q.Enqueue(ctx, licenseID, database.CommandClosePosition, map[string]interface{}{"ticket": ticket})
}

// CloseBulk queues a close for an explicit ticket list
func (q *Queue) CloseBulk(ctx context.Context, licenseID string, tickets []int64) (*database.TradeCommand, error) {
	if len(tickets) == 0 {
		return nil, ErrNoOpenPositions
	}
	return q.Enqueue(ctx, licenseID, database.CommandCloseBulk, map[string]interface{}{"tickets": tickets})
}

// CloseTopLoss derives the n worst open positions from the license's
// latest snapshot and queues a bulk close for them. A non-empty side
// ("buy" or "sell") restricts the candidates to that direction.
func (q *Queue) CloseTopLoss(ctx context.Context, licenseID string, n int, side string) (*database.TradeCommand, error) {
	snap, err := q.store.GetTelemetrySnapshot(ctx, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snap == nil {
		return nil, ErrNoOpenPositions
	}

	candidates := filterSide(snap.OpenPositions, side)
	if len(candidates) == 0 {
		return nil, ErrNoOpenPositions
	}

	tickets := SelectWorstPositions(candidates, snap.CurrentPrice, n)
	q.logger.Info().
		Str("license_id", licenseID).
		Ints64("tickets", tickets).
		Msg("Selected worst positions for close")
	return q.CloseBulk(ctx, licenseID, tickets)
}

// Poll expires overdue commands for the license, then returns what is
// still pending, oldest first. This lazy sweep is the only expiry
// mechanism; there is no background job.
func (q *Queue) Poll(ctx context.Context, licenseID string) ([]database.TradeCommand, error) {
	expired, err := q.store.ExpireOverdueCommands(ctx, licenseID, q.now())
	if err != nil {
		return nil, err
	}
	if expired > 0 {
		q.logger.Info().
			Str("license_id", licenseID).
			Int("count", expired).
			Msg("Expired overdue commands")
	}
	return q.store.ListPendingCommands(ctx, licenseID)
}

// Report records the agent's execution result for a command. The
// transition out of pending happens at most once; late or duplicate
// reports get ErrCommandAlreadyTerminal. The command must belong to
// the reporting license.
func (q *Queue) Report(ctx context.Context, licenseID, commandID string, success bool, message string, resultData json.RawMessage) (*database.TradeCommand, error) {
	cmd, err := q.store.GetCommand(ctx, licenseID, commandID)
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, ErrCommandNotFound
	}

	status := database.CommandStatusExecuted
	if !success {
		status = database.CommandStatusFailed
	}

	now := q.now()
	ok, err := q.store.MarkCommandResult(ctx, licenseID, commandID, status, message, resultData, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: status is %s", ErrCommandAlreadyTerminal, cmd.Status)
	}

	cmd.Status = status
	cmd.ResultMessage = message
	cmd.ResultData = resultData
	cmd.ExecutedAt = &now

	q.logger.Info().
		Str("license_id", licenseID).
		Str("command_id", commandID).
		Str("status", status).
		Msg("Command result recorded")

	if q.bus != nil {
		q.bus.PublishCommandCompleted(licenseID, commandID, status, message)
	}
	return cmd, nil
}

// History returns the most recent commands for a license in any state
func (q *Queue) History(ctx context.Context, licenseID string, limit int) ([]database.TradeCommand, error) {
	return q.store.ListCommands(ctx, licenseID, limit)
}
