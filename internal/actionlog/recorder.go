// Package actionlog stores the bounded diagnostic history agents
// report alongside their trading activity.
package actionlog

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ea-license-server/internal/database"
	"ea-license-server/internal/events"
)

// MaxBatchSize bounds one report; agents batch locally and flush
const MaxBatchSize = 50

var knownTypes = map[string]bool{
	database.ActionLogConnect:    true,
	database.ActionLogDisconnect: true,
	database.ActionLogMode:       true,
	database.ActionLogOpenBuy:    true,
	database.ActionLogOpenSell:   true,
	database.ActionLogCloseBuy:   true,
	database.ActionLogCloseSell:  true,
	database.ActionLogModify:     true,
	database.ActionLogTrailing:   true,
	database.ActionLogBreakeven:  true,
	database.ActionLogRecovery:   true,
	database.ActionLogGrid:       true,
	database.ActionLogSignal:     true,
	database.ActionLogError:      true,
	database.ActionLogWarning:    true,
	database.ActionLogInfo:       true,
}

// Store defines the persistence the recorder needs
type Store interface {
	AppendActionLogs(ctx context.Context, licenseID string, entries []database.ActionLogEntry) error
	ListActionLogs(ctx context.Context, licenseID, logType string, limit int) ([]database.ActionLogEntry, error)
}

// Recorder accepts diagnostic batches from agents. Entries never
// bounce on content; unknown types are coerced so a misbehaving agent
// build still leaves a trail.
type Recorder struct {
	store  Store
	bus    *events.EventBus
	logger zerolog.Logger
	now    func() time.Time
}

// NewRecorder creates an action log recorder
func NewRecorder(store Store, bus *events.EventBus, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		bus:    bus,
		logger: logger.With().Str("component", "ActionLogRecorder").Logger(),
		now:    time.Now,
	}
}

// Record persists a batch of entries for a license. Batches over the
// size limit are truncated rather than rejected.
func (r *Recorder) Record(ctx context.Context, licenseID string, entries []database.ActionLogEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	if len(entries) > MaxBatchSize {
		r.logger.Warn().
			Str("license_id", licenseID).
			Int("batch_size", len(entries)).
			Msg("Oversized action log batch truncated")
		entries = entries[:MaxBatchSize]
	}

	now := r.now()
	for i := range entries {
		entries[i].LicenseID = licenseID
		entries[i].LogType = NormalizeType(entries[i].LogType)
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = now
		}
	}

	if err := r.store.AppendActionLogs(ctx, licenseID, entries); err != nil {
		return 0, err
	}

	if r.bus != nil {
		for _, e := range entries {
			r.bus.PublishAgentAction(licenseID, e.LogType, e.Message)
		}
	}
	return len(entries), nil
}

// History returns recent entries, optionally filtered by type
func (r *Recorder) History(ctx context.Context, licenseID, logType string, limit int) ([]database.ActionLogEntry, error) {
	return r.store.ListActionLogs(ctx, licenseID, logType, limit)
}

// NormalizeType maps arbitrary agent-supplied type strings onto the
// known set, defaulting to INFO
func NormalizeType(logType string) string {
	t := strings.ToUpper(strings.TrimSpace(logType))
	if knownTypes[t] {
		return t
	}
	return database.ActionLogInfo
}
