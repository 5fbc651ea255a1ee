package commands

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ea-license-server/internal/database"
)

type fakeStore struct {
	commands  map[string]*database.TradeCommand
	snapshots map[string]*database.TelemetrySnapshot
	nextID    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		commands:  make(map[string]*database.TradeCommand),
		snapshots: make(map[string]*database.TelemetrySnapshot),
	}
}

func (f *fakeStore) CreateCommand(_ context.Context, cmd *database.TradeCommand) error {
	f.nextID++
	cmd.ID = "cmd-" + strconv.Itoa(f.nextID)
	clone := *cmd
	f.commands[cmd.ID] = &clone
	return nil
}

func (f *fakeStore) GetCommand(_ context.Context, licenseID, commandID string) (*database.TradeCommand, error) {
	cmd, ok := f.commands[commandID]
	if !ok || cmd.LicenseID != licenseID {
		return nil, nil
	}
	clone := *cmd
	return &clone, nil
}

func (f *fakeStore) ExpireOverdueCommands(_ context.Context, licenseID string, now time.Time) (int, error) {
	count := 0
	for _, cmd := range f.commands {
		if cmd.LicenseID == licenseID && cmd.Status == database.CommandStatusPending && !cmd.ExpiresAt.After(now) {
			cmd.Status = database.CommandStatusExpired
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) ListPendingCommands(_ context.Context, licenseID string) ([]database.TradeCommand, error) {
	var out []database.TradeCommand
	for _, cmd := range f.commands {
		if cmd.LicenseID == licenseID && cmd.Status == database.CommandStatusPending {
			out = append(out, *cmd)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkCommandResult(_ context.Context, licenseID, commandID, status, message string, resultData []byte, executedAt time.Time) (bool, error) {
	cmd, ok := f.commands[commandID]
	if !ok || cmd.LicenseID != licenseID || cmd.Status != database.CommandStatusPending {
		return false, nil
	}
	cmd.Status = status
	cmd.ResultMessage = message
	cmd.ResultData = resultData
	cmd.ExecutedAt = &executedAt
	return true, nil
}

func (f *fakeStore) ListCommands(_ context.Context, licenseID string, limit int) ([]database.TradeCommand, error) {
	var out []database.TradeCommand
	for _, cmd := range f.commands {
		if cmd.LicenseID == licenseID {
			out = append(out, *cmd)
		}
	}
	return out, nil
}

func (f *fakeStore) GetTelemetrySnapshot(_ context.Context, licenseID string) (*database.TelemetrySnapshot, error) {
	return f.snapshots[licenseID], nil
}

func testQueue(store *fakeStore, now time.Time) *Queue {
	q := NewQueue(store, nil, zerolog.Nop())
	q.now = func() time.Time { return now }
	return q
}

func TestEnqueueSetsTTL(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	q := testQueue(store, now)

	cmd, err := q.Enqueue(context.Background(), "lic-1", database.CommandCloseAll, nil)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if cmd.Status != database.CommandStatusPending {
		t.Errorf("status = %q, want pending", cmd.Status)
	}
	if want := now.Add(CommandTTL); !cmd.ExpiresAt.Equal(want) {
		t.Errorf("expires at %v, want %v", cmd.ExpiresAt, want)
	}
}

func TestEnqueueRejectsUnknownType(t *testing.T) {
	q := testQueue(newFakeStore(), time.Now())

	if _, err := q.Enqueue(context.Background(), "lic-1", "SELF_DESTRUCT", nil); !errors.Is(err, ErrUnknownCommandType) {
		t.Errorf("Enqueue() error = %v, want ErrUnknownCommandType", err)
	}
}

func TestPollExpiresOverdueCommands(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	q := testQueue(store, now)

	fresh, _ := q.Enqueue(context.Background(), "lic-1", database.CommandCloseAll, nil)
	stale, _ := q.Enqueue(context.Background(), "lic-1", database.CommandCloseAllBuy, nil)
	store.commands[stale.ID].ExpiresAt = now.Add(-time.Second)

	pending, err := q.Poll(context.Background(), "lic-1")
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != fresh.ID {
		t.Errorf("pending = %+v, want only the fresh command", pending)
	}
	if store.commands[stale.ID].Status != database.CommandStatusExpired {
		t.Errorf("stale command status = %q, want expired", store.commands[stale.ID].Status)
	}
}

func TestPollExactTTLBoundaryExpires(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	q := testQueue(store, now)

	cmd, _ := q.Enqueue(context.Background(), "lic-1", database.CommandCloseAll, nil)

	// Advance the clock to exactly the expiry instant
	q.now = func() time.Time { return cmd.ExpiresAt }
	pending, err := q.Poll(context.Background(), "lic-1")
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("command at exact TTL boundary should be expired, got %+v", pending)
	}
}

func TestReportTerminalOnce(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	q := testQueue(store, now)

	cmd, _ := q.Enqueue(context.Background(), "lic-1", database.CommandCloseAll, nil)

	got, err := q.Report(context.Background(), "lic-1", cmd.ID, true, "closed 3 positions", json.RawMessage(`{"closed":3}`))
	if err != nil {
		t.Fatalf("Report() error: %v", err)
	}
	if got.Status != database.CommandStatusExecuted {
		t.Errorf("status = %q, want executed", got.Status)
	}

	// A second report must not overwrite the recorded result
	if _, err := q.Report(context.Background(), "lic-1", cmd.ID, false, "retry", nil); !errors.Is(err, ErrCommandAlreadyTerminal) {
		t.Errorf("second Report() error = %v, want ErrCommandAlreadyTerminal", err)
	}
	if store.commands[cmd.ID].ResultMessage != "closed 3 positions" {
		t.Error("duplicate report overwrote the original result")
	}
}

func TestReportFailureStatus(t *testing.T) {
	store := newFakeStore()
	q := testQueue(store, time.Now())

	cmd, _ := q.Enqueue(context.Background(), "lic-1", database.CommandCloseAll, nil)
	got, err := q.Report(context.Background(), "lic-1", cmd.ID, false, "market closed", nil)
	if err != nil {
		t.Fatalf("Report() error: %v", err)
	}
	if got.Status != database.CommandStatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestReportScopedToLicense(t *testing.T) {
	store := newFakeStore()
	q := testQueue(store, time.Now())

	cmd, _ := q.Enqueue(context.Background(), "lic-1", database.CommandCloseAll, nil)

	if _, err := q.Report(context.Background(), "lic-other", cmd.ID, true, "ok", nil); !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("cross-license Report() error = %v, want ErrCommandNotFound", err)
	}
}

func TestReportExpiredCommandRejected(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	q := testQueue(store, now)

	cmd, _ := q.Enqueue(context.Background(), "lic-1", database.CommandCloseAll, nil)
	store.commands[cmd.ID].Status = database.CommandStatusExpired

	if _, err := q.Report(context.Background(), "lic-1", cmd.ID, true, "too late", nil); !errors.Is(err, ErrCommandAlreadyTerminal) {
		t.Errorf("Report() on expired command error = %v, want ErrCommandAlreadyTerminal", err)
	}
}

func TestCloseTopLossDerivesFromSnapshot(t *testing.T) {
	store := newFakeStore()
	store.snapshots["lic-1"] = &database.TelemetrySnapshot{
		LicenseID:    "lic-1",
		CurrentPrice: 2000,
		OpenPositions: []database.OpenPosition{
			{Ticket: 5, Type: "buy", OpenPrice: 2010},
			{Ticket: 1, Type: "buy", OpenPrice: 2002},
			{Ticket: 9, Type: "buy", OpenPrice: 2030},
		},
	}
	q := testQueue(store, time.Now())

	cmd, err := q.CloseTopLoss(context.Background(), "lic-1", 2, "")
	if err != nil {
		t.Fatalf("CloseTopLoss() error: %v", err)
	}
	if cmd.CommandType != database.CommandCloseBulk {
		t.Errorf("command type = %q, want %q", cmd.CommandType, database.CommandCloseBulk)
	}

	var params struct {
		Tickets []int64 `json:"tickets"`
	}
	if err := json.Unmarshal(cmd.Parameters, &params); err != nil {
		t.Fatalf("failed to decode parameters: %v", err)
	}
	if len(params.Tickets) != 2 || params.Tickets[0] != 9 || params.Tickets[1] != 5 {
		t.Errorf("tickets = %v, want [9 5]", params.Tickets)
	}
}

func TestCloseTopLossFiltersSide(t *testing.T) {
	store := newFakeStore()
	store.snapshots["lic-1"] = &database.TelemetrySnapshot{
		LicenseID:    "lic-1",
		CurrentPrice: 2000,
		OpenPositions: []database.OpenPosition{
			{Ticket: 5, Type: "buy", OpenPrice: 2010},
			{Ticket: 7, Type: "sell", OpenPrice: 1950}, // worst overall
			{Ticket: 9, Type: "buy", OpenPrice: 2030},
		},
	}
	q := testQueue(store, time.Now())

	cmd, err := q.CloseTopLoss(context.Background(), "lic-1", 1, "buy")
	if err != nil {
		t.Fatalf("CloseTopLoss() error: %v", err)
	}

	var params struct {
		Tickets []int64 `json:"tickets"`
	}
	if err := json.Unmarshal(cmd.Parameters, &params); err != nil {
		t.Fatalf("failed to decode parameters: %v", err)
	}
	if len(params.Tickets) != 1 || params.Tickets[0] != 9 {
		t.Errorf("tickets = %v, want [9]", params.Tickets)
	}
}

func TestCloseTopLossNoSnapshot(t *testing.T) {
	q := testQueue(newFakeStore(), time.Now())

	if _, err := q.CloseTopLoss(context.Background(), "lic-1", 2, ""); !errors.Is(err, ErrNoOpenPositions) {
		t.Errorf("CloseTopLoss() error = %v, want ErrNoOpenPositions", err)
	}
}
