package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ea-license-server/config"
	"ea-license-server/internal/actionlog"
	"ea-license-server/internal/commands"
	"ea-license-server/internal/database"
	"ea-license-server/internal/events"
	"ea-license-server/internal/license"
	"ea-license-server/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const testLicenseKey = "A1B2-C3D4-E5F6-A7B8-C9D0-E1F2-A3B4-C5D6"

// fakeAgentStore backs every domain service with in-memory maps so the
// handlers run against the real verification, ingest and queue logic.
type fakeAgentStore struct {
	licensesByKey map[string]*database.License
	licensesByID  map[string]*database.License
	plans         map[string]*database.SubscriptionPlan
	bindings      map[string]map[string]*database.AccountBinding
	auditLog      []database.VerificationLog
	cmds          map[string]*database.TradeCommand
	cmdSeq        int
	snapshots     map[string]*database.TelemetrySnapshot
	actionLogs    map[string][]database.ActionLogEntry
}

func newFakeAgentStore() *fakeAgentStore {
	return &fakeAgentStore{
		licensesByKey: make(map[string]*database.License),
		licensesByID:  make(map[string]*database.License),
		plans:         make(map[string]*database.SubscriptionPlan),
		bindings:      make(map[string]map[string]*database.AccountBinding),
		cmds:          make(map[string]*database.TradeCommand),
		snapshots:     make(map[string]*database.TelemetrySnapshot),
		actionLogs:    make(map[string][]database.ActionLogEntry),
	}
}

func (f *fakeAgentStore) addLicense(key, status string, expiresIn time.Duration, maxAccounts int) *database.License {
	lic := &database.License{
		ID:              fmt.Sprintf("lic-%d", len(f.licensesByID)+1),
		Key:             key,
		PlanID:          "plan-1",
		Status:          status,
		IssuedAt:        time.Now().Add(-24 * time.Hour),
		ExpiresAt:       time.Now().Add(expiresIn),
		PlanName:        "Pro",
		PlanDuration:    30,
		PlanMaxAccounts: maxAccounts,
	}
	f.licensesByKey[key] = lic
	f.licensesByID[lic.ID] = lic
	return lic
}

func (f *fakeAgentStore) CreateLicense(ctx context.Context, lic *database.License) error {
	f.licensesByKey[lic.Key] = lic
	f.licensesByID[lic.ID] = lic
	return nil
}

func (f *fakeAgentStore) GetLicenseByKey(ctx context.Context, key string) (*database.License, error) {
	return f.licensesByKey[key], nil
}

func (f *fakeAgentStore) GetLicenseByID(ctx context.Context, id string) (*database.License, error) {
	return f.licensesByID[id], nil
}

func (f *fakeAgentStore) ListLicenses(ctx context.Context, status string, limit, offset int) ([]database.License, int, error) {
	var out []database.License
	for _, lic := range f.licensesByID {
		if status == "" || lic.Status == status {
			out = append(out, *lic)
		}
	}
	return out, len(out), nil
}

func (f *fakeAgentStore) MarkLicenseExpired(ctx context.Context, id string) error {
	if lic, ok := f.licensesByID[id]; ok && lic.Status == database.LicenseStatusActive {
		lic.Status = database.LicenseStatusExpired
	}
	return nil
}

func (f *fakeAgentStore) SetLicenseStatus(ctx context.Context, id, status string) error {
	if lic, ok := f.licensesByID[id]; ok {
		lic.Status = status
	}
	return nil
}

func (f *fakeAgentStore) ExtendLicense(ctx context.Context, id string, newExpiry time.Time) error {
	if lic, ok := f.licensesByID[id]; ok {
		lic.ExpiresAt = newExpiry
		lic.Status = database.LicenseStatusActive
	}
	return nil
}

func (f *fakeAgentStore) RecordVerification(ctx context.Context, id string) error {
	if lic, ok := f.licensesByID[id]; ok {
		lic.VerificationCount++
	}
	return nil
}

func (f *fakeAgentStore) DeleteLicense(ctx context.Context, id string) error {
	if lic, ok := f.licensesByID[id]; ok {
		delete(f.licensesByKey, lic.Key)
		delete(f.licensesByID, id)
	}
	return nil
}

func (f *fakeAgentStore) BindAccount(ctx context.Context, licenseID, accountID, hardwareID string, maxAccounts int) (*database.AccountBinding, error) {
	accounts := f.bindings[licenseID]
	if accounts == nil {
		accounts = make(map[string]*database.AccountBinding)
		f.bindings[licenseID] = accounts
	}
	if b, ok := accounts[accountID]; ok {
		b.LastSeen = time.Now()
		return b, nil
	}
	if len(accounts) >= maxAccounts {
		return nil, database.ErrMaxAccountsReached
	}
	b := &database.AccountBinding{
		ID:         fmt.Sprintf("bind-%d", len(accounts)+1),
		LicenseID:  licenseID,
		AccountID:  accountID,
		HardwareID: hardwareID,
		FirstSeen:  time.Now(),
		LastSeen:   time.Now(),
	}
	accounts[accountID] = b
	return b, nil
}

func (f *fakeAgentStore) ListBindings(ctx context.Context, licenseID string) ([]database.AccountBinding, error) {
	var out []database.AccountBinding
	for _, b := range f.bindings[licenseID] {
		out = append(out, *b)
	}
	return out, nil
}

func (f *fakeAgentStore) DeleteBinding(ctx context.Context, licenseID, accountID string) error {
	delete(f.bindings[licenseID], accountID)
	return nil
}

func (f *fakeAgentStore) AppendVerificationLog(ctx context.Context, entry *database.VerificationLog) error {
	f.auditLog = append(f.auditLog, *entry)
	return nil
}

func (f *fakeAgentStore) GetPlan(ctx context.Context, id string) (*database.SubscriptionPlan, error) {
	return f.plans[id], nil
}

func (f *fakeAgentStore) CreateCommand(ctx context.Context, cmd *database.TradeCommand) error {
	f.cmdSeq++
	cmd.ID = fmt.Sprintf("cmd-%d", f.cmdSeq)
	clone := *cmd
	f.cmds[cmd.ID] = &clone
	return nil
}

func (f *fakeAgentStore) GetCommand(ctx context.Context, licenseID, commandID string) (*database.TradeCommand, error) {
	cmd, ok := f.cmds[commandID]
	if !ok || cmd.LicenseID != licenseID {
		return nil, nil
	}
	clone := *cmd
	return &clone, nil
}

func (f *fakeAgentStore) ExpireOverdueCommands(ctx context.Context, licenseID string, now time.Time) (int, error) {
	n := 0
	for _, cmd := range f.cmds {
		if cmd.LicenseID == licenseID && cmd.Status == database.CommandStatusPending && !cmd.ExpiresAt.After(now) {
			cmd.Status = database.CommandStatusExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeAgentStore) ListPendingCommands(ctx context.Context, licenseID string) ([]database.TradeCommand, error) {
	var out []database.TradeCommand
	for _, cmd := range f.cmds {
		if cmd.LicenseID == licenseID && cmd.Status == database.CommandStatusPending {
			out = append(out, *cmd)
		}
	}
	return out, nil
}

func (f *fakeAgentStore) MarkCommandResult(ctx context.Context, licenseID, commandID, status, message string, resultData []byte, executedAt time.Time) (bool, error) {
	cmd, ok := f.cmds[commandID]
	if !ok || cmd.LicenseID != licenseID || cmd.Status != database.CommandStatusPending {
		return false, nil
	}
	cmd.Status = status
	cmd.ResultMessage = message
	cmd.ResultData = resultData
	cmd.ExecutedAt = &executedAt
	return true, nil
}

func (f *fakeAgentStore) ListCommands(ctx context.Context, licenseID string, limit int) ([]database.TradeCommand, error) {
	var out []database.TradeCommand
	for _, cmd := range f.cmds {
		if cmd.LicenseID == licenseID {
			out = append(out, *cmd)
		}
	}
	return out, nil
}

func (f *fakeAgentStore) GetTelemetrySnapshot(ctx context.Context, licenseID string) (*database.TelemetrySnapshot, error) {
	snap, ok := f.snapshots[licenseID]
	if !ok {
		return nil, nil
	}
	clone := *snap
	return &clone, nil
}

func (f *fakeAgentStore) MutateTelemetrySnapshot(ctx context.Context, licenseID string, mutate func(*database.TelemetrySnapshot) (*database.TelemetrySnapshot, error)) (*database.TelemetrySnapshot, error) {
	var existing *database.TelemetrySnapshot
	if snap, ok := f.snapshots[licenseID]; ok {
		clone := *snap
		existing = &clone
	}
	snap, err := mutate(existing)
	if err != nil {
		return nil, err
	}
	clone := *snap
	f.snapshots[licenseID] = &clone
	return snap, nil
}

func (f *fakeAgentStore) ListStaleSnapshots(ctx context.Context, olderThan time.Time) ([]database.TelemetrySnapshot, error) {
	var out []database.TelemetrySnapshot
	for _, snap := range f.snapshots {
		if snap.LastUpdate.Before(olderThan) {
			out = append(out, *snap)
		}
	}
	return out, nil
}

func (f *fakeAgentStore) AppendActionLogs(ctx context.Context, licenseID string, entries []database.ActionLogEntry) error {
	f.actionLogs[licenseID] = append(f.actionLogs[licenseID], entries...)
	return nil
}

func (f *fakeAgentStore) ListActionLogs(ctx context.Context, licenseID, logType string, limit int) ([]database.ActionLogEntry, error) {
	var out []database.ActionLogEntry
	for _, e := range f.actionLogs[licenseID] {
		if logType == "" || e.LogType == logType {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T) (*Server, *fakeAgentStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newFakeAgentStore()
	bus := events.NewEventBus()

	srv := NewServer(ServerConfig{ProductionMode: true},
		config.AgentConfig{StaleAfterMinutes: 10},
		Services{
			Authority: license.NewAuthority(store),
			Ingester:  telemetry.NewIngester(store, bus, zerolog.Nop()),
			Queue:     commands.NewQueue(store, bus, zerolog.Nop()),
			Recorder:  actionlog.NewRecorder(store, bus, zerolog.Nop()),
			EventBus:  bus,
		})
	return srv, store
}

func doJSON(t *testing.T, srv *Server, method, path string, payload interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(data)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	var parsed map[string]interface{}
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, w.Body.String())
		}
	}
	return w, parsed
}

func agentBody(extra map[string]interface{}) map[string]interface{} {
	body := map[string]interface{}{
		"license_key": testLicenseKey,
		"account_id":  "12345",
		"hardware_id": "hw-01",
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

func TestVerifyEndpointAcceptsActiveLicense(t *testing.T) {
	srv, store := newTestServer(t)
	store.addLicense(testLicenseKey, database.LicenseStatusActive, 72*time.Hour, 3)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/ea/verify", agentBody(nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp["valid"] != true {
		t.Fatalf("expected valid=true, got %v", resp)
	}
	if resp["plan"] != "Pro" {
		t.Errorf("expected plan Pro, got %v", resp["plan"])
	}
	if lic := store.licensesByKey[testLicenseKey]; lic.VerificationCount != 1 {
		t.Errorf("expected verification count 1, got %d", lic.VerificationCount)
	}
	if len(store.auditLog) != 1 || !store.auditLog[0].IsValid {
		t.Errorf("expected one successful audit row, got %+v", store.auditLog)
	}
}

func TestVerifyEndpointRejectsUnknownKey(t *testing.T) {
	srv, store := newTestServer(t)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/ea/verify", agentBody(nil))

	if w.Code != http.StatusOK {
		t.Fatalf("business rejection must be HTTP 200, got %d", w.Code)
	}
	if resp["valid"] != false || resp["code"] != "INVALID_KEY" {
		t.Fatalf("expected INVALID_KEY rejection, got %v", resp)
	}
	if len(store.auditLog) != 1 || store.auditLog[0].IsValid {
		t.Errorf("expected one failed audit row, got %+v", store.auditLog)
	}
}

func TestVerifyEndpointRejectsMalformedPayload(t *testing.T) {
	srv, store := newTestServer(t)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/ea/verify", map[string]interface{}{
		"license_key": testLicenseKey,
		// account_id missing
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp["code"] != "MALFORMED_PAYLOAD" {
		t.Fatalf("expected MALFORMED_PAYLOAD, got %v", resp)
	}

	// Unparseable attempts still land in the verification log
	if len(store.auditLog) != 1 || store.auditLog[0].IsValid {
		t.Fatalf("expected one failed audit row, got %+v", store.auditLog)
	}
	if store.auditLog[0].Message != "MT5 account is required" {
		t.Errorf("audit message = %q, want the missing-field reason", store.auditLog[0].Message)
	}
	if store.auditLog[0].LicenseID != nil {
		t.Error("malformed attempt should carry no license reference")
	}
}

func TestVerifyEndpointFlipsLapsedLicense(t *testing.T) {
	srv, store := newTestServer(t)
	store.addLicense(testLicenseKey, database.LicenseStatusActive, -time.Hour, 3)

	_, resp := doJSON(t, srv, http.MethodPost, "/api/ea/verify", agentBody(nil))

	if resp["code"] != "EXPIRED" {
		t.Fatalf("expected EXPIRED rejection, got %v", resp)
	}
	if store.licensesByKey[testLicenseKey].Status != database.LicenseStatusExpired {
		t.Errorf("license row should have flipped to expired")
	}
}

func TestVerifyEndpointEnforcesAccountQuota(t *testing.T) {
	srv, store := newTestServer(t)
	store.addLicense(testLicenseKey, database.LicenseStatusActive, 72*time.Hour, 1)

	if _, resp := doJSON(t, srv, http.MethodPost, "/api/ea/verify", agentBody(nil)); resp["valid"] != true {
		t.Fatalf("first account should pass, got %v", resp)
	}

	other := agentBody(nil)
	other["account_id"] = "99999"
	if _, resp := doJSON(t, srv, http.MethodPost, "/api/ea/verify", other); resp["code"] != "MAX_ACCOUNTS_REACHED" {
		t.Fatalf("second account should hit the quota, got %v", resp)
	}

	// The already bound account keeps verifying
	if _, resp := doJSON(t, srv, http.MethodPost, "/api/ea/verify", agentBody(nil)); resp["valid"] != true {
		t.Fatalf("bound account should still pass, got %v", resp)
	}
}

func TestTelemetryEndpointStoresSnapshot(t *testing.T) {
	srv, store := newTestServer(t)
	lic := store.addLicense(testLicenseKey, database.LicenseStatusActive, 72*time.Hour, 3)

	body := agentBody(map[string]interface{}{
		"account_balance": 10500.25,
		"account_equity":  10420.75,
		"symbol":          "XAUUSD",
		"current_price":   2031.50,
		"trading_mode":    "normal",
		"open_positions": []map[string]interface{}{
			{"ticket": 101, "symbol": "XAUUSD", "type": "buy", "lots": 0.1, "open_price": 2030.0},
		},
		"closed_positions": []map[string]interface{}{
			{"ticket": 90, "symbol": "XAUUSD", "type": "sell", "profit": -12.5, "close_time": 1700000000},
		},
	})

	w, resp := doJSON(t, srv, http.MethodPost, "/api/ea/telemetry", body)
	if w.Code != http.StatusOK || resp["success"] != true {
		t.Fatalf("expected success, got %d %v", w.Code, resp)
	}
	if resp["closed_history"] != float64(1) {
		t.Errorf("expected closed_history 1, got %v", resp["closed_history"])
	}

	snap := store.snapshots[lic.ID]
	if snap == nil {
		t.Fatal("snapshot not stored")
	}
	if snap.AccountBalance != 10500.25 || len(snap.OpenPositions) != 1 {
		t.Errorf("snapshot not populated: %+v", snap)
	}
}

func TestTelemetryEndpointMergesClosedHistory(t *testing.T) {
	srv, store := newTestServer(t)
	store.addLicense(testLicenseKey, database.LicenseStatusActive, 72*time.Hour, 3)

	first := agentBody(map[string]interface{}{
		"closed_positions": []map[string]interface{}{
			{"ticket": 90, "close_time": 1700000000, "profit": -12.5},
		},
	})
	doJSON(t, srv, http.MethodPost, "/api/ea/telemetry", first)

	second := agentBody(map[string]interface{}{
		"closed_positions": []map[string]interface{}{
			{"ticket": 91, "close_time": 1700000100, "profit": 4.0},
		},
	})
	_, resp := doJSON(t, srv, http.MethodPost, "/api/ea/telemetry", second)

	if resp["closed_history"] != float64(2) {
		t.Fatalf("expected merged history of 2, got %v", resp["closed_history"])
	}
}

func TestTelemetryEndpointAcceptsSuspendedLicense(t *testing.T) {
	srv, store := newTestServer(t)
	lic := store.addLicense(testLicenseKey, database.LicenseStatusSuspended, 72*time.Hour, 3)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/ea/telemetry", agentBody(map[string]interface{}{
		"account_balance": 100.0,
	}))

	// The operator keeps seeing a suspended agent's state
	if w.Code != http.StatusOK || resp["success"] != true {
		t.Fatalf("suspended agent's telemetry must be accepted, got %d %v", w.Code, resp)
	}
	snap := store.snapshots[lic.ID]
	if snap == nil {
		t.Fatal("snapshot not stored for suspended license")
	}
	if snap.AccountBalance != 100.0 {
		t.Errorf("snapshot balance = %v, want 100", snap.AccountBalance)
	}
}

func TestTelemetryEndpointFlipsLapsedLicenseButIngests(t *testing.T) {
	srv, store := newTestServer(t)
	lic := store.addLicense(testLicenseKey, database.LicenseStatusActive, -time.Hour, 3)

	_, resp := doJSON(t, srv, http.MethodPost, "/api/ea/telemetry", agentBody(map[string]interface{}{
		"account_equity": 990.0,
	}))

	if resp["success"] != true {
		t.Fatalf("lapsed agent's telemetry must be accepted, got %v", resp)
	}
	if store.licensesByKey[testLicenseKey].Status != database.LicenseStatusExpired {
		t.Errorf("license row should have flipped to expired on contact")
	}
	if store.snapshots[lic.ID] == nil {
		t.Error("snapshot not stored for lapsed license")
	}
}

func TestTelemetryEndpointRejectsUnknownKey(t *testing.T) {
	srv, _ := newTestServer(t)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/ea/telemetry", agentBody(map[string]interface{}{
		"account_balance": 100.0,
	}))

	if w.Code != http.StatusOK || resp["code"] != "INVALID_KEY" {
		t.Fatalf("expected INVALID_KEY rejection, got %d %v", w.Code, resp)
	}
}

func TestCommandRoundTrip(t *testing.T) {
	srv, store := newTestServer(t)
	lic := store.addLicense(testLicenseKey, database.LicenseStatusActive, 72*time.Hour, 3)

	// Operator queues a close
	w, resp := doJSON(t, srv, http.MethodPost,
		"/api/admin/licenses/"+lic.ID+"/commands/close-position",
		map[string]interface{}{"ticket": 101})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", w.Code, resp)
	}

	// Agent polls and sees it
	w, resp = doJSON(t, srv, http.MethodPost, "/api/ea/commands/poll", agentBody(nil))
	if w.Code != http.StatusOK {
		t.Fatalf("poll failed: %d", w.Code)
	}
	cmds, ok := resp["commands"].([]interface{})
	if !ok || len(cmds) != 1 {
		t.Fatalf("expected one pending command, got %v", resp["commands"])
	}
	cmd := cmds[0].(map[string]interface{})
	if cmd["command_type"] != database.CommandClosePosition {
		t.Errorf("unexpected command type %v", cmd["command_type"])
	}
	cmdID := cmd["id"].(string)

	// Agent reports success
	w, resp = doJSON(t, srv, http.MethodPost, "/api/ea/commands/report", agentBody(map[string]interface{}{
		"command_id": cmdID,
		"success":    true,
		"message":    "closed ticket 101",
	}))
	if w.Code != http.StatusOK || resp["success"] != true {
		t.Fatalf("report failed: %d %v", w.Code, resp)
	}
	if store.cmds[cmdID].Status != database.CommandStatusExecuted {
		t.Errorf("expected executed status, got %s", store.cmds[cmdID].Status)
	}

	// A second report of the same command bounces
	_, resp = doJSON(t, srv, http.MethodPost, "/api/ea/commands/report", agentBody(map[string]interface{}{
		"command_id": cmdID,
		"success":    false,
		"message":    "late duplicate",
	}))
	if resp["code"] != "COMMAND_ALREADY_TERMINAL" {
		t.Fatalf("expected COMMAND_ALREADY_TERMINAL, got %v", resp)
	}
	if store.cmds[cmdID].ResultMessage != "closed ticket 101" {
		t.Errorf("first result must win, got %q", store.cmds[cmdID].ResultMessage)
	}
}

func TestReportUnknownCommand(t *testing.T) {
	srv, store := newTestServer(t)
	store.addLicense(testLicenseKey, database.LicenseStatusActive, 72*time.Hour, 3)

	_, resp := doJSON(t, srv, http.MethodPost, "/api/ea/commands/report", agentBody(map[string]interface{}{
		"command_id": "cmd-404",
		"success":    true,
	}))
	if resp["code"] != "COMMAND_NOT_FOUND" {
		t.Fatalf("expected COMMAND_NOT_FOUND, got %v", resp)
	}
}

func TestPollExpiresOverdueCommands(t *testing.T) {
	srv, store := newTestServer(t)
	lic := store.addLicense(testLicenseKey, database.LicenseStatusActive, 72*time.Hour, 3)

	stale := &database.TradeCommand{
		LicenseID:   lic.ID,
		CommandType: database.CommandCloseAll,
		Status:      database.CommandStatusPending,
		CreatedAt:   time.Now().Add(-10 * time.Minute),
		ExpiresAt:   time.Now().Add(-5 * time.Minute),
	}
	store.CreateCommand(context.Background(), stale)

	_, resp := doJSON(t, srv, http.MethodPost, "/api/ea/commands/poll", agentBody(nil))

	cmds, _ := resp["commands"].([]interface{})
	if len(cmds) != 0 {
		t.Fatalf("stale command must not be delivered, got %v", cmds)
	}
	if store.cmds[stale.ID].Status != database.CommandStatusExpired {
		t.Errorf("expected expired status, got %s", store.cmds[stale.ID].Status)
	}
}

func TestCloseTopLossUsesSnapshot(t *testing.T) {
	srv, store := newTestServer(t)
	lic := store.addLicense(testLicenseKey, database.LicenseStatusActive, 72*time.Hour, 3)

	store.snapshots[lic.ID] = &database.TelemetrySnapshot{
		LicenseID:    lic.ID,
		CurrentPrice: 2000,
		OpenPositions: []database.OpenPosition{
			{Ticket: 1, Type: "buy", OpenPrice: 2002},
			{Ticket: 5, Type: "buy", OpenPrice: 2010},
			{Ticket: 9, Type: "buy", OpenPrice: 2030},
		},
		LastUpdate: time.Now(),
	}

	w, resp := doJSON(t, srv, http.MethodPost,
		"/api/admin/licenses/"+lic.ID+"/commands/close-top-loss",
		map[string]interface{}{"count": 2})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", w.Code, resp)
	}

	var queued *database.TradeCommand
	for _, cmd := range store.cmds {
		queued = cmd
	}
	if queued == nil || queued.CommandType != database.CommandCloseBulk {
		t.Fatalf("expected a CLOSE_BULK command, got %+v", queued)
	}

	var params struct {
		Tickets []int64 `json:"tickets"`
	}
	if err := json.Unmarshal(queued.Parameters, &params); err != nil {
		t.Fatalf("bad parameters: %v", err)
	}
	if len(params.Tickets) != 2 || params.Tickets[0] != 9 || params.Tickets[1] != 5 {
		t.Fatalf("expected worst tickets [9 5], got %v", params.Tickets)
	}
}

func TestAgentLogsRecorded(t *testing.T) {
	srv, store := newTestServer(t)
	lic := store.addLicense(testLicenseKey, database.LicenseStatusActive, 72*time.Hour, 3)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/ea/logs", agentBody(map[string]interface{}{
		"logs": []map[string]interface{}{
			{"log_type": "OPEN_BUY", "message": "opened 0.1 XAUUSD"},
			{"log_type": "bogus", "message": "mystery event"},
		},
	}))

	if w.Code != http.StatusOK || resp["recorded"] != float64(2) {
		t.Fatalf("expected 2 recorded, got %d %v", w.Code, resp)
	}

	logs := store.actionLogs[lic.ID]
	if len(logs) != 2 {
		t.Fatalf("expected 2 stored entries, got %d", len(logs))
	}
	if logs[1].LogType != database.ActionLogInfo {
		t.Errorf("unknown type should coerce to INFO, got %s", logs[1].LogType)
	}
}

func TestAdminSuspendBlocksAgent(t *testing.T) {
	srv, store := newTestServer(t)
	lic := store.addLicense(testLicenseKey, database.LicenseStatusActive, 72*time.Hour, 3)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/admin/licenses/"+lic.ID+"/suspend", nil)
	if w.Code != http.StatusOK || resp["success"] != true {
		t.Fatalf("suspend failed: %d %v", w.Code, resp)
	}

	_, resp = doJSON(t, srv, http.MethodPost, "/api/ea/verify", agentBody(nil))
	if resp["code"] != "SUSPENDED" {
		t.Fatalf("expected SUSPENDED after admin action, got %v", resp)
	}
	if resp["status"] != database.LicenseStatusSuspended {
		t.Errorf("rejection should carry the license status, got %v", resp["status"])
	}

	// Suspending twice is a state conflict
	w, _ = doJSON(t, srv, http.MethodPost, "/api/admin/licenses/"+lic.ID+"/suspend", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double suspend, got %d", w.Code)
	}
}

func TestAuthStatusReflectsDisabledAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	w, resp := doJSON(t, srv, http.MethodGet, "/api/auth/status", nil)
	if w.Code != http.StatusOK || resp["auth_enabled"] != false {
		t.Fatalf("expected auth_enabled=false, got %d %v", w.Code, resp)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("fourth request should be throttled")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("other keys are not affected")
	}
}
