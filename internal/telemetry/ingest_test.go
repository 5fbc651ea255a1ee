package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ea-license-server/internal/database"
)

type fakeStore struct {
	mu        sync.Mutex
	snapshots map[string]*database.TelemetrySnapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{snapshots: make(map[string]*database.TelemetrySnapshot)}
}

func (f *fakeStore) GetTelemetrySnapshot(_ context.Context, licenseID string) (*database.TelemetrySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[licenseID], nil
}

func (f *fakeStore) MutateTelemetrySnapshot(_ context.Context, licenseID string, mutate func(*database.TelemetrySnapshot) (*database.TelemetrySnapshot, error)) (*database.TelemetrySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, err := mutate(f.snapshots[licenseID])
	if err != nil {
		return nil, err
	}
	f.snapshots[licenseID] = snap
	return snap, nil
}

func (f *fakeStore) ListStaleSnapshots(_ context.Context, olderThan time.Time) ([]database.TelemetrySnapshot, error) {
	var out []database.TelemetrySnapshot
	for _, s := range f.snapshots {
		if s.LastUpdate.Before(olderThan) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func TestIngestFirstReport(t *testing.T) {
	store := newFakeStore()
	in := NewIngester(store, nil, zerolog.Nop())
	now := time.Now()
	in.now = func() time.Time { return now }

	snap, err := in.Ingest(context.Background(), "lic-1", &Report{
		AccountBalance: 1000,
		AccountEquity:  990,
		OpenPositions:  []database.OpenPosition{{Ticket: 1, Symbol: "XAUUSD"}},
	})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if snap.AccountBalance != 1000 || len(snap.OpenPositions) != 1 {
		t.Errorf("snapshot not populated from report: %+v", snap)
	}
	if !snap.LastUpdate.Equal(now) {
		t.Errorf("LastUpdate = %v, want %v", snap.LastUpdate, now)
	}
	if snap.PendingOrders == nil || snap.ClosedPositions == nil {
		t.Error("absent lists should be stored as empty, not null")
	}
}

func TestIngestReplacesOpenMergesClosed(t *testing.T) {
	store := newFakeStore()
	store.snapshots["lic-1"] = &database.TelemetrySnapshot{
		LicenseID:       "lic-1",
		OpenPositions:   []database.OpenPosition{{Ticket: 1}, {Ticket: 2}},
		ClosedPositions: []database.ClosedPosition{{Ticket: 10, CloseTime: 100}},
	}
	in := NewIngester(store, nil, zerolog.Nop())

	snap, err := in.Ingest(context.Background(), "lic-1", &Report{
		OpenPositions:   []database.OpenPosition{{Ticket: 3}},
		ClosedPositions: []database.ClosedPosition{{Ticket: 11, CloseTime: 200}},
	})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}

	// Open positions replaced wholesale, closed history accumulated
	if len(snap.OpenPositions) != 1 || snap.OpenPositions[0].Ticket != 3 {
		t.Errorf("open positions = %+v, want only ticket 3", snap.OpenPositions)
	}
	if len(snap.ClosedPositions) != 2 {
		t.Fatalf("closed history = %d entries, want 2", len(snap.ClosedPositions))
	}
	if snap.ClosedPositions[0].Ticket != 11 {
		t.Errorf("newest closed ticket = %d, want 11", snap.ClosedPositions[0].Ticket)
	}
}

func TestConcurrentIngestsKeepAllHistories(t *testing.T) {
	store := newFakeStore()
	in := NewIngester(store, nil, zerolog.Nop())

	const reports = 10
	var wg sync.WaitGroup
	for i := 0; i < reports; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := in.Ingest(context.Background(), "lic-1", &Report{
				ClosedPositions: []database.ClosedPosition{
					{Ticket: int64(100 + i), CloseTime: int64(1700000000 + i)},
				},
			})
			if err != nil {
				t.Errorf("Ingest() error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	snap := store.snapshots["lic-1"]
	if snap == nil {
		t.Fatal("snapshot not stored")
	}
	if len(snap.ClosedPositions) != reports {
		t.Errorf("closed history = %d entries, want %d; concurrent reports must not drop each other's merges",
			len(snap.ClosedPositions), reports)
	}
	seen := make(map[int64]bool)
	for _, p := range snap.ClosedPositions {
		seen[p.Ticket] = true
	}
	for i := 0; i < reports; i++ {
		if !seen[int64(100+i)] {
			t.Errorf("ticket %d missing from merged history", 100+i)
		}
	}
}

func TestStaleAgents(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.snapshots["fresh"] = &database.TelemetrySnapshot{LicenseID: "fresh", LastUpdate: now.Add(-time.Minute)}
	store.snapshots["stale"] = &database.TelemetrySnapshot{LicenseID: "stale", LastUpdate: now.Add(-time.Hour)}

	in := NewIngester(store, nil, zerolog.Nop())
	in.now = func() time.Time { return now }

	got, err := in.StaleAgents(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("StaleAgents() error: %v", err)
	}
	if len(got) != 1 || got[0].LicenseID != "stale" {
		t.Errorf("stale agents = %+v, want only the hour-old snapshot", got)
	}
}
