package telemetry

import (
	"testing"

	"ea-license-server/internal/database"
)

func closed(ticket, closeTime int64, profit float64) database.ClosedPosition {
	return database.ClosedPosition{Ticket: ticket, CloseTime: closeTime, Profit: profit}
}

func TestMergeClosedPositionsDedupByTicket(t *testing.T) {
	existing := []database.ClosedPosition{
		closed(1, 100, 10),
		closed(2, 200, -5),
	}
	incoming := []database.ClosedPosition{
		closed(2, 200, -7.5), // re-reported with corrected profit
		closed(3, 300, 3),
	}

	got := MergeClosedPositions(existing, incoming)
	if len(got) != 3 {
		t.Fatalf("merged length = %d, want 3", len(got))
	}

	byTicket := make(map[int64]database.ClosedPosition)
	for _, p := range got {
		byTicket[p.Ticket] = p
	}
	if byTicket[2].Profit != -7.5 {
		t.Errorf("re-reported ticket kept stale profit %v, want -7.5", byTicket[2].Profit)
	}
}

func TestMergeClosedPositionsOrderNewestFirst(t *testing.T) {
	got := MergeClosedPositions(
		[]database.ClosedPosition{closed(1, 100, 0), closed(2, 300, 0)},
		[]database.ClosedPosition{closed(3, 200, 0)},
	)

	wantOrder := []int64{2, 3, 1}
	for i, want := range wantOrder {
		if got[i].Ticket != want {
			t.Fatalf("position %d ticket = %d, want %d (order %v)", i, got[i].Ticket, want, wantOrder)
		}
	}
}

func TestMergeClosedPositionsCapDropsOldest(t *testing.T) {
	existing := make([]database.ClosedPosition, ClosedHistoryCap)
	for i := range existing {
		// close times 1..cap, ticket matches close time
		existing[i] = closed(int64(i+1), int64(i+1), 0)
	}
	incoming := []database.ClosedPosition{closed(9999, int64(ClosedHistoryCap+1), 0)}

	got := MergeClosedPositions(existing, incoming)
	if len(got) != ClosedHistoryCap {
		t.Fatalf("merged length = %d, want cap %d", len(got), ClosedHistoryCap)
	}
	if got[0].Ticket != 9999 {
		t.Errorf("newest entry ticket = %d, want 9999", got[0].Ticket)
	}
	for _, p := range got {
		if p.CloseTime == 1 {
			t.Error("oldest entry should have been dropped by the cap")
		}
	}
}

func TestMergeClosedPositionsTieBreakByTicket(t *testing.T) {
	got := MergeClosedPositions(nil, []database.ClosedPosition{
		closed(5, 100, 0),
		closed(9, 100, 0),
		closed(1, 100, 0),
	})

	wantOrder := []int64{9, 5, 1}
	for i, want := range wantOrder {
		if got[i].Ticket != want {
			t.Fatalf("position %d ticket = %d, want %d", i, got[i].Ticket, want)
		}
	}
}

func TestMergeClosedPositionsEmptyInputs(t *testing.T) {
	if got := MergeClosedPositions(nil, nil); len(got) != 0 {
		t.Errorf("merge of nothing = %d entries, want 0", len(got))
	}

	existing := []database.ClosedPosition{closed(1, 100, 0)}
	got := MergeClosedPositions(existing, nil)
	if len(got) != 1 || got[0].Ticket != 1 {
		t.Errorf("empty incoming batch should preserve history, got %v", got)
	}
}
