package telemetry

import (
	"sort"

	"ea-license-server/internal/database"
)

// ClosedHistoryCap bounds the retained closed-position history per
// license. Agents report recent history only; the server accumulates
// it up to the cap.
const ClosedHistoryCap = 1000

// MergeClosedPositions folds an incoming batch of closed positions
// into the stored history. Tickets are the identity: a re-reported
// ticket replaces the stored entry. The result is ordered newest
// close first and truncated to the cap, so what falls off is always
// the oldest history.
func MergeClosedPositions(existing, incoming []database.ClosedPosition) []database.ClosedPosition {
	byTicket := make(map[int64]database.ClosedPosition, len(existing)+len(incoming))
	for _, p := range existing {
		byTicket[p.Ticket] = p
	}
	for _, p := range incoming {
		byTicket[p.Ticket] = p
	}

	merged := make([]database.ClosedPosition, 0, len(byTicket))
	for _, p := range byTicket {
		merged = append(merged, p)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CloseTime != merged[j].CloseTime {
			return merged[i].CloseTime > merged[j].CloseTime
		}
		return merged[i].Ticket > merged[j].Ticket
	})

	if len(merged) > ClosedHistoryCap {
		merged = merged[:ClosedHistoryCap]
	}
	return merged
}
