package commands

import (
	"sort"
	"strings"

	"ea-license-server/internal/database"
)

// SelectWorstPositions picks the n open positions with the most
// adverse price movement, returning their tickets worst first.
// Adversity is measured in price distance rather than profit so lot
// size never skews the ranking: for a long position the market moved
// against it by entry minus current, for a short by current minus
// entry. Ties resolve to the older ticket.
func SelectWorstPositions(positions []database.OpenPosition, currentPrice float64, n int) []int64 {
	if n <= 0 || len(positions) == 0 {
		return nil
	}

	type ranked struct {
		ticket   int64
		distance float64
	}
	candidates := make([]ranked, 0, len(positions))
	for _, p := range positions {
		var distance float64
		if isSell(p.Type) {
			distance = currentPrice - p.OpenPrice
		} else {
			distance = p.OpenPrice - currentPrice
		}
		candidates = append(candidates, ranked{ticket: p.Ticket, distance: distance})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance > candidates[j].distance
		}
		return candidates[i].ticket < candidates[j].ticket
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	tickets := make([]int64, n)
	for i := 0; i < n; i++ {
		tickets[i] = candidates[i].ticket
	}
	return tickets
}

func isSell(positionType string) bool {
	return strings.EqualFold(positionType, "sell")
}

// filterSide keeps only positions on the requested side. Empty side
// means everything.
func filterSide(positions []database.OpenPosition, side string) []database.OpenPosition {
	if side == "" {
		return positions
	}
	wantSell := isSell(side)
	var out []database.OpenPosition
	for _, p := range positions {
		if isSell(p.Type) == wantSell {
			out = append(out, p)
		}
	}
	return out
}
