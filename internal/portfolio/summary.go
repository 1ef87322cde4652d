package portfolio

import "github.com/kjannette/trahn-swapbot/internal/models"

// Summarize totals spend and PnL across all positions, including closed
// (zero-balance) ones.
func Summarize(positions []models.Position) models.Summary {
	var s models.Summary
	for _, p := range positions {
		s.TotalBaseSpent += p.TotalBaseSpent
		s.TotalBasePnL += p.BasePnL
		s.TotalUSDPnL += p.USDPnL
	}
	s.NumberOfPositions = len(positions)
	return s
}
