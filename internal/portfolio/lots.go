package portfolio

import (
	"sort"

	"github.com/kjannette/trahn-swapbot/internal/models"
)

type lot struct {
	remaining    float64
	costPerToken float64
}

// RealizedPnL matches each sell against the oldest open buy lots of the same
// token and reports realized PnL per token, in order of first appearance.
// Sell quantity beyond what is open is ignored.
func RealizedPnL(trades []models.Trade) []models.Realized {
	ordered := make([]models.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var order []string
	lots := map[string][]lot{}
	results := map[string]*models.Realized{}

	for _, t := range ordered {
		r, ok := results[t.TokenAddress]
		if !ok {
			r = &models.Realized{TokenAddress: t.TokenAddress, TokenSymbol: t.TokenSymbol}
			results[t.TokenAddress] = r
			order = append(order, t.TokenAddress)
		}

		if t.TokenAmount > 0 {
			lots[t.TokenAddress] = append(lots[t.TokenAddress], lot{
				remaining:    t.TokenAmount,
				costPerToken: t.BaseSpent / t.TokenAmount,
			})
			continue
		}
		if t.TokenAmount == 0 {
			continue
		}

		toSell := -t.TokenAmount
		pricePerToken := -t.BaseSpent / toSell
		open := lots[t.TokenAddress]
		for toSell > 0 && len(open) > 0 {
			l := &open[0]
			consumed := min(l.remaining, toSell)

			r.SoldTokens += consumed
			r.CostBasis += consumed * l.costPerToken
			r.Proceeds += consumed * pricePerToken

			l.remaining -= consumed
			toSell -= consumed
			if l.remaining <= epsilon {
				open = open[1:]
			}
		}
		lots[t.TokenAddress] = open
	}

	out := make([]models.Realized, 0, len(order))
	for _, addr := range order {
		r := results[addr]
		r.RealizedPnL = r.Proceeds - r.CostBasis
		for _, l := range lots[addr] {
			r.OpenTokens += l.remaining
			r.OpenCost += l.remaining * l.costPerToken
		}
		out = append(out, *r)
	}
	return out
}
