// Package portfolio derives positions, PnL and summaries from a user's
// trade ledger. Everything here except RefreshPnL is a pure function of its
// inputs.
package portfolio

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kjannette/trahn-swapbot/internal/models"
)

// epsilon is the tolerance used when comparing cached and derived totals.
const epsilon = 1e-9

// ApplyTrade folds one trade into a position set and returns the result.
// The input slice is not modified. A trade that reduces a token with no
// open position is dropped: there is nothing to reduce.
func ApplyTrade(positions []models.Position, t models.Trade) []models.Position {
	mustFinite(t)

	out := make([]models.Position, len(positions), len(positions)+1)
	copy(out, positions)

	for i := range out {
		if !strings.EqualFold(out[i].TokenAddress, t.TokenAddress) {
			continue
		}
		p := out[i]
		p.Trades = append(append([]models.Trade(nil), p.Trades...), t)
		p.TotalTokens += t.TokenAmount
		p.TotalBaseSpent += t.BaseSpent
		p.CurrentPrice = t.CurrentPrice
		p.CurrentMarketCap = t.EntryMarketCap
		p.LastPriceUpdate = t.Timestamp
		if p.TotalTokens > 0 {
			p.AverageBuyPrice = math.Abs(p.TotalBaseSpent / p.TotalTokens)
			p.BasePnL = markToMarket(p)
		}
		out[i] = p
		return out
	}

	if t.TokenAmount <= 0 {
		return out
	}

	p := models.Position{
		TokenAddress:     t.TokenAddress,
		TokenName:        t.TokenName,
		TokenSymbol:      t.TokenSymbol,
		TotalTokens:      t.TokenAmount,
		TotalBaseSpent:   t.BaseSpent,
		AverageBuyPrice:  t.BuyPrice,
		CurrentPrice:     t.CurrentPrice,
		CurrentMarketCap: t.EntryMarketCap,
		EntryMarketCap:   t.EntryMarketCap,
		LastPriceUpdate:  t.Timestamp,
		Trades:           []models.Trade{t},
	}
	p.BasePnL = markToMarket(p)
	return append(out, p)
}

// DerivePositions rebuilds the position set from scratch. Trades are folded
// in timestamp order (ties keep ledger order) and positions come out in the
// order their token first appeared.
func DerivePositions(trades []models.Trade) []models.Position {
	ordered := make([]models.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	positions := []models.Position{}
	for _, t := range ordered {
		positions = ApplyTrade(positions, t)
	}
	return positions
}

// Reconcile carries live market data from a cached position set onto a
// freshly derived one. Cached data wins only when it was refreshed after the
// position's latest trade.
func Reconcile(derived, cached []models.Position) []models.Position {
	byToken := make(map[string]models.Position, len(cached))
	for _, c := range cached {
		byToken[c.TokenAddress] = c
	}

	out := make([]models.Position, len(derived))
	for i, p := range derived {
		c, ok := byToken[p.TokenAddress]
		if ok && c.LastPriceUpdate.After(lastTradeAt(p)) {
			p.CurrentPrice = c.CurrentPrice
			p.CurrentMarketCap = c.CurrentMarketCap
			p.LastPriceUpdate = c.LastPriceUpdate
			p.BasePnL = markToMarket(p)
			p.USDPnL = c.USDPnL
		}
		out[i] = p
	}
	return out
}

// Diverged reports whether a cached position set disagrees with what the
// ledger derives.
func Diverged(cached, derived []models.Position) bool {
	if len(cached) != len(derived) {
		return true
	}
	byToken := make(map[string]models.Position, len(cached))
	for _, c := range cached {
		byToken[c.TokenAddress] = c
	}
	for _, d := range derived {
		c, ok := byToken[d.TokenAddress]
		if !ok || len(c.Trades) != len(d.Trades) {
			return true
		}
		if math.Abs(c.TotalTokens-d.TotalTokens) > epsilon ||
			math.Abs(c.TotalBaseSpent-d.TotalBaseSpent) > epsilon {
			return true
		}
	}
	return false
}

func markToMarket(p models.Position) float64 {
	return p.TotalTokens*p.CurrentPrice - p.TotalBaseSpent
}

func lastTradeAt(p models.Position) (latest time.Time) {
	for _, t := range p.Trades {
		if t.Timestamp.After(latest) {
			latest = t.Timestamp
		}
	}
	return latest
}

// mustFinite panics on a trade that can only come from a corrupted ledger.
func mustFinite(t models.Trade) {
	fields := []struct {
		name string
		v    float64
	}{
		{"tokenAmount", t.TokenAmount},
		{"baseSpent", t.BaseSpent},
		{"buyPrice", t.BuyPrice},
		{"currentPrice", t.CurrentPrice},
		{"entryMarketCap", t.EntryMarketCap},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			panic(fmt.Sprintf("portfolio: trade %s has non-finite %s", t.ID, f.name))
		}
	}
}
