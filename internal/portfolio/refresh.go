package portfolio

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kjannette/trahn-swapbot/internal/models"
)

// maxConcurrentLookups bounds the fan-out against the price source.
const maxConcurrentLookups = 4

// PriceLookup returns live market data for a token.
type PriceLookup interface {
	TokenSnapshot(ctx context.Context, address string) (*models.TokenSnapshot, error)
}

// RefreshResult reports how a refresh went alongside the new positions.
type RefreshResult struct {
	Positions []models.Position
	Updated   int
	Failed    int
}

// RefreshPnL re-prices every position and recomputes base and USD PnL.
// A failed lookup leaves that position's price and market cap as they were;
// it never fails the whole refresh. LastPriceUpdate moves only for
// positions whose lookup succeeded.
func RefreshPnL(ctx context.Context, positions []models.Position, lookup PriceLookup, usdRate float64, now time.Time, log logrus.FieldLogger) RefreshResult {
	snaps := make([]*models.TokenSnapshot, len(positions))

	var g errgroup.Group
	g.SetLimit(maxConcurrentLookups)
	for i := range positions {
		addr := positions[i].TokenAddress
		g.Go(func() error {
			snap, err := lookup.TokenSnapshot(ctx, addr)
			if err != nil {
				log.WithError(err).WithField("token", addr).Warn("price lookup failed, keeping last price")
				return nil
			}
			if snap == nil || !usablePrice(snap.Price) {
				log.WithField("token", addr).Warn("price lookup returned no usable price")
				return nil
			}
			snaps[i] = snap
			return nil
		})
	}
	_ = g.Wait()

	res := RefreshResult{Positions: make([]models.Position, len(positions))}
	for i, p := range positions {
		if snap := snaps[i]; snap != nil {
			p.CurrentPrice = snap.Price
			p.CurrentMarketCap = snap.MarketCap
			p.LastPriceUpdate = now
			res.Updated++
		} else {
			res.Failed++
		}
		p.BasePnL = markToMarket(p)
		p.USDPnL = p.BasePnL * usdRate
		res.Positions[i] = p
	}
	return res
}

func usablePrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
