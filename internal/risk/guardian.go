package risk

import (
	"context"
	"fmt"
)

// DailyTradeCounter abstracts the trade-counting dependency so Guardian
// can be tested without a real ledger.
type DailyTradeCounter interface {
	CountToday(ctx context.Context, userID string) (int, error)
}

// Limits holds the per-user trading thresholds from config.
// A zero value for any field means that check is disabled.
type Limits struct {
	MaxDailyTrades int
	MaxTradeSize   float64 // native currency per trade
}

type Guardian struct {
	limits  Limits
	counter DailyTradeCounter
}

func NewGuardian(limits Limits, counter DailyTradeCounter) *Guardian {
	return &Guardian{limits: limits, counter: counter}
}

// PreTradeCheck validates per-trade constraints before execution.
// Returns nil if the trade is allowed, a descriptive error if blocked.
func (g *Guardian) PreTradeCheck(ctx context.Context, userID string, tradeSize float64) error {
	if g.limits.MaxTradeSize > 0 && tradeSize > g.limits.MaxTradeSize {
		return fmt.Errorf("%w: trade size %.4f exceeds max %.4f",
			ErrBlocked, tradeSize, g.limits.MaxTradeSize)
	}

	if g.limits.MaxDailyTrades > 0 && g.counter != nil {
		count, err := g.counter.CountToday(ctx, userID)
		if err != nil {
			return fmt.Errorf("%w: unable to verify daily trade count: %v", ErrBlocked, err)
		}
		if count >= g.limits.MaxDailyTrades {
			return fmt.Errorf("%w: daily limit of %d trades reached (%d executed today)",
				ErrBlocked, g.limits.MaxDailyTrades, count)
		}
	}

	return nil
}
