package risk

import (
	"errors"
	"time"
)

var ErrBlocked = errors.New("trade blocked")

// TradingDay returns the trading day (YYYY-MM-DD) for a given timestamp.
// The day rolls over at 00:00 UTC.
func TradingDay(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}
