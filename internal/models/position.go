package models

import "time"

// Position aggregates every trade a user made in one token.
type Position struct {
	TokenAddress     string    `json:"tokenAddress"`
	TokenName        string    `json:"tokenName"`
	TokenSymbol      string    `json:"tokenSymbol"`
	TotalTokens      float64   `json:"totalTokens"`
	TotalBaseSpent   float64   `json:"totalBaseSpent"`
	AverageBuyPrice  float64   `json:"averageBuyPrice"`
	CurrentPrice     float64   `json:"currentPrice"`
	CurrentMarketCap float64   `json:"currentMarketCap"`
	BasePnL          float64   `json:"basePnl"`
	USDPnL           float64   `json:"usdPnl"`
	EntryMarketCap   float64   `json:"entryMarketCap"`
	LastPriceUpdate  time.Time `json:"lastPriceUpdate"`
	Trades           []Trade   `json:"trades"`
}

// Summary is the portfolio-wide rollup shown next to the position list.
type Summary struct {
	TotalBaseSpent    float64 `json:"totalBaseSpent"`
	TotalBasePnL      float64 `json:"totalBasePnl"`
	TotalUSDPnL       float64 `json:"totalUsdPnl"`
	NumberOfPositions int     `json:"numberOfPositions"`
}
