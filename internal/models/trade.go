package models

import "time"

// Trade is one executed swap as booked on a user's ledger.
// Buys carry positive TokenAmount and BaseSpent; sells carry negative values.
// BaseSpent is denominated in whole units of the chain's native currency.
type Trade struct {
	ID             string    `json:"id"`
	TokenAddress   string    `json:"tokenAddress"`
	TokenName      string    `json:"tokenName"`
	TokenSymbol    string    `json:"tokenSymbol"`
	TokenAmount    float64   `json:"tokenAmount"`
	BaseSpent      float64   `json:"baseSpent"`
	BuyPrice       float64   `json:"buyPrice"`
	CurrentPrice   float64   `json:"currentPrice"`
	EntryMarketCap float64   `json:"entryMarketCap"`
	BasePnL        float64   `json:"basePnl"`
	USDPnL         float64   `json:"usdPnl"`
	Signature      string    `json:"signature,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func (t Trade) IsSell() bool { return t.TokenAmount < 0 }

// Realized is the FIFO-matched realized result for one token.
type Realized struct {
	TokenAddress string  `json:"tokenAddress"`
	TokenSymbol  string  `json:"tokenSymbol"`
	SoldTokens   float64 `json:"soldTokens"`
	CostBasis    float64 `json:"costBasis"`
	Proceeds     float64 `json:"proceeds"`
	RealizedPnL  float64 `json:"realizedPnl"`
	OpenTokens   float64 `json:"openTokens"`
	OpenCost     float64 `json:"openCost"`
}
