package models

import "time"

type AuditRisk struct {
	MintDisabled   bool `json:"mintDisabled"`
	FreezeDisabled bool `json:"freezeDisabled"`
	LPBurned       bool `json:"lpBurned"`
	Top10Holders   bool `json:"top10Holders"`
}

// TokenSnapshot is live market data for a token. Price is quoted in the
// chain's native currency per whole token.
type TokenSnapshot struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	Symbol    string    `json:"symbol"`
	Decimals  int       `json:"decimals"`
	Score     float64   `json:"score"`
	AuditRisk AuditRisk `json:"auditRisk"`
	Price     float64   `json:"price"`
	Supply    float64   `json:"supply"`
	MarketCap float64   `json:"marketCap"`
	FetchedAt time.Time `json:"fetchedAt"`
}
