package models

import "time"

// Credential is a hex-encoded signing key. It renders as a placeholder in
// logs and formatted output; only its JSON form carries the real value.
type Credential string

const redacted = "[redacted]"

func (c Credential) String() string   { return redacted }
func (c Credential) GoString() string { return redacted }

// Reveal returns the raw key material for signing.
func (c Credential) Reveal() string { return string(c) }

// User is the unit of persistence: profile, wallet and the whole ledger.
// Version is bumped by the store on every successful save.
type User struct {
	ID               string     `json:"id"`
	WalletAddress    string     `json:"walletAddress"`
	Credential       Credential `json:"credential"`
	Balance          float64    `json:"balance"`
	BalanceUpdatedAt time.Time  `json:"balanceUpdatedAt"`
	Trades           []Trade    `json:"trades"`
	Positions        []Position `json:"positions"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// FindPosition returns the index of the position for token, or -1.
func (u *User) FindPosition(token string) int {
	for i := range u.Positions {
		if u.Positions[i].TokenAddress == token {
			return i
		}
	}
	return -1
}

// Profile is the public view of a user, without ledger or credential.
type Profile struct {
	ID               string    `json:"id"`
	WalletAddress    string    `json:"walletAddress"`
	Balance          float64   `json:"balance"`
	BalanceUpdatedAt time.Time `json:"balanceUpdatedAt"`
	NumberOfTrades   int       `json:"numberOfTrades"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (u *User) Profile() Profile {
	return Profile{
		ID:               u.ID,
		WalletAddress:    u.WalletAddress,
		Balance:          u.Balance,
		BalanceUpdatedAt: u.BalanceUpdatedAt,
		NumberOfTrades:   len(u.Trades),
		CreatedAt:        u.CreatedAt,
	}
}
