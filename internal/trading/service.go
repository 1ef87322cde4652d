// Package trading is the user-facing workflow around the swap executor:
// risk checks before a swap, booking confirmed swaps on the ledger, and the
// positions view.
package trading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-swapbot/internal/fees"
	"github.com/kjannette/trahn-swapbot/internal/models"
	"github.com/kjannette/trahn-swapbot/internal/portfolio"
	"github.com/kjannette/trahn-swapbot/internal/session"
	"github.com/kjannette/trahn-swapbot/internal/swap"
	"github.com/kjannette/trahn-swapbot/internal/units"
)

// ErrNotRecorded means a swap confirmed on chain but the ledger write
// failed. The swap must not be retried.
var ErrNotRecorded = errors.New("swap confirmed but not recorded")

const defaultTokenDecimals = 18

type Executor interface {
	Execute(ctx context.Context, req swap.Request) *swap.Result
	Preview(ctx context.Context, token string, dir swap.Direction, amount *big.Int) (*swap.Quote, *fees.Breakdown, error)
}

type Users interface {
	Get(ctx context.Context, userID string) (*models.User, error)
}

type Book interface {
	RecordTrade(ctx context.Context, userID string, t models.Trade) (*models.User, error)
	Positions(ctx context.Context, userID string) ([]models.Position, error)
	Trades(ctx context.Context, userID string) ([]models.Trade, error)
	ClearAll(ctx context.Context, userID string) error
	Refresh(ctx context.Context, userID string, lookup portfolio.PriceLookup, usdRate float64) ([]models.Position, portfolio.RefreshResult, error)
}

type RateSource interface {
	Rate(ctx context.Context) (float64, error)
}

type RiskCheck interface {
	PreTradeCheck(ctx context.Context, userID string, tradeSize float64) error
}

type Notifier interface {
	TradeBooked(ctx context.Context, userID string, t models.Trade, res *swap.Result)
	SwapUnresolved(ctx context.Context, userID string, res *swap.Result)
}

// Holdings reads on-chain token balances; sells never ask for more than
// the wallet holds.
type Holdings interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// DecimalsSource resolves token precision when analytics omit it.
type DecimalsSource interface {
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
}

// Deps wires a Service. Risk, Notifier, Holdings and Decimals are optional.
type Deps struct {
	Executor Executor
	Users    Users
	Book     Book
	Lookup   portfolio.PriceLookup
	Rates    RateSource
	Sessions session.Store
	Risk     RiskCheck
	Notifier Notifier
	Holdings Holdings
	Decimals DecimalsSource
}

type Service struct {
	d   Deps
	log logrus.FieldLogger
	now func() time.Time
}

func NewService(d Deps, log logrus.FieldLogger) *Service {
	return &Service{d: d, log: log.WithField("component", "trading"), now: time.Now}
}

// Outcome is what a buy or sell produced. Trade is set only when the swap
// confirmed and was booked.
type Outcome struct {
	Result    *swap.Result      `json:"result"`
	Trade     *models.Trade     `json:"trade,omitempty"`
	Positions []models.Position `json:"positions,omitempty"`
}

// Buy spends amount wei of the user's native balance on token.
func (s *Service) Buy(ctx context.Context, userID, token string, amount *big.Int) (*Outcome, error) {
	token = canonical(token)
	u, err := s.d.Users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.d.Risk != nil {
		if err := s.d.Risk.PreTradeCheck(ctx, userID, units.WeiToNative(amount)); err != nil {
			return nil, err
		}
	}
	snap := s.snapshot(ctx, token)

	res := s.d.Executor.Execute(ctx, swap.Request{
		TokenAddress: token,
		Direction:    swap.Buy,
		Amount:       amount,
		Credential:   u.Credential.Reveal(),
	})
	if !res.Success {
		return s.unbooked(ctx, userID, res), nil
	}

	dec := s.decimals(ctx, token, snap)
	tokens := units.ToFloat(res.Quote.OutAmount, dec)
	spent := units.WeiToNative(amount)
	t := s.trade(token, snap, res, tokens, spent)
	return s.book(ctx, userID, t, res)
}

// Sell swaps percent (0, 100] of the user's open position in token back to
// the native currency.
func (s *Service) Sell(ctx context.Context, userID, token string, percent float64) (*Outcome, error) {
	if math.IsNaN(percent) || percent <= 0 || percent > 100 {
		return nil, fmt.Errorf("%w: percent must be in (0, 100], got %v", swap.ErrInvalidInput, percent)
	}
	token = canonical(token)
	u, err := s.d.Users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	positions, err := s.d.Book.Positions(ctx, userID)
	if err != nil {
		return nil, err
	}
	pos := findPosition(positions, token)
	if pos == nil || pos.TotalTokens <= 0 {
		return nil, fmt.Errorf("no open position in %s: %w", token, models.ErrNotFound)
	}

	snap := s.snapshot(ctx, token)
	dec := s.decimals(ctx, token, snap)
	amount := units.Percent(units.FromFloat(pos.TotalTokens, dec), percent)
	if s.d.Holdings != nil && common.IsHexAddress(token) {
		held, err := s.d.Holdings.TokenBalance(ctx, common.HexToAddress(token), common.HexToAddress(u.WalletAddress))
		if err != nil {
			s.log.WithError(err).WithField("token", token).Warn("token balance lookup failed")
		} else if held.Cmp(amount) < 0 {
			amount = held
		}
	}

	if s.d.Risk != nil {
		size := units.ToFloat(amount, dec) * pos.CurrentPrice
		if err := s.d.Risk.PreTradeCheck(ctx, userID, size); err != nil {
			return nil, err
		}
	}

	res := s.d.Executor.Execute(ctx, swap.Request{
		TokenAddress: token,
		Direction:    swap.Sell,
		Amount:       amount,
		Credential:   u.Credential.Reveal(),
	})
	if !res.Success {
		return s.unbooked(ctx, userID, res), nil
	}

	tokens := -units.ToFloat(amount, dec)
	received := -units.WeiToNative(res.Quote.OutAmount)
	if snap == nil {
		snap = &models.TokenSnapshot{Name: pos.TokenName, Symbol: pos.TokenSymbol, MarketCap: pos.CurrentMarketCap}
	}
	t := s.trade(pos.TokenAddress, snap, res, tokens, received)
	return s.book(ctx, userID, t, res)
}

func (s *Service) unbooked(ctx context.Context, userID string, res *swap.Result) *Outcome {
	if res.Status == swap.StatusUnknown && s.d.Notifier != nil {
		s.d.Notifier.SwapUnresolved(ctx, userID, res)
	}
	return &Outcome{Result: res}
}

func (s *Service) trade(token string, snap *models.TokenSnapshot, res *swap.Result, tokens, base float64) models.Trade {
	price := 0.0
	if tokens != 0 {
		price = math.Abs(base / tokens)
	}
	t := models.Trade{
		TokenAddress: token,
		TokenAmount:  tokens,
		BaseSpent:    base,
		BuyPrice:     price,
		CurrentPrice: price,
		Signature:    res.Signature,
		Timestamp:    s.now().UTC(),
	}
	if snap != nil {
		t.TokenName, t.TokenSymbol = snap.Name, snap.Symbol
		t.EntryMarketCap = snap.MarketCap
		if snap.Price > 0 {
			t.CurrentPrice = snap.Price
		}
	}
	return t
}

func (s *Service) book(ctx context.Context, userID string, t models.Trade, res *swap.Result) (*Outcome, error) {
	// The swap already happened; a cancelled request must not lose it.
	u, err := s.d.Book.RecordTrade(context.WithoutCancel(ctx), userID, t)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"user":      userID,
			"signature": res.Signature,
		}).Error("confirmed swap could not be recorded")
		return &Outcome{Result: res}, fmt.Errorf("%w: %s: %v", ErrNotRecorded, res.Signature, err)
	}
	booked := u.Trades[len(u.Trades)-1]
	if s.d.Notifier != nil {
		s.d.Notifier.TradeBooked(ctx, userID, booked, res)
	}
	return &Outcome{Result: res, Trade: &booked, Positions: u.Positions}, nil
}

func (s *Service) snapshot(ctx context.Context, token string) *models.TokenSnapshot {
	if s.d.Lookup == nil {
		return nil
	}
	snap, err := s.d.Lookup.TokenSnapshot(ctx, token)
	if err != nil {
		s.log.WithError(err).WithField("token", token).Warn("token analytics unavailable")
		return nil
	}
	return snap
}

func (s *Service) decimals(ctx context.Context, token string, snap *models.TokenSnapshot) int {
	if snap != nil && snap.Decimals > 0 {
		return snap.Decimals
	}
	if s.d.Decimals != nil && common.IsHexAddress(token) {
		d, err := s.d.Decimals.TokenDecimals(ctx, common.HexToAddress(token))
		if err == nil {
			return int(d)
		}
		s.log.WithError(err).WithField("token", token).Warn("decimals lookup failed")
	}
	return defaultTokenDecimals
}

// canonical returns the checksummed form of a hex address so that one token
// is always booked under one key. Anything else is returned as is and left
// for validation to reject.
func canonical(token string) string {
	if !common.IsHexAddress(token) {
		return token
	}
	return common.HexToAddress(token).Hex()
}

func findPosition(positions []models.Position, token string) *models.Position {
	for i := range positions {
		if strings.EqualFold(positions[i].TokenAddress, token) {
			return &positions[i]
		}
	}
	return nil
}
