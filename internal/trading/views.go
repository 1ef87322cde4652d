package trading

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kjannette/trahn-swapbot/internal/fees"
	"github.com/kjannette/trahn-swapbot/internal/models"
	"github.com/kjannette/trahn-swapbot/internal/portfolio"
	"github.com/kjannette/trahn-swapbot/internal/session"
	"github.com/kjannette/trahn-swapbot/internal/swap"
	"github.com/kjannette/trahn-swapbot/internal/units"
)

type PositionsView struct {
	session.Page
	Summary     models.Summary      `json:"summary"`
	Preferences session.Preferences `json:"preferences"`
	// Refreshed is set when the view repriced positions; Failed counts
	// positions whose price could not be fetched.
	Refreshed bool `json:"refreshed"`
	Updated   int  `json:"updated,omitempty"`
	Failed    int  `json:"failed,omitempty"`
}

// Positions returns the user's positions page and portfolio summary. With
// refresh set, prices are fetched and persisted first; without a USD rate
// the refresh fails and nothing is written.
func (s *Service) Positions(ctx context.Context, userID string, refresh bool) (*PositionsView, error) {
	var (
		positions []models.Position
		res       portfolio.RefreshResult
		err       error
	)
	if refresh {
		rate, rerr := s.d.Rates.Rate(ctx)
		if rerr != nil {
			return nil, rerr
		}
		positions, res, err = s.d.Book.Refresh(ctx, userID, s.d.Lookup, rate)
	} else {
		positions, err = s.d.Book.Positions(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	prefs, err := s.d.Sessions.Get(ctx, userID)
	if err != nil {
		s.log.WithError(err).WithField("user", userID).Warn("session read failed, using defaults")
		prefs = session.Preferences{}
	}
	page, prefs := session.Paginate(positions, prefs)
	if err := s.d.Sessions.Put(ctx, userID, prefs); err != nil {
		s.log.WithError(err).WithField("user", userID).Warn("session write failed")
	}

	return &PositionsView{
		Page:        page,
		Summary:     portfolio.Summarize(positions),
		Preferences: prefs,
		Refreshed:   refresh,
		Updated:     res.Updated,
		Failed:      res.Failed,
	}, nil
}

func (s *Service) Trades(ctx context.Context, userID string) ([]models.Trade, error) {
	return s.d.Book.Trades(ctx, userID)
}

// Realized reports FIFO realized PnL per token.
func (s *Service) Realized(ctx context.Context, userID string) ([]models.Realized, error) {
	trades, err := s.d.Book.Trades(ctx, userID)
	if err != nil {
		return nil, err
	}
	return portfolio.RealizedPnL(trades), nil
}

// Clear wipes the user's trades and positions and resets their view.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := s.d.Book.ClearAll(ctx, userID); err != nil {
		return err
	}
	prefs, err := s.d.Sessions.Get(ctx, userID)
	if err == nil {
		prefs.CurrentPage, prefs.SelectedToken = 0, ""
		err = s.d.Sessions.Put(ctx, userID, prefs)
	}
	if err != nil {
		s.log.WithError(err).WithField("user", userID).Warn("session reset failed")
	}
	return nil
}

func (s *Service) Session(ctx context.Context, userID string) (session.Preferences, error) {
	return s.d.Sessions.Get(ctx, userID)
}

func (s *Service) SetSession(ctx context.Context, userID string, prefs session.Preferences) error {
	if prefs.CurrentPage < 0 {
		return fmt.Errorf("%w: page must not be negative", swap.ErrInvalidInput)
	}
	return s.d.Sessions.Put(ctx, userID, prefs)
}

// TokenInfo returns token analytics.
func (s *Service) TokenInfo(ctx context.Context, token string) (*models.TokenSnapshot, error) {
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("%w: token address %q", swap.ErrInvalidInput, token)
	}
	token = canonical(token)
	return s.d.Lookup.TokenSnapshot(ctx, token)
}

type QuotePreview struct {
	Direction swap.Direction  `json:"direction"`
	Token     string          `json:"token"`
	AmountIn  string          `json:"amountIn"`
	AmountOut float64         `json:"amountOut"`
	MinOut    float64         `json:"minOut"`
	Impact    float64         `json:"priceImpactPct"`
	Fees      *fees.Breakdown `json:"fees"`
}

// Quote previews a swap of amount whole units of the input asset.
func (s *Service) Quote(ctx context.Context, token string, dir swap.Direction, amount string) (*QuotePreview, error) {
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("%w: token address %q", swap.ErrInvalidInput, token)
	}
	token = canonical(token)
	dec := s.decimals(ctx, token, s.snapshot(ctx, token))
	inDec, outDec := units.NativeDecimals, dec
	if dir == swap.Sell {
		inDec, outDec = dec, units.NativeDecimals
	}
	raw, err := units.FromString(amount, inDec)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q", swap.ErrInvalidInput, amount)
	}
	q, b, err := s.d.Executor.Preview(ctx, token, dir, raw)
	if err != nil {
		return nil, err
	}
	return &QuotePreview{
		Direction: dir,
		Token:     token,
		AmountIn:  amount,
		AmountOut: units.ToFloat(q.OutAmount, outDec),
		MinOut:    units.ToFloat(nonNil(q.MinOutAmount), outDec),
		Impact:    q.PriceImpactPct,
		Fees:      b,
	}, nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
