// Package ledger owns every mutation of a user's trade ledger and cached
// positions. All writes for one user are serialized by a per-user lock and
// guarded by the store's optimistic version check.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-swapbot/internal/id"
	"github.com/kjannette/trahn-swapbot/internal/metrics"
	"github.com/kjannette/trahn-swapbot/internal/models"
	"github.com/kjannette/trahn-swapbot/internal/portfolio"
	"github.com/kjannette/trahn-swapbot/internal/risk"
)

// maxSaveAttempts bounds reload-and-retry on version conflicts.
const maxSaveAttempts = 8

// Store persists whole user documents. SaveUser must fail with
// models.ErrVersionConflict when the stored version differs from u.Version,
// and bump u.Version on success. A zero Version means insert.
type Store interface {
	FindUser(ctx context.Context, id string) (*models.User, error)
	SaveUser(ctx context.Context, u *models.User) error
	ListUserIDs(ctx context.Context) ([]string, error)
}

type Ledger struct {
	store Store
	locks *keyedMutex
	log   logrus.FieldLogger
	now   func() time.Time
}

func New(store Store, log logrus.FieldLogger) *Ledger {
	return &Ledger{
		store: store,
		locks: newKeyedMutex(),
		log:   log.WithField("component", "ledger"),
		now:   time.Now,
	}
}

// Update loads the user, applies fn and saves the result while holding the
// user's lock. fn may run more than once if another writer wins the version
// race, so it must only touch the user it is given.
func (l *Ledger) Update(ctx context.Context, userID string, fn func(u *models.User) error) (*models.User, error) {
	unlock := l.locks.Lock(userID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		u, err := l.store.FindUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load user %s: %w", userID, err)
		}
		if err := fn(u); err != nil {
			return nil, err
		}
		u.UpdatedAt = l.now().UTC()

		err = l.store.SaveUser(ctx, u)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, models.ErrVersionConflict) || attempt == maxSaveAttempts {
			return nil, fmt.Errorf("save user %s: %w", userID, err)
		}

		metrics.LedgerConflicts.Inc()
		l.log.WithFields(logrus.Fields{"user": userID, "attempt": attempt}).Debug("version conflict, reloading")
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// RecordTrade appends t to the user's ledger and folds it into the cached
// positions in a single save. Missing ID and timestamp are filled in.
func (l *Ledger) RecordTrade(ctx context.Context, userID string, t models.Trade) (*models.User, error) {
	if t.Timestamp.IsZero() {
		t.Timestamp = l.now().UTC()
	}
	if t.ID == "" {
		t.ID = id.At(t.Timestamp)
	}

	u, err := l.Update(ctx, userID, func(u *models.User) error {
		l.repairPositions(u)
		u.Trades = append(u.Trades, t)
		u.Positions = portfolio.ApplyTrade(u.Positions, t)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesRecorded.Inc()
	l.log.WithFields(logrus.Fields{
		"user":   userID,
		"trade":  t.ID,
		"token":  t.TokenAddress,
		"amount": t.TokenAmount,
		"base":   t.BaseSpent,
	}).Info("trade recorded")
	return u, nil
}

// ClearAll empties the user's ledger and positions together.
func (l *Ledger) ClearAll(ctx context.Context, userID string) error {
	_, err := l.Update(ctx, userID, func(u *models.User) error {
		u.Trades = []models.Trade{}
		u.Positions = []models.Position{}
		return nil
	})
	if err != nil {
		return err
	}
	l.log.WithField("user", userID).Info("ledger cleared")
	return nil
}

// Rebuild re-derives the cached positions from the ledger and saves them.
func (l *Ledger) Rebuild(ctx context.Context, userID string) ([]models.Position, error) {
	u, err := l.Update(ctx, userID, func(u *models.User) error {
		u.Positions = portfolio.Reconcile(portfolio.DerivePositions(u.Trades), u.Positions)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u.Positions, nil
}

// Positions returns the user's positions as the ledger derives them, with
// any fresher cached market data applied. Nothing is written.
func (l *Ledger) Positions(ctx context.Context, userID string) ([]models.Position, error) {
	u, err := l.store.FindUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	return portfolio.Reconcile(portfolio.DerivePositions(u.Trades), u.Positions), nil
}

// Trades returns the user's ledger in recorded order.
func (l *Ledger) Trades(ctx context.Context, userID string) ([]models.Trade, error) {
	u, err := l.store.FindUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	return u.Trades, nil
}

// Refresh re-prices the user's positions and persists the whole set in one
// save. Lookups run without holding the user's lock; trades booked in the
// meantime are kept and win over the refreshed price.
func (l *Ledger) Refresh(ctx context.Context, userID string, lookup portfolio.PriceLookup, usdRate float64) ([]models.Position, portfolio.RefreshResult, error) {
	current, err := l.Positions(ctx, userID)
	if err != nil {
		return nil, portfolio.RefreshResult{}, err
	}

	res := portfolio.RefreshPnL(ctx, current, lookup, usdRate, l.now().UTC(), l.log.WithField("user", userID))
	if res.Failed > 0 {
		metrics.PriceLookupFailures.Add(float64(res.Failed))
	}

	u, err := l.Update(ctx, userID, func(u *models.User) error {
		fresh := portfolio.Reconcile(portfolio.DerivePositions(u.Trades), u.Positions)
		fresh = portfolio.Reconcile(fresh, res.Positions)
		for i := range fresh {
			fresh[i].USDPnL = fresh[i].BasePnL * usdRate
		}
		u.Positions = fresh
		return nil
	})
	if err != nil {
		return nil, res, err
	}

	l.log.WithFields(logrus.Fields{
		"user":    userID,
		"updated": res.Updated,
		"failed":  res.Failed,
	}).Info("positions refreshed")
	return u.Positions, res, nil
}

// CountToday returns how many trades the user booked in the current
// trading day.
func (l *Ledger) CountToday(ctx context.Context, userID string) (int, error) {
	trades, err := l.Trades(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	today := risk.TradingDay(l.now())
	n := 0
	for _, t := range trades {
		if risk.TradingDay(t.Timestamp) == today {
			n++
		}
	}
	return n, nil
}

// UserIDs lists every user with a stored ledger.
func (l *Ledger) UserIDs(ctx context.Context) ([]string, error) {
	return l.store.ListUserIDs(ctx)
}

func (l *Ledger) repairPositions(u *models.User) {
	derived := portfolio.DerivePositions(u.Trades)
	if !portfolio.Diverged(u.Positions, derived) {
		return
	}
	l.log.WithField("user", u.ID).Warn("cached positions diverged from ledger, rebuilding")
	u.Positions = portfolio.Reconcile(derived, u.Positions)
}
