package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/trahn-swapbot/internal/models"
	"github.com/kjannette/trahn-swapbot/internal/portfolio"
	"github.com/kjannette/trahn-swapbot/internal/repository"
)

const tokenX = "0x1111111111111111111111111111111111111111"

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newLedger(t *testing.T, store Store) *Ledger {
	t.Helper()
	logger, _ := test.NewNullLogger()
	l := New(store, logger)
	l.now = func() time.Time { return t0.Add(time.Hour) }
	return l
}

func seedUser(t *testing.T, store Store, id string) {
	t.Helper()
	require.NoError(t, store.SaveUser(context.Background(), &models.User{ID: id}))
}

func trade(amount, spent, price float64, at time.Time) models.Trade {
	return models.Trade{
		TokenAddress:   tokenX,
		TokenSymbol:    "X",
		TokenAmount:    amount,
		BaseSpent:      spent,
		BuyPrice:       spent / amount,
		CurrentPrice:   price,
		EntryMarketCap: price * 1e6,
		Timestamp:      at,
	}
}

type priceLookup map[string]float64

func (p priceLookup) TokenSnapshot(_ context.Context, addr string) (*models.TokenSnapshot, error) {
	price, ok := p[addr]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &models.TokenSnapshot{Address: addr, Price: price, MarketCap: price * 1e6}, nil
}

func TestRecordTrade_BuildsPosition(t *testing.T) {
	store := repository.NewMemoryUserRepo()
	seedUser(t, store, "alice")
	l := newLedger(t, store)
	ctx := context.Background()

	_, err := l.RecordTrade(ctx, "alice", trade(1000, 1.0, 0.001, t0))
	require.NoError(t, err)
	u, err := l.RecordTrade(ctx, "alice", trade(500, 0.6, 0.0012, t0.Add(time.Minute)))
	require.NoError(t, err)

	require.Len(t, u.Trades, 2)
	require.Len(t, u.Positions, 1)
	p := u.Positions[0]
	assert.InDelta(t, 1500, p.TotalTokens, 1e-9)
	assert.InDelta(t, 1.6, p.TotalBaseSpent, 1e-9)
	assert.InDelta(t, 0.0010667, p.AverageBuyPrice, 1e-7)
	assert.NotEmpty(t, u.Trades[0].ID)

	u, err = l.RecordTrade(ctx, "alice", trade(-500, -0.58, 0.00116, t0.Add(2*time.Minute)))
	require.NoError(t, err)
	p = u.Positions[0]
	assert.InDelta(t, 1000, p.TotalTokens, 1e-9)
	assert.InDelta(t, 1.02, p.TotalBaseSpent, 1e-9)
	assert.InDelta(t, 0.00102, p.AverageBuyPrice, 1e-9)

	stored, err := store.FindUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stored.Version)
	assert.False(t, portfolio.Diverged(stored.Positions, portfolio.DerivePositions(stored.Trades)))
}

func TestRecordTrade_SellWithoutPositionIsLedgerOnly(t *testing.T) {
	store := repository.NewMemoryUserRepo()
	seedUser(t, store, "bob")
	l := newLedger(t, store)

	u, err := l.RecordTrade(context.Background(), "bob", trade(-10, -0.1, 0.01, t0))
	require.NoError(t, err)
	assert.Len(t, u.Trades, 1)
	assert.Empty(t, u.Positions)
}

func TestRecordTrade_UnknownUser(t *testing.T) {
	l := newLedger(t, repository.NewMemoryUserRepo())
	_, err := l.RecordTrade(context.Background(), "ghost", trade(1, 1, 1, t0))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRecordTrade_RepairsDivergedCache(t *testing.T) {
	store := repository.NewMemoryUserRepo()
	ctx := context.Background()
	require.NoError(t, store.SaveUser(ctx, &models.User{
		ID:     "carol",
		Trades: []models.Trade{trade(1000, 1.0, 0.001, t0)},
	}))
	l := newLedger(t, store)

	u, err := l.RecordTrade(ctx, "carol", trade(500, 0.6, 0.0012, t0.Add(time.Minute)))
	require.NoError(t, err)
	require.Len(t, u.Positions, 1)
	assert.InDelta(t, 1500, u.Positions[0].TotalTokens, 1e-9)
}

func TestRecordTrade_ConcurrentNoLostUpdate(t *testing.T) {
	store := repository.NewMemoryUserRepo()
	seedUser(t, store, "dave")
	l := newLedger(t, store)
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.RecordTrade(ctx, "dave", trade(10, 0.01, 0.001, t0.Add(time.Duration(i)*time.Second)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	u, err := store.FindUser(ctx, "dave")
	require.NoError(t, err)
	assert.Len(t, u.Trades, n)
	require.Len(t, u.Positions, 1)
	assert.InDelta(t, 10*n, u.Positions[0].TotalTokens, 1e-9)
}

func TestRecordTrade_CompetingInstancesRetryOnConflict(t *testing.T) {
	store := repository.NewMemoryUserRepo()
	seedUser(t, store, "erin")
	a, b := newLedger(t, store), newLedger(t, store)
	ctx := context.Background()

	const perInstance = 5
	var wg sync.WaitGroup
	for _, l := range []*Ledger{a, b} {
		wg.Add(1)
		go func(l *Ledger) {
			defer wg.Done()
			for i := 0; i < perInstance; i++ {
				_, err := l.RecordTrade(ctx, "erin", trade(1, 0.001, 0.001, t0))
				assert.NoError(t, err)
			}
		}(l)
	}
	wg.Wait()

	u, err := store.FindUser(ctx, "erin")
	require.NoError(t, err)
	assert.Len(t, u.Trades, 2*perInstance)
	assert.InDelta(t, 2*perInstance, u.Positions[0].TotalTokens, 1e-9)
}

func TestClearAll(t *testing.T) {
	store := repository.NewMemoryUserRepo()
	seedUser(t, store, "frank")
	l := newLedger(t, store)
	ctx := context.Background()

	_, err := l.RecordTrade(ctx, "frank", trade(1000, 1.0, 0.001, t0))
	require.NoError(t, err)
	require.NoError(t, l.ClearAll(ctx, "frank"))

	u, err := store.FindUser(ctx, "frank")
	require.NoError(t, err)
	assert.Empty(t, u.Trades)
	assert.Empty(t, u.Positions)
}

func TestRefresh_PersistsRepricedPositions(t *testing.T) {
	store := repository.NewMemoryUserRepo()
	seedUser(t, store, "gina")
	l := newLedger(t, store)
	ctx := context.Background()

	_, err := l.RecordTrade(ctx, "gina", trade(1000, 1.0, 0.001, t0))
	require.NoError(t, err)
	_, err = l.RecordTrade(ctx, "gina", trade(500, 0.6, 0.0012, t0.Add(time.Minute)))
	require.NoError(t, err)

	positions, res, err := l.Refresh(ctx, "gina", priceLookup{tokenX: 0.002}, 150)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, positions, 1)
	assert.InDelta(t, 1.4, positions[0].BasePnL, 1e-9)
	assert.InDelta(t, 210, positions[0].USDPnL, 1e-6)

	stored, err := store.FindUser(ctx, "gina")
	require.NoError(t, err)
	assert.Equal(t, 0.002, stored.Positions[0].CurrentPrice)
	assert.Equal(t, t0.Add(time.Hour), stored.Positions[0].LastPriceUpdate)

	// A later rebuild keeps the refreshed market data.
	rebuilt, err := l.Rebuild(ctx, "gina")
	require.NoError(t, err)
	assert.Equal(t, 0.002, rebuilt[0].CurrentPrice)
}

func TestRefresh_LookupFailureKeepsPrice(t *testing.T) {
	store := repository.NewMemoryUserRepo()
	seedUser(t, store, "hank")
	l := newLedger(t, store)
	ctx := context.Background()

	_, err := l.RecordTrade(ctx, "hank", trade(1000, 1.0, 0.001, t0))
	require.NoError(t, err)

	positions, res, err := l.Refresh(ctx, "hank", priceLookup{}, 150)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0.001, positions[0].CurrentPrice)
	assert.Equal(t, t0, positions[0].LastPriceUpdate)
}

func TestCountToday(t *testing.T) {
	store := repository.NewMemoryUserRepo()
	seedUser(t, store, "ivy")
	l := newLedger(t, store)
	ctx := context.Background()

	_, err := l.RecordTrade(ctx, "ivy", trade(1, 0.1, 0.1, t0.Add(-48*time.Hour)))
	require.NoError(t, err)
	_, err = l.RecordTrade(ctx, "ivy", trade(1, 0.1, 0.1, t0))
	require.NoError(t, err)
	_, err = l.RecordTrade(ctx, "ivy", trade(1, 0.1, 0.1, t0.Add(30*time.Minute)))
	require.NoError(t, err)

	n, err := l.CountToday(ctx, "ivy")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = l.CountToday(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	unlock()
	assert.Empty(t, k.locks)
}
