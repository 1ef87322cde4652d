package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-swapbot/internal/accounts"
	"github.com/kjannette/trahn-swapbot/internal/aggregator"
	"github.com/kjannette/trahn-swapbot/internal/api"
	"github.com/kjannette/trahn-swapbot/internal/cache"
	"github.com/kjannette/trahn-swapbot/internal/config"
	"github.com/kjannette/trahn-swapbot/internal/db"
	"github.com/kjannette/trahn-swapbot/internal/ethereum"
	"github.com/kjannette/trahn-swapbot/internal/external"
	"github.com/kjannette/trahn-swapbot/internal/ledger"
	"github.com/kjannette/trahn-swapbot/internal/notifications"
	"github.com/kjannette/trahn-swapbot/internal/paper"
	"github.com/kjannette/trahn-swapbot/internal/repository"
	"github.com/kjannette/trahn-swapbot/internal/risk"
	"github.com/kjannette/trahn-swapbot/internal/scheduler"
	"github.com/kjannette/trahn-swapbot/internal/session"
	"github.com/kjannette/trahn-swapbot/internal/swap"
	"github.com/kjannette/trahn-swapbot/internal/trading"
	"github.com/kjannette/trahn-swapbot/internal/units"
)

type userStore struct {
	store  ledger.Store
	pinger api.Pinger
	close  func()
}

type app struct {
	store     *userStore
	accounts  *accounts.Service
	trading   *trading.Service
	scheduler *scheduler.RefreshScheduler
	closers   []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openStore connects the configured user store and makes sure its schema
// exists.
func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*userStore, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		log.WithFields(logrus.Fields{"host": cfg.DBHost, "port": cfg.DBPort, "db": cfg.DBName}).Info("connecting to postgres")
		pool, err := db.Connect(ctx, cfg.DSN(), log)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		repo := repository.NewUserRepo(pool)
		if err := repo.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &userStore{store: repo, pinger: repo, close: func() {
			pool.Close()
			log.Info("database connection pool closed")
		}}, nil
	case config.StoreSQLite:
		repo, err := repository.NewSQLiteUserRepo(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return &userStore{store: repo, pinger: repo, close: func() { repo.Close() }}, nil
	default:
		repo := repository.NewMemoryUserRepo()
		return &userStore{store: repo, pinger: repo, close: func() {}}, nil
	}
}

func wire(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*app, error) {
	a := &app{}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.close)

	// Shared caches: Redis when configured, process memory otherwise.
	var (
		snapshots cache.SnapshotCache = cache.NewMemory(cfg.SnapshotTTL)
		sessions  session.Store       = session.NewMemoryStore(cfg.SessionTTL)
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		a.closers = append(a.closers, func() { rdb.Close() })
		snapshots = cache.NewRedis(rdb, cfg.SnapshotTTL)
		sessions = session.NewRedisStore(rdb, cfg.SessionTTL)
	}

	agg := aggregator.NewClient(aggregator.Options{
		BaseURL:      cfg.AggregatorURL,
		APIKey:       cfg.AggregatorAPIKey,
		RPS:          cfg.AggregatorRPS,
		ComputeUnits: cfg.GasLimit,
		PriorityFee:  cfg.PriorityFee(),
	}, log)
	scanner := external.NewTokenScanner(external.ScannerOptions{
		BaseURL: cfg.ScannerURL,
		APIKey:  cfg.ScannerAPIKey,
		RPS:     cfg.ScannerRPS,
	}, snapshots, log)
	rates := external.NewRateSource(external.RateOptions{
		BaseURL: cfg.CoinGeckoURL,
		APIKey:  cfg.CoinGeckoAPIKey,
		CoinID:  cfg.BaseCoinID,
	}, log)

	var eth *ethereum.Client
	if cfg.RPCURL != "" {
		eth, err = ethereum.Dial(cfg.RPCURL, ethereum.Options{
			ChainID:           cfg.ChainID,
			GasLimit:          cfg.GasLimit,
			TipCap:            cfg.PriorityFee(),
			GasMultiplier:     cfg.GasMultiplier,
			MaxSubmitAttempts: cfg.MaxSubmitAttempts,
		}, log)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("ethereum: %w", err)
		}
		a.closers = append(a.closers, eth.Close)
	}

	var (
		chain    swap.LedgerClient
		quotes   swap.QuoteProvider
		holdings trading.Holdings
		balances accounts.BalanceSource
	)
	if cfg.PaperTradingEnabled {
		sim := paper.NewLedger(units.NativeToWei(cfg.PaperInitialBalance), nil, log)
		chain, quotes, holdings, balances = sim, paper.Quotes{Prices: agg}, sim, sim
	} else {
		chain, quotes, holdings, balances = eth, agg, eth, eth
	}

	executor := swap.NewExecutor(swap.Config{
		FeeRecipient:   cfg.FeeRecipientAddress(),
		FeeRate:        cfg.FeeRate,
		FeeFloor:       cfg.FeeFloor(),
		NetworkFee:     cfg.NetworkFee(),
		SlippageBps:    cfg.SlippageBps,
		QuoteTimeout:   cfg.QuoteTimeout,
		ConfirmTimeout: cfg.ConfirmTimeout,
		ExplorerTxURL:  cfg.ExplorerTxURL,
	}, quotes, chain, log)

	notifier := notifications.NewSender(cfg.WebhookURL, cfg.BotName, log)
	a.closers = append(a.closers, notifier.Wait)

	book := ledger.New(store.store, log)
	a.accounts = accounts.NewService(store.store, book, balances, log)

	deps := trading.Deps{
		Executor: executor,
		Users:    a.accounts,
		Book:     book,
		Lookup:   scanner,
		Rates:    rates,
		Sessions: sessions,
		Risk: risk.NewGuardian(risk.Limits{
			MaxDailyTrades: cfg.MaxDailyTrades,
			MaxTradeSize:   cfg.MaxTradeSize,
		}, book),
		Notifier: notifier,
		Holdings: holdings,
	}
	if eth != nil {
		deps.Decimals = eth
	}
	a.trading = trading.NewService(deps, log)

	a.scheduler = scheduler.NewRefreshScheduler(book, scanner, rates, scheduler.RefreshConfig{
		Interval: cfg.PnLRefreshInterval,
	}, log)
	return a, nil
}
