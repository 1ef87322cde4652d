// Package scheduler runs the periodic PnL refresh across every user.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-swapbot/internal/models"
	"github.com/kjannette/trahn-swapbot/internal/portfolio"
)

// Ledger is the slice of ledger.Ledger the scheduler drives.
type Ledger interface {
	UserIDs(ctx context.Context) ([]string, error)
	Refresh(ctx context.Context, userID string, lookup portfolio.PriceLookup, usdRate float64) ([]models.Position, portfolio.RefreshResult, error)
}

type RateSource interface {
	Rate(ctx context.Context) (float64, error)
}

type RefreshConfig struct {
	Interval time.Duration
	// PerUserTimeout bounds one user's refresh.
	PerUserTimeout time.Duration
}

// Stats summarizes one pass over all users.
type Stats struct {
	Users   int
	Failed  int
	Updated int
	Stale   int
}

type RefreshScheduler struct {
	ledger Ledger
	lookup portfolio.PriceLookup
	rates  RateSource
	cfg    RefreshConfig
	log    logrus.FieldLogger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewRefreshScheduler(ledger Ledger, lookup portfolio.PriceLookup, rates RateSource, cfg RefreshConfig, log logrus.FieldLogger) *RefreshScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.PerUserTimeout <= 0 {
		cfg.PerUserTimeout = 60 * time.Second
	}
	return &RefreshScheduler{
		ledger: ledger,
		lookup: lookup,
		rates:  rates,
		cfg:    cfg,
		log:    log.WithField("component", "refresh-scheduler"),
	}
}

func (s *RefreshScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.running, s.cancel, s.done = true, cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RefreshNow(ctx); err != nil && ctx.Err() == nil {
					s.log.WithError(err).Warn("scheduled refresh failed")
				}
			}
		}
	}()

	s.log.WithField("interval", s.cfg.Interval).Info("started")
}

// Stop cancels any pass in flight and returns once the loop has exited.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	<-s.done
	s.running = false
	s.log.Info("stopped")
}

func (s *RefreshScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RefreshNow reprices every user's positions once. Without a USD rate
// nothing is refreshed; a failure for one user does not stop the pass.
func (s *RefreshScheduler) RefreshNow(ctx context.Context) (Stats, error) {
	var stats Stats
	rate, err := s.rates.Rate(ctx)
	if err != nil {
		return stats, fmt.Errorf("base rate: %w", err)
	}
	ids, err := s.ledger.UserIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("list users: %w", err)
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Users++
		uctx, cancel := context.WithTimeout(ctx, s.cfg.PerUserTimeout)
		_, res, err := s.ledger.Refresh(uctx, id, s.lookup, rate)
		cancel()
		if err != nil {
			stats.Failed++
			s.log.WithError(err).WithField("user", id).Warn("refresh failed")
			continue
		}
		stats.Updated += res.Updated
		stats.Stale += res.Failed
	}

	s.log.WithFields(logrus.Fields{
		"users":   stats.Users,
		"failed":  stats.Failed,
		"updated": stats.Updated,
		"stale":   stats.Stale,
	}).Info("refresh pass complete")
	return stats, nil
}
