// Package external holds clients for third-party market data: token
// analytics and the native currency's USD rate.
package external

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/kjannette/trahn-swapbot/internal/cache"
	"github.com/kjannette/trahn-swapbot/internal/httputil"
	"github.com/kjannette/trahn-swapbot/internal/models"
)

type ScannerOptions struct {
	BaseURL string
	APIKey  string
	RPS     float64
	Retry   httputil.RetryConfig
}

// TokenScanner looks up token analytics. Results are shared through the
// cache when one is configured.
type TokenScanner struct {
	opts       ScannerOptions
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      cache.SnapshotCache
	log        logrus.FieldLogger
	now        func() time.Time
}

func NewTokenScanner(opts ScannerOptions, c cache.SnapshotCache, log logrus.FieldLogger) *TokenScanner {
	if opts.RPS <= 0 {
		opts.RPS = 5
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = httputil.DefaultRetry
	}
	log = log.WithField("component", "scanner")
	opts.Retry.Log = log
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &TokenScanner{
		opts:       opts,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(opts.RPS), int(opts.RPS)+1),
		cache:      c,
		log:        log,
		now:        time.Now,
	}
}

type scanResponse struct {
	TokenData struct {
		Address     string           `json:"address"`
		TokenName   string           `json:"tokenName"`
		TokenSymbol string           `json:"tokenSymbol"`
		Decimals    int              `json:"decimals"`
		Score       float64          `json:"score"`
		AuditRisk   models.AuditRisk `json:"auditRisk"`
	} `json:"tokenData"`
	TokenInfo struct {
		Price        float64 `json:"price"`
		SupplyAmount float64 `json:"supplyAmount"`
		MktCap       float64 `json:"mktCap"`
	} `json:"tokenInfo"`
}

// TokenSnapshot returns current analytics for address. Cache failures are
// logged and fall through to the API.
func (s *TokenScanner) TokenSnapshot(ctx context.Context, address string) (*models.TokenSnapshot, error) {
	if s.cache != nil {
		snap, err := s.cache.Get(ctx, address)
		if err != nil {
			s.log.WithError(err).WithField("token", address).Warn("snapshot cache read failed")
		} else if snap != nil {
			return snap, nil
		}
	}

	snap, err := s.fetch(ctx, address)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, snap); err != nil {
			s.log.WithError(err).WithField("token", address).Warn("snapshot cache write failed")
		}
	}
	return snap, nil
}

func (s *TokenScanner) fetch(ctx context.Context, address string) (*models.TokenSnapshot, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	endpoint := s.opts.BaseURL + "/token/" + address
	resp, err := httputil.Do(ctx, s.httpClient, s.opts.Retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-API-KEY", s.opts.APIKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("scan token %s: %w", address, models.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scan token: status %d", resp.StatusCode)
	}

	var data scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode token scan: %w", err)
	}
	addr := data.TokenData.Address
	if addr == "" {
		addr = address
	}
	return &models.TokenSnapshot{
		Address:   addr,
		Name:      data.TokenData.TokenName,
		Symbol:    data.TokenData.TokenSymbol,
		Decimals:  data.TokenData.Decimals,
		Score:     data.TokenData.Score,
		AuditRisk: data.TokenData.AuditRisk,
		Price:     data.TokenInfo.Price,
		Supply:    math.Round(data.TokenInfo.SupplyAmount),
		MarketCap: math.Round(data.TokenInfo.MktCap),
		FetchedAt: s.now().UTC(),
	}, nil
}
