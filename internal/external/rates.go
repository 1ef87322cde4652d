package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/kjannette/trahn-swapbot/internal/httputil"
	"github.com/kjannette/trahn-swapbot/internal/metrics"
)

const (
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	DefaultCoinID       = "ethereum"
	DefaultRateTTL      = 60 * time.Second
)

// ErrRateUnavailable means no USD rate could be fetched and none was cached.
var ErrRateUnavailable = errors.New("base currency rate unavailable")

type RateOptions struct {
	BaseURL string
	APIKey  string
	CoinID  string
	TTL     time.Duration
	Retry   httputil.RetryConfig
}

// RateSource serves the native currency's USD rate from CoinGecko with a
// short in-process cache. When a refetch fails the last rate is reused.
// Concurrent misses share one fetch.
type RateSource struct {
	opts       RateOptions
	httpClient *http.Client
	log        logrus.FieldLogger
	now        func() time.Time
	fetches    singleflight.Group

	mu        sync.Mutex
	rate      float64
	fetchedAt time.Time
}

func NewRateSource(opts RateOptions, log logrus.FieldLogger) *RateSource {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultCoinGeckoURL
	}
	if opts.CoinID == "" {
		opts.CoinID = DefaultCoinID
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultRateTTL
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = httputil.RetryConfig{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}
	}
	log = log.WithField("component", "rates")
	opts.Retry.Log = log
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &RateSource{
		opts:       opts,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
		now:        time.Now,
	}
}

// Rate returns USD per whole native unit.
func (r *RateSource) Rate(ctx context.Context) (float64, error) {
	if rate, ok := r.cached(); ok {
		metrics.RateLookups.WithLabelValues("cached").Inc()
		return rate, nil
	}

	v, err, _ := r.fetches.Do("rate", func() (any, error) {
		rate, err := r.fetch(ctx)
		if err != nil {
			return 0.0, err
		}
		r.mu.Lock()
		r.rate, r.fetchedAt = rate, r.now()
		r.mu.Unlock()
		return rate, nil
	})
	if err == nil {
		metrics.RateLookups.WithLabelValues("fresh").Inc()
		return v.(float64), nil
	}

	r.mu.Lock()
	stale, fetchedAt := r.rate, r.fetchedAt
	r.mu.Unlock()
	if stale > 0 {
		metrics.RateLookups.WithLabelValues("stale").Inc()
		r.log.WithError(err).WithField("age", r.now().Sub(fetchedAt)).Warn("using stale base rate")
		return stale, nil
	}
	metrics.RateLookups.WithLabelValues("error").Inc()
	return 0, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
}

func (r *RateSource) cached() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rate > 0 && r.now().Sub(r.fetchedAt) < r.opts.TTL {
		return r.rate, true
	}
	return 0, false
}

func (r *RateSource) fetch(ctx context.Context) (float64, error) {
	q := url.Values{}
	q.Set("ids", r.opts.CoinID)
	q.Set("vs_currencies", "usd")
	endpoint := r.opts.BaseURL + "/simple/price?" + q.Encode()

	resp, err := httputil.Do(ctx, r.httpClient, r.opts.Retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		if r.opts.APIKey != "" {
			req.Header.Set("x-cg-demo-api-key", r.opts.APIKey)
		}
		return req, nil
	})
	if err != nil {
		return 0, fmt.Errorf("coingecko fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("coingecko returned status %d", resp.StatusCode)
	}

	var data map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return 0, fmt.Errorf("decode: %w", err)
	}
	price := data[r.opts.CoinID].USD
	if price <= 0 {
		return 0, fmt.Errorf("invalid price: %f", price)
	}
	return price, nil
}
