// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swapbot"

var (
	SwapOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swap_outcomes_total",
		Help:      "Swap attempts by direction and outcome kind.",
	}, []string{"direction", "kind"})

	SwapDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "swap_duration_seconds",
		Help:      "Wall time from validation to confirmation.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
	}, []string{"direction"})

	TradesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trades_recorded_total",
		Help:      "Trades appended to user ledgers.",
	})

	LedgerConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_version_conflicts_total",
		Help:      "Optimistic version conflicts retried by the ledger.",
	})

	PriceLookupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "price_lookup_failures_total",
		Help:      "Token price lookups that failed during a PnL refresh.",
	})

	RateLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "base_rate_lookups_total",
		Help:      "Base currency USD rate lookups by result (fresh, cached, stale, error).",
	}, []string{"result"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
