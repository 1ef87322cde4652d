package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-swapbot/internal/external"
	"github.com/kjannette/trahn-swapbot/internal/metrics"
	"github.com/kjannette/trahn-swapbot/internal/models"
	"github.com/kjannette/trahn-swapbot/internal/risk"
	"github.com/kjannette/trahn-swapbot/internal/session"
	"github.com/kjannette/trahn-swapbot/internal/swap"
	"github.com/kjannette/trahn-swapbot/internal/trading"
)

const maxBodyBytes = 1 << 16

type Trader interface {
	Buy(ctx context.Context, userID, token string, amount *big.Int) (*trading.Outcome, error)
	Sell(ctx context.Context, userID, token string, percent float64) (*trading.Outcome, error)
	Positions(ctx context.Context, userID string, refresh bool) (*trading.PositionsView, error)
	Trades(ctx context.Context, userID string) ([]models.Trade, error)
	Realized(ctx context.Context, userID string) ([]models.Realized, error)
	Clear(ctx context.Context, userID string) error
	Session(ctx context.Context, userID string) (session.Preferences, error)
	SetSession(ctx context.Context, userID string, prefs session.Preferences) error
	TokenInfo(ctx context.Context, token string) (*models.TokenSnapshot, error)
	Quote(ctx context.Context, token string, dir swap.Direction, amount string) (*trading.QuotePreview, error)
}

type Accounts interface {
	Get(ctx context.Context, userID string) (*models.User, error)
	GetOrCreate(ctx context.Context, userID string) (*models.User, bool, error)
	RefreshBalance(ctx context.Context, userID string) (*models.User, error)
}

// Pinger reports whether the user store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Port       int
	APIKey     string
	CORSOrigin string
	// Paper is reported on /health.
	Paper bool
}

type Server struct {
	trader     Trader
	accounts   Accounts
	store      Pinger
	paper      bool
	handler    http.Handler
	httpServer *http.Server
	apiKey     string
	log        logrus.FieldLogger
}

func NewServer(opts Options, trader Trader, accounts Accounts, store Pinger, log logrus.FieldLogger) *Server {
	s := &Server{
		trader:   trader,
		accounts: accounts,
		store:    store,
		paper:    opts.Paper,
		apiKey:   opts.APIKey,
		log:      log.WithField("component", "api"),
	}

	mux := http.NewServeMux()

	// User routes
	mux.HandleFunc("POST /v1/users/{id}", s.handleCreateUser)
	mux.HandleFunc("GET /v1/users/{id}", s.handleGetUser)
	mux.HandleFunc("POST /v1/users/{id}/balance", s.handleRefreshBalance)

	// Trading routes
	mux.HandleFunc("POST /v1/users/{id}/buy", s.handleBuy)
	mux.HandleFunc("POST /v1/users/{id}/sell", s.handleSell)

	// Portfolio routes
	mux.HandleFunc("GET /v1/users/{id}/positions", s.handlePositions)
	mux.HandleFunc("DELETE /v1/users/{id}/positions", s.handleClearPositions)
	mux.HandleFunc("GET /v1/users/{id}/trades", s.handleTrades)
	mux.HandleFunc("GET /v1/users/{id}/realized", s.handleRealized)
	mux.HandleFunc("GET /v1/users/{id}/session", s.handleGetSession)
	mux.HandleFunc("PUT /v1/users/{id}/session", s.handlePutSession)

	// Token routes
	mux.HandleFunc("GET /v1/tokens/{address}", s.handleTokenInfo)
	mux.HandleFunc("GET /v1/quote", s.handleQuote)

	// Health and metrics (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	s.handler = s.authMiddleware(corsMiddleware(mux, opts.CORSOrigin))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Minute,
	}

	return s
}

// Handler exposes the routed, authenticated handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Start() error {
	s.log.WithFields(logrus.Fields{
		"addr":   s.httpServer.Addr,
		"health": fmt.Sprintf("http://localhost%s/health", s.httpServer.Addr),
		"auth":   s.apiKey != "",
	}).Info("REST API server started")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- request helpers ---

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, swap.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, risk.ErrBlocked):
		return http.StatusForbidden
	case errors.Is(err, external.ErrRateUnavailable), errors.Is(err, swap.ErrQuoteUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, swap.ErrNoRoute):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// statusForResult maps a swap outcome onto an HTTP status. An unknown
// outcome is accepted: the swap may still land.
func statusForResult(res *swap.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Kind {
	case swap.KindInvalidInput:
		return http.StatusBadRequest
	case swap.KindInsufficientFunds, swap.KindNoRoute, swap.KindReverted:
		return http.StatusUnprocessableEntity
	case swap.KindQuoteUnavailable:
		return http.StatusServiceUnavailable
	case swap.KindConfirmationTimeout, swap.KindUnknown:
		return http.StatusAccepted
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, what string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"path":   r.URL.Path,
			"method": r.Method,
		}).Error(what)
		if status == http.StatusInternalServerError {
			writeError(w, status, what)
			return
		}
	}
	writeError(w, status, err.Error())
}
