// Package notifications posts trade events to a Slack or Discord webhook.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-swapbot/internal/httputil"
	"github.com/kjannette/trahn-swapbot/internal/models"
	"github.com/kjannette/trahn-swapbot/internal/swap"
)

const defaultBotName = "TrahnSwapBot"

type Sender struct {
	webhookURL string
	botName    string
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        logrus.FieldLogger
	pending    sync.WaitGroup
}

func NewSender(webhookURL, botName string, log logrus.FieldLogger) *Sender {
	if botName == "" {
		botName = defaultBotName
	}
	log = log.WithField("component", "notifications")
	return &Sender{
		webhookURL: webhookURL,
		botName:    botName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
			Log:         log,
		},
		log: log,
	}
}

// Send logs msg and, when a webhook is configured, posts it. Delivery
// failures are logged and never returned.
func (s *Sender) Send(ctx context.Context, msg string) {
	formatted := fmt.Sprintf("[%s] %s", s.botName, msg)
	s.log.Info(formatted)

	if s.webhookURL == "" {
		return
	}

	body, err := json.Marshal(s.formatPayload(formatted))
	if err != nil {
		s.log.WithError(err).Error("marshal notification")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		s.log.WithError(err).Warn("notification not delivered")
		return
	}
	resp.Body.Close()
}

// Go sends msg in the background; the caller is never held up by a slow
// webhook. Wait blocks until every background send has finished.
func (s *Sender) Go(ctx context.Context, msg string) {
	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.Send(ctx, msg)
	}()
}

func (s *Sender) Wait() {
	s.pending.Wait()
}

// TradeBooked announces a confirmed swap that reached the ledger.
func (s *Sender) TradeBooked(ctx context.Context, userID string, t models.Trade, res *swap.Result) {
	side := "BUY"
	if t.IsSell() {
		side = "SELL"
	}
	s.Go(ctx, fmt.Sprintf("%s %s %.4f %s for %.6f native | %s",
		userID, side, math.Abs(t.TokenAmount), t.TokenSymbol, math.Abs(t.BaseSpent), res.TxURL))
}

// SwapUnresolved flags a swap whose outcome is unknown so someone can
// check the explorer before the user retries.
func (s *Sender) SwapUnresolved(ctx context.Context, userID string, res *swap.Result) {
	s.Go(ctx, fmt.Sprintf("%s %s %s outcome unknown (%s): check %s",
		userID, res.Direction, res.TokenAddress, res.Kind, res.TxURL))
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.botName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.botName,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}
