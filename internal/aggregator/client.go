// Package aggregator is the HTTP client for the liquidity aggregator that
// prices swaps and returns the calls that execute them.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/kjannette/trahn-swapbot/internal/httputil"
	"github.com/kjannette/trahn-swapbot/internal/swap"
)

const DefaultRPS = 5

// Error codes the aggregator uses when it has no route for a pair.
var noRouteCodes = map[string]bool{
	"COULD_NOT_FIND_ANY_ROUTE": true,
	"NO_ROUTES_FOUND":          true,
	"TOKEN_NOT_TRADABLE":       true,
	"INSUFFICIENT_LIQUIDITY":   true,
}

type Options struct {
	BaseURL string
	APIKey  string
	// RPS caps outbound requests per second across all users.
	RPS float64
	// ComputeUnits and PriorityFee are forwarded when asking for
	// instructions; zero leaves them to the aggregator.
	ComputeUnits uint64
	PriorityFee  *big.Int
	Timeout      time.Duration
	Retry        httputil.RetryConfig
}

type Client struct {
	opts       Options
	httpClient *http.Client
	limiter    *rate.Limiter
	log        logrus.FieldLogger
}

func NewClient(opts Options, log logrus.FieldLogger) *Client {
	if opts.RPS <= 0 {
		opts.RPS = DefaultRPS
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = httputil.DefaultRetry
	}
	log = log.WithField("component", "aggregator")
	opts.Retry.Log = log
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RPS), int(opts.RPS)+1),
		log:        log,
	}
}

type quoteResponse struct {
	InputMint            string `json:"inputMint"`
	OutputMint           string `json:"outputMint"`
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	PriceImpactPct       string `json:"priceImpactPct"`
	SlippageBps          int    `json:"slippageBps"`
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// Quote asks for the best route for req. A missing route wraps
// swap.ErrNoRoute; everything else is a plain error the executor treats as
// the quote being unavailable.
func (c *Client) Quote(ctx context.Context, req swap.QuoteRequest) (*swap.Quote, error) {
	q := url.Values{}
	q.Set("inputMint", req.InputAsset)
	q.Set("outputMint", req.OutputAsset)
	q.Set("amount", req.Amount.String())
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	endpoint := c.opts.BaseURL + "/quote?" + q.Encode()

	body, err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch quote: %w", err)
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	inAmount, ok1 := new(big.Int).SetString(resp.InAmount, 10)
	outAmount, ok2 := new(big.Int).SetString(resp.OutAmount, 10)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("decode quote: bad amounts in=%q out=%q", resp.InAmount, resp.OutAmount)
	}
	if outAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: zero output for %s", swap.ErrNoRoute, req.OutputAsset)
	}
	minOut, ok := new(big.Int).SetString(resp.OtherAmountThreshold, 10)
	if !ok {
		minOut = new(big.Int).Set(outAmount)
	}
	impact, _ := strconv.ParseFloat(resp.PriceImpactPct, 64)

	return &swap.Quote{
		InputAsset:     resp.InputMint,
		OutputAsset:    resp.OutputMint,
		InAmount:       inAmount,
		OutAmount:      outAmount,
		MinOutAmount:   minOut,
		PriceImpactPct: impact,
		SlippageBps:    resp.SlippageBps,
		Raw:            json.RawMessage(body),
	}, nil
}

type instructionsRequest struct {
	QuoteResponse json.RawMessage `json:"quoteResponse"`
	UserPublicKey string          `json:"userPublicKey"`
	ComputeUnits  uint64          `json:"computeUnitLimit,omitempty"`
	PriorityFee   *hexutil.Big    `json:"prioritizationFee,omitempty"`
}

type wireCall struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value *hexutil.Big   `json:"value"`
}

type wireBudget struct {
	Gas    hexutil.Uint64 `json:"gas"`
	TipCap *hexutil.Big   `json:"maxPriorityFeePerGas"`
}

type instructionsResponse struct {
	ComputeBudget []wireBudget `json:"computeBudgetInstructions"`
	Setup         []wireCall   `json:"setupInstructions"`
	Swap          *wireCall    `json:"swapInstruction"`
	Cleanup       *wireCall    `json:"cleanupInstruction"`
	errorResponse
}

// Instructions fetches the calls that execute quote for owner.
func (c *Client) Instructions(ctx context.Context, quote *swap.Quote, owner common.Address) (*swap.InstructionSet, error) {
	if len(quote.Raw) == 0 {
		return nil, fmt.Errorf("instructions: quote has no raw route")
	}
	payload := instructionsRequest{
		QuoteResponse: quote.Raw,
		UserPublicKey: owner.Hex(),
		ComputeUnits:  c.opts.ComputeUnits,
	}
	if c.opts.PriorityFee != nil {
		payload.PriorityFee = (*hexutil.Big)(c.opts.PriorityFee)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode instructions request: %w", err)
	}

	body, err := c.do(ctx, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/swap-instructions", bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch instructions: %w", err)
	}

	var resp instructionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode instructions: %w", err)
	}
	if resp.Error != "" {
		return nil, classify(http.StatusOK, resp.errorResponse)
	}
	if resp.Swap == nil {
		return nil, fmt.Errorf("instructions: response has no swap call")
	}

	set := &swap.InstructionSet{Swap: resp.Swap.instruction()}
	for _, b := range resp.ComputeBudget {
		set.ComputeBudget = append(set.ComputeBudget, swap.Instruction{
			Gas:    uint64(b.Gas),
			TipCap: (*big.Int)(b.TipCap),
		})
	}
	for _, s := range resp.Setup {
		set.Setup = append(set.Setup, s.instruction())
	}
	if resp.Cleanup != nil {
		in := resp.Cleanup.instruction()
		set.Cleanup = &in
	}
	return set, nil
}

func (w wireCall) instruction() swap.Instruction {
	in := swap.Instruction{To: w.To, Data: []byte(w.Data), Value: new(big.Int)}
	if w.Value != nil {
		in.Value = (*big.Int)(w.Value)
	}
	return in
}

// do waits for the limiter, sends with retries and returns the body of a
// 2xx response.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	resp, err := httputil.Do(ctx, c.httpClient, c.opts.Retry, func() (*http.Request, error) {
		r, err := build()
		if err != nil {
			return nil, err
		}
		if c.opts.APIKey != "" {
			r.Header.Set("x-api-key", c.opts.APIKey)
		}
		r.Header.Set("Accept", "application/json")
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var e errorResponse
		_ = json.Unmarshal(body, &e)
		if e.Error == "" {
			e.Error = strings.TrimSpace(string(body))
		}
		return nil, classify(resp.StatusCode, e)
	}
	return body, nil
}

func classify(status int, e errorResponse) error {
	if noRouteCodes[e.ErrorCode] {
		return fmt.Errorf("%w: %s", swap.ErrNoRoute, e.Error)
	}
	return fmt.Errorf("aggregator status %d: %s %s", status, e.ErrorCode, e.Error)
}
