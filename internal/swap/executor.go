// Package swap runs the buy/sell pipeline: validate, quote, fee, balance
// check, assemble, sign, submit and confirm. It never touches the trade
// ledger; booking a confirmed swap is the caller's job.
package swap

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-swapbot/internal/fees"
	"github.com/kjannette/trahn-swapbot/internal/metrics"
)

const (
	DefaultSlippageBps    = 1500
	DefaultQuoteTimeout   = 15 * time.Second
	DefaultConfirmTimeout = 90 * time.Second
	DefaultExplorerTxURL  = "https://etherscan.io/tx/"
)

type Config struct {
	FeeRecipient   common.Address
	FeeRate        float64
	FeeFloor       *big.Int
	NetworkFee     *big.Int
	SlippageBps    int
	QuoteTimeout   time.Duration
	ConfirmTimeout time.Duration
	ExplorerTxURL  string
}

type Executor struct {
	cfg    Config
	quotes QuoteProvider
	chain  LedgerClient
	log    logrus.FieldLogger
}

func NewExecutor(cfg Config, quotes QuoteProvider, chain LedgerClient, log logrus.FieldLogger) *Executor {
	if cfg.FeeFloor == nil {
		cfg.FeeFloor = fees.DefaultFloor
	}
	if cfg.NetworkFee == nil {
		cfg.NetworkFee = new(big.Int)
	}
	if cfg.SlippageBps <= 0 {
		cfg.SlippageBps = DefaultSlippageBps
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = DefaultQuoteTimeout
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.ExplorerTxURL == "" {
		cfg.ExplorerTxURL = DefaultExplorerTxURL
	}
	return &Executor{cfg: cfg, quotes: quotes, chain: chain, log: log.WithField("component", "swap")}
}

// ExplorerURL links a transaction signature on the block explorer.
func (e *Executor) ExplorerURL(signature string) string {
	return e.cfg.ExplorerTxURL + signature
}

// Execute runs one swap. Every failure comes back as a Result; an Unknown
// status means the swap may still land and must not be booked or retried.
func (e *Executor) Execute(ctx context.Context, req Request) *Result {
	start := time.Now()
	res := &Result{Direction: req.Direction, TokenAddress: req.TokenAddress}

	err := e.execute(ctx, req, res)
	if err != nil {
		res.Kind = KindOf(err)
		res.Error = err.Error()
		res.ErrorDetails = err
		res.Status = StatusFailed
		if res.Kind == KindConfirmationTimeout || res.Kind == KindUnknown {
			res.Status = StatusUnknown
		}
	} else {
		res.Success = true
		res.Status = StatusConfirmed
	}

	metrics.SwapOutcomes.WithLabelValues(string(req.Direction), outcomeLabel(res.Kind)).Inc()
	metrics.SwapDuration.WithLabelValues(string(req.Direction)).Observe(time.Since(start).Seconds())

	entry := e.log.WithFields(logrus.Fields{
		"direction": req.Direction,
		"token":     req.TokenAddress,
		"status":    res.Status,
		"signature": res.Signature,
	})
	switch {
	case res.Success:
		entry.Info("swap confirmed")
	case res.Status == StatusUnknown:
		entry.WithError(err).Warn("swap outcome unknown")
	default:
		entry.WithError(err).WithField("kind", res.Kind).Warn("swap failed")
	}
	return res
}

func (e *Executor) execute(ctx context.Context, req Request, res *Result) error {
	key, owner, err := validate(req)
	if err != nil {
		return err
	}

	quote, err := e.quote(ctx, req)
	if err != nil {
		return err
	}
	res.Quote = quote

	notional := req.Amount
	if req.Direction == Sell {
		notional = quote.OutAmount
	}
	if notional == nil || notional.Sign() <= 0 {
		return fmt.Errorf("%w: quote returned no output", ErrNoRoute)
	}
	breakdown, err := fees.Compute(notional, e.cfg.FeeRate, e.cfg.FeeFloor, e.cfg.NetworkFee)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	res.Fees = &breakdown

	balance, err := e.chain.Balance(ctx, owner)
	if err != nil {
		return fmt.Errorf("%w: balance lookup: %v", ErrSubmissionFailed, err)
	}
	required := new(big.Int).Set(breakdown.Total)
	if req.Direction == Buy {
		required.Add(required, req.Amount)
	}
	if balance.Cmp(required) < 0 {
		return fmt.Errorf("%w: have %s wei, need %s wei", ErrInsufficientFunds, balance, required)
	}

	set, err := e.quotes.Instructions(ctx, quote, owner)
	if err != nil {
		if errors.Is(err, ErrNoRoute) {
			return err
		}
		return fmt.Errorf("%w: instructions: %v", ErrQuoteUnavailable, err)
	}

	anchor, err := e.chain.LatestAnchor(ctx, owner)
	if err != nil {
		return fmt.Errorf("%w: anchor: %v", ErrSubmissionFailed, err)
	}

	tx := &Transaction{
		From:         owner,
		Anchor:       *anchor,
		Instructions: Assemble(e.feeTransfer(breakdown.Platform), set),
	}
	signed, err := e.chain.Sign(tx, key)
	if err != nil {
		return fmt.Errorf("%w: sign: %v", ErrSubmissionFailed, err)
	}
	res.Signature = signed.Signature
	res.TxURL = e.ExplorerURL(signed.Signature)

	if err := e.chain.Submit(ctx, signed); err != nil {
		if errors.Is(err, ErrOutcomeUnknown) || errors.Is(err, ErrInsufficientFunds) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()
	if _, err := e.chain.Confirm(confirmCtx, signed); err != nil {
		switch {
		case errors.Is(err, ErrReverted):
			return err
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrConfirmationTimeout):
			return fmt.Errorf("%w after %s: %v", ErrConfirmationTimeout, e.cfg.ConfirmTimeout, err)
		default:
			return fmt.Errorf("%w: confirm: %v", ErrOutcomeUnknown, err)
		}
	}
	return nil
}

func (e *Executor) quote(ctx context.Context, req Request) (*Quote, error) {
	qr := QuoteRequest{
		InputAsset:  NativeAsset,
		OutputAsset: req.TokenAddress,
		Amount:      req.Amount,
		SlippageBps: e.cfg.SlippageBps,
	}
	if req.Direction == Sell {
		qr.InputAsset, qr.OutputAsset = req.TokenAddress, NativeAsset
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.QuoteTimeout)
	defer cancel()

	quote, err := e.quotes.Quote(qctx, qr)
	if err != nil {
		if errors.Is(err, ErrNoRoute) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	return quote, nil
}

// Preview prices a swap without touching the chain.
func (e *Executor) Preview(ctx context.Context, token string, dir Direction, amount *big.Int) (*Quote, *fees.Breakdown, error) {
	if err := validateShape(token, dir, amount); err != nil {
		return nil, nil, err
	}
	quote, err := e.quote(ctx, Request{TokenAddress: token, Direction: dir, Amount: amount})
	if err != nil {
		return nil, nil, err
	}
	notional := amount
	if dir == Sell {
		notional = quote.OutAmount
	}
	if notional == nil || notional.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: quote returned no output", ErrNoRoute)
	}
	b, err := fees.Compute(notional, e.cfg.FeeRate, e.cfg.FeeFloor, e.cfg.NetworkFee)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return quote, &b, nil
}

func (e *Executor) feeTransfer(amount *big.Int) Instruction {
	return Instruction{
		Kind:  KindFeeTransfer,
		To:    e.cfg.FeeRecipient,
		Value: new(big.Int).Set(amount),
	}
}

// Assemble orders a swap's instructions: fee transfer, compute budget,
// setup, swap, then the optional cleanup.
func Assemble(fee Instruction, set *InstructionSet) []Instruction {
	out := make([]Instruction, 0, 3+len(set.ComputeBudget)+len(set.Setup))
	out = append(out, fee)
	for _, in := range set.ComputeBudget {
		in.Kind = KindComputeBudget
		out = append(out, in)
	}
	for _, in := range set.Setup {
		in.Kind = KindSetup
		out = append(out, in)
	}
	sw := set.Swap
	sw.Kind = KindSwap
	out = append(out, sw)
	if set.Cleanup != nil {
		c := *set.Cleanup
		c.Kind = KindCleanup
		out = append(out, c)
	}
	return out
}

func validate(req Request) (*ecdsa.PrivateKey, common.Address, error) {
	if err := validateShape(req.TokenAddress, req.Direction, req.Amount); err != nil {
		return nil, common.Address{}, err
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(req.Credential, "0x"))
	if err != nil {
		// Never wrap the decode error: it can echo key material.
		return nil, common.Address{}, fmt.Errorf("%w: credential is not a valid signing key", ErrInvalidInput)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

func validateShape(token string, dir Direction, amount *big.Int) error {
	if token == "" || !common.IsHexAddress(token) {
		return fmt.Errorf("%w: token address %q", ErrInvalidInput, token)
	}
	if strings.EqualFold(token, NativeAsset) {
		return fmt.Errorf("%w: token cannot be the native asset", ErrInvalidInput)
	}
	if !dir.Valid() {
		return fmt.Errorf("%w: direction %q", ErrInvalidInput, dir)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	return nil
}

func outcomeLabel(kind string) string {
	if kind == KindNone {
		return "Confirmed"
	}
	return kind
}
