// Package ethereum is the on-chain ledger client: balances, nonces,
// signing, broadcast and receipt polling over JSON-RPC.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-swapbot/internal/swap"
)

// Backend is the slice of ethclient.Client the ledger client needs.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Options struct {
	ChainID       int64
	GasLimit      uint64
	TipCap        *big.Int
	GasMultiplier float64
	// MaxSubmitAttempts bounds resends of each call.
	MaxSubmitAttempts int
	RetryDelay        time.Duration
	PollInterval      time.Duration
}

type Client struct {
	rpc     Backend
	closer  func()
	opts    Options
	chainID *big.Int
	erc20   abi.ABI
	log     logrus.FieldLogger
}

func Dial(rpcURL string, opts Options, log logrus.FieldLogger) (*Client, error) {
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial RPC: %w", err)
	}
	c, err := NewClient(rpc, opts, log)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	c.closer = rpc.Close
	return c, nil
}

func NewClient(rpc Backend, opts Options, log logrus.FieldLogger) (*Client, error) {
	if opts.GasLimit == 0 {
		opts.GasLimit = 500_000
	}
	if opts.TipCap == nil {
		opts.TipCap = big.NewInt(1_000_000_000)
	}
	if opts.GasMultiplier <= 0 {
		opts.GasMultiplier = 1
	}
	if opts.MaxSubmitAttempts <= 0 {
		opts.MaxSubmitAttempts = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	erc20, err := parseERC20()
	if err != nil {
		return nil, fmt.Errorf("parse ERC20 ABI: %w", err)
	}
	return &Client{
		rpc:     rpc,
		opts:    opts,
		chainID: big.NewInt(opts.ChainID),
		erc20:   erc20,
		log:     log.WithField("component", "ethereum"),
	}, nil
}

func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *Client) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	bal, err := c.rpc.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return bal, nil
}

// LatestAnchor reads the pending nonce and the latest base fee, scaled by
// the configured gas multiplier.
func (c *Client) LatestAnchor(ctx context.Context, owner common.Address) (*swap.Anchor, error) {
	nonce, err := c.rpc.PendingNonceAt(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}
	head, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	return &swap.Anchor{
		Nonce:       nonce,
		BaseFee:     scale(baseFee, c.opts.GasMultiplier),
		BlockNumber: head.Number.Uint64(),
	}, nil
}

func (c *Client) Sign(tx *swap.Transaction, key *ecdsa.PrivateKey) (*swap.SignedTransaction, error) {
	return BuildTransactions(tx, key, c.chainID, GasDefaults{Gas: c.opts.GasLimit, TipCap: c.opts.TipCap})
}

// Submit broadcasts the calls in nonce order, resending each up to
// MaxSubmitAttempts times. Nothing is sent when the payer cannot cover
// Cost. Once any attempt may have reached the network, a failure wraps
// swap.ErrOutcomeUnknown; only a definite rejection of the first call is a
// plain error.
func (c *Client) Submit(ctx context.Context, signed *swap.SignedTransaction) error {
	if len(signed.Txs) == 0 {
		return errors.New("send tx: no calls")
	}
	if err := c.checkCost(ctx, signed); err != nil {
		return err
	}
	for i, tx := range signed.Txs {
		uncertain, err := c.send(ctx, tx)
		if err == nil {
			continue
		}
		if i == 0 && !uncertain {
			return fmt.Errorf("send tx: %w", err)
		}
		return fmt.Errorf("%w: %d of %d calls broadcast, call %d undetermined: %v", swap.ErrOutcomeUnknown, i, len(signed.Txs), i+1, err)
	}
	return nil
}

func (c *Client) checkCost(ctx context.Context, signed *swap.SignedTransaction) error {
	signer := types.LatestSignerForChainID(c.chainID)
	from, err := types.Sender(signer, signed.Txs[0])
	if err != nil {
		return fmt.Errorf("recover sender: %w", err)
	}
	balance, err := c.Balance(ctx, from)
	if err != nil {
		return err
	}
	if need := Cost(signed); balance.Cmp(need) < 0 {
		return fmt.Errorf("%w: have %s wei, calls may cost %s wei", swap.ErrInsufficientFunds, balance, need)
	}
	return nil
}

// send reports whether any attempt may have reached the network. A JSON-RPC
// error is a node rejection; any other failure is a transport error and
// leaves the outcome open for every later attempt.
func (c *Client) send(ctx context.Context, tx *types.Transaction) (uncertain bool, err error) {
	for attempt := 1; attempt <= c.opts.MaxSubmitAttempts; attempt++ {
		err = c.rpc.SendTransaction(ctx, tx)
		if err == nil || alreadyKnown(err) {
			return false, nil
		}
		if !rejected(err) {
			uncertain = true
		}
		if attempt == c.opts.MaxSubmitAttempts {
			break
		}
		c.log.WithFields(logrus.Fields{
			"tx":      tx.Hash().Hex(),
			"attempt": attempt,
		}).WithError(err).Warn("resending transaction")
		select {
		case <-ctx.Done():
			return uncertain, ctx.Err()
		case <-time.After(c.opts.RetryDelay):
		}
	}
	return uncertain, err
}

func rejected(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

func alreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// Confirm polls receipts for every call until all are mined or ctx ends.
// Any receipt with a failed status returns swap.ErrReverted.
func (c *Client) Confirm(ctx context.Context, signed *swap.SignedTransaction) (*swap.Confirmation, error) {
	conf := &swap.Confirmation{}
	for _, tx := range signed.Txs {
		rcpt, err := c.waitReceipt(ctx, tx.Hash())
		if err != nil {
			return nil, err
		}
		if rcpt.Status != types.ReceiptStatusSuccessful {
			return nil, fmt.Errorf("%w: %s in block %d", swap.ErrReverted, tx.Hash().Hex(), rcpt.BlockNumber)
		}
		conf.GasUsed += rcpt.GasUsed
		if rcpt.BlockNumber != nil {
			conf.BlockNumber = rcpt.BlockNumber.Uint64()
		}
	}
	return conf, nil
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		rcpt, err := c.rpc.TransactionReceipt(ctx, hash)
		if err == nil {
			return rcpt, nil
		}
		if !errors.Is(err, geth.NotFound) {
			c.log.WithField("tx", hash.Hex()).WithError(err).Debug("receipt lookup failed")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// TokenDecimals reads an ERC20's decimals().
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := c.erc20.Pack("decimals")
	if err != nil {
		return 0, err
	}
	out, err := c.rpc.CallContract(ctx, geth.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals call: %w", err)
	}
	vals, err := c.erc20.Unpack("decimals", out)
	if err != nil || len(vals) != 1 {
		return 0, fmt.Errorf("decode decimals: %v", err)
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decode decimals: unexpected %T", vals[0])
	}
	return d, nil
}

// TokenBalance reads an ERC20 balance in base units.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := c.erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	out, err := c.rpc.CallContract(ctx, geth.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}

func scale(v *big.Int, mul float64) *big.Int {
	if mul == 1 {
		return new(big.Int).Set(v)
	}
	f := new(big.Float).Mul(new(big.Float).SetInt(v), big.NewFloat(mul))
	out, _ := f.Int(nil)
	return out
}
