// Package paper simulates the chain for paper trading: balances live in
// memory, transactions are signed but never broadcast, and every submitted
// swap confirms immediately.
package paper

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-swapbot/internal/ethereum"
	"github.com/kjannette/trahn-swapbot/internal/swap"
)

// Pool is the address simulated swap calls are sent to.
var Pool = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

const (
	opBuy  byte = 1
	opSell byte = 2
)

type account struct {
	native *big.Int
	tokens map[common.Address]*big.Int
	nonce  uint64
}

type Ledger struct {
	mu       sync.Mutex
	initial  *big.Int
	gasPrice *big.Int
	chainID  *big.Int
	accounts map[common.Address]*account
	settled  map[string]bool
	log      logrus.FieldLogger
}

// NewLedger gives every new address initial wei. Gas is charged at
// gasPrice per unit.
func NewLedger(initial, gasPrice *big.Int, log logrus.FieldLogger) *Ledger {
	if gasPrice == nil {
		gasPrice = big.NewInt(1_000_000_000)
	}
	return &Ledger{
		initial:  new(big.Int).Set(initial),
		gasPrice: gasPrice,
		chainID:  big.NewInt(1337),
		accounts: make(map[common.Address]*account),
		settled:  make(map[string]bool),
		log:      log.WithField("component", "paper"),
	}
}

func (l *Ledger) account(addr common.Address) *account {
	a, ok := l.accounts[addr]
	if !ok {
		a = &account{native: new(big.Int).Set(l.initial), tokens: make(map[common.Address]*big.Int)}
		l.accounts[addr] = a
	}
	return a
}

func (l *Ledger) Balance(_ context.Context, owner common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.account(owner).native), nil
}

// TokenBalance reports simulated token holdings in base units.
func (l *Ledger) TokenBalance(_ context.Context, token, owner common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal, ok := l.account(owner).tokens[token]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (l *Ledger) LatestAnchor(_ context.Context, owner common.Address) (*swap.Anchor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &swap.Anchor{Nonce: l.account(owner).nonce, BaseFee: new(big.Int).Set(l.gasPrice)}, nil
}

// Sign signs offline exactly like the live client so paper runs exercise
// the same instruction handling.
func (l *Ledger) Sign(tx *swap.Transaction, key *ecdsa.PrivateKey) (*swap.SignedTransaction, error) {
	return ethereum.BuildTransactions(tx, key, l.chainID, ethereum.GasDefaults{Gas: 200_000, TipCap: new(big.Int)})
}

// Submit settles the calls against the simulated balances: value and gas
// leave the payer, and calls to Pool move tokens and proceeds.
func (l *Ledger) Submit(_ context.Context, signed *swap.SignedTransaction) error {
	if len(signed.Txs) == 0 {
		return fmt.Errorf("paper submit: no calls")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.settled[signed.Signature] {
		return nil
	}

	from, err := sender(signed)
	if err != nil {
		return err
	}
	a := l.account(from)

	// Decode everything before touching balances so a bad call leaves the
	// account as it was.
	type poolCall struct {
		op      byte
		token   common.Address
		in, out *big.Int
	}
	var (
		spent big.Int
		calls []poolCall
	)
	for _, tx := range signed.Txs {
		spent.Add(&spent, tx.Value())
		spent.Add(&spent, new(big.Int).Mul(l.gasPrice, new(big.Int).SetUint64(tx.Gas())))
		if tx.To() == nil || *tx.To() != Pool {
			continue
		}
		op, token, amountIn, amountOut, err := decodePoolCall(tx.Data())
		if err != nil {
			return err
		}
		calls = append(calls, poolCall{op: op, token: token, in: amountIn, out: amountOut})
	}
	if a.native.Cmp(&spent) < 0 {
		return fmt.Errorf("paper submit: balance %s below cost %s", a.native, &spent)
	}
	a.native.Sub(a.native, &spent)

	for _, c := range calls {
		bal := a.tokens[c.token]
		if bal == nil {
			bal = new(big.Int)
			a.tokens[c.token] = bal
		}
		switch c.op {
		case opBuy:
			bal.Add(bal, c.out)
		case opSell:
			bal.Sub(bal, c.in)
			if bal.Sign() < 0 {
				bal.SetInt64(0)
			}
			a.native.Add(a.native, c.out)
		}
	}
	a.nonce += uint64(len(signed.Txs))
	l.settled[signed.Signature] = true

	l.log.WithFields(logrus.Fields{
		"owner":     from.Hex(),
		"signature": signed.Signature,
		"spent":     spent.String(),
	}).Info("paper swap settled")
	return nil
}

func (l *Ledger) Confirm(_ context.Context, signed *swap.SignedTransaction) (*swap.Confirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.settled[signed.Signature] {
		return nil, fmt.Errorf("%w: paper swap %s was never submitted", swap.ErrReverted, signed.Signature)
	}
	var gas uint64
	for _, tx := range signed.Txs {
		gas += tx.Gas()
	}
	return &swap.Confirmation{GasUsed: gas}, nil
}
