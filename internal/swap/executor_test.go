package swap

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"

var (
	oneEther    = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	feeReceiver = common.HexToAddress("0x000000000000000000000000000000000000fee1")
	router      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

type fakeQuotes struct {
	mu           sync.Mutex
	quoteErr     error
	instrErr     error
	outAmount    *big.Int
	cleanup      bool
	quoteCalls   int
	instrCalls   int
	lastQuoteReq QuoteRequest
}

func (f *fakeQuotes) Quote(_ context.Context, req QuoteRequest) (*Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	f.lastQuoteReq = req
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return &Quote{
		InputAsset:  req.InputAsset,
		OutputAsset: req.OutputAsset,
		InAmount:    req.Amount,
		OutAmount:   f.outAmount,
		SlippageBps: req.SlippageBps,
	}, nil
}

func (f *fakeQuotes) Instructions(_ context.Context, _ *Quote, _ common.Address) (*InstructionSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instrCalls++
	if f.instrErr != nil {
		return nil, f.instrErr
	}
	set := &InstructionSet{
		ComputeBudget: []Instruction{{Gas: 400_000, TipCap: big.NewInt(2_000_000_000)}},
		Setup:         []Instruction{{To: router, Data: []byte{0x09, 0x5e, 0xa7, 0xb3}}},
		Swap:          Instruction{To: router, Data: []byte{0x12, 0xaa, 0x3c, 0xaf}, Value: big.NewInt(1)},
	}
	if f.cleanup {
		set.Cleanup = &Instruction{To: router, Data: []byte{0x2e, 0x1a, 0x7d, 0x4d}}
	}
	return set, nil
}

type fakeChain struct {
	mu         sync.Mutex
	balance    *big.Int
	balanceErr error
	submitErr  error
	confirmErr error
	blockUntil bool

	balanceCalls int
	signed       *Transaction
	submitCalls  int
	confirmCalls int
}

func (f *fakeChain) Balance(context.Context, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	return f.balance, f.balanceErr
}

func (f *fakeChain) LatestAnchor(context.Context, common.Address) (*Anchor, error) {
	return &Anchor{Nonce: 7, BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeChain) Sign(tx *Transaction, _ *ecdsa.PrivateKey) (*SignedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signed = tx
	return &SignedTransaction{Signature: "0xabc123"}, nil
}

func (f *fakeChain) Submit(context.Context, *SignedTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	return f.submitErr
}

func (f *fakeChain) Confirm(ctx context.Context, _ *SignedTransaction) (*Confirmation, error) {
	f.mu.Lock()
	f.confirmCalls++
	block, err := f.blockUntil, f.confirmErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &Confirmation{BlockNumber: 100}, nil
}

func credential(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return hex.EncodeToString(crypto.FromECDSA(key))
}

func newTestExecutor(q *fakeQuotes, c *fakeChain) *Executor {
	logger, _ := test.NewNullLogger()
	return NewExecutor(Config{
		FeeRecipient:   feeReceiver,
		FeeRate:        0.005,
		FeeFloor:       big.NewInt(5_000_000_000_000_000),
		NetworkFee:     big.NewInt(500_000_000_000_000),
		ConfirmTimeout: time.Second,
		ExplorerTxURL:  "https://explorer.test/tx/",
	}, q, c, logger)
}

func richChain() *fakeChain {
	return &fakeChain{balance: new(big.Int).Mul(oneEther, big.NewInt(10))}
}

func TestExecute_InvalidInputMakesNoCalls(t *testing.T) {
	cred := credential(t)
	cases := []struct {
		name string
		req  Request
	}{
		{"zero amount", Request{TokenAddress: token, Direction: Buy, Amount: big.NewInt(0), Credential: cred}},
		{"negative amount", Request{TokenAddress: token, Direction: Sell, Amount: big.NewInt(-1), Credential: cred}},
		{"nil amount", Request{TokenAddress: token, Direction: Buy, Credential: cred}},
		{"empty token", Request{Direction: Buy, Amount: oneEther, Credential: cred}},
		{"bad token", Request{TokenAddress: "not-an-address", Direction: Buy, Amount: oneEther, Credential: cred}},
		{"native token", Request{TokenAddress: NativeAsset, Direction: Buy, Amount: oneEther, Credential: cred}},
		{"bad direction", Request{TokenAddress: token, Direction: "HOLD", Amount: oneEther, Credential: cred}},
		{"bad credential", Request{TokenAddress: token, Direction: Buy, Amount: oneEther, Credential: "zz"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, c := &fakeQuotes{outAmount: big.NewInt(1000)}, richChain()
			res := newTestExecutor(q, c).Execute(context.Background(), tc.req)

			assert.False(t, res.Success)
			assert.Equal(t, KindInvalidInput, res.Kind)
			assert.Equal(t, StatusFailed, res.Status)
			assert.ErrorIs(t, res.ErrorDetails, ErrInvalidInput)
			assert.Zero(t, q.quoteCalls)
			assert.Zero(t, c.balanceCalls)
			assert.Zero(t, c.submitCalls)
		})
	}
}

func TestExecute_CredentialNeverInError(t *testing.T) {
	q, c := &fakeQuotes{}, richChain()
	secret := "0xnot-a-real-key-but-secret"
	res := newTestExecutor(q, c).Execute(context.Background(), Request{
		TokenAddress: token, Direction: Buy, Amount: oneEther, Credential: secret,
	})
	assert.NotContains(t, res.Error, "secret")
}

func TestExecute_NoRoute(t *testing.T) {
	q := &fakeQuotes{quoteErr: fmt.Errorf("aggregator: %w", ErrNoRoute)}
	c := richChain()
	res := newTestExecutor(q, c).Execute(context.Background(), Request{
		TokenAddress: token, Direction: Buy, Amount: oneEther, Credential: credential(t),
	})
	assert.Equal(t, KindNoRoute, res.Kind)
	assert.Zero(t, c.balanceCalls)
}

func TestExecute_QuoteUnavailable(t *testing.T) {
	q := &fakeQuotes{quoteErr: errors.New("503 service unavailable")}
	res := newTestExecutor(q, richChain()).Execute(context.Background(), Request{
		TokenAddress: token, Direction: Buy, Amount: oneEther, Credential: credential(t),
	})
	assert.Equal(t, KindQuoteUnavailable, res.Kind)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestExecute_InsufficientFundsSubmitsNothing(t *testing.T) {
	q := &fakeQuotes{outAmount: big.NewInt(1_000_000)}
	c := &fakeChain{balance: new(big.Int).Set(oneEther)}
	res := newTestExecutor(q, c).Execute(context.Background(), Request{
		TokenAddress: token, Direction: Buy, Amount: oneEther, Credential: credential(t),
	})
	assert.Equal(t, KindInsufficientFunds, res.Kind)
	assert.Nil(t, c.signed)
	assert.Zero(t, c.submitCalls)
	assert.Zero(t, q.instrCalls)
}

func TestExecute_BuyAssemblesInOrder(t *testing.T) {
	q := &fakeQuotes{outAmount: big.NewInt(1_000_000), cleanup: true}
	c := richChain()
	res := newTestExecutor(q, c).Execute(context.Background(), Request{
		TokenAddress: token, Direction: Buy, Amount: oneEther, Credential: credential(t),
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, StatusConfirmed, res.Status)
	assert.Equal(t, "0xabc123", res.Signature)
	assert.Equal(t, "https://explorer.test/tx/0xabc123", res.TxURL)
	assert.Equal(t, NativeAsset, q.lastQuoteReq.InputAsset)
	assert.Equal(t, token, q.lastQuoteReq.OutputAsset)
	assert.Equal(t, DefaultSlippageBps, q.lastQuoteReq.SlippageBps)

	require.NotNil(t, c.signed)
	var kinds []InstructionKind
	for _, in := range c.signed.Instructions {
		kinds = append(kinds, in.Kind)
	}
	assert.Equal(t, []InstructionKind{KindFeeTransfer, KindComputeBudget, KindSetup, KindSwap, KindCleanup}, kinds)

	fee := c.signed.Instructions[0]
	assert.Equal(t, feeReceiver, fee.To)
	assert.Equal(t, "5000000000000000", fee.Value.String())
	assert.Equal(t, uint64(7), c.signed.Anchor.Nonce)

	require.NotNil(t, res.Fees)
	assert.Equal(t, "5500000000000000", res.Fees.Total.String())
}

func TestExecute_SellChargesFeeOnProceeds(t *testing.T) {
	// 4 native units of proceeds at 0.5% is 0.02.
	proceeds := new(big.Int).Mul(oneEther, big.NewInt(4))
	q := &fakeQuotes{outAmount: proceeds}
	c := &fakeChain{balance: big.NewInt(30_000_000_000_000_000)}
	res := newTestExecutor(q, c).Execute(context.Background(), Request{
		TokenAddress: token, Direction: Sell, Amount: big.NewInt(5_000_000), Credential: credential(t),
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, token, q.lastQuoteReq.InputAsset)
	assert.Equal(t, NativeAsset, q.lastQuoteReq.OutputAsset)
	assert.Equal(t, "20000000000000000", res.Fees.Platform.String())
	assert.Equal(t, "20000000000000000", c.signed.Instructions[0].Value.String())
}

func TestExecute_SubmitRejected(t *testing.T) {
	c := richChain()
	c.submitErr = errors.New("nonce too low")
	res := newTestExecutor(&fakeQuotes{outAmount: big.NewInt(1)}, c).Execute(context.Background(), Request{
		TokenAddress: token, Direction: Buy, Amount: oneEther, Credential: credential(t),
	})
	assert.Equal(t, KindSubmissionFailed, res.Kind)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Zero(t, c.confirmCalls)
}

func TestExecute_PartialSubmitIsUnknown(t *testing.T) {
	c := richChain()
	c.submitErr = fmt.Errorf("%w: 1 of 4 calls broadcast", ErrOutcomeUnknown)
	res := newTestExecutor(&fakeQuotes{outAmount: big.NewInt(1)}, c).Execute(context.Background(), Request{
		TokenAddress: token, Direction: Buy, Amount: oneEther, Credential: credential(t),
	})
	assert.Equal(t, KindUnknown, res.Kind)
	assert.Equal(t, StatusUnknown, res.Status)
	assert.False(t, res.Success)
}

func TestExecute_SubmitShortOfGasIsInsufficientFunds(t *testing.T) {
	c := richChain()
	c.submitErr = fmt.Errorf("%w: calls may cost more than the balance", ErrInsufficientFunds)
	res := newTestExecutor(&fakeQuotes{outAmount: big.NewInt(1)}, c).Execute(context.Background(), Request{
		TokenAddress: token, Direction: Buy, Amount: oneEther, Credential: credential(t),
	})
	assert.Equal(t, KindInsufficientFunds, res.Kind)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Zero(t, c.confirmCalls)
}

func TestExecute_ConfirmationTimeoutIsUnknown(t *testing.T) {
	c := richChain()
	c.blockUntil = true
	e := newTestExecutor(&fakeQuotes{outAmount: big.NewInt(1)}, c)
	e.cfg.ConfirmTimeout = 20 * time.Millisecond

	res := e.Execute(context.Background(), Request{
		TokenAddress: token, Direction: Buy, Amount: oneEther, Credential: credential(t),
	})
	assert.Equal(t, KindConfirmationTimeout, res.Kind)
	assert.Equal(t, StatusUnknown, res.Status)
	assert.Equal(t, "0xabc123", res.Signature, "signature is reported so the user can check")
	assert.NotEqual(t, KindSubmissionFailed, res.Kind)
}

func TestExecute_Reverted(t *testing.T) {
	c := richChain()
	c.confirmErr = fmt.Errorf("receipt status 0: %w", ErrReverted)
	res := newTestExecutor(&fakeQuotes{outAmount: big.NewInt(1)}, c).Execute(context.Background(), Request{
		TokenAddress: token, Direction: Buy, Amount: oneEther, Credential: credential(t),
	})
	assert.Equal(t, KindReverted, res.Kind)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestAssemble_WithoutCleanup(t *testing.T) {
	out := Assemble(Instruction{Kind: KindFeeTransfer}, &InstructionSet{Swap: Instruction{To: router}})
	require.Len(t, out, 2)
	assert.Equal(t, KindFeeTransfer, out[0].Kind)
	assert.Equal(t, KindSwap, out[1].Kind)
}

func TestPreview(t *testing.T) {
	q := &fakeQuotes{outAmount: big.NewInt(123)}
	c := richChain()
	quote, b, err := newTestExecutor(q, c).Preview(context.Background(), token, Buy, oneEther)
	require.NoError(t, err)
	assert.Equal(t, "123", quote.OutAmount.String())
	assert.Equal(t, "5000000000000000", b.Platform.String())
	assert.Zero(t, c.balanceCalls)

	_, _, err = newTestExecutor(q, c).Preview(context.Background(), token, Buy, big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindConfirmationTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindSubmissionFailed, KindOf(errors.New("boom")))
	assert.Equal(t, KindQuoteUnavailable, KindOf(fmt.Errorf("%w: x", ErrQuoteUnavailable)))
}
