package swap

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/kjannette/trahn-swapbot/internal/fees"
)

// NativeAsset is the placeholder address aggregators use for the chain's
// native currency.
const NativeAsset = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

func (d Direction) Valid() bool { return d == Buy || d == Sell }

// Request asks for a swap between the native currency and a token. Amount is
// in the smallest unit of the input asset: wei for buys, token base units
// for sells.
type Request struct {
	TokenAddress string
	Direction    Direction
	Amount       *big.Int
	Credential   string
}

type QuoteRequest struct {
	InputAsset  string
	OutputAsset string
	Amount      *big.Int
	SlippageBps int
}

// Quote is a priced route from the aggregator. Raw is handed back verbatim
// when asking for the route's instructions.
type Quote struct {
	InputAsset     string          `json:"inputAsset"`
	OutputAsset    string          `json:"outputAsset"`
	InAmount       *big.Int        `json:"inAmount"`
	OutAmount      *big.Int        `json:"outAmount"`
	MinOutAmount   *big.Int        `json:"minOutAmount"`
	PriceImpactPct float64         `json:"priceImpactPct"`
	SlippageBps    int             `json:"slippageBps"`
	Raw            json.RawMessage `json:"-"`
}

type InstructionKind string

const (
	KindFeeTransfer   InstructionKind = "fee_transfer"
	KindComputeBudget InstructionKind = "compute_budget"
	KindSetup         InstructionKind = "setup"
	KindSwap          InstructionKind = "swap"
	KindCleanup       InstructionKind = "cleanup"
)

// Instruction is one call in a swap transaction. Compute-budget
// instructions carry no call; they set Gas and TipCap for every call that
// follows them.
type Instruction struct {
	Kind   InstructionKind
	To     common.Address
	Data   []byte
	Value  *big.Int
	Gas    uint64
	TipCap *big.Int
}

// InstructionSet is what the aggregator returns for a quote.
type InstructionSet struct {
	ComputeBudget []Instruction
	Setup         []Instruction
	Swap          Instruction
	Cleanup       *Instruction
}

// Anchor pins a transaction to recent chain state.
type Anchor struct {
	Nonce       uint64
	BaseFee     *big.Int
	BlockNumber uint64
}

// Transaction is an ordered, unsigned instruction list from one payer.
type Transaction struct {
	From         common.Address
	Anchor       Anchor
	Instructions []Instruction
}

// SignedTransaction holds the signed calls in submission order. Signature
// identifies the swap call and is what explorers and confirmations key on.
type SignedTransaction struct {
	Txs       []*types.Transaction
	Signature string
}

type Confirmation struct {
	BlockNumber uint64
	GasUsed     uint64
}

// QuoteProvider prices swaps and builds their instructions.
type QuoteProvider interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
	Instructions(ctx context.Context, quote *Quote, owner common.Address) (*InstructionSet, error)
}

// LedgerClient talks to the chain. Submit must wrap ErrOutcomeUnknown when
// any call may have reached the network before a failure, and
// ErrInsufficientFunds when it sends nothing for lack of funds. Confirm must
// return ErrReverted for a mined failure and respect ctx for its deadline.
type LedgerClient interface {
	Balance(ctx context.Context, owner common.Address) (*big.Int, error)
	LatestAnchor(ctx context.Context, owner common.Address) (*Anchor, error)
	Sign(tx *Transaction, key *ecdsa.PrivateKey) (*SignedTransaction, error)
	Submit(ctx context.Context, signed *SignedTransaction) error
	Confirm(ctx context.Context, signed *SignedTransaction) (*Confirmation, error)
}

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusUnknown   Status = "unknown"
)

// Result is the structured outcome of Execute. ErrorDetails keeps the
// wrapped error for callers that want errors.Is.
type Result struct {
	Success      bool            `json:"success"`
	Status       Status          `json:"status"`
	Signature    string          `json:"signature,omitempty"`
	TxURL        string          `json:"txUrl,omitempty"`
	Kind         string          `json:"kind,omitempty"`
	Error        string          `json:"error,omitempty"`
	ErrorDetails error           `json:"-"`
	Direction    Direction       `json:"direction"`
	TokenAddress string          `json:"tokenAddress"`
	Quote        *Quote          `json:"quote,omitempty"`
	Fees         *fees.Breakdown `json:"fees,omitempty"`
}
