package paper

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/kjannette/trahn-swapbot/internal/swap"
)

// Quotes prices with a real provider and replaces its instructions with a
// single call to Pool that the paper ledger knows how to settle.
type Quotes struct {
	Prices swap.QuoteProvider
}

func (q Quotes) Quote(ctx context.Context, req swap.QuoteRequest) (*swap.Quote, error) {
	return q.Prices.Quote(ctx, req)
}

func (q Quotes) Instructions(_ context.Context, quote *swap.Quote, _ common.Address) (*swap.InstructionSet, error) {
	op, token, value := opBuy, quote.OutputAsset, new(big.Int).Set(quote.InAmount)
	if strings.EqualFold(quote.OutputAsset, swap.NativeAsset) {
		op, token, value = opSell, quote.InputAsset, new(big.Int)
	}
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("paper instructions: bad token %q", token)
	}
	return &swap.InstructionSet{
		Swap: swap.Instruction{
			To:    Pool,
			Data:  encodePoolCall(op, common.HexToAddress(token), quote.InAmount, quote.OutAmount),
			Value: value,
		},
	}, nil
}

// Pool call layout: op (1 byte) | token (20) | amountIn (32) | amountOut (32).
const poolCallLen = 1 + common.AddressLength + 64

func encodePoolCall(op byte, token common.Address, in, out *big.Int) []byte {
	data := make([]byte, 0, poolCallLen)
	data = append(data, op)
	data = append(data, token.Bytes()...)
	data = append(data, common.LeftPadBytes(in.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(out.Bytes(), 32)...)
	return data
}

func decodePoolCall(data []byte) (byte, common.Address, *big.Int, *big.Int, error) {
	if len(data) != poolCallLen {
		return 0, common.Address{}, nil, nil, fmt.Errorf("paper pool call: %d bytes", len(data))
	}
	op := data[0]
	token := common.BytesToAddress(data[1:21])
	in := new(big.Int).SetBytes(data[21:53])
	out := new(big.Int).SetBytes(data[53:85])
	return op, token, in, out, nil
}

func sender(signed *swap.SignedTransaction) (common.Address, error) {
	tx := signed.Txs[0]
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("paper submit: recover sender: %w", err)
	}
	return from, nil
}
