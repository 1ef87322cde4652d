package ethereum

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/kjannette/trahn-swapbot/internal/swap"
)

const transferGas = params.TxGas

// GasDefaults apply to calls no compute-budget instruction covers.
type GasDefaults struct {
	Gas    uint64
	TipCap *big.Int
}

// BuildTransactions turns an ordered instruction list into signed EIP-1559
// transactions with consecutive nonces from tx.Anchor. A compute-budget
// instruction emits nothing; its Gas and TipCap apply to every later call.
// The signature is the hash of the swap call.
func BuildTransactions(tx *swap.Transaction, key *ecdsa.PrivateKey, chainID *big.Int, def GasDefaults) (*swap.SignedTransaction, error) {
	if tx.Anchor.BaseFee == nil {
		return nil, fmt.Errorf("build transactions: anchor has no base fee")
	}
	signer := types.LatestSignerForChainID(chainID)
	gas, tip := def.Gas, def.TipCap
	if tip == nil {
		tip = new(big.Int)
	}
	nonce := tx.Anchor.Nonce

	out := &swap.SignedTransaction{}
	for i, in := range tx.Instructions {
		if in.Kind == swap.KindComputeBudget {
			if in.Gas > 0 {
				gas = in.Gas
			}
			if in.TipCap != nil {
				tip = in.TipCap
			}
			continue
		}

		callGas := gas
		if in.Kind == swap.KindFeeTransfer && len(in.Data) == 0 {
			callGas = transferGas
		}
		value := in.Value
		if value == nil {
			value = new(big.Int)
		}
		to := in.To
		feeCap := new(big.Int).Add(new(big.Int).Mul(tx.Anchor.BaseFee, big.NewInt(2)), tip)

		signed, err := types.SignNewTx(key, signer, &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: new(big.Int).Set(tip),
			GasFeeCap: feeCap,
			Gas:       callGas,
			To:        &to,
			Value:     new(big.Int).Set(value),
			Data:      in.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("sign instruction %d (%s): %w", i, in.Kind, err)
		}
		nonce++
		out.Txs = append(out.Txs, signed)
		if in.Kind == swap.KindSwap {
			out.Signature = signed.Hash().Hex()
		}
	}
	if out.Signature == "" {
		return nil, fmt.Errorf("build transactions: no swap instruction")
	}
	return out, nil
}

// Cost is the most the signed calls can take from the payer: value plus
// gas at the fee cap.
func Cost(signed *swap.SignedTransaction) *big.Int {
	total := new(big.Int)
	for _, t := range signed.Txs {
		total.Add(total, t.Cost())
	}
	return total
}
