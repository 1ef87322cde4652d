// Package units converts between on-chain integer amounts and the whole-unit
// floats kept on the trade ledger.
package units

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the precision of the chain's native currency (wei).
const NativeDecimals = 18

// ToFloat converts a smallest-unit amount into whole units.
func ToFloat(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	return decimal.NewFromBigInt(amount, int32(-decimals)).InexactFloat64()
}

// FromFloat converts whole units into a smallest-unit amount, truncating
// anything below one smallest unit.
func FromFloat(amount float64, decimals int) *big.Int {
	return decimal.NewFromFloat(amount).Shift(int32(decimals)).BigInt()
}

// FromString parses a decimal string of whole units.
func FromString(amount string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	return d.Shift(int32(decimals)).BigInt(), nil
}

func WeiToNative(wei *big.Int) float64 { return ToFloat(wei, NativeDecimals) }

func NativeToWei(amount float64) *big.Int { return FromFloat(amount, NativeDecimals) }

// Percent returns floor(amount * pct / 100).
func Percent(amount *big.Int, pct float64) *big.Int {
	return decimal.NewFromBigInt(amount, 0).
		Mul(decimal.NewFromFloat(pct)).
		Div(decimal.NewFromInt(100)).
		Floor().
		BigInt()
}
