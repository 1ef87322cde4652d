// Package fees computes the platform fee charged on every swap.
package fees

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

var ErrInvalidArgument = errors.New("invalid fee argument")

// Defaults charged when nothing else is configured: 0.5% with a floor of
// 0.005 native units.
const DefaultRate = 0.005

var DefaultFloor = big.NewInt(5_000_000_000_000_000)

// HybridFee returns max(floor(amount*rate), floor). amount must be positive,
// rate must be in [0, 1) and floor must be non-negative.
func HybridFee(amount *big.Int, rate float64, floor *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	if math.IsNaN(rate) || rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("%w: rate %v out of range", ErrInvalidArgument, rate)
	}
	if floor == nil || floor.Sign() < 0 {
		return nil, fmt.Errorf("%w: floor must be non-negative", ErrInvalidArgument)
	}

	pct := decimal.NewFromBigInt(amount, 0).Mul(decimal.NewFromFloat(rate)).Floor().BigInt()
	if pct.Cmp(floor) < 0 {
		return new(big.Int).Set(floor), nil
	}
	return pct, nil
}

// Breakdown itemises what a swap costs on top of its notional.
type Breakdown struct {
	Platform *big.Int `json:"platform"`
	Network  *big.Int `json:"network"`
	Total    *big.Int `json:"total"`
}

// Compute adds the fixed network fee to the platform fee.
func Compute(notional *big.Int, rate float64, floor, network *big.Int) (Breakdown, error) {
	platform, err := HybridFee(notional, rate, floor)
	if err != nil {
		return Breakdown{}, err
	}
	if network == nil {
		network = new(big.Int)
	}
	return Breakdown{
		Platform: platform,
		Network:  new(big.Int).Set(network),
		Total:    new(big.Int).Add(platform, network),
	}, nil
}
