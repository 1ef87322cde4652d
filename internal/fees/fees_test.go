package fees

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad int " + s)
	}
	return v
}

func TestHybridFee_FloorDominates(t *testing.T) {
	// 0.1 native at 0.5% is 0.0005, below the 0.005 floor.
	fee, err := HybridFee(wei("100000000000000000"), DefaultRate, DefaultFloor)
	require.NoError(t, err)
	assert.Equal(t, DefaultFloor.String(), fee.String())
}

func TestHybridFee_PercentageDominates(t *testing.T) {
	// 10 native at 0.5% is 0.05.
	fee, err := HybridFee(wei("10000000000000000000"), DefaultRate, DefaultFloor)
	require.NoError(t, err)
	assert.Equal(t, "50000000000000000", fee.String())
}

func TestHybridFee_FloorsFraction(t *testing.T) {
	fee, err := HybridFee(big.NewInt(999), 0.01, big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, "9", fee.String())
}

func TestHybridFee_ZeroRateReturnsFloor(t *testing.T) {
	fee, err := HybridFee(big.NewInt(1_000_000), 0, big.NewInt(42))
	require.NoError(t, err)
	assert.Equal(t, "42", fee.String())
}

func TestHybridFee_NeverBelowFloor(t *testing.T) {
	floor := big.NewInt(5000)
	for _, amt := range []int64{1, 10, 999, 5000, 1_000_000, 123_456_789} {
		for _, rate := range []float64{0, 0.0001, 0.005, 0.05, 0.5} {
			fee, err := HybridFee(big.NewInt(amt), rate, floor)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, fee.Cmp(floor), 0, "amount=%d rate=%v", amt, rate)
		}
	}
}

func TestHybridFee_MonotonicInAmount(t *testing.T) {
	floor := big.NewInt(100)
	prev := big.NewInt(0)
	for amt := int64(1); amt < 200_000; amt += 997 {
		fee, err := HybridFee(big.NewInt(amt), 0.003, floor)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, fee.Cmp(prev), 0, "fee decreased at amount=%d", amt)
		prev = fee
	}
}

func TestHybridFee_InvalidArguments(t *testing.T) {
	cases := []struct {
		name   string
		amount *big.Int
		rate   float64
		floor  *big.Int
	}{
		{"zero amount", big.NewInt(0), 0.005, big.NewInt(1)},
		{"negative amount", big.NewInt(-5), 0.005, big.NewInt(1)},
		{"nil amount", nil, 0.005, big.NewInt(1)},
		{"negative rate", big.NewInt(100), -0.1, big.NewInt(1)},
		{"nan rate", big.NewInt(100), math.NaN(), big.NewInt(1)},
		{"whole rate", big.NewInt(100), 1, big.NewInt(1)},
		{"negative floor", big.NewInt(100), 0.005, big.NewInt(-1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := HybridFee(tc.amount, tc.rate, tc.floor)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestCompute_AddsNetworkFee(t *testing.T) {
	b, err := Compute(wei("1000000000000000000"), DefaultRate, DefaultFloor, big.NewInt(5_000_000))
	require.NoError(t, err)
	assert.Equal(t, "5000000000000000", b.Platform.String())
	assert.Equal(t, "5000000", b.Network.String())
	assert.Equal(t, "5000000005000000", b.Total.String())
}
