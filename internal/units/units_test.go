package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeiRoundTrip(t *testing.T) {
	wei := NativeToWei(1.5)
	assert.Equal(t, "1500000000000000000", wei.String())
	assert.InDelta(t, 1.5, WeiToNative(wei), 1e-12)
}

func TestToFloat_TokenDecimals(t *testing.T) {
	assert.InDelta(t, 1000.0, ToFloat(big.NewInt(1_000_000_000), 6), 1e-9)
	assert.Equal(t, 0.0, ToFloat(nil, 6))
}

func TestFromString(t *testing.T) {
	v, err := FromString("0.25", 9)
	require.NoError(t, err)
	assert.Equal(t, "250000000", v.String())

	_, err = FromString("abc", 9)
	assert.Error(t, err)
}

func TestPercent(t *testing.T) {
	amt := big.NewInt(1001)
	assert.Equal(t, "250", Percent(amt, 25).String())
	assert.Equal(t, "1001", Percent(amt, 100).String())
	assert.Equal(t, "500", Percent(amt, 50).String())
}
