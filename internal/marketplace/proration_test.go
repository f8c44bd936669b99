package marketplace

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProratedAmount(t *testing.T) {
	price := big.NewInt(1000)

	require.Equal(t, int64(0), ProratedAmount(price, 0, 10*time.Second).Int64())
	require.Equal(t, int64(0), ProratedAmount(price, -time.Second, 10*time.Second).Int64())
	require.Equal(t, int64(500), ProratedAmount(price, 5*time.Second, 10*time.Second).Int64())
	require.Equal(t, int64(1000), ProratedAmount(price, 10*time.Second, 10*time.Second).Int64())
	require.Equal(t, int64(1000), ProratedAmount(price, time.Hour, 10*time.Second).Int64())

	// rounds down on uneven division
	require.Equal(t, int64(333), ProratedAmount(price, time.Second, 3*time.Second).Int64())

	// the input is never aliased
	got := ProratedAmount(price, time.Hour, 10*time.Second)
	got.SetInt64(0)
	require.Equal(t, int64(1000), price.Int64())
}

func TestSplitFee(t *testing.T) {
	seller, fee := SplitFee(big.NewInt(1000))
	require.Equal(t, int64(975), seller.Int64())
	require.Equal(t, int64(25), fee.Int64())

	// fee rounds down, seller takes the remainder, parts always sum exactly
	for _, amount := range []int64{0, 1, 39, 40, 41, 999, 1001} {
		seller, fee := SplitFee(big.NewInt(amount))
		require.Equal(t, amount, seller.Int64()+fee.Int64(), "amount %d", amount)
		require.Equal(t, amount*25/1000, fee.Int64(), "amount %d", amount)
	}
}
