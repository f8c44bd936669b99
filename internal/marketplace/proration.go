package marketplace

import (
	"math/big"
	"time"
)

// marketplace cut of seller payouts when the fee is enabled: 2.5%
const (
	feeCutNumerator   = 25
	feeCutDenominator = 1000
)

// ProratedAmount returns the portion of price earned after elapsed time of a
// rental period of the given length. Rounds down; the counterparty share is
// always computed by subtraction so the two parts sum to price exactly.
func ProratedAmount(price *big.Int, elapsed, length time.Duration) *big.Int {
	if elapsed >= length {
		return new(big.Int).Set(price)
	}
	if elapsed <= 0 {
		return new(big.Int)
	}
	amount := new(big.Int).Mul(price, big.NewInt(int64(elapsed)))
	return amount.Div(amount, big.NewInt(int64(length)))
}

// SplitFee divides a seller payout into the seller part and the marketplace
// cut. The cut rounds down and the seller part is the remainder, so
// sellerPart + feePart == amount for any input.
func SplitFee(amount *big.Int) (sellerPart, feePart *big.Int) {
	feePart = new(big.Int).Mul(amount, big.NewInt(feeCutNumerator))
	feePart.Div(feePart, big.NewInt(feeCutDenominator))
	sellerPart = new(big.Int).Sub(amount, feePart)
	return sellerPart, feePart
}
