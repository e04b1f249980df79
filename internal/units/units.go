// Package units converts between on-chain integer amounts and decimals.
package units

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// NativeDecimals is the precision of the gas token (USDC on Arc).
	NativeDecimals int32 = 18
	// ShareDecimals is the precision of the bond share token.
	ShareDecimals int32 = 18
	// StableDecimals is the precision of the ERC-20 stablecoin.
	StableDecimals int32 = 6
)

var (
	hundred = big.NewInt(100)
	// shareToStable rescales an 18-decimal amount to 6 decimals.
	shareToStable = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(ShareDecimals-StableDecimals)), nil)
)

// ToDecimal interprets v as a fixed-point integer with the given decimals.
func ToDecimal(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// FromDecimal converts d to its integer representation, truncating extra digits.
func FromDecimal(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).Truncate(0).BigInt()
}

// Format renders v with a fixed number of places.
func Format(v *big.Int, decimals, places int32) string {
	return ToDecimal(v, decimals).StringFixed(places)
}

// CouponDue returns the coupon owed for a snapshot: 1% of the share supply,
// expressed in stablecoin units. Integer division, rounding toward zero.
func CouponDue(totalSupply *big.Int) *big.Int {
	if totalSupply == nil {
		return new(big.Int)
	}
	due := new(big.Int).Quo(totalSupply, hundred)
	return due.Quo(due, shareToStable)
}
