package math

import (
	"github.com/holiman/uint256"
)

// Fixed-point scales used throughout the vault. These are load-bearing:
// share prices, interest and fees are all integer arithmetic at these bases.
const (
	// SharePrecision scales one token unit to share units (1e18).
	SharePrecision = 1_000_000_000_000_000_000

	// RateScale is the interest curve basis: 100% = 1e7.
	RateScale = 10_000_000

	// BpsScale is the fee/slippage basis: 100% = 1e4.
	BpsScale = 10_000

	// PriceScale is the oracle USD price basis: 8 decimal places.
	PriceScale = 100_000_000

	SecondsPerYear = 31_536_000
)

var (
	sharePrecision = uint256.NewInt(SharePrecision)

	// doublePrecision (1e36) is used for per-share prices so that
	// share<->amount conversions lose at most one unit.
	doublePrecision = MulU64(SharePrecision, SharePrecision)
)

// U converts a uint64 to a fresh uint256.
func U(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// MulU64 multiplies two uint64 values into a uint256.
func MulU64(a, b uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
}

// MulDiv computes a*b/d with flooring. Operands in this codebase are bounded
// well below 2^128, so the 256-bit intermediate cannot wrap.
// Division by zero follows uint256 semantics and yields zero; callers guard.
func MulDiv(a, b, d *uint256.Int) *uint256.Int {
	z := new(uint256.Int).Mul(a, b)
	return z.Div(z, d)
}

// ApplyBps returns amount * bps / 1e4 (floor).
func ApplyBps(amount *uint256.Int, bps uint64) *uint256.Int {
	return MulDiv(amount, uint256.NewInt(bps), uint256.NewInt(BpsScale))
}

// SubClamp returns a-b, clamped at zero instead of wrapping.
func SubClamp(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

// AmountPerShare returns backing * 1e36 / totalShares (floor), the
// double-precision price of one share. Returns nil when totalShares is zero.
func AmountPerShare(backing, totalShares *uint256.Int) *uint256.Int {
	if totalShares.IsZero() {
		return nil
	}
	return MulDiv(backing, doublePrecision, totalShares)
}

// SharesToAmount converts shares to an amount at the given double-precision
// per-share price, rounding down.
func SharesToAmount(shares, amountPerShare *uint256.Int) *uint256.Int {
	return MulDiv(shares, amountPerShare, doublePrecision)
}

// AmountToShares converts an amount to shares at the given double-precision
// per-share price. The numerator is reduced by one unit so that pro-rata
// minting rounds strictly down: a round trip loses at most one unit and the
// loss always favors existing holders.
func AmountToShares(amount, amountPerShare *uint256.Int) *uint256.Int {
	n := new(uint256.Int).Mul(amount, doublePrecision)
	if !n.IsZero() {
		n.Sub(n, uint256.NewInt(1))
	}
	return n.Div(n, amountPerShare)
}

// AmountToSharesExact converts an amount to shares without the one-unit
// reduction. Debt share minting uses this form: rounding in the borrower's
// favor here is immaterial because debt only ever grows via accrual.
func AmountToSharesExact(amount, amountPerShare *uint256.Int) *uint256.Int {
	return MulDiv(amount, doublePrecision, amountPerShare)
}

// FirstShares returns the shares minted into an empty pool: amount * 1e18.
func FirstShares(amount *uint256.Int) *uint256.Int {
	return new(uint256.Int).Mul(amount, sharePrecision)
}

// Fraction returns part * 1e18 / whole (floor), a share-precision ratio.
func Fraction(part, whole *uint256.Int) *uint256.Int {
	return MulDiv(part, sharePrecision, whole)
}

// ScaleByFraction returns amount * fraction / 1e18 (floor), where fraction
// came from Fraction.
func ScaleByFraction(amount, fraction *uint256.Int) *uint256.Int {
	return MulDiv(amount, fraction, sharePrecision)
}

// Pow10 returns 10^n as a uint256. Token decimals never exceed 18 here.
func Pow10(n uint8) *uint256.Int {
	z := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < n; i++ {
		z.Mul(z, ten)
	}
	return z
}
