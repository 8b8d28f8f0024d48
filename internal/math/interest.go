package math

import (
	"github.com/holiman/uint256"
)

// InterestParams describes the kinked two-segment borrow rate curve for one
// asset. All four values are at RateScale (1e7 = 100% annualized).
//
// Below the kink the rate climbs linearly from MinRate to MidRate; above it,
// from MidRate to MaxRate. The steep second segment discourages draining the
// base pool past its target utilization.
type InterestParams struct {
	MinRate uint64
	MidRate uint64
	MaxRate uint64
	Kink    uint64
}

// DefaultInterestParams applies to assets with no explicit configuration:
// 3% at zero utilization, 20% at an 80% kink, 100% at full utilization.
func DefaultInterestParams() InterestParams {
	return InterestParams{
		MinRate: 3_00_000,
		MidRate: 20_00_000,
		MaxRate: 100_00_000,
		Kink:    80_00_000,
	}
}

// Zero reports whether the params are unset.
func (p InterestParams) Zero() bool {
	return p.MinRate == 0 && p.MidRate == 0 && p.MaxRate == 0 && p.Kink == 0
}

// RateAt returns the annualized borrow rate (RateScale) at the given
// utilization (RateScale). Utilization above 100% is treated as 100%.
func (p InterestParams) RateAt(utilization uint64) uint64 {
	if utilization > RateScale {
		utilization = RateScale
	}
	if utilization <= p.Kink {
		if p.Kink == 0 {
			return p.MinRate
		}
		return p.MinRate + (p.MidRate-p.MinRate)*utilization/p.Kink
	}
	span := uint64(RateScale) - p.Kink
	return p.MidRate + (p.MaxRate-p.MidRate)*(utilization-p.Kink)/span
}

// PerSecondRate converts an annualized rate (RateScale) into the per-second
// coefficient rate * 1e18 / SecondsPerYear (floor). Pending interest over an
// interval is then debt * coeff * elapsed / (1e18 * 1e7).
func PerSecondRate(rate uint64) *uint256.Int {
	z := MulU64(rate, SharePrecision)
	return z.Div(z, uint256.NewInt(SecondsPerYear))
}

// Utilization returns totalDebt * 1e7 / baseTotal, or zero for an empty base
// pool.
func Utilization(totalDebt, baseTotal *uint256.Int) uint64 {
	if baseTotal.IsZero() {
		return 0
	}
	u := MulDiv(totalDebt, uint256.NewInt(RateScale), baseTotal)
	if !u.IsUint64() || u.Uint64() > RateScale {
		return RateScale
	}
	return u.Uint64()
}

// PendingInterest returns debt * perSecond * elapsedSeconds / (1e18 * 1e7).
func PendingInterest(totalDebt, perSecond *uint256.Int, elapsedSeconds uint64) *uint256.Int {
	z := new(uint256.Int).Mul(totalDebt, perSecond)
	z.Mul(z, uint256.NewInt(elapsedSeconds))
	z.Div(z, MulU64(SharePrecision, RateScale))
	return z
}
