package pool

import (
	"time"

	vmath "MarginVault/internal/math"

	"github.com/holiman/uint256"
)

// TotalDebt returns the raw aggregate debt, excluding pending interest.
func (p *AssetPool) TotalDebt() *uint256.Int {
	return new(uint256.Int).Set(p.totalDebtAmount)
}

// TotalDebtShares returns the outstanding debt share supply.
func (p *AssetPool) TotalDebtShares() *uint256.Int {
	return new(uint256.Int).Set(p.totalDebtShares)
}

// LastAccrual returns the timestamp of the last committed interest accrual.
func (p *AssetPool) LastAccrual() time.Time { return p.lastAccrual }

// BadDebt returns the recognized unrecoverable debt for the asset.
func (p *AssetPool) BadDebt() *uint256.Int {
	return new(uint256.Int).Set(p.badDebt)
}

// AvailableLiquidity is what deposits still cover after outstanding debt and
// recognized bad debt: baseTotal + smTotal - totalDebt - badDebt.
func (p *AssetPool) AvailableLiquidity() *uint256.Int {
	total := new(uint256.Int).Add(p.base.totalAmount, p.safety.totalAmount)
	owed := new(uint256.Int).Add(p.totalDebtAmount, p.badDebt)
	return vmath.SubClamp(total, owed)
}

// Utilization is totalDebt / baseTotal at RateScale.
func (p *AssetPool) Utilization() uint64 {
	return vmath.Utilization(p.totalDebtAmount, p.base.totalAmount)
}

// PendingInterest computes interest accrued since the last accrual under the
// given curve, without mutating anything. Engine checks read through this so
// that a failed operation leaves the accrual clock untouched.
func (p *AssetPool) PendingInterest(params vmath.InterestParams, now time.Time) *uint256.Int {
	if p.lastAccrual.IsZero() || !now.After(p.lastAccrual) || p.totalDebtAmount.IsZero() {
		return new(uint256.Int)
	}
	elapsed := uint64(now.Sub(p.lastAccrual) / time.Second)
	perSec := vmath.PerSecondRate(params.RateAt(p.Utilization()))
	return vmath.PendingInterest(p.totalDebtAmount, perSec, elapsed)
}

// DebtWithPending is totalDebt plus pending interest, the denominator for
// debt share issuance and valuation between accruals.
func (p *AssetPool) DebtWithPending(params vmath.InterestParams, now time.Time) *uint256.Int {
	return new(uint256.Int).Add(p.totalDebtAmount, p.PendingInterest(params, now))
}

// Accrue commits pending interest: the aggregate debt grows by the pending
// amount and the identical amount is credited to the liquidity tiers, split
// smInterestShareBps to the safety module and the rest to the base tier.
// Available liquidity is unchanged by accrual. Returns the accrued amount.
func (p *AssetPool) Accrue(params vmath.InterestParams, smInterestShareBps uint64, now time.Time) *uint256.Int {
	pending := p.PendingInterest(params, now)
	p.lastAccrual = now
	if pending.IsZero() {
		return pending
	}

	p.totalDebtAmount.Add(p.totalDebtAmount, pending)

	smCut := vmath.ApplyBps(pending, smInterestShareBps)
	p.safety.totalAmount.Add(p.safety.totalAmount, smCut)
	p.base.totalAmount.Add(p.base.totalAmount, new(uint256.Int).Sub(pending, smCut))

	return pending
}

// DebtAmountToShares converts a borrow amount into debt shares at the current
// debt share price. Call after Accrue so the price includes accrued interest.
func (p *AssetPool) DebtAmountToShares(amount *uint256.Int) *uint256.Int {
	if p.totalDebtShares.IsZero() {
		return vmath.FirstShares(amount)
	}
	aps := vmath.AmountPerShare(p.totalDebtAmount, p.totalDebtShares)
	return vmath.AmountToSharesExact(amount, aps)
}

// DebtSharesToAmount values debt shares at the current share price.
func (p *AssetPool) DebtSharesToAmount(shares *uint256.Int) *uint256.Int {
	aps := vmath.AmountPerShare(p.totalDebtAmount, p.totalDebtShares)
	if aps == nil {
		return new(uint256.Int)
	}
	return vmath.SharesToAmount(shares, aps)
}

// Borrow mints debt shares for amount and grows the aggregate debt. The
// engine has already checked available liquidity and accrued interest.
func (p *AssetPool) Borrow(amount *uint256.Int) *uint256.Int {
	shares := p.DebtAmountToShares(amount)
	p.totalDebtShares.Add(p.totalDebtShares, shares)
	p.totalDebtAmount.Add(p.totalDebtAmount, amount)
	return shares
}

// Repay burns debt shares and reduces aggregate debt by the repaid amount.
// On a shortfall close the shares are burned in full while only the realized
// proceeds come off the debt total; the unrecovered remainder is recognized
// separately through AddBadDebt.
func (p *AssetPool) Repay(shares, amount *uint256.Int) {
	p.totalDebtShares = vmath.SubClamp(p.totalDebtShares, shares)
	p.totalDebtAmount = vmath.SubClamp(p.totalDebtAmount, amount)
}

// AddBadDebt recognizes unrecoverable debt. Effective backing of the tiers
// shrinks immediately; pool totals are only rewritten when the loss is
// realized against withdrawals.
func (p *AssetPool) AddBadDebt(amount *uint256.Int) {
	p.badDebt.Add(p.badDebt, amount)
}

// ReduceBadDebt pays down recognized bad debt and returns the amount
// actually applied, capped at the outstanding balance.
func (p *AssetPool) ReduceBadDebt(amount *uint256.Int) *uint256.Int {
	applied := new(uint256.Int).Set(amount)
	if applied.Gt(p.badDebt) {
		applied.Set(p.badDebt)
	}
	p.badDebt.Sub(p.badDebt, applied)
	return applied
}
