package pool

import (
	"time"

	"MarginVault/internal/asset"
	vmath "MarginVault/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Tier selects one of the two liquidity tiers of an asset pool.
type Tier int

const (
	// TierBase is the senior tier funding loans. It absorbs losses only
	// after the safety module is exhausted.
	TierBase Tier = iota

	// TierSafetyModule is the junior first-loss tier. It earns a larger
	// share of interest income in exchange.
	TierSafetyModule
)

func (t Tier) String() string {
	switch t {
	case TierBase:
		return "base"
	case TierSafetyModule:
		return "safety_module"
	default:
		return "unknown"
	}
}

// tierState is the share-based book of one liquidity tier.
type tierState struct {
	totalAmount   *uint256.Int
	totalShares   *uint256.Int
	shares        map[uuid.UUID]*uint256.Int
	cooldownUntil map[uuid.UUID]time.Time
}

func newTierState() tierState {
	return tierState{
		totalAmount:   new(uint256.Int),
		totalShares:   new(uint256.Int),
		shares:        make(map[uuid.UUID]*uint256.Int),
		cooldownUntil: make(map[uuid.UUID]time.Time),
	}
}

// AssetPool is the full per-asset book: two liquidity tiers, the debt pool,
// and recognized bad debt. Mutators are unconditional; the engine performs
// all validation before committing, so a mutator call is already a decision.
type AssetPool struct {
	token asset.Token

	base   tierState
	safety tierState

	totalDebtAmount *uint256.Int
	totalDebtShares *uint256.Int
	lastAccrual     time.Time

	badDebt *uint256.Int
}

func newAssetPool(token asset.Token) *AssetPool {
	return &AssetPool{
		token:           token,
		base:            newTierState(),
		safety:          newTierState(),
		totalDebtAmount: new(uint256.Int),
		totalDebtShares: new(uint256.Int),
		badDebt:         new(uint256.Int),
	}
}

func (p *AssetPool) tier(t Tier) *tierState {
	if t == TierSafetyModule {
		return &p.safety
	}
	return &p.base
}

func (p *AssetPool) Token() asset.Token { return p.token }

// TotalAmount returns the raw deposited total of a tier, gross of bad debt.
func (p *AssetPool) TotalAmount(t Tier) *uint256.Int {
	return new(uint256.Int).Set(p.tier(t).totalAmount)
}

// TotalShares returns a tier's outstanding share supply.
func (p *AssetPool) TotalShares(t Tier) *uint256.Int {
	return new(uint256.Int).Set(p.tier(t).totalShares)
}

// SharesOf returns an account's share balance in a tier.
func (p *AssetPool) SharesOf(t Tier, account uuid.UUID) *uint256.Int {
	if s, ok := p.tier(t).shares[account]; ok {
		return new(uint256.Int).Set(s)
	}
	return new(uint256.Int)
}

// CooldownUntil returns when the account's tier deposit becomes withdrawable.
func (p *AssetPool) CooldownUntil(t Tier, account uuid.UUID) time.Time {
	return p.tier(t).cooldownUntil[account]
}

// EffectiveBacking is a tier's deposit total net of its portion of bad debt.
// The safety module absorbs losses first; only the overflow hits the base
// tier.
func (p *AssetPool) EffectiveBacking(t Tier) *uint256.Int {
	if t == TierSafetyModule {
		return vmath.SubClamp(p.safety.totalAmount, p.badDebt)
	}
	overflow := vmath.SubClamp(p.badDebt, p.safety.totalAmount)
	return vmath.SubClamp(p.base.totalAmount, overflow)
}

// SharesToAmount values shares at the tier's current effective backing.
func (p *AssetPool) SharesToAmount(t Tier, shares *uint256.Int) *uint256.Int {
	aps := vmath.AmountPerShare(p.EffectiveBacking(t), p.tier(t).totalShares)
	if aps == nil {
		return new(uint256.Int)
	}
	return vmath.SharesToAmount(shares, aps)
}

// AmountToShares converts a deposit or withdrawal amount into shares. An
// empty pool, or one whose backing was wiped by losses, mints at the fresh
// 1e18 rate: the next depositor captures whatever residual is left.
func (p *AssetPool) AmountToShares(t Tier, amount *uint256.Int) *uint256.Int {
	backing := p.EffectiveBacking(t)
	ts := p.tier(t).totalShares
	if ts.IsZero() || backing.IsZero() {
		return vmath.FirstShares(amount)
	}
	return vmath.AmountToShares(amount, vmath.AmountPerShare(backing, ts))
}

// Deposit mints shares for the account, grows the tier totals, and stamps the
// account's withdrawal cooldown. Returns the minted shares.
func (p *AssetPool) Deposit(t Tier, account uuid.UUID, amount *uint256.Int, cooldownUntil time.Time) *uint256.Int {
	st := p.tier(t)
	minted := p.AmountToShares(t, amount)

	st.totalAmount.Add(st.totalAmount, amount)
	st.totalShares.Add(st.totalShares, minted)

	cur, ok := st.shares[account]
	if !ok {
		cur = new(uint256.Int)
		st.shares[account] = cur
	}
	cur.Add(cur, minted)
	st.cooldownUntil[account] = cooldownUntil

	return new(uint256.Int).Set(minted)
}

// Withdraw burns the shares corresponding to amount and shrinks the tier
// total. The engine has already verified ownership, cooldown, and available
// liquidity; the burn is capped at the account's balance as the conversion
// rounds down.
func (p *AssetPool) Withdraw(t Tier, account uuid.UUID, amount *uint256.Int) *uint256.Int {
	st := p.tier(t)
	burned := p.AmountToShares(t, amount)

	owned, ok := st.shares[account]
	if !ok {
		owned = new(uint256.Int)
		st.shares[account] = owned
	}
	if burned.Gt(owned) {
		burned = new(uint256.Int).Set(owned)
	}

	owned.Sub(owned, burned)
	st.totalShares.Sub(st.totalShares, burned)
	st.totalAmount.Sub(st.totalAmount, amount)

	return new(uint256.Int).Set(burned)
}

// CreditTier grows a tier's total without minting shares, raising the share
// price for every existing holder. Fee routing and interest payout land here.
func (p *AssetPool) CreditTier(t Tier, amount *uint256.Int) {
	st := p.tier(t)
	st.totalAmount.Add(st.totalAmount, amount)
}
