package vault

import (
	"MarginVault/internal/asset"
	"MarginVault/internal/config"
	"MarginVault/internal/ledger"
	vmath "MarginVault/internal/math"
	"MarginVault/internal/pool"

	"github.com/holiman/uint256"
)

// FeeDistributor splits trading fees between the liquidity tiers and the
// protocol fee account. The LP share is credited to pool totals without
// minting shares, so the share price rises for every existing holder.
type FeeDistributor struct {
	pools  *pool.Manager
	margin *ledger.MarginLedger
	cfg    *config.Store
}

func NewFeeDistributor(pools *pool.Manager, margin *ledger.MarginLedger, cfg *config.Store) *FeeDistributor {
	return &FeeDistributor{pools: pools, margin: margin, cfg: cfg}
}

// FeeSplit reports where one fee went.
type FeeSplit struct {
	Total        *uint256.Int
	SafetyModule *uint256.Int
	Base         *uint256.Int
	Receiver     *uint256.Int
}

// Distribute routes a fee: tradingFeeLpShareBps of it to the pools (split
// safetyModuleInterestShareBps / remainder between the tiers), the rest to
// the protocol fee receiver's margin account.
func (d *FeeDistributor) Distribute(token asset.Token, fee *uint256.Int) FeeSplit {
	fees := d.cfg.Fees()

	lpCut := vmath.ApplyBps(fee, fees.TradingFeeLpShareBps)
	smCut := vmath.ApplyBps(lpCut, fees.SafetyModuleInterestShareBps)
	baseCut := new(uint256.Int).Sub(lpCut, smCut)
	receiverCut := new(uint256.Int).Sub(fee, lpCut)

	p := d.pools.Pool(token)
	p.CreditTier(pool.TierSafetyModule, smCut)
	p.CreditTier(pool.TierBase, baseCut)

	if !receiverCut.IsZero() {
		d.margin.Credit(d.cfg.FeeReceiver(), token, receiverCut)
	}

	return FeeSplit{
		Total:        new(uint256.Int).Set(fee),
		SafetyModule: smCut,
		Base:         baseCut,
		Receiver:     receiverCut,
	}
}
