package pool

import (
	"fmt"
	"sort"
	"time"

	"MarginVault/internal/asset"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Serializable pool state for snapshots. Amounts and shares travel as decimal
// strings; uint256 has no lossless JSON number form.

type TierState struct {
	TotalAmount string       `json:"total_amount"`
	TotalShares string       `json:"total_shares"`
	Holders     []HolderSnap `json:"holders,omitempty"`
}

type HolderSnap struct {
	Account       string `json:"account"`
	Shares        string `json:"shares"`
	CooldownUntil int64  `json:"cooldown_until,omitempty"` // unix seconds, 0 = none
}

type AssetPoolState struct {
	Token           string    `json:"token"`
	Base            TierState `json:"base"`
	SafetyModule    TierState `json:"safety_module"`
	TotalDebtAmount string    `json:"total_debt_amount"`
	TotalDebtShares string    `json:"total_debt_shares"`
	LastAccrual     int64     `json:"last_accrual,omitempty"` // unix seconds
	BadDebt         string    `json:"bad_debt"`
}

func snapshotTier(st *tierState) TierState {
	out := TierState{
		TotalAmount: st.totalAmount.Dec(),
		TotalShares: st.totalShares.Dec(),
	}
	for acct, shares := range st.shares {
		if shares.IsZero() {
			continue
		}
		h := HolderSnap{Account: acct.String(), Shares: shares.Dec()}
		if cd, ok := st.cooldownUntil[acct]; ok && !cd.IsZero() {
			h.CooldownUntil = cd.Unix()
		}
		out.Holders = append(out.Holders, h)
	}
	sort.Slice(out.Holders, func(i, j int) bool { return out.Holders[i].Account < out.Holders[j].Account })
	return out
}

func restoreTier(st *tierState, snap TierState) error {
	var err error
	if st.totalAmount, err = uint256.FromDecimal(snap.TotalAmount); err != nil {
		return fmt.Errorf("total_amount: %w", err)
	}
	if st.totalShares, err = uint256.FromDecimal(snap.TotalShares); err != nil {
		return fmt.Errorf("total_shares: %w", err)
	}
	st.shares = make(map[uuid.UUID]*uint256.Int, len(snap.Holders))
	st.cooldownUntil = make(map[uuid.UUID]time.Time)
	for _, h := range snap.Holders {
		acct, err := uuid.Parse(h.Account)
		if err != nil {
			return fmt.Errorf("holder account %q: %w", h.Account, err)
		}
		shares, err := uint256.FromDecimal(h.Shares)
		if err != nil {
			return fmt.Errorf("holder %s shares: %w", h.Account, err)
		}
		st.shares[acct] = shares
		if h.CooldownUntil != 0 {
			st.cooldownUntil[acct] = time.Unix(h.CooldownUntil, 0).UTC()
		}
	}
	return nil
}

// Snapshot captures the full per-asset book.
func (p *AssetPool) Snapshot() AssetPoolState {
	s := AssetPoolState{
		Token:           string(p.token),
		Base:            snapshotTier(&p.base),
		SafetyModule:    snapshotTier(&p.safety),
		TotalDebtAmount: p.totalDebtAmount.Dec(),
		TotalDebtShares: p.totalDebtShares.Dec(),
		BadDebt:         p.badDebt.Dec(),
	}
	if !p.lastAccrual.IsZero() {
		s.LastAccrual = p.lastAccrual.Unix()
	}
	return s
}

// Snapshot captures every pool in token order.
func (m *Manager) Snapshot() []AssetPoolState {
	out := make([]AssetPoolState, 0, len(m.pools))
	for _, tok := range m.Tokens() {
		out = append(out, m.pools[tok].Snapshot())
	}
	return out
}

// Restore replaces the manager's books from a snapshot.
func (m *Manager) Restore(states []AssetPoolState) error {
	pools := make(map[asset.Token]*AssetPool, len(states))
	for _, s := range states {
		p := newAssetPool(asset.Token(s.Token))
		if err := restoreTier(&p.base, s.Base); err != nil {
			return fmt.Errorf("pool %s base: %w", s.Token, err)
		}
		if err := restoreTier(&p.safety, s.SafetyModule); err != nil {
			return fmt.Errorf("pool %s safety module: %w", s.Token, err)
		}
		var err error
		if p.totalDebtAmount, err = uint256.FromDecimal(s.TotalDebtAmount); err != nil {
			return fmt.Errorf("pool %s debt amount: %w", s.Token, err)
		}
		if p.totalDebtShares, err = uint256.FromDecimal(s.TotalDebtShares); err != nil {
			return fmt.Errorf("pool %s debt shares: %w", s.Token, err)
		}
		if p.badDebt, err = uint256.FromDecimal(s.BadDebt); err != nil {
			return fmt.Errorf("pool %s bad debt: %w", s.Token, err)
		}
		if s.LastAccrual != 0 {
			p.lastAccrual = time.Unix(s.LastAccrual, 0).UTC()
		}
		pools[asset.Token(s.Token)] = p
	}
	m.pools = pools
	return nil
}
