package vault

import (
	"sort"

	"MarginVault/internal/asset"
	"MarginVault/internal/pool"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// GetPosition returns a copy of the position, or false when it does not
// exist or has been closed.
func (e *Engine) GetPosition(uid uuid.UUID) (*Position, bool) {
	pos, ok := e.positions[uid]
	if !ok {
		return nil, false
	}
	return pos.clone(), true
}

// Positions returns copies of the account's open positions, oldest first.
func (e *Engine) Positions(account uuid.UUID) []*Position {
	out := make([]*Position, 0)
	for _, pos := range e.positions {
		if pos.Account == account {
			out = append(out, pos.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].UID.String() < out[j].UID.String()
	})
	return out
}

// EffectiveLeverage values the position and its debt at current oracle
// prices and returns positionValue / (positionValue - debtValue), floored.
func (e *Engine) EffectiveLeverage(uid uuid.UUID) (uint64, error) {
	pos, ok := e.positions[uid]
	if !ok {
		return 0, ErrPositionNotFound
	}
	posValue, debtValue, err := e.positionValues(pos)
	if err != nil {
		return 0, err
	}
	return Leverage(posValue, debtValue, nil), nil
}

// DebtOf returns the position's current debt in debt-token units, interest
// pending since the last accrual included.
func (e *Engine) DebtOf(uid uuid.UUID) (*uint256.Int, error) {
	pos, ok := e.positions[uid]
	if !ok {
		return nil, ErrPositionNotFound
	}
	p := e.pools.Pool(pos.DebtToken)
	return e.positionDebtValue(p, pos.DebtToken, pos.DebtShares, e.now()), nil
}

// MarginBalance returns the account's free margin in the asset.
func (e *Engine) MarginBalance(account uuid.UUID, token asset.Token) *uint256.Int {
	return e.margin.Balance(account, token)
}

// BadDebt returns the asset's recognized bad debt.
func (e *Engine) BadDebt(token asset.Token) *uint256.Int {
	return e.pools.Pool(token).BadDebt()
}

// AvailableLiquidity returns what the asset's deposits still cover.
func (e *Engine) AvailableLiquidity(token asset.Token) *uint256.Int {
	return e.pools.Pool(token).AvailableLiquidity()
}

// LiquiditySharesOf returns an account's share balance in the asset's tier.
func (e *Engine) LiquiditySharesOf(token asset.Token, tier pool.Tier, account uuid.UUID) *uint256.Int {
	return e.pools.Pool(token).SharesOf(tier, account)
}

// AcceptingNewOrders reports the circuit-breaker state.
func (e *Engine) AcceptingNewOrders() bool {
	return e.cfg.AcceptingNewOrders()
}

// Sequence returns the last emitted event sequence.
func (e *Engine) Sequence() int64 { return e.seq }

// PoolOverview is the queryable summary of one asset pool.
type PoolOverview struct {
	Token              string `json:"token"`
	BaseBacking        string `json:"base_backing"`
	SafetyBacking      string `json:"safety_backing"`
	TotalDebt          string `json:"total_debt"`
	BadDebt            string `json:"bad_debt"`
	AvailableLiquidity string `json:"available_liquidity"`
	Utilization        uint64 `json:"utilization"`
	InterestRate       uint64 `json:"interest_rate"`
}

// Overview summarizes the asset's pool state for the query API.
func (e *Engine) Overview(token asset.Token) PoolOverview {
	p := e.pools.Pool(token)
	util := p.Utilization()
	return PoolOverview{
		Token:              string(token),
		BaseBacking:        p.EffectiveBacking(pool.TierBase).Dec(),
		SafetyBacking:      p.EffectiveBacking(pool.TierSafetyModule).Dec(),
		TotalDebt:          p.TotalDebt().Dec(),
		BadDebt:            p.BadDebt().Dec(),
		AvailableLiquidity: p.AvailableLiquidity().Dec(),
		Utilization:        util,
		InterestRate:       e.cfg.InterestParams(token).RateAt(util),
	}
}

// Overviews summarizes every pool the engine has touched, in token order.
func (e *Engine) Overviews() []PoolOverview {
	tokens := e.pools.Tokens()
	out := make([]PoolOverview, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, e.Overview(tok))
	}
	return out
}
