package config

import (
	"fmt"
	"time"

	"MarginVault/internal/asset"
	vmath "MarginVault/internal/math"

	"github.com/google/uuid"
)

// MarketKey identifies a tradable pair: positions borrow DebtToken and hold
// PositionToken.
type MarketKey struct {
	DebtToken     asset.Token `json:"debt_token"`
	PositionToken asset.Token `json:"position_token"`
}

// Market holds the admin-set risk limits of one pair.
type Market struct {
	MaxLeverage            uint64 `json:"max_leverage"`
	LiquidationSlippageBps uint64 `json:"liquidation_slippage_bps"`
	Enabled                bool   `json:"enabled"`
}

// Fees is the global fee schedule, all at BpsScale.
type Fees struct {
	TradeOpenFeeBps              uint64 `json:"trade_open_fee_bps"`
	LiquidationPenaltyBps        uint64 `json:"liquidation_penalty_bps"`
	SafetyModuleInterestShareBps uint64 `json:"safety_module_interest_share_bps"`
	TradingFeeLpShareBps         uint64 `json:"trading_fee_lp_share_bps"`
}

// Store is the admin configuration surface the engine reads. The engine never
// writes it except through the bad-debt circuit breaker.
type Store struct {
	markets            map[MarketKey]Market
	fees               Fees
	interest           map[asset.Token]vmath.InterestParams
	cooldown           time.Duration
	acceptingNewOrders bool
	orderCallers       map[uuid.UUID]bool
	delegates          map[uuid.UUID]map[uuid.UUID]bool
	feeReceiver        uuid.UUID
}

func NewStore() *Store {
	return &Store{
		markets:            make(map[MarketKey]Market),
		interest:           make(map[asset.Token]vmath.InterestParams),
		acceptingNewOrders: true,
		orderCallers:       make(map[uuid.UUID]bool),
		delegates:          make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

// --- markets ---

// ValidateMarket checks that market risk limits are within valid ranges:
// max_leverage > 0, liquidation_slippage_bps <= BpsScale.
func ValidateMarket(m Market) error {
	if m.MaxLeverage == 0 {
		return fmt.Errorf("max_leverage must be > 0, got %d", m.MaxLeverage)
	}
	if m.LiquidationSlippageBps > vmath.BpsScale {
		return fmt.Errorf("liquidation_slippage_bps must be <= %d, got %d", vmath.BpsScale, m.LiquidationSlippageBps)
	}
	return nil
}

func (s *Store) SetMarket(key MarketKey, m Market) error {
	if err := ValidateMarket(m); err != nil {
		return fmt.Errorf("invalid market %s/%s: %w", key.DebtToken, key.PositionToken, err)
	}
	s.markets[key] = m
	return nil
}

func (s *Store) Market(key MarketKey) (Market, bool) {
	m, ok := s.markets[key]
	return m, ok
}

// Markets returns a copy of the full market table.
func (s *Store) Markets() map[MarketKey]Market {
	out := make(map[MarketKey]Market, len(s.markets))
	for k, v := range s.markets {
		out[k] = v
	}
	return out
}

// --- fees ---

// ValidateFees checks that every rate in the schedule is at most BpsScale.
func ValidateFees(f Fees) error {
	if f.TradeOpenFeeBps > vmath.BpsScale {
		return fmt.Errorf("trade_open_fee_bps must be <= %d, got %d", vmath.BpsScale, f.TradeOpenFeeBps)
	}
	if f.LiquidationPenaltyBps > vmath.BpsScale {
		return fmt.Errorf("liquidation_penalty_bps must be <= %d, got %d", vmath.BpsScale, f.LiquidationPenaltyBps)
	}
	if f.SafetyModuleInterestShareBps > vmath.BpsScale {
		return fmt.Errorf("safety_module_interest_share_bps must be <= %d, got %d", vmath.BpsScale, f.SafetyModuleInterestShareBps)
	}
	if f.TradingFeeLpShareBps > vmath.BpsScale {
		return fmt.Errorf("trading_fee_lp_share_bps must be <= %d, got %d", vmath.BpsScale, f.TradingFeeLpShareBps)
	}
	return nil
}

func (s *Store) SetFees(f Fees) error {
	if err := ValidateFees(f); err != nil {
		return fmt.Errorf("invalid fee schedule: %w", err)
	}
	s.fees = f
	return nil
}

func (s *Store) Fees() Fees { return s.fees }

// --- interest curve params ---

// SetInterestParams overrides the curve for one asset. Zero params clear the
// override.
func (s *Store) SetInterestParams(token asset.Token, p vmath.InterestParams) {
	if p.Zero() {
		delete(s.interest, token)
		return
	}
	s.interest[token] = p
}

// InterestParams returns the asset's curve, falling back to the global
// default when unset.
func (s *Store) InterestParams(token asset.Token) vmath.InterestParams {
	if p, ok := s.interest[token]; ok {
		return p
	}
	return vmath.DefaultInterestParams()
}

// --- withdrawal cooldown ---

func (s *Store) SetCooldown(d time.Duration) { s.cooldown = d }
func (s *Store) Cooldown() time.Duration     { return s.cooldown }

// --- circuit breaker ---

func (s *Store) SetAcceptingNewOrders(v bool) { s.acceptingNewOrders = v }
func (s *Store) AcceptingNewOrders() bool     { return s.acceptingNewOrders }

// --- caller whitelist & delegates ---

// SetOrderCaller whitelists (or removes) a caller allowed to run order
// management operations, liquidations included.
func (s *Store) SetOrderCaller(caller uuid.UUID, allowed bool) {
	if allowed {
		s.orderCallers[caller] = true
	} else {
		delete(s.orderCallers, caller)
	}
}

func (s *Store) IsOrderCaller(caller uuid.UUID) bool {
	return s.orderCallers[caller]
}

// SetDelegate grants or revokes an agent's right to act on the owner's
// account.
func (s *Store) SetDelegate(owner, agent uuid.UUID, allowed bool) {
	m, ok := s.delegates[owner]
	if !ok {
		if !allowed {
			return
		}
		m = make(map[uuid.UUID]bool)
		s.delegates[owner] = m
	}
	if allowed {
		m[agent] = true
	} else {
		delete(m, agent)
	}
}

func (s *Store) IsDelegate(owner, agent uuid.UUID) bool {
	return s.delegates[owner][agent]
}

// --- protocol fee receiver ---

func (s *Store) SetFeeReceiver(account uuid.UUID) { s.feeReceiver = account }
func (s *Store) FeeReceiver() uuid.UUID           { return s.feeReceiver }
