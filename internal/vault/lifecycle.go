package vault

import (
	"fmt"

	"MarginVault/internal/asset"
	"MarginVault/internal/config"
	"MarginVault/internal/event"
	vmath "MarginVault/internal/math"
	"MarginVault/internal/swap"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// OpenPosition borrows debtAmount against marginAmount of free margin, swaps
// the combined exposure into positionToken and records the position. Returns
// the position uid and the amount bought.
func (e *Engine) OpenPosition(caller, account uuid.UUID, positionToken asset.Token, minPositionOut *uint256.Int, debtToken asset.Token, debtAmount, marginAmount *uint256.Int, path []asset.Token) (uuid.UUID, *uint256.Int, error) {
	const op = "open_position"

	if err := e.authorizeOrder(caller, account); err != nil {
		return uuid.Nil, nil, e.reject(op, err)
	}
	if !e.cfg.AcceptingNewOrders() {
		return uuid.Nil, nil, e.reject(op, ErrNotAcceptingOrders)
	}
	market, ok := e.cfg.Market(config.MarketKey{DebtToken: debtToken, PositionToken: positionToken})
	if !ok || !market.Enabled {
		return uuid.Nil, nil, e.reject(op, ErrMarketDisabled)
	}
	if marginAmount.IsZero() {
		return uuid.Nil, nil, e.reject(op, ErrZeroAmount)
	}

	exposure := new(uint256.Int).Add(marginAmount, debtAmount)
	fee := vmath.ApplyBps(exposure, e.cfg.Fees().TradeOpenFeeBps)
	need := new(uint256.Int).Add(marginAmount, fee)
	if e.margin.Balance(account, debtToken).Lt(need) {
		return uuid.Nil, nil, e.reject(op, ErrInsufficientMargin)
	}

	if Leverage(exposure, debtAmount, marginAmount) > market.MaxLeverage {
		return uuid.Nil, nil, e.reject(op, fmt.Errorf("cannot open liquidatable position: %w", ErrExceedsMaxLeverage))
	}

	p := e.pools.Pool(debtToken)
	if debtAmount.Gt(p.AvailableLiquidity()) {
		return uuid.Nil, nil, e.reject(op, ErrInsufficientLiquidity)
	}

	if err := swap.ValidatePath(debtToken, positionToken, path); err != nil {
		return uuid.Nil, nil, e.reject(op, err)
	}
	bought, err := e.router.Swap(debtToken, positionToken, exposure, minPositionOut, path)
	if err != nil {
		if e.metrics != nil {
			e.metrics.SwapFailures.WithLabelValues(string(debtToken), string(positionToken), rejectReason(err)).Inc()
		}
		return uuid.Nil, nil, e.reject(op, err)
	}

	// commit
	now := e.now()
	e.margin.Debit(account, debtToken, need)
	e.accrue(debtToken, now)

	debtShares := new(uint256.Int)
	if !debtAmount.IsZero() {
		debtShares = p.Borrow(debtAmount)
	}

	uid := uuid.New()
	pos := &Position{
		UID:            uid,
		Account:        account,
		DebtToken:      debtToken,
		MarginAmount:   new(uint256.Int).Set(marginAmount),
		DebtShares:     debtShares,
		PositionToken:  positionToken,
		PositionAmount: new(uint256.Int).Set(bought),
		OpenedAt:       now,
	}
	e.positions[uid] = pos

	split := e.fees.Distribute(debtToken, fee)

	if e.metrics != nil {
		e.metrics.OpenPositions.Set(float64(len(e.positions)))
	}
	e.updatePoolMetrics(debtToken)
	e.applied(op)

	e.log.Info().
		Str("uid", uid.String()).
		Str("account", account.String()).
		Str("debt_token", string(debtToken)).
		Str("position_token", string(positionToken)).
		Str("margin", marginAmount.Dec()).
		Str("debt", debtAmount.Dec()).
		Str("bought", bought.Dec()).
		Msg("position opened")

	e.emit(event.TypePositionOpened, account, debtToken, event.PositionOpened{
		PositionID:     uid,
		DebtToken:      string(debtToken),
		PositionToken:  string(positionToken),
		MarginAmount:   marginAmount.Dec(),
		DebtAmount:     debtAmount.Dec(),
		DebtShares:     debtShares.Dec(),
		PositionAmount: bought.Dec(),
		OpenFee:        fee.Dec(),
	})
	if !fee.IsZero() {
		e.emit(event.TypeFeeDistributed, account, debtToken, event.FeeDistributed{
			Source:      "trade_open",
			Total:       split.Total.Dec(),
			BaseShare:   split.Base.Dec(),
			SafetyShare: split.SafetyModule.Dec(),
			Receiver:    split.Receiver.Dec(),
		})
	}
	return uid, bought, nil
}

// AddMargin moves free margin into the position's margin.
func (e *Engine) AddMargin(caller uuid.UUID, uid uuid.UUID, amount *uint256.Int) error {
	const op = "add_margin"
	pos, ok := e.positions[uid]
	if !ok {
		return e.reject(op, ErrPositionNotFound)
	}
	if err := e.authorizeAccount(caller, pos.Account); err != nil {
		return e.reject(op, err)
	}
	if amount.IsZero() {
		return e.reject(op, ErrZeroAmount)
	}
	if !e.margin.Debit(pos.Account, pos.DebtToken, amount) {
		return e.reject(op, ErrInsufficientMargin)
	}

	pos.MarginAmount.Add(pos.MarginAmount, amount)
	e.applied(op)
	e.emit(event.TypeMarginAdded, pos.Account, pos.DebtToken, event.MarginAdded{PositionID: uid, Amount: amount.Dec()})
	return nil
}

// RemoveMargin moves position margin back to free margin, provided the
// remaining equity keeps the position within the market's leverage limit.
func (e *Engine) RemoveMargin(caller uuid.UUID, uid uuid.UUID, amount *uint256.Int) error {
	const op = "remove_margin"
	pos, ok := e.positions[uid]
	if !ok {
		return e.reject(op, ErrPositionNotFound)
	}
	if err := e.authorizeAccount(caller, pos.Account); err != nil {
		return e.reject(op, err)
	}
	if amount.IsZero() {
		return e.reject(op, ErrZeroAmount)
	}
	if amount.Gt(pos.MarginAmount) {
		return e.reject(op, ErrInsufficientMargin)
	}
	market, ok := e.cfg.Market(config.MarketKey{DebtToken: pos.DebtToken, PositionToken: pos.PositionToken})
	if !ok {
		return e.reject(op, ErrMarketDisabled)
	}

	posValue, debtValue, err := e.positionValues(pos)
	if err != nil {
		return e.reject(op, fmt.Errorf("%w: %v", ErrOracle, err))
	}
	remaining := new(uint256.Int).Sub(pos.MarginAmount, amount)
	remainingValue, err := e.oracle.USDValue(pos.DebtToken, remaining)
	if err != nil {
		return e.reject(op, fmt.Errorf("%w: %v", ErrOracle, err))
	}
	if Leverage(posValue, debtValue, remainingValue) > market.MaxLeverage {
		return e.reject(op, ErrExceedsMaxLeverage)
	}

	pos.MarginAmount.Set(remaining)
	e.margin.Credit(pos.Account, pos.DebtToken, amount)
	e.applied(op)
	e.emit(event.TypeMarginRemoved, pos.Account, pos.DebtToken, event.MarginRemoved{PositionID: uid, Amount: amount.Dec()})
	return nil
}

// ReducePosition sells part of the position and repays the matching fraction
// of its debt. Margin and debt shares shrink by sellAmount/positionAmount;
// any surplus of proceeds over the repaid debt stays in the vault until final
// close.
func (e *Engine) ReducePosition(caller uuid.UUID, uid uuid.UUID, sellAmount, minDebtOut *uint256.Int, path []asset.Token) error {
	const op = "reduce_position"
	pos, ok := e.positions[uid]
	if !ok {
		return e.reject(op, ErrPositionNotFound)
	}
	if err := e.authorizeAccount(caller, pos.Account); err != nil {
		return e.reject(op, err)
	}
	if sellAmount.IsZero() {
		return e.reject(op, ErrZeroAmount)
	}
	if sellAmount.Gt(pos.PositionAmount) {
		return e.reject(op, ErrInsufficientShares)
	}
	if err := swap.ValidatePath(pos.PositionToken, pos.DebtToken, path); err != nil {
		return e.reject(op, err)
	}

	proceeds, err := e.router.Swap(pos.PositionToken, pos.DebtToken, sellAmount, minDebtOut, path)
	if err != nil {
		if e.metrics != nil {
			e.metrics.SwapFailures.WithLabelValues(string(pos.PositionToken), string(pos.DebtToken), rejectReason(err)).Inc()
		}
		return e.reject(op, err)
	}

	// commit
	now := e.now()
	e.accrue(pos.DebtToken, now)
	p := e.pools.Pool(pos.DebtToken)

	f := vmath.Fraction(sellAmount, pos.PositionAmount)
	sharesBurned := vmath.ScaleByFraction(pos.DebtShares, f)
	marginCut := vmath.ScaleByFraction(pos.MarginAmount, f)
	repaid := p.DebtSharesToAmount(sharesBurned)
	p.Repay(sharesBurned, repaid)

	pos.DebtShares.Sub(pos.DebtShares, sharesBurned)
	pos.MarginAmount.Sub(pos.MarginAmount, marginCut)
	pos.PositionAmount.Sub(pos.PositionAmount, sellAmount)
	if pos.PositionAmount.IsZero() {
		delete(e.positions, uid)
		if e.metrics != nil {
			e.metrics.OpenPositions.Set(float64(len(e.positions)))
		}
	}

	e.updatePoolMetrics(pos.DebtToken)
	e.applied(op)
	e.emit(event.TypePositionReduced, pos.Account, pos.DebtToken, event.PositionReduced{
		PositionID:     uid,
		SellAmount:     sellAmount.Dec(),
		Proceeds:       proceeds.Dec(),
		DebtRepaid:     repaid.Dec(),
		SharesBurned:   sharesBurned.Dec(),
		MarginReleased: marginCut.Dec(),
	})
	return nil
}

// ClosePosition sells the whole position, repays its debt and credits the
// remainder to the account's free margin. A shortfall of proceeds against
// debt is recognized as bad debt and trips the new-order circuit breaker.
func (e *Engine) ClosePosition(caller uuid.UUID, uid uuid.UUID, minDebtOut *uint256.Int, path []asset.Token) (*uint256.Int, error) {
	const op = "close_position"
	pos, ok := e.positions[uid]
	if !ok {
		return nil, e.reject(op, ErrPositionNotFound)
	}
	if err := e.authorizeAccount(caller, pos.Account); err != nil {
		return nil, e.reject(op, err)
	}
	if err := swap.ValidatePath(pos.PositionToken, pos.DebtToken, path); err != nil {
		return nil, e.reject(op, err)
	}

	proceeds, err := e.router.Swap(pos.PositionToken, pos.DebtToken, pos.PositionAmount, minDebtOut, path)
	if err != nil {
		if e.metrics != nil {
			e.metrics.SwapFailures.WithLabelValues(string(pos.PositionToken), string(pos.DebtToken), rejectReason(err)).Inc()
		}
		return nil, e.reject(op, err)
	}

	credit := e.settle(pos, proceeds, nil)
	e.applied(op)
	return credit, nil
}

// Liquidate force-closes a position past its market's leverage limit. Only
// whitelisted order-management callers may liquidate; the router's minimum
// output is pinned to the oracle quote less the market's slippage allowance.
func (e *Engine) Liquidate(caller uuid.UUID, uid uuid.UUID, path []asset.Token) error {
	const op = "liquidate"
	if !e.cfg.IsOrderCaller(caller) {
		return e.reject(op, ErrUnauthorized)
	}
	pos, ok := e.positions[uid]
	if !ok {
		return e.reject(op, ErrPositionNotFound)
	}
	market, ok := e.cfg.Market(config.MarketKey{DebtToken: pos.DebtToken, PositionToken: pos.PositionToken})
	if !ok {
		return e.reject(op, ErrMarketDisabled)
	}

	posValue, debtValue, err := e.positionValues(pos)
	if err != nil {
		return e.reject(op, fmt.Errorf("%w: %v", ErrOracle, err))
	}
	if Leverage(posValue, debtValue, nil) <= market.MaxLeverage {
		return e.reject(op, ErrNotLiquidatable)
	}

	quote, err := e.oracle.Quote(pos.PositionToken, pos.DebtToken, pos.PositionAmount)
	if err != nil {
		return e.reject(op, fmt.Errorf("%w: %v", ErrOracle, err))
	}
	minOut := vmath.ApplyBps(quote, vmath.BpsScale-market.LiquidationSlippageBps)

	if err := swap.ValidatePath(pos.PositionToken, pos.DebtToken, path); err != nil {
		return e.reject(op, err)
	}
	proceeds, err := e.router.Swap(pos.PositionToken, pos.DebtToken, pos.PositionAmount, minOut, path)
	if err != nil {
		if e.metrics != nil {
			e.metrics.SwapFailures.WithLabelValues(string(pos.PositionToken), string(pos.DebtToken), rejectReason(err)).Inc()
		}
		return e.reject(op, err)
	}

	e.settle(pos, proceeds, &caller)
	if e.metrics != nil {
		e.metrics.LiquidationsExecuted.WithLabelValues(string(pos.DebtToken), string(pos.PositionToken)).Inc()
	}
	e.applied(op)
	return nil
}

// settle is the shared commit path of close and liquidation. liquidator is
// nil for a voluntary close. Returns the amount credited to the account.
func (e *Engine) settle(pos *Position, proceeds *uint256.Int, liquidator *uuid.UUID) *uint256.Int {
	now := e.now()
	e.accrue(pos.DebtToken, now)
	p := e.pools.Pool(pos.DebtToken)

	debtValue := p.DebtSharesToAmount(pos.DebtShares)
	credit := new(uint256.Int)
	penalty := new(uint256.Int)
	shortfall := new(uint256.Int)

	if proceeds.Lt(debtValue) {
		// shortfall: burn all shares, repay what proceeds cover, socialize
		// the rest and stop accepting new orders
		shortfall.Sub(debtValue, proceeds)
		p.Repay(pos.DebtShares, proceeds)
		p.AddBadDebt(shortfall)
		e.cfg.SetAcceptingNewOrders(false)

		if e.metrics != nil {
			e.metrics.LiquidationShortfall.WithLabelValues(string(pos.DebtToken)).Inc()
			e.metrics.AcceptingOrders.Set(0)
		}
		e.log.Warn().
			Str("uid", pos.UID.String()).
			Str("shortfall", shortfall.Dec()).
			Msg("bad debt recognized, new orders disabled")
		e.emit(event.TypeBadDebtRecognized, pos.Account, pos.DebtToken, event.BadDebtRecognized{
			PositionID: pos.UID,
			Amount:     shortfall.Dec(),
		})
	} else {
		p.Repay(pos.DebtShares, debtValue)
		surplus := new(uint256.Int).Sub(proceeds, debtValue)

		if liquidator != nil {
			penalty = vmath.ApplyBps(debtValue, e.cfg.Fees().LiquidationPenaltyBps)
			if penalty.Gt(surplus) {
				penalty.Set(surplus)
			}
			if !penalty.IsZero() {
				e.margin.Credit(e.cfg.FeeReceiver(), pos.DebtToken, penalty)
				if e.metrics != nil && penalty.IsUint64() {
					e.metrics.LiquidationPenalty.WithLabelValues(string(pos.DebtToken)).Add(float64(penalty.Uint64()))
				}
			}
		}
		credit.Sub(surplus, penalty)
		if !credit.IsZero() {
			e.margin.Credit(pos.Account, pos.DebtToken, credit)
		}
	}

	delete(e.positions, pos.UID)
	if e.metrics != nil {
		e.metrics.OpenPositions.Set(float64(len(e.positions)))
	}
	e.updatePoolMetrics(pos.DebtToken)

	if liquidator != nil {
		e.emit(event.TypePositionLiquidated, pos.Account, pos.DebtToken, event.PositionLiquidated{
			PositionID:   pos.UID,
			Liquidator:   *liquidator,
			Proceeds:     proceeds.Dec(),
			DebtValue:    debtValue.Dec(),
			Penalty:      penalty.Dec(),
			MarginCredit: credit.Dec(),
			Shortfall:    shortfall.Dec(),
		})
	} else {
		e.emit(event.TypePositionClosed, pos.Account, pos.DebtToken, event.PositionClosed{
			PositionID:   pos.UID,
			Proceeds:     proceeds.Dec(),
			DebtValue:    debtValue.Dec(),
			MarginCredit: credit.Dec(),
			Shortfall:    shortfall.Dec(),
		})
	}
	return credit
}

// positionValues returns the position's USD value and its debt's USD value,
// interest pending since the last accrual included.
func (e *Engine) positionValues(pos *Position) (*uint256.Int, *uint256.Int, error) {
	posValue, err := e.oracle.USDValue(pos.PositionToken, pos.PositionAmount)
	if err != nil {
		return nil, nil, err
	}
	p := e.pools.Pool(pos.DebtToken)
	debtAmount := e.positionDebtValue(p, pos.DebtToken, pos.DebtShares, e.now())
	debtValue, err := e.oracle.USDValue(pos.DebtToken, debtAmount)
	if err != nil {
		return nil, nil, err
	}
	return posValue, debtValue, nil
}
