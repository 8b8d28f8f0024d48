package vault

import (
	"errors"
	"time"

	"MarginVault/internal/asset"
	"MarginVault/internal/config"
	"MarginVault/internal/event"
	"MarginVault/internal/ledger"
	vmath "MarginVault/internal/math"
	"MarginVault/internal/observability"
	"MarginVault/internal/oracle"
	"MarginVault/internal/pool"
	"MarginVault/internal/swap"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Engine is the vault accounting and risk core. Every operation follows
// check -> external call -> commit: no engine state is mutated before the
// last fallible step has succeeded, so a returned error always means nothing
// changed. The engine carries no locks; callers serialize access.
type Engine struct {
	log      zerolog.Logger
	registry *asset.Registry
	oracle   *oracle.Adapter
	router   swap.Router
	cfg      *config.Store
	pools    *pool.Manager
	margin   *ledger.MarginLedger
	fees     *FeeDistributor

	positions map[uuid.UUID]*Position

	sink    event.Sink
	metrics *observability.Metrics
	now     func() time.Time
	seq     int64
}

func NewEngine(registry *asset.Registry, oracleAdapter *oracle.Adapter, router swap.Router, cfg *config.Store) *Engine {
	pools := pool.NewManager()
	margin := ledger.NewMarginLedger()
	return &Engine{
		log:       observability.NewLogger("vault_engine"),
		registry:  registry,
		oracle:    oracleAdapter,
		router:    router,
		cfg:       cfg,
		pools:     pools,
		margin:    margin,
		fees:      NewFeeDistributor(pools, margin, cfg),
		positions: make(map[uuid.UUID]*Position),
		now:       time.Now,
	}
}

// SetSink attaches the committed-event sink.
func (e *Engine) SetSink(s event.Sink) { e.sink = s }

// SetMetrics attaches Prometheus metrics.
func (e *Engine) SetMetrics(m *observability.Metrics) { e.metrics = m }

// SetClock overrides the engine clock for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Config exposes the admin configuration store the engine reads.
func (e *Engine) Config() *config.Store { return e.cfg }

// --- shared plumbing ---

func (e *Engine) emit(t event.Type, account uuid.UUID, token asset.Token, payload interface{}) {
	e.seq++
	if e.metrics != nil {
		e.metrics.EventSeq.Set(float64(e.seq))
	}
	if e.sink == nil {
		return
	}
	e.sink.Publish(event.Envelope{
		Sequence:  e.seq,
		EventID:   uuid.New(),
		Type:      t,
		Account:   account,
		Token:     string(token),
		Timestamp: e.now(),
		Payload:   payload,
	})
}

func (e *Engine) applied(op string) {
	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
	}
}

func (e *Engine) reject(op string, err error) error {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op, rejectReason(err)).Inc()
	}
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInsufficientMargin):
		return "insufficient_margin"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ErrExceedsMaxLeverage):
		return "exceeds_max_leverage"
	case errors.Is(err, ErrNotLiquidatable):
		return "not_liquidatable"
	case errors.Is(err, ErrCooldown):
		return "cooldown"
	case errors.Is(err, ErrMarketDisabled):
		return "market_disabled"
	case errors.Is(err, ErrNotAcceptingOrders):
		return "not_accepting_orders"
	case errors.Is(err, ErrPositionNotFound):
		return "position_not_found"
	case errors.Is(err, ErrTokenNotWhitelisted):
		return "token_not_whitelisted"
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrOracle):
		return "oracle"
	case errors.Is(err, swap.ErrSlippage):
		return "slippage"
	case errors.Is(err, swap.ErrInvalidPath):
		return "invalid_path"
	case errors.Is(err, oracle.ErrNoPrice), errors.Is(err, oracle.ErrStalePrice), errors.Is(err, oracle.ErrInvalidPrice):
		return "oracle"
	default:
		return "error"
	}
}

// authorizeAccount admits the account owner and approved delegates.
func (e *Engine) authorizeAccount(caller, account uuid.UUID) error {
	if caller == account || e.cfg.IsDelegate(account, caller) {
		return nil
	}
	return ErrUnauthorized
}

// authorizeOrder admits whitelisted order-management callers acting as owner
// or delegate of the account.
func (e *Engine) authorizeOrder(caller, account uuid.UUID) error {
	if !e.cfg.IsOrderCaller(caller) {
		return ErrUnauthorized
	}
	return e.authorizeAccount(caller, account)
}

// accrue commits pending interest on the asset's debt pool and pays it to
// the liquidity tiers. Commit-phase only: callers invoke it after every
// fallible step of their own has passed.
func (e *Engine) accrue(token asset.Token, now time.Time) {
	p := e.pools.Pool(token)
	params := e.cfg.InterestParams(token)
	util := p.Utilization()
	elapsed := int64(0)
	if la := p.LastAccrual(); !la.IsZero() && now.After(la) {
		elapsed = int64(now.Sub(la) / time.Second)
	}

	smShareBps := e.cfg.Fees().SafetyModuleInterestShareBps
	accrued := p.Accrue(params, smShareBps, now)
	if accrued.IsZero() {
		return
	}

	smCut := vmath.ApplyBps(accrued, smShareBps)
	baseCut := new(uint256.Int).Sub(accrued, smCut)

	if e.metrics != nil && accrued.IsUint64() {
		e.metrics.InterestAccrued.WithLabelValues(string(token)).Add(float64(accrued.Uint64()))
	}

	e.log.Debug().
		Str("token", string(token)).
		Str("interest", accrued.Dec()).
		Uint64("utilization", util).
		Int64("elapsed_secs", elapsed).
		Msg("interest accrued")

	e.emit(event.TypeInterestAccrued, uuid.Nil, token, event.InterestAccrued{
		Interest:     accrued.Dec(),
		BaseShare:    baseCut.Dec(),
		SafetyShare:  smCut.Dec(),
		RatePerYear:  params.RateAt(util),
		Utilization:  util,
		ElapsedSecs:  elapsed,
		NewTotalDebt: p.TotalDebt().Dec(),
	})
}

// positionDebtValue values debt shares including interest pending since the
// last accrual.
func (e *Engine) positionDebtValue(p *pool.AssetPool, token asset.Token, shares *uint256.Int, now time.Time) *uint256.Int {
	total := p.DebtWithPending(e.cfg.InterestParams(token), now)
	aps := vmath.AmountPerShare(total, p.TotalDebtShares())
	if aps == nil {
		return new(uint256.Int)
	}
	return vmath.SharesToAmount(shares, aps)
}

func (e *Engine) updatePoolMetrics(token asset.Token) {
	if e.metrics == nil {
		return
	}
	p := e.pools.Pool(token)
	label := string(token)
	e.metrics.PoolUtilization.WithLabelValues(label).Set(float64(p.Utilization()) / float64(vmath.RateScale))
	setGaugeU256(e.metrics.PoolAvailable.WithLabelValues(label), p.AvailableLiquidity())
	setGaugeU256(e.metrics.PoolTotalDebt.WithLabelValues(label), p.TotalDebt())
	setGaugeU256(e.metrics.PoolBadDebt.WithLabelValues(label), p.BadDebt())
	setGaugeU256(e.metrics.PoolTierBacking.WithLabelValues(label, pool.TierBase.String()), p.EffectiveBacking(pool.TierBase))
	setGaugeU256(e.metrics.PoolTierBacking.WithLabelValues(label, pool.TierSafetyModule.String()), p.EffectiveBacking(pool.TierSafetyModule))
}

func setGaugeU256(g interface{ Set(float64) }, v *uint256.Int) {
	if v.IsUint64() {
		g.Set(float64(v.Uint64()))
	}
}

// --- margin account operations ---

// FundAccount credits free margin. It models an inbound token transfer that
// settled before this call, so any caller may fund any account; the
// authorization gate sits on the outbound direction (WithdrawFromAccount).
func (e *Engine) FundAccount(account uuid.UUID, token asset.Token, amount *uint256.Int) error {
	const op = "fund_account"
	if !e.registry.IsWhitelisted(token) {
		return e.reject(op, ErrTokenNotWhitelisted)
	}
	if amount.IsZero() {
		return e.reject(op, ErrZeroAmount)
	}

	e.margin.Credit(account, token, amount)
	e.applied(op)
	e.emit(event.TypeAccountFunded, account, token, event.AccountFunded{Amount: amount.Dec()})
	return nil
}

// WithdrawFromAccount debits free margin back to the account owner.
func (e *Engine) WithdrawFromAccount(caller, account uuid.UUID, token asset.Token, amount *uint256.Int) error {
	const op = "withdraw_from_account"
	if err := e.authorizeAccount(caller, account); err != nil {
		return e.reject(op, err)
	}
	if amount.IsZero() {
		return e.reject(op, ErrZeroAmount)
	}
	if !e.margin.Debit(account, token, amount) {
		return e.reject(op, ErrInsufficientMargin)
	}

	e.applied(op)
	e.emit(event.TypeAccountWithdrawal, account, token, event.AccountWithdrawal{Amount: amount.Dec()})
	return nil
}

// SwapMargin converts free margin between assets through the router.
func (e *Engine) SwapMargin(caller, account uuid.UUID, tokenIn, tokenOut asset.Token, amountIn, minAmountOut *uint256.Int, path []asset.Token) (*uint256.Int, error) {
	const op = "swap_margin"
	if err := e.authorizeAccount(caller, account); err != nil {
		return nil, e.reject(op, err)
	}
	if !e.registry.IsWhitelisted(tokenIn) || !e.registry.IsWhitelisted(tokenOut) {
		return nil, e.reject(op, ErrTokenNotWhitelisted)
	}
	if amountIn.IsZero() {
		return nil, e.reject(op, ErrZeroAmount)
	}
	if e.margin.Balance(account, tokenIn).Lt(amountIn) {
		return nil, e.reject(op, ErrInsufficientMargin)
	}
	if err := swap.ValidatePath(tokenIn, tokenOut, path); err != nil {
		return nil, e.reject(op, err)
	}

	out, err := e.router.Swap(tokenIn, tokenOut, amountIn, minAmountOut, path)
	if err != nil {
		if e.metrics != nil {
			e.metrics.SwapFailures.WithLabelValues(string(tokenIn), string(tokenOut), rejectReason(err)).Inc()
		}
		return nil, e.reject(op, err)
	}

	e.margin.Debit(account, tokenIn, amountIn)
	e.margin.Credit(account, tokenOut, out)

	if e.metrics != nil {
		e.metrics.SwapsExecuted.WithLabelValues(string(tokenIn), string(tokenOut)).Inc()
	}
	e.applied(op)
	e.emit(event.TypeMarginSwapped, account, tokenIn, event.MarginSwapped{
		TokenIn:   string(tokenIn),
		TokenOut:  string(tokenOut),
		AmountIn:  amountIn.Dec(),
		AmountOut: out.Dec(),
	})
	return out, nil
}

// --- liquidity operations ---

// DepositLiquidity moves free margin into a liquidity tier, minting shares
// and starting the depositor's withdrawal cooldown.
func (e *Engine) DepositLiquidity(caller, account uuid.UUID, token asset.Token, tier pool.Tier, amount *uint256.Int) (*uint256.Int, error) {
	const op = "deposit_liquidity"
	if err := e.authorizeAccount(caller, account); err != nil {
		return nil, e.reject(op, err)
	}
	if !e.registry.IsWhitelisted(token) {
		return nil, e.reject(op, ErrTokenNotWhitelisted)
	}
	if amount.IsZero() {
		return nil, e.reject(op, ErrZeroAmount)
	}
	if e.margin.Balance(account, token).Lt(amount) {
		return nil, e.reject(op, ErrInsufficientMargin)
	}

	now := e.now()
	e.accrue(token, now)
	e.margin.Debit(account, token, amount)
	minted := e.pools.Pool(token).Deposit(tier, account, amount, now.Add(e.cfg.Cooldown()))

	e.updatePoolMetrics(token)
	e.applied(op)
	e.emit(event.TypeLiquidityDeposited, account, token, event.LiquidityDeposited{
		Tier:         tier.String(),
		Amount:       amount.Dec(),
		SharesMinted: minted.Dec(),
	})
	return minted, nil
}

// WithdrawLiquidity burns shares for amount and credits it to free margin.
func (e *Engine) WithdrawLiquidity(caller, account uuid.UUID, token asset.Token, tier pool.Tier, amount *uint256.Int) error {
	const op = "withdraw_liquidity"
	if err := e.authorizeAccount(caller, account); err != nil {
		return e.reject(op, err)
	}
	if amount.IsZero() {
		return e.reject(op, ErrZeroAmount)
	}

	now := e.now()
	p := e.pools.Pool(token)
	if until := p.CooldownUntil(tier, account); now.Before(until) {
		return e.reject(op, ErrCooldown)
	}
	if p.SharesToAmount(tier, p.SharesOf(tier, account)).Lt(amount) {
		return e.reject(op, ErrInsufficientShares)
	}
	if amount.Gt(p.AvailableLiquidity()) {
		return e.reject(op, ErrInsufficientLiquidity)
	}

	e.accrue(token, now)
	burned := p.Withdraw(tier, account, amount)
	e.margin.Credit(account, token, amount)

	e.updatePoolMetrics(token)
	e.applied(op)
	e.emit(event.TypeLiquidityWithdrawn, account, token, event.LiquidityWithdrawn{
		Tier:         tier.String(),
		SharesBurned: burned.Dec(),
		AmountOut:    amount.Dec(),
	})
	return nil
}

// AccrueInterest is the explicit accrual entry point; any state-changing
// operation on the asset accrues implicitly.
func (e *Engine) AccrueInterest(token asset.Token) {
	e.accrue(token, e.now())
	e.updatePoolMetrics(token)
}

// RepayBadDebt pays recognized bad debt out of the caller's free margin,
// restoring available liquidity. Returns the amount actually applied.
func (e *Engine) RepayBadDebt(caller, account uuid.UUID, token asset.Token, amount *uint256.Int) (*uint256.Int, error) {
	const op = "repay_bad_debt"
	if err := e.authorizeAccount(caller, account); err != nil {
		return nil, e.reject(op, err)
	}
	if amount.IsZero() {
		return nil, e.reject(op, ErrZeroAmount)
	}

	p := e.pools.Pool(token)
	applied := new(uint256.Int).Set(amount)
	if bad := p.BadDebt(); applied.Gt(bad) {
		applied.Set(bad)
	}
	if applied.IsZero() {
		return new(uint256.Int), nil
	}
	if !e.margin.Debit(account, token, applied) {
		return nil, e.reject(op, ErrInsufficientMargin)
	}
	p.ReduceBadDebt(applied)

	e.updatePoolMetrics(token)
	e.applied(op)
	e.emit(event.TypeBadDebtRepaid, account, token, event.BadDebtRepaid{Amount: applied.Dec()})
	return applied, nil
}
