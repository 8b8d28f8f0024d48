package vault_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"MarginVault/internal/asset"
	"MarginVault/internal/config"
	"MarginVault/internal/event"
	"MarginVault/internal/oracle"
	"MarginVault/internal/pool"
	"MarginVault/internal/swap"
	"MarginVault/internal/testutil"
	"MarginVault/internal/vault"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

const (
	usdc = asset.Token("USDC")
	weth = asset.Token("WETH")

	usdPrice = 1_0000_0000
	ethPrice = 1234_0000_0000
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type harness struct {
	t      *testing.T
	engine *vault.Engine
	router *testutil.FixedRouter
	feed   *testutil.StaticFeed
	cfg    *config.Store

	owner   uuid.UUID
	lp      uuid.UUID
	feeRecv uuid.UUID
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		t:       t,
		owner:   uuid.New(),
		lp:      uuid.New(),
		feeRecv: uuid.New(),
		now:     time.Unix(1_700_000_000, 0).UTC(),
	}

	registry := asset.NewRegistry()
	if err := registry.Whitelist(usdc, 6, "usdc-usd"); err != nil {
		t.Fatalf("whitelist usdc: %v", err)
	}
	if err := registry.Whitelist(weth, 18, "eth-usd"); err != nil {
		t.Fatalf("whitelist weth: %v", err)
	}

	h.feed = testutil.NewStaticFeed()
	h.feed.Set("usdc-usd", usdPrice, h.now)
	h.feed.Set("eth-usd", ethPrice, h.now)

	adapter := oracle.NewAdapter(registry, h.feed, 0)
	adapter.SetClock(func() time.Time { return h.now })

	h.router = testutil.NewFixedRouter()

	h.cfg = config.NewStore()
	h.cfg.SetMarket(config.MarketKey{DebtToken: usdc, PositionToken: weth}, config.Market{
		MaxLeverage:            50,
		LiquidationSlippageBps: 1_00,
		Enabled:                true,
	})
	h.cfg.SetFees(config.Fees{
		LiquidationPenaltyBps:        1_00,
		SafetyModuleInterestShareBps: 60_00,
		TradingFeeLpShareBps:         100_00,
	})
	h.cfg.SetFeeReceiver(h.feeRecv)
	h.cfg.SetOrderCaller(h.owner, true)

	h.engine = vault.NewEngine(registry, adapter, h.router, h.cfg)
	h.engine.SetClock(func() time.Time { return h.now })

	return h
}

func (h *harness) fund(account uuid.UUID, token asset.Token, amount uint64) {
	h.t.Helper()
	if err := h.engine.FundAccount(account, token, u(amount)); err != nil {
		h.t.Fatalf("fund account: %v", err)
	}
}

func (h *harness) provideLiquidity(amount uint64, tier pool.Tier) {
	h.t.Helper()
	h.fund(h.lp, usdc, amount)
	if _, err := h.engine.DepositLiquidity(h.lp, h.lp, usdc, tier, u(amount)); err != nil {
		h.t.Fatalf("deposit liquidity: %v", err)
	}
}

func (h *harness) setETHPrice(v int64) {
	h.feed.Set("eth-usd", v, h.now)
}

// open mirrors the standard fixture: debt in USDC, position in WETH, router
// filling at exactly minOut.
func (h *harness) open(margin, debt uint64, minOut *uint256.Int) uuid.UUID {
	h.t.Helper()
	uid, _, err := h.engine.OpenPosition(h.owner, h.owner, weth, minOut, usdc, u(debt), u(margin), nil)
	if err != nil {
		h.t.Fatalf("open position: %v", err)
	}
	return uid
}

func eq(t *testing.T, got *uint256.Int, want uint64, what string) {
	t.Helper()
	if !got.Eq(u(want)) {
		t.Errorf("%s: got %s, want %d", what, got.Dec(), want)
	}
}

// ============================================================================
// Test: margin accounts
// ============================================================================

func TestFundAccount_CreditsMargin(t *testing.T) {
	h := newHarness(t)
	h.fund(h.owner, usdc, 1_000_000_000)
	eq(t, h.engine.MarginBalance(h.owner, usdc), 1_000_000_000, "margin balance")
}

func TestFundAccount_RejectsUnknownToken(t *testing.T) {
	h := newHarness(t)
	err := h.engine.FundAccount(h.owner, asset.Token("DOGE"), u(1000))
	if !errors.Is(err, vault.ErrTokenNotWhitelisted) {
		t.Errorf("got %v, want ErrTokenNotWhitelisted", err)
	}
}

func TestWithdrawFromAccount(t *testing.T) {
	h := newHarness(t)
	h.fund(h.owner, usdc, 500_000_000)

	if err := h.engine.WithdrawFromAccount(h.owner, h.owner, usdc, u(200_000_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	eq(t, h.engine.MarginBalance(h.owner, usdc), 300_000_000, "margin after withdraw")

	err := h.engine.WithdrawFromAccount(h.owner, h.owner, usdc, u(400_000_000))
	if !errors.Is(err, vault.ErrInsufficientMargin) {
		t.Errorf("overdraw: got %v, want ErrInsufficientMargin", err)
	}
}

func TestWithdrawFromAccount_Unauthorized(t *testing.T) {
	h := newHarness(t)
	h.fund(h.owner, usdc, 500_000_000)

	stranger := uuid.New()
	err := h.engine.WithdrawFromAccount(stranger, h.owner, usdc, u(100))
	if !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestDelegate_CanActOnAccount(t *testing.T) {
	h := newHarness(t)
	h.fund(h.owner, usdc, 500_000_000)

	agent := uuid.New()
	h.cfg.SetDelegate(h.owner, agent, true)

	if err := h.engine.WithdrawFromAccount(agent, h.owner, usdc, u(100_000_000)); err != nil {
		t.Fatalf("delegate withdraw: %v", err)
	}

	h.cfg.SetDelegate(h.owner, agent, false)
	err := h.engine.WithdrawFromAccount(agent, h.owner, usdc, u(100_000_000))
	if !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("revoked delegate: got %v, want ErrUnauthorized", err)
	}
}

func TestSwapMargin(t *testing.T) {
	h := newHarness(t)
	h.fund(h.owner, usdc, 1_000_000_000)

	out, err := h.engine.SwapMargin(h.owner, h.owner, usdc, weth, u(100_000_000), uint256.MustFromDecimal("81000000000000000"), nil)
	if err != nil {
		t.Fatalf("swap margin: %v", err)
	}
	if !out.Eq(uint256.MustFromDecimal("81000000000000000")) {
		t.Errorf("swap out: got %s", out.Dec())
	}
	eq(t, h.engine.MarginBalance(h.owner, usdc), 900_000_000, "usdc margin after swap")
	if !h.engine.MarginBalance(h.owner, weth).Eq(out) {
		t.Errorf("weth margin: got %s, want %s", h.engine.MarginBalance(h.owner, weth).Dec(), out.Dec())
	}
}

// ============================================================================
// Test: liquidity deposits and withdrawals
// ============================================================================

func TestDepositLiquidity_MintsFirstSharesExactly(t *testing.T) {
	h := newHarness(t)
	h.fund(h.lp, usdc, 100_000_000)

	minted, err := h.engine.DepositLiquidity(h.lp, h.lp, usdc, pool.TierBase, u(100_000_000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	want := uint256.MustFromDecimal("100000000000000000000000000") // 100e6 * 1e18
	if !minted.Eq(want) {
		t.Errorf("minted: got %s, want %s", minted.Dec(), want.Dec())
	}
	eq(t, h.engine.MarginBalance(h.lp, usdc), 0, "margin drained into pool")
	eq(t, h.engine.AvailableLiquidity(usdc), 100_000_000, "available liquidity")
}

func TestWithdrawLiquidity_CannotExceedOwnership(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000, pool.TierBase)

	for _, tier := range []pool.Tier{pool.TierBase, pool.TierSafetyModule} {
		err := h.engine.WithdrawLiquidity(h.lp, h.lp, usdc, tier, u(2_000_000_000))
		if !errors.Is(err, vault.ErrInsufficientShares) {
			t.Errorf("tier %s: got %v, want ErrInsufficientShares", tier, err)
		}
	}
}

func TestWithdrawLiquidity_RoundTrip(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000, pool.TierBase)

	if err := h.engine.WithdrawLiquidity(h.lp, h.lp, usdc, pool.TierBase, u(400_000_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	eq(t, h.engine.MarginBalance(h.lp, usdc), 400_000_000, "margin after withdraw")
	eq(t, h.engine.AvailableLiquidity(usdc), 600_000_000, "remaining liquidity")
}

func TestWithdrawLiquidity_Cooldown(t *testing.T) {
	h := newHarness(t)
	h.cfg.SetCooldown(time.Hour)
	h.provideLiquidity(1_000_000_000, pool.TierBase)

	err := h.engine.WithdrawLiquidity(h.lp, h.lp, usdc, pool.TierBase, u(100_000_000))
	if !errors.Is(err, vault.ErrCooldown) {
		t.Fatalf("during cooldown: got %v, want ErrCooldown", err)
	}

	h.now = h.now.Add(time.Hour)
	if err := h.engine.WithdrawLiquidity(h.lp, h.lp, usdc, pool.TierBase, u(100_000_000)); err != nil {
		t.Fatalf("after cooldown: %v", err)
	}
}

func TestWithdrawLiquidity_BlockedByOutstandingDebt(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 100_000_000)
	h.open(100_000_000, 900_000_000, uint256.MustFromDecimal("810000000000000000"))

	// 900e6 is lent out, only 100e6 withdrawable
	err := h.engine.WithdrawLiquidity(h.lp, h.lp, usdc, pool.TierBase, u(200_000_000))
	if !errors.Is(err, vault.ErrInsufficientLiquidity) {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}
	if err := h.engine.WithdrawLiquidity(h.lp, h.lp, usdc, pool.TierBase, u(100_000_000)); err != nil {
		t.Errorf("withdrawing the free remainder: %v", err)
	}
}

// ============================================================================
// Test: open position
// ============================================================================

func TestOpenPosition_RequiresWhitelistedCaller(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 100_000_000)

	stranger := uuid.New()
	_, _, err := h.engine.OpenPosition(stranger, h.owner, weth, u(1), usdc, u(900_000_000), u(100_000_000), nil)
	if !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestOpenPosition_RequiresEnabledMarket(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 100_000_000)

	_, _, err := h.engine.OpenPosition(h.owner, h.owner, usdc, u(1), weth, u(0), u(100), nil)
	if !errors.Is(err, vault.ErrMarketDisabled) {
		t.Errorf("got %v, want ErrMarketDisabled", err)
	}
}

func TestOpenPosition_InsufficientMargin(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 50_000_000)

	_, _, err := h.engine.OpenPosition(h.owner, h.owner, weth, u(1), usdc, u(100_000_000), u(100_000_000), nil)
	if !errors.Is(err, vault.ErrInsufficientMargin) {
		t.Errorf("got %v, want ErrInsufficientMargin", err)
	}
}

func TestOpenPosition_LeverageGate(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 100_000_000)

	// exposure/margin = 510/10 = 51 > max 50
	_, _, err := h.engine.OpenPosition(h.owner, h.owner, weth, u(1), usdc, u(500_000_000), u(10_000_000), nil)
	if !errors.Is(err, vault.ErrExceedsMaxLeverage) {
		t.Fatalf("got %v, want ErrExceedsMaxLeverage", err)
	}
	if !strings.Contains(err.Error(), "cannot open liquidatable position") {
		t.Errorf("error text: %q", err.Error())
	}

	// exposure/margin = 500/10 = 50 is allowed
	if _, _, err := h.engine.OpenPosition(h.owner, h.owner, weth, u(1), usdc, u(490_000_000), u(10_000_000), nil); err != nil {
		t.Errorf("at the limit: %v", err)
	}
}

func TestOpenPosition_InsufficientLiquidity(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(500_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 100_000_000)

	_, _, err := h.engine.OpenPosition(h.owner, h.owner, weth, u(1), usdc, u(900_000_000), u(100_000_000), nil)
	if !errors.Is(err, vault.ErrInsufficientLiquidity) {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}
}

func TestOpenPosition_RecordsPositionAndDebt(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 1_000_000_000)

	minOut := uint256.MustFromDecimal("810000000000000000") // 0.81 WETH
	uid := h.open(100_000_000, 900_000_000, minOut)

	pos, ok := h.engine.GetPosition(uid)
	if !ok {
		t.Fatal("position not found")
	}
	eq(t, pos.MarginAmount, 100_000_000, "position margin")
	if !pos.PositionAmount.Eq(minOut) {
		t.Errorf("position amount: got %s", pos.PositionAmount.Dec())
	}
	wantShares := uint256.MustFromDecimal("900000000000000000000000000") // 900e6 * 1e18
	if !pos.DebtShares.Eq(wantShares) {
		t.Errorf("debt shares: got %s, want %s", pos.DebtShares.Dec(), wantShares.Dec())
	}

	eq(t, h.engine.MarginBalance(h.owner, usdc), 900_000_000, "free margin after open")
	eq(t, h.engine.AvailableLiquidity(usdc), 999_100_000_000, "liquidity after borrow")

	// full exposure goes through the router in one swap
	if len(h.router.Calls) != 1 {
		t.Fatalf("router calls: got %d, want 1", len(h.router.Calls))
	}
	eq(t, h.router.Calls[0].AmountIn, 1_000_000_000, "swap amount in")
}

func TestOpenPosition_FeeChargedAndDistributed(t *testing.T) {
	h := newHarness(t)
	h.cfg.SetFees(config.Fees{
		TradeOpenFeeBps:      10, // 0.10%
		TradingFeeLpShareBps: 80_00,
	})
	h.provideLiquidity(1_000_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 1_000_000_000)
	availableBefore := h.engine.AvailableLiquidity(usdc)

	h.open(100_000_000, 900_000_000, uint256.MustFromDecimal("810000000000000000"))

	// fee = 1000e6 * 10/1e4 = 1e6, debited on top of margin
	eq(t, h.engine.MarginBalance(h.owner, usdc), 899_000_000, "free margin after open with fee")

	// 80% of the fee lands in the pools, raising available liquidity
	want := new(uint256.Int).Sub(availableBefore, u(900_000_000))
	want.Add(want, u(800_000))
	if !h.engine.AvailableLiquidity(usdc).Eq(want) {
		t.Errorf("available liquidity: got %s, want %s", h.engine.AvailableLiquidity(usdc).Dec(), want.Dec())
	}

	// remainder accrues to the protocol fee receiver
	eq(t, h.engine.MarginBalance(h.feeRecv, usdc), 200_000, "fee receiver share")
}

func TestOpenPosition_CircuitBreakerBlocks(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 100_000_000)
	h.cfg.SetAcceptingNewOrders(false)

	_, _, err := h.engine.OpenPosition(h.owner, h.owner, weth, u(1), usdc, u(900_000_000), u(100_000_000), nil)
	if !errors.Is(err, vault.ErrNotAcceptingOrders) {
		t.Errorf("got %v, want ErrNotAcceptingOrders", err)
	}
}

// ============================================================================
// Test: effective leverage
// ============================================================================

func TestEffectiveLeverage_TracksOraclePrice(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 100_000_000)

	// margin 10, debt 90, position 0.081 WETH at 1234 -> $99.954
	uid := h.open(10_000_000, 90_000_000, uint256.MustFromDecimal("81000000000000000"))

	lev, err := h.engine.EffectiveLeverage(uid)
	if err != nil {
		t.Fatalf("leverage: %v", err)
	}
	if lev != 10 {
		t.Errorf("leverage at 1234: got %d, want 10", lev)
	}

	h.setETHPrice(1133_0000_0000)
	lev, err = h.engine.EffectiveLeverage(uid)
	if err != nil {
		t.Fatalf("leverage: %v", err)
	}
	if lev != 51 {
		t.Errorf("leverage at 1133: got %d, want 51", lev)
	}
}

func TestLeverage_FloorsAgainstEquity(t *testing.T) {
	cases := []struct {
		name     string
		position uint64
		debt     uint64
		want     uint64
	}{
		{"reference point", 950, 900, 19},
		{"round ratio", 1000, 900, 10},
		{"floors down", 949, 900, 19}, // 949/49 = 19.36...
	}
	for _, tc := range cases {
		got := vault.Leverage(u(tc.position), u(tc.debt), nil)
		if got != tc.want {
			t.Errorf("%s: leverage(%d, %d): got %d, want %d", tc.name, tc.position, tc.debt, got, tc.want)
		}
	}

	if got := vault.Leverage(u(950), u(900), u(100)); got != 9 {
		t.Errorf("explicit margin: got %d, want 9", got)
	}
}

// ============================================================================
// Test: add / remove margin
// ============================================================================

func TestAddMargin(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 1_000_000_000)
	uid := h.open(100_000_000, 900_000_000, uint256.MustFromDecimal("810000000000000000"))
	freeBefore := h.engine.MarginBalance(h.owner, usdc)

	if err := h.engine.AddMargin(h.owner, uid, u(100_000_000)); err != nil {
		t.Fatalf("add margin: %v", err)
	}

	pos, _ := h.engine.GetPosition(uid)
	eq(t, pos.MarginAmount, 200_000_000, "position margin after add")
	want := new(uint256.Int).Sub(freeBefore, u(100_000_000))
	if !h.engine.MarginBalance(h.owner, usdc).Eq(want) {
		t.Errorf("free margin: got %s, want %s", h.engine.MarginBalance(h.owner, usdc).Dec(), want.Dec())
	}
}

func TestRemoveMargin(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 1_000_000_000)
	uid := h.open(100_000_000, 900_000_000, uint256.MustFromDecimal("1000000000000000000"))

	if err := h.engine.RemoveMargin(h.owner, uid, u(10_000_000)); err != nil {
		t.Fatalf("remove margin: %v", err)
	}
	pos, _ := h.engine.GetPosition(uid)
	eq(t, pos.MarginAmount, 90_000_000, "position margin after remove")
}

func TestRemoveMargin_CannotExceedPositionMargin(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 1_000_000_000)
	uid := h.open(100_000_000, 900_000_000, uint256.MustFromDecimal("1000000000000000000"))

	err := h.engine.RemoveMargin(h.owner, uid, u(110_000_000))
	if !errors.Is(err, vault.ErrInsufficientMargin) {
		t.Errorf("got %v, want ErrInsufficientMargin", err)
	}
}

func TestRemoveMargin_LeverageGate(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 1_000_000_000)

	// 1 WETH position, margin 100, debt 900
	uid := h.open(100_000_000, 900_000_000, uint256.MustFromDecimal("1000000000000000000"))

	// at $910 the position is worth 910 against 900 debt; keeping only 10 of
	// margin would put leverage at 910/10 = 91 > 50
	h.setETHPrice(910_0000_0000)
	err := h.engine.RemoveMargin(h.owner, uid, u(90_000_000))
	if !errors.Is(err, vault.ErrExceedsMaxLeverage) {
		t.Errorf("got %v, want ErrExceedsMaxLeverage", err)
	}
}

// ============================================================================
// Test: reduce position
// ============================================================================

func TestReducePosition(t *testing.T) {
	h := newHarness(t)
	h.setETHPrice(9300_0000_0000)
	h.provideLiquidity(1_000_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 10_000_000_000)

	uid := h.open(300_000_000, 9_000_000_000, uint256.MustFromDecimal("1000000000000000000"))

	sell := uint256.MustFromDecimal("333333333333333333") // a third
	if err := h.engine.ReducePosition(h.owner, uid, sell, u(3_100_000_000), nil); err != nil {
		t.Fatalf("reduce: %v", err)
	}

	pos, ok := h.engine.GetPosition(uid)
	if !ok {
		t.Fatal("position gone after partial reduce")
	}
	if !pos.PositionAmount.Eq(uint256.MustFromDecimal("666666666666666667")) {
		t.Errorf("position amount: got %s", pos.PositionAmount.Dec())
	}
	// a third of margin and debt shares released
	eq(t, pos.MarginAmount, 200_000_001, "margin after reduce")
	if !pos.DebtShares.Eq(uint256.MustFromDecimal("6000000000000000003000000000")) {
		t.Errorf("debt shares: got %s", pos.DebtShares.Dec())
	}

	debt, err := h.engine.DebtOf(uid)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	eq(t, debt, 6_000_000_000, "debt after reduce")
}

func TestReducePosition_FullSellRemovesPosition(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 1_000_000_000)
	uid := h.open(100_000_000, 900_000_000, uint256.MustFromDecimal("810000000000000000"))

	if err := h.engine.ReducePosition(h.owner, uid, uint256.MustFromDecimal("810000000000000000"), u(900_000_000), nil); err != nil {
		t.Fatalf("full reduce: %v", err)
	}
	if _, ok := h.engine.GetPosition(uid); ok {
		t.Error("position should be removed after selling all of it")
	}
	eq(t, h.engine.AvailableLiquidity(usdc), 1_000_000_000_000, "debt fully repaid")
}

// ============================================================================
// Test: close position
// ============================================================================

func TestClosePosition_InProfitCreditsMarginAndPnL(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 1_000_000_000)
	uid := h.open(15_000_000, 150_000_000, u(123))
	afterOpen := h.engine.MarginBalance(h.owner, usdc)

	// proceeds 250 against 150 debt: margin 15 plus 85 profit come back
	credit, err := h.engine.ClosePosition(h.owner, uid, u(250_000_000), nil)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	eq(t, credit, 100_000_000, "close credit")

	want := new(uint256.Int).Add(afterOpen, u(100_000_000))
	if !h.engine.MarginBalance(h.owner, usdc).Eq(want) {
		t.Errorf("margin after close: got %s, want %s", h.engine.MarginBalance(h.owner, usdc).Dec(), want.Dec())
	}
	if _, ok := h.engine.GetPosition(uid); ok {
		t.Error("position should be zeroed after close")
	}
}

func TestClosePosition_InLossCreditsRemainder(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 1_000_000_000)
	uid := h.open(15_000_000, 150_000_000, u(123))

	// proceeds 155 against 150 debt: 10 of the 15 margin is lost
	credit, err := h.engine.ClosePosition(h.owner, uid, u(155_000_000), nil)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	eq(t, credit, 5_000_000, "close credit in loss")
}

func TestClosePosition_ZeroProceedsRecordsBadDebt(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 1_000_000_000)
	uid := h.open(15_000_000, 150_000_000, u(123))

	if !h.engine.AcceptingNewOrders() {
		t.Fatal("should be accepting orders before the event")
	}

	credit, err := h.engine.ClosePosition(h.owner, uid, u(0), nil)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	eq(t, credit, 0, "no credit on shortfall")
	eq(t, h.engine.BadDebt(usdc), 150_000_000, "full debt recognized as bad debt")

	if h.engine.AcceptingNewOrders() {
		t.Error("circuit breaker should disable new orders")
	}

	// and new opens are now rejected
	h.fund(h.owner, usdc, 100_000_000)
	_, _, err = h.engine.OpenPosition(h.owner, h.owner, weth, u(1), usdc, u(0), u(10_000_000), nil)
	if !errors.Is(err, vault.ErrNotAcceptingOrders) {
		t.Errorf("got %v, want ErrNotAcceptingOrders", err)
	}
}

func TestBadDebt_ReducesEffectiveBacking(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(500_000_000_000, pool.TierSafetyModule)
	h.provideLiquidity(1_000_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 600_000_000_000)

	// force a shortfall of the full 250e9 debt
	uid := h.open(250_000_000_000, 250_000_000_000, u(1))
	if _, err := h.engine.ClosePosition(h.owner, uid, u(0), nil); err != nil {
		t.Fatalf("close: %v", err)
	}
	eq(t, h.engine.BadDebt(usdc), 250_000_000_000, "bad debt")

	// the safety module absorbs the whole loss, base untouched
	ov := h.engine.Overview(usdc)
	if ov.SafetyBacking != "250000000000" {
		t.Errorf("safety backing: got %s, want 250000000000", ov.SafetyBacking)
	}
	if ov.BaseBacking != "1000000000000" {
		t.Errorf("base backing: got %s, want 1000000000000", ov.BaseBacking)
	}
}

// ============================================================================
// Test: liquidation
// ============================================================================

func liquidationFixture(t *testing.T) (*harness, uuid.UUID) {
	t.Helper()
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 1_000_000_000)

	// margin 10, debt 90, 0.081 WETH at 1234
	uid := h.open(10_000_000, 90_000_000, uint256.MustFromDecimal("81000000000000000"))
	return h, uid
}

func TestLiquidate_RequiresWhitelistedCaller(t *testing.T) {
	h, uid := liquidationFixture(t)
	err := h.engine.Liquidate(uuid.New(), uid, nil)
	if !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestLiquidate_RejectsHealthyPosition(t *testing.T) {
	h, uid := liquidationFixture(t)
	err := h.engine.Liquidate(h.owner, uid, nil)
	if !errors.Is(err, vault.ErrNotLiquidatable) {
		t.Errorf("got %v, want ErrNotLiquidatable", err)
	}
}

func TestLiquidate_PenaltyAndSlippage(t *testing.T) {
	h, uid := liquidationFixture(t)
	marginBefore := u(1_000_000_000)

	// drop the leverage limit under the position's current leverage of 10
	h.cfg.SetMarket(config.MarketKey{DebtToken: usdc, PositionToken: weth}, config.Market{
		MaxLeverage: 9, LiquidationSlippageBps: 1_00, Enabled: true,
	})

	if err := h.engine.Liquidate(h.owner, uid, nil); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// oracle quote 99.954, filled 1% lower at 98.954460; penalty is 1% of
	// the 90 debt. The account eats exactly penalty + slippage.
	penalty := uint64(900_000)
	slippage := uint64(1_045_540)

	eq(t, h.engine.MarginBalance(h.feeRecv, usdc), penalty, "penalty to fee receiver")

	want := new(uint256.Int).Sub(marginBefore, u(penalty+slippage))
	if !h.engine.MarginBalance(h.owner, usdc).Eq(want) {
		t.Errorf("account margin: got %s, want %s", h.engine.MarginBalance(h.owner, usdc).Dec(), want.Dec())
	}
	if _, ok := h.engine.GetPosition(uid); ok {
		t.Error("position should be destroyed")
	}
}

func TestLiquidate_PenaltyCappedBySurplus(t *testing.T) {
	h, uid := liquidationFixture(t)
	marginBefore := u(1_000_000_000)

	// at 1130 the fill is 90.6147: the 0.6147 surplus cannot cover the full
	// 0.90 penalty, so the penalty is capped and the account loses all margin
	h.setETHPrice(1130_0000_0000)

	if err := h.engine.Liquidate(h.owner, uid, nil); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	eq(t, h.engine.MarginBalance(h.feeRecv, usdc), 614_700, "capped penalty")

	want := new(uint256.Int).Sub(marginBefore, u(10_000_000))
	if !h.engine.MarginBalance(h.owner, usdc).Eq(want) {
		t.Errorf("account margin: got %s, want %s", h.engine.MarginBalance(h.owner, usdc).Dec(), want.Dec())
	}
}

func TestLiquidate_ShortfallBecomesBadDebt(t *testing.T) {
	h, uid := liquidationFixture(t)
	marginBefore := u(1_000_000_000)

	// at 1120 the fill is 89.8128, short of the 90 debt: no penalty, the
	// shortfall is socialized
	h.setETHPrice(1120_0000_0000)

	if err := h.engine.Liquidate(h.owner, uid, nil); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	eq(t, h.engine.MarginBalance(h.feeRecv, usdc), 0, "no penalty on shortfall")
	eq(t, h.engine.BadDebt(usdc), 187_200, "shortfall recognized as bad debt")
	if h.engine.AcceptingNewOrders() {
		t.Error("circuit breaker should trip")
	}

	want := new(uint256.Int).Sub(marginBefore, u(10_000_000))
	if !h.engine.MarginBalance(h.owner, usdc).Eq(want) {
		t.Errorf("account margin: got %s, want %s", h.engine.MarginBalance(h.owner, usdc).Dec(), want.Dec())
	}
}

// ============================================================================
// Test: interest accrual through the engine
// ============================================================================

func TestAccrueInterest_PaysTiersAndKeepsAvailabilityFixed(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000, pool.TierBase)
	h.provideLiquidity(500_000_000, pool.TierSafetyModule)
	h.fund(h.owner, usdc, 100_000_000)

	// utilization 40% of the base tier -> 11.5% per year
	h.open(40_000_000, 400_000_000, uint256.MustFromDecimal("356000000000000000"))
	availableBefore := h.engine.AvailableLiquidity(usdc)

	h.now = h.now.Add(365 * 24 * time.Hour)
	h.engine.AccrueInterest(usdc)

	ov := h.engine.Overview(usdc)
	if ov.TotalDebt != "445999999" {
		t.Errorf("debt after a year at 11.5%%: got %s, want 445999999", ov.TotalDebt)
	}

	// interest split 60/40 between safety module and base
	if ov.SafetyBacking != "527599999" {
		t.Errorf("safety backing: got %s, want 527599999", ov.SafetyBacking)
	}
	if ov.BaseBacking != "1018400000" {
		t.Errorf("base backing: got %s, want 1018400000", ov.BaseBacking)
	}

	// accrual moves no cash
	if !h.engine.AvailableLiquidity(usdc).Eq(availableBefore) {
		t.Errorf("available liquidity changed by accrual: %s -> %s", availableBefore.Dec(), h.engine.AvailableLiquidity(usdc).Dec())
	}
}

// ============================================================================
// Test: bad debt repayment
// ============================================================================

func TestRepayBadDebt(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 1_000_000_000)
	uid := h.open(15_000_000, 150_000_000, u(123))
	if _, err := h.engine.ClosePosition(h.owner, uid, u(0), nil); err != nil {
		t.Fatalf("close: %v", err)
	}
	eq(t, h.engine.BadDebt(usdc), 150_000_000, "bad debt before repay")
	availableBefore := h.engine.AvailableLiquidity(usdc)

	applied, err := h.engine.RepayBadDebt(h.owner, h.owner, usdc, u(100_000_000))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	eq(t, applied, 100_000_000, "applied")
	eq(t, h.engine.BadDebt(usdc), 50_000_000, "bad debt after repay")

	want := new(uint256.Int).Add(availableBefore, u(100_000_000))
	if !h.engine.AvailableLiquidity(usdc).Eq(want) {
		t.Errorf("liquidity restored: got %s, want %s", h.engine.AvailableLiquidity(usdc).Dec(), want.Dec())
	}

	// repaying more than outstanding only applies the remainder
	applied, err = h.engine.RepayBadDebt(h.owner, h.owner, usdc, u(80_000_000))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	eq(t, applied, 50_000_000, "capped")
	eq(t, h.engine.BadDebt(usdc), 0, "bad debt cleared")
}

// ============================================================================
// Test: events and snapshots
// ============================================================================

func TestEngine_EmitsLifecycleEvents(t *testing.T) {
	h := newHarness(t)
	var types []event.Type
	h.engine.SetSink(event.SinkFunc(func(e event.Envelope) {
		types = append(types, e.Type)
	}))

	h.provideLiquidity(1_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 1_000_000_000)
	uid := h.open(100_000_000, 900_000_000, uint256.MustFromDecimal("810000000000000000"))
	if _, err := h.engine.ClosePosition(h.owner, uid, u(1_000_000_000), nil); err != nil {
		t.Fatalf("close: %v", err)
	}

	want := []event.Type{
		event.TypeAccountFunded,
		event.TypeLiquidityDeposited,
		event.TypeAccountFunded,
		event.TypePositionOpened,
		event.TypePositionClosed,
	}
	if len(types) != len(want) {
		t.Fatalf("event count: got %d (%v), want %d", len(types), types, len(want))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, types[i], want[i])
		}
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 1_000_000_000)
	uid := h.open(100_000_000, 900_000_000, uint256.MustFromDecimal("810000000000000000"))

	snap := h.engine.Snapshot()

	h2 := newHarness(t)
	h2.cfg.SetOrderCaller(h.owner, true)
	if err := h2.engine.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	pos, ok := h2.engine.GetPosition(uid)
	if !ok {
		t.Fatal("position missing after restore")
	}
	eq(t, pos.MarginAmount, 100_000_000, "restored margin amount")

	if !h2.engine.AvailableLiquidity(usdc).Eq(h.engine.AvailableLiquidity(usdc)) {
		t.Errorf("available liquidity: got %s, want %s",
			h2.engine.AvailableLiquidity(usdc).Dec(), h.engine.AvailableLiquidity(usdc).Dec())
	}
	if !h2.engine.MarginBalance(h.owner, usdc).Eq(h.engine.MarginBalance(h.owner, usdc)) {
		t.Error("margin balances diverge after restore")
	}
	if h2.engine.Sequence() != h.engine.Sequence() {
		t.Errorf("sequence: got %d, want %d", h2.engine.Sequence(), h.engine.Sequence())
	}

	// the restored engine keeps working: close the position
	if _, err := h2.engine.ClosePosition(h.owner, uid, u(1_000_000_000), nil); err != nil {
		t.Fatalf("close on restored engine: %v", err)
	}
}

// ============================================================================
// Test: swap boundary validation
// ============================================================================

func TestOpenPosition_RejectsMismatchedPath(t *testing.T) {
	h := newHarness(t)
	h.provideLiquidity(1_000_000_000, pool.TierBase)
	h.fund(h.owner, usdc, 100_000_000)

	badPath := []asset.Token{weth, usdc}
	_, _, err := h.engine.OpenPosition(h.owner, h.owner, weth, u(1), usdc, u(900_000_000), u(100_000_000), badPath)
	if !errors.Is(err, swap.ErrInvalidPath) {
		t.Errorf("got %v, want ErrInvalidPath", err)
	}
}
