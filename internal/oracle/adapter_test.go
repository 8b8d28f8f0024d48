package oracle_test

import (
	"errors"
	"testing"
	"time"

	"MarginVault/internal/asset"
	"MarginVault/internal/oracle"

	"github.com/holiman/uint256"
)

type staticFeed struct {
	prices map[string]oracle.Price
}

func (s *staticFeed) Price(feedID string) (oracle.Price, error) {
	p, ok := s.prices[feedID]
	if !ok {
		return oracle.Price{}, oracle.ErrNoPrice
	}
	return p, nil
}

func newTestAdapter(t *testing.T, now time.Time) (*oracle.Adapter, *staticFeed) {
	t.Helper()

	reg := asset.NewRegistry()
	reg.Whitelist("USDC", 6, "usdc-usd")
	reg.Whitelist("WETH", 18, "eth-usd")
	reg.Whitelist("WBTC", 8, "btc-usd")

	feed := &staticFeed{prices: map[string]oracle.Price{
		"usdc-usd": {Value: 1_0000_0000, Timestamp: now},
		"eth-usd":  {Value: 1234_0000_0000, Timestamp: now},
		"btc-usd":  {Value: 30100_0000_0000, Timestamp: now},
	}}

	a := oracle.NewAdapter(reg, feed, time.Minute)
	a.SetClock(func() time.Time { return now })
	return a, feed
}

func TestUSDPrice(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a, _ := newTestAdapter(t, now)

	p, err := a.USDPrice("WETH")
	if err != nil {
		t.Fatalf("USDPrice: %v", err)
	}
	if p.Uint64() != 1234_0000_0000 {
		t.Errorf("ETH price: got %d", p.Uint64())
	}
}

func TestUSDPrice_Stale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a, feed := newTestAdapter(t, now)
	feed.prices["eth-usd"] = oracle.Price{Value: 1234_0000_0000, Timestamp: now.Add(-2 * time.Minute)}

	if _, err := a.USDPrice("WETH"); !errors.Is(err, oracle.ErrStalePrice) {
		t.Errorf("want ErrStalePrice, got %v", err)
	}
}

func TestUSDPrice_NonPositive(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a, feed := newTestAdapter(t, now)
	feed.prices["eth-usd"] = oracle.Price{Value: 0, Timestamp: now}

	if _, err := a.USDPrice("WETH"); !errors.Is(err, oracle.ErrInvalidPrice) {
		t.Errorf("want ErrInvalidPrice, got %v", err)
	}
}

func TestUSDValue(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a, _ := newTestAdapter(t, now)

	// 2 WETH at $1234 = $2468 (8-decimal USD).
	amount := new(uint256.Int).Mul(uint256.NewInt(2), uint256.MustFromDecimal("1000000000000000000"))
	v, err := a.USDValue("WETH", amount)
	if err != nil {
		t.Fatalf("USDValue: %v", err)
	}
	if v.Uint64() != 2468_0000_0000 {
		t.Errorf("USD value: got %d, want 246800000000", v.Uint64())
	}
}

func TestQuote_USDCToWETH(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a, _ := newTestAdapter(t, now)

	// 1234 USDC buys exactly 1 WETH at $1234.
	out, err := a.Quote("USDC", "WETH", uint256.NewInt(1234_000_000))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	want := uint256.MustFromDecimal("1000000000000000000")
	if !out.Eq(want) {
		t.Errorf("quote: got %s, want %s", out.Dec(), want.Dec())
	}
}

func TestQuote_WETHToWBTC(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a, _ := newTestAdapter(t, now)

	// 1 WETH = 1234/30100 BTC = 0.04099667 WBTC (8 decimals, floored).
	out, err := a.Quote("WETH", "WBTC", uint256.MustFromDecimal("1000000000000000000"))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if out.Uint64() != 4_099_667 {
		t.Errorf("quote: got %d, want 4099667", out.Uint64())
	}
}

func TestQuote_UnlistedToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a, _ := newTestAdapter(t, now)

	if _, err := a.Quote("DOGE", "WETH", uint256.NewInt(1)); err == nil {
		t.Error("unlisted token should fail")
	}
}
