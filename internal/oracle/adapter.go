package oracle

import (
	"errors"
	"fmt"
	"time"

	"MarginVault/internal/asset"
	vmath "MarginVault/internal/math"

	"github.com/holiman/uint256"
)

var (
	// ErrNoPrice is returned when a feed has never published a price.
	ErrNoPrice = errors.New("no price for feed")

	// ErrStalePrice is returned when the latest reading is older than the
	// adapter's max age.
	ErrStalePrice = errors.New("stale price")

	// ErrInvalidPrice is returned for zero or negative readings.
	ErrInvalidPrice = errors.New("invalid price")
)

// Price is a USD price reading at PriceScale (8 decimals).
type Price struct {
	Value     int64
	Timestamp time.Time
}

// PriceFeed supplies the latest reading for a feed id.
type PriceFeed interface {
	Price(feedID string) (Price, error)
}

// Adapter normalizes feed readings into USD prices and quotes token/token
// conversions at current oracle prices.
type Adapter struct {
	registry *asset.Registry
	feed     PriceFeed
	maxAge   time.Duration
	now      func() time.Time
}

func NewAdapter(registry *asset.Registry, feed PriceFeed, maxAge time.Duration) *Adapter {
	return &Adapter{
		registry: registry,
		feed:     feed,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// SetClock overrides the adapter's clock. Tests use this together with a
// static feed to pin staleness behavior.
func (a *Adapter) SetClock(now func() time.Time) {
	a.now = now
}

// USDPrice returns the token's oracle price at PriceScale. Stale, missing,
// or non-positive readings are rejected.
func (a *Adapter) USDPrice(token asset.Token) (*uint256.Int, error) {
	info, ok := a.registry.Get(token)
	if !ok {
		return nil, fmt.Errorf("token %s not whitelisted", token)
	}

	p, err := a.feed.Price(info.FeedID)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", info.FeedID, err)
	}
	if p.Value <= 0 {
		return nil, fmt.Errorf("feed %s: %w (%d)", info.FeedID, ErrInvalidPrice, p.Value)
	}
	if a.maxAge > 0 && a.now().Sub(p.Timestamp) > a.maxAge {
		return nil, fmt.Errorf("feed %s: %w (age %s)", info.FeedID, ErrStalePrice, a.now().Sub(p.Timestamp))
	}

	return uint256.NewInt(uint64(p.Value)), nil
}

// USDValue converts a token amount into USD at PriceScale:
// amount * price / 10^decimals.
func (a *Adapter) USDValue(token asset.Token, amount *uint256.Int) (*uint256.Int, error) {
	info, ok := a.registry.Get(token)
	if !ok {
		return nil, fmt.Errorf("token %s not whitelisted", token)
	}
	price, err := a.USDPrice(token)
	if err != nil {
		return nil, err
	}
	return vmath.MulDiv(amount, price, vmath.Pow10(info.Decimals)), nil
}

// Quote converts an amount of tokenIn into the equivalent amount of tokenOut
// at current oracle prices:
// amountOut = amountIn * priceIn * 10^decOut / (priceOut * 10^decIn).
func (a *Adapter) Quote(tokenIn, tokenOut asset.Token, amountIn *uint256.Int) (*uint256.Int, error) {
	infoIn, ok := a.registry.Get(tokenIn)
	if !ok {
		return nil, fmt.Errorf("token %s not whitelisted", tokenIn)
	}
	infoOut, ok := a.registry.Get(tokenOut)
	if !ok {
		return nil, fmt.Errorf("token %s not whitelisted", tokenOut)
	}

	priceIn, err := a.USDPrice(tokenIn)
	if err != nil {
		return nil, err
	}
	priceOut, err := a.USDPrice(tokenOut)
	if err != nil {
		return nil, err
	}

	num := new(uint256.Int).Mul(amountIn, priceIn)
	num.Mul(num, vmath.Pow10(infoOut.Decimals))
	den := new(uint256.Int).Mul(priceOut, vmath.Pow10(infoIn.Decimals))
	return num.Div(num, den), nil
}
