package testutil

import (
	"time"

	"MarginVault/internal/asset"
	"MarginVault/internal/oracle"
	"MarginVault/internal/swap"

	"github.com/holiman/uint256"
)

// StaticFeed is an in-memory oracle.PriceFeed for tests.
type StaticFeed struct {
	prices map[string]oracle.Price
}

func NewStaticFeed() *StaticFeed {
	return &StaticFeed{prices: make(map[string]oracle.Price)}
}

// Set stores a price reading for a feed.
func (f *StaticFeed) Set(feedID string, value int64, ts time.Time) {
	f.prices[feedID] = oracle.Price{Value: value, Timestamp: ts}
}

func (f *StaticFeed) Price(feedID string) (oracle.Price, error) {
	p, ok := f.prices[feedID]
	if !ok {
		return oracle.Price{}, oracle.ErrNoPrice
	}
	return p, nil
}

// RouterCall records one swap request seen by the FixedRouter.
type RouterCall struct {
	TokenIn      asset.Token
	TokenOut     asset.Token
	AmountIn     *uint256.Int
	MinAmountOut *uint256.Int
}

// FixedRouter is a scripted swap.Router. Queued outputs are returned in
// order; with the queue empty it fills at exactly minAmountOut, which keeps
// slippage-floor assertions exact.
type FixedRouter struct {
	queue []*uint256.Int
	Calls []RouterCall
}

func NewFixedRouter() *FixedRouter {
	return &FixedRouter{}
}

// Queue schedules explicit fill amounts for upcoming swaps.
func (r *FixedRouter) Queue(amounts ...*uint256.Int) {
	for _, a := range amounts {
		r.queue = append(r.queue, new(uint256.Int).Set(a))
	}
}

func (r *FixedRouter) Swap(tokenIn, tokenOut asset.Token, amountIn, minAmountOut *uint256.Int, path []asset.Token) (*uint256.Int, error) {
	if err := swap.ValidatePath(tokenIn, tokenOut, path); err != nil {
		return nil, err
	}
	r.Calls = append(r.Calls, RouterCall{
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     new(uint256.Int).Set(amountIn),
		MinAmountOut: new(uint256.Int).Set(minAmountOut),
	})

	out := new(uint256.Int).Set(minAmountOut)
	if len(r.queue) > 0 {
		out.Set(r.queue[0])
		r.queue = r.queue[1:]
	}
	if out.Lt(minAmountOut) {
		return nil, swap.ErrSlippage
	}
	return out, nil
}
