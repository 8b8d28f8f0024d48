package swap

import (
	"fmt"

	"MarginVault/internal/asset"
	"MarginVault/internal/oracle"
	"MarginVault/internal/observability"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// OracleRouter fills swaps at oracle prices less a fixed spread. It stands in
// for an external DEX router in single-process deployments and simulations;
// production wires a real router behind the same interface.
type OracleRouter struct {
	adapter   *oracle.Adapter
	spreadBps uint64
	log       zerolog.Logger
}

func NewOracleRouter(adapter *oracle.Adapter, spreadBps uint64) *OracleRouter {
	return &OracleRouter{
		adapter:   adapter,
		spreadBps: spreadBps,
		log:       observability.NewLogger("oracle_router"),
	}
}

// Swap quotes tokenIn→tokenOut at oracle prices, applies the spread, and
// fails with ErrSlippage when the result is below minAmountOut.
func (r *OracleRouter) Swap(tokenIn, tokenOut asset.Token, amountIn, minAmountOut *uint256.Int, path []asset.Token) (*uint256.Int, error) {
	if err := ValidatePath(tokenIn, tokenOut, path); err != nil {
		return nil, err
	}

	quote, err := r.adapter.Quote(tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, fmt.Errorf("quote %s->%s: %w", tokenIn, tokenOut, err)
	}

	out := new(uint256.Int).Mul(quote, uint256.NewInt(10_000-r.spreadBps))
	out.Div(out, uint256.NewInt(10_000))

	if out.Lt(minAmountOut) {
		return nil, fmt.Errorf("%w: out %s < min %s", ErrSlippage, out.Dec(), minAmountOut.Dec())
	}

	r.log.Debug().
		Str("token_in", string(tokenIn)).
		Str("token_out", string(tokenOut)).
		Str("amount_in", amountIn.Dec()).
		Str("amount_out", out.Dec()).
		Msg("swap filled at oracle quote")

	return out, nil
}
