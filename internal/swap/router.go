package swap

import (
	"errors"
	"fmt"

	"MarginVault/internal/asset"

	"github.com/holiman/uint256"
)

var (
	// ErrSlippage is returned when a swap's output falls short of the
	// caller's minimum.
	ErrSlippage = errors.New("slippage exceeded")

	// ErrInvalidPath is returned when a path hint does not start at the
	// input token or end at the output token.
	ErrInvalidPath = errors.New("invalid swap path")
)

// Router executes a swap of amountIn of tokenIn for tokenOut and returns the
// realized output amount. path is an optional route hint; an empty path means
// direct. The returned amount is authoritative for all downstream accounting.
type Router interface {
	Swap(tokenIn, tokenOut asset.Token, amountIn, minAmountOut *uint256.Int, path []asset.Token) (*uint256.Int, error)
}

// ValidatePath rejects route hints whose endpoints do not match the requested
// pair. The vault checks this before handing the route to any router,
// independent of the router's own validation.
func ValidatePath(tokenIn, tokenOut asset.Token, path []asset.Token) error {
	if len(path) == 0 {
		return nil
	}
	if len(path) < 2 {
		return fmt.Errorf("%w: path must have at least two hops", ErrInvalidPath)
	}
	if path[0] != tokenIn {
		return fmt.Errorf("%w: path starts at %s, want %s", ErrInvalidPath, path[0], tokenIn)
	}
	if path[len(path)-1] != tokenOut {
		return fmt.Errorf("%w: path ends at %s, want %s", ErrInvalidPath, path[len(path)-1], tokenOut)
	}
	return nil
}
