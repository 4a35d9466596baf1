// Package dex provides exchange-router clients that fill settlement swaps.
package dex

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Funds is the spend capability a router uses to pull the input amount out
// of custody. Implemented by custody.Grant.
type Funds interface {
	Spend(amount *big.Int, to common.Address) error
}

// SwapRequest describes an exact-input multi-hop swap
type SwapRequest struct {
	AmountIn  *big.Int
	MinOut    *big.Int
	Path      []common.Address // Path[0] is sold, Path[len-1] is bought
	Recipient common.Address
	Deadline  time.Time
	Funds     Funds
}

// Router executes swaps. It returns the amounts along the path (the last
// entry is the realized output); an empty result means the fill failed.
type Router interface {
	Swap(ctx context.Context, req SwapRequest) ([]*big.Int, error)
}

// Output returns the realized output of a swap result, or nil if empty
func Output(amounts []*big.Int) *big.Int {
	if len(amounts) == 0 {
		return nil
	}
	return amounts[len(amounts)-1]
}
