package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the process-wide configuration block.
// Written exactly once by engine initialization, read-only afterwards.
type Config struct {
	Admin         common.Address `json:"admin"`
	Oracle        common.Address `json:"oracle"`
	Router        common.Address `json:"router"`
	Decimals      uint32         `json:"decimals"`   // oracle price precision
	PriceScale    *big.Int       `json:"priceScale"` // 10^Decimals
	InitializedAt int64          `json:"initializedAt"`
}

// MaxDecimals bounds the oracle precision accepted at initialization
const MaxDecimals = 38

// PriceScaleFor returns 10^decimals
func PriceScaleFor(decimals uint32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
