package dex

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/trailstop/pkg/util"
)

// Rate is an exchange rate expressed as Num/Den units of output per unit of input
type Rate struct {
	Num *big.Int
	Den *big.Int
}

type pair struct {
	in, out common.Address
}

// Fill records a swap executed by MemoryRouter
type Fill struct {
	Recipient common.Address
	Path      []common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
	Deadline  time.Time
}

// MemoryRouter fills swaps at fixed per-pair rates.
// Input funds are pulled into the router's own account through the request's
// Funds capability. Used by the devnet node and by tests.
type MemoryRouter struct {
	mu      sync.Mutex
	account common.Address
	clock   util.Clock
	rates   map[pair]Rate
	fills   []Fill
	failing bool
}

func NewMemoryRouter(account common.Address, clock util.Clock) *MemoryRouter {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &MemoryRouter{
		account: account,
		clock:   clock,
		rates:   make(map[pair]Rate),
	}
}

// SetRate sets the output per input for swaps from in to out
func (r *MemoryRouter) SetRate(in, out common.Address, num, den int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[pair{in, out}] = Rate{Num: big.NewInt(num), Den: big.NewInt(den)}
}

// LoadRates sets rates from a comma-separated list of "in:out:num:den" entries
func (r *MemoryRouter) LoadRates(list string) error {
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 4 || !common.IsHexAddress(parts[0]) || !common.IsHexAddress(parts[1]) {
			return fmt.Errorf("invalid rate %q: want in:out:num:den", entry)
		}
		num, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || num <= 0 {
			return fmt.Errorf("invalid rate numerator in %q", entry)
		}
		den, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil || den <= 0 {
			return fmt.Errorf("invalid rate denominator in %q", entry)
		}
		r.SetRate(common.HexToAddress(parts[0]), common.HexToAddress(parts[1]), num, den)
	}
	return nil
}

// SetFailing makes every subsequent swap return an empty result
func (r *MemoryRouter) SetFailing(failing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = failing
}

// Fills returns a copy of the executed fills
func (r *MemoryRouter) Fills() []Fill {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Fill, len(r.fills))
	copy(out, r.fills)
	return out
}

func (r *MemoryRouter) Swap(_ context.Context, req SwapRequest) ([]*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failing {
		return nil, nil
	}
	if len(req.Path) < 2 {
		return nil, fmt.Errorf("swap path needs at least two assets, got %d", len(req.Path))
	}
	if r.clock.Now().After(req.Deadline) {
		return nil, nil
	}

	amounts := []*big.Int{new(big.Int).Set(req.AmountIn)}
	cur := req.AmountIn
	for i := 0; i+1 < len(req.Path); i++ {
		rate, ok := r.rates[pair{req.Path[i], req.Path[i+1]}]
		if !ok {
			return nil, nil
		}
		next := new(big.Int).Mul(cur, rate.Num)
		next.Quo(next, rate.Den)
		amounts = append(amounts, next)
		cur = next
	}
	if req.MinOut != nil && cur.Cmp(req.MinOut) < 0 {
		return nil, nil
	}
	if req.Funds == nil {
		return nil, fmt.Errorf("swap request carries no funds")
	}
	if err := req.Funds.Spend(req.AmountIn, r.account); err != nil {
		return nil, fmt.Errorf("pull input funds: %w", err)
	}

	path := make([]common.Address, len(req.Path))
	copy(path, req.Path)
	r.fills = append(r.fills, Fill{
		Recipient: req.Recipient,
		Path:      path,
		AmountIn:  new(big.Int).Set(req.AmountIn),
		AmountOut: new(big.Int).Set(cur),
		Deadline:  req.Deadline,
	})
	return amounts, nil
}

var _ Router = (*MemoryRouter)(nil)
