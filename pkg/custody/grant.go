package custody

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/trailstop/pkg/storage"
)

// Grant is a time-scoped capability to move escrowed funds out of custody.
// It is bound to the transaction that created it: if that transaction is
// discarded, every spend made through the grant is discarded with it.
type Grant struct {
	ledger *Ledger
	tx     *storage.Tx

	Asset      common.Address
	Spender    common.Address
	Amount     *big.Int
	ValidUntil time.Time
}

// Spend moves amount of the granted asset from custody to to, consuming allowance
func (g *Grant) Spend(amount *big.Int, to common.Address) error {
	if !positive(amount) {
		return fmt.Errorf("spend: %w", ErrInvalidAmount)
	}
	if to == g.ledger.account {
		return fmt.Errorf("spend by %s: %w", g.Spender.Hex(), ErrCustodyAccount)
	}
	a, err := g.ledger.Allowance(g.tx, g.Asset, g.Spender)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("spend by %s: %w", g.Spender.Hex(), ErrNoAllowance)
	}
	if g.ledger.clock.Now().UnixMilli() > a.ValidUntil {
		return fmt.Errorf("spend by %s: %w", g.Spender.Hex(), ErrAllowanceExpired)
	}
	if a.Remaining.Cmp(amount) < 0 {
		return fmt.Errorf("%w: remaining %s, requested %s", ErrAllowanceExceeded, a.Remaining, amount)
	}
	if err := g.ledger.transfer(g.tx, g.Asset, g.ledger.account, to, amount); err != nil {
		return fmt.Errorf("spend by %s: %w", g.Spender.Hex(), err)
	}
	a.Remaining.Sub(a.Remaining, amount)
	return g.ledger.putAllowance(g.tx, g.Asset, g.Spender, a)
}
