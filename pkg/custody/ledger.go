package custody

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"

	"github.com/uhyunpark/trailstop/pkg/storage"
	"github.com/uhyunpark/trailstop/pkg/util"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoAllowance         = errors.New("no spend allowance")
	ErrAllowanceExpired    = errors.New("spend allowance expired")
	ErrAllowanceExceeded   = errors.New("spend exceeds allowance")
	ErrCustodyAccount      = errors.New("custody account cannot escrow or receive escrowed funds")
	ErrSelfTransfer        = errors.New("source and destination are the same account")
)

// Key prefixes for custody state
//
//   bal:<asset>:<holder>   → balance (decimal string)
//   alw:<asset>:<spender>  → Allowance granted by the custody account
const (
	prefixBalance   = "bal:"
	prefixAllowance = "alw:"
)

func balanceKey(asset, holder common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset.Hex(), holder.Hex()))
}

func allowanceKey(asset, spender common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixAllowance, asset.Hex(), spender.Hex()))
}

// Ledger tracks per-asset balances and holds escrowed funds under a single
// custody account. Every mutation is buffered in the caller's storage.Tx, so a
// discarded transaction leaves balances and allowances untouched.
type Ledger struct {
	account common.Address
	clock   util.Clock
}

// NewLedger creates a ledger whose escrow is held by account
func NewLedger(account common.Address, clock util.Clock) *Ledger {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Ledger{account: account, clock: clock}
}

// Account returns the custody account holding escrowed funds
func (l *Ledger) Account() common.Address {
	return l.account
}

// Balance returns holder's balance of asset (zero if never credited)
func (l *Ledger) Balance(r storage.Reader, holder, asset common.Address) (*big.Int, error) {
	data, ok, err := r.Get(balanceKey(asset, holder))
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(big.Int), nil
	}
	bal, ok := new(big.Int).SetString(string(data), 10)
	if !ok {
		return nil, fmt.Errorf("corrupt balance for %s/%s: %q", holder.Hex(), asset.Hex(), data)
	}
	return bal, nil
}

// Escrowed returns the amount of asset currently held in custody
func (l *Ledger) Escrowed(r storage.Reader, asset common.Address) (*big.Int, error) {
	return l.Balance(r, l.account, asset)
}

// Deposit credits holder with amount of asset
func (l *Ledger) Deposit(tx *storage.Tx, holder, asset common.Address, amount *big.Int) error {
	if !positive(amount) {
		return fmt.Errorf("deposit: %w", ErrInvalidAmount)
	}
	bal, err := l.Balance(tx, holder, asset)
	if err != nil {
		return err
	}
	return l.putBalance(tx, holder, asset, bal.Add(bal, amount))
}

// Withdraw debits holder by amount of asset
// Returns ErrInsufficientBalance if the balance does not cover it
func (l *Ledger) Withdraw(tx *storage.Tx, holder, asset common.Address, amount *big.Int) error {
	if !positive(amount) {
		return fmt.Errorf("withdraw: %w", ErrInvalidAmount)
	}
	bal, err := l.Balance(tx, holder, asset)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, amount)
	}
	return l.putBalance(tx, holder, asset, bal.Sub(bal, amount))
}

// Escrow moves amount of asset from owner into the custody account.
// The custody account itself cannot be an owner: its balance is the pooled
// escrow of every active order.
func (l *Ledger) Escrow(tx *storage.Tx, owner, asset common.Address, amount *big.Int) error {
	if owner == l.account {
		return fmt.Errorf("escrow %s from %s: %w", amount, owner.Hex(), ErrCustodyAccount)
	}
	if err := l.transfer(tx, asset, owner, l.account, amount); err != nil {
		return fmt.Errorf("escrow %s from %s: %w", amount, owner.Hex(), err)
	}
	return nil
}

// Release moves amount of asset from the custody account to to
func (l *Ledger) Release(tx *storage.Tx, asset common.Address, amount *big.Int, to common.Address) error {
	if err := l.transfer(tx, asset, l.account, to, amount); err != nil {
		return fmt.Errorf("release %s to %s: %w", amount, to.Hex(), err)
	}
	return nil
}

func (l *Ledger) transfer(tx *storage.Tx, asset, from, to common.Address, amount *big.Int) error {
	if !positive(amount) {
		return ErrInvalidAmount
	}
	if from == to {
		return ErrSelfTransfer
	}
	fromBal, err := l.Balance(tx, from, asset)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal, amount)
	}
	toBal, err := l.Balance(tx, to, asset)
	if err != nil {
		return err
	}
	if err := l.putBalance(tx, from, asset, fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.putBalance(tx, to, asset, toBal.Add(toBal, amount))
}

func (l *Ledger) putBalance(tx *storage.Tx, holder, asset common.Address, bal *big.Int) error {
	return tx.Set(balanceKey(asset, holder), []byte(bal.String()))
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// Allowance is the persisted state of a spend grant
type Allowance struct {
	Remaining  *big.Int `json:"remaining"`
	ValidUntil int64    `json:"validUntil"` // Unix milliseconds
}

// Allowance returns the grant held by spender over asset, or nil if none
func (l *Ledger) Allowance(r storage.Reader, asset, spender common.Address) (*Allowance, error) {
	data, ok, err := r.Get(allowanceKey(asset, spender))
	if err != nil || !ok {
		return nil, err
	}
	var a Allowance
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal allowance: %w", err)
	}
	return &a, nil
}

func (l *Ledger) putAllowance(tx *storage.Tx, asset, spender common.Address, a *Allowance) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal allowance: %w", err)
	}
	return tx.Set(allowanceKey(asset, spender), data)
}

// AuthorizeSpend lets spender pull up to amount of asset out of custody until
// validUntil. A new grant replaces any previous one for the same spender.
func (l *Ledger) AuthorizeSpend(tx *storage.Tx, asset, spender common.Address, amount *big.Int, validUntil time.Time) (*Grant, error) {
	if !positive(amount) {
		return nil, fmt.Errorf("authorize spend: %w", ErrInvalidAmount)
	}
	if !validUntil.After(l.clock.Now()) {
		return nil, fmt.Errorf("authorize spend: %w", ErrAllowanceExpired)
	}
	a := &Allowance{Remaining: new(big.Int).Set(amount), ValidUntil: validUntil.UnixMilli()}
	if err := l.putAllowance(tx, asset, spender, a); err != nil {
		return nil, err
	}
	return &Grant{
		ledger:     l,
		tx:         tx,
		Asset:      asset,
		Spender:    spender,
		Amount:     new(big.Int).Set(amount),
		ValidUntil: validUntil,
	}, nil
}
