package order

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"
)

// BpsDenominator is 100% expressed in basis points
const BpsDenominator = 10_000

// ID is the numeric order identifier, assigned from a monotonically increasing counter
type ID uint64

// Status represents the lifecycle state of an order
// Active is the only non-terminal state
type Status int8

const (
	StatusActive Status = iota
	StatusExecuted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusExecuted:
		return "executed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name so persisted records stay readable
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "active":
		*s = StatusActive
	case "executed":
		*s = StatusExecuted
	case "cancelled":
		*s = StatusCancelled
	default:
		return fmt.Errorf("unknown order status: %q", string(b))
	}
	return nil
}

// IsTerminal returns true once no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusExecuted || s == StatusCancelled
}

// Kind discriminates the order condition; the value doubles as the creation-event tag
type Kind string

const (
	KindSimple Kind = "simple"
	KindTrail  Kind = "trail"
)

// Condition is the kind-specific part of an order.
// Implemented by SimpleTrigger and TrailingStop only.
type Condition interface {
	Kind() Kind
	clone() Condition
}

// SimpleTrigger fires once the price falls to or below TriggerPrice
type SimpleTrigger struct {
	TriggerPrice *big.Int
}

func (SimpleTrigger) Kind() Kind { return KindSimple }

func (c SimpleTrigger) clone() Condition {
	return SimpleTrigger{TriggerPrice: cloneInt(c.TriggerPrice)}
}

// TrailingStop fires once the price retraces TrailBps from the highest price
// observed since creation (PeakPrice)
type TrailingStop struct {
	TrailBps  uint32
	PeakPrice *big.Int
}

func (TrailingStop) Kind() Kind { return KindTrail }

func (c TrailingStop) clone() Condition {
	return TrailingStop{TrailBps: c.TrailBps, PeakPrice: cloneInt(c.PeakPrice)}
}

// Order is a standing conditional sell order backed by escrowed funds
type Order struct {
	ID           ID
	Owner        common.Address // receives cancellation refunds and swap output
	SellAsset    common.Address
	BuyAsset     common.Address
	AmountToSell *big.Int // equals the escrowed amount while Active
	Status       Status
	Condition    Condition

	// Unix milliseconds
	CreatedAt int64
	UpdatedAt int64
}

// Kind returns the discriminator of the order's condition
func (o *Order) Kind() Kind {
	if o.Condition == nil {
		return ""
	}
	return o.Condition.Kind()
}

// IsActive returns true while the order can still be cancelled or settled
func (o *Order) IsActive() bool {
	return o.Status == StatusActive
}

// Clone returns a deep copy so callers cannot mutate stored state through shared big.Ints
func (o *Order) Clone() *Order {
	cp := *o
	cp.AmountToSell = cloneInt(o.AmountToSell)
	if o.Condition != nil {
		cp.Condition = o.Condition.clone()
	}
	return &cp
}

// Validate checks the record invariants
func (o *Order) Validate() error {
	if o.AmountToSell == nil || o.AmountToSell.Sign() <= 0 {
		return fmt.Errorf("amount to sell must be positive")
	}
	switch c := o.Condition.(type) {
	case SimpleTrigger:
		if c.TriggerPrice == nil || c.TriggerPrice.Sign() <= 0 {
			return fmt.Errorf("trigger price must be positive")
		}
	case TrailingStop:
		if c.TrailBps == 0 || c.TrailBps >= BpsDenominator {
			return fmt.Errorf("trail bps out of range: %d", c.TrailBps)
		}
		if c.PeakPrice == nil || c.PeakPrice.Sign() <= 0 {
			return fmt.Errorf("peak price must be positive")
		}
	case nil:
		return fmt.Errorf("missing condition")
	default:
		return fmt.Errorf("unsupported condition %T", c)
	}
	return nil
}

// record is the flat persisted/wire form of an Order
type record struct {
	ID           ID             `json:"id"`
	Owner        common.Address `json:"owner"`
	SellAsset    common.Address `json:"sellAsset"`
	BuyAsset     common.Address `json:"buyAsset"`
	AmountToSell *big.Int       `json:"amountToSell"`
	Status       Status         `json:"status"`
	Kind         Kind           `json:"kind"`
	TriggerPrice *big.Int       `json:"triggerPrice,omitempty"`
	TrailBps     uint32         `json:"trailBps,omitempty"`
	PeakPrice    *big.Int       `json:"peakPrice,omitempty"`
	CreatedAt    int64          `json:"createdAt"`
	UpdatedAt    int64          `json:"updatedAt"`
}

func (o Order) MarshalJSON() ([]byte, error) {
	r := record{
		ID:           o.ID,
		Owner:        o.Owner,
		SellAsset:    o.SellAsset,
		BuyAsset:     o.BuyAsset,
		AmountToSell: o.AmountToSell,
		Status:       o.Status,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	switch c := o.Condition.(type) {
	case SimpleTrigger:
		r.Kind = KindSimple
		r.TriggerPrice = c.TriggerPrice
	case TrailingStop:
		r.Kind = KindTrail
		r.TrailBps = c.TrailBps
		r.PeakPrice = c.PeakPrice
	default:
		return nil, fmt.Errorf("order %d: unsupported condition %T", o.ID, o.Condition)
	}
	return json.Marshal(r)
}

func (o *Order) UnmarshalJSON(b []byte) error {
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	*o = Order{
		ID:           r.ID,
		Owner:        r.Owner,
		SellAsset:    r.SellAsset,
		BuyAsset:     r.BuyAsset,
		AmountToSell: r.AmountToSell,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	switch r.Kind {
	case KindSimple:
		o.Condition = SimpleTrigger{TriggerPrice: r.TriggerPrice}
	case KindTrail:
		o.Condition = TrailingStop{TrailBps: r.TrailBps, PeakPrice: r.PeakPrice}
	default:
		return fmt.Errorf("order %d: unknown kind %q", r.ID, r.Kind)
	}
	return nil
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
