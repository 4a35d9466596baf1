package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names an externally observable state change
type EventType string

const (
	EventCreated   EventType = "created"
	EventCancelled EventType = "cancelled"
	EventExecuted  EventType = "executed"
)

// Event is an entry of the append-only order event log.
// Seq and Hash are assigned by the store when the event is appended;
// Hash chains each entry to its predecessor.
type Event struct {
	Seq       uint64         `json:"seq"`
	Type      EventType      `json:"type"`
	Owner     common.Address `json:"owner"`
	OrderID   ID             `json:"orderId"`
	Kind      Kind           `json:"kind,omitempty"`      // created
	Price     *big.Int       `json:"price,omitempty"`     // executed
	MinOutput *big.Int       `json:"minOutput,omitempty"` // executed
	Timestamp int64          `json:"timestamp"`           // Unix milliseconds
	Hash      string         `json:"hash,omitempty"`
}

func CreatedEvent(owner common.Address, id ID, kind Kind, ts int64) Event {
	return Event{Type: EventCreated, Owner: owner, OrderID: id, Kind: kind, Timestamp: ts}
}

func CancelledEvent(owner common.Address, id ID, ts int64) Event {
	return Event{Type: EventCancelled, Owner: owner, OrderID: id, Timestamp: ts}
}

func ExecutedEvent(owner common.Address, id ID, price, minOutput *big.Int, ts int64) Event {
	return Event{
		Type:      EventExecuted,
		Owner:     owner,
		OrderID:   id,
		Price:     cloneInt(price),
		MinOutput: cloneInt(minOutput),
		Timestamp: ts,
	}
}
