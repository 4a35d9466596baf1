package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/trailstop/pkg/order"
)

// Key schema for Pebble storage
//
//   cfg                    → order.Config (singleton)
//   seq:order              → next order id (decimal)
//   ord:<id>               → order.Order
//   own:<address>:<id>     → owner index (empty value)
//   evh                    → event log head (seq + hash)
//   evt:<seq>              → order.Event
//   nonce:<address>        → last consumed request nonce
//
// Ids and sequence numbers are zero-padded (20 digits) for lexicographic ordering.
// Custody balances and allowances live under their own prefixes (see package custody).

const (
	prefixOrder = "ord:"
	prefixOwner = "own:"
	prefixEvent = "evt:"
	prefixNonce = "nonce:"
)

var (
	keyConfig    = []byte("cfg")
	keyNextOrder = []byte("seq:order")
	keyEventHead = []byte("evh")
)

// orderKey returns the key for an order
// Format: "ord:{id}"
func orderKey(id order.ID) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, uint64(id)))
}

// ownerKey returns the owner index key for an order
// Format: "own:{address}:{id}"
func ownerKey(owner common.Address, id order.ID) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixOwner, owner.Hex(), uint64(id)))
}

// ownerPrefix returns the prefix for all orders of an owner
func ownerPrefix(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOwner, owner.Hex()))
}

// eventKey returns the key for an event log entry
// Format: "evt:{seq}"
func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

func nonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
