package storage

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/trailstop/pkg/order"
)

// Tx buffers every write of one operation in an indexed Pebble batch.
// Reads observe the batch's own writes on top of committed state.
type Tx struct {
	batch *pebble.Batch
	done  bool
}

// Get reads a value through the batch
func (tx *Tx) Get(key []byte) ([]byte, bool, error) {
	data, closer, err := tx.batch.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()

	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// Set buffers a raw write
func (tx *Tx) Set(key, value []byte) error {
	return tx.batch.Set(key, value, nil)
}

// Delete buffers a raw delete
func (tx *Tx) Delete(key []byte) error {
	return tx.batch.Delete(key, nil)
}

// Config loads the configuration block. Returns nil if not initialized.
func (tx *Tx) Config() (*order.Config, error) {
	return loadConfig(tx)
}

// PutConfig stores the configuration block
func (tx *Tx) PutConfig(cfg *order.Config) error {
	data, err := encodeJSON(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return tx.Set(keyConfig, data)
}

// NextOrderID returns the id the next created order will receive
func (tx *Tx) NextOrderID() (order.ID, error) {
	data, ok, err := tx.Get(keyNextOrder)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt order counter %q: %w", data, err)
	}
	return order.ID(n), nil
}

// PutNextOrderID stores the order id counter
func (tx *Tx) PutNextOrderID(id order.ID) error {
	return tx.Set(keyNextOrder, []byte(strconv.FormatUint(uint64(id), 10)))
}

// Order loads an order. Returns nil if it doesn't exist.
func (tx *Tx) Order(id order.ID) (*order.Order, error) {
	return loadOrder(tx, id)
}

// PutOrder stores an order and its owner index entry
func (tx *Tx) PutOrder(o *order.Order) error {
	data, err := encodeJSON(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order %d: %w", o.ID, err)
	}
	if err := tx.Set(orderKey(o.ID), data); err != nil {
		return fmt.Errorf("failed to save order %d: %w", o.ID, err)
	}
	return tx.Set(ownerKey(o.Owner, o.ID), nil)
}

// AppendEvent assigns the next sequence number and chain hash to ev and
// buffers it. The returned copy carries Seq and Hash.
func (tx *Tx) AppendEvent(ev order.Event) (order.Event, error) {
	head, err := loadEventHead(tx)
	if err != nil {
		return order.Event{}, err
	}
	ev.Seq = head.Seq + 1
	hash, err := chainHash(head.Hash, ev)
	if err != nil {
		return order.Event{}, fmt.Errorf("failed to hash event: %w", err)
	}
	ev.Hash = hash

	data, err := encodeJSON(ev)
	if err != nil {
		return order.Event{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := tx.Set(eventKey(ev.Seq), data); err != nil {
		return order.Event{}, err
	}
	headData, err := encodeJSON(eventHead{Seq: ev.Seq, Hash: ev.Hash})
	if err != nil {
		return order.Event{}, err
	}
	if err := tx.Set(keyEventHead, headData); err != nil {
		return order.Event{}, err
	}
	return ev, nil
}

// Commit writes the batch to Pebble atomically
func (tx *Tx) Commit() error {
	if tx.done {
		return errors.New("transaction already finished")
	}
	tx.done = true
	defer tx.batch.Close()
	return tx.batch.Commit(pebble.Sync)
}

// Discard drops the batch without committing. Safe to call after Commit.
func (tx *Tx) Discard() {
	if tx.done {
		return
	}
	tx.done = true
	tx.batch.Close()
}
