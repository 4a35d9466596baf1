package storage

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/trailstop/pkg/order"
)

// Reader is satisfied by both the committed store and an open transaction
type Reader interface {
	Get(key []byte) ([]byte, bool, error)
}

// Store provides Pebble-based persistence for the order registry, the
// configuration block, the event log and request nonces.
// Mutations go through Tx so that each engine operation commits as one batch.
type Store struct {
	db *pebble.DB

	nonceMu sync.Mutex
}

// Open opens a Pebble database at the given path
func Open(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a Pebble database backed by an in-memory filesystem
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin starts a read-your-writes transaction. Nothing is visible to other
// readers until Commit; Discard drops every buffered write.
func (s *Store) Begin() *Tx {
	return &Tx{batch: s.db.NewIndexedBatch()}
}

// Get reads a committed value
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	data, closer, err := s.db.Get(key)
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

// Config loads the configuration block. Returns nil if not initialized.
func (s *Store) Config() (*order.Config, error) {
	return loadConfig(s)
}

// Order loads an order. Returns nil if it doesn't exist.
func (s *Store) Order(id order.ID) (*order.Order, error) {
	return loadOrder(s, id)
}

// OrdersByOwner loads every order of an owner in id order
func (s *Store) OrdersByOwner(owner common.Address) ([]*order.Order, error) {
	prefix := ownerPrefix(owner)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open owner iterator: %w", err)
	}
	defer iter.Close()

	var ids []order.ID
	for iter.First(); iter.Valid(); iter.Next() {
		raw := iter.Key()[len(prefix):]
		id, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			continue // Skip malformed index entries
		}
		ids = append(ids, order.ID(id))
	}

	orders := make([]*order.Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.Order(id)
		if err != nil {
			return nil, err
		}
		if o != nil {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

// ActiveOrders loads every Active order in id order
func (s *Store) ActiveOrders() ([]*order.Order, error) {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open order iterator: %w", err)
	}
	defer iter.Close()

	var orders []*order.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o order.Order
		if err := decodeJSON(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order at %q: %w", iter.Key(), err)
		}
		if o.IsActive() {
			orders = append(orders, &o)
		}
	}
	return orders, nil
}

// Events returns up to limit events with Seq >= from, oldest first
func (s *Store) Events(from uint64, limit int) ([]order.Event, error) {
	if from == 0 {
		from = 1
	}
	prefix := []byte(prefixEvent)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(from),
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open event iterator: %w", err)
	}
	defer iter.Close()

	var events []order.Event
	for iter.First(); iter.Valid() && (limit <= 0 || len(events) < limit); iter.Next() {
		var ev order.Event
		if err := decodeJSON(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event at %q: %w", iter.Key(), err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// EventHead returns the sequence number and hash of the last appended event
func (s *Store) EventHead() (uint64, string, error) {
	head, err := loadEventHead(s)
	if err != nil {
		return 0, "", err
	}
	return head.Seq, head.Hash, nil
}

// LastNonce returns the highest nonce consumed for addr (0 if none)
func (s *Store) LastNonce(addr common.Address) (uint64, error) {
	data, ok, err := s.Get(nonceKey(addr))
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

// UseNonce records nonce for addr if it is strictly greater than the last one
func (s *Store) UseNonce(addr common.Address, nonce uint64) error {
	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()

	last, err := s.LastNonce(addr)
	if err != nil {
		return err
	}
	if nonce <= last {
		return fmt.Errorf("%w: got %d, last %d", ErrNonceReused, nonce, last)
	}
	if err := s.db.Set(nonceKey(addr), []byte(strconv.FormatUint(nonce, 10)), pebble.Sync); err != nil {
		return fmt.Errorf("failed to save nonce: %w", err)
	}
	return nil
}

// ErrNonceReused is returned when a request nonce does not advance
var ErrNonceReused = errors.New("nonce already used")

func loadConfig(r Reader) (*order.Config, error) {
	data, ok, err := r.Get(keyConfig)
	if err != nil || !ok {
		return nil, err
	}
	var cfg order.Config
	if err := decodeJSON(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func loadOrder(r Reader, id order.ID) (*order.Order, error) {
	data, ok, err := r.Get(orderKey(id))
	if err != nil || !ok {
		return nil, err
	}
	var o order.Order
	if err := decodeJSON(data, &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order %d: %w", id, err)
	}
	return &o, nil
}

func loadEventHead(r Reader) (eventHead, error) {
	data, ok, err := r.Get(keyEventHead)
	if err != nil || !ok {
		return eventHead{}, err
	}
	var head eventHead
	if err := decodeJSON(data, &head); err != nil {
		return eventHead{}, fmt.Errorf("failed to unmarshal event head: %w", err)
	}
	return head, nil
}
