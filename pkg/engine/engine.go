// Package engine implements the conditional-order state machine: escrowed
// order creation, cancellation, trigger evaluation and settlement.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/trailstop/pkg/auth"
	"github.com/uhyunpark/trailstop/pkg/custody"
	"github.com/uhyunpark/trailstop/pkg/dex"
	"github.com/uhyunpark/trailstop/pkg/oracle"
	"github.com/uhyunpark/trailstop/pkg/order"
	"github.com/uhyunpark/trailstop/pkg/storage"
	"github.com/uhyunpark/trailstop/pkg/telemetry"
	"github.com/uhyunpark/trailstop/pkg/util"
)

// DefaultAllowanceTTL bounds how long the router may pull escrowed funds
// during one settlement
const DefaultAllowanceTTL = 1000 * time.Second

// Custodian moves funds in and out of escrow inside the caller's transaction.
// Implemented by custody.Ledger.
type Custodian interface {
	Escrow(tx *storage.Tx, owner, asset common.Address, amount *big.Int) error
	Release(tx *storage.Tx, asset common.Address, amount *big.Int, to common.Address) error
	AuthorizeSpend(tx *storage.Tx, asset, spender common.Address, amount *big.Int, validUntil time.Time) (*custody.Grant, error)
}

// Engine owns the order registry and the id counter.
// Operations are serialized; each runs in one storage transaction that is
// committed only after every external call has succeeded.
type Engine struct {
	Store   *storage.Store
	Custody Custodian
	Oracle  oracle.Client
	Router  dex.Router

	Clock        util.Clock
	Logger       *zap.SugaredLogger
	Metrics      *telemetry.Metrics
	AllowanceTTL time.Duration

	// OnEvent is called with each event after its transaction commits
	OnEvent func(order.Event)

	mu sync.Mutex
}

func New(store *storage.Store, custodian Custodian, oracleClient oracle.Client, router dex.Router) *Engine {
	return &Engine{
		Store:        store,
		Custody:      custodian,
		Oracle:       oracleClient,
		Router:       router,
		Clock:        util.RealClock{},
		AllowanceTTL: DefaultAllowanceTTL,
	}
}

func (e *Engine) log() *zap.SugaredLogger {
	return util.OrNop(e.Logger)
}

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

// Initialize writes the configuration block once. The oracle's decimals are
// read here and fixed for the lifetime of the deployment.
func (e *Engine) Initialize(ctx context.Context, admin, oracleAddr, routerAddr common.Address) (*order.Config, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.Store.Begin()
	defer tx.Discard()

	existing, err := tx.Config()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, order.Errorf(order.CodeAlreadyInitialized, "initialized by %s", existing.Admin.Hex())
	}

	decimals, err := e.Oracle.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("read oracle decimals: %w", err)
	}
	if decimals > order.MaxDecimals {
		return nil, order.Errorf(order.CodeInvalidParam, "oracle decimals %d exceed %d", decimals, order.MaxDecimals)
	}

	cfg := &order.Config{
		Admin:         admin,
		Oracle:        oracleAddr,
		Router:        routerAddr,
		Decimals:      decimals,
		PriceScale:    order.PriceScaleFor(decimals),
		InitializedAt: e.now().UnixMilli(),
	}
	if err := tx.PutConfig(cfg); err != nil {
		return nil, err
	}
	if err := tx.PutNextOrderID(0); err != nil {
		return nil, err
	}
	if err := e.commit(tx); err != nil {
		return nil, err
	}

	e.log().Infow("engine_initialized",
		"admin", admin.Hex(),
		"oracle", oracleAddr.Hex(),
		"router", routerAddr.Hex(),
		"decimals", decimals,
	)
	return cfg, nil
}

// Config returns the configuration block
func (e *Engine) Config(context.Context) (*order.Config, error) {
	cfg, err := e.Store.Config()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, order.ErrNotInitialized
	}
	return cfg, nil
}

// GetOrder returns a copy of the stored order
func (e *Engine) GetOrder(_ context.Context, id order.ID) (*order.Order, error) {
	o, err := e.Store.Order(id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, order.Errorf(order.CodeOrderNotFound, "order %d", id)
	}
	return o, nil
}

// OrdersByOwner returns every order of owner, oldest first
func (e *Engine) OrdersByOwner(_ context.Context, owner common.Address) ([]*order.Order, error) {
	return e.Store.OrdersByOwner(owner)
}

// ActiveOrders returns every Active order, oldest first
func (e *Engine) ActiveOrders(context.Context) ([]*order.Order, error) {
	return e.Store.ActiveOrders()
}

// Events returns up to limit committed events starting at sequence from
func (e *Engine) Events(_ context.Context, from uint64, limit int) ([]order.Event, error) {
	return e.Store.Events(from, limit)
}

// Update runs fn inside a batch serialized with engine operations and commits
// it when fn succeeds. Used for ledger maintenance such as devnet deposits.
func (e *Engine) Update(fn func(tx *storage.Tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.Store.Begin()
	defer tx.Discard()
	if err := fn(tx); err != nil {
		return err
	}
	return e.commit(tx)
}

// requireConfig loads the configuration block through tx
func requireConfig(tx *storage.Tx) (*order.Config, error) {
	cfg, err := tx.Config()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, order.ErrNotInitialized
	}
	return cfg, nil
}

// requireCaller checks that ctx was authenticated as owner
func requireCaller(ctx context.Context, owner common.Address) error {
	if !auth.IsCaller(ctx, owner) {
		return order.Errorf(order.CodeUnauthorized, "caller is not %s", owner.Hex())
	}
	return nil
}

// quote fetches a usable price for ticker
func (e *Engine) quote(ctx context.Context, ticker oracle.Ticker) (*big.Int, error) {
	q, ok, err := e.Oracle.LastPrice(ctx, ticker)
	if err != nil {
		return nil, order.Wrap(order.CodePriceNotAvailable, err, "ticker %s", ticker)
	}
	if !ok || q.Price == nil || q.Price.Sign() <= 0 {
		return nil, order.Errorf(order.CodePriceNotAvailable, "ticker %s", ticker)
	}
	return q.Price, nil
}

// commit writes tx and then publishes its events
func (e *Engine) commit(tx *storage.Tx, events ...order.Event) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if e.OnEvent != nil {
		for _, ev := range events {
			e.OnEvent(ev)
		}
	}
	return nil
}
