package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/trailstop/pkg/oracle"
	"github.com/uhyunpark/trailstop/pkg/order"
	"github.com/uhyunpark/trailstop/pkg/storage"
)

// CreateSimpleTrigger escrows amount of sell and records an order that
// swaps it for buy once the price falls to triggerPrice
func (e *Engine) CreateSimpleTrigger(ctx context.Context, owner, sell, buy common.Address, amount, triggerPrice *big.Int) (order.ID, error) {
	if err := requireCaller(ctx, owner); err != nil {
		return 0, err
	}
	if !positive(amount) {
		return 0, order.Errorf(order.CodeInvalidParam, "amount must be positive")
	}
	if !positive(triggerPrice) {
		return 0, order.Errorf(order.CodeInvalidParam, "trigger price must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.Store.Begin()
	defer tx.Discard()

	if _, err := requireConfig(tx); err != nil {
		return 0, err
	}
	cond := order.SimpleTrigger{TriggerPrice: new(big.Int).Set(triggerPrice)}
	return e.place(ctx, tx, owner, sell, buy, amount, cond)
}

// CreateTrailingStopLoss escrows amount of sell and records an order that
// swaps it for buy once the price retraces trailBps from its running peak.
// The peak starts at the current oracle price for ticker.
func (e *Engine) CreateTrailingStopLoss(ctx context.Context, owner, sell, buy common.Address, amount *big.Int, trailBps uint32, ticker oracle.Ticker) (order.ID, error) {
	if err := requireCaller(ctx, owner); err != nil {
		return 0, err
	}
	if !positive(amount) {
		return 0, order.Errorf(order.CodeInvalidParam, "amount must be positive")
	}
	if trailBps == 0 || trailBps >= order.BpsDenominator {
		return 0, order.Errorf(order.CodeInvalidParam, "trail bps must be in (0, %d), got %d", order.BpsDenominator, trailBps)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.Store.Begin()
	defer tx.Discard()

	if _, err := requireConfig(tx); err != nil {
		return 0, err
	}
	px, err := e.quote(ctx, ticker)
	if err != nil {
		return 0, err
	}
	cond := order.TrailingStop{TrailBps: trailBps, PeakPrice: px}
	return e.place(ctx, tx, owner, sell, buy, amount, cond)
}

// place escrows funds, stores the Active record, advances the counter and
// emits the creation event, all inside tx
func (e *Engine) place(ctx context.Context, tx *storage.Tx, owner, sell, buy common.Address, amount *big.Int, cond order.Condition) (order.ID, error) {
	if err := e.Custody.Escrow(tx, owner, sell, amount); err != nil {
		return 0, err
	}

	id, err := tx.NextOrderID()
	if err != nil {
		return 0, err
	}
	now := e.now().UnixMilli()
	o := &order.Order{
		ID:           id,
		Owner:        owner,
		SellAsset:    sell,
		BuyAsset:     buy,
		AmountToSell: new(big.Int).Set(amount),
		Status:       order.StatusActive,
		Condition:    cond,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.Validate(); err != nil {
		return 0, order.Wrap(order.CodeInvalidParam, err, "order %d", id)
	}
	if err := tx.PutOrder(o); err != nil {
		return 0, err
	}
	if err := tx.PutNextOrderID(id + 1); err != nil {
		return 0, err
	}
	ev, err := tx.AppendEvent(order.CreatedEvent(owner, id, cond.Kind(), now))
	if err != nil {
		return 0, err
	}
	if err := e.commit(tx, ev); err != nil {
		return 0, err
	}

	e.Metrics.RecordCreated(ctx, string(cond.Kind()))
	e.log().Infow("order_created",
		"id", id,
		"owner", owner.Hex(),
		"kind", cond.Kind(),
		"sell", sell.Hex(),
		"buy", buy.Hex(),
		"amount", amount.String(),
	)
	return id, nil
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
