package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/trailstop/pkg/order"
)

// CancelOrder releases the full escrow of an Active order back to its owner
func (e *Engine) CancelOrder(ctx context.Context, owner common.Address, id order.ID) error {
	if err := requireCaller(ctx, owner); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.Store.Begin()
	defer tx.Discard()

	if _, err := requireConfig(tx); err != nil {
		return err
	}
	o, err := tx.Order(id)
	if err != nil {
		return err
	}
	if o == nil {
		return order.Errorf(order.CodeOrderNotFound, "order %d", id)
	}
	if o.Owner != owner {
		return order.Errorf(order.CodeUnauthorized, "order %d is owned by %s", id, o.Owner.Hex())
	}
	if !o.IsActive() {
		return order.Errorf(order.CodeOrderNotActive, "order %d is %s", id, o.Status)
	}

	if err := e.Custody.Release(tx, o.SellAsset, o.AmountToSell, o.Owner); err != nil {
		return err
	}

	now := e.now().UnixMilli()
	o.Status = order.StatusCancelled
	o.UpdatedAt = now
	if err := tx.PutOrder(o); err != nil {
		return err
	}
	ev, err := tx.AppendEvent(order.CancelledEvent(o.Owner, id, now))
	if err != nil {
		return err
	}
	if err := e.commit(tx, ev); err != nil {
		return err
	}

	e.Metrics.RecordCancelled(ctx)
	e.log().Infow("order_cancelled", "id", id, "owner", owner.Hex(), "refund", o.AmountToSell.String())
	return nil
}
