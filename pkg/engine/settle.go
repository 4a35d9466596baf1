package engine

import (
	"context"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/trailstop/pkg/dex"
	"github.com/uhyunpark/trailstop/pkg/oracle"
	"github.com/uhyunpark/trailstop/pkg/order"
	"github.com/uhyunpark/trailstop/pkg/storage"
	"github.com/uhyunpark/trailstop/pkg/telemetry"
)

const maxDeadlineSeconds = uint64(math.MaxInt64 / int64(time.Second))

// Outcome describes a completed evaluation
type Outcome struct {
	OrderID     order.ID
	Fired       bool
	PeakUpdated bool
	Price       *big.Int
	Threshold   *big.Int
	MinOutput   *big.Int   // set when Fired
	Amounts     []*big.Int // router result, set when Fired
}

// EvaluateAndSettle checks an order's condition against the current price for
// ticker and, if it fires, swaps the escrow for the buy asset with the output
// sent to the order's owner. Anyone may call it.
//
// A non-firing evaluation commits at most a raised trailing peak and emits no
// event. A failed swap returns SwapFailed and commits nothing.
//
// Checks run in a fixed order: slippage range, initialization, order lookup,
// order status, then the oracle quote. The oracle is not queried for an order
// that cannot be settled.
func (e *Engine) EvaluateAndSettle(ctx context.Context, ticker oracle.Ticker, id order.ID, slippageBps uint32, deadlineSeconds uint64) (*Outcome, error) {
	if slippageBps >= order.BpsDenominator {
		return nil, order.Errorf(order.CodeInvalidParam, "slippage bps must be below %d, got %d", order.BpsDenominator, slippageBps)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.Store.Begin()
	defer tx.Discard()

	cfg, err := requireConfig(tx)
	if err != nil {
		return nil, err
	}
	o, err := tx.Order(id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, order.Errorf(order.CodeOrderNotFound, "order %d", id)
	}
	if !o.IsActive() {
		return nil, order.Errorf(order.CodeOrderNotActive, "order %d is %s", id, o.Status)
	}

	px, err := e.quote(ctx, ticker)
	if err != nil {
		e.Metrics.RecordEvaluation(ctx, telemetry.OutcomeFailed)
		return nil, err
	}

	now := e.now()
	d := Evaluate(o.Condition, px)
	out := &Outcome{OrderID: id, Price: px, Threshold: d.Threshold}

	if !d.Fire {
		if d.PeakRaised {
			o.Condition = d.Condition
			o.UpdatedAt = now.UnixMilli()
			if err := tx.PutOrder(o); err != nil {
				return nil, err
			}
			if err := e.commit(tx); err != nil {
				return nil, err
			}
			out.PeakUpdated = true
			e.Metrics.RecordEvaluation(ctx, telemetry.OutcomePeakRaised)
			e.log().Debugw("peak_raised", "id", id, "peak", px.String(), "threshold", d.Threshold.String())
			return out, nil
		}
		e.Metrics.RecordEvaluation(ctx, telemetry.OutcomeHeld)
		return out, nil
	}

	_, minOut := SettlementBounds(o.AmountToSell, px, cfg.PriceScale, slippageBps)
	amounts, err := e.swap(ctx, tx, cfg.Router, o, minOut, now, deadlineSeconds)
	if err != nil {
		e.Metrics.RecordEvaluation(ctx, telemetry.OutcomeFailed)
		e.Metrics.RecordSwapFailure(ctx)
		e.log().Warnw("swap_failed", "id", id, "price", px.String(), "min_output", minOut.String(), "err", err)
		return nil, err
	}

	o.Status = order.StatusExecuted
	o.UpdatedAt = now.UnixMilli()
	if err := tx.PutOrder(o); err != nil {
		return nil, err
	}
	ev, err := tx.AppendEvent(order.ExecutedEvent(o.Owner, id, px, minOut, now.UnixMilli()))
	if err != nil {
		return nil, err
	}
	if err := e.commit(tx, ev); err != nil {
		return nil, err
	}

	out.Fired = true
	out.MinOutput = minOut
	out.Amounts = amounts
	e.Metrics.RecordEvaluation(ctx, telemetry.OutcomeFired)
	e.Metrics.RecordExecuted(ctx)
	e.log().Infow("order_executed",
		"id", id,
		"owner", o.Owner.Hex(),
		"price", px.String(),
		"min_output", minOut.String(),
		"output", dex.Output(amounts).String(),
	)
	return out, nil
}

// swap grants the router an allowance over exactly the escrowed amount and
// executes [sell, buy] with the owner as recipient. Any failure is SwapFailed.
func (e *Engine) swap(ctx context.Context, tx *storage.Tx, router common.Address, o *order.Order, minOut *big.Int, now time.Time, deadlineSeconds uint64) ([]*big.Int, error) {
	grant, err := e.Custody.AuthorizeSpend(tx, o.SellAsset, router, o.AmountToSell, now.Add(e.allowanceTTL()))
	if err != nil {
		return nil, order.Wrap(order.CodeSwapFailed, err, "authorize router for order %d", o.ID)
	}

	req := dex.SwapRequest{
		AmountIn:  new(big.Int).Set(o.AmountToSell),
		MinOut:    new(big.Int).Set(minOut),
		Path:      []common.Address{o.SellAsset, o.BuyAsset},
		Recipient: o.Owner,
		Deadline:  now.Add(time.Duration(min(deadlineSeconds, maxDeadlineSeconds)) * time.Second),
		Funds:     grant,
	}
	amounts, err := e.Router.Swap(ctx, req)
	if err != nil {
		return nil, order.Wrap(order.CodeSwapFailed, err, "order %d", o.ID)
	}
	realized := dex.Output(amounts)
	if realized == nil {
		return nil, order.Errorf(order.CodeSwapFailed, "order %d: router reported no output", o.ID)
	}
	if realized.Cmp(minOut) < 0 {
		return nil, order.Errorf(order.CodeSwapFailed, "order %d: output %s below minimum %s", o.ID, realized, minOut)
	}
	return amounts, nil
}

func (e *Engine) allowanceTTL() time.Duration {
	if e.AllowanceTTL <= 0 {
		return DefaultAllowanceTTL
	}
	return e.AllowanceTTL
}
