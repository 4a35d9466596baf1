package engine

import (
	"math/big"

	"github.com/uhyunpark/trailstop/pkg/order"
)

var bpsDenominator = big.NewInt(order.BpsDenominator)

// Decision is the result of applying a trigger condition to a price
type Decision struct {
	Fire       bool
	PeakRaised bool
	Threshold  *big.Int        // price at or below which the order fires
	Condition  order.Condition // condition to persist (peak raised for trailing stops)
}

// Evaluate applies cond to the observed price px.
//
// A simple trigger fires when px <= TriggerPrice.
// A trailing stop raises its peak when px > PeakPrice and does not fire;
// otherwise it fires when px <= floor(PeakPrice * (10000 - TrailBps) / 10000).
func Evaluate(cond order.Condition, px *big.Int) Decision {
	switch c := cond.(type) {
	case order.SimpleTrigger:
		return Decision{
			Fire:      px.Cmp(c.TriggerPrice) <= 0,
			Threshold: new(big.Int).Set(c.TriggerPrice),
			Condition: c,
		}
	case order.TrailingStop:
		if px.Cmp(c.PeakPrice) > 0 {
			raised := order.TrailingStop{TrailBps: c.TrailBps, PeakPrice: new(big.Int).Set(px)}
			return Decision{
				PeakRaised: true,
				Threshold:  TrailThreshold(raised.PeakPrice, c.TrailBps),
				Condition:  raised,
			}
		}
		th := TrailThreshold(c.PeakPrice, c.TrailBps)
		return Decision{
			Fire:      px.Cmp(th) <= 0,
			Threshold: th,
			Condition: c,
		}
	}
	return Decision{Condition: cond}
}

// TrailThreshold returns floor(peak * (10000 - trailBps) / 10000)
func TrailThreshold(peak *big.Int, trailBps uint32) *big.Int {
	return applyBps(peak, trailBps)
}

// SettlementBounds returns the quoted output floor(amount * px / scale) and
// the minimum acceptable output floor(quoted * (10000 - slippageBps) / 10000)
func SettlementBounds(amount, px, scale *big.Int, slippageBps uint32) (quoted, minOutput *big.Int) {
	quoted = new(big.Int).Mul(amount, px)
	quoted.Quo(quoted, scale)
	return quoted, applyBps(quoted, slippageBps)
}

// applyBps returns floor(v * (10000 - bps) / 10000) for non-negative v
func applyBps(v *big.Int, bps uint32) *big.Int {
	keep := new(big.Int).Sub(bpsDenominator, big.NewInt(int64(bps)))
	out := new(big.Int).Mul(v, keep)
	return out.Quo(out, bpsDenominator)
}
