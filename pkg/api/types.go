package api

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/trailstop/pkg/order"
)

// API response types for REST endpoints and WebSocket messages.
// Integer amounts are decimal strings; prices also carry a scaled decimal.

// ==============================
// REST Response Types
// ==============================

// ConfigInfo represents the engine configuration block
type ConfigInfo struct {
	Admin         string `json:"admin"`
	Oracle        string `json:"oracle"`
	Router        string `json:"router"`
	Custody       string `json:"custody"`
	Decimals      uint32 `json:"decimals"`
	PriceScale    string `json:"priceScale"`
	InitializedAt int64  `json:"initializedAt"` // Unix milliseconds
}

// OrderInfo represents a stored order
type OrderInfo struct {
	ID           uint64 `json:"id"`
	Owner        string `json:"owner"`
	SellAsset    string `json:"sellAsset"`
	BuyAsset     string `json:"buyAsset"`
	AmountToSell string `json:"amountToSell"`
	Status       string `json:"status"`
	Kind         string `json:"kind"` // "simple" or "trail"

	TriggerPrice        string `json:"triggerPrice,omitempty"`
	TriggerPriceDecimal string `json:"triggerPriceDecimal,omitempty"`
	TrailBps            uint32 `json:"trailBps,omitempty"`
	PeakPrice           string `json:"peakPrice,omitempty"`
	PeakPriceDecimal    string `json:"peakPriceDecimal,omitempty"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// BalanceInfo represents one holder's balance of one asset
type BalanceInfo struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

// EventInfo represents an entry of the order event log
type EventInfo struct {
	Seq          uint64 `json:"seq"`
	Type         string `json:"type"`
	Owner        string `json:"owner"`
	OrderID      uint64 `json:"orderId"`
	Kind         string `json:"kind,omitempty"`
	Price        string `json:"price,omitempty"`
	PriceDecimal string `json:"priceDecimal,omitempty"`
	MinOutput    string `json:"minOutput,omitempty"`
	Timestamp    int64  `json:"timestamp"`
	Hash         string `json:"hash"`
}

// SubmitOrderResponse is returned for accepted signed requests
type SubmitOrderResponse struct {
	Status  string `json:"status"` // "active" or "cancelled"
	OrderID uint64 `json:"orderId"`
	Owner   string `json:"owner"`
}

// EvaluateResponse describes the result of one evaluation
type EvaluateResponse struct {
	OrderID      uint64   `json:"orderId"`
	Fired        bool     `json:"fired"`
	PeakUpdated  bool     `json:"peakUpdated"`
	Price        string   `json:"price"`
	PriceDecimal string   `json:"priceDecimal"`
	Threshold    string   `json:"threshold,omitempty"`
	MinOutput    string   `json:"minOutput,omitempty"`
	Amounts      []string `json:"amounts,omitempty"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ==============================
// REST Request Types
// ==============================

// EvaluateRequest asks for a permissionless evaluation of one order
type EvaluateRequest struct {
	Ticker          string `json:"ticker"` // "other:XLMUSD" or "asset:0x..."
	SlippageBps     uint32 `json:"slippageBps"`
	DeadlineSeconds uint64 `json:"deadlineSeconds"`
}

// FaucetRequest credits a devnet balance
type FaucetRequest struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

// PriceRequest sets a devnet oracle price. An empty price clears it.
type PriceRequest struct {
	Ticker string `json:"ticker"`
	Price  string `json:"price"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest represents a subscription request
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orders", "orders:0x742d..."]
}

// OrderEventUpdate is pushed for every committed order event
type OrderEventUpdate struct {
	Type  string    `json:"type"` // "order_event"
	Event EventInfo `json:"event"`
}

// ==============================
// Conversions
// ==============================

func intString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// priceDecimal renders an integer price scaled by 10^decimals
func priceDecimal(v *big.Int, decimals uint32) string {
	if v == nil {
		return ""
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}

func toOrderInfo(o *order.Order, decimals uint32) OrderInfo {
	info := OrderInfo{
		ID:           uint64(o.ID),
		Owner:        o.Owner.Hex(),
		SellAsset:    o.SellAsset.Hex(),
		BuyAsset:     o.BuyAsset.Hex(),
		AmountToSell: intString(o.AmountToSell),
		Status:       o.Status.String(),
		Kind:         string(o.Kind()),
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	switch c := o.Condition.(type) {
	case order.SimpleTrigger:
		info.TriggerPrice = intString(c.TriggerPrice)
		info.TriggerPriceDecimal = priceDecimal(c.TriggerPrice, decimals)
	case order.TrailingStop:
		info.TrailBps = c.TrailBps
		info.PeakPrice = intString(c.PeakPrice)
		info.PeakPriceDecimal = priceDecimal(c.PeakPrice, decimals)
	}
	return info
}

func toEventInfo(ev order.Event, decimals uint32) EventInfo {
	return EventInfo{
		Seq:          ev.Seq,
		Type:         string(ev.Type),
		Owner:        ev.Owner.Hex(),
		OrderID:      uint64(ev.OrderID),
		Kind:         string(ev.Kind),
		Price:        intString(ev.Price),
		PriceDecimal: priceDecimal(ev.Price, decimals),
		MinOutput:    intString(ev.MinOutput),
		Timestamp:    ev.Timestamp,
		Hash:         ev.Hash,
	}
}
