// Package oracle provides price-feed clients used to evaluate order conditions.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TickerType distinguishes on-ledger assets from off-ledger symbols
type TickerType string

const (
	TickerAsset TickerType = "asset"
	TickerOther TickerType = "other"
)

// Ticker identifies the series an oracle reports a price for
type Ticker struct {
	Type   TickerType     `json:"type"`
	Symbol string         `json:"symbol,omitempty"`  // TickerOther
	Asset  common.Address `json:"address,omitempty"` // TickerAsset
}

// Symbol returns an off-ledger ticker such as "XLMUSD"
func Symbol(s string) Ticker {
	return Ticker{Type: TickerOther, Symbol: s}
}

// Asset returns a ticker for an on-ledger asset
func Asset(addr common.Address) Ticker {
	return Ticker{Type: TickerAsset, Asset: addr}
}

// String renders "other:XLMUSD" or "asset:0x..."
func (t Ticker) String() string {
	if t.Type == TickerAsset {
		return string(TickerAsset) + ":" + t.Asset.Hex()
	}
	return string(TickerOther) + ":" + t.Symbol
}

// ParseTicker accepts "other:SYM", "asset:0x...", or a bare symbol
func ParseTicker(s string) (Ticker, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ticker{}, fmt.Errorf("empty ticker")
	}
	kind, value, found := strings.Cut(s, ":")
	if !found {
		return Symbol(s), nil
	}
	switch TickerType(kind) {
	case TickerOther:
		if value == "" {
			return Ticker{}, fmt.Errorf("empty ticker symbol")
		}
		return Symbol(value), nil
	case TickerAsset:
		if !common.IsHexAddress(value) {
			return Ticker{}, fmt.Errorf("invalid ticker asset address: %q", value)
		}
		return Asset(common.HexToAddress(value)), nil
	default:
		return Ticker{}, fmt.Errorf("unknown ticker type: %q", kind)
	}
}

// Quote is the latest known price for a ticker
type Quote struct {
	Price     *big.Int
	Timestamp int64 // Unix seconds as reported by the oracle
}

// Client is the price oracle consumed by the engine.
// LastPrice returns ok=false when the oracle has no quote for the ticker.
type Client interface {
	LastPrice(ctx context.Context, ticker Ticker) (Quote, bool, error)
	Decimals(ctx context.Context) (uint32, error)
}
