package keeper

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/uhyunpark/trailstop/pkg/oracle"
	"github.com/uhyunpark/trailstop/pkg/order"
)

// Watchlist resolves the oracle ticker used to evaluate an order.
// Lookup order: per-order override, then the (sell, buy) pair, then the default.
//
//	default: other:XLMUSD
//	pairs:
//	  - sell: "0x..."
//	    buy: "0x..."
//	    ticker: other:XLMUSD
//	orders:
//	  "7": asset:0x...
type Watchlist struct {
	Default *oracle.Ticker
	pairs   map[pair]oracle.Ticker
	orders  map[order.ID]oracle.Ticker
}

type pair struct {
	sell, buy common.Address
}

type watchlistFile struct {
	Default string            `yaml:"default"`
	Pairs   []pairEntry       `yaml:"pairs"`
	Orders  map[string]string `yaml:"orders"`
}

type pairEntry struct {
	Sell   string `yaml:"sell"`
	Buy    string `yaml:"buy"`
	Ticker string `yaml:"ticker"`
}

// NewWatchlist returns a watchlist that maps every order to def (nil = none)
func NewWatchlist(def *oracle.Ticker) *Watchlist {
	return &Watchlist{
		Default: def,
		pairs:   make(map[pair]oracle.Ticker),
		orders:  make(map[order.ID]oracle.Ticker),
	}
}

// SetPair maps orders selling sell for buy to ticker
func (w *Watchlist) SetPair(sell, buy common.Address, ticker oracle.Ticker) {
	w.pairs[pair{sell, buy}] = ticker
}

// SetOrder maps one order to ticker
func (w *Watchlist) SetOrder(id order.ID, ticker oracle.Ticker) {
	w.orders[id] = ticker
}

// TickerFor returns the ticker for o, or false if none applies
func (w *Watchlist) TickerFor(o *order.Order) (oracle.Ticker, bool) {
	if t, ok := w.orders[o.ID]; ok {
		return t, true
	}
	if t, ok := w.pairs[pair{o.SellAsset, o.BuyAsset}]; ok {
		return t, true
	}
	if w.Default != nil {
		return *w.Default, true
	}
	return oracle.Ticker{}, false
}

// ParseWatchlist decodes a YAML watchlist
func ParseWatchlist(data []byte) (*Watchlist, error) {
	var f watchlistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode watchlist: %w", err)
	}

	w := NewWatchlist(nil)
	if f.Default != "" {
		t, err := oracle.ParseTicker(f.Default)
		if err != nil {
			return nil, fmt.Errorf("watchlist default: %w", err)
		}
		w.Default = &t
	}
	for i, p := range f.Pairs {
		if !common.IsHexAddress(p.Sell) || !common.IsHexAddress(p.Buy) {
			return nil, fmt.Errorf("watchlist pair %d: invalid asset address", i)
		}
		t, err := oracle.ParseTicker(p.Ticker)
		if err != nil {
			return nil, fmt.Errorf("watchlist pair %d: %w", i, err)
		}
		w.SetPair(common.HexToAddress(p.Sell), common.HexToAddress(p.Buy), t)
	}
	for idStr, tickerStr := range f.Orders {
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("watchlist order %q: invalid id", idStr)
		}
		t, err := oracle.ParseTicker(tickerStr)
		if err != nil {
			return nil, fmt.Errorf("watchlist order %q: %w", idStr, err)
		}
		w.SetOrder(order.ID(id), t)
	}
	return w, nil
}

// LoadWatchlist reads a YAML watchlist from path. defaultTicker, when set,
// fills in a missing default.
func LoadWatchlist(path, defaultTicker string) (*Watchlist, error) {
	w := NewWatchlist(nil)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read watchlist: %w", err)
		}
		if w, err = ParseWatchlist(data); err != nil {
			return nil, err
		}
	}
	if w.Default == nil && defaultTicker != "" {
		t, err := oracle.ParseTicker(defaultTicker)
		if err != nil {
			return nil, fmt.Errorf("default ticker: %w", err)
		}
		w.Default = &t
	}
	return w, nil
}
