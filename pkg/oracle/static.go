package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"
)

// StaticFeed is an in-memory oracle whose prices are set explicitly.
// Used by the devnet node and by tests.
type StaticFeed struct {
	mu       sync.RWMutex
	decimals uint32
	prices   map[Ticker]Quote
}

func NewStaticFeed(decimals uint32) *StaticFeed {
	return &StaticFeed{
		decimals: decimals,
		prices:   make(map[Ticker]Quote),
	}
}

// SetPrice publishes a quote for ticker, timestamped now
func (f *StaticFeed) SetPrice(ticker Ticker, price *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[ticker] = Quote{Price: new(big.Int).Set(price), Timestamp: time.Now().Unix()}
}

// Clear removes the quote for ticker
func (f *StaticFeed) Clear(ticker Ticker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prices, ticker)
}

func (f *StaticFeed) LastPrice(_ context.Context, ticker Ticker) (Quote, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.prices[ticker]
	if !ok {
		return Quote{}, false, nil
	}
	return Quote{Price: new(big.Int).Set(q.Price), Timestamp: q.Timestamp}, true, nil
}

func (f *StaticFeed) Decimals(context.Context) (uint32, error) {
	return f.decimals, nil
}

var _ Client = (*StaticFeed)(nil)
