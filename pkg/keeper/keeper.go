// Package keeper periodically evaluates Active orders so that their
// conditions are settled without the owner having to act.
package keeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/uhyunpark/trailstop/pkg/auth"
	"github.com/uhyunpark/trailstop/pkg/engine"
	"github.com/uhyunpark/trailstop/pkg/oracle"
	"github.com/uhyunpark/trailstop/pkg/order"
	"github.com/uhyunpark/trailstop/pkg/util"
)

// Evaluator is the part of the engine the keeper drives
type Evaluator interface {
	ActiveOrders(ctx context.Context) ([]*order.Order, error)
	EvaluateAndSettle(ctx context.Context, ticker oracle.Ticker, id order.ID, slippageBps uint32, deadlineSeconds uint64) (*engine.Outcome, error)
}

type Config struct {
	Address         common.Address // identity the keeper evaluates as
	Interval        time.Duration
	SlippageBps     uint32
	DeadlineSeconds uint64
	Concurrency     int
	Watchlist       *Watchlist

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:        10 * time.Second,
		SlippageBps:     100,
		DeadlineSeconds: 300,
		Concurrency:     4,
		Watchlist:       NewWatchlist(nil),
		InitialBackoff:  5 * time.Second,
		MaxBackoff:      5 * time.Minute,
	}
}

// Summary counts the outcomes of one pass
type Summary struct {
	RunID       string
	Evaluated   int
	Fired       int
	PeakUpdates int
	Failed      int
	Skipped     int // no ticker, backing off, or no longer Active
}

// retryState tracks an order whose last settlement attempt failed
type retryState struct {
	backoff *backoff.ExponentialBackOff
	next    time.Time
}

type Keeper struct {
	cfg   Config
	eval  Evaluator
	clock util.Clock

	Logger *zap.SugaredLogger

	mu    sync.Mutex
	retry map[order.ID]*retryState
}

func New(cfg Config, eval Evaluator, clock util.Clock) *Keeper {
	if clock == nil {
		clock = util.RealClock{}
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.InitialBackoff)
	}
	if cfg.Watchlist == nil {
		cfg.Watchlist = NewWatchlist(nil)
	}
	return &Keeper{
		cfg:   cfg,
		eval:  eval,
		clock: clock,
		retry: make(map[order.ID]*retryState),
	}
}

func (k *Keeper) log() *zap.SugaredLogger {
	return util.OrNop(k.Logger)
}

// Run evaluates all Active orders every Interval until ctx is cancelled
func (k *Keeper) Run(ctx context.Context) error {
	k.log().Infow("keeper_started",
		"address", k.cfg.Address.Hex(),
		"interval_ms", k.cfg.Interval.Milliseconds(),
		"slippage_bps", k.cfg.SlippageBps,
		"concurrency", k.cfg.Concurrency,
	)

	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := k.RunOnce(ctx); err != nil && ctx.Err() == nil {
			k.log().Errorw("keeper_pass_failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single pass over the Active orders
func (k *Keeper) RunOnce(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: uuid.NewString()}

	orders, err := k.eval.ActiveOrders(ctx)
	if err != nil {
		return sum, err
	}

	callCtx := auth.WithCaller(ctx, k.cfg.Address)
	now := k.clock.Now()

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(k.cfg.Concurrency)
	for _, o := range orders {
		ticker, ok := k.cfg.Watchlist.TickerFor(o)
		if !ok || k.backingOff(o.ID, now) {
			sum.Skipped++
			continue
		}
		o := o
		p.Go(func() {
			res := k.evaluate(callCtx, ticker, o)
			mu.Lock()
			sum.add(res)
			mu.Unlock()
		})
	}
	p.Wait()

	if sum.Evaluated > 0 || sum.Failed > 0 {
		k.log().Infow("keeper_pass",
			"run_id", sum.RunID,
			"evaluated", sum.Evaluated,
			"fired", sum.Fired,
			"peak_updates", sum.PeakUpdates,
			"failed", sum.Failed,
			"skipped", sum.Skipped,
		)
	}
	return sum, nil
}

type result int

const (
	resultHeld result = iota
	resultFired
	resultPeak
	resultFailed
	resultStale
)

func (s *Summary) add(r result) {
	if r == resultStale {
		s.Skipped++
		return
	}
	s.Evaluated++
	switch r {
	case resultFired:
		s.Fired++
	case resultPeak:
		s.PeakUpdates++
	case resultFailed:
		s.Failed++
	}
}

func (k *Keeper) evaluate(ctx context.Context, ticker oracle.Ticker, o *order.Order) result {
	out, err := k.eval.EvaluateAndSettle(ctx, ticker, o.ID, k.cfg.SlippageBps, k.cfg.DeadlineSeconds)
	switch {
	case err == nil:
		k.clearRetry(o.ID)
		if out.Fired {
			k.log().Infow("keeper_fired", "id", o.ID, "owner", o.Owner.Hex(), "price", out.Price.String())
			return resultFired
		}
		if out.PeakUpdated {
			return resultPeak
		}
		return resultHeld

	case errors.Is(err, order.ErrSwapFailed), errors.Is(err, order.ErrPriceNotAvailable):
		wait := k.scheduleRetry(o.ID)
		k.log().Warnw("keeper_retry_scheduled", "id", o.ID, "ticker", ticker.String(), "wait_ms", wait.Milliseconds(), "err", err)
		return resultFailed

	case errors.Is(err, order.ErrOrderNotActive), errors.Is(err, order.ErrOrderNotFound):
		k.clearRetry(o.ID)
		return resultStale

	default:
		k.log().Errorw("keeper_evaluate_failed", "id", o.ID, "err", err)
		return resultFailed
	}
}

func (k *Keeper) backingOff(id order.ID, now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	st, ok := k.retry[id]
	return ok && now.Before(st.next)
}

func (k *Keeper) scheduleRetry(id order.ID) time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()

	st, ok := k.retry[id]
	if !ok {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = k.cfg.InitialBackoff
		b.MaxInterval = k.cfg.MaxBackoff
		b.Multiplier = 2
		b.RandomizationFactor = 0
		st = &retryState{backoff: b}
		k.retry[id] = st
	}
	wait := st.backoff.NextBackOff()
	if wait == backoff.Stop {
		wait = k.cfg.MaxBackoff
	}
	st.next = k.clock.Now().Add(wait)
	return wait
}

func (k *Keeper) clearRetry(id order.ID) {
	k.mu.Lock()
	delete(k.retry, id)
	k.mu.Unlock()
}

// Pending returns how many orders are currently backing off
func (k *Keeper) Pending() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.retry)
}
