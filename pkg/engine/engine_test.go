package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/trailstop/pkg/auth"
	"github.com/uhyunpark/trailstop/pkg/custody"
	"github.com/uhyunpark/trailstop/pkg/dex"
	"github.com/uhyunpark/trailstop/pkg/oracle"
	"github.com/uhyunpark/trailstop/pkg/order"
	"github.com/uhyunpark/trailstop/pkg/storage"
	"github.com/uhyunpark/trailstop/pkg/util"
)

var (
	admin      = common.HexToAddress("0xad")
	oracleAddr = common.HexToAddress("0x0c")
	routerAddr = common.HexToAddress("0x0e")
	custodyAcc = common.HexToAddress("0xc0")
	venueAcc   = common.HexToAddress("0xfe")
	alice      = common.HexToAddress("0xa11ce")
	bob        = common.HexToAddress("0xb0b")
	keeperAcc  = common.HexToAddress("0x4ee9e4")
	xlm        = common.HexToAddress("0x11")
	usdc       = common.HexToAddress("0x22")

	xlmusd = oracle.Symbol("XLMUSD")
)

const decimals = 2 // prices in cents

type harness struct {
	t      *testing.T
	store  *storage.Store
	ledger *custody.Ledger
	feed   *oracle.StaticFeed
	router *dex.MemoryRouter
	clock  *util.ManualClock
	eng    *Engine
	events []order.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	ledger := custody.NewLedger(custodyAcc, clock)
	feed := oracle.NewStaticFeed(decimals)
	router := dex.NewMemoryRouter(venueAcc, clock)
	router.SetRate(xlm, usdc, 1, 10) // 1 XLM = 0.10 USDC

	h := &harness{t: t, store: st, ledger: ledger, feed: feed, router: router, clock: clock}
	h.eng = New(st, ledger, feed, router)
	h.eng.Clock = clock
	h.eng.OnEvent = func(ev order.Event) { h.events = append(h.events, ev) }
	return h
}

func (h *harness) init() {
	h.t.Helper()
	if _, err := h.eng.Initialize(context.Background(), admin, oracleAddr, routerAddr); err != nil {
		h.t.Fatalf("initialize: %v", err)
	}
}

func (h *harness) fund(holder, asset common.Address, amount int64) {
	h.t.Helper()
	tx := h.store.Begin()
	defer tx.Discard()
	if err := h.ledger.Deposit(tx, holder, asset, big.NewInt(amount)); err != nil {
		h.t.Fatalf("deposit: %v", err)
	}
	if err := tx.Commit(); err != nil {
		h.t.Fatalf("commit deposit: %v", err)
	}
}

func (h *harness) balance(holder, asset common.Address) int64 {
	h.t.Helper()
	bal, err := h.ledger.Balance(h.store, holder, asset)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func (h *harness) price(px int64) {
	h.feed.SetPrice(xlmusd, big.NewInt(px))
}

func (h *harness) order(id order.ID) *order.Order {
	h.t.Helper()
	o, err := h.eng.GetOrder(context.Background(), id)
	if err != nil {
		h.t.Fatalf("get order %d: %v", id, err)
	}
	return o
}

func as(addr common.Address) context.Context {
	return auth.WithCaller(context.Background(), addr)
}

func wantCode(t *testing.T, err error, code order.Code) {
	t.Helper()
	if got := order.CodeOf(err); got != code {
		t.Fatalf("err = %v (code %q), want code %q", err, got, code)
	}
}

func TestInitializeOnce(t *testing.T) {
	h := newHarness(t)
	h.init()

	cfg, err := h.eng.Config(context.Background())
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.PriceScale.Int64() != 100 {
		t.Errorf("price scale = %s, want 100", cfg.PriceScale)
	}

	_, err = h.eng.Initialize(context.Background(), bob, bob, bob)
	if !errors.Is(err, order.ErrAlreadyInitialized) {
		t.Fatalf("second initialize err = %v, want AlreadyInitialized", err)
	}
	cfg2, _ := h.eng.Config(context.Background())
	if cfg2.Admin != admin || cfg2.Router != routerAddr {
		t.Errorf("config changed by rejected initialize: %+v", cfg2)
	}
}

func TestOperationsBeforeInitialize(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, xlm, 1_000)

	_, err := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(10), big.NewInt(5))
	if !errors.Is(err, order.ErrNotInitialized) {
		t.Fatalf("create err = %v, want NotInitialized", err)
	}
	if _, err := h.eng.Config(context.Background()); !errors.Is(err, order.ErrNotInitialized) {
		t.Fatalf("config err = %v, want NotInitialized", err)
	}
}

func TestCreateAssignsIncreasingIDs(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.fund(alice, xlm, 1_000)

	for want := order.ID(0); want < 3; want++ {
		id, err := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(100), big.NewInt(9))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if id != want {
			t.Errorf("id = %d, want %d", id, want)
		}
	}

	if got := h.balance(alice, xlm); got != 700 {
		t.Errorf("alice balance = %d, want 700", got)
	}
	if got := h.balance(custodyAcc, xlm); got != 300 {
		t.Errorf("escrow = %d, want 300", got)
	}
	if len(h.events) != 3 || h.events[2].Kind != order.KindSimple || h.events[2].Type != order.EventCreated {
		t.Fatalf("unexpected events: %+v", h.events)
	}

	o := h.order(1)
	if o.Status != order.StatusActive || o.Owner != alice || o.AmountToSell.Int64() != 100 {
		t.Errorf("unexpected order: %+v", o)
	}
}

func TestCreateRejectsInvalidParams(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.fund(alice, xlm, 1_000)
	h.price(50)

	tests := []struct {
		name   string
		create func() error
	}{
		{"zero amount", func() error {
			_, err := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(0), big.NewInt(5))
			return err
		}},
		{"negative amount", func() error {
			_, err := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(-1), big.NewInt(5))
			return err
		}},
		{"zero trigger", func() error {
			_, err := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(10), big.NewInt(0))
			return err
		}},
		{"zero trail", func() error {
			_, err := h.eng.CreateTrailingStopLoss(as(alice), alice, xlm, usdc, big.NewInt(10), 0, xlmusd)
			return err
		}},
		{"full trail", func() error {
			_, err := h.eng.CreateTrailingStopLoss(as(alice), alice, xlm, usdc, big.NewInt(10), 10_000, xlmusd)
			return err
		}},
		{"trail zero amount", func() error {
			_, err := h.eng.CreateTrailingStopLoss(as(alice), alice, xlm, usdc, big.NewInt(0), 500, xlmusd)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantCode(t, tt.create(), order.CodeInvalidParam)
		})
	}

	if got := h.balance(alice, xlm); got != 1_000 {
		t.Errorf("rejected creates moved funds: balance %d", got)
	}
	if len(h.events) != 0 {
		t.Errorf("rejected creates emitted events: %+v", h.events)
	}
	id, err := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(10), big.NewInt(5))
	if err != nil || id != 0 {
		t.Fatalf("first valid create = (%d, %v), want (0, nil)", id, err)
	}
}

func TestCreateRequiresOwnerCaller(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.fund(alice, xlm, 1_000)

	_, err := h.eng.CreateSimpleTrigger(as(bob), alice, xlm, usdc, big.NewInt(10), big.NewInt(5))
	wantCode(t, err, order.CodeUnauthorized)

	_, err = h.eng.CreateSimpleTrigger(context.Background(), alice, xlm, usdc, big.NewInt(10), big.NewInt(5))
	wantCode(t, err, order.CodeUnauthorized)

	if got := h.balance(alice, xlm); got != 1_000 {
		t.Errorf("unauthorized create moved funds: balance %d", got)
	}
}

func TestCreateInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.fund(alice, xlm, 50)

	_, err := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(100), big.NewInt(5))
	if !errors.Is(err, custody.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	id, err := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(50), big.NewInt(5))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != 0 {
		t.Errorf("failed create advanced the counter: id = %d", id)
	}
}

func TestCreateTrailingStopLoss(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.fund(alice, xlm, 1_000)

	_, err := h.eng.CreateTrailingStopLoss(as(alice), alice, xlm, usdc, big.NewInt(100), 500, xlmusd)
	wantCode(t, err, order.CodePriceNotAvailable)
	if got := h.balance(alice, xlm); got != 1_000 {
		t.Errorf("failed create moved funds: balance %d", got)
	}

	h.price(120)
	id, err := h.eng.CreateTrailingStopLoss(as(alice), alice, xlm, usdc, big.NewInt(100), 500, xlmusd)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	o := h.order(id)
	ts, ok := o.Condition.(order.TrailingStop)
	if !ok {
		t.Fatalf("condition = %T, want TrailingStop", o.Condition)
	}
	if ts.PeakPrice.Int64() != 120 || ts.TrailBps != 500 {
		t.Errorf("condition = %+v, want peak 120 trail 500", ts)
	}
	if h.events[0].Kind != order.KindTrail {
		t.Errorf("created event kind = %q, want trail", h.events[0].Kind)
	}
}

func TestCancelOrder(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.fund(alice, xlm, 1_000)

	id, _ := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(400), big.NewInt(5))

	wantCode(t, h.eng.CancelOrder(as(bob), bob, id), order.CodeUnauthorized)
	wantCode(t, h.eng.CancelOrder(as(bob), alice, id), order.CodeUnauthorized)
	wantCode(t, h.eng.CancelOrder(as(alice), alice, 99), order.CodeOrderNotFound)

	if err := h.eng.CancelOrder(as(alice), alice, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := h.balance(alice, xlm); got != 1_000 {
		t.Errorf("alice balance after cancel = %d, want 1000", got)
	}
	if got := h.balance(custodyAcc, xlm); got != 0 {
		t.Errorf("escrow after cancel = %d, want 0", got)
	}
	if o := h.order(id); o.Status != order.StatusCancelled {
		t.Errorf("status = %s, want cancelled", o.Status)
	}

	wantCode(t, h.eng.CancelOrder(as(alice), alice, id), order.CodeOrderNotActive)
	if got := h.balance(alice, xlm); got != 1_000 {
		t.Errorf("second cancel refunded again: balance %d", got)
	}

	last := h.events[len(h.events)-1]
	if last.Type != order.EventCancelled || last.OrderID != id || last.Owner != alice {
		t.Errorf("last event = %+v, want cancelled for order %d", last, id)
	}
}

func TestSimpleTriggerSettlement(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.fund(alice, xlm, 1_000)

	id, _ := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(1_000), big.NewInt(10))

	h.price(11)
	out, err := h.eng.EvaluateAndSettle(as(keeperAcc), xlmusd, id, 100, 60)
	if err != nil {
		t.Fatalf("evaluate above trigger: %v", err)
	}
	if out.Fired || out.PeakUpdated {
		t.Fatalf("fired above trigger: %+v", out)
	}
	if len(h.events) != 1 {
		t.Errorf("non-firing evaluation emitted events: %+v", h.events[1:])
	}

	h.price(10)
	out, err = h.eng.EvaluateAndSettle(as(keeperAcc), xlmusd, id, 100, 60)
	if err != nil {
		t.Fatalf("evaluate at trigger: %v", err)
	}
	if !out.Fired {
		t.Fatal("did not fire at trigger price")
	}
	// quoted = 1000 * 10 / 100 = 100; min = 100 * 9900 / 10000 = 99
	if out.MinOutput.Int64() != 99 {
		t.Errorf("min output = %s, want 99", out.MinOutput)
	}

	if o := h.order(id); o.Status != order.StatusExecuted {
		t.Errorf("status = %s, want executed", o.Status)
	}
	if got := h.balance(custodyAcc, xlm); got != 0 {
		t.Errorf("escrow after settlement = %d, want 0", got)
	}
	if got := h.balance(venueAcc, xlm); got != 1_000 {
		t.Errorf("router received %d, want 1000", got)
	}

	fills := h.router.Fills()
	if len(fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(fills))
	}
	if fills[0].Recipient != alice {
		t.Errorf("recipient = %s, want owner %s", fills[0].Recipient.Hex(), alice.Hex())
	}
	if len(fills[0].Path) != 2 || fills[0].Path[0] != xlm || fills[0].Path[1] != usdc {
		t.Errorf("path = %v, want [sell, buy]", fills[0].Path)
	}
	if want := h.clock.Now().Add(60 * time.Second); !fills[0].Deadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", fills[0].Deadline, want)
	}

	ev := h.events[len(h.events)-1]
	if ev.Type != order.EventExecuted || ev.Price.Int64() != 10 || ev.MinOutput.Int64() != 99 || ev.Owner != alice {
		t.Errorf("executed event = %+v", ev)
	}

	_, err = h.eng.EvaluateAndSettle(as(keeperAcc), xlmusd, id, 100, 60)
	wantCode(t, err, order.CodeOrderNotActive)
	wantCode(t, h.eng.CancelOrder(as(alice), alice, id), order.CodeOrderNotActive)
}

func TestTrailingStopTracksPeak(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.fund(alice, xlm, 1_000)

	h.router.SetRate(xlm, usdc, 6, 5) // venue pays 1.20
	h.price(100)
	id, _ := h.eng.CreateTrailingStopLoss(as(alice), alice, xlm, usdc, big.NewInt(1_000), 1_000, xlmusd)

	steps := []struct {
		px       int64
		fired    bool
		raised   bool
		wantPeak int64
	}{
		{px: 110, raised: true, wantPeak: 110},
		{px: 105, wantPeak: 110},               // threshold 99
		{px: 130, raised: true, wantPeak: 130}, // threshold 117
		{px: 130, wantPeak: 130},               // equal to peak: no raise, no fire
		{px: 118, wantPeak: 130},
		{px: 117, fired: true, wantPeak: 130},
	}
	for i, s := range steps {
		h.price(s.px)
		out, err := h.eng.EvaluateAndSettle(context.Background(), xlmusd, id, 500, 60)
		if err != nil {
			t.Fatalf("step %d: evaluate: %v", i, err)
		}
		if out.Fired != s.fired || out.PeakUpdated != s.raised {
			t.Fatalf("step %d (px %d): fired=%v raised=%v, want fired=%v raised=%v", i, s.px, out.Fired, out.PeakUpdated, s.fired, s.raised)
		}
		ts := h.order(id).Condition.(order.TrailingStop)
		if ts.PeakPrice.Int64() != s.wantPeak {
			t.Errorf("step %d: peak = %s, want %d", i, ts.PeakPrice, s.wantPeak)
		}
	}

	created, executed := 0, 0
	for _, ev := range h.events {
		switch ev.Type {
		case order.EventCreated:
			created++
		case order.EventExecuted:
			executed++
		default:
			t.Errorf("unexpected event %s", ev.Type)
		}
	}
	if created != 1 || executed != 1 {
		t.Errorf("events: created=%d executed=%d, want 1 and 1 (peak updates emit nothing)", created, executed)
	}
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.fund(alice, xlm, 1_000)
	id, _ := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(100), big.NewInt(10))

	_, err := h.eng.EvaluateAndSettle(context.Background(), xlmusd, id, 10_000, 60)
	wantCode(t, err, order.CodeInvalidParam)

	_, err = h.eng.EvaluateAndSettle(context.Background(), xlmusd, 42, 100, 60)
	wantCode(t, err, order.CodeOrderNotFound)

	_, err = h.eng.EvaluateAndSettle(context.Background(), xlmusd, id, 100, 60)
	wantCode(t, err, order.CodePriceNotAvailable)

	if o := h.order(id); o.Status != order.StatusActive {
		t.Errorf("status = %s, want active", o.Status)
	}
}

func TestSwapFailureCommitsNothing(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.fund(alice, xlm, 1_000)
	id, _ := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(1_000), big.NewInt(10))
	eventsBefore := len(h.events)

	h.price(9)
	h.router.SetFailing(true)
	_, err := h.eng.EvaluateAndSettle(context.Background(), xlmusd, id, 100, 60)
	wantCode(t, err, order.CodeSwapFailed)

	if o := h.order(id); o.Status != order.StatusActive {
		t.Errorf("status = %s, want active", o.Status)
	}
	if got := h.balance(custodyAcc, xlm); got != 1_000 {
		t.Errorf("escrow = %d, want 1000", got)
	}
	a, err := h.ledger.Allowance(h.store, xlm, routerAddr)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if a != nil {
		t.Errorf("allowance survived a failed settlement: %+v", a)
	}
	if len(h.events) != eventsBefore {
		t.Errorf("failed settlement emitted events")
	}

	h.router.SetFailing(false)
	out, err := h.eng.EvaluateAndSettle(context.Background(), xlmusd, id, 100, 60)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !out.Fired {
		t.Fatal("retry did not fire")
	}
}

func TestSwapBelowMinimumFails(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.fund(alice, xlm, 1_000)
	id, _ := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(1_000), big.NewInt(10))

	// oracle says 0.10, venue pays 0.05
	h.router.SetRate(xlm, usdc, 1, 20)
	h.price(10)

	_, err := h.eng.EvaluateAndSettle(context.Background(), xlmusd, id, 100, 60)
	wantCode(t, err, order.CodeSwapFailed)

	// 60% tolerance accepts the 50% shortfall
	out, err := h.eng.EvaluateAndSettle(context.Background(), xlmusd, id, 6_000, 60)
	if err != nil {
		t.Fatalf("evaluate with wide slippage: %v", err)
	}
	if dex.Output(out.Amounts).Int64() != 50 {
		t.Errorf("output = %s, want 50", dex.Output(out.Amounts))
	}
}

func TestExpiredDeadlineFails(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.fund(alice, xlm, 1_000)
	id, _ := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(1_000), big.NewInt(10))
	h.price(10)

	// the router checks its own clock against now + 0s after the engine stamped it
	h.router = dex.NewMemoryRouter(venueAcc, laggingClock{h.clock, time.Second})
	h.router.SetRate(xlm, usdc, 1, 10)
	h.eng.Router = h.router

	_, err := h.eng.EvaluateAndSettle(context.Background(), xlmusd, id, 100, 0)
	wantCode(t, err, order.CodeSwapFailed)
}

type laggingClock struct {
	*util.ManualClock
	lag time.Duration
}

func (c laggingClock) Now() time.Time { return c.ManualClock.Now().Add(c.lag) }

func TestEventLogChains(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.fund(alice, xlm, 1_000)

	id0, _ := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(100), big.NewInt(10))
	_, _ = h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(100), big.NewInt(10))
	_ = h.eng.CancelOrder(as(alice), alice, id0)

	events, err := h.eng.Events(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d seq = %d", i, ev.Seq)
		}
		if ev.Hash != h.events[i].Hash {
			t.Errorf("event %d hash differs between log and listener", i)
		}
	}
	if idx, err := storage.VerifyEventChain("", events); err != nil || idx != -1 {
		t.Fatalf("chain broken at %d: %v", idx, err)
	}

	events[1].OrderID = 7
	if idx, _ := storage.VerifyEventChain("", events); idx != 1 {
		t.Errorf("tampered event detected at %d, want 1", idx)
	}
}

func TestOrdersByOwner(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.fund(alice, xlm, 1_000)
	h.fund(bob, xlm, 1_000)

	_, _ = h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(100), big.NewInt(10))
	_, _ = h.eng.CreateSimpleTrigger(as(bob), bob, xlm, usdc, big.NewInt(100), big.NewInt(10))
	id2, _ := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(100), big.NewInt(10))
	_ = h.eng.CancelOrder(as(alice), alice, id2)

	orders, err := h.eng.OrdersByOwner(context.Background(), alice)
	if err != nil {
		t.Fatalf("orders by owner: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != 0 || orders[1].ID != 2 {
		t.Fatalf("alice orders = %+v", orders)
	}

	active, err := h.eng.ActiveOrders(context.Background())
	if err != nil {
		t.Fatalf("active orders: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("active orders = %d, want 2", len(active))
	}
}

func TestCustodyAccountCannotPlaceOrders(t *testing.T) {
	h := newHarness(t)
	h.init()
	h.fund(alice, xlm, 500)
	if _, err := h.eng.CreateSimpleTrigger(as(alice), alice, xlm, usdc, big.NewInt(500), big.NewInt(10)); err != nil {
		t.Fatalf("create: %v", err)
	}

	// the custody balance is alice's escrow, not the custody account's own funds
	_, err := h.eng.CreateSimpleTrigger(as(custodyAcc), custodyAcc, xlm, usdc, big.NewInt(500), big.NewInt(10))
	if !errors.Is(err, custody.ErrCustodyAccount) {
		t.Fatalf("err = %v, want ErrCustodyAccount", err)
	}
	if got := h.balance(custodyAcc, xlm); got != 500 {
		t.Errorf("escrow = %d, want 500", got)
	}
	if _, err := h.eng.GetOrder(context.Background(), 1); !errors.Is(err, order.ErrOrderNotFound) {
		t.Errorf("rejected order was stored: %v", err)
	}

	if err := h.eng.CancelOrder(as(alice), alice, 0); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := h.balance(alice, xlm); got != 500 {
		t.Errorf("alice balance = %d, want 500", got)
	}
	if got := h.balance(custodyAcc, xlm); got != 0 {
		t.Errorf("escrow after cancel = %d, want 0", got)
	}
}

func TestTrailingStopWithUnitScale(t *testing.T) {
	h := newHarness(t)
	h.feed = oracle.NewStaticFeed(0)
	h.eng.Oracle = h.feed
	h.init()
	h.fund(alice, xlm, 1_000)
	h.router.SetRate(xlm, usdc, 90, 1)

	h.price(100)
	id, err := h.eng.CreateTrailingStopLoss(as(alice), alice, xlm, usdc, big.NewInt(1_000), 1_000, xlmusd)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h.price(120)
	out, err := h.eng.EvaluateAndSettle(context.Background(), xlmusd, id, 500, 60)
	if err != nil {
		t.Fatalf("evaluate at 120: %v", err)
	}
	o := h.order(id)
	if out.Fired || o.Status != order.StatusActive || o.Condition.(order.TrailingStop).PeakPrice.Int64() != 120 {
		t.Fatalf("after 120: fired=%v status=%s cond=%+v, want active with peak 120", out.Fired, o.Status, o.Condition)
	}

	h.price(90)
	out, err = h.eng.EvaluateAndSettle(context.Background(), xlmusd, id, 500, 60)
	if err != nil {
		t.Fatalf("evaluate at 90: %v", err)
	}
	if !out.Fired || out.Threshold.Int64() != 108 {
		t.Fatalf("at 90: fired=%v threshold=%s, want fired at threshold 108", out.Fired, out.Threshold)
	}
	// floor(floor(1000*90/1) * 9500/10000)
	if out.MinOutput.Int64() != 85_500 {
		t.Errorf("min output = %s, want 85500", out.MinOutput)
	}
	if o := h.order(id); o.Status != order.StatusExecuted {
		t.Errorf("status = %s, want executed", o.Status)
	}
}

func TestInitializeRejectsExcessiveDecimals(t *testing.T) {
	h := newHarness(t)
	h.eng.Oracle = oracle.NewStaticFeed(order.MaxDecimals + 1)

	_, err := h.eng.Initialize(context.Background(), admin, oracleAddr, routerAddr)
	wantCode(t, err, order.CodeInvalidParam)
	if _, err := h.eng.Config(context.Background()); !errors.Is(err, order.ErrNotInitialized) {
		t.Fatalf("config written despite rejection: %v", err)
	}

	h.eng.Oracle = oracle.NewStaticFeed(order.MaxDecimals)
	cfg, err := h.eng.Initialize(context.Background(), admin, oracleAddr, routerAddr)
	if err != nil {
		t.Fatalf("initialize at the cap: %v", err)
	}
	if cfg.PriceScale.Cmp(order.PriceScaleFor(order.MaxDecimals)) != 0 {
		t.Errorf("price scale = %s", cfg.PriceScale)
	}
}
