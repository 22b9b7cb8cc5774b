package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/engine"
	"github.com/papertrade/engine/internal/marketclock"
	"github.com/papertrade/engine/internal/model"
	"github.com/papertrade/engine/internal/quote"
	"github.com/papertrade/engine/internal/rules"
	"github.com/papertrade/engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// 2026-09-01 is a Tuesday and a trading day.
var (
	tradingTime = time.Date(2026, 9, 1, 10, 0, 0, 0, marketclock.CST)
	auctionTime = time.Date(2026, 9, 1, 9, 20, 0, 0, marketclock.CST)
	closedTime  = time.Date(2026, 9, 1, 20, 0, 0, 0, marketclock.CST)
)

// fakeQuotes is an in-memory quote.Provider with mutable prices.
type fakeQuotes struct {
	mu     sync.Mutex
	quotes map[string]*model.Quote
}

func newFakeQuotes() *fakeQuotes {
	return &fakeQuotes{quotes: make(map[string]*model.Quote)}
}

func (f *fakeQuotes) Get(_ context.Context, code string) (*model.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[code]
	if !ok {
		return nil, quote.ErrUnavailable
	}
	cp := *q
	return &cp, nil
}

func (f *fakeQuotes) set(q *model.Quote) {
	f.mu.Lock()
	f.quotes[q.Code] = q
	f.mu.Unlock()
}

// moutai returns a main-board quote: prev close 100, band 110/90.
func moutai(current float64) *model.Quote {
	return &model.Quote{
		Code:      "600519",
		Name:      "贵州茅台",
		Current:   d(current),
		PrevClose: d(100),
		LimitUp:   d(110),
		LimitDown: d(90),
		Volume:    100000,
		AsOf:      tradingTime,
	}
}

type testEnv struct {
	engine *engine.Engine
	store  *store.MemoryStore
	quotes *fakeQuotes
	now    *time.Time
}

func newTestEnv(t *testing.T, at time.Time) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  store.NewMemoryStore(),
		quotes: newFakeQuotes(),
		now:    &at,
	}
	env.quotes.set(moutai(100))
	env.engine = engine.New(env.store, env.quotes, rules.New(rules.DefaultConfig()), marketclock.New(),
		engine.WithInitialBalance(d(100000)),
		engine.WithNow(func() time.Time { return *env.now }),
	)
	return env
}

func (env *testEnv) register(t *testing.T, id string) *model.User {
	t.Helper()
	u, err := env.engine.Register(context.Background(), id, id)
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return u
}

func (env *testEnv) user(t *testing.T, id string) *model.User {
	t.Helper()
	u, err := env.store.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("get user %s: %v", id, err)
	}
	return u
}

func (env *testEnv) position(t *testing.T, userID, code string) *model.Position {
	t.Helper()
	p, err := env.store.GetPosition(context.Background(), userID, code)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	return p
}

// seedUnlockedPosition gives the user sellable shares bought on a prior day.
func (env *testEnv) seedUnlockedPosition(t *testing.T, userID string, volume int64, avgCost float64) {
	t.Helper()
	p := model.NewPosition(userID, "600519", "贵州茅台", volume, d(avgCost), tradingTime.AddDate(0, 0, -1))
	p.Unlock(tradingTime.AddDate(0, 0, -1))
	if err := env.store.SavePosition(context.Background(), p); err != nil {
		t.Fatalf("seed position: %v", err)
	}
}

func wantKind(t *testing.T, err error, kind rules.Kind) {
	t.Helper()
	got, ok := rules.KindOf(err)
	if !ok {
		t.Fatalf("want rules error %s, got %v", kind, err)
	}
	if got != kind {
		t.Fatalf("want error kind %s, got %s (%v)", kind, got, err)
	}
}

// --- Registration ---

func TestRegister(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	u := env.register(t, "u1")

	if !u.Balance.Equal(d(100000)) {
		t.Errorf("balance = %s, want 100000", u.Balance)
	}
	if !u.TotalAssets.Equal(d(100000)) {
		t.Errorf("total assets = %s, want 100000", u.TotalAssets)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")

	_, err := env.engine.Register(context.Background(), "u1", "again")
	wantKind(t, err, rules.KindInvalidArgument)
}

// --- Market orders ---

func TestMarketBuy_FillsImmediately(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")

	order, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideBuy, 100, nil)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if order.Status != model.OrderFilled {
		t.Fatalf("status = %s, want filled", order.Status)
	}
	if !order.FilledAmount.Equal(d(10000)) {
		t.Errorf("filled amount = %s, want 10000", order.FilledAmount)
	}

	// 10000 notional + 5 commission + 1 transfer fee.
	u := env.user(t, "u1")
	if !u.Balance.Equal(d(89994)) {
		t.Errorf("balance = %s, want 89994", u.Balance)
	}

	p := env.position(t, "u1", "600519")
	if p.TotalVolume != 100 {
		t.Errorf("position volume = %d, want 100", p.TotalVolume)
	}
	if p.AvailableVolume != 0 {
		t.Errorf("available = %d, want 0 under T+1", p.AvailableVolume)
	}
}

func TestMarketBuy_RejectedOutsideTradingHours(t *testing.T) {
	env := newTestEnv(t, closedTime)
	env.register(t, "u1")

	_, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideBuy, 100, nil)
	wantKind(t, err, rules.KindMarketClosedForOrderType)
}

func TestMarketOrder_RejectedDuringCallAuction(t *testing.T) {
	env := newTestEnv(t, auctionTime)
	env.register(t, "u1")

	_, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideBuy, 100, nil)
	wantKind(t, err, rules.KindMarketClosedForOrderType)
}

func TestLimitOrder_QueuedDuringCallAuction(t *testing.T) {
	env := newTestEnv(t, auctionTime)
	env.register(t, "u1")

	price := d(95)
	order, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideBuy, 100, &price)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if order.Status != model.OrderPending {
		t.Errorf("status = %s, want pending", order.Status)
	}
}

// --- Limit orders ---

func TestLimitBuy_CrossableFillsAtCurrentPrice(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")

	// Limit 105 against a 100 print: fills right away at 100, not 105.
	price := d(105)
	order, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideBuy, 100, &price)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if order.Status != model.OrderFilled {
		t.Fatalf("status = %s, want filled", order.Status)
	}
	if !order.Price.Equal(d(100)) {
		t.Errorf("fill price = %s, want live price 100", order.Price)
	}

	u := env.user(t, "u1")
	if !u.Balance.Equal(d(89994)) {
		t.Errorf("balance = %s, want cost at live price (89994)", u.Balance)
	}
}

func TestLimitBuy_QueuesWithFundsFrozen(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")

	price := d(95)
	order, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideBuy, 100, &price)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if order.Status != model.OrderPending {
		t.Fatalf("status = %s, want pending", order.Status)
	}

	// 9500 notional + 5 commission + 1 transfer fee reserved up front.
	if !order.FrozenAmount.Equal(d(9506)) {
		t.Errorf("frozen = %s, want 9506", order.FrozenAmount)
	}
	u := env.user(t, "u1")
	if !u.Balance.Equal(d(90494)) {
		t.Errorf("balance = %s, want 90494", u.Balance)
	}
}

func TestLimitBuy_QueuesOutsideTradingHours(t *testing.T) {
	env := newTestEnv(t, closedTime)
	env.register(t, "u1")

	price := d(95)
	order, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideBuy, 100, &price)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if order.Status != model.OrderPending {
		t.Errorf("status = %s, want pending off-hours", order.Status)
	}
}

func TestBuy_RejectedAtLimitUp(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")
	env.quotes.set(moutai(110)) // pinned at limit-up

	price := d(110)
	_, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideBuy, 100, &price)
	wantKind(t, err, rules.KindPriceOutOfLimitBand)
}

func TestPlaceOrder_UnknownUser(t *testing.T) {
	env := newTestEnv(t, tradingTime)

	_, _, err := env.engine.PlaceOrder(context.Background(), "ghost", "600519", model.SideBuy, 100, nil)
	wantKind(t, err, rules.KindUserNotRegistered)
}

func TestPlaceOrder_UnknownStock(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")

	_, _, err := env.engine.PlaceOrder(context.Background(), "u1", "000002", model.SideBuy, 100, nil)
	wantKind(t, err, rules.KindQuoteUnavailable)
}

func TestPlaceOrder_InvalidCode(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")

	_, _, err := env.engine.PlaceOrder(context.Background(), "u1", "not-a-code", model.SideBuy, 100, nil)
	wantKind(t, err, rules.KindInvalidArgument)
}

// --- Selling ---

func TestSell_TPlusOneBlocksSameDayShares(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")

	if _, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideBuy, 100, nil); err != nil {
		t.Fatalf("buy: %v", err)
	}
	_, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideSell, 100, nil)
	wantKind(t, err, rules.KindInsufficientSellableVolume)
}

func TestMarketSell_FillsWithProfit(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")
	env.seedUnlockedPosition(t, "u1", 100, 90)

	order, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideSell, 100, nil)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if order.Status != model.OrderFilled {
		t.Fatalf("status = %s, want filled", order.Status)
	}

	// Proceeds: 10000 − 5 commission − 10 stamp − 1 transfer = 9984.
	u := env.user(t, "u1")
	if !u.Balance.Equal(d(109984)) {
		t.Errorf("balance = %s, want 109984", u.Balance)
	}

	// Realized P&L against the 9000 cost basis.
	if order.ProfitAmount == nil || !order.ProfitAmount.Equal(d(984)) {
		t.Errorf("profit = %v, want 984", order.ProfitAmount)
	}

	// Fully sold out: position row removed.
	if _, err := env.store.GetPosition(context.Background(), "u1", "600519"); err == nil {
		t.Error("emptied position should be deleted")
	}
}

func TestLimitSell_QueuesWithSharesFrozen(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")
	env.seedUnlockedPosition(t, "u1", 200, 90)

	price := d(105) // above the 100 print, not crossable
	order, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideSell, 100, &price)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if order.Status != model.OrderPending {
		t.Fatalf("status = %s, want pending", order.Status)
	}

	p := env.position(t, "u1", "600519")
	if p.AvailableVolume != 100 {
		t.Errorf("available = %d, want 100 (100 frozen under the order)", p.AvailableVolume)
	}

	// The reserved shares cannot be double-sold.
	_, _, err = env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideSell, 200, nil)
	wantKind(t, err, rules.KindInsufficientSellableVolume)
}

// --- Cancellation ---

func TestCancelBuy_RefundsExactFrozenAmount(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")

	price := d(95)
	order, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideBuy, 100, &price)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	if _, err := env.engine.Cancel(context.Background(), "u1", order.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	u := env.user(t, "u1")
	if !u.Balance.Equal(d(100000)) {
		t.Errorf("balance = %s, want full 100000 back", u.Balance)
	}

	got, _ := env.store.GetOrder(context.Background(), order.ID)
	if got.Status != model.OrderCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestCancel_SecondAttemptFails(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")

	price := d(95)
	order, _, _ := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideBuy, 100, &price)
	if _, err := env.engine.Cancel(context.Background(), "u1", order.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// No double refund.
	_, err := env.engine.Cancel(context.Background(), "u1", order.ID)
	wantKind(t, err, rules.KindOrderNotCancellable)

	u := env.user(t, "u1")
	if !u.Balance.Equal(d(100000)) {
		t.Errorf("balance = %s after double cancel, want 100000", u.Balance)
	}
}

func TestCancelSell_UnfreezesShares(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")
	env.seedUnlockedPosition(t, "u1", 200, 90)

	price := d(105)
	order, _, _ := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideSell, 100, &price)

	if _, err := env.engine.Cancel(context.Background(), "u1", order.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	p := env.position(t, "u1", "600519")
	if p.AvailableVolume != 200 {
		t.Errorf("available = %d, want all 200 restored", p.AvailableVolume)
	}
}

func TestCancel_WrongOwner(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")
	env.register(t, "u2")

	price := d(95)
	order, _, _ := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideBuy, 100, &price)

	_, err := env.engine.Cancel(context.Background(), "u2", order.ID)
	wantKind(t, err, rules.KindOrderNotOwnedByCaller)
}

func TestCancel_NotFound(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")

	_, err := env.engine.Cancel(context.Background(), "u1", "99999")
	wantKind(t, err, rules.KindOrderNotFound)
}

// --- Filled order cancellation ---

func TestCancel_FilledOrderRejected(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")

	order, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideBuy, 100, nil)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	_, cerr := env.engine.Cancel(context.Background(), "u1", order.ID)
	wantKind(t, cerr, rules.KindOrderNotCancellable)
}

// --- T+1 rollover ---

func TestRollover_UnlocksShares(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")

	if _, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideBuy, 100, nil); err != nil {
		t.Fatalf("buy: %v", err)
	}

	*env.now = tradingTime.AddDate(0, 0, 1)
	if err := env.engine.Rollover(context.Background()); err != nil {
		t.Fatalf("rollover: %v", err)
	}

	p := env.position(t, "u1", "600519")
	if p.AvailableVolume != 100 {
		t.Errorf("available = %d after rollover, want 100", p.AvailableVolume)
	}
}

func TestRollover_KeepsPendingSellSharesFrozen(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")
	env.seedUnlockedPosition(t, "u1", 200, 90)

	// Reserve 100 shares under a pending sell.
	price := d(105)
	if _, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideSell, 100, &price); err != nil {
		t.Fatalf("sell: %v", err)
	}

	*env.now = tradingTime.AddDate(0, 0, 1)
	if err := env.engine.Rollover(context.Background()); err != nil {
		t.Fatalf("rollover: %v", err)
	}

	p := env.position(t, "u1", "600519")
	if p.AvailableVolume != 100 {
		t.Errorf("available = %d, want 100: rollover must not release reserved shares", p.AvailableVolume)
	}
}

// --- Asset snapshot ---

func TestRecomputeAssets_IncludesFrozenFunds(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")

	price := d(95)
	if _, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideBuy, 100, &price); err != nil {
		t.Fatalf("place: %v", err)
	}

	if err := env.engine.RecomputeAssets(context.Background(), "u1"); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	// Cash 90494 + frozen 9506 + no positions = the original 100000.
	u := env.user(t, "u1")
	if !u.TotalAssets.Equal(d(100000)) {
		t.Errorf("total assets = %s, want 100000", u.TotalAssets)
	}
}

// --- Concurrency ---

func TestConcurrentBuys_NeverOverspend(t *testing.T) {
	env := newTestEnv(t, tradingTime)
	env.register(t, "u1")

	// Each 100-share market buy costs 10006; 100000 affords exactly 9.
	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := env.engine.PlaceOrder(context.Background(), "u1", "600519", model.SideBuy, 100, nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	fills := 0
	for err := range results {
		if err == nil {
			fills++
		} else {
			wantKind(t, err, rules.KindInsufficientFunds)
		}
	}
	if fills != 9 {
		t.Errorf("fills = %d, want exactly 9", fills)
	}

	u := env.user(t, "u1")
	if u.Balance.IsNegative() {
		t.Errorf("balance went negative: %s", u.Balance)
	}
	if !u.Balance.Equal(d(100000 - 9*10006)) {
		t.Errorf("balance = %s, want %d", u.Balance, 100000-9*10006)
	}
}
