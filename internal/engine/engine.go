// Package engine implements the order lifecycle: placing buy/sell intents,
// validating them against market rules, executing immediate fills, queueing
// pending orders with frozen funds, cancellation, and the T+1 / asset
// maintenance hooks. A background Monitor (see monitor.go) re-evaluates
// pending orders against fresh quotes and completes them with the same fill
// logic.
//
// Every validate→mutate→persist sequence runs under a per-user mutex shared
// by the command path and the monitor, so concurrent fills cannot
// double-spend a balance or double-free a position. Locks are scoped to the
// user being mutated; placements for different users do not contend.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/marketclock"
	"github.com/papertrade/engine/internal/metrics"
	"github.com/papertrade/engine/internal/model"
	"github.com/papertrade/engine/internal/pricelimit"
	"github.com/papertrade/engine/internal/quote"
	"github.com/papertrade/engine/internal/rules"
	"github.com/papertrade/engine/internal/store"
)

// Notifier receives best-effort fill notifications. Delivery failures never
// affect settlement; implementations must not block.
type Notifier interface {
	NotifyFill(o *model.Order)
}

// Engine coordinates the order lifecycle over storage, quotes, and rules.
type Engine struct {
	store          store.Store
	quotes         quote.Provider
	rules          *rules.Engine
	clock          *marketclock.Clock
	notifier       Notifier
	initialBalance decimal.Decimal
	now            func() time.Time

	locks sync.Map // userID → *sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier attaches a fill notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithInitialBalance sets the cash granted on registration.
func WithInitialBalance(b decimal.Decimal) Option {
	return func(e *Engine) { e.initialBalance = b }
}

// WithNow overrides the wall clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an order engine.
func New(st store.Store, quotes quote.Provider, ru *rules.Engine, clock *marketclock.Clock, opts ...Option) *Engine {
	e := &Engine{
		store:          st,
		quotes:         quotes,
		rules:          ru,
		clock:          clock,
		initialBalance: decimal.NewFromInt(1000000),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules exposes the fee engine, used by the API layer for quote displays.
func (e *Engine) Rules() *rules.Engine { return e.rules }

// Clock exposes the market clock.
func (e *Engine) Clock() *marketclock.Clock { return e.clock }

// lockUser serializes mutations for one user across the command path and the
// monitor. Returns the unlock function; callers defer it so the lock is
// released on every exit path.
func (e *Engine) lockUser(userID string) func() {
	v, _ := e.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Register creates a paper-trading account funded with the configured
// initial balance.
func (e *Engine) Register(ctx context.Context, userID, name string) (*model.User, error) {
	unlock := e.lockUser(userID)
	defer unlock()

	if _, err := e.store.GetUser(ctx, userID); err == nil {
		return nil, rules.Errorf(rules.KindInvalidArgument, "account %s is already registered", userID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load user: %w", err)
	}

	now := e.now()
	u := &model.User{
		ID:           userID,
		Name:         name,
		Balance:      e.initialBalance,
		TotalAssets:  e.initialBalance,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	slog.Info("account registered", "user", userID, "balance", u.Balance.String())
	return u, nil
}

// PlaceOrder turns a buy/sell intent into a validated order: filled
// immediately when the market allows, or queued PENDING otherwise. price nil
// means a market order at the prevailing price. The returned message
// distinguishes a fill from a queued placement.
func (e *Engine) PlaceOrder(ctx context.Context, userID, stockCode string, side model.Side, volume int64, price *decimal.Decimal) (*model.Order, string, error) {
	code, err := pricelimit.NormalizeCode(stockCode)
	if err != nil {
		return nil, "", rules.Errorf(rules.KindInvalidArgument, "invalid stock code %q", stockCode)
	}

	unlock := e.lockUser(userID)
	defer unlock()

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", rules.Errorf(rules.KindUserNotRegistered, "account not registered")
		}
		return nil, "", fmt.Errorf("load user: %w", err)
	}

	q, err := e.quotes.Get(ctx, code)
	if err != nil {
		metrics.QuoteFetchErrors.Inc()
		return nil, "", rules.Errorf(rules.KindQuoteUnavailable, "no quote available for %s", code)
	}

	now := e.now()

	priceType := model.PriceLimit
	orderPrice := decimal.Zero
	if price == nil {
		priceType = model.PriceMarket
		orderPrice = q.Current
	} else {
		orderPrice = price.Round(2)
		if !orderPrice.IsPositive() {
			return nil, "", rules.Errorf(rules.KindInvalidArgument, "limit price must be positive")
		}
	}

	if rerr := e.rules.CheckAuctionPriceType(e.clock.IsCallAuctionTime(now), priceType); rerr != nil {
		metrics.OrdersRejected.WithLabelValues(string(side), string(rerr.Kind)).Inc()
		return nil, "", rerr
	}

	// Candidate order: no id until validation succeeds, so rejected intents
	// never consume the order-number sequence.
	order := &model.Order{
		UserID:    userID,
		StockCode: code,
		StockName: q.Name,
		Side:      side,
		PriceType: priceType,
		Price:     orderPrice,
		Volume:    volume,
		Status:    model.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var pos *model.Position
	switch side {
	case model.SideBuy:
		if rerr := e.rules.ValidateBuy(q, orderPrice, volume, user.Balance); rerr != nil {
			metrics.OrdersRejected.WithLabelValues(string(side), string(rerr.Kind)).Inc()
			return nil, "", rerr
		}
	case model.SideSell:
		pos, err = e.loadPosition(ctx, userID, code)
		if err != nil {
			return nil, "", err
		}
		if rerr := e.rules.ValidateSell(q, orderPrice, volume, pos); rerr != nil {
			metrics.OrdersRejected.WithLabelValues(string(side), string(rerr.Kind)).Inc()
			return nil, "", rerr
		}
	default:
		return nil, "", rules.Errorf(rules.KindInvalidArgument, "side must be buy or sell")
	}

	order.ID = e.allocateOrderID(ctx)

	trading := e.clock.IsTradingTime(now)

	if order.IsMarket() {
		if !trading {
			metrics.OrdersRejected.WithLabelValues(string(side), string(rules.KindMarketClosedForOrderType)).Inc()
			return nil, "", rules.Errorf(rules.KindMarketClosedForOrderType, "market orders require trading hours")
		}
		return e.executeFill(ctx, user, order, pos, q, q.Current, false, "immediate")
	}

	// A crossable limit order fills at the live price — never worse than the
	// limit — because there is no order book to queue against.
	if trading && order.Crossed(q.Current) {
		return e.executeFill(ctx, user, order, pos, q, q.Current, false, "immediate")
	}

	return e.placePending(ctx, user, order, pos, trading)
}

// allocateOrderID issues the next display order number, falling back to a
// UUID when the sequence allocator is unavailable.
func (e *Engine) allocateOrderID(ctx context.Context) string {
	seq, err := e.store.NextOrderSeq(ctx)
	if err != nil {
		slog.Warn("order sequence unavailable, using uuid", "err", err)
		return uuid.New().String()
	}
	return fmt.Sprintf("%05d", seq)
}

func (e *Engine) loadPosition(ctx context.Context, userID, code string) (*model.Position, error) {
	pos, err := e.store.GetPosition(ctx, userID, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load position: %w", err)
	}
	return pos, nil
}

// placePending parks a validated order as PENDING. Buy orders freeze their
// full cost immediately so concurrent orders cannot overcommit the balance;
// sell orders freeze the shares. The frozen amount is snapshotted on the
// order so cancellation refunds exactly what was taken, regardless of later
// fee-config changes.
func (e *Engine) placePending(ctx context.Context, user *model.User, order *model.Order, pos *model.Position, trading bool) (*model.Order, string, error) {
	now := e.now()

	switch order.Side {
	case model.SideBuy:
		frozen := e.rules.BuyCost(order.Volume, order.Price)
		if !user.Debit(frozen, now) {
			return nil, "", rules.Errorf(rules.KindInsufficientFunds,
				"insufficient funds: need %s, available %s", frozen.StringFixed(2), user.Balance.StringFixed(2))
		}
		order.FrozenAmount = frozen
		if err := e.store.SaveUser(ctx, user); err != nil {
			return nil, "", fmt.Errorf("save user: %w", err)
		}
	case model.SideSell:
		if pos == nil || !pos.Freeze(order.Volume, now) {
			return nil, "", rules.Errorf(rules.KindInsufficientSellableVolume, "sellable volume changed, order rejected")
		}
		if err := e.store.SavePosition(ctx, pos); err != nil {
			return nil, "", fmt.Errorf("save position: %w", err)
		}
	}

	if err := e.store.SaveOrder(ctx, order); err != nil {
		return nil, "", fmt.Errorf("save order: %w", err)
	}

	metrics.OrdersPlaced.WithLabelValues(string(order.Side), "queued").Inc()
	slog.Info("order queued",
		"order", order.ID,
		"user", order.UserID,
		"stock", order.StockCode,
		"side", order.Side,
		"price", order.Price.String(),
		"volume", order.Volume,
	)

	msg := fmt.Sprintf("order %s queued: %s %d shares of %s at %s, awaiting fill",
		order.ID, order.Side, order.Volume, order.StockName, order.Price.StringFixed(2))
	if !trading {
		msg = fmt.Sprintf("order %s queued outside trading hours: %s %d shares of %s at %s, will fill during the next session",
			order.ID, order.Side, order.Volume, order.StockName, order.Price.StringFixed(2))
	}
	return order, msg, nil
}

// executeFill settles an order at fillPrice: mutates balance and position,
// marks the order filled, and persists all three records. queued indicates
// the order was previously parked PENDING with funds or shares frozen.
// Callers must hold the user lock.
func (e *Engine) executeFill(ctx context.Context, user *model.User, order *model.Order, pos *model.Position, q *model.Quote, fillPrice decimal.Decimal, queued bool, trigger string) (*model.Order, string, error) {
	now := e.now()

	var msg string
	switch order.Side {
	case model.SideBuy:
		cost := e.rules.BuyCost(order.Volume, fillPrice)
		if queued {
			// Funds were frozen at the reserved price; the fill price can
			// only be equal or better, so refund the difference.
			if diff := order.FrozenAmount.Sub(cost); diff.IsPositive() {
				user.Credit(diff, now)
			}
		} else if !user.Debit(cost, now) {
			return nil, "", rules.Errorf(rules.KindInsufficientFunds,
				"insufficient funds: need %s, available %s", cost.StringFixed(2), user.Balance.StringFixed(2))
		}

		if pos == nil {
			pos, _ = e.loadPosition(ctx, order.UserID, order.StockCode)
		}
		if pos == nil {
			pos = model.NewPosition(order.UserID, order.StockCode, order.StockName, order.Volume, fillPrice, now)
		} else {
			pos.Add(order.Volume, fillPrice, now)
		}
		pos.MarkPrice(q.Current, now)

		order.Price = fillPrice
		order.Fill(fillPrice, now)

		if err := e.persistFill(ctx, user, order, pos, false); err != nil {
			return nil, "", err
		}
		msg = fmt.Sprintf("bought %d shares of %s at %s, total %s",
			order.Volume, order.StockName, fillPrice.StringFixed(2), cost.StringFixed(2))

	case model.SideSell:
		if pos == nil {
			pos, _ = e.loadPosition(ctx, order.UserID, order.StockCode)
		}
		if queued && pos != nil {
			pos.Unfreeze(order.Volume, now)
		}
		if pos == nil || !pos.Sellable(order.Volume) {
			// Holding changed while the order waited; cancel rather than
			// oversell.
			order.Cancel(now)
			if err := e.store.SaveOrder(ctx, order); err != nil {
				return nil, "", fmt.Errorf("save order: %w", err)
			}
			return nil, "", rules.Errorf(rules.KindInsufficientSellableVolume, "sellable volume no longer covers order, cancelled")
		}

		// Realized P&L is measured against the pre-mutation average cost.
		originalCost := pos.AvgCost.Mul(decimal.NewFromInt(order.Volume))
		proceeds := e.rules.SellProceeds(order.Volume, fillPrice)

		pos.Reduce(order.Volume, now)
		user.Credit(proceeds, now)

		order.Price = fillPrice
		order.Fill(fillPrice, now)
		profit := proceeds.Sub(originalCost).Round(2)
		rate := decimal.Zero
		if originalCost.IsPositive() {
			// Percent, matching the position P&L convention.
			rate = profit.DivRound(originalCost, 6).Mul(decimal.NewFromInt(100)).Round(2)
		}
		order.SetProfit(profit, rate)

		if !pos.Empty() {
			pos.MarkPrice(q.Current, now)
		}
		if err := e.persistFill(ctx, user, order, pos, pos.Empty()); err != nil {
			return nil, "", err
		}
		msg = fmt.Sprintf("sold %d shares of %s at %s, credited %s",
			order.Volume, order.StockName, fillPrice.StringFixed(2), proceeds.StringFixed(2))
	}

	metrics.OrdersPlaced.WithLabelValues(string(order.Side), "filled").Inc()
	metrics.FillsTotal.WithLabelValues(string(order.Side), trigger).Inc()
	slog.Info("order filled",
		"order", order.ID,
		"user", order.UserID,
		"stock", order.StockCode,
		"side", order.Side,
		"fill_price", fillPrice.String(),
		"volume", order.Volume,
		"trigger", trigger,
	)

	if e.notifier != nil {
		e.notifier.NotifyFill(order)
	}
	return order, msg, nil
}

// persistFill writes user, position, and order. Writes are independent —
// a crash mid-sequence can leave them inconsistent; accepted limitation for
// simulated trading (no cross-entity transaction in the storage contract).
func (e *Engine) persistFill(ctx context.Context, user *model.User, order *model.Order, pos *model.Position, deletePos bool) error {
	if err := e.store.SaveUser(ctx, user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	if deletePos {
		if err := e.store.DeletePosition(ctx, pos.UserID, pos.StockCode); err != nil {
			return fmt.Errorf("delete position: %w", err)
		}
	} else {
		if err := e.store.SavePosition(ctx, pos); err != nil {
			return fmt.Errorf("save position: %w", err)
		}
	}
	if err := e.store.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

// Cancel withdraws a PENDING order, refunding the exact frozen amount for
// buys and unfreezing shares for sells. Cancelling a filled or already
// cancelled order fails with OrderNotCancellable — never a silent success or
// a double refund.
func (e *Engine) Cancel(ctx context.Context, userID, orderID string) (string, error) {
	unlock := e.lockUser(userID)
	defer unlock()

	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", rules.Errorf(rules.KindOrderNotFound, "order %s not found", orderID)
		}
		return "", fmt.Errorf("load order: %w", err)
	}
	if order.UserID != userID {
		return "", rules.Errorf(rules.KindOrderNotOwnedByCaller, "order %s belongs to another account", orderID)
	}
	if !order.IsPending() {
		return "", rules.Errorf(rules.KindOrderNotCancellable, "order %s is %s and cannot be cancelled", orderID, order.Status)
	}

	now := e.now()

	switch order.Side {
	case model.SideBuy:
		user, err := e.store.GetUser(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("load user: %w", err)
		}
		user.Credit(order.FrozenAmount, now)
		if err := e.store.SaveUser(ctx, user); err != nil {
			return "", fmt.Errorf("save user: %w", err)
		}
	case model.SideSell:
		pos, err := e.loadPosition(ctx, userID, order.StockCode)
		if err != nil {
			return "", err
		}
		if pos != nil {
			pos.Unfreeze(order.Volume, now)
			if err := e.store.SavePosition(ctx, pos); err != nil {
				return "", fmt.Errorf("save position: %w", err)
			}
		}
	}

	order.Cancel(now)
	if err := e.store.SaveOrder(ctx, order); err != nil {
		return "", fmt.Errorf("save order: %w", err)
	}

	metrics.OrdersCancelled.WithLabelValues(string(order.Side)).Inc()
	slog.Info("order cancelled", "order", orderID, "user", userID)
	return fmt.Sprintf("order %s cancelled: %s %d shares of %s",
		orderID, order.Side, order.Volume, order.StockName), nil
}

// RecomputeAssets refreshes a user's cached total-asset snapshot:
// available cash + position market value + funds frozen in pending buys.
func (e *Engine) RecomputeAssets(ctx context.Context, userID string) error {
	unlock := e.lockUser(userID)
	defer unlock()

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	positions, err := e.store.ListPositions(ctx, userID)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	marketValue := decimal.Zero
	for _, p := range positions {
		marketValue = marketValue.Add(p.MarketValue)
	}

	frozen, err := e.FrozenFunds(ctx, userID)
	if err != nil {
		return err
	}

	user.TotalAssets = user.Balance.Add(marketValue).Add(frozen)
	user.UpdatedAt = e.now()
	if err := e.store.SaveUser(ctx, user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// FrozenFunds sums the cash reserved by a user's pending buy orders.
func (e *Engine) FrozenFunds(ctx context.Context, userID string) (decimal.Decimal, error) {
	orders, err := e.store.ListOrdersByUser(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list orders: %w", err)
	}
	frozen := decimal.Zero
	for _, o := range orders {
		if o.IsPending() && o.IsBuy() {
			frozen = frozen.Add(o.FrozenAmount)
		}
	}
	return frozen, nil
}

// Rollover applies the T+1 boundary for every account: all position volume
// becomes sellable, minus shares still reserved by pending sell orders, and
// the asset snapshot is refreshed. The host scheduler invokes this once per
// trading-day boundary.
func (e *Engine) Rollover(ctx context.Context) error {
	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	for i := range users {
		if err := e.rolloverUser(ctx, users[i].ID); err != nil {
			slog.Error("rollover failed for user", "user", users[i].ID, "err", err)
			continue
		}
		if err := e.RecomputeAssets(ctx, users[i].ID); err != nil {
			slog.Error("asset recompute failed", "user", users[i].ID, "err", err)
		}
	}
	slog.Info("T+1 rollover complete", "users", len(users))
	return nil
}

func (e *Engine) rolloverUser(ctx context.Context, userID string) error {
	unlock := e.lockUser(userID)
	defer unlock()

	now := e.now()

	// Shares reserved by pending sells must stay frozen across the rollover.
	orders, err := e.store.ListOrdersByUser(ctx, userID)
	if err != nil {
		return err
	}
	reserved := make(map[string]int64)
	for _, o := range orders {
		if o.IsPending() && o.IsSell() {
			reserved[o.StockCode] += o.Volume
		}
	}

	positions, err := e.store.ListPositions(ctx, userID)
	if err != nil {
		return err
	}
	for i := range positions {
		p := &positions[i]
		p.Unlock(now)
		if v := reserved[p.StockCode]; v > 0 {
			p.Freeze(min64(v, p.TotalVolume), now)
		}
		if err := e.store.SavePosition(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
