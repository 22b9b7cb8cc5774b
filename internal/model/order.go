package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade intent.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PriceType distinguishes market and limit orders.
type PriceType string

const (
	PriceMarket PriceType = "market"
	PriceLimit  PriceType = "limit"
)

// OrderStatus is the lifecycle state of an order. Transitions are monotonic:
// pending → filled or pending → cancelled, and terminal states are immutable.
// Fills here are always single-shot for the full requested volume, so there
// is no partial-fill state.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is a validated buy/sell intent. Price and Volume are rule-checked
// before an order ever receives an ID.
//
// FrozenAmount is the exact cash reserved at placement for pending buy
// orders, snapshotted so that cancellation refunds the same amount even if
// fee configuration changes between placement and cancel.
type Order struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	StockCode    string          `json:"stock_code"`
	StockName    string          `json:"stock_name"`
	Side         Side            `json:"side"`
	PriceType    PriceType       `json:"price_type"`
	Price        decimal.Decimal `json:"price"`
	Volume       int64           `json:"volume"`
	FilledVolume int64           `json:"filled_volume"`
	FilledAmount decimal.Decimal `json:"filled_amount"`
	FrozenAmount decimal.Decimal `json:"frozen_amount"`
	Status       OrderStatus     `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	FilledAt     *time.Time      `json:"filled_at,omitempty"`

	// Realized result, set on sell fills only.
	ProfitAmount *decimal.Decimal `json:"profit_amount,omitempty"`
	ProfitRate   *decimal.Decimal `json:"profit_rate,omitempty"`
}

func (o *Order) IsBuy() bool     { return o.Side == SideBuy }
func (o *Order) IsSell() bool    { return o.Side == SideSell }
func (o *Order) IsMarket() bool  { return o.PriceType == PriceMarket }
func (o *Order) IsPending() bool { return o.Status == OrderPending }

// Notional returns the order's face value (price × volume).
func (o *Order) Notional() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Volume))
}

// Fill marks the order filled in full at price. No-op on non-pending orders.
func (o *Order) Fill(price decimal.Decimal, at time.Time) {
	if !o.IsPending() {
		return
	}
	o.FilledVolume = o.Volume
	o.FilledAmount = price.Mul(decimal.NewFromInt(o.Volume))
	o.Status = OrderFilled
	o.UpdatedAt = at
	t := at
	o.FilledAt = &t
}

// Cancel marks the order cancelled. No-op on non-pending orders.
func (o *Order) Cancel(at time.Time) {
	if !o.IsPending() {
		return
	}
	o.Status = OrderCancelled
	o.UpdatedAt = at
}

// Crossed reports whether current satisfies the order's limit condition:
// buys fill at or below the limit price, sells at or above.
func (o *Order) Crossed(current decimal.Decimal) bool {
	if o.IsBuy() {
		return current.LessThanOrEqual(o.Price)
	}
	return current.GreaterThanOrEqual(o.Price)
}

// SetProfit attaches the realized result of a sell fill.
func (o *Order) SetProfit(amount, rate decimal.Decimal) {
	o.ProfitAmount = &amount
	o.ProfitRate = &rate
}
