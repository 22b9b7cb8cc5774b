package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a user's aggregate holding in one stock.
//
// Invariants: 0 <= AvailableVolume <= TotalVolume, and
// TotalCost == AvgCost × TotalVolume within a cent. TotalCost is maintained
// incrementally rather than recomputed from trade history. Positions that
// reach zero volume are deleted from storage, never kept as zero rows.
type Position struct {
	UserID          string          `json:"user_id"`
	StockCode       string          `json:"stock_code"`
	StockName       string          `json:"stock_name"`
	TotalVolume     int64           `json:"total_volume"`
	AvailableVolume int64           `json:"available_volume"`
	AvgCost         decimal.Decimal `json:"avg_cost"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	MarketValue     decimal.Decimal `json:"market_value"`
	ProfitLoss      decimal.Decimal `json:"profit_loss"`
	ProfitLossPct   decimal.Decimal `json:"profit_loss_percent"`
	LastPrice       decimal.Decimal `json:"last_price"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewPosition opens a position from a first buy fill. AvailableVolume starts
// at zero: shares bought today are unsellable until the T+1 rollover.
func NewPosition(userID, code, name string, volume int64, price decimal.Decimal, at time.Time) *Position {
	v := decimal.NewFromInt(volume)
	return &Position{
		UserID:          userID,
		StockCode:       code,
		StockName:       name,
		TotalVolume:     volume,
		AvailableVolume: 0,
		AvgCost:         price,
		TotalCost:       price.Mul(v),
		UpdatedAt:       at,
	}
}

// Add folds a buy fill into the position. The new shares stay locked
// (AvailableVolume unchanged) until the next T+1 rollover.
func (p *Position) Add(volume int64, price decimal.Decimal, at time.Time) {
	cost := price.Mul(decimal.NewFromInt(volume))
	p.TotalCost = p.TotalCost.Add(cost)
	p.TotalVolume += volume
	if p.TotalVolume > 0 {
		p.AvgCost = p.TotalCost.DivRound(decimal.NewFromInt(p.TotalVolume), 4)
	}
	p.UpdatedAt = at
}

// Reduce removes volume shares via a sell fill. Returns false without
// mutating when volume exceeds the sellable quantity. The cost basis is
// reduced at average cost to avoid precision drift from recomputation.
func (p *Position) Reduce(volume int64, at time.Time) bool {
	if volume > p.AvailableVolume {
		return false
	}
	p.TotalVolume -= volume
	p.AvailableVolume -= volume
	if p.TotalVolume > 0 {
		p.TotalCost = p.TotalCost.Sub(p.AvgCost.Mul(decimal.NewFromInt(volume)))
	} else {
		p.TotalCost = decimal.Zero
		p.AvgCost = decimal.Zero
	}
	p.UpdatedAt = at
	return true
}

// Freeze reserves volume shares against a pending sell order, removing them
// from the sellable quantity until the order fills or is cancelled.
func (p *Position) Freeze(volume int64, at time.Time) bool {
	if volume > p.AvailableVolume {
		return false
	}
	p.AvailableVolume -= volume
	p.UpdatedAt = at
	return true
}

// Unfreeze returns reserved shares to the sellable quantity, capped at the
// total holding.
func (p *Position) Unfreeze(volume int64, at time.Time) {
	p.AvailableVolume += volume
	if p.AvailableVolume > p.TotalVolume {
		p.AvailableVolume = p.TotalVolume
	}
	p.UpdatedAt = at
}

// MarkPrice refreshes market value and P&L against the latest price.
func (p *Position) MarkPrice(price decimal.Decimal, at time.Time) {
	p.LastPrice = price
	p.MarketValue = price.Mul(decimal.NewFromInt(p.TotalVolume))
	p.ProfitLoss = p.MarketValue.Sub(p.TotalCost)
	if p.TotalCost.IsPositive() {
		p.ProfitLossPct = p.ProfitLoss.DivRound(p.TotalCost, 6).Mul(decimal.NewFromInt(100)).Round(2)
	} else {
		p.ProfitLossPct = decimal.Zero
	}
	p.UpdatedAt = at
}

// Unlock promotes the whole holding to sellable. Called once per trading-day
// boundary to implement the T+1 rollover.
func (p *Position) Unlock(at time.Time) {
	p.AvailableVolume = p.TotalVolume
	p.UpdatedAt = at
}

// Sellable reports whether volume shares can be sold right now.
func (p *Position) Sellable(volume int64) bool {
	return volume <= p.AvailableVolume
}

// Empty reports whether the position holds no shares.
func (p *Position) Empty() bool {
	return p.TotalVolume <= 0
}
