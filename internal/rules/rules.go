// Package rules implements the stateless A-share market-rules engine:
// order validation against quotes and price-limit bands, and the
// commission/stamp-duty/transfer-fee model.
//
// All monetary outputs use shopspring/decimal and round to the cent.
package rules

import (
	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/model"
)

// Config carries the fee and ticket-size parameters.
type Config struct {
	CommissionRate  decimal.Decimal
	MinCommission   decimal.Decimal
	StampTaxRate    decimal.Decimal
	TransferFeeRate decimal.Decimal
	MinTransferFee  decimal.Decimal
	MinNotional     decimal.Decimal
	LotSize         int64
}

// DefaultConfig returns the standard A-share retail fee schedule:
// 0.03% commission (5 CNY minimum), 0.1% stamp duty on sells only,
// 0.002% transfer fee (1 CNY minimum), 100-share lots, 100 CNY minimum
// ticket.
func DefaultConfig() Config {
	return Config{
		CommissionRate:  decimal.NewFromFloat(0.0003),
		MinCommission:   decimal.NewFromInt(5),
		StampTaxRate:    decimal.NewFromFloat(0.001),
		TransferFeeRate: decimal.NewFromFloat(0.00002),
		MinTransferFee:  decimal.NewFromInt(1),
		MinNotional:     decimal.NewFromInt(100),
		LotSize:         100,
	}
}

// Engine performs pure rule checks and fee computation. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// New creates a rules engine with the given fee configuration.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine's fee configuration.
func (e *Engine) Config() Config { return e.cfg }

// Commission computes the broker commission on a notional amount:
// max(rate × notional, minimum), rounded to the cent.
func (e *Engine) Commission(notional decimal.Decimal) decimal.Decimal {
	c := notional.Mul(e.cfg.CommissionRate)
	if c.LessThan(e.cfg.MinCommission) {
		c = e.cfg.MinCommission
	}
	return c.Round(2)
}

// TransferFee computes the registry transfer fee:
// max(rate × notional, minimum), rounded to the cent.
func (e *Engine) TransferFee(notional decimal.Decimal) decimal.Decimal {
	f := notional.Mul(e.cfg.TransferFeeRate)
	if f.LessThan(e.cfg.MinTransferFee) {
		f = e.cfg.MinTransferFee
	}
	return f.Round(2)
}

// StampTax computes stamp duty on a sell notional. Buys are exempt.
func (e *Engine) StampTax(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(e.cfg.StampTaxRate).Round(2)
}

// BuyCost returns the total cash needed to buy volume shares at price:
// notional + commission + transfer fee (no stamp duty on buys).
func (e *Engine) BuyCost(volume int64, price decimal.Decimal) decimal.Decimal {
	notional := price.Mul(decimal.NewFromInt(volume))
	return notional.Add(e.Commission(notional)).Add(e.TransferFee(notional)).Round(2)
}

// SellProceeds returns the cash credited for selling volume shares at price:
// notional − commission − stamp duty − transfer fee.
func (e *Engine) SellProceeds(volume int64, price decimal.Decimal) decimal.Decimal {
	notional := price.Mul(decimal.NewFromInt(volume))
	return notional.
		Sub(e.Commission(notional)).
		Sub(e.StampTax(notional)).
		Sub(e.TransferFee(notional)).
		Round(2)
}

// ValidateBuy checks a buy intent against the quote and available balance.
// Returns nil when the order passes every rule.
func (e *Engine) ValidateBuy(q *model.Quote, price decimal.Decimal, volume int64, balance decimal.Decimal) *Error {
	if q.Suspended {
		return Errorf(KindStockSuspended, "%s is suspended, trading halted", q.Name)
	}
	if !q.HasBand() {
		return Errorf(KindPriceOutOfLimitBand, "price limit band for %s is unavailable, order rejected", q.Name)
	}
	// One-sided restriction: no buying into a limit-up print.
	if q.AtLimitUp() {
		return Errorf(KindPriceOutOfLimitBand, "%s is at limit-up %s, buying halted", q.Name, q.LimitUp.StringFixed(2))
	}
	if price.GreaterThan(q.LimitUp) {
		return Errorf(KindPriceOutOfLimitBand, "buy price %s exceeds limit-up %s", price.StringFixed(2), q.LimitUp.StringFixed(2))
	}
	cost := e.BuyCost(volume, price)
	if balance.LessThan(cost) {
		return Errorf(KindInsufficientFunds, "insufficient funds: need %s, available %s", cost.StringFixed(2), balance.StringFixed(2))
	}
	if volume <= 0 || volume%e.cfg.LotSize != 0 {
		return Errorf(KindInvalidLotSize, "volume must be a positive multiple of %d shares", e.cfg.LotSize)
	}
	if notional := price.Mul(decimal.NewFromInt(volume)); notional.LessThan(e.cfg.MinNotional) {
		return Errorf(KindBelowMinimumNotional, "order notional below minimum %s", e.cfg.MinNotional.StringFixed(2))
	}
	return nil
}

// ValidateSell checks a sell intent against the quote and the caller's
// position. The sellable-volume error reports both held and sellable
// quantities so the T+1 restriction is visible to the user.
func (e *Engine) ValidateSell(q *model.Quote, price decimal.Decimal, volume int64, pos *model.Position) *Error {
	if pos == nil || pos.Empty() {
		return Errorf(KindInsufficientSellableVolume, "no position in %s to sell", q.Name)
	}
	if q.Suspended {
		return Errorf(KindStockSuspended, "%s is suspended, trading halted", q.Name)
	}
	if !q.HasBand() {
		return Errorf(KindPriceOutOfLimitBand, "price limit band for %s is unavailable, order rejected", q.Name)
	}
	// One-sided restriction: no selling into a limit-down print.
	if q.AtLimitDown() {
		return Errorf(KindPriceOutOfLimitBand, "%s is at limit-down %s, selling halted", q.Name, q.LimitDown.StringFixed(2))
	}
	if price.LessThan(q.LimitDown) {
		return Errorf(KindPriceOutOfLimitBand, "sell price %s below limit-down %s", price.StringFixed(2), q.LimitDown.StringFixed(2))
	}
	if !pos.Sellable(volume) {
		return Errorf(KindInsufficientSellableVolume,
			"sellable volume insufficient: holding %d, sellable %d (T+1)", pos.TotalVolume, pos.AvailableVolume)
	}
	if volume <= 0 || volume%e.cfg.LotSize != 0 {
		return Errorf(KindInvalidLotSize, "volume must be a positive multiple of %d shares", e.cfg.LotSize)
	}
	return nil
}

// CheckAuctionPriceType enforces the call-auction restriction: only limit
// orders are accepted while an auction window is open.
func (e *Engine) CheckAuctionPriceType(inAuction bool, pt model.PriceType) *Error {
	if inAuction && pt == model.PriceMarket {
		return Errorf(KindMarketClosedForOrderType, "only limit orders are accepted during call auction")
	}
	return nil
}
