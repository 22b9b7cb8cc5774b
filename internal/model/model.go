// Package model defines the core domain types shared across the trading
// engine. All monetary values use shopspring/decimal — never float64 for
// money. Volumes are share counts and stay integral.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cent is the A-share price tick (0.01 CNY).
var Cent = decimal.New(1, -2)

// User is a registered paper-trading account.
//
// Balance is available cash only; funds reserved against pending buy orders
// are tracked on the orders themselves. TotalAssets is a cached snapshot
// (cash + position market value + frozen funds) recomputed on demand and is
// never consulted for funds-availability checks.
type User struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Balance      decimal.Decimal `json:"balance"`
	TotalAssets  decimal.Decimal `json:"total_assets"`
	RegisteredAt time.Time       `json:"registered_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// CanAfford reports whether the available balance covers amount.
func (u *User) CanAfford(amount decimal.Decimal) bool {
	return u.Balance.GreaterThanOrEqual(amount)
}

// Debit removes amount from the available balance. Returns false without
// mutating when the balance is insufficient; Balance never goes negative.
func (u *User) Debit(amount decimal.Decimal, at time.Time) bool {
	if !u.CanAfford(amount) {
		return false
	}
	u.Balance = u.Balance.Sub(amount)
	u.UpdatedAt = at
	return true
}

// Credit adds amount to the available balance.
func (u *User) Credit(amount decimal.Decimal, at time.Time) {
	u.Balance = u.Balance.Add(amount)
	u.UpdatedAt = at
}

// Quote is an ephemeral market snapshot for one stock, sourced from the quote
// feed and cached briefly. LimitUp/LimitDown carry the resolved price band
// (feed-reported during market hours, locally computed otherwise); a zero
// band means the band is unknown and orders must be rejected.
type Quote struct {
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Current       decimal.Decimal `json:"current"`
	Open          decimal.Decimal `json:"open"`
	PrevClose     decimal.Decimal `json:"prev_close"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Volume        int64           `json:"volume"`
	Turnover      decimal.Decimal `json:"turnover"`
	ChangeAmount  decimal.Decimal `json:"change_amount"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	LimitUp       decimal.Decimal `json:"limit_up"`
	LimitDown     decimal.Decimal `json:"limit_down"`
	Suspended     bool            `json:"suspended"`
	AsOf          time.Time       `json:"as_of"`
}

// HasBand reports whether a usable price-limit band is attached.
func (q *Quote) HasBand() bool {
	return q.LimitUp.IsPositive() && q.LimitDown.IsPositive()
}

// AtLimitUp reports whether the stock is printing its limit-up price.
func (q *Quote) AtLimitUp() bool {
	return q.HasBand() && q.Current.Sub(q.LimitUp).Abs().LessThan(Cent)
}

// AtLimitDown reports whether the stock is printing its limit-down price.
func (q *Quote) AtLimitDown() bool {
	return q.HasBand() && q.Current.Sub(q.LimitDown).Abs().LessThan(Cent)
}

// Fresh reports whether the snapshot is younger than maxAge at now.
func (q *Quote) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(q.AsOf) <= maxAge
}
