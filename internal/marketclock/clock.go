// Package marketclock answers trading-calendar questions for the A-share
// market: trading days, continuous-trading sessions, and call-auction
// windows. Everything is a pure function of the supplied wall-clock time and
// a holiday table; the package holds no mutable state.
package marketclock

import "time"

// CST is China Standard Time (UTC+8). Exchange sessions are defined in CST
// regardless of the host's local zone.
var CST = time.FixedZone("CST", 8*3600)

// Session boundaries, minutes from midnight CST.
const (
	morningOpen    = 9*60 + 30  // 09:30
	morningClose   = 11*60 + 30 // 11:30
	afternoonOpen  = 13 * 60    // 13:00
	afternoonClose = 15 * 60    // 15:00

	openAuctionStart  = 9*60 + 15  // 09:15
	openAuctionEnd    = 9*60 + 25  // 09:25
	closeAuctionStart = 14*60 + 57 // 14:57
	closeAuctionEnd   = 15 * 60    // 15:00
)

// Clock decides market status from time and a holiday calendar.
type Clock struct {
	holidays map[string]bool
}

// New returns a Clock using the built-in exchange holiday table.
func New() *Clock {
	return &Clock{holidays: defaultHolidays()}
}

// NewWithHolidays returns a Clock using an explicit holiday list, for tests
// or an externally maintained calendar.
func NewWithHolidays(days []time.Time) *Clock {
	set := make(map[string]bool, len(days))
	for _, d := range days {
		set[dateKey(d.In(CST))] = true
	}
	return &Clock{holidays: set}
}

// IsHoliday reports whether t falls on an exchange holiday.
func (c *Clock) IsHoliday(t time.Time) bool {
	return c.holidays[dateKey(t.In(CST))]
}

// IsTradingDay reports whether t is a weekday that is not a holiday.
func (c *Clock) IsTradingDay(t time.Time) bool {
	cst := t.In(CST)
	wd := cst.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.IsHoliday(cst)
}

// IsTradingTime reports whether t is inside a continuous-trading session
// (09:30–11:30 or 13:00–15:00 CST) on a trading day.
func (c *Clock) IsTradingTime(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	hm := minuteOfDay(t)
	return (hm >= morningOpen && hm <= morningClose) ||
		(hm >= afternoonOpen && hm <= afternoonClose)
}

// IsCallAuctionTime reports whether t is inside a call-auction window
// (09:15–09:25 or 14:57–15:00 CST) on a trading day.
func (c *Clock) IsCallAuctionTime(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	hm := minuteOfDay(t)
	return (hm >= openAuctionStart && hm <= openAuctionEnd) ||
		(hm >= closeAuctionStart && hm <= closeAuctionEnd)
}

// IsMarketSession reports whether t is inside the 09:30–15:00 span of a
// trading day, lunch break included. This is the window in which the quote
// feed's limit-price fields are trusted.
func (c *Clock) IsMarketSession(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	hm := minuteOfDay(t)
	return hm >= morningOpen && hm <= afternoonClose
}

// CanPlaceOrder reports whether an order may be placed at t, with a
// human-readable reason when it may not.
func (c *Clock) CanPlaceOrder(t time.Time) (bool, string) {
	cst := t.In(CST)
	wd := cst.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false, "weekend, market closed"
	}
	if c.IsHoliday(cst) {
		return false, "exchange holiday, market closed"
	}
	if c.IsTradingTime(cst) {
		return true, "continuous trading"
	}
	if c.IsCallAuctionTime(cst) {
		return true, "call auction"
	}
	switch hm := minuteOfDay(cst); {
	case hm < openAuctionStart:
		return false, "pre-open, market not yet open"
	case hm > openAuctionEnd && hm < morningOpen:
		return false, "pre-open pause before continuous trading"
	case hm > morningClose && hm < afternoonOpen:
		return false, "lunch break"
	default:
		return false, "after close"
	}
}

func minuteOfDay(t time.Time) int {
	cst := t.In(CST)
	return cst.Hour()*60 + cst.Minute()
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
