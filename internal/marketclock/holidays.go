package marketclock

import "time"

// Shanghai/Shenzhen exchange closures for 2026.
// Source: SSE official trading calendar. Weekend make-up working days need no
// entry here because they are still non-trading for the exchanges.
var exchangeHolidays2026 = []struct {
	month time.Month
	day   int
}{
	{time.January, 1},    // New Year's Day
	{time.January, 2},    // New Year holiday
	{time.February, 16},  // Spring Festival eve closure
	{time.February, 17},  // Spring Festival
	{time.February, 18},  // Spring Festival
	{time.February, 19},  // Spring Festival
	{time.February, 20},  // Spring Festival
	{time.April, 6},      // Qingming Festival
	{time.May, 1},        // Labour Day
	{time.May, 4},        // Labour Day holiday
	{time.May, 5},        // Labour Day holiday
	{time.June, 19},      // Dragon Boat Festival
	{time.September, 25}, // Mid-Autumn Festival
	{time.October, 1},    // National Day
	{time.October, 2},    // National Day
	{time.October, 5},    // National Day holiday
	{time.October, 6},    // National Day holiday
	{time.October, 7},    // National Day holiday
}

func defaultHolidays() map[string]bool {
	set := make(map[string]bool, len(exchangeHolidays2026))
	for _, h := range exchangeHolidays2026 {
		d := time.Date(2026, h.month, h.day, 0, 0, 0, 0, CST)
		set[dateKey(d)] = true
	}
	return set
}
