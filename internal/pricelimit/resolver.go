package pricelimit

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/marketclock"
	"github.com/papertrade/engine/internal/model"
)

// Resolver attaches the price-limit band to a raw quote, choosing between
// the feed-reported band and a locally computed one.
//
// During the market session (09:30–15:00 on a trading day, lunch included)
// the feed's limit fields are live and reflect intraday regulatory
// adjustments, so they are trusted directly. Outside that window the feed is
// stale and the band is recomputed from the previous close. Either way the
// other source serves as a fallback when the primary yields zeros; if both
// fail the quote keeps a zero band and order validation rejects it.
type Resolver struct {
	clock *marketclock.Clock
}

// NewResolver creates a Resolver using clock for session decisions.
func NewResolver(clock *marketclock.Clock) *Resolver {
	return &Resolver{clock: clock}
}

// Resolve sets q.LimitUp/q.LimitDown in place.
func (r *Resolver) Resolve(q *model.Quote, now time.Time) {
	feedUp, feedDown := q.LimitUp, q.LimitDown
	localUp, localDown := Band(q.Code, q.Name, q.PrevClose)

	if r.clock.IsMarketSession(now) {
		q.LimitUp, q.LimitDown = pick(feedUp, localUp), pick(feedDown, localDown)
	} else {
		q.LimitUp, q.LimitDown = pick(localUp, feedUp), pick(localDown, feedDown)
	}

	if !q.HasBand() {
		slog.Warn("price-limit band unavailable",
			"code", q.Code,
			"prev_close", q.PrevClose.String(),
		)
	}
}

// pick returns primary when positive, otherwise the fallback.
func pick(primary, fallback decimal.Decimal) decimal.Decimal {
	if primary.IsPositive() {
		return primary
	}
	return fallback
}
