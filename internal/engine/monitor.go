package engine

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/papertrade/engine/internal/metrics"
	"github.com/papertrade/engine/internal/model"
)

const (
	// pausePoll is how often a paused monitor re-checks its interval.
	pausePoll = 5 * time.Second
	// crashBackoff is the delay after a scan panic before resuming.
	crashBackoff = 5 * time.Second
	// maxIdleBackoff caps the off-hours polling interval.
	maxIdleBackoff = 2 * time.Minute
)

// Monitor periodically re-evaluates pending orders against fresh quotes and
// fills the ones whose limit condition is now satisfied. One scan fetches
// each distinct stock's quote once, regardless of how many orders wait on it.
type Monitor struct {
	engine *Engine

	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewMonitor creates a monitor scanning at the given interval. An interval
// of zero or below starts the monitor paused; SetInterval resumes it.
func NewMonitor(e *Engine, interval time.Duration) *Monitor {
	return &Monitor{engine: e, interval: interval}
}

// SetInterval changes the scan cadence. Zero or negative pauses scanning
// without stopping the loop.
func (m *Monitor) SetInterval(d time.Duration) {
	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()
}

// Interval returns the current scan cadence.
func (m *Monitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// Start launches the scan loop. Calling Start on a running monitor is a
// no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	go m.run(ctx, done)
	slog.Info("order monitor started", "interval", m.interval.String())
}

// Stop halts the loop and waits for the in-flight scan to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("order monitor stopped")
}

// run owns its done channel as a parameter: Stop clears the m.done field, so
// the loop must not read it.
func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		iv := m.Interval()
		switch {
		case iv <= 0:
			// Paused. Keep the loop alive so SetInterval can resume it.
			if !sleep(ctx, pausePoll) {
				return
			}
			continue
		case !m.engine.clock.IsTradingTime(m.engine.now()):
			// Nothing can fill off-hours; back off but stay responsive to
			// the session opening.
			idle := iv * 4
			if idle > maxIdleBackoff {
				idle = maxIdleBackoff
			}
			if !sleep(ctx, idle) {
				return
			}
			continue
		}

		m.scan(ctx)

		if !sleep(ctx, iv) {
			return
		}
	}
}

// scan runs one pass over all pending orders. A panic in the pass is
// contained: logged with a stack trace and followed by a short backoff, so
// one poisoned order cannot kill the loop.
func (m *Monitor) scan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("monitor scan panicked", "panic", r, "stack", string(debug.Stack()))
			sleep(ctx, crashBackoff)
		}
	}()

	start := time.Now()
	defer func() {
		metrics.MonitorScanDuration.Observe(time.Since(start).Seconds())
	}()

	pending, err := m.engine.store.ListPendingOrders(ctx)
	if err != nil {
		slog.Error("monitor: list pending orders", "err", err)
		return
	}
	metrics.PendingOrders.Set(float64(len(pending)))
	if len(pending) == 0 {
		return
	}

	// One quote per stock for the whole pass.
	byStock := make(map[string][]model.Order)
	for _, o := range pending {
		byStock[o.StockCode] = append(byStock[o.StockCode], o)
	}

	for code, orders := range byStock {
		q, err := m.engine.quotes.Get(ctx, code)
		if err != nil {
			// This stock's orders wait for the next pass; others proceed.
			metrics.QuoteFetchErrors.Inc()
			slog.Warn("monitor: quote fetch failed", "stock", code, "err", err)
			continue
		}
		for i := range orders {
			if err := m.tryFill(ctx, &orders[i], q); err != nil {
				slog.Warn("monitor: fill failed",
					"order", orders[i].ID, "stock", code, "err", err)
			}
		}
	}
}

// tryFill fills one pending order if its condition is satisfied at the
// quoted price. The order is re-read under the user lock so a concurrent
// cancellation between listing and filling is honored.
func (m *Monitor) tryFill(ctx context.Context, o *model.Order, q *model.Quote) error {
	if !fillable(o, q) {
		return nil
	}

	e := m.engine
	unlock := e.lockUser(o.UserID)
	defer unlock()

	order, err := e.store.GetOrder(ctx, o.ID)
	if err != nil || !order.IsPending() {
		return err
	}

	user, err := e.store.GetUser(ctx, order.UserID)
	if err != nil {
		return err
	}

	_, _, err = e.executeFill(ctx, user, order, nil, q, q.Current, true, "monitor")
	return err
}

// fillable reports whether a pending order can fill against the quote:
// the limit condition is crossed, the stock is trading, and the fill would
// not trade through a limit board (no buying at limit-up, no selling at
// limit-down).
func fillable(o *model.Order, q *model.Quote) bool {
	if !o.IsPending() || q.Suspended || !q.Current.IsPositive() {
		return false
	}
	if !q.HasBand() {
		return false
	}
	if o.IsBuy() && q.AtLimitUp() {
		return false
	}
	if o.IsSell() && q.AtLimitDown() {
		return false
	}
	return o.Crossed(q.Current)
}

// sleep waits d or until ctx is cancelled; reports false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
