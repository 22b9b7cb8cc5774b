// Package api provides the HTTP handlers for account registration, order
// placement and cancellation, portfolio and quote queries, and the
// leaderboard.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/engine"
	"github.com/papertrade/engine/internal/model"
	"github.com/papertrade/engine/internal/pricelimit"
	"github.com/papertrade/engine/internal/quote"
	"github.com/papertrade/engine/internal/rules"
	"github.com/papertrade/engine/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Service handles the trading API. All order mutations go through the
// engine, which serializes per-user state changes.
type Service struct {
	engine *engine.Engine
	store  store.Store
	quotes quote.Provider
	wsHub  *WSHub // optional WebSocket hub for fill broadcasts
}

// NewService creates the API service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(e *engine.Engine, st store.Store, quotes quote.Provider, hub *WSHub) *Service {
	return &Service{engine: e, store: st, quotes: quotes, wsHub: hub}
}

// --- Request/Response types ---

// RegisterRequest is the JSON body for POST /api/v1/users.
type RegisterRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// PlaceOrderRequest is the JSON body for POST /api/v1/orders.
// Price accepts a decimal string, the keywords "zt" (limit-up) and "dt"
// (limit-down), or empty for a market order.
type PlaceOrderRequest struct {
	UserID    string `json:"user_id"`
	StockCode string `json:"stock_code"`
	Side      string `json:"side"` // "buy" or "sell"
	Volume    int64  `json:"volume"`
	Price     string `json:"price,omitempty"`
}

// OrderResponse is the JSON body returned from order placement and
// cancellation.
type OrderResponse struct {
	Order   *model.Order `json:"order,omitempty"`
	Message string       `json:"message"`
}

// OrderListResponse is a paginated order history.
type OrderListResponse struct {
	Orders   []model.Order `json:"orders"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// PortfolioResponse is the JSON body for GET /api/v1/portfolio/{userID}.
type PortfolioResponse struct {
	UserID      string           `json:"user_id"`
	Name        string           `json:"name"`
	Balance     decimal.Decimal  `json:"balance"`
	FrozenFunds decimal.Decimal  `json:"frozen_funds"`
	MarketValue decimal.Decimal  `json:"market_value"`
	TotalAssets decimal.Decimal  `json:"total_assets"`
	Positions   []model.Position `json:"positions"`
}

// LeaderboardEntry is one row of GET /api/v1/leaderboard.
type LeaderboardEntry struct {
	Rank        int             `json:"rank"`
	UserID      string          `json:"user_id"`
	Name        string          `json:"name"`
	TotalAssets decimal.Decimal `json:"total_assets"`
}

// --- HTTP Handlers ---

// Register handles POST /api/v1/users
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = req.UserID
	}

	user, err := s.engine.Register(r.Context(), req.UserID, req.Name)
	if err != nil {
		writeRuleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

// PlaceOrder handles POST /api/v1/orders
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	side := model.Side(strings.ToLower(req.Side))
	if side != model.SideBuy && side != model.SideSell {
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	if req.Volume <= 0 {
		writeError(w, "volume must be positive", http.StatusBadRequest)
		return
	}

	price, err := s.resolvePrice(r, req.StockCode, req.Price)
	if err != nil {
		writeRuleError(w, err)
		return
	}

	order, msg, err := s.engine.PlaceOrder(r.Context(), req.UserID, req.StockCode, side, req.Volume, price)
	if err != nil {
		writeRuleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(OrderResponse{Order: order, Message: msg})
}

// resolvePrice parses the request price field: empty means market order
// (nil), "zt"/"dt" resolve to the stock's limit-up/limit-down price, and
// anything else must parse as a positive decimal.
func (s *Service) resolvePrice(r *http.Request, code, raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	switch raw {
	case "":
		return nil, nil
	case "zt", "dt":
		normalized, err := pricelimit.NormalizeCode(code)
		if err != nil {
			return nil, rules.Errorf(rules.KindInvalidArgument, "invalid stock code %q", code)
		}
		q, err := s.quotes.Get(r.Context(), normalized)
		if err != nil {
			return nil, rules.Errorf(rules.KindQuoteUnavailable, "no quote available for %s", normalized)
		}
		if !q.HasBand() {
			return nil, rules.Errorf(rules.KindPriceOutOfLimitBand, "limit band unavailable for %s", normalized)
		}
		p := q.LimitUp
		if raw == "dt" {
			p = q.LimitDown
		}
		return &p, nil
	default:
		p, err := decimal.NewFromString(raw)
		if err != nil || !p.IsPositive() {
			return nil, rules.Errorf(rules.KindInvalidArgument, "price must be a positive number, zt, or dt")
		}
		return &p, nil
	}
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}?user=<id>
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, "user query parameter is required", http.StatusBadRequest)
		return
	}

	msg, err := s.engine.Cancel(r.Context(), userID, orderID)
	if err != nil {
		writeRuleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(OrderResponse{Message: msg})
}

// ListOrders handles GET /api/v1/orders?user=<id>&status=<s>&page=&page_size=
// Orders are returned newest first.
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, "user query parameter is required", http.StatusBadRequest)
		return
	}

	orders, err := s.store.ListOrdersByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		want := model.OrderStatus(strings.ToLower(status))
		filtered := orders[:0]
		for _, o := range orders {
			if o.Status == want {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}

	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", defaultPageSize)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}

	total := len(orders)
	lo := (page - 1) * pageSize
	if lo > total {
		lo = total
	}
	hi := lo + pageSize
	if hi > total {
		hi = total
	}
	pageOrders := orders[lo:hi]
	if pageOrders == nil {
		pageOrders = []model.Order{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(OrderListResponse{
		Orders:   pageOrders,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Positions are re-marked at live prices before the snapshot is returned.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "account not registered", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}

	positions, err := s.store.ListPositions(ctx, userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	// Best effort: stale marks are kept when a quote fetch fails.
	marketValue := decimal.Zero
	for i := range positions {
		p := &positions[i]
		if q, err := s.quotes.Get(ctx, p.StockCode); err == nil {
			p.MarkPrice(q.Current, q.AsOf)
		}
		marketValue = marketValue.Add(p.MarketValue)
	}

	frozen, err := s.engine.FrozenFunds(ctx, userID)
	if err != nil {
		writeError(w, "failed to compute frozen funds", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PortfolioResponse{
		UserID:      user.ID,
		Name:        user.Name,
		Balance:     user.Balance,
		FrozenFunds: frozen,
		MarketValue: marketValue,
		TotalAssets: user.Balance.Add(frozen).Add(marketValue),
		Positions:   positions,
	})
}

// GetQuote handles GET /api/v1/quotes/{code}
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	code, err := pricelimit.NormalizeCode(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, "invalid stock code", http.StatusBadRequest)
		return
	}

	q, err := s.quotes.Get(r.Context(), code)
	if err != nil {
		writeError(w, "quote unavailable for "+code, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(q)
}

// Leaderboard handles GET /api/v1/leaderboard?limit=<n>
// Ranks accounts by total assets, descending.
func (s *Service) Leaderboard(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}

	sort.Slice(users, func(i, j int) bool {
		return users[i].TotalAssets.GreaterThan(users[j].TotalAssets)
	})

	limit := queryInt(r, "limit", 10)
	if limit < 1 {
		limit = 10
	}
	if limit > len(users) {
		limit = len(users)
	}

	entries := make([]LeaderboardEntry, 0, limit)
	for i := 0; i < limit; i++ {
		entries = append(entries, LeaderboardEntry{
			Rank:        i + 1,
			UserID:      users[i].ID,
			Name:        users[i].Name,
			TotalAssets: users[i].TotalAssets,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// writeRuleError maps a rules.Error kind to an HTTP status; other errors
// become 500s without leaking internals.
func writeRuleError(w http.ResponseWriter, err error) {
	kind, ok := rules.KindOf(err)
	if !ok {
		slog.Error("internal error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	status := http.StatusConflict
	switch kind {
	case rules.KindInvalidArgument:
		status = http.StatusBadRequest
	case rules.KindUserNotRegistered, rules.KindOrderNotFound:
		status = http.StatusNotFound
	case rules.KindOrderNotOwnedByCaller:
		status = http.StatusForbidden
	case rules.KindQuoteUnavailable:
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"kind":  string(kind),
	})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
