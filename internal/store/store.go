// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing and development). Persistence is per-key last-write-wins; there is
// no cross-entity transaction spanning account, position, and order writes.
package store

import (
	"context"
	"errors"

	"github.com/papertrade/engine/internal/model"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface for users, orders, and positions.
type Store interface {
	// --- Users ---

	// CreateUser persists a new account; fails if the id already exists.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves an account by id.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// SaveUser overwrites an account record.
	SaveUser(ctx context.Context, u *model.User) error

	// ListUsers returns all registered accounts.
	ListUsers(ctx context.Context) ([]model.User, error)

	// --- Orders ---

	// SaveOrder upserts an order record.
	SaveOrder(ctx context.Context, o *model.Order) error

	// GetOrder retrieves an order by id.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// ListOrdersByUser returns all orders placed by one user.
	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)

	// ListPendingOrders returns every order still awaiting a fill,
	// across all users.
	ListPendingOrders(ctx context.Context) ([]model.Order, error)

	// NextOrderSeq allocates the next value of the monotonic order-number
	// sequence used for display order ids.
	NextOrderSeq(ctx context.Context) (int64, error)

	// --- Positions ---

	// GetPosition retrieves one (user, stock) holding.
	GetPosition(ctx context.Context, userID, stockCode string) (*model.Position, error)

	// SavePosition upserts a holding.
	SavePosition(ctx context.Context, p *model.Position) error

	// DeletePosition removes an emptied holding.
	DeletePosition(ctx context.Context, userID, stockCode string) error

	// ListPositions returns all holdings for one user.
	ListPositions(ctx context.Context, userID string) ([]model.Position, error)
}
