package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, balance, total_assets, registered_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6)`,
		u.ID, u.Name, u.Balance.String(), u.TotalAssets.String(), u.RegisteredAt, u.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var balance, totalAssets string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, balance::TEXT, total_assets::TEXT, registered_at, updated_at
		 FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &balance, &totalAssets, &u.RegisteredAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}

	u.Balance, _ = decimal.NewFromString(balance)
	u.TotalAssets, _ = decimal.NewFromString(totalAssets)
	return &u, nil
}

func (s *PostgresStore) SaveUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, balance, total_assets, registered_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET name = $2, balance = $3::NUMERIC, total_assets = $4::NUMERIC, updated_at = $6`,
		u.ID, u.Name, u.Balance.String(), u.TotalAssets.String(), u.RegisteredAt, u.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, balance::TEXT, total_assets::TEXT, registered_at, updated_at
		 FROM users ORDER BY registered_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		var balance, totalAssets string
		if err := rows.Scan(&u.ID, &u.Name, &balance, &totalAssets, &u.RegisteredAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Balance, _ = decimal.NewFromString(balance)
		u.TotalAssets, _ = decimal.NewFromString(totalAssets)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) SaveOrder(ctx context.Context, o *model.Order) error {
	var profitAmount, profitRate *string
	if o.ProfitAmount != nil {
		v := o.ProfitAmount.String()
		profitAmount = &v
	}
	if o.ProfitRate != nil {
		v := o.ProfitRate.String()
		profitRate = &v
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, user_id, stock_code, stock_name, side, price_type,
		                     price, volume, filled_volume, filled_amount, frozen_amount,
		                     status, created_at, updated_at, filled_at, profit_amount, profit_rate)
		 VALUES ($1, $2, $3, $4, $5, $6,
		         $7::NUMERIC, $8, $9, $10::NUMERIC, $11::NUMERIC,
		         $12, $13, $14, $15, $16::NUMERIC, $17::NUMERIC)
		 ON CONFLICT (id) DO UPDATE
		 SET filled_volume = $9, filled_amount = $10::NUMERIC, frozen_amount = $11::NUMERIC,
		     status = $12, updated_at = $14, filled_at = $15,
		     profit_amount = $16::NUMERIC, profit_rate = $17::NUMERIC`,
		o.ID, o.UserID, o.StockCode, o.StockName, string(o.Side), string(o.PriceType),
		o.Price.String(), o.Volume, o.FilledVolume, o.FilledAmount.String(), o.FrozenAmount.String(),
		string(o.Status), o.CreatedAt, o.UpdatedAt, o.FilledAt, profitAmount, profitRate,
	)
	return err
}

const orderColumns = `id, user_id, stock_code, stock_name, side, price_type,
	price::TEXT, volume, filled_volume, filled_amount::TEXT, frozen_amount::TEXT,
	status, created_at, updated_at, filled_at, profit_amount::TEXT, profit_rate::TEXT`

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (s *PostgresStore) ListPendingOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (s *PostgresStore) NextOrderSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT nextval('order_seq')`).Scan(&seq)
	return seq, err
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, stockCode string) (*model.Position, error) {
	var p model.Position
	var avgCost, totalCost, marketValue, profitLoss, profitLossPct, lastPrice string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, stock_code, stock_name, total_volume, available_volume,
		        avg_cost::TEXT, total_cost::TEXT, market_value::TEXT,
		        profit_loss::TEXT, profit_loss_pct::TEXT, last_price::TEXT, updated_at
		 FROM positions WHERE user_id = $1 AND stock_code = $2`, userID, stockCode).
		Scan(&p.UserID, &p.StockCode, &p.StockName, &p.TotalVolume, &p.AvailableVolume,
			&avgCost, &totalCost, &marketValue, &profitLoss, &profitLossPct, &lastPrice, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get position %s/%s: %w", userID, stockCode, err)
	}

	p.AvgCost, _ = decimal.NewFromString(avgCost)
	p.TotalCost, _ = decimal.NewFromString(totalCost)
	p.MarketValue, _ = decimal.NewFromString(marketValue)
	p.ProfitLoss, _ = decimal.NewFromString(profitLoss)
	p.ProfitLossPct, _ = decimal.NewFromString(profitLossPct)
	p.LastPrice, _ = decimal.NewFromString(lastPrice)
	return &p, nil
}

func (s *PostgresStore) SavePosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (user_id, stock_code, stock_name, total_volume, available_volume,
		                        avg_cost, total_cost, market_value, profit_loss, profit_loss_pct,
		                        last_price, updated_at)
		 VALUES ($1, $2, $3, $4, $5,
		         $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		         $11::NUMERIC, $12)
		 ON CONFLICT (user_id, stock_code) DO UPDATE
		 SET stock_name = $3, total_volume = $4, available_volume = $5,
		     avg_cost = $6::NUMERIC, total_cost = $7::NUMERIC, market_value = $8::NUMERIC,
		     profit_loss = $9::NUMERIC, profit_loss_pct = $10::NUMERIC,
		     last_price = $11::NUMERIC, updated_at = $12`,
		p.UserID, p.StockCode, p.StockName, p.TotalVolume, p.AvailableVolume,
		p.AvgCost.String(), p.TotalCost.String(), p.MarketValue.String(),
		p.ProfitLoss.String(), p.ProfitLossPct.String(), p.LastPrice.String(), p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) DeletePosition(ctx context.Context, userID, stockCode string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE user_id = $1 AND stock_code = $2`, userID, stockCode)
	return err
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, stock_code, stock_name, total_volume, available_volume,
		        avg_cost::TEXT, total_cost::TEXT, market_value::TEXT,
		        profit_loss::TEXT, profit_loss_pct::TEXT, last_price::TEXT, updated_at
		 FROM positions WHERE user_id = $1 ORDER BY stock_code`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var avgCost, totalCost, marketValue, profitLoss, profitLossPct, lastPrice string
		if err := rows.Scan(&p.UserID, &p.StockCode, &p.StockName, &p.TotalVolume, &p.AvailableVolume,
			&avgCost, &totalCost, &marketValue, &profitLoss, &profitLossPct, &lastPrice, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.AvgCost, _ = decimal.NewFromString(avgCost)
		p.TotalCost, _ = decimal.NewFromString(totalCost)
		p.MarketValue, _ = decimal.NewFromString(marketValue)
		p.ProfitLoss, _ = decimal.NewFromString(profitLoss)
		p.ProfitLossPct, _ = decimal.NewFromString(profitLossPct)
		p.LastPrice, _ = decimal.NewFromString(lastPrice)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// row abstracts pgx.Row and pgx.Rows for shared order scanning.
type row interface {
	Scan(dest ...interface{}) error
}

func scanOrder(r row) (*model.Order, error) {
	var o model.Order
	var side, priceType, status string
	var price, filledAmount, frozenAmount string
	var filledAt *time.Time
	var profitAmount, profitRate *string

	if err := r.Scan(&o.ID, &o.UserID, &o.StockCode, &o.StockName, &side, &priceType,
		&price, &o.Volume, &o.FilledVolume, &filledAmount, &frozenAmount,
		&status, &o.CreatedAt, &o.UpdatedAt, &filledAt, &profitAmount, &profitRate); err != nil {
		return nil, err
	}

	o.Side = model.Side(side)
	o.PriceType = model.PriceType(priceType)
	o.Status = model.OrderStatus(status)
	o.Price, _ = decimal.NewFromString(price)
	o.FilledAmount, _ = decimal.NewFromString(filledAmount)
	o.FrozenAmount, _ = decimal.NewFromString(frozenAmount)
	o.FilledAt = filledAt
	if profitAmount != nil {
		v, _ := decimal.NewFromString(*profitAmount)
		o.ProfitAmount = &v
	}
	if profitRate != nil {
		v, _ := decimal.NewFromString(*profitRate)
		o.ProfitRate = &v
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
