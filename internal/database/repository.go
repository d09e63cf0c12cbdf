package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository provides data access methods. Writes are serialized.
type Repository struct {
	db      *DB
	writeMu sync.Mutex
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// POSITIONS
// ============================================================================

// SavePosition inserts or replaces the position of a symbol
func (r *Repository) SavePosition(ctx context.Context, pos *Position) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	pos.UpdatedAt = time.Now()
	query := `
		INSERT INTO positions (symbol, entry_price, amount, highest_price, stop_loss, take_profit,
		                       order_list_id, atr, paper, opened_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (symbol) DO UPDATE SET
			entry_price = EXCLUDED.entry_price,
			amount = EXCLUDED.amount,
			highest_price = EXCLUDED.highest_price,
			stop_loss = EXCLUDED.stop_loss,
			take_profit = EXCLUDED.take_profit,
			order_list_id = EXCLUDED.order_list_id,
			atr = EXCLUDED.atr,
			paper = EXCLUDED.paper,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Pool.Exec(ctx, query,
		pos.Symbol, pos.EntryPrice, pos.Amount, pos.HighestPrice, pos.StopLoss, pos.TakeProfit,
		pos.OrderListID, pos.ATR, pos.Paper, pos.OpenedAt, pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save position %s: %w", pos.Symbol, err)
	}
	return nil
}

// DeletePosition removes the position of a symbol
func (r *Repository) DeletePosition(ctx context.Context, symbol string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM positions WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("delete position %s: %w", symbol, err)
	}
	return nil
}

// GetAllPositions returns every stored position
func (r *Repository) GetAllPositions(ctx context.Context) ([]*Position, error) {
	query := `
		SELECT symbol, entry_price, amount, highest_price, stop_loss, take_profit,
		       order_list_id, atr, paper, opened_at, updated_at
		FROM positions
		ORDER BY opened_at
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		pos := &Position{}
		if err := rows.Scan(
			&pos.Symbol, &pos.EntryPrice, &pos.Amount, &pos.HighestPrice, &pos.StopLoss, &pos.TakeProfit,
			&pos.OrderListID, &pos.ATR, &pos.Paper, &pos.OpenedAt, &pos.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// ============================================================================
// TRADES
// ============================================================================

// SaveTrade appends a trade record
func (r *Repository) SaveTrade(ctx context.Context, trade *Trade) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO trades (symbol, side, entry_price, exit_price, amount, profit_percent,
		                    profit_usdt, fees, reason, paper, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		trade.Symbol, trade.Side, trade.EntryPrice, trade.ExitPrice, trade.Amount, trade.ProfitPercent,
		trade.ProfitUSDT, trade.Fees, trade.Reason, trade.Paper, trade.CreatedAt,
	).Scan(&trade.ID)
	if err != nil {
		return fmt.Errorf("save trade %s: %w", trade.Symbol, err)
	}
	return nil
}

// GetTradesSince returns trades created at or after since, newest first
func (r *Repository) GetTradesSince(ctx context.Context, since time.Time) ([]*Trade, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, amount, profit_percent,
		       profit_usdt, fees, reason, paper, created_at
		FROM trades
		WHERE created_at >= $1
		ORDER BY created_at DESC
	`
	return r.queryTrades(ctx, query, since)
}

// GetDailyStats aggregates SELL trades created at or after since
func (r *Repository) GetDailyStats(ctx context.Context, since time.Time) (*DailyStats, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, amount, profit_percent,
		       profit_usdt, fees, reason, paper, created_at
		FROM trades
		WHERE side = 'SELL' AND created_at >= $1
	`
	trades, err := r.queryTrades(ctx, query, since)
	if err != nil {
		return nil, err
	}
	return aggregate(since, trades), nil
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*Trade, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	trades, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Trade, error) {
		t := &Trade{}
		err := row.Scan(
			&t.ID, &t.Symbol, &t.Side, &t.EntryPrice, &t.ExitPrice, &t.Amount, &t.ProfitPercent,
			&t.ProfitUSDT, &t.Fees, &t.Reason, &t.Paper, &t.CreatedAt,
		)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan trades: %w", err)
	}
	return trades, nil
}
