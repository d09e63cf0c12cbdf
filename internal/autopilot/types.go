package autopilot

import (
	"context"
	"errors"
	"time"

	"spot-trading-engine/internal/database"
	"spot-trading-engine/internal/strategy"
)

var (
	// ErrAlreadyTracked means the symbol already has a pending order or an open position
	ErrAlreadyTracked = errors.New("symbol already pending or open")
	// ErrMaxPositions means opening would exceed the position cap
	ErrMaxPositions = errors.New("max positions reached")
	// ErrNotFound means no open position exists for the symbol
	ErrNotFound = errors.New("position not found")
	// ErrBlocked means the symbol is inside a re-entry block
	ErrBlocked = errors.New("symbol blocked for re-entry")
	// ErrDailyLossHalt stops the controller when the breaker trips and halting is configured
	ErrDailyLossHalt = errors.New("daily loss limit reached, halting")
)

// Store persists positions and the trade journal
type Store interface {
	GetAllPositions(ctx context.Context) ([]*database.Position, error)
	SavePosition(ctx context.Context, pos *database.Position) error
	DeletePosition(ctx context.Context, symbol string) error
	SaveTrade(ctx context.Context, trade *database.Trade) error
	GetDailyStats(ctx context.Context, since time.Time) (*database.DailyStats, error)
}

// Notifier delivers operator messages
type Notifier interface {
	Send(text string)
	SendWithCooldown(symbol, text, category string) bool
}

// BlockStore persists re-entry blocks across restarts
type BlockStore interface {
	SaveBlock(ctx context.Context, symbol string, until time.Time) error
	DeleteBlock(ctx context.Context, symbol string) error
	LoadBlocks(ctx context.Context) (map[string]time.Time, error)
}

// PendingOrder is a working limit buy that has not been reconciled yet
type PendingOrder struct {
	Symbol     string           `json:"symbol"`
	OrderID    string           `json:"order_id"`
	Side       string           `json:"side"`
	LimitPrice float64          `json:"limit_price"`
	Amount     float64          `json:"amount"`
	Signal     *strategy.Signal `json:"signal,omitempty"`
	PlacedAt   time.Time        `json:"placed_at"`
	Paper      bool             `json:"paper"`
}

// Age returns how long the order has been working
func (p *PendingOrder) Age(now time.Time) time.Duration {
	return now.Sub(p.PlacedAt)
}

type nopNotifier struct{}

func (nopNotifier) Send(string)                                 {}
func (nopNotifier) SendWithCooldown(string, string, string) bool { return false }
