package database

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps positions and trades in process memory. It backs paper
// runs without PostgreSQL and the package tests.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]Position
	trades    []Trade
	nextID    int64
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[string]Position)}
}

// SavePosition inserts or replaces the position of a symbol
func (m *MemoryStore) SavePosition(ctx context.Context, pos *Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos.UpdatedAt = time.Now()
	m.positions[pos.Symbol] = clonePosition(pos)
	return nil
}

// DeletePosition removes the position of a symbol
func (m *MemoryStore) DeletePosition(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
	return nil
}

// GetAllPositions returns copies of every stored position
func (m *MemoryStore) GetAllPositions(ctx context.Context) ([]*Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Position, 0, len(m.positions))
	for _, p := range m.positions {
		cp := clonePosition(&p)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// SaveTrade appends a trade record
func (m *MemoryStore) SaveTrade(ctx context.Context, trade *Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	trade.ID = m.nextID
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now()
	}
	m.trades = append(m.trades, *trade)
	return nil
}

// GetTradesSince returns trades created at or after since, newest first
func (m *MemoryStore) GetTradesSince(ctx context.Context, since time.Time) ([]*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Trade
	for i := len(m.trades) - 1; i >= 0; i-- {
		if t := m.trades[i]; !t.CreatedAt.Before(since) {
			out = append(out, &t)
		}
	}
	return out, nil
}

// GetDailyStats aggregates SELL trades created at or after since
func (m *MemoryStore) GetDailyStats(ctx context.Context, since time.Time) (*DailyStats, error) {
	trades, _ := m.GetTradesSince(ctx, since)
	return aggregate(since, trades), nil
}

func clonePosition(p *Position) Position {
	cp := *p
	if p.OrderListID != nil {
		id := *p.OrderListID
		cp.OrderListID = &id
	}
	if p.ATR != nil {
		atr := *p.ATR
		cp.ATR = &atr
	}
	return cp
}
