package autopilot

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"spot-trading-engine/internal/logging"
	"spot-trading-engine/internal/risk"
)

// ReentryConfig controls blocking a symbol after a losing exit
type ReentryConfig struct {
	Enabled            bool
	BlockAfterLoss     time.Duration
	BlockAfterStopLoss time.Duration
}

// DefaultReentryConfig blocks 60 minutes after a loss, 120 after a stop-out
func DefaultReentryConfig() ReentryConfig {
	return ReentryConfig{
		Enabled:            true,
		BlockAfterLoss:     60 * time.Minute,
		BlockAfterStopLoss: 120 * time.Minute,
	}
}

// BlockedSymbol is one active re-entry block
type BlockedSymbol struct {
	Symbol string    `json:"symbol"`
	Until  time.Time `json:"until"`
}

// ReentryGuard keeps symbol -> unblock time. Expired entries are evicted on lookup.
type ReentryGuard struct {
	cfg    ReentryConfig
	store  BlockStore
	logger *logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	blocked map[string]time.Time
}

// NewReentryGuard creates a guard. store may be nil.
func NewReentryGuard(cfg ReentryConfig, store BlockStore, logger *logging.Logger) *ReentryGuard {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ReentryGuard{
		cfg:     cfg,
		store:   store,
		logger:  logger.WithComponent("SmartReentry"),
		now:     time.Now,
		blocked: make(map[string]time.Time),
	}
}

// Restore loads persisted blocks
func (g *ReentryGuard) Restore(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	blocks, err := g.store.LoadBlocks(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for symbol, until := range blocks {
		if until.After(now) {
			g.blocked[symbol] = until
		}
	}
	if len(g.blocked) > 0 {
		g.logger.Info("Re-entry blocks restored", "count", len(g.blocked))
	}
	return nil
}

// BlockDuration is the block applied after an exit with the given reason and
// result. Winning exits are never blocked.
func (g *ReentryGuard) BlockDuration(reason string, profitUSDT float64) time.Duration {
	if !g.cfg.Enabled || profitUSDT >= 0 {
		return 0
	}
	if strings.Contains(reason, risk.ReasonStopLoss) {
		return g.cfg.BlockAfterStopLoss
	}
	return g.cfg.BlockAfterLoss
}

// RecordExit blocks symbol when the exit loses money and returns the unblock
// time, zero when nothing was blocked
func (g *ReentryGuard) RecordExit(ctx context.Context, symbol, reason string, profitUSDT float64) time.Time {
	d := g.BlockDuration(reason, profitUSDT)
	if d <= 0 {
		return time.Time{}
	}
	until := g.now().Add(d)

	g.mu.Lock()
	g.blocked[symbol] = until
	g.mu.Unlock()

	if g.store != nil {
		if err := g.store.SaveBlock(ctx, symbol, until); err != nil {
			g.logger.Warn("Failed to persist re-entry block", "symbol", symbol, "error", err)
		}
	}
	g.logger.Info("Symbol blocked for re-entry", "symbol", symbol, "reason", reason, "duration", d)
	return until
}

// IsBlocked reports whether symbol may not be entered now
func (g *ReentryGuard) IsBlocked(symbol string) bool {
	g.mu.Lock()
	until, ok := g.blocked[symbol]
	if ok && !g.now().Before(until) {
		delete(g.blocked, symbol)
		ok = false
	}
	g.mu.Unlock()
	return ok
}

// Blocked returns the active blocks sorted by unblock time
func (g *ReentryGuard) Blocked() []BlockedSymbol {
	g.mu.Lock()
	now := g.now()
	out := make([]BlockedSymbol, 0, len(g.blocked))
	for symbol, until := range g.blocked {
		if !now.Before(until) {
			delete(g.blocked, symbol)
			continue
		}
		out = append(out, BlockedSymbol{Symbol: symbol, Until: until})
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Until.Before(out[j].Until) })
	return out
}
