package autopilot

import (
	"context"
	"testing"
	"time"

	"spot-trading-engine/internal/database"
	"spot-trading-engine/internal/risk"
)

func TestReentryBlockDuration(t *testing.T) {
	tests := []struct {
		name   string
		cfg    ReentryConfig
		reason string
		profit float64
		want   time.Duration
	}{
		{"win never blocks", DefaultReentryConfig(), risk.ReasonStopLoss, 0.5, 0},
		{"breakeven never blocks", DefaultReentryConfig(), risk.ReasonStopLoss, 0, 0},
		{"software stop loss", DefaultReentryConfig(), risk.ReasonStopLoss, -1, 120 * time.Minute},
		{"bracket stop loss", DefaultReentryConfig(), risk.ReasonBracketStopLoss, -1, 120 * time.Minute},
		{"trailing stop loss", DefaultReentryConfig(), risk.ReasonTrailingStop, -0.2, 60 * time.Minute},
		{"manual loss", DefaultReentryConfig(), risk.ReasonManual, -3, 60 * time.Minute},
		{"disabled", ReentryConfig{BlockAfterLoss: time.Hour, BlockAfterStopLoss: time.Hour}, risk.ReasonStopLoss, -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewReentryGuard(tt.cfg, nil, nil)
			if got := g.BlockDuration(tt.reason, tt.profit); got != tt.want {
				t.Errorf("BlockDuration(%q, %v) = %v, want %v", tt.reason, tt.profit, got, tt.want)
			}
		})
	}
}

func TestReentryBlockExpires(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	g := NewReentryGuard(DefaultReentryConfig(), nil, nil)
	g.now = clock.Now
	ctx := context.Background()

	until := g.RecordExit(ctx, "ETHUSDT", risk.ReasonTrailingStop, -0.4)
	if want := clock.Now().Add(time.Hour); !until.Equal(want) {
		t.Errorf("until = %v, want %v", until, want)
	}
	if until := g.RecordExit(ctx, "SOLUSDT", risk.ReasonTakeProfit, 1.2); !until.IsZero() {
		t.Error("a winning exit must not block")
	}
	if !g.IsBlocked("ETHUSDT") || g.IsBlocked("SOLUSDT") {
		t.Fatal("only the losing symbol should be blocked")
	}

	clock.Advance(59 * time.Minute)
	if !g.IsBlocked("ETHUSDT") {
		t.Error("block lifted early")
	}
	clock.Advance(time.Minute)
	if g.IsBlocked("ETHUSDT") {
		t.Error("block should expire at its unblock time")
	}
	if len(g.Blocked()) != 0 {
		t.Error("expired block should be evicted")
	}
}

func TestReentryBlocksSurviveRestart(t *testing.T) {
	ctx := context.Background()
	state := database.NewRedisStateStore(ctx, nil, "", nil)

	first := NewReentryGuard(DefaultReentryConfig(), state, nil)
	first.RecordExit(ctx, "ETHUSDT", risk.ReasonBracketStopLoss, -2)
	first.RecordExit(ctx, "ADAUSDT", risk.ReasonManual, -1)

	second := NewReentryGuard(DefaultReentryConfig(), state, nil)
	if err := second.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	blocked := second.Blocked()
	if len(blocked) != 2 {
		t.Fatalf("restored %d blocks, want 2", len(blocked))
	}
	// sorted by unblock time: the one hour block first
	if blocked[0].Symbol != "ADAUSDT" || blocked[1].Symbol != "ETHUSDT" {
		t.Errorf("order = %s, %s", blocked[0].Symbol, blocked[1].Symbol)
	}
	if !second.IsBlocked("ETHUSDT") {
		t.Error("restored symbol should be blocked")
	}
}
