package database

import (
	"context"
	"testing"
	"time"
)

func ptr(v float64) *float64 { return &v }

func TestMemoryStorePositionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	listID := int64(42)
	pos := &Position{
		Symbol:       "ABCUSDT",
		EntryPrice:   2,
		Amount:       10,
		HighestPrice: 2,
		StopLoss:     1.95,
		TakeProfit:   2.14,
		OrderListID:  &listID,
		ATR:          ptr(0.03),
		OpenedAt:     time.Now(),
	}
	if err := store.SavePosition(ctx, pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	// later mutation of the caller's copy must not leak into the store
	pos.StopLoss = 2
	*pos.OrderListID = 7

	all, err := store.GetAllPositions(ctx)
	if err != nil {
		t.Fatalf("GetAllPositions: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 position, got %d", len(all))
	}
	got := all[0]
	if got.Symbol != "ABCUSDT" || got.EntryPrice != 2 || got.Amount != 10 {
		t.Errorf("unexpected position %+v", got)
	}
	if got.StopLoss != 1.95 {
		t.Errorf("StopLoss = %v, want 1.95", got.StopLoss)
	}
	if got.OrderListID == nil || *got.OrderListID != 42 {
		t.Errorf("OrderListID = %v, want 42", got.OrderListID)
	}
	if !got.HasBracket() {
		t.Error("expected bracket")
	}

	if err := store.DeletePosition(ctx, "ABCUSDT"); err != nil {
		t.Fatalf("DeletePosition: %v", err)
	}
	all, _ = store.GetAllPositions(ctx)
	if len(all) != 0 {
		t.Errorf("expected no positions, got %d", len(all))
	}
}

func TestMemoryStoreDailyStats(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	trades := []*Trade{
		{Symbol: "AUSDT", Side: SideBuy, EntryPrice: 1, Amount: 10, CreatedAt: now.Add(-2 * time.Hour)},
		{Symbol: "AUSDT", Side: SideSell, EntryPrice: 1, ExitPrice: ptr(1.1), Amount: 10, ProfitUSDT: ptr(0.989), Fees: 0.011, CreatedAt: now.Add(-time.Hour)},
		{Symbol: "BUSDT", Side: SideSell, EntryPrice: 1, ExitPrice: ptr(0.975), Amount: 10, ProfitUSDT: ptr(-0.26), Fees: 0.01, CreatedAt: now.Add(-30 * time.Minute)},
		{Symbol: "CUSDT", Side: SideSell, EntryPrice: 1, ExitPrice: ptr(1.2), Amount: 10, ProfitUSDT: ptr(1.99), Fees: 0.01, CreatedAt: now.Add(-48 * time.Hour)},
	}
	for _, tr := range trades {
		if err := store.SaveTrade(ctx, tr); err != nil {
			t.Fatalf("SaveTrade: %v", err)
		}
	}

	stats, err := store.GetDailyStats(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("GetDailyStats: %v", err)
	}
	if stats.Trades != 2 || stats.Wins != 1 || stats.Losses != 1 {
		t.Errorf("unexpected counts %+v", stats)
	}
	if diff := stats.TotalProfit - 0.729; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("TotalProfit = %v, want 0.729", stats.TotalProfit)
	}
	if stats.WinRate() != 50 {
		t.Errorf("WinRate = %v, want 50", stats.WinRate())
	}

	recent, _ := store.GetTradesSince(ctx, now.Add(-24*time.Hour))
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent trades, got %d", len(recent))
	}
	if recent[0].Symbol != "BUSDT" {
		t.Errorf("expected newest first, got %s", recent[0].Symbol)
	}
	if recent[0].ID == 0 {
		t.Error("expected assigned trade ID")
	}
}
